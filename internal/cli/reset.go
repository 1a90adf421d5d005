package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type resetOptions struct {
	yes bool
}

func newResetCommand(c *cliContext) *cobra.Command {
	opts := &resetOptions{}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Erase the vault, its PIN and every record",
		Long: `Erase every safe and purchase together with the salt and PIN hash.

This cannot be undone. Export first if you want to keep your records.
The PIN is not required, so a forgotten PIN can be recovered from only by
resetting.

Example:
  aurasafe reset
  aurasafe reset --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd, c, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.yes, "yes", false, "Skip confirmation prompt")

	return cmd
}

func runReset(cmd *cobra.Command, c *cliContext, opts *resetOptions) error {
	ok, err := c.confirmDestructive(cmd, fmt.Sprintf("Erase the vault at %s?", c.cfg.VaultPath), opts.yes)
	if err != nil {
		return err
	}
	if !ok {
		return writeOutput(cmd.OutOrStdout(), "Reset cancelled\n")
	}

	app, err := c.openVault()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.svc.Reset(); err != nil {
		return fmt.Errorf("failed to reset vault: %w", err)
	}
	if err := app.sessions.Clear(); err != nil {
		return err
	}

	c.log.Info().Str("vault", c.cfg.VaultPath).Msg("vault reset")
	return writeOutput(cmd.OutOrStdout(), "✓ Vault erased. Run 'aurasafe init' to start again.\n")
}
