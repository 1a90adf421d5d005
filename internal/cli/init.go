package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/pin"
)

type initOptions struct {
	suggest bool
	length  int
}

func newInitCommand(c *cliContext) *cobra.Command {
	opts := &initOptions{length: 6}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new vault protected by a PIN",
		Long: `Create a new vault and choose its PIN.

The PIN is stretched with PBKDF2-HMAC-SHA256 and split with HKDF into a
verification hash and the record key. A "Default" safe is created and the
vault is left unlocked for the configured session TTL.

Example:
  aurasafe init
  aurasafe init --suggest
  aurasafe init --vault /path/to/aurasafe.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, c, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.suggest, "suggest", false, "Suggest a random PIN before prompting")
	cmd.Flags().IntVar(&opts.length, "length", opts.length, "Length of the suggested PIN")

	return cmd
}

func runInit(cmd *cobra.Command, c *cliContext, opts *initOptions) error {
	app, err := c.openVault()
	if err != nil {
		return err
	}
	defer app.Close()

	setUp, err := app.svc.IsSetUp()
	if err != nil {
		return err
	}
	if setUp {
		return fmt.Errorf("vault already exists at %s (use 'aurasafe reset' to start over)", c.cfg.VaultPath)
	}

	errOut := cmd.ErrOrStderr()
	if opts.suggest {
		suggestion, err := pin.Generate(opts.length)
		if err != nil {
			return err
		}
		if err := writeOutput(errOut, "Suggested PIN: %s\n", suggestion); err != nil {
			return err
		}
	}

	code, err := c.promptPINConfirm(cmd)
	if err != nil {
		return err
	}
	if err := pin.Validate(code); err != nil {
		return err
	}
	if a := pin.Assess(code); a.Weak {
		if err := writeOutput(errOut, "Warning: weak PIN (%s)\n", strings.Join(a.Reasons, ", ")); err != nil {
			return err
		}
	}

	if err := app.svc.Unlock(code); err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}
	c.touch(app)

	safe, err := app.svc.EnsureDefaultSafe()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := writeOutput(out, "✓ Vault created at %s\n", c.cfg.VaultPath); err != nil {
		return err
	}
	if err := writeOutput(out, "Default safe: %s\n", safe.Name); err != nil {
		return err
	}
	return writeOutput(out, "Unlocked for %s. Use 'aurasafe lock' when you are done.\n", c.cfg.SessionTTL)
}
