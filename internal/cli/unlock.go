package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/service"
)

type unlockOptions struct {
	ttl time.Duration
}

func newUnlockCommand(c *cliContext) *cobra.Command {
	opts := &unlockOptions{}

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the vault",
		Long: `Unlock the vault with your PIN.

The vault stays unlocked for the given duration (the session_ttl setting by
default). Every command run while unlocked extends the session.

Example:
  aurasafe unlock
  aurasafe unlock --ttl 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnlock(cmd, c, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "Auto-lock timeout (default from config)")

	return cmd
}

func runUnlock(cmd *cobra.Command, c *cliContext, opts *unlockOptions) error {
	if opts.ttl > 0 {
		c.cfg.SessionTTL = opts.ttl
	}

	app, err := c.openVault()
	if err != nil {
		return err
	}
	defer app.Close()

	setUp, err := app.svc.IsSetUp()
	if err != nil {
		return err
	}
	if !setUp {
		return service.ErrNotSetUp
	}

	code, err := c.promptPIN(cmd, "Enter PIN: ")
	if err != nil {
		return err
	}
	if err := app.svc.Unlock(code); err != nil {
		_ = app.sessions.Clear()
		return err
	}

	key, err := app.svc.SessionKey()
	if err != nil {
		return err
	}
	if err := app.sessions.Save(key, c.cfg.SessionTTL); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	out := cmd.OutOrStdout()
	if err := writeOutput(out, "✓ Vault unlocked\n"); err != nil {
		return err
	}
	return writeOutput(out, "Auto-lock timeout: %v\n", c.cfg.SessionTTL)
}
