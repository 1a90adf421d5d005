package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/session"
)

func newLockCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Lock the vault",
		Long: `Lock the vault by deleting the saved session key.

After locking, you'll need to unlock the vault again with your PIN.

Example:
  aurasafe lock`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(cmd, c)
		},
	}
}

func runLock(cmd *cobra.Command, c *cliContext) error {
	sessions := session.NewManager(c.cfg.VaultPath)
	if sessions.Remaining() <= 0 {
		_ = sessions.Clear()
		return writeOutput(cmd.OutOrStdout(), "Vault is already locked\n")
	}

	if err := sessions.Clear(); err != nil {
		return fmt.Errorf("failed to lock vault: %w", err)
	}
	return writeOutput(cmd.OutOrStdout(), "✓ Vault locked\n")
}
