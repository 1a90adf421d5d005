package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/service"
	"github.com/aurasafe/aurasafe/internal/store"
	"github.com/aurasafe/aurasafe/internal/vault"
)

type statusOptions struct {
	json bool
}

type statusInfo struct {
	VaultPath        string              `json:"vault_path"`
	Initialized      bool                `json:"initialized"`
	Crypto           *vault.MetadataInfo `json:"crypto,omitempty"`
	CreatedAt        string              `json:"created_at,omitempty"`
	SessionState     string              `json:"session_state"`
	RemainingTTLSecs int64               `json:"remaining_ttl_seconds"`
	SafeCount        *int                `json:"safe_count,omitempty"`
	PurchaseCount    *int                `json:"purchase_count,omitempty"`
}

func newStatusCommand(c *cliContext) *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vault status",
		Long:  "Display vault metadata, session state, and record counts when unlocked.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, c, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, c *cliContext, opts *statusOptions) error {
	result := statusInfo{
		VaultPath:    c.cfg.VaultPath,
		SessionState: service.StateLocked.String(),
	}

	if _, err := os.Stat(c.cfg.VaultPath); err == nil {
		if err := collectStatus(c, &result); err != nil {
			return err
		}
	}

	if opts.json || c.jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), result)
	}

	out := cmd.OutOrStdout()
	if err := writeOutput(out, "Vault: %s\n", result.VaultPath); err != nil {
		return err
	}
	if !result.Initialized {
		return writeOutput(out, "Not initialized. Run 'aurasafe init' to create a vault.\n")
	}

	lines := []string{
		fmt.Sprintf("Cipher: %s\n", result.Crypto.Cipher),
		fmt.Sprintf("KDF: %s (%d iterations, salt %d bytes)\n", result.Crypto.KDF, result.Crypto.Iterations, result.Crypto.SaltLength),
		fmt.Sprintf("Created: %s\n", result.CreatedAt),
	}
	if result.SafeCount != nil {
		lines = append(lines,
			fmt.Sprintf("Safes: %d\n", *result.SafeCount),
			fmt.Sprintf("Purchases: %d\n", *result.PurchaseCount),
			fmt.Sprintf("Session: %s (expires in %s)\n", result.SessionState,
				(time.Duration(result.RemainingTTLSecs) * time.Second).String()),
		)
	} else {
		lines = append(lines, "Purchases: (locked)\n", fmt.Sprintf("Session: %s\n", result.SessionState))
	}

	for _, line := range lines {
		if err := writeString(out, line); err != nil {
			return err
		}
	}
	return nil
}

func collectStatus(c *cliContext, result *statusInfo) error {
	app, err := c.openVault()
	if err != nil {
		return err
	}
	defer app.Close()

	setUp, err := app.svc.IsSetUp()
	if err != nil || !setUp {
		return err
	}
	result.Initialized = true

	salt, err := app.svc.Salt()
	if err != nil {
		return err
	}
	iterations, err := app.svc.KDFIterations()
	if err != nil {
		return err
	}
	if result.Crypto, err = vault.DescribeVault(salt, iterations); err != nil {
		return fmt.Errorf("%w: salt", store.ErrVaultCorrupted)
	}
	if created, err := app.store.GetMeta(store.MetaCreatedAt); err == nil {
		result.CreatedAt = string(created)
	}

	if err := c.restore(app); err != nil {
		if errors.Is(err, service.ErrLocked) {
			return nil
		}
		return err
	}

	safes, err := app.svc.ListSafes()
	if err != nil {
		return err
	}
	purchases, err := app.svc.ListAllPurchases()
	if err != nil {
		return err
	}
	safeCount, purchaseCount := len(safes), len(purchases)
	result.SafeCount = &safeCount
	result.PurchaseCount = &purchaseCount
	result.SessionState = service.StateUnlocked.String()
	result.RemainingTTLSecs = int64(app.sessions.Remaining() / time.Second)
	return nil
}
