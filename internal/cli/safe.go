package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/service"
	"github.com/aurasafe/aurasafe/internal/store"
)

func newSafeCommand(c *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "safe",
		Short: "Manage safes",
		Long: `Manage the safes that group your purchases.

A safe can be referred to by its id or, when unambiguous, its name.

Example:
  aurasafe safe list
  aurasafe safe create "Bank box" --default
  aurasafe safe rename "Bank box" "Deposit box"
  aurasafe safe delete "Deposit box" --yes`,
	}

	cmd.AddCommand(
		newSafeListCommand(c),
		newSafeCreateCommand(c),
		newSafeRenameCommand(c),
		newSafeDeleteCommand(c),
		newSafeDefaultCommand(c),
	)
	return cmd
}

type safeRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	Purchases int    `json:"purchases"`
}

func newSafeListCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List safes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openUnlocked()
			if err != nil {
				return err
			}
			defer app.Close()

			safes, err := app.svc.ListSafes()
			if err != nil {
				return err
			}
			purchases, err := app.svc.ListAllPurchases()
			if err != nil {
				return err
			}
			counts := make(map[string]int, len(safes))
			for _, p := range purchases {
				counts[p.SafeID]++
			}

			rows := make([]safeRow, 0, len(safes))
			for _, s := range safes {
				rows = append(rows, safeRow{ID: s.ID, Name: s.Name, IsDefault: s.IsDefault, Purchases: counts[s.ID]})
			}
			c.touch(app)

			out := cmd.OutOrStdout()
			if c.jsonOutput() {
				return writeJSON(out, rows)
			}

			w := newTable(out)
			if err := writeOutput(w, "ID\tNAME\tDEFAULT\tPURCHASES\n"); err != nil {
				return err
			}
			for _, r := range rows {
				def := ""
				if r.IsDefault {
					def = "*"
				}
				if err := writeOutput(w, "%s\t%s\t%s\t%d\n", r.ID, r.Name, def, r.Purchases); err != nil {
					return err
				}
			}
			return w.Flush()
		},
	}
}

type safeCreateOptions struct {
	isDefault bool
}

func newSafeCreateCommand(c *cliContext) *cobra.Command {
	opts := &safeCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a safe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openUnlocked()
			if err != nil {
				return err
			}
			defer app.Close()

			safe, err := app.svc.CreateSafe(args[0], opts.isDefault)
			if err != nil {
				return err
			}
			c.touch(app)

			if c.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), safe)
			}
			return writeOutput(cmd.OutOrStdout(), "✓ Safe '%s' created (%s)\n", safe.Name, safe.ID)
		},
	}

	cmd.Flags().BoolVar(&opts.isDefault, "default", false, "Make the new safe the default")

	return cmd
}

func newSafeRenameCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <safe> <new-name>",
		Short: "Rename a safe",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openUnlocked()
			if err != nil {
				return err
			}
			defer app.Close()

			safe, err := resolveSafe(app.svc, args[0])
			if err != nil {
				return err
			}
			renamed, err := app.svc.RenameSafe(safe.ID, args[1])
			if err != nil {
				return err
			}
			c.touch(app)

			return writeOutput(cmd.OutOrStdout(), "✓ Safe '%s' renamed to '%s'\n", safe.Name, renamed.Name)
		},
	}
}

type safeDeleteOptions struct {
	yes bool
}

func newSafeDeleteCommand(c *cliContext) *cobra.Command {
	opts := &safeDeleteOptions{}

	cmd := &cobra.Command{
		Use:   "delete <safe>",
		Short: "Delete a safe and every purchase in it",
		Long: `Delete a safe together with all of its purchases.

This action cannot be undone. When the last safe is deleted a new "Default"
safe is created.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openUnlocked()
			if err != nil {
				return err
			}
			defer app.Close()

			safe, err := resolveSafe(app.svc, args[0])
			if err != nil {
				return err
			}
			ok, err := c.confirmDestructive(cmd, fmt.Sprintf("Delete safe '%s' and all of its purchases?", safe.Name), opts.yes)
			if err != nil {
				return err
			}
			if !ok {
				return writeOutput(cmd.OutOrStdout(), "Safe deletion cancelled\n")
			}

			removed, err := app.svc.DeleteSafe(safe.ID)
			if err != nil {
				return err
			}
			c.touch(app)

			return writeOutput(cmd.OutOrStdout(), "✓ Safe '%s' deleted with %d purchase(s)\n", safe.Name, removed)
		},
	}

	cmd.Flags().BoolVar(&opts.yes, "yes", false, "Skip confirmation prompt")

	return cmd
}

func newSafeDefaultCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "default <safe>",
		Short: "Make a safe the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openUnlocked()
			if err != nil {
				return err
			}
			defer app.Close()

			safe, err := resolveSafe(app.svc, args[0])
			if err != nil {
				return err
			}
			if err := app.svc.SetDefaultSafe(safe.ID); err != nil {
				return err
			}
			c.touch(app)

			return writeOutput(cmd.OutOrStdout(), "✓ '%s' is now the default safe\n", safe.Name)
		},
	}
}

// resolveSafe finds a safe by id, then by case-insensitive name.
func resolveSafe(svc *service.Service, ref string) (*domain.Safe, error) {
	ref = strings.TrimSpace(ref)
	safes, err := svc.ListSafes()
	if err != nil {
		return nil, err
	}

	var matches []domain.Safe
	for _, s := range safes {
		if s.ID == ref {
			return &s, nil
		}
		if strings.EqualFold(s.Name, ref) {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("safe '%s': %w", ref, store.ErrNotFound)
	case 1:
		return &matches[0], nil
	default:
		return nil, &domain.ValidationError{Field: "safe", Reason: fmt.Sprintf("name %q matches %d safes; use the id", ref, len(matches))}
	}
}

// defaultSafe returns the safe new purchases go to when none is named.
func defaultSafe(svc *service.Service, ref string) (*domain.Safe, error) {
	if ref != "" {
		return resolveSafe(svc, ref)
	}
	return svc.EnsureDefaultSafe()
}
