package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/clipboard"
	"github.com/aurasafe/aurasafe/internal/store"
)

type exportOptions struct {
	path  string
	copy  bool
	force bool
}

func newExportCommand(c *cliContext) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every safe and purchase as plaintext JSON",
		Long: `Export every safe and purchase as a plaintext JSON snapshot.

The snapshot is NOT encrypted. Without --path or --copy it is written to
stdout. Files are written atomically with 0600 permissions. With --copy the
command waits for the clipboard_ttl setting and then clears the clipboard.

Example:
  aurasafe export --path backup.json
  aurasafe export > backup.json
  aurasafe export --copy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, c, opts)
		},
	}

	cmd.Flags().StringVar(&opts.path, "path", "", "Export file path")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy the snapshot to the clipboard")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing export file")

	return cmd
}

func runExport(cmd *cobra.Command, c *cliContext, opts *exportOptions) error {
	app, err := c.openUnlocked()
	if err != nil {
		return err
	}
	snap, err := app.svc.ExportAllDecrypted()
	if err == nil {
		c.touch(app)
	}
	app.Close()
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	payload = append(payload, '\n')

	errOut := cmd.ErrOrStderr()
	switch {
	case opts.path != "":
		if _, err := os.Stat(opts.path); err == nil && !opts.force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", opts.path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := store.AtomicWriteFile(opts.path, payload, 0o600); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		return writeOutput(errOut, "✓ Exported %d safe(s) and %d purchase(s) to %s\n", len(snap.Safes), len(snap.Purchases), opts.path)

	case opts.copy:
		if c.cfg.ClipboardTTL <= 0 {
			if err := clipboard.Copy(string(payload)); err != nil {
				return err
			}
			return writeOutput(errOut, "✓ Snapshot copied to clipboard\n")
		}
		done, err := clipboard.CopyWithTimeout(string(payload), c.cfg.ClipboardTTL)
		if err != nil {
			return err
		}
		if err := writeOutput(errOut, "✓ Snapshot copied to clipboard; clearing in %s\n", c.cfg.ClipboardTTL); err != nil {
			return err
		}
		<-done
		return nil

	default:
		return writeString(cmd.OutOrStdout(), string(payload))
	}
}
