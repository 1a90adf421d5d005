package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/domain"
)

// maxImportBytes bounds the snapshot read into memory.
const maxImportBytes = 64 << 20

type importOptions struct {
	yes bool
}

func newImportCommand(c *cliContext) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Replace the vault contents with a JSON snapshot",
		Long: `Replace every safe and purchase with the contents of a snapshot
produced by 'aurasafe export'. Use - to read from stdin.

The snapshot is validated completely before anything is written, and the
replacement happens in a single transaction: on any error the vault is left
unchanged.

Example:
  aurasafe import backup.json
  aurasafe import backup.json --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, c, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.yes, "yes", false, "Skip confirmation prompt")

	return cmd
}

func runImport(cmd *cobra.Command, c *cliContext, opts *importOptions, path string) error {
	payload, err := readSnapshot(cmd, path)
	if err != nil {
		return err
	}

	app, err := c.openUnlocked()
	if err != nil {
		return err
	}
	defer app.Close()

	ok, err := c.confirmDestructive(cmd, "Replace ALL safes and purchases with the snapshot?", opts.yes || path == "-")
	if err != nil {
		return err
	}
	if !ok {
		return writeOutput(cmd.OutOrStdout(), "Import cancelled\n")
	}

	result, err := app.svc.ImportFromJSON(payload)
	if err != nil {
		return fmt.Errorf("import failed, vault unchanged: %w", err)
	}
	c.touch(app)

	return writeOutput(cmd.OutOrStdout(), "✓ Imported %d safe(s) and %d purchase(s)\n", result.Safes, result.Purchases)
}

func readSnapshot(cmd *cobra.Command, path string) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxImportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) > maxImportBytes {
		return nil, &domain.ValidationError{Field: "snapshot", Reason: fmt.Sprintf("larger than %d bytes", maxImportBytes)}
	}
	return data, nil
}
