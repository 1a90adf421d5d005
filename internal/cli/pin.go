package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aurasafe/aurasafe/internal/clipboard"
	"github.com/aurasafe/aurasafe/internal/pin"
)

func newPinCommand(c *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Generate, check or change the vault PIN",
	}

	cmd.AddCommand(
		newPinGenerateCommand(c),
		newPinCheckCommand(c),
		newPinChangeCommand(c),
	)
	return cmd
}

type pinGenerateOptions struct {
	length int
	copy   bool
}

func newPinGenerateCommand(c *cliContext) *cobra.Command {
	opts := &pinGenerateOptions{length: 6}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random numeric PIN",
		Long: `Generate a random numeric PIN that is not a common, repeated or
sequential pattern, with optional clipboard support.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := pin.Generate(opts.length)
			if err != nil {
				return err
			}
			if !opts.copy {
				return writeOutput(cmd.OutOrStdout(), "%s\n", code)
			}

			if !clipboard.IsAvailable() {
				return fmt.Errorf("clipboard not available, remove --copy to print instead")
			}
			if _, err := clipboard.CopyWithTimeout(code, c.cfg.ClipboardTTL); err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), "✓ PIN copied to clipboard\n")
		},
	}

	cmd.Flags().IntVar(&opts.length, "length", opts.length, "Number of digits")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy the PIN to the clipboard")

	return cmd
}

func newPinCheckCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Estimate how guessable a PIN is",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := c.promptPIN(cmd, "PIN to check: ")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if err := pin.Validate(code); err != nil {
				return writeOutput(out, "✗ Not accepted: %v\n", err)
			}

			a := pin.Assess(code)
			if c.jsonOutput() {
				return writeJSON(out, a)
			}
			if err := writeOutput(out, "Estimated strength: %.1f bits\n", a.Bits); err != nil {
				return err
			}
			if !a.Weak {
				return writeOutput(out, "✓ No weaknesses found\n")
			}
			return writeOutput(out, "Weak: %s\n", strings.Join(a.Reasons, ", "))
		},
	}
}

func newPinChangeCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "change",
		Short: "Change the vault PIN",
		Long: `Change the vault PIN. Every record is re-encrypted under the new key in a
single transaction; if anything fails the old PIN stays valid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openUnlocked()
			if err != nil {
				return err
			}
			defer app.Close()

			current, err := c.promptPIN(cmd, "Current PIN: ")
			if err != nil {
				return err
			}
			next, err := c.promptPINConfirm(cmd)
			if err != nil {
				return err
			}
			if a := pin.Assess(next); a.Weak {
				if err := writeOutput(cmd.ErrOrStderr(), "Warning: weak PIN (%s)\n", strings.Join(a.Reasons, ", ")); err != nil {
					return err
				}
			}

			if err := app.svc.ChangePIN(current, next); err != nil {
				return err
			}
			c.touch(app)

			return writeOutput(cmd.OutOrStdout(), "✓ PIN changed\n")
		},
	}
}
