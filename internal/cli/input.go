package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// promptPIN reads a PIN without echo when stdin is a terminal, or a single
// line from the command input otherwise.
func (c *cliContext) promptPIN(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read PIN: %w", err)
		}
		return string(secret), nil
	}

	line, err := c.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read PIN: %w", err)
	}
	return line, nil
}

// promptPINConfirm prompts for a new PIN twice.
func (c *cliContext) promptPINConfirm(cmd *cobra.Command) (string, error) {
	first, err := c.promptPIN(cmd, "Choose a PIN: ")
	if err != nil {
		return "", err
	}
	second, err := c.promptPIN(cmd, "Confirm PIN: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("PINs do not match")
	}
	return first, nil
}

// promptInput prompts for regular input
func (c *cliContext) promptInput(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := c.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return line, nil
}

// promptConfirm prompts for yes/no confirmation
func (c *cliContext) promptConfirm(cmd *cobra.Command, prompt string, defaultYes bool) (bool, error) {
	suffix := " [y/N]: "
	if defaultYes {
		suffix = " [Y/n]: "
	}

	input, err := c.promptInput(cmd, prompt+suffix)
	if err != nil {
		return false, err
	}

	switch strings.ToLower(input) {
	case "":
		return defaultYes, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// confirmDestructive asks before a destructive action unless skip is set or
// confirmations are disabled in the config.
func (c *cliContext) confirmDestructive(cmd *cobra.Command, prompt string, skip bool) (bool, error) {
	if skip || !c.cfg.ConfirmDestructive {
		return true, nil
	}
	return c.promptConfirm(cmd, prompt, false)
}

func (c *cliContext) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
