// Package util maps errors to process exit codes for the CLI.
package util

import (
	"errors"
	"fmt"
	"os"

	"github.com/aurasafe/aurasafe/internal/config"
	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/service"
	"github.com/aurasafe/aurasafe/internal/store"
	"github.com/aurasafe/aurasafe/internal/vault"
)

// Exit codes
const (
	ExitOK           = 0
	ExitError        = 1
	ExitInvalidInput = 2
	ExitAuthFailed   = 3
	ExitIntegrityErr = 4
)

// ExitCodeFor maps an error to the exit code the CLI returns for it.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, service.ErrAuthenticationFailed):
		return ExitAuthFailed
	case errors.Is(err, domain.ErrValidationFailed),
		errors.Is(err, config.ErrInvalidConfig):
		return ExitInvalidInput
	case errors.Is(err, vault.ErrDecryptionFailed),
		errors.Is(err, store.ErrVaultCorrupted):
		return ExitIntegrityErr
	default:
		return ExitError
	}
}

// Hint returns a short suggestion for errors the user can act on.
func Hint(err error) string {
	switch {
	case errors.Is(err, service.ErrLocked):
		return "Run 'aurasafe unlock' first."
	case errors.Is(err, service.ErrNotSetUp):
		return "Run 'aurasafe init' to create a vault."
	case errors.Is(err, store.ErrVaultLocked):
		return "Another aurasafe process has the vault open."
	case errors.Is(err, vault.ErrDecryptionFailed), errors.Is(err, store.ErrVaultCorrupted):
		return "The record could not be decrypted; it may be corrupted."
	default:
		return ""
	}
}

// HandleError prints err with its hint and exits with the mapped code.
func HandleError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if hint := Hint(err); hint != "" {
		fmt.Fprintln(os.Stderr, hint)
	}
	os.Exit(ExitCodeFor(err))
}

// WrapError wraps an error with additional context
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
