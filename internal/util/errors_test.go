package util

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aurasafe/aurasafe/internal/config"
	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/service"
	"github.com/aurasafe/aurasafe/internal/store"
	"github.com/aurasafe/aurasafe/internal/vault"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"auth", service.ErrAuthenticationFailed, ExitAuthFailed},
		{"wrapped auth", fmt.Errorf("unlock: %w", service.ErrAuthenticationFailed), ExitAuthFailed},
		{"validation", &domain.ValidationError{Field: "weight", Reason: "must be positive"}, ExitInvalidInput},
		{"config", fmt.Errorf("%w: bad", config.ErrInvalidConfig), ExitInvalidInput},
		{"decrypt", fmt.Errorf("%w: bad nonce", vault.ErrDecryptionFailed), ExitIntegrityErr},
		{"corrupt", store.ErrVaultCorrupted, ExitIntegrityErr},
		{"storage", fmt.Errorf("%w: disk full", store.ErrTransactionFailed), ExitError},
		{"other", errors.New("boom"), ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}

func TestHint(t *testing.T) {
	assert.Contains(t, Hint(service.ErrLocked), "unlock")
	assert.Contains(t, Hint(service.ErrNotSetUp), "init")
	assert.Empty(t, Hint(errors.New("boom")))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ctx"))
	err := WrapError(store.ErrNotFound, "get safe")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, "get safe: not found", err.Error())
}
