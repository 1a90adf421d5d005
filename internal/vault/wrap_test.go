package vault

import (
	"bytes"
	"errors"
	"testing"
)

func testArgon2Params() Argon2Params {
	return Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1}
}

func TestWrapUnwrapSecret(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, KeySize)

	wrapped, err := WrapSecret(secret, "machine-passphrase", testArgon2Params())
	if err != nil {
		t.Fatalf("Failed to wrap: %v", err)
	}

	parsed, err := ParseWrappedKey(wrapped.Bytes())
	if err != nil {
		t.Fatalf("Failed to parse wrapped key: %v", err)
	}

	got, err := UnwrapSecret(parsed, "machine-passphrase")
	if err != nil {
		t.Fatalf("Failed to unwrap: %v", err)
	}

	if !bytes.Equal(got, secret) {
		t.Error("Unwrapped secret does not match")
	}

	if _, err := UnwrapSecret(parsed, "other-passphrase"); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed, got %v", err)
	}
}

func TestParseWrappedKeyRejectsTruncated(t *testing.T) {
	wrapped, err := WrapSecret([]byte("secret"), "p", testArgon2Params())
	if err != nil {
		t.Fatalf("Failed to wrap: %v", err)
	}
	data := wrapped.Bytes()

	for _, n := range []int{0, 5, len(data) - 1} {
		if _, err := ParseWrappedKey(data[:n]); err == nil {
			t.Errorf("Expected error parsing %d bytes", n)
		}
	}

	data[0] = 9
	if _, err := ParseWrappedKey(data); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("Expected ErrInvalidVersion, got %v", err)
	}
}

func TestValidateArgon2Params(t *testing.T) {
	tests := []struct {
		name    string
		params  Argon2Params
		wantErr bool
	}{
		{"default", DefaultArgon2Params(), false},
		{"minimal", testArgon2Params(), false},
		{"memory too low", Argon2Params{Memory: 512, Iterations: 1, Parallelism: 1}, true},
		{"no iterations", Argon2Params{Memory: 1024, Iterations: 0, Parallelism: 1}, true},
		{"no parallelism", Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgon2Params(tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgon2Params() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
