package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/aurasafe/aurasafe/internal/codec"
)

const (
	SaltSize = 16 // per-vault random salt
	KeySize  = 32 // AES-256 key and verifier length

	// DefaultPBKDF2Iterations is the PBKDF2-HMAC-SHA256 cost for new vaults.
	DefaultPBKDF2Iterations = 150000
	// MinPBKDF2Iterations is the lowest cost accepted from configuration.
	MinPBKDF2Iterations = 100000

	verifierInfo = "aurasafe/v1/pin-verifier"
	recordInfo   = "aurasafe/v1/record-key"
)

var (
	ErrInvalidSalt   = errors.New("invalid salt size")
	ErrEmptyPIN      = errors.New("PIN must not be empty")
	ErrKeyDestroyed  = errors.New("session key has been destroyed")
	ErrInvalidKeyLen = errors.New("invalid session key length")
)

// SessionKey is the in-memory record encryption key for an unlocked vault.
// The raw bytes are only reachable through Export.
type SessionKey struct {
	material []byte
}

// ImportSessionKey rebuilds a session key from previously exported bytes.
// The input slice is copied.
func ImportSessionKey(raw []byte) (*SessionKey, error) {
	if len(raw) != KeySize {
		return nil, ErrInvalidKeyLen
	}
	material := make([]byte, KeySize)
	copy(material, raw)
	return &SessionKey{material: material}, nil
}

// Export returns a copy of the key bytes. It exists only so the key can be
// parked in short-lived session storage; callers must zeroize the result.
func (k *SessionKey) Export() ([]byte, error) {
	if k == nil || k.material == nil {
		return nil, ErrKeyDestroyed
	}
	out := make([]byte, len(k.material))
	copy(out, k.material)
	return out, nil
}

// Destroy zeroes the key. Any later Seal or Open with it fails.
func (k *SessionKey) Destroy() {
	if k == nil || k.material == nil {
		return
	}
	Zeroize(k.material)
	k.material = nil
}

// Destroyed reports whether Destroy has been called.
func (k *SessionKey) Destroyed() bool {
	return k == nil || k.material == nil
}

func (k *SessionKey) bytes() ([]byte, error) {
	if k.Destroyed() {
		return nil, ErrKeyDestroyed
	}
	return k.material, nil
}

// KeyDeriver turns a PIN and salt into the stored verifier and the session key.
//
// A single PBKDF2 run produces a base secret; HKDF then expands it under two
// distinct info labels, so the verifier reveals nothing about the record key
// even though both come from the same PIN entry, salt and cost.
type KeyDeriver struct {
	iterations int
}

// NewKeyDeriver creates a deriver with the given PBKDF2 iteration count.
func NewKeyDeriver(iterations int) *KeyDeriver {
	return &KeyDeriver{iterations: iterations}
}

// NewDefaultKeyDeriver creates a deriver with DefaultPBKDF2Iterations.
func NewDefaultKeyDeriver() *KeyDeriver {
	return NewKeyDeriver(DefaultPBKDF2Iterations)
}

// Iterations returns the PBKDF2 cost.
func (d *KeyDeriver) Iterations() int {
	return d.iterations
}

// GenerateSalt creates a cryptographically secure random salt
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveVerificationHash returns the base64 PIN verifier for (pin, salt).
func (d *KeyDeriver) DeriveVerificationHash(pin string, salt []byte) (string, error) {
	out, err := d.derive(pin, salt, verifierInfo)
	if err != nil {
		return "", err
	}
	defer Zeroize(out)
	return codec.EncodeBase64(out), nil
}

// DeriveSessionKey returns the record encryption key for (pin, salt).
func (d *KeyDeriver) DeriveSessionKey(pin string, salt []byte) (*SessionKey, error) {
	out, err := d.derive(pin, salt, recordInfo)
	if err != nil {
		return nil, err
	}
	return &SessionKey{material: out}, nil
}

// DeriveBoth runs the slow step once and returns the verifier and the key.
func (d *KeyDeriver) DeriveBoth(pin string, salt []byte) (string, *SessionKey, error) {
	base, err := d.baseSecret(pin, salt)
	if err != nil {
		return "", nil, err
	}
	defer Zeroize(base)

	verifier, err := expand(base, verifierInfo)
	if err != nil {
		return "", nil, err
	}
	defer Zeroize(verifier)

	key, err := expand(base, recordInfo)
	if err != nil {
		return "", nil, err
	}

	return codec.EncodeBase64(verifier), &SessionKey{material: key}, nil
}

func (d *KeyDeriver) derive(pin string, salt []byte, info string) ([]byte, error) {
	base, err := d.baseSecret(pin, salt)
	if err != nil {
		return nil, err
	}
	defer Zeroize(base)
	return expand(base, info)
}

func (d *KeyDeriver) baseSecret(pin string, salt []byte) ([]byte, error) {
	if pin == "" {
		return nil, ErrEmptyPIN
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidSalt, SaltSize, len(salt))
	}
	if d.iterations < 1 {
		return nil, fmt.Errorf("invalid PBKDF2 iteration count %d", d.iterations)
	}
	return pbkdf2.Key(codec.EncodeText(pin), salt, d.iterations, KeySize, sha256.New), nil
}

func expand(base []byte, info string) ([]byte, error) {
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, base, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("failed to expand key material: %w", err)
	}
	return out, nil
}

// VerifyHash compares a freshly derived verifier with the stored one in
// constant time.
func VerifyHash(candidate, stored string) bool {
	return SecureCompare([]byte(candidate), []byte(stored))
}

// Zeroize securely clears a byte slice
func Zeroize(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// SecureCompare performs constant-time comparison of two byte slices
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
