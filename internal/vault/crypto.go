package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aurasafe/aurasafe/internal/codec"
	"github.com/aurasafe/aurasafe/internal/domain"
)

const (
	NonceSize = 12 // GCM nonce size
	TagSize   = 16 // GCM tag size
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidEnvelope  = errors.New("invalid envelope format")
)

// CryptoEngine seals records into envelopes and opens them again.
// Every Seal draws a new random nonce, so resealing an unchanged record still
// yields a different envelope.
type CryptoEngine struct{}

// NewCryptoEngine creates a new record cipher.
func NewCryptoEngine() *CryptoEngine {
	return &CryptoEngine{}
}

// GenerateNonce creates a cryptographically secure random nonce
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

func newGCM(key *SessionKey) (cipher.AEAD, error) {
	raw, err := key.bytes()
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal serializes record as JSON and encrypts it with AES-256-GCM. The record
// id is bound as additional data, so an envelope copied under another id will
// not open.
func (ce *CryptoEngine) Seal(key *SessionKey, id string, record any) (*domain.SealedEnvelope, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: missing record id", ErrInvalidEnvelope)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	defer Zeroize(plaintext)

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(id))

	return &domain.SealedEnvelope{
		ID:         id,
		Nonce:      codec.EncodeBase64(nonce),
		Ciphertext: codec.EncodeBase64(ciphertext),
	}, nil
}

// Open authenticates and decrypts env into out. Any failure, from bad base64
// to a wrong key, is reported as ErrDecryptionFailed; out must then be discarded.
func (ce *CryptoEngine) Open(key *SessionKey, env *domain.SealedEnvelope, out any) error {
	if env == nil {
		return fmt.Errorf("%w: %v", ErrDecryptionFailed, ErrInvalidEnvelope)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}

	nonce, err := codec.DecodeBase64(env.Nonce)
	if err != nil || len(nonce) != NonceSize {
		return fmt.Errorf("%w: bad nonce", ErrDecryptionFailed)
	}

	ciphertext, err := codec.DecodeBase64(env.Ciphertext)
	if err != nil || len(ciphertext) < TagSize {
		return fmt.Errorf("%w: bad ciphertext", ErrDecryptionFailed)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(env.ID))
	if err != nil {
		return ErrDecryptionFailed
	}
	defer Zeroize(plaintext)

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: malformed record", ErrDecryptionFailed)
	}
	return nil
}
