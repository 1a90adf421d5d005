package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// WrapVersion is the binary format version of wrapped key blobs.
	WrapVersion = 1
	wrapSaltSize = 32

	// Argon2id parameters for wrapping short-lived session material. The
	// wrapping passphrase is machine bound rather than user chosen, so these
	// are lighter than a vault KDF.
	DefaultArgon2Memory      = 19 * 1024 // 19 MB
	DefaultArgon2Iterations  = 2
	DefaultArgon2Parallelism = 1
)

var ErrInvalidVersion = errors.New("unsupported wrap version")

// Argon2Params holds the key derivation parameters
type Argon2Params struct {
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultArgon2Params returns the default Argon2id parameters
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      DefaultArgon2Memory,
		Iterations:  DefaultArgon2Iterations,
		Parallelism: DefaultArgon2Parallelism,
	}
}

// ValidateArgon2Params validates Argon2id parameters
func ValidateArgon2Params(params Argon2Params) error {
	if params.Memory < 1024 {
		return errors.New("memory parameter too low (minimum 1024 KB)")
	}
	if params.Memory > 1024*1024 {
		return errors.New("memory parameter too high (maximum 1 GB)")
	}
	if params.Iterations < 1 {
		return errors.New("iterations parameter too low (minimum 1)")
	}
	if params.Iterations > 100 {
		return errors.New("iterations parameter too high (maximum 100)")
	}
	if params.Parallelism < 1 {
		return errors.New("parallelism parameter too low (minimum 1)")
	}
	return nil
}

// WrappedKey is a secret sealed under a passphrase-derived key.
type WrappedKey struct {
	Version    uint8
	KDFParams  Argon2Params
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte // includes the GCM tag
}

// WrapSecret seals secret under an Argon2id key derived from passphrase and a
// fresh salt.
func WrapSecret(secret []byte, passphrase string, params Argon2Params) (*WrappedKey, error) {
	if err := ValidateArgon2Params(params); err != nil {
		return nil, err
	}

	salt := make([]byte, wrapSaltSize)
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, kek, err := wrapGCM(passphrase, salt, params)
	if err != nil {
		return nil, err
	}
	defer Zeroize(kek)

	return &WrappedKey{
		Version:    WrapVersion,
		KDFParams:  params,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, secret, []byte{WrapVersion}),
	}, nil
}

// UnwrapSecret reverses WrapSecret using the parameters stored in w.
func UnwrapSecret(w *WrappedKey, passphrase string) ([]byte, error) {
	if w.Version != WrapVersion {
		return nil, ErrInvalidVersion
	}
	if len(w.Nonce) != NonceSize {
		return nil, ErrInvalidEnvelope
	}
	if err := ValidateArgon2Params(w.KDFParams); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	gcm, kek, err := wrapGCM(passphrase, w.Salt, w.KDFParams)
	if err != nil {
		return nil, err
	}
	defer Zeroize(kek)

	secret, err := gcm.Open(nil, w.Nonce, w.Ciphertext, []byte{WrapVersion})
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return secret, nil
}

func wrapGCM(passphrase string, salt []byte, params Argon2Params) (cipher.AEAD, []byte, error) {
	kek := argon2.IDKey([]byte(passphrase), salt, params.Iterations, params.Memory, params.Parallelism, KeySize)

	block, err := aes.NewCipher(kek)
	if err != nil {
		Zeroize(kek)
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		Zeroize(kek)
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, kek, nil
}

// Bytes serializes the wrapped key:
// version(1) + memory(4) + iterations(4) + parallelism(1) +
// salt_len(4) + salt + nonce_len(4) + nonce + ciphertext_len(4) + ciphertext
func (w *WrappedKey) Bytes() []byte {
	buf := make([]byte, 0, 1+9+4+len(w.Salt)+4+len(w.Nonce)+4+len(w.Ciphertext))

	buf = append(buf, w.Version)
	buf = binary.LittleEndian.AppendUint32(buf, w.KDFParams.Memory)
	buf = binary.LittleEndian.AppendUint32(buf, w.KDFParams.Iterations)
	buf = append(buf, w.KDFParams.Parallelism)

	for _, field := range [][]byte{w.Salt, w.Nonce, w.Ciphertext} {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(field)))
		buf = append(buf, field...)
	}
	return buf
}

// ParseWrappedKey deserializes the output of Bytes.
func ParseWrappedKey(data []byte) (*WrappedKey, error) {
	if len(data) < 1+9+4+4+4 { // Minimum size
		return nil, ErrInvalidEnvelope
	}

	version := data[0]
	if version != WrapVersion {
		return nil, ErrInvalidVersion
	}

	w := &WrappedKey{
		Version: version,
		KDFParams: Argon2Params{
			Memory:      binary.LittleEndian.Uint32(data[1:5]),
			Iterations:  binary.LittleEndian.Uint32(data[5:9]),
			Parallelism: data[9],
		},
	}

	offset := 10
	fields := make([][]byte, 3)
	for i := range fields {
		if offset+4 > len(data) {
			return nil, ErrInvalidEnvelope
		}
		n := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		offset += 4
		if n < 0 || offset+n > len(data) {
			return nil, ErrInvalidEnvelope
		}
		fields[i] = make([]byte, n)
		copy(fields[i], data[offset:offset+n])
		offset += n
	}
	if offset != len(data) {
		return nil, ErrInvalidEnvelope
	}

	w.Salt, w.Nonce, w.Ciphertext = fields[0], fields[1], fields[2]
	return w, nil
}
