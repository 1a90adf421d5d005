package vault

import "github.com/aurasafe/aurasafe/internal/codec"

// MetadataInfo describes the cryptographic configuration of a vault for
// status output. It never includes the verifier.
type MetadataInfo struct {
	Cipher     string `json:"cipher"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	SaltLength int    `json:"salt_length"`
}

// DescribeVault builds MetadataInfo from the persisted salt and iteration count.
func DescribeVault(saltB64 string, iterations int) (*MetadataInfo, error) {
	salt, err := codec.DecodeBase64(saltB64)
	if err != nil {
		return nil, err
	}

	return &MetadataInfo{
		Cipher:     "AES-256-GCM",
		KDF:        "PBKDF2-HMAC-SHA256 + HKDF-SHA256",
		Iterations: iterations,
		SaltLength: len(salt),
	}, nil
}
