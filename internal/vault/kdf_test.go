package vault

import (
	"bytes"
	"errors"
	"testing"

	"github.com/aurasafe/aurasafe/internal/codec"
)

func fixedSalt() []byte {
	salt := make([]byte, SaltSize)
	for i := range salt {
		salt[i] = byte(i % 256)
	}
	return salt
}

func TestGenerateSalt(t *testing.T) {
	salt1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("Failed to generate salt: %v", err)
	}

	if len(salt1) != SaltSize {
		t.Errorf("Expected salt size %d, got %d", SaltSize, len(salt1))
	}

	salt2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("Failed to generate second salt: %v", err)
	}

	if bytes.Equal(salt1, salt2) {
		t.Error("Generated salts should be different")
	}
}

func TestDeriveVerificationHashDeterministic(t *testing.T) {
	d := NewKeyDeriver(testIterations)
	salt := fixedSalt()

	h1, err := d.DeriveVerificationHash("1234", salt)
	if err != nil {
		t.Fatalf("Failed to derive hash: %v", err)
	}
	h2, err := d.DeriveVerificationHash("1234", salt)
	if err != nil {
		t.Fatalf("Failed to derive hash second time: %v", err)
	}

	if h1 != h2 {
		t.Error("Same inputs should produce same hash")
	}

	raw, err := codec.DecodeBase64(h1)
	if err != nil {
		t.Fatalf("Hash is not base64: %v", err)
	}
	if len(raw) != KeySize {
		t.Errorf("Expected %d-byte hash, got %d", KeySize, len(raw))
	}
}

func TestDeriveVerificationHashDiffers(t *testing.T) {
	d := NewKeyDeriver(testIterations)
	salt := fixedSalt()

	h1, _ := d.DeriveVerificationHash("1234", salt)
	h2, _ := d.DeriveVerificationHash("0000", salt)
	if h1 == h2 {
		t.Error("Different PINs should produce different hashes")
	}

	otherSalt := fixedSalt()
	otherSalt[0] ^= 0xff
	h3, _ := d.DeriveVerificationHash("1234", otherSalt)
	if h1 == h3 {
		t.Error("Different salts should produce different hashes")
	}

	h4, _ := NewKeyDeriver(testIterations+1).DeriveVerificationHash("1234", salt)
	if h1 == h4 {
		t.Error("Different iteration counts should produce different hashes")
	}
}

func TestVerifierAndKeyAreSeparate(t *testing.T) {
	d := NewKeyDeriver(testIterations)
	salt := fixedSalt()

	hash, err := d.DeriveVerificationHash("1234", salt)
	if err != nil {
		t.Fatalf("Failed to derive hash: %v", err)
	}
	key, err := d.DeriveSessionKey("1234", salt)
	if err != nil {
		t.Fatalf("Failed to derive key: %v", err)
	}

	raw, _ := key.Export()
	defer Zeroize(raw)
	hashBytes, _ := codec.DecodeBase64(hash)

	if bytes.Equal(raw, hashBytes) {
		t.Fatal("Verifier must not equal the session key")
	}
}

func TestDeriveBothMatchesSeparateCalls(t *testing.T) {
	d := NewKeyDeriver(testIterations)
	salt := fixedSalt()

	hash, key, err := d.DeriveBoth("4821", salt)
	if err != nil {
		t.Fatalf("DeriveBoth failed: %v", err)
	}

	wantHash, _ := d.DeriveVerificationHash("4821", salt)
	wantKey, _ := d.DeriveSessionKey("4821", salt)

	if hash != wantHash {
		t.Error("DeriveBoth hash differs from DeriveVerificationHash")
	}

	got, _ := key.Export()
	want, _ := wantKey.Export()
	if !bytes.Equal(got, want) {
		t.Error("DeriveBoth key differs from DeriveSessionKey")
	}
}

func TestDeriveRejectsBadInput(t *testing.T) {
	d := NewKeyDeriver(testIterations)

	if _, err := d.DeriveVerificationHash("", fixedSalt()); !errors.Is(err, ErrEmptyPIN) {
		t.Errorf("Expected ErrEmptyPIN, got %v", err)
	}
	if _, err := d.DeriveSessionKey("1234", []byte("short")); !errors.Is(err, ErrInvalidSalt) {
		t.Errorf("Expected ErrInvalidSalt, got %v", err)
	}
	if _, err := NewKeyDeriver(0).DeriveSessionKey("1234", fixedSalt()); err == nil {
		t.Error("Expected error for zero iterations")
	}
}

func TestVerifyHash(t *testing.T) {
	d := NewKeyDeriver(testIterations)
	stored, _ := d.DeriveVerificationHash("1234", fixedSalt())

	good, _ := d.DeriveVerificationHash("1234", fixedSalt())
	bad, _ := d.DeriveVerificationHash("1235", fixedSalt())

	if !VerifyHash(good, stored) {
		t.Error("Correct PIN should verify")
	}
	if VerifyHash(bad, stored) {
		t.Error("Wrong PIN should not verify")
	}
}

func TestImportSessionKey(t *testing.T) {
	if _, err := ImportSessionKey(make([]byte, 16)); !errors.Is(err, ErrInvalidKeyLen) {
		t.Errorf("Expected ErrInvalidKeyLen, got %v", err)
	}

	raw := bytes.Repeat([]byte{7}, KeySize)
	key, err := ImportSessionKey(raw)
	if err != nil {
		t.Fatalf("Failed to import key: %v", err)
	}

	raw[0] = 0
	exported, _ := key.Export()
	if exported[0] != 7 {
		t.Error("Imported key must not alias the caller's slice")
	}
}

func BenchmarkDeriveSessionKey(b *testing.B) {
	d := NewDefaultKeyDeriver()
	salt := fixedSalt()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key, _ := d.DeriveSessionKey("benchmark-pin", salt)
		key.Destroy()
	}
}
