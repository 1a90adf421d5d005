package vault

import (
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/aurasafe/aurasafe/internal/domain"
)

func FuzzSealOpen(f *testing.F) {
	f.Add("r1", "Krugerrand", 33.93)
	f.Add("x", "", 0.0)
	f.Add("unicode-id-💰", "Maple Leaf ÅÄÖ", 1e9)

	key, err := ImportSessionKey(make([]byte, KeySize))
	if err != nil {
		f.Fatal(err)
	}
	ce := NewCryptoEngine()

	f.Fuzz(func(t *testing.T, id, name string, weight float64) {
		if id == "" || !utf8.ValidString(id) || !utf8.ValidString(name) {
			t.Skip()
		}
		rec := testRecord{ID: id, Name: name, Weight: weight}
		env, err := ce.Seal(key, id, rec)
		if err != nil {
			// NaN and Inf are not valid JSON numbers
			return
		}

		var out testRecord
		if err := ce.Open(key, env, &out); err != nil {
			t.Fatalf("Open failed for sealed record: %v", err)
		}
		if out != rec {
			t.Fatalf("round trip mismatch: got %+v, want %+v", out, rec)
		}
	})
}

// FuzzOpenMalformed feeds arbitrary envelopes to Open, which must fail with
// ErrDecryptionFailed and never panic.
func FuzzOpenMalformed(f *testing.F) {
	f.Add("r1", "AAAAAAAAAAAAAAAA", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	f.Add("", "", "")
	f.Add("r1", "not base64!", "@@@")

	key, err := ImportSessionKey(make([]byte, KeySize))
	if err != nil {
		f.Fatal(err)
	}
	ce := NewCryptoEngine()

	f.Fuzz(func(t *testing.T, id, nonce, ciphertext string) {
		env := &domain.SealedEnvelope{ID: id, Nonce: nonce, Ciphertext: ciphertext}
		var out map[string]any
		if err := ce.Open(key, env, &out); !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("Open(%q, %q, %q) = %v, want ErrDecryptionFailed", id, nonce, ciphertext, err)
		}
	})
}

func FuzzParseWrappedKey(f *testing.F) {
	w, err := WrapSecret(make([]byte, KeySize), "seed", Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1})
	if err != nil {
		f.Fatal(err)
	}
	f.Add(w.Bytes())
	f.Add([]byte{})
	f.Add([]byte{0xff, 0x00, 0x01})

	f.Fuzz(func(t *testing.T, data []byte) {
		parsed, err := ParseWrappedKey(data)
		if err != nil {
			return
		}
		if _, err := ParseWrappedKey(parsed.Bytes()); err != nil {
			t.Fatalf("re-parsing serialized key failed: %v", err)
		}
	})
}
