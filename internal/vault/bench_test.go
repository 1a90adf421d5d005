package vault

import (
	"testing"
)

func benchKey(b *testing.B, iterations int) *SessionKey {
	b.Helper()
	salt, err := GenerateSalt()
	if err != nil {
		b.Fatal(err)
	}
	key, err := NewKeyDeriver(iterations).DeriveSessionKey("benchmark-pin", salt)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(key.Destroy)
	return key
}

// BenchmarkDeriveBoth measures PIN stretching at the default iteration count.
func BenchmarkDeriveBoth(b *testing.B) {
	d := NewDefaultKeyDeriver()
	salt, _ := GenerateSalt()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, key, err := d.DeriveBoth("benchmark-pin", salt)
		if err != nil {
			b.Fatal(err)
		}
		key.Destroy()
	}
}

func BenchmarkDeriveBothParallel(b *testing.B) {
	d := NewDefaultKeyDeriver()
	salt, _ := GenerateSalt()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, key, _ := d.DeriveBoth("benchmark-pin", salt)
			key.Destroy()
		}
	})
}

func BenchmarkSaltGeneration(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = GenerateSalt()
	}
}

func BenchmarkZeroize(b *testing.B) {
	data := make([]byte, KeySize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Zeroize(data)
	}
}

func BenchmarkSeal(b *testing.B) {
	key := benchKey(b, testIterations)
	ce := NewCryptoEngine()
	rec := testRecord{ID: "bench", Name: "Krugerrand 1oz", Weight: 33.93}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ce.Seal(key, rec.ID, rec); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkOpen(b *testing.B) {
	key := benchKey(b, testIterations)
	ce := NewCryptoEngine()
	rec := testRecord{ID: "bench", Name: "Krugerrand 1oz", Weight: 33.93}
	env, err := ce.Seal(key, rec.ID, rec)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var out testRecord
		if err := ce.Open(key, env, &out); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkWrapSecret measures the session file wrap at default Argon2id cost.
func BenchmarkWrapSecret(b *testing.B) {
	secret := make([]byte, KeySize)
	params := DefaultArgon2Params()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := WrapSecret(secret, "host-binding", params); err != nil {
			b.Fatal(err)
		}
	}
}
