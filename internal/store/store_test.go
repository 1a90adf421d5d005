package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aurasafe/aurasafe/internal/domain"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.vault")
	s, err := OpenBoltStore(path, Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func env(id, safeID string) *domain.SealedEnvelope {
	return &domain.SealedEnvelope{ID: id, SafeID: safeID, Nonce: "bm9uY2U=", Ciphertext: "Y3Q="}
}

func ids(envs []*domain.SealedEnvelope) map[string]bool {
	out := make(map[string]bool, len(envs))
	for _, e := range envs {
		out[e.ID] = true
	}
	return out
}

func TestOpenBoltStore_Permissions(t *testing.T) {
	s := openTestStore(t)

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("Vault file not created: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Incorrect file permissions: got %o, want 0600", info.Mode().Perm())
	}
}

func TestOpenBoltStore_LockedByOtherHandle(t *testing.T) {
	s := openTestStore(t)

	_, err := OpenBoltStore(s.Path(), Options{Timeout: 50 * time.Millisecond})
	if !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("Expected ErrVaultLocked, got %v", err)
	}
}

func TestMeta(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetMeta(MetaSalt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing meta, got %v", err)
	}

	err := s.PutMeta(map[string][]byte{
		MetaSalt:       []byte("salt-b64"),
		MetaMasterHash: []byte("hash-b64"),
	})
	if err != nil {
		t.Fatalf("PutMeta failed: %v", err)
	}

	v, err := s.GetMeta(MetaMasterHash)
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if string(v) != "hash-b64" {
		t.Errorf("Got %q, want hash-b64", v)
	}

	if err := s.DeleteMeta(MetaSalt, "missing"); err != nil {
		t.Fatalf("DeleteMeta failed: %v", err)
	}
	if _, err := s.GetMeta(MetaSalt); !errors.Is(err, ErrNotFound) {
		t.Errorf("Salt should be gone, got %v", err)
	}
}

func TestSafeCRUD(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutSafe(env("s1", "")); err != nil {
		t.Fatalf("PutSafe failed: %v", err)
	}
	got, err := s.GetSafe("s1")
	if err != nil {
		t.Fatalf("GetSafe failed: %v", err)
	}
	if got.Ciphertext != "Y3Q=" {
		t.Errorf("Unexpected envelope: %+v", got)
	}

	if _, err := s.GetSafe("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := s.DeleteSafe("s1"); err != nil {
		t.Fatalf("DeleteSafe failed: %v", err)
	}
	list, err := s.ListSafes()
	if err != nil {
		t.Fatalf("ListSafes failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected no safes, got %d", len(list))
	}
}

func TestPurchaseIndex(t *testing.T) {
	s := openTestStore(t)

	for _, e := range []*domain.SealedEnvelope{env("p1", "a"), env("p2", "a"), env("p3", "b")} {
		if err := s.PutPurchase(e); err != nil {
			t.Fatalf("PutPurchase failed: %v", err)
		}
	}

	inA, err := s.ListPurchasesBySafe("a")
	if err != nil {
		t.Fatalf("ListPurchasesBySafe failed: %v", err)
	}
	if got := ids(inA); len(got) != 2 || !got["p1"] || !got["p2"] {
		t.Errorf("Safe a: got %v", got)
	}

	// Move p2 to b.
	if err := s.PutPurchase(env("p2", "b")); err != nil {
		t.Fatalf("PutPurchase move failed: %v", err)
	}
	inA, _ = s.ListPurchasesBySafe("a")
	inB, _ := s.ListPurchasesBySafe("b")
	if got := ids(inA); len(got) != 1 || !got["p1"] {
		t.Errorf("After move, safe a: got %v", got)
	}
	if got := ids(inB); len(got) != 2 || !got["p2"] || !got["p3"] {
		t.Errorf("After move, safe b: got %v", got)
	}

	if err := s.DeletePurchase("p1"); err != nil {
		t.Fatalf("DeletePurchase failed: %v", err)
	}
	inA, _ = s.ListPurchasesBySafe("a")
	if len(inA) != 0 {
		t.Errorf("Safe a should be empty, got %d", len(inA))
	}

	all, _ := s.ListPurchases()
	if len(all) != 2 {
		t.Errorf("Expected 2 purchases, got %d", len(all))
	}

	if none, err := s.ListPurchasesBySafe("unknown"); err != nil || len(none) != 0 {
		t.Errorf("Unknown safe: got %v, %v", none, err)
	}
}

func TestPutPurchase_RequiresSafeID(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutPurchase(env("p1", "")); err == nil {
		t.Fatal("Expected error for purchase without safe id")
	}
}

func TestDeleteSafeCascade(t *testing.T) {
	s := openTestStore(t)

	_ = s.PutSafe(env("a", ""))
	_ = s.PutSafe(env("b", ""))
	_ = s.PutPurchase(env("p1", "a"))
	_ = s.PutPurchase(env("p2", "a"))
	_ = s.PutPurchase(env("p3", "b"))

	n, err := s.DeleteSafeCascade("a")
	if err != nil {
		t.Fatalf("DeleteSafeCascade failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Removed %d purchases, want 2", n)
	}

	all, _ := s.ListPurchases()
	if got := ids(all); len(got) != 1 || !got["p3"] {
		t.Errorf("Remaining purchases: %v", got)
	}
	if _, err := s.GetSafe("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Safe a should be gone, got %v", err)
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	_ = s.PutSafe(env("keep", ""))

	boom := errors.New("boom")
	err := s.Update(func(tx Tx) error {
		if err := tx.PutSafe(env("new", "")); err != nil {
			return err
		}
		if err := tx.DeleteSafe("keep"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("Expected ErrTransactionFailed, got %v", err)
	}

	list, _ := s.ListSafes()
	if got := ids(list); len(got) != 1 || !got["keep"] {
		t.Errorf("Rollback failed, safes: %v", got)
	}
}

func TestReplaceAll(t *testing.T) {
	s := openTestStore(t)
	_ = s.PutSafe(env("old", ""))
	_ = s.PutPurchase(env("oldp", "old"))
	_ = s.PutMeta(map[string][]byte{MetaSalt: []byte("x")})

	err := s.ReplaceAll(
		[]*domain.SealedEnvelope{env("s1", "")},
		[]*domain.SealedEnvelope{env("p1", "s1")},
	)
	if err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	safes, _ := s.ListSafes()
	if got := ids(safes); len(got) != 1 || !got["s1"] {
		t.Errorf("Safes after replace: %v", got)
	}
	inOld, _ := s.ListPurchasesBySafe("old")
	if len(inOld) != 0 {
		t.Errorf("Old index should be cleared, got %d", len(inOld))
	}
	if _, err := s.GetMeta(MetaSalt); err != nil {
		t.Errorf("Meta must survive ReplaceAll: %v", err)
	}

	// A bad envelope aborts the whole replacement.
	err = s.ReplaceAll([]*domain.SealedEnvelope{env("s2", "")}, []*domain.SealedEnvelope{{ID: "bad"}})
	if err == nil {
		t.Fatal("Expected error for invalid envelope")
	}
	safes, _ = s.ListSafes()
	if got := ids(safes); len(got) != 1 || !got["s1"] {
		t.Errorf("Failed replace must not change data, safes: %v", got)
	}
}

func TestCorruptRowReported(t *testing.T) {
	s := openTestStore(t)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(SafesBucket).Put([]byte("x"), []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("raw put failed: %v", err)
	}
	if _, err := s.GetSafe("x"); !errors.Is(err, ErrVaultCorrupted) {
		t.Errorf("Expected ErrVaultCorrupted, got %v", err)
	}
}

func TestPriceCache(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetPrice("current_PAXG_USD"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	entry := &domain.PriceCacheEntry{ID: "current_PAXG_USD", Price: 2300.5, Timestamp: 1700000000000, Source: "coinbase"}
	if err := s.PutPrice(entry); err != nil {
		t.Fatalf("PutPrice failed: %v", err)
	}
	got, err := s.GetPrice("current_PAXG_USD")
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if *got != *entry {
		t.Errorf("Got %+v, want %+v", got, entry)
	}
}

func TestReset(t *testing.T) {
	s := openTestStore(t)
	_ = s.PutMeta(map[string][]byte{MetaSalt: []byte("x")})
	_ = s.PutSafe(env("s1", ""))
	_ = s.PutPurchase(env("p1", "s1"))
	_ = s.PutPrice(&domain.PriceCacheEntry{ID: "k", Price: 1})

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.GetMeta(MetaSalt); !errors.Is(err, ErrNotFound) {
		t.Errorf("Meta should be gone")
	}
	safes, _ := s.ListSafes()
	purchases, _ := s.ListPurchases()
	if len(safes) != 0 || len(purchases) != 0 {
		t.Errorf("Collections should be empty")
	}
	if _, err := s.GetPrice("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Price cache should be gone")
	}
}

func TestClosedStore(t *testing.T) {
	s := openTestStore(t)
	_ = s.Close()
	if _, err := s.ListSafes(); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed, got %v", err)
	}
	if err := s.PutSafe(env("a", "")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed, got %v", err)
	}
}

func TestAtomicWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "export.json")
	if err := AtomicWriteFile(path, []byte("one"), 0o600); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("AtomicWriteFile overwrite failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "two" {
		t.Errorf("Got %q, want two", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Temp files left behind: %d entries", len(entries))
	}
}
