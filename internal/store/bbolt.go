package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/logger"
)

// Bucket names
var (
	MetaBucket            = []byte("meta")
	SafesBucket           = []byte("safes")
	PurchasesBucket       = []byte("purchases")
	PurchasesBySafeBucket = []byte("purchases_by_safe")
	PriceCacheBucket      = []byte("price_cache")

	allBuckets = [][]byte{MetaBucket, SafesBucket, PurchasesBucket, PurchasesBySafeBucket, PriceCacheBucket}
)

// Options configures OpenBoltStore.
type Options struct {
	// Timeout bounds how long Open waits for another process to release the file.
	Timeout time.Duration
	Logger  *logger.Logger
}

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db   *bbolt.DB
	path string
	log  *logger.Logger
}

// OpenBoltStore opens or creates the vault database at path, creating the
// parent directory and buckets as needed and enforcing 0600 permissions.
func OpenBoltStore(path string, opts Options) (*BoltStore, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: opts.Timeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, ErrVaultLocked
		}
		return nil, fmt.Errorf("failed to open vault database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := EnsureFilePermissions(path); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to secure vault file: %w", err)
	}

	return &BoltStore{db: db, path: path, log: opts.Logger.With("store")}, nil
}

// Path returns the database file path.
func (bs *BoltStore) Path() string {
	return bs.path
}

// Close closes the database.
func (bs *BoltStore) Close() error {
	if bs.db == nil {
		return nil
	}
	err := bs.db.Close()
	bs.db = nil
	return err
}

func (bs *BoltStore) view(fn func(tx *bbolt.Tx) error) error {
	if bs.db == nil {
		return ErrStoreClosed
	}
	return bs.db.View(fn)
}

func (bs *BoltStore) update(fn func(tx *bbolt.Tx) error) error {
	if bs.db == nil {
		return ErrStoreClosed
	}
	if err := bs.db.Update(fn); err != nil {
		return wrapTxErr(err)
	}
	return nil
}

// wrapTxErr passes through errors that describe the data and tags everything
// else as a storage failure.
func wrapTxErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrVaultCorrupted),
		errors.Is(err, ErrStoreClosed),
		errors.Is(err, ErrTransactionFailed):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
}

// GetMeta returns a copy of the meta value stored under key.
func (bs *BoltStore) GetMeta(key string) ([]byte, error) {
	var out []byte
	err := bs.view(func(tx *bbolt.Tx) error {
		v := tx.Bucket(MetaBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// PutMeta writes all values in one transaction.
func (bs *BoltStore) PutMeta(values map[string][]byte) error {
	return bs.update(func(tx *bbolt.Tx) error {
		return (&boltTx{tx: tx}).PutMeta(values)
	})
}

// DeleteMeta removes the given meta keys; missing keys are ignored.
func (bs *BoltStore) DeleteMeta(keys ...string) error {
	return bs.update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MetaBucket)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeEnvelope(v []byte) (*domain.SealedEnvelope, error) {
	var env domain.SealedEnvelope
	if err := json.Unmarshal(v, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}
	return &env, nil
}

func getEnvelope(tx *bbolt.Tx, bucket []byte, id string) (*domain.SealedEnvelope, error) {
	v := tx.Bucket(bucket).Get([]byte(id))
	if v == nil {
		return nil, ErrNotFound
	}
	return decodeEnvelope(v)
}

func listEnvelopes(b *bbolt.Bucket) ([]*domain.SealedEnvelope, error) {
	var out []*domain.SealedEnvelope
	err := b.ForEach(func(k, v []byte) error {
		env, err := decodeEnvelope(v)
		if err != nil {
			return err
		}
		out = append(out, env)
		return nil
	})
	return out, err
}

// PutSafe upserts a safe envelope.
func (bs *BoltStore) PutSafe(env *domain.SealedEnvelope) error {
	return bs.Update(func(tx Tx) error { return tx.PutSafe(env) })
}

// GetSafe returns the safe envelope with the given id.
func (bs *BoltStore) GetSafe(id string) (*domain.SealedEnvelope, error) {
	var env *domain.SealedEnvelope
	err := bs.view(func(tx *bbolt.Tx) error {
		var err error
		env, err = getEnvelope(tx, SafesBucket, id)
		return err
	})
	return env, err
}

// ListSafes returns every safe envelope in id order.
func (bs *BoltStore) ListSafes() ([]*domain.SealedEnvelope, error) {
	var envs []*domain.SealedEnvelope
	err := bs.view(func(tx *bbolt.Tx) error {
		var err error
		envs, err = listEnvelopes(tx.Bucket(SafesBucket))
		return err
	})
	return envs, err
}

// DeleteSafe removes only the safe envelope. Use DeleteSafeCascade to remove
// its purchases as well.
func (bs *BoltStore) DeleteSafe(id string) error {
	return bs.Update(func(tx Tx) error { return tx.DeleteSafe(id) })
}

// PutPurchase upserts a purchase envelope and keeps the safe index current.
func (bs *BoltStore) PutPurchase(env *domain.SealedEnvelope) error {
	return bs.Update(func(tx Tx) error { return tx.PutPurchase(env) })
}

// GetPurchase returns the purchase envelope with the given id.
func (bs *BoltStore) GetPurchase(id string) (*domain.SealedEnvelope, error) {
	var env *domain.SealedEnvelope
	err := bs.view(func(tx *bbolt.Tx) error {
		var err error
		env, err = getEnvelope(tx, PurchasesBucket, id)
		return err
	})
	return env, err
}

// ListPurchases returns every purchase envelope in id order.
func (bs *BoltStore) ListPurchases() ([]*domain.SealedEnvelope, error) {
	var envs []*domain.SealedEnvelope
	err := bs.view(func(tx *bbolt.Tx) error {
		var err error
		envs, err = listEnvelopes(tx.Bucket(PurchasesBucket))
		return err
	})
	return envs, err
}

// ListPurchasesBySafe returns the purchase envelopes indexed under safeID.
func (bs *BoltStore) ListPurchasesBySafe(safeID string) ([]*domain.SealedEnvelope, error) {
	var envs []*domain.SealedEnvelope
	err := bs.view(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(PurchasesBySafeBucket).Bucket([]byte(safeID))
		if idx == nil {
			return nil
		}
		purchases := tx.Bucket(PurchasesBucket)
		return idx.ForEach(func(k, _ []byte) error {
			v := purchases.Get(k)
			if v == nil {
				// Stale index entry; the purchase row is authoritative.
				return nil
			}
			env, err := decodeEnvelope(v)
			if err != nil {
				return err
			}
			envs = append(envs, env)
			return nil
		})
	})
	return envs, err
}

// DeletePurchase removes a purchase envelope and its index entry.
func (bs *BoltStore) DeletePurchase(id string) error {
	return bs.Update(func(tx Tx) error { return tx.DeletePurchase(id) })
}

// Update runs fn in a single read-write transaction.
func (bs *BoltStore) Update(fn func(tx Tx) error) error {
	return bs.update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// DeleteSafeCascade removes a safe and every purchase filed under it in one
// transaction, returning the number of purchases removed.
func (bs *BoltStore) DeleteSafeCascade(id string) (int, error) {
	var removed int
	err := bs.Update(func(tx Tx) error {
		if err := tx.DeleteSafe(id); err != nil {
			return err
		}
		n, err := tx.DeletePurchasesBySafe(id)
		removed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	bs.log.Debug().Str("safe_id", id).Int("purchases", removed).Msg("safe deleted")
	return removed, nil
}

// ReplaceAll clears both envelope collections and inserts the given
// envelopes in one transaction.
func (bs *BoltStore) ReplaceAll(safes, purchases []*domain.SealedEnvelope) error {
	err := bs.Update(func(tx Tx) error {
		if err := tx.ClearEnvelopes(); err != nil {
			return err
		}
		for _, env := range safes {
			if err := tx.PutSafe(env); err != nil {
				return err
			}
		}
		for _, env := range purchases {
			if err := tx.PutPurchase(env); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	bs.log.Debug().Int("safes", len(safes)).Int("purchases", len(purchases)).Msg("vault contents replaced")
	return nil
}

// GetPrice returns a cached price row.
func (bs *BoltStore) GetPrice(id string) (*domain.PriceCacheEntry, error) {
	var entry *domain.PriceCacheEntry
	err := bs.view(func(tx *bbolt.Tx) error {
		v := tx.Bucket(PriceCacheBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		entry = &domain.PriceCacheEntry{}
		if err := json.Unmarshal(v, entry); err != nil {
			return fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
		}
		return nil
	})
	return entry, err
}

// PutPrice upserts a cached price row.
func (bs *BoltStore) PutPrice(entry *domain.PriceCacheEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("price cache entry requires an id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal price entry: %w", err)
	}
	return bs.update(func(tx *bbolt.Tx) error {
		return tx.Bucket(PriceCacheBucket).Put([]byte(entry.ID), data)
	})
}

// Reset drops and recreates every bucket, including the salt and verifier.
func (bs *BoltStore) Reset() error {
	err := bs.update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	bs.log.Info().Msg("vault reset")
	return nil
}

// boltTx adapts a bbolt write transaction to Tx.
type boltTx struct {
	tx *bbolt.Tx
}

func validateEnvelope(env *domain.SealedEnvelope) error {
	if env == nil || env.ID == "" {
		return fmt.Errorf("envelope requires an id")
	}
	if env.Nonce == "" || env.Ciphertext == "" {
		return fmt.Errorf("envelope %s is missing nonce or ciphertext", env.ID)
	}
	return nil
}

func (t *boltTx) PutMeta(values map[string][]byte) error {
	b := t.tx.Bucket(MetaBucket)
	for k, v := range values {
		if err := b.Put([]byte(k), v); err != nil {
			return fmt.Errorf("failed to store meta %q: %w", k, err)
		}
	}
	return nil
}

func (t *boltTx) PutSafe(env *domain.SealedEnvelope) error {
	if err := validateEnvelope(env); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return t.tx.Bucket(SafesBucket).Put([]byte(env.ID), data)
}

func (t *boltTx) DeleteSafe(id string) error {
	return t.tx.Bucket(SafesBucket).Delete([]byte(id))
}

func (t *boltTx) PutPurchase(env *domain.SealedEnvelope) error {
	if err := validateEnvelope(env); err != nil {
		return err
	}
	if env.SafeID == "" {
		return fmt.Errorf("purchase envelope %s requires a safe id", env.ID)
	}

	purchases := t.tx.Bucket(PurchasesBucket)
	index := t.tx.Bucket(PurchasesBySafeBucket)

	if prev := purchases.Get([]byte(env.ID)); prev != nil {
		old, err := decodeEnvelope(prev)
		if err != nil {
			return err
		}
		if old.SafeID != env.SafeID {
			if err := t.unindex(old.SafeID, env.ID); err != nil {
				return err
			}
		}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := purchases.Put([]byte(env.ID), data); err != nil {
		return err
	}

	idx, err := index.CreateBucketIfNotExists([]byte(env.SafeID))
	if err != nil {
		return err
	}
	return idx.Put([]byte(env.ID), nil)
}

func (t *boltTx) unindex(safeID, purchaseID string) error {
	index := t.tx.Bucket(PurchasesBySafeBucket)
	idx := index.Bucket([]byte(safeID))
	if idx == nil {
		return nil
	}
	if err := idx.Delete([]byte(purchaseID)); err != nil {
		return err
	}
	if k, _ := idx.Cursor().First(); k == nil {
		return index.DeleteBucket([]byte(safeID))
	}
	return nil
}

func (t *boltTx) DeletePurchase(id string) error {
	purchases := t.tx.Bucket(PurchasesBucket)
	prev := purchases.Get([]byte(id))
	if prev == nil {
		return nil
	}
	old, err := decodeEnvelope(prev)
	if err != nil {
		return err
	}
	if err := purchases.Delete([]byte(id)); err != nil {
		return err
	}
	return t.unindex(old.SafeID, id)
}

func (t *boltTx) DeletePurchasesBySafe(safeID string) (int, error) {
	index := t.tx.Bucket(PurchasesBySafeBucket)
	idx := index.Bucket([]byte(safeID))
	if idx == nil {
		return 0, nil
	}

	var ids [][]byte
	if err := idx.ForEach(func(k, _ []byte) error {
		ids = append(ids, append([]byte(nil), k...))
		return nil
	}); err != nil {
		return 0, err
	}

	purchases := t.tx.Bucket(PurchasesBucket)
	for _, id := range ids {
		if err := purchases.Delete(id); err != nil {
			return 0, err
		}
	}
	if err := index.DeleteBucket([]byte(safeID)); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (t *boltTx) ClearEnvelopes() error {
	for _, name := range [][]byte{SafesBucket, PurchasesBucket, PurchasesBySafeBucket} {
		if err := t.tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		if _, err := t.tx.CreateBucket(name); err != nil {
			return err
		}
	}
	return nil
}
