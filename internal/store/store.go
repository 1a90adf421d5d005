// Package store persists sealed envelopes and price cache rows. It never sees
// plaintext records and has no knowledge of encryption.
package store

import (
	"errors"

	"github.com/aurasafe/aurasafe/internal/domain"
)

// Error variables for vault store operations
var (
	// ErrNotFound is returned when the requested record or meta key does not exist
	ErrNotFound = errors.New("not found")
	// ErrVaultLocked is returned when another process holds the database
	ErrVaultLocked = errors.New("vault is locked by another process")
	// ErrStoreClosed is returned when the store has already been closed
	ErrStoreClosed = errors.New("store is closed")
	// ErrVaultCorrupted is returned when stored data cannot be decoded
	ErrVaultCorrupted = errors.New("vault data is corrupted")
	// ErrTransactionFailed is returned when the storage engine aborts a write
	ErrTransactionFailed = errors.New("transaction failed")
)

// Meta keys kept unencrypted alongside the collections.
const (
	MetaSalt          = "salt"
	MetaMasterHash    = "masterHash"
	MetaKDFIterations = "kdfIterations"
	MetaCreatedAt     = "createdAt"
	MetaKeyCheck      = "keyCheck"
)

// Tx is a write scope over both envelope collections. Writes made through a
// Tx become visible together when the enclosing Update returns nil, or not at
// all.
type Tx interface {
	PutMeta(values map[string][]byte) error
	PutSafe(env *domain.SealedEnvelope) error
	DeleteSafe(id string) error
	PutPurchase(env *domain.SealedEnvelope) error
	DeletePurchase(id string) error
	DeletePurchasesBySafe(safeID string) (int, error)
	ClearEnvelopes() error
}

// Store is the encrypted vault's persistence layer.
type Store interface {
	// Unencrypted key-value entries (salt, verifier, KDF cost)
	GetMeta(key string) ([]byte, error)
	PutMeta(values map[string][]byte) error
	DeleteMeta(keys ...string) error

	// Safe envelopes
	PutSafe(env *domain.SealedEnvelope) error
	GetSafe(id string) (*domain.SealedEnvelope, error)
	ListSafes() ([]*domain.SealedEnvelope, error)
	DeleteSafe(id string) error

	// Purchase envelopes, indexed by their plaintext safe id
	PutPurchase(env *domain.SealedEnvelope) error
	GetPurchase(id string) (*domain.SealedEnvelope, error)
	ListPurchases() ([]*domain.SealedEnvelope, error)
	ListPurchasesBySafe(safeID string) ([]*domain.SealedEnvelope, error)
	DeletePurchase(id string) error

	// Atomic multi-collection writes
	Update(fn func(tx Tx) error) error
	DeleteSafeCascade(id string) (int, error)
	ReplaceAll(safes, purchases []*domain.SealedEnvelope) error

	// Plaintext price cache
	GetPrice(id string) (*domain.PriceCacheEntry, error)
	PutPrice(entry *domain.PriceCacheEntry) error

	// Reset removes every collection and meta entry.
	Reset() error
	Path() string
	Close() error
}
