// Package service implements the vault: the locked/unlocked session, and
// record CRUD that seals every safe and purchase before it reaches the store.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aurasafe/aurasafe/internal/codec"
	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/logger"
	"github.com/aurasafe/aurasafe/internal/pin"
	"github.com/aurasafe/aurasafe/internal/store"
	"github.com/aurasafe/aurasafe/internal/vault"
)

var (
	// ErrLocked is returned when a record operation is attempted without an unlocked session
	ErrLocked = errors.New("vault is locked")
	// ErrAuthenticationFailed is returned when a PIN or restored key does not match the vault
	ErrAuthenticationFailed = errors.New("incorrect PIN")
	// ErrNotSetUp is returned when an existing vault is required but no PIN has been set
	ErrNotSetUp = errors.New("vault has not been set up")
	// ErrNoReadableSafe is returned when safes exist but none can be decrypted
	ErrNoReadableSafe = fmt.Errorf("%w: no readable safe", vault.ErrDecryptionFailed)
)

// State is the session state of a Service.
type State int

const (
	StateLocked State = iota
	StateSettingUp
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateSettingUp:
		return "setting up"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

const keyCheckID = "keycheck"

type keyCheck struct {
	Vault     string `json:"vault"`
	CreatedAt string `json:"createdAt"`
}

// Service is the vault. It owns the session key while unlocked and is the
// only place plaintext records are turned into envelopes and back.
type Service struct {
	mu      sync.Mutex
	store   store.Store
	deriver *vault.KeyDeriver
	cipher  *vault.CryptoEngine
	log     *logger.Logger
	now     func() time.Time
	newID   func() string

	state State
	key   *vault.SessionKey
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger used for debug traces of vault operations.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l.With("vault") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// New returns a locked Service over st. The deriver's iteration count is used
// when setting up a new vault; an existing vault is unlocked with the count it
// was created with.
func New(st store.Store, deriver *vault.KeyDeriver, cipher *vault.CryptoEngine, opts ...Option) *Service {
	s := &Service{
		store:   st,
		deriver: deriver,
		cipher:  cipher,
		log:     logger.Nop(),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		state:   StateLocked,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current session state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsSetUp reports whether a PIN has been set for the vault.
func (s *Service) IsSetUp() (bool, error) {
	_, err := s.store.GetMeta(store.MetaMasterHash)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unlock opens the vault with pin. On a vault without a PIN it sets one up,
// persisting a new salt and verification hash and creating the default safe.
// On a wrong PIN the vault stays locked and ErrAuthenticationFailed is returned.
func (s *Service) Unlock(pinCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.GetMeta(store.MetaMasterHash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s.setup(pinCode)
	case err != nil:
		return err
	}

	salt, err := s.loadSalt()
	if err != nil {
		return err
	}
	deriver, err := s.storedDeriver()
	if err != nil {
		return err
	}

	hash, key, err := deriver.DeriveBoth(pinCode, salt)
	if err != nil {
		if errors.Is(err, vault.ErrEmptyPIN) {
			return ErrAuthenticationFailed
		}
		return err
	}
	if !vault.VerifyHash(hash, string(stored)) {
		key.Destroy()
		s.log.Debug().Msg("unlock rejected")
		return ErrAuthenticationFailed
	}

	s.setKey(key)
	s.log.Debug().Msg("vault unlocked")

	if _, err := s.bootstrapDefaultSafe(); err != nil {
		return err
	}
	return nil
}

func (s *Service) setup(pinCode string) error {
	if err := pin.Validate(pinCode); err != nil {
		return err
	}

	s.state = StateSettingUp
	fail := func(err error) error {
		s.state = StateLocked
		return err
	}

	salt, err := vault.GenerateSalt()
	if err != nil {
		return fail(err)
	}
	hash, key, err := s.deriver.DeriveBoth(pinCode, salt)
	if err != nil {
		return fail(err)
	}

	createdAt := s.now().UTC().Format(time.RFC3339)
	check, err := s.cipher.Seal(key, keyCheckID, keyCheck{Vault: "aurasafe", CreatedAt: createdAt})
	if err != nil {
		key.Destroy()
		return fail(err)
	}
	checkJSON, err := json.Marshal(check)
	if err != nil {
		key.Destroy()
		return fail(err)
	}

	err = s.store.PutMeta(map[string][]byte{
		store.MetaSalt:          []byte(codec.EncodeBase64(salt)),
		store.MetaMasterHash:    []byte(hash),
		store.MetaKDFIterations: []byte(strconv.Itoa(s.deriver.Iterations())),
		store.MetaCreatedAt:     []byte(createdAt),
		store.MetaKeyCheck:      checkJSON,
	})
	if err != nil {
		key.Destroy()
		return fail(err)
	}

	s.setKey(key)
	s.log.Debug().Int("iterations", s.deriver.Iterations()).Msg("vault set up")

	if _, err := s.bootstrapDefaultSafe(); err != nil {
		return err
	}
	return nil
}

// UnlockWithKey resumes a session from previously exported key material. The
// key must open the check record written at setup. The Service takes
// ownership of key.
func (s *Service) UnlockWithKey(key *vault.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.store.GetMeta(store.MetaKeyCheck)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotSetUp
	}
	if err != nil {
		return err
	}

	var env domain.SealedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: key check record", store.ErrVaultCorrupted)
	}
	var check keyCheck
	if err := s.cipher.Open(key, &env, &check); err != nil {
		return ErrAuthenticationFailed
	}

	s.setKey(key)
	s.log.Debug().Msg("session restored")
	return nil
}

// SessionKey returns the live session key, for callers that persist it for
// later UnlockWithKey. The key is invalidated by Lock.
func (s *Service) SessionKey() (*vault.SessionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	return s.key, nil
}

// Lock discards the session key.
func (s *Service) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lock()
}

func (s *Service) lock() {
	if s.key != nil {
		s.key.Destroy()
		s.key = nil
	}
	s.state = StateLocked
}

// Reset wipes every record, the salt and the verification hash, and locks.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lock()
	if err := s.store.Reset(); err != nil {
		return err
	}
	s.log.Debug().Msg("vault reset")
	return nil
}

// KDFIterations returns the iteration count recorded for the vault.
func (s *Service) KDFIterations() (int, error) {
	d, err := s.storedDeriver()
	if err != nil {
		return 0, err
	}
	return d.Iterations(), nil
}

// Salt returns the vault salt, base64 encoded.
func (s *Service) Salt() (string, error) {
	raw, err := s.store.GetMeta(store.MetaSalt)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotSetUp
	}
	return string(raw), err
}

func (s *Service) setKey(key *vault.SessionKey) {
	if s.key != nil && s.key != key {
		s.key.Destroy()
	}
	s.key = key
	s.state = StateUnlocked
}

func (s *Service) requireUnlocked() error {
	if s.state != StateUnlocked || s.key == nil || s.key.Destroyed() {
		return ErrLocked
	}
	return nil
}

func (s *Service) loadSalt() ([]byte, error) {
	raw, err := s.store.GetMeta(store.MetaSalt)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: salt missing", store.ErrVaultCorrupted)
		}
		return nil, err
	}
	salt, err := codec.DecodeBase64(string(raw))
	if err != nil || len(salt) != vault.SaltSize {
		return nil, fmt.Errorf("%w: bad salt", store.ErrVaultCorrupted)
	}
	return salt, nil
}

func (s *Service) storedDeriver() (*vault.KeyDeriver, error) {
	raw, err := s.store.GetMeta(store.MetaKDFIterations)
	if errors.Is(err, store.ErrNotFound) {
		return s.deriver, nil
	}
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: bad kdf iterations", store.ErrVaultCorrupted)
	}
	if n == s.deriver.Iterations() {
		return s.deriver, nil
	}
	return vault.NewKeyDeriver(n), nil
}

func (s *Service) sealSafe(safe *domain.Safe) (*domain.SealedEnvelope, error) {
	return s.cipher.Seal(s.key, safe.ID, safe)
}

func (s *Service) sealPurchase(p *domain.Purchase) (*domain.SealedEnvelope, error) {
	env, err := s.cipher.Seal(s.key, p.ID, p)
	if err != nil {
		return nil, err
	}
	env.SafeID = p.SafeID
	return env, nil
}

func sortSafes(safes []domain.Safe) {
	sort.SliceStable(safes, func(i, j int) bool {
		a, b := strings.ToLower(safes[i].Name), strings.ToLower(safes[j].Name)
		if a != b {
			return a < b
		}
		return safes[i].ID < safes[j].ID
	})
}

// sortByDate orders purchases oldest first. ISO dates compare correctly as strings.
func sortByDate(purchases []domain.Purchase) {
	sort.SliceStable(purchases, func(i, j int) bool {
		if purchases[i].Date != purchases[j].Date {
			return purchases[i].Date < purchases[j].Date
		}
		return purchases[i].ID < purchases[j].ID
	})
}
