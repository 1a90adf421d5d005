// Package session persists the unlocked session key between CLI invocations.
// The key is wrapped under a passphrase bound to the host, the user and the
// vault path, and the file expires after a TTL.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/aurasafe/aurasafe/internal/store"
	"github.com/aurasafe/aurasafe/internal/vault"
)

var (
	// ErrNoSession is returned when no session file exists
	ErrNoSession = errors.New("no active session")
	// ErrExpired is returned when the session file is past its TTL
	ErrExpired = errors.New("session expired")
)

type fileData struct {
	VaultPath  string    `json:"vault_path"`
	UnlockTime time.Time `json:"unlock_time"`
	TTLSeconds int64     `json:"ttl_seconds"`
	WrappedKey []byte    `json:"wrapped_key"`
}

// Manager reads and writes the session file of one vault.
type Manager struct {
	vaultPath string
	params    vault.Argon2Params
	now       func() time.Time
}

// NewManager returns a Manager for the vault at vaultPath.
func NewManager(vaultPath string) *Manager {
	return &Manager{
		vaultPath: vaultPath,
		params:    vault.DefaultArgon2Params(),
		now:       time.Now,
	}
}

// Path returns the session file path.
func (m *Manager) Path() string {
	return m.vaultPath + ".session"
}

// Save wraps key and writes it with the given TTL. A non-positive TTL clears
// any existing session instead.
func (m *Manager) Save(key *vault.SessionKey, ttl time.Duration) error {
	if ttl <= 0 {
		return m.Clear()
	}

	raw, err := key.Export()
	if err != nil {
		return err
	}
	defer vault.Zeroize(raw)

	wrapped, err := vault.WrapSecret(raw, m.passphrase(), m.params)
	if err != nil {
		return fmt.Errorf("failed to wrap session key: %w", err)
	}

	data, err := json.Marshal(fileData{
		VaultPath:  m.vaultPath,
		UnlockTime: m.now().UTC(),
		TTLSeconds: int64(ttl / time.Second),
		WrappedKey: wrapped.Bytes(),
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.Path()), 0o700); err != nil {
		return err
	}
	return store.AtomicWriteFile(m.Path(), data, 0o600)
}

// Load returns the stored session key and its remaining lifetime. Expired or
// unreadable session files are removed.
func (m *Manager) Load() (*vault.SessionKey, time.Duration, error) {
	data, err := m.read()
	if err != nil {
		return nil, 0, err
	}

	remaining := m.remaining(data)
	if remaining <= 0 {
		_ = m.Clear()
		return nil, 0, ErrExpired
	}

	wrapped, err := vault.ParseWrappedKey(data.WrappedKey)
	if err != nil {
		_ = m.Clear()
		return nil, 0, fmt.Errorf("invalid session file: %w", err)
	}
	raw, err := vault.UnwrapSecret(wrapped, m.passphrase())
	if err != nil {
		_ = m.Clear()
		return nil, 0, fmt.Errorf("invalid session file: %w", err)
	}
	defer vault.Zeroize(raw)

	key, err := vault.ImportSessionKey(raw)
	if err != nil {
		_ = m.Clear()
		return nil, 0, err
	}
	return key, remaining, nil
}

// Remaining reports how long the current session stays valid, without
// unwrapping the key.
func (m *Manager) Remaining() time.Duration {
	data, err := m.read()
	if err != nil {
		return 0
	}
	if r := m.remaining(data); r > 0 {
		return r
	}
	return 0
}

// Clear removes the session file.
func (m *Manager) Clear() error {
	err := os.Remove(m.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (m *Manager) read() (*fileData, error) {
	content, err := os.ReadFile(m.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	var data fileData
	if err := json.Unmarshal(content, &data); err != nil {
		_ = m.Clear()
		return nil, fmt.Errorf("invalid session file: %w", err)
	}
	if data.VaultPath != m.vaultPath {
		return nil, ErrNoSession
	}
	return &data, nil
}

func (m *Manager) remaining(data *fileData) time.Duration {
	ttl := time.Duration(data.TTLSeconds) * time.Second
	return ttl - m.now().Sub(data.UnlockTime)
}

func (m *Manager) passphrase() string {
	username := "unknown"
	if currentUser, err := user.Current(); err == nil && currentUser != nil {
		username = currentUser.Username
	}

	hostname := "localhost"
	if host, err := os.Hostname(); err == nil {
		hostname = host
	}

	return fmt.Sprintf("aurasafe-session:%s:%s:%s", hostname, username, m.vaultPath)
}
