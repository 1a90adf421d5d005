package service

import (
	"strings"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/store"
)

// ListSafes returns every safe that can be opened with the session key,
// ordered by name. Records that fail to decrypt are skipped so one corrupt
// envelope does not hide the rest of the vault.
func (s *Service) ListSafes() ([]domain.Safe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	return s.listSafes()
}

func (s *Service) listSafes() ([]domain.Safe, error) {
	envs, err := s.store.ListSafes()
	if err != nil {
		return nil, err
	}

	safes := make([]domain.Safe, 0, len(envs))
	for _, env := range envs {
		var safe domain.Safe
		if err := s.cipher.Open(s.key, env, &safe); err != nil {
			s.log.Warn().Str("safe_id", env.ID).Err(err).Msg("skipping unreadable safe")
			continue
		}
		safes = append(safes, safe)
	}
	sortSafes(safes)
	return safes, nil
}

// CreateSafe stores a new safe. When isDefault is set the flag is cleared on
// every other safe in the same transaction.
func (s *Service) CreateSafe(name string, isDefault bool) (*domain.Safe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	return s.createSafe(name, isDefault)
}

func (s *Service) createSafe(name string, isDefault bool) (*domain.Safe, error) {
	safe := &domain.Safe{ID: s.newID(), Name: strings.TrimSpace(name), IsDefault: isDefault}
	if err := safe.Validate(); err != nil {
		return nil, err
	}

	env, err := s.sealSafe(safe)
	if err != nil {
		return nil, err
	}

	var demoted []*domain.SealedEnvelope
	if isDefault {
		demoted, err = s.demoteDefaults(safe.ID)
		if err != nil {
			return nil, err
		}
	}

	err = s.store.Update(func(tx store.Tx) error {
		for _, d := range demoted {
			if err := tx.PutSafe(d); err != nil {
				return err
			}
		}
		return tx.PutSafe(env)
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("safe_id", safe.ID).Msg("safe created")
	return safe, nil
}

// demoteDefaults reseals every default safe other than keep with the flag cleared.
func (s *Service) demoteDefaults(keep string) ([]*domain.SealedEnvelope, error) {
	safes, err := s.listSafes()
	if err != nil {
		return nil, err
	}
	var out []*domain.SealedEnvelope
	for i := range safes {
		if !safes[i].IsDefault || safes[i].ID == keep {
			continue
		}
		safes[i].IsDefault = false
		env, err := s.sealSafe(&safes[i])
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// GetSafe returns a single safe. A decryption failure is returned, not skipped.
func (s *Service) GetSafe(id string) (*domain.Safe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	return s.getSafe(id)
}

func (s *Service) getSafe(id string) (*domain.Safe, error) {
	env, err := s.store.GetSafe(id)
	if err != nil {
		return nil, err
	}
	var safe domain.Safe
	if err := s.cipher.Open(s.key, env, &safe); err != nil {
		return nil, err
	}
	return &safe, nil
}

// RenameSafe changes a safe's name and reseals it under a fresh nonce.
func (s *Service) RenameSafe(id, name string) (*domain.Safe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	safe, err := s.getSafe(id)
	if err != nil {
		return nil, err
	}
	safe.Name = strings.TrimSpace(name)
	if err := safe.Validate(); err != nil {
		return nil, err
	}

	env, err := s.sealSafe(safe)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutSafe(env); err != nil {
		return nil, err
	}

	s.log.Debug().Str("safe_id", id).Msg("safe renamed")
	return safe, nil
}

// SetDefaultSafe flags id as the default safe and clears the flag elsewhere.
func (s *Service) SetDefaultSafe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return err
	}

	safe, err := s.getSafe(id)
	if err != nil {
		return err
	}
	demoted, err := s.demoteDefaults(id)
	if err != nil {
		return err
	}

	var envs []*domain.SealedEnvelope
	if !safe.IsDefault {
		safe.IsDefault = true
		env, err := s.sealSafe(safe)
		if err != nil {
			return err
		}
		envs = append(envs, env)
	}
	envs = append(envs, demoted...)
	if len(envs) == 0 {
		return nil
	}

	err = s.store.Update(func(tx store.Tx) error {
		for _, env := range envs {
			if err := tx.PutSafe(env); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Debug().Str("safe_id", id).Msg("default safe set")
	return nil
}

// DeleteSafe removes a safe and every purchase in it atomically, returning the
// number of purchases removed. If no safes remain a new default is created.
func (s *Service) DeleteSafe(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return 0, err
	}

	if _, err := s.store.GetSafe(id); err != nil {
		return 0, err
	}
	removed, err := s.store.DeleteSafeCascade(id)
	if err != nil {
		return 0, err
	}
	s.log.Debug().Str("safe_id", id).Int("purchases", removed).Msg("safe deleted")

	if _, err := s.bootstrapDefaultSafe(); err != nil {
		return removed, err
	}
	return removed, nil
}

// EnsureDefaultSafe returns the default safe, creating one named "Default"
// when the vault has no safes. If safes exist but none is flagged, the first
// by name is returned. ErrNoReadableSafe is returned when safes exist but
// none of them decrypts.
func (s *Service) EnsureDefaultSafe() (*domain.Safe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	return s.ensureDefaultSafe()
}

func (s *Service) ensureDefaultSafe() (*domain.Safe, error) {
	created, err := s.bootstrapDefaultSafe()
	if err != nil || created != nil {
		return created, err
	}

	safes, err := s.listSafes()
	if err != nil {
		return nil, err
	}
	if len(safes) == 0 {
		return nil, ErrNoReadableSafe
	}
	for i := range safes {
		if safes[i].IsDefault {
			return &safes[i], nil
		}
	}
	return &safes[0], nil
}

// bootstrapDefaultSafe creates the "Default" safe when the store holds no
// safe envelopes at all. Unreadable envelopes still count as safes, so a
// vault whose safes fail to decrypt is not given a fresh one.
func (s *Service) bootstrapDefaultSafe() (*domain.Safe, error) {
	envs, err := s.store.ListSafes()
	if err != nil {
		return nil, err
	}
	if len(envs) > 0 {
		return nil, nil
	}
	return s.createSafe(domain.DefaultSafeName, true)
}
