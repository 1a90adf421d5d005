package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/pin"
	"github.com/aurasafe/aurasafe/internal/store"
	"github.com/aurasafe/aurasafe/internal/vault"
)

// ChangePIN re-keys an unlocked vault. Every record is opened under the
// current key and resealed under a key derived from newPIN with the stored
// salt and iteration count; the verifier and key check are replaced in the
// same transaction. Any record that fails to open aborts the change.
func (s *Service) ChangePIN(currentPIN, newPIN string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return err
	}
	if err := pin.Validate(newPIN); err != nil {
		return err
	}

	stored, err := s.store.GetMeta(store.MetaMasterHash)
	if err != nil {
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

	currentHash, err := deriver.DeriveVerificationHash(currentPIN, salt)
	if err != nil {
		if errors.Is(err, vault.ErrEmptyPIN) {
			return ErrAuthenticationFailed
		}
		return err
	}
	if !vault.VerifyHash(currentHash, string(stored)) {
		return ErrAuthenticationFailed
	}

	safes, purchases, err := s.openAllStrict()
	if err != nil {
		return err
	}

	hash, key, err := deriver.DeriveBoth(newPIN, salt)
	if err != nil {
		return err
	}
	if err := s.rekey(key, hash, safes, purchases); err != nil {
		key.Destroy()
		return err
	}

	s.setKey(key)
	s.log.Debug().Int("safes", len(safes)).Int("purchases", len(purchases)).Msg("vault re-keyed")
	return nil
}

// openAllStrict decrypts every record, failing on the first one that does
// not open.
func (s *Service) openAllStrict() ([]domain.Safe, []domain.Purchase, error) {
	safeEnvs, err := s.store.ListSafes()
	if err != nil {
		return nil, nil, err
	}
	safes := make([]domain.Safe, len(safeEnvs))
	for i, env := range safeEnvs {
		if err := s.cipher.Open(s.key, env, &safes[i]); err != nil {
			return nil, nil, fmt.Errorf("safe %s: %w", env.ID, err)
		}
	}

	purchaseEnvs, err := s.store.ListPurchases()
	if err != nil {
		return nil, nil, err
	}
	purchases := make([]domain.Purchase, len(purchaseEnvs))
	for i, env := range purchaseEnvs {
		if err := s.cipher.Open(s.key, env, &purchases[i]); err != nil {
			return nil, nil, fmt.Errorf("purchase %s: %w", env.ID, err)
		}
	}
	return safes, purchases, nil
}

func (s *Service) rekey(key *vault.SessionKey, hash string, safes []domain.Safe, purchases []domain.Purchase) error {
	createdAt, err := s.store.GetMeta(store.MetaCreatedAt)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	check, err := s.cipher.Seal(key, keyCheckID, keyCheck{Vault: "aurasafe", CreatedAt: string(createdAt)})
	if err != nil {
		return err
	}
	checkJSON, err := json.Marshal(check)
	if err != nil {
		return err
	}

	safeEnvs := make([]*domain.SealedEnvelope, 0, len(safes))
	for i := range safes {
		env, err := s.cipher.Seal(key, safes[i].ID, &safes[i])
		if err != nil {
			return err
		}
		safeEnvs = append(safeEnvs, env)
	}
	purchaseEnvs := make([]*domain.SealedEnvelope, 0, len(purchases))
	for i := range purchases {
		env, err := s.cipher.Seal(key, purchases[i].ID, &purchases[i])
		if err != nil {
			return err
		}
		env.SafeID = purchases[i].SafeID
		purchaseEnvs = append(purchaseEnvs, env)
	}

	return s.store.Update(func(tx store.Tx) error {
		if err := tx.ClearEnvelopes(); err != nil {
			return err
		}
		for _, env := range safeEnvs {
			if err := tx.PutSafe(env); err != nil {
				return err
			}
		}
		for _, env := range purchaseEnvs {
			if err := tx.PutPurchase(env); err != nil {
				return err
			}
		}
		return tx.PutMeta(map[string][]byte{
			store.MetaMasterHash: []byte(hash),
			store.MetaKeyCheck:   checkJSON,
		})
	})
}
