package service

import (
	"errors"
	"strings"

	"github.com/aurasafe/aurasafe/internal/domain"
	"github.com/aurasafe/aurasafe/internal/store"
)

// ListPurchasesBySafe returns the purchases filed under safeID, oldest first.
// Unreadable records are skipped.
func (s *Service) ListPurchasesBySafe(safeID string) ([]domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	envs, err := s.store.ListPurchasesBySafe(safeID)
	if err != nil {
		return nil, err
	}
	return s.openPurchases(envs), nil
}

// ListAllPurchases returns every readable purchase, oldest first.
func (s *Service) ListAllPurchases() ([]domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	return s.listAllPurchases()
}

func (s *Service) listAllPurchases() ([]domain.Purchase, error) {
	envs, err := s.store.ListPurchases()
	if err != nil {
		return nil, err
	}
	return s.openPurchases(envs), nil
}

func (s *Service) openPurchases(envs []*domain.SealedEnvelope) []domain.Purchase {
	out := make([]domain.Purchase, 0, len(envs))
	for _, env := range envs {
		var p domain.Purchase
		if err := s.cipher.Open(s.key, env, &p); err != nil {
			s.log.Warn().Str("purchase_id", env.ID).Err(err).Msg("skipping unreadable purchase")
			continue
		}
		out = append(out, p)
	}
	sortByDate(out)
	return out
}

// GetPurchase returns a single purchase. A decryption failure is returned.
func (s *Service) GetPurchase(id string) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	return s.getPurchase(id)
}

func (s *Service) getPurchase(id string) (*domain.Purchase, error) {
	env, err := s.store.GetPurchase(id)
	if err != nil {
		return nil, err
	}
	var p domain.Purchase
	if err := s.cipher.Open(s.key, env, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePurchase stores a new purchase with a generated id.
func (s *Service) CreatePurchase(in domain.PurchaseInput) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	p := in.ToPurchase(s.newID())
	if err := s.putPurchase(&p); err != nil {
		return nil, err
	}
	s.log.Debug().Str("purchase_id", p.ID).Str("safe_id", p.SafeID).Msg("purchase created")
	return &p, nil
}

// UpsertPurchase stores p, replacing any purchase with the same id. An empty
// id is assigned.
func (s *Service) UpsertPurchase(p domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	if p.ID == "" {
		p.ID = s.newID()
	}
	if err := s.putPurchase(&p); err != nil {
		return nil, err
	}
	s.log.Debug().Str("purchase_id", p.ID).Str("safe_id", p.SafeID).Msg("purchase saved")
	return &p, nil
}

// putPurchase validates p, checks its safe exists and seals it under a fresh nonce.
func (s *Service) putPurchase(p *domain.Purchase) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.checkSafeExists(p.SafeID); err != nil {
		return err
	}

	env, err := s.sealPurchase(p)
	if err != nil {
		return err
	}
	return s.store.PutPurchase(env)
}

func (s *Service) checkSafeExists(safeID string) error {
	_, err := s.store.GetSafe(safeID)
	if errors.Is(err, store.ErrNotFound) {
		return &domain.ValidationError{Field: "safeId", Reason: "references unknown safe " + safeID}
	}
	return err
}

// DeletePurchase removes a purchase.
func (s *Service) DeletePurchase(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return err
	}

	if _, err := s.store.GetPurchase(id); err != nil {
		return err
	}
	if err := s.store.DeletePurchase(id); err != nil {
		return err
	}
	s.log.Debug().Str("purchase_id", id).Msg("purchase deleted")
	return nil
}

// MovePurchase files a purchase under another safe.
func (s *Service) MovePurchase(id, safeID string) (*domain.Purchase, error) {
	return s.modifyPurchase(id, func(p *domain.Purchase) { p.SafeID = safeID })
}

// RemovePurchaseImage clears the attached image of a purchase.
func (s *Service) RemovePurchaseImage(id string) (*domain.Purchase, error) {
	return s.modifyPurchase(id, func(p *domain.Purchase) { p.ImageDataURL = "" })
}

func (s *Service) modifyPurchase(id string, fn func(p *domain.Purchase)) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	p, err := s.getPurchase(id)
	if err != nil {
		return nil, err
	}
	fn(p)
	if err := s.putPurchase(p); err != nil {
		return nil, err
	}
	s.log.Debug().Str("purchase_id", id).Str("safe_id", p.SafeID).Msg("purchase updated")
	return p, nil
}
