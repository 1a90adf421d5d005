package service

import (
	"github.com/aurasafe/aurasafe/internal/domain"
)

// ImportResult counts the records written by an import.
type ImportResult struct {
	Safes     int
	Purchases int
}

// ExportAllDecrypted returns every readable safe and the readable purchases
// in those safes, in plaintext, for a user backup. Purchases whose safe cannot
// be read are left out so the snapshot always imports.
func (s *Service) ExportAllDecrypted() (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	safes, err := s.listSafes()
	if err != nil {
		return nil, err
	}
	all, err := s.listAllPurchases()
	if err != nil {
		return nil, err
	}

	readable := make(map[string]struct{}, len(safes))
	for _, safe := range safes {
		readable[safe.ID] = struct{}{}
	}
	purchases := make([]domain.Purchase, 0, len(all))
	for _, p := range all {
		if _, ok := readable[p.SafeID]; !ok {
			s.log.Warn().Str("purchase_id", p.ID).Str("safe_id", p.SafeID).Msg("export skips purchase in unreadable safe")
			continue
		}
		purchases = append(purchases, p)
	}
	s.log.Debug().Int("safes", len(safes)).Int("purchases", len(purchases)).Msg("vault exported")
	return &domain.Snapshot{Safes: safes, Purchases: purchases}, nil
}

// ImportFromJSON parses and validates an export document, then replaces the
// vault contents with it. Nothing is written if any record is invalid.
func (s *Service) ImportFromJSON(payload []byte) (*ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	snap, err := domain.ParseSnapshot(payload)
	if err != nil {
		return nil, err
	}
	return s.importSnapshot(snap)
}

// ImportSnapshot validates snap and atomically replaces the vault contents
// with it, sealing every record under the current session key. Ids are kept.
func (s *Service) ImportSnapshot(snap *domain.Snapshot) (*ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}
	return s.importSnapshot(snap)
}

func (s *Service) importSnapshot(snap *domain.Snapshot) (*ImportResult, error) {
	if snap == nil {
		return nil, &domain.ValidationError{Field: "snapshot", Reason: "is required"}
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	seenDefault := false
	safeEnvs := make([]*domain.SealedEnvelope, 0, len(snap.Safes))
	for i := range snap.Safes {
		safe := snap.Safes[i]
		if safe.IsDefault {
			if seenDefault {
				safe.IsDefault = false
			}
			seenDefault = true
		}
		env, err := s.sealSafe(&safe)
		if err != nil {
			return nil, err
		}
		safeEnvs = append(safeEnvs, env)
	}

	purchaseEnvs := make([]*domain.SealedEnvelope, 0, len(snap.Purchases))
	for i := range snap.Purchases {
		env, err := s.sealPurchase(&snap.Purchases[i])
		if err != nil {
			return nil, err
		}
		purchaseEnvs = append(purchaseEnvs, env)
	}

	if err := s.store.ReplaceAll(safeEnvs, purchaseEnvs); err != nil {
		return nil, err
	}
	s.log.Debug().Int("safes", len(safeEnvs)).Int("purchases", len(purchaseEnvs)).Msg("vault imported")

	if _, err := s.bootstrapDefaultSafe(); err != nil {
		return nil, err
	}
	return &ImportResult{Safes: len(safeEnvs), Purchases: len(purchaseEnvs)}, nil
}
