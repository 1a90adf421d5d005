package service

import (
	"github.com/aurasafe/aurasafe/internal/domain"
)

// IntegrityReport summarises a full decryption pass over the vault.
type IntegrityReport struct {
	Safes               int      `json:"safes"`
	Purchases           int      `json:"purchases"`
	DefaultSafes        int      `json:"defaultSafes"`
	UnreadableSafes     []string `json:"unreadableSafes,omitempty"`
	UnreadablePurchases []string `json:"unreadablePurchases,omitempty"`
	OrphanedPurchases   []string `json:"orphanedPurchases,omitempty"`
}

// Healthy reports whether every record opened and every purchase belongs to
// an existing safe, with exactly one default.
func (r *IntegrityReport) Healthy() bool {
	return len(r.UnreadableSafes) == 0 && len(r.UnreadablePurchases) == 0 &&
		len(r.OrphanedPurchases) == 0 && r.DefaultSafes == 1
}

// Verify opens every record and checks the references between them. It
// reports problems instead of failing on them; only storage errors are
// returned.
func (s *Service) Verify() (*IntegrityReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireUnlocked(); err != nil {
		return nil, err
	}

	report := &IntegrityReport{}
	safeIDs := make(map[string]struct{})

	safeEnvs, err := s.store.ListSafes()
	if err != nil {
		return nil, err
	}
	for _, env := range safeEnvs {
		report.Safes++
		var safe domain.Safe
		if err := s.cipher.Open(s.key, env, &safe); err != nil {
			report.UnreadableSafes = append(report.UnreadableSafes, env.ID)
			continue
		}
		safeIDs[safe.ID] = struct{}{}
		if safe.IsDefault {
			report.DefaultSafes++
		}
	}

	purchaseEnvs, err := s.store.ListPurchases()
	if err != nil {
		return nil, err
	}
	for _, env := range purchaseEnvs {
		report.Purchases++
		var p domain.Purchase
		if err := s.cipher.Open(s.key, env, &p); err != nil {
			report.UnreadablePurchases = append(report.UnreadablePurchases, env.ID)
			continue
		}
		if _, ok := safeIDs[p.SafeID]; !ok {
			report.OrphanedPurchases = append(report.OrphanedPurchases, p.ID)
		}
	}

	s.log.Debug().Int("safes", report.Safes).Int("purchases", report.Purchases).Msg("vault verified")
	return report, nil
}
