package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"refledger/internal/attribution/models"
	"refledger/pkg/domain"
	"refledger/pkg/platform/sentinel"
)

// InMemoryConversionStore is a mutex-guarded conversion store for tests and
// local runs.
type InMemoryConversionStore struct {
	mu          sync.RWMutex
	conversions map[domain.ConversionID]*models.Conversion
	byUser      map[string]domain.ConversionID
}

func NewInMemoryConversionStore() *InMemoryConversionStore {
	return &InMemoryConversionStore{
		conversions: make(map[domain.ConversionID]*models.Conversion),
		byUser:      make(map[string]domain.ConversionID),
	}
}

func (s *InMemoryConversionStore) CreateIfUserUnattributed(_ context.Context, conversion *models.Conversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUser[conversion.UserID]; exists {
		return sentinel.ErrConflict
	}
	cp := copyConversion(conversion)
	s.conversions[conversion.ID] = cp
	s.byUser[conversion.UserID] = conversion.ID
	return nil
}

func (s *InMemoryConversionStore) FindByID(_ context.Context, id domain.ConversionID) (*models.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversion, ok := s.conversions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyConversion(conversion), nil
}

func (s *InMemoryConversionStore) FindByUser(_ context.Context, userID string) (*models.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUser[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyConversion(s.conversions[id]), nil
}

func (s *InMemoryConversionStore) FindLatestByClientHashes(_ context.Context, ipHash, uaHash string, since time.Time) (*models.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Conversion
	for _, c := range s.conversions {
		if c.IPHash != ipHash || c.UAHash != uaHash {
			continue
		}
		if c.AttributedAt.Before(since) {
			continue
		}
		if best == nil || c.AttributedAt.After(best.AttributedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	return copyConversion(best), nil
}

func (s *InMemoryConversionStore) ListByPartnerInPeriod(_ context.Context, partnerID domain.PartnerID, start, end time.Time) ([]*models.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Conversion
	for _, c := range s.conversions {
		if c.PartnerID != partnerID {
			continue
		}
		if c.AttributedAt.Before(start) || c.AttributedAt.After(end) {
			continue
		}
		out = append(out, copyConversion(c))
	}
	sortByAttributedAt(out)
	return out, nil
}

func (s *InMemoryConversionStore) ListByLinks(_ context.Context, linkIDs []domain.LinkID, start, end time.Time) ([]*models.Conversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[domain.LinkID]struct{}, len(linkIDs))
	for _, id := range linkIDs {
		wanted[id] = struct{}{}
	}

	var out []*models.Conversion
	for _, c := range s.conversions {
		if _, ok := wanted[c.LinkID]; !ok {
			continue
		}
		if c.AttributedAt.Before(start) || c.AttributedAt.After(end) {
			continue
		}
		out = append(out, copyConversion(c))
	}
	sortByAttributedAt(out)
	return out, nil
}

func sortByAttributedAt(conversions []*models.Conversion) {
	sort.Slice(conversions, func(i, j int) bool {
		if !conversions[i].AttributedAt.Equal(conversions[j].AttributedAt) {
			return conversions[i].AttributedAt.Before(conversions[j].AttributedAt)
		}
		return conversions[i].ID.String() < conversions[j].ID.String()
	})
}

func copyConversion(c *models.Conversion) *models.Conversion {
	cp := *c
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
