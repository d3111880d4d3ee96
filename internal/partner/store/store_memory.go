package store

import (
	"context"
	"sort"
	"sync"

	"refledger/internal/partner/models"
	"refledger/pkg/domain"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/sentinel"
)

// InMemoryPartnerStore keeps partners in a mutex-guarded map. Uniqueness and
// Execute atomicity are enforced under the lock, mirroring what the postgres
// store gets from constraints and row locks.
type InMemoryPartnerStore struct {
	mu       sync.RWMutex
	partners map[domain.PartnerID]*models.Partner
	byNumber map[string]domain.PartnerID
}

func NewInMemoryPartnerStore() *InMemoryPartnerStore {
	return &InMemoryPartnerStore{
		partners: make(map[domain.PartnerID]*models.Partner),
		byNumber: make(map[string]domain.PartnerID),
	}
}

func (s *InMemoryPartnerStore) CreateIfBusinessNumberAvailable(_ context.Context, partner *models.Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byNumber[partner.BusinessNumber]; taken {
		return sentinel.ErrConflict
	}
	cp := *partner
	s.partners[partner.ID] = &cp
	s.byNumber[partner.BusinessNumber] = partner.ID
	return nil
}

func (s *InMemoryPartnerStore) FindByID(_ context.Context, id domain.PartnerID) (*models.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partners[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryPartnerStore) List(_ context.Context, page pagination.Page) ([]*models.Partner, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*models.Partner, 0, len(s.partners))
	for _, p := range s.partners {
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	items, total := pagination.Slice(all, page)
	return items, total, nil
}

func (s *InMemoryPartnerStore) Execute(_ context.Context, id domain.PartnerID, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	mutate(p)
	cp := *p
	return &cp, nil
}

// InMemoryCafeStore keeps cafes in a mutex-guarded map.
type InMemoryCafeStore struct {
	mu    sync.RWMutex
	cafes map[domain.CafeID]*models.Cafe
}

func NewInMemoryCafeStore() *InMemoryCafeStore {
	return &InMemoryCafeStore{cafes: make(map[domain.CafeID]*models.Cafe)}
}

func (s *InMemoryCafeStore) Create(_ context.Context, cafe *models.Cafe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cafe
	s.cafes[cafe.ID] = &cp
	return nil
}

func (s *InMemoryCafeStore) FindByID(_ context.Context, id domain.CafeID) (*models.Cafe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cafes[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryCafeStore) ListByPartner(_ context.Context, partnerID domain.PartnerID, page pagination.Page) ([]*models.Cafe, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*models.Cafe
	for _, c := range s.cafes {
		if c.PartnerID == partnerID {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	items, total := pagination.Slice(all, page)
	return items, total, nil
}

// ListAllByPartner returns every cafe for a partner without pagination; the
// payout calculator and analytics expansion use it.
func (s *InMemoryCafeStore) ListAllByPartner(_ context.Context, partnerID domain.PartnerID) ([]*models.Cafe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*models.Cafe
	for _, c := range s.cafes {
		if c.PartnerID == partnerID {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	return all, nil
}

func (s *InMemoryCafeStore) Execute(_ context.Context, id domain.CafeID, validate func(*models.Cafe) error, mutate func(*models.Cafe)) (*models.Cafe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cafes[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	mutate(c)
	cp := *c
	return &cp, nil
}
