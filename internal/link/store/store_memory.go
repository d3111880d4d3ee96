package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"refledger/internal/link/models"
	"refledger/pkg/domain"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/sentinel"
)

// InMemoryLinkStore is a mutex-guarded link store for tests and local runs.
type InMemoryLinkStore struct {
	mu     sync.RWMutex
	links  map[domain.LinkID]*models.Link
	byCode map[string]domain.LinkID
}

func NewInMemoryLinkStore() *InMemoryLinkStore {
	return &InMemoryLinkStore{
		links:  make(map[domain.LinkID]*models.Link),
		byCode: make(map[string]domain.LinkID),
	}
}

func (s *InMemoryLinkStore) CreateIfCodeAvailable(_ context.Context, link *models.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCode[link.ShortCode]; exists {
		return sentinel.ErrConflict
	}
	cp := *link
	s.links[link.ID] = &cp
	s.byCode[link.ShortCode] = link.ID
	return nil
}

func (s *InMemoryLinkStore) FindByCode(_ context.Context, shortCode string) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCode[shortCode]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.links[id]
	return &cp, nil
}

func (s *InMemoryLinkStore) FindByID(_ context.Context, id domain.LinkID) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (s *InMemoryLinkStore) ListByCafe(_ context.Context, cafeID domain.CafeID, page pagination.Page) ([]*models.Link, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.Link
	for _, link := range s.links {
		if link.CafeID == cafeID {
			cp := *link
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	items, total := pagination.Slice(all, page)
	return items, total, nil
}

func (s *InMemoryLinkStore) ListAllByCafe(_ context.Context, cafeID domain.CafeID) ([]*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.Link
	for _, link := range s.links {
		if link.CafeID == cafeID {
			cp := *link
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ID.String() < all[j].ID.String()
	})
	return all, nil
}

func (s *InMemoryLinkStore) IncrementClicks(_ context.Context, shortCode string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[shortCode]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	link := s.links[id]
	link.Clicks++
	cp := *link
	return &cp, nil
}

func (s *InMemoryLinkStore) Execute(_ context.Context, id domain.LinkID, validate func(*models.Link) error, mutate func(*models.Link)) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(link); err != nil {
		return nil, err
	}
	mutate(link)
	cp := *link
	return &cp, nil
}

func (s *InMemoryLinkStore) MarkExpired(_ context.Context, now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Unix(now, 0)
	count := 0
	for _, link := range s.links {
		if link.Status == models.LinkStatusActive && link.ExpiresAt.Before(cutoff) {
			link.Status = models.LinkStatusExpired
			link.UpdatedAt = cutoff.UTC()
			count++
		}
	}
	return count, nil
}
