package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"refledger/internal/payout/models"
	"refledger/pkg/domain"
	"refledger/pkg/pagination"
	"refledger/pkg/platform/sentinel"
)

type periodKey struct {
	partnerID domain.PartnerID
	start     int64
	end       int64
}

// InMemoryPayoutStore is a mutex-guarded ledger store for tests and local
// runs. The byPeriod index enforces the one-PAYOUT-per-period constraint.
type InMemoryPayoutStore struct {
	mu       sync.RWMutex
	entries  map[domain.PayoutID]*models.PayoutLedgerEntry
	byPeriod map[periodKey]domain.PayoutID
}

func NewInMemoryPayoutStore() *InMemoryPayoutStore {
	return &InMemoryPayoutStore{
		entries:  make(map[domain.PayoutID]*models.PayoutLedgerEntry),
		byPeriod: make(map[periodKey]domain.PayoutID),
	}
}

func keyFor(partnerID domain.PartnerID, start, end time.Time) periodKey {
	return periodKey{partnerID: partnerID, start: start.UnixNano(), end: end.UnixNano()}
}

func (s *InMemoryPayoutStore) Create(_ context.Context, entry *models.PayoutLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Type == models.TypePayout {
		key := keyFor(entry.PartnerID, entry.PeriodStart, entry.PeriodEnd)
		if _, exists := s.byPeriod[key]; exists {
			return sentinel.ErrConflict
		}
		s.byPeriod[key] = entry.ID
	}
	s.entries[entry.ID] = copyEntry(entry)
	return nil
}

func (s *InMemoryPayoutStore) FindByID(_ context.Context, id domain.PayoutID) (*models.PayoutLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyEntry(entry), nil
}

func (s *InMemoryPayoutStore) FindPayoutByPeriod(_ context.Context, partnerID domain.PartnerID, periodStart, periodEnd time.Time) (*models.PayoutLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPeriod[keyFor(partnerID, periodStart, periodEnd)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyEntry(s.entries[id]), nil
}

func (s *InMemoryPayoutStore) Execute(_ context.Context, id domain.PayoutID, validate func(*models.PayoutLedgerEntry) error, mutate func(*models.PayoutLedgerEntry)) (*models.PayoutLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(entry); err != nil {
		return nil, err
	}
	mutate(entry)
	return copyEntry(entry), nil
}

func (s *InMemoryPayoutStore) ListByPartner(_ context.Context, partnerID domain.PartnerID, page pagination.Page) ([]*models.PayoutLedgerEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.collect(func(e *models.PayoutLedgerEntry) bool { return e.PartnerID == partnerID })
	items, total := pagination.Slice(all, page)
	return items, total, nil
}

func (s *InMemoryPayoutStore) ListByStatus(_ context.Context, status models.PayoutStatus, page pagination.Page) ([]*models.PayoutLedgerEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.collect(func(e *models.PayoutLedgerEntry) bool { return e.Status == status })
	items, total := pagination.Slice(all, page)
	return items, total, nil
}

func (s *InMemoryPayoutStore) ListAllByPartner(_ context.Context, partnerID domain.PartnerID) ([]*models.PayoutLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(e *models.PayoutLedgerEntry) bool { return e.PartnerID == partnerID }), nil
}

func (s *InMemoryPayoutStore) collect(match func(*models.PayoutLedgerEntry) bool) []*models.PayoutLedgerEntry {
	var all []*models.PayoutLedgerEntry
	for _, e := range s.entries {
		if match(e) {
			all = append(all, copyEntry(e))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return all
}

func copyEntry(e *models.PayoutLedgerEntry) *models.PayoutLedgerEntry {
	cp := *e
	if e.ConversionIDs != nil {
		cp.ConversionIDs = append([]domain.ConversionID(nil), e.ConversionIDs...)
	}
	if e.ApprovedAt != nil {
		t := *e.ApprovedAt
		cp.ApprovedAt = &t
	}
	if e.PaidAt != nil {
		t := *e.PaidAt
		cp.PaidAt = &t
	}
	if e.ReferenceLedgerID != nil {
		ref := *e.ReferenceLedgerID
		cp.ReferenceLedgerID = &ref
	}
	return &cp
}
