package memory

import (
	"context"
	"sync"

	audit "refledger/pkg/platform/audit"
)

// InMemoryStore collects audit records for tests and dev wiring.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []*audit.Record
	failErr error
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// FailWith makes every subsequent Append return err. Tests use it to verify
// the Recorder swallows audit failures.
func (s *InMemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *InMemoryStore) Append(_ context.Context, record *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.records = append(s.records, record)
	return nil
}

// ListByEntity returns records for one entity in append order.
func (s *InMemoryStore) ListByEntity(_ context.Context, entityType, entityID string) ([]*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audit.Record
	for _, r := range s.records {
		if r.EntityType == entityType && r.EntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListAll returns every record in append order.
func (s *InMemoryStore) ListAll(_ context.Context) ([]*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*audit.Record{}, s.records...), nil
}
