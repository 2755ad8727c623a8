package lock

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore implements Store over a process-local map. The map
// mutex only guards the store's own bookkeeping; the lease semantics on
// top of it are exactly the ones the Postgres store provides.
type InMemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{recs: make(map[string]Record)}
}

func (s *InMemoryStore) Insert(ctx context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.recs[rec.ResourceID]; exists {
		return false, nil
	}
	s.recs[rec.ResourceID] = rec
	return true, nil
}

func (s *InMemoryStore) DeleteExpired(ctx context.Context, resourceID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.recs[resourceID]
	if !exists || rec.ExpiresAt.After(now) {
		return 0, nil
	}
	delete(s.recs, resourceID)
	return 1, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, resourceID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, exists := s.recs[resourceID]; exists && rec.Token == token {
		delete(s.recs, resourceID)
	}
	return nil
}

// Put force-inserts a record regardless of conflicts. Test hook for
// simulating a crashed holder's leftover lease.
func (s *InMemoryStore) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ResourceID] = rec
}
