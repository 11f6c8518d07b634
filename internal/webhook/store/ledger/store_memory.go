package ledger

import (
	"context"
	"sync"
	"time"

	"idsync/internal/webhook/models"
)

// InMemoryStore keeps the ledger in memory for tests.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]models.ProcessedEvent
}

// NewInMemory constructs an empty in-memory ledger.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]models.ProcessedEvent)}
}

func (s *InMemoryStore) Reserve(_ context.Context, rec models.ProcessedEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[rec.Fingerprint]; exists {
		return false, nil
	}
	s.entries[rec.Fingerprint] = rec
	return true, nil
}

func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for fp, rec := range s.entries {
		if rec.ProcessedAt.Before(cutoff) {
			delete(s.entries, fp)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of ledger entries. Test assertions only.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Delete removes a single entry, mirroring a transaction rollback in tests.
func (s *InMemoryStore) Delete(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fingerprint)
}
