package identity

import (
	"context"
	"fmt"
	"sync"

	"idsync/internal/sentinel"
	"idsync/internal/webhook/models"
	id "idsync/pkg/domain"
)

// Error Contract:
// - FindByProviderSubject returns ErrNotFound (wrapped) when no identity exists.
// - ApplyUpdate returns ErrNotFound when the target row is gone.
// - Infrastructure failures are returned wrapped with context.

// subjectKey identifies an identity by its provider-scoped subject.
type subjectKey struct {
	provider models.Provider
	subject  string
}

// InMemoryStore stores identity snapshots in memory for tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	byUser    map[id.UserID]*models.IdentitySnapshot
	bySubject map[subjectKey]id.UserID
}

// NewInMemory constructs an empty in-memory identity store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byUser:    make(map[id.UserID]*models.IdentitySnapshot),
		bySubject: make(map[subjectKey]id.UserID),
	}
}

// Seed inserts a snapshot directly, bypassing the update path. Test setup only.
func (s *InMemoryStore) Seed(snap *models.IdentitySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.byUser[snap.UserID] = &cp
	s.bySubject[subjectKey{snap.Provider, snap.Subject}] = snap.UserID
}

func (s *InMemoryStore) FindByProviderSubject(_ context.Context, provider models.Provider, subject string) (*models.IdentitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.bySubject[subjectKey{provider, subject}]
	if !ok {
		return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
	}
	cp := *s.byUser[userID]
	return &cp, nil
}

func (s *InMemoryStore) ApplyUpdate(_ context.Context, snap *models.IdentitySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUser[snap.UserID]; !ok {
		return fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
	}
	cp := *snap
	s.byUser[snap.UserID] = &cp
	return nil
}

// Get returns the stored snapshot for assertions in tests.
func (s *InMemoryStore) Get(userID id.UserID) *models.IdentitySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap, ok := s.byUser[userID]; ok {
		cp := *snap
		return &cp
	}
	return nil
}
