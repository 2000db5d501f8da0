package store

import (
	"context"
	"sort"
	"sync"

	"github.com/aaronwang/coin-auction/internal/models"
)

// MemoryStore keeps auctions in process memory. Records are copied on the
// way in and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[string]*models.Auction
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{auctions: make(map[string]*models.Auction)}
}

// Create stores a copy of a at version 1 and sets a.Version to match
func (s *MemoryStore) Create(_ context.Context, a *models.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[a.ID]; ok {
		return ErrAlreadyExists
	}
	c := a.Clone()
	c.Version = 1
	s.auctions[a.ID] = c
	a.Version = 1
	return nil
}

// Get returns a copy of the stored auction
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// ListActive returns copies of the active auctions, soonest ending first
func (s *MemoryStore) ListActive(_ context.Context) ([]*models.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*models.Auction, 0)
	for _, a := range s.auctions {
		if a.IsActive() {
			active = append(active, a.Clone())
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].EndTime.Before(active[j].EndTime)
	})
	return active, nil
}

// Save replaces the stored auction when a.Version still matches it and
// returns the stored copy at the next version. A stale version gets ErrConflict.
func (s *MemoryStore) Save(_ context.Context, a *models.Auction) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.auctions[a.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Version != a.Version {
		return nil, ErrConflict
	}
	c := a.Clone()
	c.Version = a.Version + 1
	s.auctions[a.ID] = c
	return c.Clone(), nil
}
