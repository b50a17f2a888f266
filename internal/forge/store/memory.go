package store

import (
	"context"
	"sync"
	"time"

	"forgecert/internal/forge/models"
	id "forgecert/pkg/domain"
	"forgecert/pkg/platform/sentinel"
)

// InMemory is the map-backed forge store. All reads return clones so callers
// cannot mutate stored state without going through Update.
type InMemory struct {
	mu     sync.RWMutex
	forges map[id.ForgeID]*models.Forge
}

func NewInMemory() *InMemory {
	return &InMemory{forges: make(map[id.ForgeID]*models.Forge)}
}

func (s *InMemory) Create(_ context.Context, f *models.Forge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.forges[f.ID]; exists {
		return sentinel.ErrConflict
	}
	s.forges[f.ID] = f.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, forgeID id.ForgeID) (*models.Forge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.forges[forgeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return f.Clone(), nil
}

func (s *InMemory) List(_ context.Context) ([]*models.Forge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Forge, 0, len(s.forges))
	for _, f := range s.forges {
		out = append(out, f.Clone())
	}
	return out, nil
}

// Update persists the forge if the caller's version matches the stored
// version, then bumps the version. ErrVersionMismatch signals a lost race;
// the service re-reads and retries once.
func (s *InMemory) Update(_ context.Context, f *models.Forge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.forges[f.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != f.Version {
		return sentinel.ErrVersionMismatch
	}
	next := f.Clone()
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	s.forges[f.ID] = next
	*f = *next
	return nil
}

func (s *InMemory) Delete(_ context.Context, forgeID id.ForgeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forges[forgeID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.forges, forgeID)
	return nil
}
