package store

import (
	"context"
	"sync"
	"time"

	"forgecert/internal/license/models"
	id "forgecert/pkg/domain"
	"forgecert/pkg/platform/sentinel"
)

// InMemory is the map-backed license store. RecordUsage runs its
// check-and-increment under the store lock so concurrent download attempts
// can never overshoot the quota.
type InMemory struct {
	mu       sync.Mutex
	licenses map[id.LicenseID]*models.License
}

func NewInMemory() *InMemory {
	return &InMemory{licenses: make(map[id.LicenseID]*models.License)}
}

func (s *InMemory) Create(_ context.Context, l *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.licenses[l.ID]; exists {
		return sentinel.ErrConflict
	}
	s.licenses[l.ID] = l.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, licenseID id.LicenseID) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.licenses[licenseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return l.Clone(), nil
}

// Update persists status and revocation fields. The usage counter is owned
// by RecordUsage and never written here: a stale snapshot must not clobber a
// concurrent increment.
func (s *InMemory) Update(_ context.Context, l *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.licenses[l.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	next := l.Clone()
	next.CurrentDownloads = existing.CurrentDownloads
	s.licenses[l.ID] = next
	return nil
}

// RecordUsage atomically re-evaluates effective status and increments the
// download counter. Sentinels: ErrRevoked, ErrExpired, ErrInvalidState
// (validity window not yet open), ErrQuotaExceeded.
func (s *InMemory) RecordUsage(_ context.Context, licenseID id.LicenseID, now time.Time) (*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[licenseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	switch {
	case l.Status == models.StatusRevoked:
		return nil, sentinel.ErrRevoked
	case l.Status == models.StatusExpired:
		return nil, sentinel.ErrExpired
	case now.After(l.ValidUntil):
		// Lazy expiry: flip the stored row on first access past the window.
		l.Status = models.StatusExpired
		return nil, sentinel.ErrExpired
	case now.Before(l.ValidFrom):
		return nil, sentinel.ErrInvalidState
	case l.MaxDownloads != nil && l.CurrentDownloads >= *l.MaxDownloads:
		return nil, sentinel.ErrQuotaExceeded
	}

	l.CurrentDownloads++
	return l.Clone(), nil
}

// ListActiveByTwin returns licenses for the twin whose effective status at
// now is ACTIVE.
func (s *InMemory) ListActiveByTwin(_ context.Context, twinID id.TwinID, now time.Time) ([]*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.License
	for _, l := range s.licenses {
		if l.DigitalTwinID == twinID && l.EffectiveStatus(now) == models.StatusActive && !now.Before(l.ValidFrom) {
			out = append(out, l.Clone())
		}
	}
	return out, nil
}

func (s *InMemory) ListByGrantee(_ context.Context, granteeID id.ActorID) ([]*models.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.License
	for _, l := range s.licenses {
		if l.GranteeID == granteeID {
			out = append(out, l.Clone())
		}
	}
	return out, nil
}

// ExpireDue flips time-expired ACTIVE licenses to EXPIRED. Advisory.
func (s *InMemory) ExpireDue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.licenses {
		if l.Status == models.StatusActive && now.After(l.ValidUntil) {
			l.Status = models.StatusExpired
			n++
		}
	}
	return n, nil
}
