package store

import (
	"context"
	"sync"
	"time"

	"forgecert/internal/certificate/models"
	id "forgecert/pkg/domain"
	"forgecert/pkg/platform/sentinel"
)

// InMemory is the map-backed certificate store with secondary indexes on
// verification code and forge.
type InMemory struct {
	mu     sync.RWMutex
	certs  map[id.CertificateID]*models.Certificate
	byCode map[string]id.CertificateID
}

func NewInMemory() *InMemory {
	return &InMemory{
		certs:  make(map[id.CertificateID]*models.Certificate),
		byCode: make(map[string]id.CertificateID),
	}
}

// Create inserts the certificate, enforcing code uniqueness and the
// one-ACTIVE-per-forge invariant.
func (s *InMemory) Create(_ context.Context, c *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.certs[c.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byCode[c.VerificationCode]; exists {
		return sentinel.ErrConflict
	}
	for _, existing := range s.certs {
		if existing.ForgeID == c.ForgeID && existing.Status == models.StatusActive {
			return sentinel.ErrConflict
		}
	}
	s.certs[c.ID] = c.Clone()
	s.byCode[c.VerificationCode] = c.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, certID id.CertificateID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *InMemory) FindByCode(_ context.Context, code string) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	certID, ok := s.byCode[code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.certs[certID].Clone(), nil
}

func (s *InMemory) FindActiveByForge(_ context.Context, forgeID id.ForgeID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.certs {
		if c.ForgeID == forgeID && c.Status == models.StatusActive {
			return c.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindActiveByTwin(_ context.Context, twinID id.TwinID) (*models.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.certs {
		if c.DigitalTwinID == twinID && c.Status == models.StatusActive {
			return c.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) Update(_ context.Context, c *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[c.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.certs[c.ID] = c.Clone()
	return nil
}

// ExpireDue flips time-expired ACTIVE certificates to EXPIRED. Advisory:
// read paths recompute effective status regardless.
func (s *InMemory) ExpireDue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.certs {
		if c.Status == models.StatusActive && c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
			c.Status = models.StatusExpired
			n++
		}
	}
	return n, nil
}
