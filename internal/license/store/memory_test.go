package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"forgecert/internal/license/models"
	id "forgecert/pkg/domain"
	"forgecert/pkg/platform/sentinel"
)

type LicenseStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemory
	now   time.Time
}

func (s *LicenseStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemory()
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestLicenseStoreSuite(t *testing.T) {
	suite.Run(t, new(LicenseStoreSuite))
}

func (s *LicenseStoreSuite) newLicense(maxDownloads *int) *models.License {
	return &models.License{
		ID:            id.NewLicenseID(),
		DigitalTwinID: id.NewTwinID(),
		GranteeID:     "grantee-1",
		UsageType:     models.UsageCommercial,
		Territories:   []string{"US"},
		ValidFrom:     s.now.Add(-time.Hour),
		ValidUntil:    s.now.Add(time.Hour),
		Status:        models.StatusActive,
		MaxDownloads:  maxDownloads,
		CreatedBy:     "operator-1",
		CreatedAt:     s.now,
	}
}

func (s *LicenseStoreSuite) TestRecordUsage() {
	s.Run("increments under the quota", func() {
		quota := 2
		l := s.newLicense(&quota)
		s.Require().NoError(s.store.Create(s.ctx, l))

		got, err := s.store.RecordUsage(s.ctx, l.ID, s.now)
		s.Require().NoError(err)
		s.Equal(1, got.CurrentDownloads)
	})

	s.Run("unlimited when no quota is set", func() {
		l := s.newLicense(nil)
		s.Require().NoError(s.store.Create(s.ctx, l))

		for i := 0; i < 10; i++ {
			_, err := s.store.RecordUsage(s.ctx, l.ID, s.now)
			s.Require().NoError(err)
		}
	})

	s.Run("sentinels by failure mode", func() {
		quota := 1
		revoked := s.newLicense(&quota)
		revoked.Status = models.StatusRevoked
		s.Require().NoError(s.store.Create(s.ctx, revoked))
		_, err := s.store.RecordUsage(s.ctx, revoked.ID, s.now)
		s.ErrorIs(err, sentinel.ErrRevoked)

		notYet := s.newLicense(&quota)
		notYet.ValidFrom = s.now.Add(time.Minute)
		s.Require().NoError(s.store.Create(s.ctx, notYet))
		_, err = s.store.RecordUsage(s.ctx, notYet.ID, s.now)
		s.ErrorIs(err, sentinel.ErrInvalidState)

		exhausted := s.newLicense(&quota)
		exhausted.CurrentDownloads = 1
		s.Require().NoError(s.store.Create(s.ctx, exhausted))
		_, err = s.store.RecordUsage(s.ctx, exhausted.ID, s.now)
		s.ErrorIs(err, sentinel.ErrQuotaExceeded)

		_, err = s.store.RecordUsage(s.ctx, id.NewLicenseID(), s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("flips a time-expired row lazily", func() {
		l := s.newLicense(nil)
		s.Require().NoError(s.store.Create(s.ctx, l))

		_, err := s.store.RecordUsage(s.ctx, l.ID, s.now.Add(2*time.Hour))
		s.Require().ErrorIs(err, sentinel.ErrExpired)

		got, err := s.store.FindByID(s.ctx, l.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, got.Status)
	})
}

// TestUpdatePreservesCounter writes back a snapshot taken before an
// increment; the stored counter must survive because Update does not own it.
func (s *LicenseStoreSuite) TestUpdatePreservesCounter() {
	l := s.newLicense(nil)
	s.Require().NoError(s.store.Create(s.ctx, l))

	stale, err := s.store.FindByID(s.ctx, l.ID)
	s.Require().NoError(err)

	_, err = s.store.RecordUsage(s.ctx, l.ID, s.now)
	s.Require().NoError(err)
	_, err = s.store.RecordUsage(s.ctx, l.ID, s.now)
	s.Require().NoError(err)

	stale.Status = models.StatusRevoked
	stale.RevokedReason = "terms breached"
	s.Require().NoError(s.store.Update(s.ctx, stale))

	got, err := s.store.FindByID(s.ctx, l.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, got.Status)
	s.Equal(2, got.CurrentDownloads)
}

// TestConcurrentUsage hammers one license from many goroutines and checks
// that exactly the quota succeeds, never more.
func (s *LicenseStoreSuite) TestConcurrentUsage() {
	const quota = 10
	const attempts = 100

	q := quota
	l := s.newLicense(&q)
	s.Require().NoError(s.store.Create(s.ctx, l))

	var succeeded, exceeded atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.RecordUsage(s.ctx, l.ID, s.now)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, sentinel.ErrQuotaExceeded):
				exceeded.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int64(quota), succeeded.Load())
	s.Equal(int64(attempts-quota), exceeded.Load())

	got, err := s.store.FindByID(s.ctx, l.ID)
	s.Require().NoError(err)
	s.Equal(quota, got.CurrentDownloads)
}

func (s *LicenseStoreSuite) TestExpireDue() {
	s.Run("flips only due active rows", func() {
		due := s.newLicense(nil)
		due.ValidUntil = s.now.Add(-time.Minute)
		current := s.newLicense(nil)
		revoked := s.newLicense(nil)
		revoked.Status = models.StatusRevoked
		for _, l := range []*models.License{due, current, revoked} {
			s.Require().NoError(s.store.Create(s.ctx, l))
		}

		n, err := s.store.ExpireDue(s.ctx, s.now)
		s.Require().NoError(err)
		s.Equal(1, n)

		got, err := s.store.FindByID(s.ctx, due.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, got.Status)

		got, err = s.store.FindByID(s.ctx, current.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, got.Status)
	})

	s.Run("is idempotent", func() {
		due := s.newLicense(nil)
		due.ValidUntil = s.now.Add(-time.Minute)
		s.Require().NoError(s.store.Create(s.ctx, due))

		n, err := s.store.ExpireDue(s.ctx, s.now)
		s.Require().NoError(err)
		s.Equal(1, n)

		n, err = s.store.ExpireDue(s.ctx, s.now)
		s.Require().NoError(err)
		s.Zero(n)
	})
}
