package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"forgecert/internal/audit"
	auditmemory "forgecert/internal/audit/store/memory"
	"forgecert/internal/certificate/models"
	certstore "forgecert/internal/certificate/store"
	forgemodels "forgecert/internal/forge/models"
	forgestore "forgecert/internal/forge/store"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
	"forgecert/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *certstore.InMemory
	forges  *forgestore.InMemory
	chain   *audit.Chain
	now     time.Time
	service *Service
}

func (s *ServiceSuite) SetupTest() {
	s.store = certstore.NewInMemory()
	s.forges = forgestore.NewInMemory()
	chain, err := audit.NewChain(context.Background(), auditmemory.New())
	s.Require().NoError(err)
	s.chain = chain
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	svc, err := New(s.store, s.forges, chain, WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	s.service = svc

	s.ctx = requestcontext.WithActor(context.Background(), requestcontext.ActorInfo{
		ID:   "operator-1",
		Name: "Operator One",
		Role: id.RoleOperator,
	})
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

// certifiedForge seeds a forge that completed the pipeline.
func (s *ServiceSuite) certifiedForge() *forgemodels.Forge {
	now := s.now.Add(-24 * time.Hour)
	f := &forgemodels.Forge{
		ID:            id.NewForgeID(),
		OwnerID:       "owner-1",
		Name:          "certified forge",
		CurrentState:  id.StateCertified,
		Version:       7,
		SeedHash:      forgemodels.DeriveSeedHash(id.NewForgeID(), "owner-1"),
		DigitalTwinID: id.NewTwinID(),
		CreatedAt:     now,
		UpdatedAt:     now,
		CertifiedAt:   &now,
	}
	s.Require().NoError(s.forges.Create(context.Background(), f))
	return f
}

// draftForge seeds a forge still at the first stage.
func (s *ServiceSuite) draftForge() *forgemodels.Forge {
	f := &forgemodels.Forge{
		ID:           id.NewForgeID(),
		OwnerID:      "owner-1",
		Name:         "draft forge",
		CurrentState: id.StateDraft,
		Version:      1,
		CreatedAt:    s.now,
		UpdatedAt:    s.now,
	}
	s.Require().NoError(s.forges.Create(context.Background(), f))
	return f
}

func (s *ServiceSuite) TestIssue() {
	s.Run("issues an active certificate for a certified forge", func() {
		f := s.certifiedForge()

		cert, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, cert.Status)
		s.Equal(f.DigitalTwinID, cert.DigitalTwinID)
		s.Equal(id.ActorID("operator-1"), cert.IssuedBy)

		// Grouped, checksummed, transcription-safe.
		_, err = models.NormalizeCode(cert.VerificationCode)
		s.NoError(err)
		s.Equal(3, strings.Count(cert.VerificationCode, "-"))
	})

	s.Run("is idempotent while a certificate is active", func() {
		f := s.certifiedForge()

		first, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)
		second, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)
		s.Equal(first.ID, second.ID)
		s.Equal(first.VerificationCode, second.VerificationCode)
	})

	s.Run("rejects a forge that has not completed the pipeline", func() {
		f := s.draftForge()

		_, err := s.service.Issue(s.ctx, f.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown forge is not found", func() {
		_, err := s.service.Issue(s.ctx, id.NewForgeID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("owner role may not issue", func() {
		f := s.certifiedForge()
		ownerCtx := requestcontext.WithActor(context.Background(), requestcontext.ActorInfo{
			ID: "owner-1", Role: id.RoleOwner,
		})

		_, err := s.service.Issue(ownerCtx, f.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("records an issuance audit entry", func() {
		f := s.certifiedForge()
		cert, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)

		entries, err := s.chain.List(s.ctx, audit.Filter{Action: audit.ActionCertificateIssued, EntityID: cert.ID.String()})
		s.Require().NoError(err)
		s.Len(entries, 1)
	})
}

// txMarker flags contexts produced by markedRunner so wrapped collaborators
// can report whether they ran inside the shared transaction scope.
type txMarker struct{}

type markedRunner struct {
	runs int
}

func (r *markedRunner) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	r.runs++
	return fn(context.WithValue(ctx, txMarker{}, true))
}

type txCheckedStore struct {
	Store
	createdInTx bool
}

func (c *txCheckedStore) Create(ctx context.Context, cert *models.Certificate) error {
	c.createdInTx = ctx.Value(txMarker{}) != nil
	return c.Store.Create(ctx, cert)
}

type txCheckedAuditor struct {
	inner        *audit.Chain
	appendedInTx bool
}

func (a *txCheckedAuditor) Append(ctx context.Context, actorID id.ActorID, actorName, action, entityID string, metadata map[string]string) (audit.Entry, error) {
	a.appendedInTx = ctx.Value(txMarker{}) != nil
	return a.inner.Append(ctx, actorID, actorName, action, entityID, metadata)
}

// TestIssueAndAuditShareTransaction pins the write coupling: the insert and
// its audit append must run inside the same runner invocation so a Postgres
// deployment commits or rolls back the pair together.
func (s *ServiceSuite) TestIssueAndAuditShareTransaction() {
	runner := &markedRunner{}
	store := &txCheckedStore{Store: s.store}
	auditor := &txCheckedAuditor{inner: s.chain}
	svc, err := New(store, s.forges, auditor,
		WithClock(func() time.Time { return s.now }),
		WithTxRunner(runner),
	)
	s.Require().NoError(err)

	f := s.certifiedForge()
	_, err = svc.Issue(s.ctx, f.ID)
	s.Require().NoError(err)
	s.Equal(1, runner.runs)
	s.True(store.createdInTx)
	s.True(auditor.appendedInTx)
}

func (s *ServiceSuite) TestVerify() {
	f := s.certifiedForge()
	cert, err := s.service.Issue(s.ctx, f.ID)
	s.Require().NoError(err)

	s.Run("resolves the grouped display form", func() {
		got, err := s.service.Verify(context.Background(), cert.VerificationCode)
		s.Require().NoError(err)
		s.Equal(cert.ID, got.ID)
		s.Equal(models.StatusActive, got.Status)
	})

	s.Run("tolerates lowercase and missing separators", func() {
		raw := strings.ToLower(strings.ReplaceAll(cert.VerificationCode, "-", ""))
		got, err := s.service.Verify(context.Background(), raw)
		s.Require().NoError(err)
		s.Equal(cert.ID, got.ID)
	})

	s.Run("malformed code reads as not found", func() {
		_, err := s.service.Verify(context.Background(), "not-a-code")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("well-formed unknown code reads as not found", func() {
		unknown, err := models.NewVerificationCode()
		s.Require().NoError(err)

		_, err = s.service.Verify(context.Background(), unknown)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("reports expiry lazily without a sweep", func() {
		expires := s.now.Add(time.Hour)
		cert.ExpiresAt = &expires
		s.Require().NoError(s.store.Update(context.Background(), cert))

		s.now = s.now.Add(2 * time.Hour)
		got, err := s.service.Verify(context.Background(), cert.VerificationCode)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, got.Status)
	})
}

func (s *ServiceSuite) TestRevoke() {
	s.Run("requires a reason", func() {
		f := s.certifiedForge()
		cert, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)

		err = s.service.Revoke(s.ctx, cert.ID, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("operator may not revoke", func() {
		f := s.certifiedForge()
		cert, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)

		err = s.service.Revoke(s.ctx, cert.ID, "compromised")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("admin revocation is visible to public verification", func() {
		f := s.certifiedForge()
		cert, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)

		adminCtx := requestcontext.WithActor(context.Background(), requestcontext.ActorInfo{
			ID: "admin-1", Name: "Admin", Role: id.RoleAdmin,
		})
		s.Require().NoError(s.service.Revoke(adminCtx, cert.ID, "forged provenance"))

		got, err := s.service.Verify(context.Background(), cert.VerificationCode)
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, got.Status)
		s.Equal("forged provenance", got.RevokedReason)
		s.NotNil(got.RevokedAt)
	})

	s.Run("revocation is one-way", func() {
		f := s.certifiedForge()
		cert, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)

		adminCtx := requestcontext.WithActor(context.Background(), requestcontext.ActorInfo{
			ID: "admin-1", Role: id.RoleAdmin,
		})
		s.Require().NoError(s.service.Revoke(adminCtx, cert.ID, "first"))

		err = s.service.Revoke(adminCtx, cert.ID, "second")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("a fresh certificate may be issued after revocation", func() {
		f := s.certifiedForge()
		first, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)

		adminCtx := requestcontext.WithActor(context.Background(), requestcontext.ActorInfo{
			ID: "admin-1", Role: id.RoleAdmin,
		})
		s.Require().NoError(s.service.Revoke(adminCtx, first.ID, "superseded"))

		second, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)
		s.NotEqual(first.ID, second.ID)
		s.NotEqual(first.VerificationCode, second.VerificationCode)
	})
}

func (s *ServiceSuite) TestActiveByTwin() {
	s.Run("returns the active certificate", func() {
		f := s.certifiedForge()
		cert, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)

		got, err := s.service.ActiveByTwin(context.Background(), f.DigitalTwinID)
		s.Require().NoError(err)
		s.Equal(cert.ID, got.ID)
	})

	s.Run("not found when the certificate has lapsed", func() {
		f := s.certifiedForge()
		cert, err := s.service.Issue(s.ctx, f.ID)
		s.Require().NoError(err)

		expires := s.now.Add(-time.Minute)
		cert.ExpiresAt = &expires
		s.Require().NoError(s.store.Update(context.Background(), cert))

		_, err = s.service.ActiveByTwin(context.Background(), f.DigitalTwinID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("not found for an unknown twin", func() {
		_, err := s.service.ActiveByTwin(context.Background(), id.NewTwinID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
