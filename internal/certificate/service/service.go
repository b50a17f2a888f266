// Package service manages the certificate lifecycle for certified forges.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"forgecert/internal/audit"
	"forgecert/internal/certificate/models"
	forgemodels "forgecert/internal/forge/models"
	"forgecert/internal/platform/metrics"
	"forgecert/internal/policy"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
	"forgecert/pkg/platform/sentinel"
	txcontext "forgecert/pkg/platform/tx"
	"forgecert/pkg/requestcontext"
)

// Store persists certificates. Create must reject duplicate verification
// codes and a second ACTIVE certificate for the same forge with
// sentinel.ErrConflict.
type Store interface {
	Create(ctx context.Context, c *models.Certificate) error
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	FindByCode(ctx context.Context, code string) (*models.Certificate, error)
	FindActiveByForge(ctx context.Context, forgeID id.ForgeID) (*models.Certificate, error)
	FindActiveByTwin(ctx context.Context, twinID id.TwinID) (*models.Certificate, error)
	Update(ctx context.Context, c *models.Certificate) error
}

// ForgeReader loads forges for issuance checks.
type ForgeReader interface {
	FindByID(ctx context.Context, forgeID id.ForgeID) (*forgemodels.Forge, error)
}

// Auditor appends entries to the tamper-evident chain.
type Auditor interface {
	Append(ctx context.Context, actorID id.ActorID, actorName, action, entityID string, metadata map[string]string) (audit.Entry, error)
}

// Cache is the optional read-through verification cache.
type Cache interface {
	Get(ctx context.Context, code string) (*models.Certificate, error)
	Set(ctx context.Context, code string, cert *models.Certificate)
	Invalidate(ctx context.Context, code string)
}

type Service struct {
	store   Store
	forges  ForgeReader
	auditor Auditor
	txr     txcontext.Runner
	cache   Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithTxRunner couples store writes and audit appends in one transaction.
func WithTxRunner(r txcontext.Runner) Option {
	return func(s *Service) { s.txr = r }
}

// WithClock overrides wall-clock time in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, forges ForgeReader, auditor Auditor, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("certificate store is required")
	}
	if forges == nil {
		return nil, fmt.Errorf("forge reader is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("auditor is required")
	}

	svc := &Service{
		store:   store,
		forges:  forges,
		auditor: auditor,
		txr:     txcontext.Passthrough{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("forgecert/certificate"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Issue mints a certificate for a certified forge. Idempotent: a second call
// for the same forge returns the existing ACTIVE certificate instead of
// creating a duplicate.
func (s *Service) Issue(ctx context.Context, forgeID id.ForgeID) (*models.Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.Issue")
	defer span.End()

	actor := requestcontext.Actor(ctx)
	if err := policy.Authorize(actor, id.ActionCertificateIssue, ""); err != nil {
		return nil, err
	}

	forge, err := s.forges.FindByID(ctx, forgeID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "forge not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load forge")
	}
	if !forge.CurrentState.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeValidation, "forge is not certified")
	}

	if existing, err := s.store.FindActiveByForge(ctx, forgeID); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "look up existing certificate")
	}

	// Code collisions and issue races both surface as ErrConflict; a code
	// collision gets a fresh code, an issue race returns the winner's row.
	for attempt := 0; attempt < 3; attempt++ {
		code, err := models.NewVerificationCode()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate verification code")
		}
		cert := &models.Certificate{
			ID:               id.NewCertificateID(),
			ForgeID:          forgeID,
			DigitalTwinID:    forge.DigitalTwinID,
			IssuedAt:         s.now().UTC(),
			IssuedBy:         actor.ID,
			Status:           models.StatusActive,
			VerificationCode: code,
		}

		err = s.txr.RunInTx(ctx, func(ctx context.Context) error {
			if cerr := s.store.Create(ctx, cert); cerr != nil {
				if errors.Is(cerr, sentinel.ErrConflict) {
					return cerr
				}
				return dErrors.Wrap(cerr, dErrors.CodeInternal, "store certificate")
			}
			_, aerr := s.auditor.Append(ctx, actor.ID, actor.Name, audit.ActionCertificateIssued, cert.ID.String(), map[string]string{
				"forge_id":        forgeID.String(),
				"digital_twin_id": cert.DigitalTwinID.String(),
			})
			return aerr
		})
		if errors.Is(err, sentinel.ErrConflict) {
			if winner, ferr := s.store.FindActiveByForge(ctx, forgeID); ferr == nil {
				return winner, nil
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.CertificatesIssued.Inc()
		}
		return cert, nil
	}
	return nil, dErrors.New(dErrors.CodeInternal, "could not allocate a unique verification code")
}

// Verify resolves a verification code to its certificate. Public path:
// malformed and unknown codes produce the identical not-found response so
// nothing leaks about which part of the code was wrong.
func (s *Service) Verify(ctx context.Context, rawCode string) (*models.Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.Verify")
	defer span.End()

	code, err := models.NormalizeCode(rawCode)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	grouped := models.FormatCode(code)

	if s.cache != nil {
		if cert, err := s.cache.Get(ctx, code); err == nil {
			return s.withEffectiveStatus(cert), nil
		}
	}

	cert, err := s.store.FindByCode(ctx, grouped)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "look up certificate")
	}

	if s.cache != nil {
		s.cache.Set(ctx, code, cert)
	}
	return s.withEffectiveStatus(cert), nil
}

// Revoke flips an ACTIVE certificate to REVOKED, one-way. The reason is
// mandatory and becomes part of the public verification response.
func (s *Service) Revoke(ctx context.Context, certID id.CertificateID, reason string) error {
	ctx, span := s.tracer.Start(ctx, "certificate.Revoke")
	defer span.End()

	actor := requestcontext.Actor(ctx)
	if err := policy.Authorize(actor, id.ActionCertificateRevoke, ""); err != nil {
		return err
	}
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "revocation reason is required")
	}

	cert, err := s.store.FindByID(ctx, certID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "certificate not found")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load certificate")
	}
	if cert.Status != models.StatusActive {
		return dErrors.New(dErrors.CodeValidation, "certificate is already "+string(cert.Status))
	}

	now := s.now().UTC()
	cert.Status = models.StatusRevoked
	cert.RevokedAt = &now
	cert.RevokedReason = reason
	err = s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if uerr := s.store.Update(ctx, cert); uerr != nil {
			return dErrors.Wrap(uerr, dErrors.CodeInternal, "persist revocation")
		}
		_, aerr := s.auditor.Append(ctx, actor.ID, actor.Name, audit.ActionCertificateRevoked, cert.ID.String(), map[string]string{
			"forge_id": cert.ForgeID.String(),
			"reason":   reason,
		})
		return aerr
	})
	if err != nil {
		return err
	}

	// Invalidate only after the revocation is committed, so a racing Verify
	// cannot repopulate the cache with the still-active row.
	if s.cache != nil {
		if code, err := models.NormalizeCode(cert.VerificationCode); err == nil {
			s.cache.Invalidate(ctx, code)
		}
	}
	if s.metrics != nil {
		s.metrics.CertificatesRevoked.Inc()
	}
	return nil
}

// ActiveByTwin returns the ACTIVE certificate for a digital twin, applying
// lazy expiry. The license ledger consults this before accepting grants.
func (s *Service) ActiveByTwin(ctx context.Context, twinID id.TwinID) (*models.Certificate, error) {
	cert, err := s.store.FindActiveByTwin(ctx, twinID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no active certificate for digital twin")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "look up certificate")
	}
	if cert.EffectiveStatus(s.now()) != models.StatusActive {
		return nil, dErrors.New(dErrors.CodeNotFound, "no active certificate for digital twin")
	}
	return cert, nil
}

func (s *Service) withEffectiveStatus(cert *models.Certificate) *models.Certificate {
	out := cert.Clone()
	out.Status = cert.EffectiveStatus(s.now())
	return out
}
