// Package service grants, meters and retracts usage rights scoped to a
// certified digital twin.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"forgecert/internal/audit"
	certmodels "forgecert/internal/certificate/models"
	"forgecert/internal/license/models"
	"forgecert/internal/platform/metrics"
	"forgecert/internal/policy"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
	"forgecert/pkg/platform/sentinel"
	txcontext "forgecert/pkg/platform/tx"
	"forgecert/pkg/requestcontext"
)

// Store persists licenses. RecordUsage must be atomic per license: the
// status/quota check and the increment happen under one guard. Update writes
// status and revocation fields only; the usage counter belongs to
// RecordUsage.
type Store interface {
	Create(ctx context.Context, l *models.License) error
	FindByID(ctx context.Context, licenseID id.LicenseID) (*models.License, error)
	Update(ctx context.Context, l *models.License) error
	RecordUsage(ctx context.Context, licenseID id.LicenseID, now time.Time) (*models.License, error)
	ListActiveByTwin(ctx context.Context, twinID id.TwinID, now time.Time) ([]*models.License, error)
	ListByGrantee(ctx context.Context, granteeID id.ActorID) ([]*models.License, error)
}

// Certifier confirms a digital twin holds an ACTIVE certificate. License
// creation requires it; existing licenses deliberately do not re-check
// (certificate revocation does not cascade to granted rights).
type Certifier interface {
	ActiveByTwin(ctx context.Context, twinID id.TwinID) (*certmodels.Certificate, error)
}

// Auditor appends entries to the tamper-evident chain.
type Auditor interface {
	Append(ctx context.Context, actorID id.ActorID, actorName, action, entityID string, metadata map[string]string) (audit.Entry, error)
}

type Service struct {
	store     Store
	certifier Certifier
	auditor   Auditor
	txr       txcontext.Runner
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides wall-clock time in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTxRunner couples store writes and audit appends in one transaction.
func WithTxRunner(r txcontext.Runner) Option {
	return func(s *Service) { s.txr = r }
}

func New(store Store, certifier Certifier, auditor Auditor, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("license store is required")
	}
	if certifier == nil {
		return nil, fmt.Errorf("certifier is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("auditor is required")
	}

	svc := &Service{
		store:     store,
		certifier: certifier,
		auditor:   auditor,
		txr:       txcontext.Passthrough{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("forgecert/license"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateRequest carries the grant parameters.
type CreateRequest struct {
	DigitalTwinID id.TwinID
	GranteeID     id.ActorID
	UsageType     models.UsageType
	Territories   []string
	ValidFrom     time.Time
	ValidUntil    time.Time
	MaxDownloads  *int
}

// Create issues a new grant against a twin with an ACTIVE certificate.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.License, error) {
	ctx, span := s.tracer.Start(ctx, "license.Create")
	defer span.End()

	actor := requestcontext.Actor(ctx)
	if err := policy.Authorize(actor, id.ActionLicenseCreate, ""); err != nil {
		return nil, err
	}

	if req.DigitalTwinID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "digital_twin_id is required")
	}
	if req.GranteeID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "grantee_id is required")
	}
	if len(req.Territories) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one territory is required")
	}
	if !req.ValidFrom.Before(req.ValidUntil) {
		return nil, dErrors.New(dErrors.CodeValidation, "valid_from must be before valid_until")
	}
	if req.MaxDownloads != nil && *req.MaxDownloads <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "max_downloads must be positive when set")
	}

	if _, err := s.certifier.ActiveByTwin(ctx, req.DigitalTwinID); err != nil {
		return nil, err
	}

	l := &models.License{
		ID:            id.NewLicenseID(),
		DigitalTwinID: req.DigitalTwinID,
		GranteeID:     req.GranteeID,
		UsageType:     req.UsageType,
		Territories:   req.Territories,
		ValidFrom:     req.ValidFrom.UTC(),
		ValidUntil:    req.ValidUntil.UTC(),
		Status:        models.StatusActive,
		MaxDownloads:  req.MaxDownloads,
		CreatedBy:     actor.ID,
		CreatedAt:     s.now().UTC(),
	}
	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if cerr := s.store.Create(ctx, l); cerr != nil {
			return dErrors.Wrap(cerr, dErrors.CodeInternal, "create license")
		}
		_, aerr := s.auditor.Append(ctx, actor.ID, actor.Name, audit.ActionLicenseCreated, l.ID.String(), map[string]string{
			"digital_twin_id": l.DigitalTwinID.String(),
			"grantee_id":      l.GranteeID.String(),
			"usage_type":      string(l.UsageType),
		})
		return aerr
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.LicensesCreated.Inc()
	}
	return l, nil
}

// Get returns the license with its effective status at read time.
func (s *Service) Get(ctx context.Context, licenseID id.LicenseID) (*models.License, error) {
	l, err := s.store.FindByID(ctx, licenseID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "license not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load license")
	}
	l.Status = l.EffectiveStatus(s.now())
	return l, nil
}

// RecordUsage consumes one download from the grant. The check-and-increment
// is atomic in the store, so concurrent calls can never overshoot the quota.
func (s *Service) RecordUsage(ctx context.Context, licenseID id.LicenseID) error {
	ctx, span := s.tracer.Start(ctx, "license.RecordUsage")
	defer span.End()

	actor := requestcontext.Actor(ctx)
	if err := policy.Authorize(actor, id.ActionLicenseUsage, ""); err != nil {
		s.countUsage("denied")
		return err
	}

	// Grantees may only draw down their own grants; admins act on any.
	if actor.Role == id.RoleGrantee {
		l, err := s.Get(ctx, licenseID)
		if err != nil {
			return err
		}
		if l.GranteeID != actor.ID {
			s.countUsage("denied")
			return dErrors.New(dErrors.CodeForbidden, "license belongs to a different grantee")
		}
	}

	// The increment and its audit entry commit together: a failed append
	// must not burn a download from the quota.
	var l *models.License
	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		var rerr error
		l, rerr = s.store.RecordUsage(ctx, licenseID, s.now())
		if rerr != nil {
			return rerr
		}
		_, aerr := s.auditor.Append(ctx, actor.ID, actor.Name, audit.ActionLicenseUsage, l.ID.String(), map[string]string{
			"digital_twin_id":   l.DigitalTwinID.String(),
			"current_downloads": strconv.Itoa(l.CurrentDownloads),
		})
		return aerr
	})
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		s.countUsage("not_found")
		return dErrors.Wrap(err, dErrors.CodeNotFound, "license not found")
	case errors.Is(err, sentinel.ErrRevoked):
		s.countUsage("revoked")
		return dErrors.New(dErrors.CodeValidation, "license is revoked")
	case errors.Is(err, sentinel.ErrExpired):
		s.countUsage("expired")
		return dErrors.New(dErrors.CodeValidation, "license is expired")
	case errors.Is(err, sentinel.ErrInvalidState):
		s.countUsage("not_yet_valid")
		return dErrors.New(dErrors.CodeValidation, "license validity window has not opened")
	case errors.Is(err, sentinel.ErrQuotaExceeded):
		s.countUsage("quota_exceeded")
		return dErrors.New(dErrors.CodeValidation, "download quota exceeded")
	case err != nil:
		s.countUsage("error")
		return dErrors.Wrap(err, dErrors.CodeInternal, "record usage")
	}

	s.countUsage("ok")
	return nil
}

// Revoke flips an ACTIVE license to REVOKED, one-way. Blocks further usage
// immediately regardless of the remaining validity window.
func (s *Service) Revoke(ctx context.Context, licenseID id.LicenseID, reason string) error {
	ctx, span := s.tracer.Start(ctx, "license.Revoke")
	defer span.End()

	actor := requestcontext.Actor(ctx)
	if err := policy.Authorize(actor, id.ActionLicenseRevoke, ""); err != nil {
		return err
	}
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "revocation reason is required")
	}

	l, err := s.Get(ctx, licenseID)
	if err != nil {
		return err
	}
	if l.Status != models.StatusActive {
		return dErrors.New(dErrors.CodeValidation, "license is already "+string(l.Status))
	}

	now := s.now().UTC()
	l.Status = models.StatusRevoked
	l.RevokedAt = &now
	l.RevokedReason = reason
	return s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if uerr := s.store.Update(ctx, l); uerr != nil {
			return dErrors.Wrap(uerr, dErrors.CodeInternal, "persist revocation")
		}
		_, aerr := s.auditor.Append(ctx, actor.ID, actor.Name, audit.ActionLicenseRevoked, l.ID.String(), map[string]string{
			"digital_twin_id": l.DigitalTwinID.String(),
			"reason":          reason,
		})
		return aerr
	})
}

// ListActive returns currently effective licenses for a twin.
func (s *Service) ListActive(ctx context.Context, twinID id.TwinID) ([]*models.License, error) {
	out, err := s.store.ListActiveByTwin(ctx, twinID, s.now())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list active licenses")
	}
	return out, nil
}

// ListByGrantee returns all licenses held by a grantee, with effective
// status applied.
func (s *Service) ListByGrantee(ctx context.Context, granteeID id.ActorID) ([]*models.License, error) {
	out, err := s.store.ListByGrantee(ctx, granteeID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list licenses by grantee")
	}
	now := s.now()
	for _, l := range out {
		l.Status = l.EffectiveStatus(now)
	}
	return out, nil
}

func (s *Service) countUsage(outcome string) {
	if s.metrics != nil {
		s.metrics.LicenseUsageTotal.WithLabelValues(outcome).Inc()
	}
}
