// Package service drives forges through the certification pipeline.
//
// All movement rules live in models.ValidateTransition; this service wires
// them to the store (optimistic concurrency), the access policy, and the
// audit chain. Once a forge is certified it is read-only forever; only
// certificate and license side records may reference it afterwards.
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
	"forgecert/internal/forge/models"
	"forgecert/internal/platform/metrics"
	"forgecert/internal/policy"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
	"forgecert/pkg/platform/sentinel"
	txcontext "forgecert/pkg/platform/tx"
	"forgecert/pkg/requestcontext"
)

// Store persists forges. Update must fail with sentinel.ErrVersionMismatch
// when the caller's version is stale.
type Store interface {
	Create(ctx context.Context, f *models.Forge) error
	FindByID(ctx context.Context, forgeID id.ForgeID) (*models.Forge, error)
	List(ctx context.Context) ([]*models.Forge, error)
	Update(ctx context.Context, f *models.Forge) error
	Delete(ctx context.Context, forgeID id.ForgeID) error
}

// Auditor appends entries to the tamper-evident chain.
type Auditor interface {
	Append(ctx context.Context, actorID id.ActorID, actorName, action, entityID string, metadata map[string]string) (audit.Entry, error)
}

type Service struct {
	store   Store
	auditor Auditor
	txr     txcontext.Runner
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTxRunner couples store writes and audit appends in one transaction.
func WithTxRunner(r txcontext.Runner) Option {
	return func(s *Service) { s.txr = r }
}

func New(store Store, auditor Auditor, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("forge store is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("auditor is required")
	}

	svc := &Service{
		store:   store,
		auditor: auditor,
		txr:     txcontext.Passthrough{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("forgecert/forge"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create registers a new forge in the first pipeline stage, owned by the
// acting principal.
func (s *Service) Create(ctx context.Context, name string) (*models.Forge, error) {
	ctx, span := s.tracer.Start(ctx, "forge.Create")
	defer span.End()

	actor := requestcontext.Actor(ctx)
	if err := policy.Authorize(actor, id.ActionForgeCreate, ""); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "forge name is required")
	}

	now := time.Now().UTC()
	f := &models.Forge{
		ID:           id.NewForgeID(),
		OwnerID:      actor.ID,
		Name:         name,
		CurrentState: id.StateDraft,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, f); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "create forge")
		}
		_, err := s.auditor.Append(ctx, actor.ID, actor.Name, audit.ActionForgeCreated, f.ID.String(), map[string]string{
			"name":  name,
			"state": f.CurrentState.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Get returns the forge by ID.
func (s *Service) Get(ctx context.Context, forgeID id.ForgeID) (*models.Forge, error) {
	f, err := s.store.FindByID(ctx, forgeID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "forge not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load forge")
	}
	return f, nil
}

// List returns all forges.
func (s *Service) List(ctx context.Context) ([]*models.Forge, error) {
	forges, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list forges")
	}
	return forges, nil
}

// Transition advances the forge to the requested target stage. Reaching the
// terminal stage mints the digital twin ID and locks the forge permanently.
func (s *Service) Transition(ctx context.Context, forgeID id.ForgeID, target id.PipelineState) (*models.Forge, error) {
	ctx, span := s.tracer.Start(ctx, "forge.Transition")
	defer span.End()

	if !target.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "target state is not a pipeline stage")
	}
	return s.move(ctx, forgeID, id.ActionForgeTransition, func(id.PipelineState) id.PipelineState {
		return target
	})
}

// Rollback moves the forge to the stage immediately before its current one,
// supporting reprocessing without minting a new identity.
func (s *Service) Rollback(ctx context.Context, forgeID id.ForgeID) (*models.Forge, error) {
	ctx, span := s.tracer.Start(ctx, "forge.Rollback")
	defer span.End()

	return s.move(ctx, forgeID, id.ActionForgeRollback, func(current id.PipelineState) id.PipelineState {
		prev, ok := current.Prev()
		if !ok {
			// Leave the invalid target for ValidateTransition to reject so
			// the caller sees a uniform validation error.
			return current
		}
		return prev
	})
}

// move is the shared read-validate-write cycle. A stale version triggers one
// re-read and retry; a second conflict surfaces to the caller.
func (s *Service) move(ctx context.Context, forgeID id.ForgeID, action id.Action, pickTarget func(id.PipelineState) id.PipelineState) (*models.Forge, error) {
	actor := requestcontext.Actor(ctx)

	var conflict error
	for attempt := 0; attempt < 2; attempt++ {
		f, err := s.Get(ctx, forgeID)
		if err != nil {
			return nil, err
		}
		if err := policy.Authorize(actor, action, f.CurrentState); err != nil {
			return nil, err
		}

		target := pickTarget(f.CurrentState)
		if err := models.ValidateTransition(f.CurrentState, target); err != nil {
			if s.metrics != nil {
				s.metrics.TransitionsRejected.Inc()
			}
			return nil, err
		}

		from := f.CurrentState
		f.CurrentState = target
		s.applyDerived(f, target)

		auditAction := audit.ActionStateChanged
		if target.IsTerminal() {
			auditAction = audit.ActionCertified
		}
		// The row update and its audit entry commit together: a failed
		// append must not leave a silently moved forge behind.
		err = s.txr.RunInTx(ctx, func(ctx context.Context) error {
			if uerr := s.store.Update(ctx, f); uerr != nil {
				if errors.Is(uerr, sentinel.ErrVersionMismatch) || errors.Is(uerr, sentinel.ErrNotFound) {
					return uerr
				}
				return dErrors.Wrap(uerr, dErrors.CodeInternal, "persist transition")
			}
			_, aerr := s.auditor.Append(ctx, actor.ID, actor.Name, auditAction, f.ID.String(), map[string]string{
				"from": from.String(),
				"to":   target.String(),
			})
			return aerr
		})
		if errors.Is(err, sentinel.ErrVersionMismatch) {
			conflict = err
			continue
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "forge not found")
		}
		if err != nil {
			return nil, err
		}

		if s.metrics != nil {
			s.metrics.TransitionsTotal.WithLabelValues(target.String()).Inc()
			if target.IsTerminal() {
				s.metrics.ForgesCertified.Inc()
			}
		}
		s.logger.InfoContext(ctx, "forge transition applied",
			"forge_id", f.ID.String(),
			"from", from.String(),
			"to", target.String(),
			"actor_id", actor.ID.String(),
		)
		return f, nil
	}

	return nil, dErrors.Wrap(conflict, dErrors.CodeConflict, "forge modified concurrently, retry the request")
}

// applyDerived mints stage-entry artifacts. Both are generated exactly once:
// a retried transition must never overwrite an existing value.
func (s *Service) applyDerived(f *models.Forge, target id.PipelineState) {
	if target == id.StateParametrized && f.SeedHash == "" {
		f.SeedHash = models.DeriveSeedHash(f.ID, f.OwnerID)
	}
	if target.IsTerminal() && f.DigitalTwinID.IsNil() {
		f.DigitalTwinID = id.NewTwinID()
		now := time.Now().UTC()
		f.CertifiedAt = &now
	}
}

// Delete removes a non-certified forge. Owners may only delete their own;
// admins may delete any. The deletion itself is audited.
func (s *Service) Delete(ctx context.Context, forgeID id.ForgeID) error {
	ctx, span := s.tracer.Start(ctx, "forge.Delete")
	defer span.End()

	actor := requestcontext.Actor(ctx)
	f, err := s.Get(ctx, forgeID)
	if err != nil {
		return err
	}
	if err := policy.Authorize(actor, id.ActionForgeDelete, f.CurrentState); err != nil {
		return err
	}
	if actor.Role != id.RoleAdmin && f.OwnerID != actor.ID {
		return dErrors.New(dErrors.CodeForbidden, "only the owner may delete this forge")
	}
	if f.CurrentState.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "certified forges cannot be deleted")
	}

	return s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Delete(ctx, forgeID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Wrap(err, dErrors.CodeNotFound, "forge not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "delete forge")
		}
		_, err := s.auditor.Append(ctx, actor.ID, actor.Name, audit.ActionForgeDeleted, forgeID.String(), map[string]string{
			"state": f.CurrentState.String(),
		})
		return err
	})
}
