// Package sweeper periodically flips time-expired licenses and certificates
// to their terminal status. Purely advisory: every read path recomputes
// effective status lazily, so a stalled sweep never changes observable
// behavior, it only keeps stored rows tidy.
package sweeper

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"forgecert/internal/audit"
	id "forgecert/pkg/domain"
)

// systemActor attributes sweep-driven mutations in the audit chain.
const systemActor = id.ActorID("system")

// Expirer flips due rows to their terminal status, returning how many.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// Auditor appends entries to the tamper-evident chain.
type Auditor interface {
	Append(ctx context.Context, actorID id.ActorID, actorName, action, entityID string, metadata map[string]string) (audit.Entry, error)
}

type Sweeper struct {
	interval     time.Duration
	licenses     Expirer
	certificates Expirer
	auditor      Auditor
	logger       *slog.Logger
}

func New(interval time.Duration, licenses, certificates Expirer, auditor Auditor, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		interval:     interval,
		licenses:     licenses,
		certificates: certificates,
		auditor:      auditor,
		logger:       logger,
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()

	var licenseCount, certCount int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.licenses.ExpireDue(gctx, now)
		licenseCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.certificates.ExpireDue(gctx, now)
		certCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
		return
	}

	if licenseCount > 0 || certCount > 0 {
		if _, err := s.auditor.Append(ctx, systemActor, "expiry sweep", audit.ActionLicenseExpiredSweep, "", map[string]string{
			"expired_licenses":     strconv.Itoa(licenseCount),
			"expired_certificates": strconv.Itoa(certCount),
		}); err != nil {
			s.logger.ErrorContext(ctx, "audit sweep result", "error", err)
		}
		s.logger.InfoContext(ctx, "expiry sweep completed",
			"expired_licenses", licenseCount,
			"expired_certificates", certCount,
		)
	}
}
