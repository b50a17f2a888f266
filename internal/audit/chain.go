// Package audit maintains the tamper-evident record of privileged actions.
//
// Every mutating operation in the system appends exactly one entry. Entries
// are hash-linked: each integrity hash covers the previous entry's hash, so
// retroactively editing a stored entry is detectable by replaying the chain.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"forgecert/internal/platform/metrics"
	id "forgecert/pkg/domain"
	dErrors "forgecert/pkg/domain-errors"
)

// Store persists chain entries. Append must be atomic: either the entry is
// durably written or nothing changes. Snapshot must return a consistent
// oldest-first prefix of the chain even while appends are in flight.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
	Snapshot(ctx context.Context) ([]Entry, error)
	LastHash(ctx context.Context) (string, error)
}

// Publisher fans entries out to an external sink (Kafka). Best-effort only:
// the chain in the store is the source of truth, never the sink.
type Publisher interface {
	Publish(ctx context.Context, entry Entry)
}

// Chain owns the chain pointer (the hash of the newest entry). All appends
// serialize on it, across entities, because the chain is global and
// ordering-sensitive.
type Chain struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	mu       sync.Mutex
	lastHash string
}

// Option configures optional collaborators.
type Option func(*Chain)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Chain) { c.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(c *Chain) { c.publisher = p }
}

// NewChain builds a Chain over the given store, seeding the chain pointer
// from the newest stored entry so the process can restart mid-chain.
func NewChain(ctx context.Context, store Store, opts ...Option) (*Chain, error) {
	if store == nil {
		return nil, fmt.Errorf("audit store is required")
	}

	last, err := store.LastHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed chain pointer: %w", err)
	}

	c := &Chain{
		store:    store,
		logger:   slog.Default(),
		tracer:   otel.Tracer("forgecert/audit"),
		lastHash: last,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Append links a new entry to the chain and persists it.
//
// The read-pointer/compute/write/advance sequence is one critical section:
// two concurrent appends must never claim the same previous hash. If the
// store write fails the pointer is not advanced, so there is no partial link.
func (c *Chain) Append(ctx context.Context, actorID id.ActorID, actorName, action, entityID string, metadata map[string]string) (Entry, error) {
	ctx, span := c.tracer.Start(ctx, "audit.Append")
	defer span.End()

	if actorID.IsNil() {
		return Entry{}, dErrors.New(dErrors.CodeInvalidInput, "actor_id is required")
	}
	if action == "" {
		return Entry{}, dErrors.New(dErrors.CodeInvalidInput, "action is required")
	}

	entry := Entry{
		ID:        uuid.New(),
		ActorID:   actorID,
		ActorName: actorName,
		Action:    action,
		EntityID:  entityID,
		// Microsecond precision survives a timestamptz round trip, keeping
		// recomputed hashes stable across re-serialization.
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Metadata:  metadata,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry.PreviousHash = c.lastHash
	entry.IntegrityHash = computeHash(c.lastHash, entry)

	if err := c.store.Append(ctx, entry); err != nil {
		return Entry{}, dErrors.Wrap(err, dErrors.CodeInternal, "append audit entry")
	}
	c.lastHash = entry.IntegrityHash

	if c.metrics != nil {
		c.metrics.AuditEntriesTotal.Inc()
	}
	c.logger.InfoContext(ctx, "audit entry appended",
		"action", action,
		"actor_id", actorID.String(),
		"entity_id", entityID,
		"log_type", "audit",
	)
	if c.publisher != nil {
		c.publisher.Publish(ctx, entry)
	}

	return entry, nil
}

// List returns entries newest-first, narrowed by filter. Read-only.
func (c *Chain) List(ctx context.Context, filter Filter) ([]Entry, error) {
	entries, err := c.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list audit entries")
	}
	return entries, nil
}

// VerifyIntegrity replays the whole chain oldest-first, recomputing every
// hash from the recomputed predecessor. It reports the first disagreeing
// index rather than failing, because this function is the last line of
// defense and must survive corrupted input.
//
// The walk runs against a snapshot, so concurrent appends cannot produce a
// false broken-chain report. The returned error covers store access only.
func (c *Chain) VerifyIntegrity(ctx context.Context) (VerificationResult, error) {
	ctx, span := c.tracer.Start(ctx, "audit.VerifyIntegrity")
	defer span.End()

	entries, err := c.store.Snapshot(ctx)
	if err != nil {
		return VerificationResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "snapshot audit chain")
	}

	prev := ""
	for i, entry := range entries {
		expected := computeHash(prev, entry)
		if entry.IntegrityHash != expected {
			broken := i
			if c.metrics != nil {
				c.metrics.ChainVerifications.WithLabelValues("broken").Inc()
			}
			c.logger.WarnContext(ctx, "audit chain verification failed",
				"broken_at_index", broken,
				"entry_id", entry.ID.String(),
				"log_type", "audit",
			)
			return VerificationResult{Valid: false, BrokenAt: &broken, Entries: len(entries)}, nil
		}
		prev = expected
	}

	if c.metrics != nil {
		c.metrics.ChainVerifications.WithLabelValues("valid").Inc()
	}
	return VerificationResult{Valid: true, Entries: len(entries)}, nil
}
