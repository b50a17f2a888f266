package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"forgecert/internal/audit"
	id "forgecert/pkg/domain"
	txcontext "forgecert/pkg/platform/tx"
)

// Store persists chain entries in an append-only table. The bigserial seq
// column gives a total insertion order for Snapshot; rows are never updated
// or deleted.
//
// Schema:
//
//	CREATE TABLE audit_entries (
//	    seq            BIGSERIAL PRIMARY KEY,
//	    id             UUID NOT NULL UNIQUE,
//	    actor_id       TEXT NOT NULL,
//	    actor_name     TEXT NOT NULL DEFAULT '',
//	    action         TEXT NOT NULL,
//	    entity_id      TEXT NOT NULL DEFAULT '',
//	    ts             TIMESTAMPTZ NOT NULL,
//	    metadata       JSONB NOT NULL DEFAULT '{}',
//	    previous_hash  TEXT NOT NULL DEFAULT '',
//	    integrity_hash TEXT NOT NULL
//	);
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO audit_entries (id, actor_id, actor_name, action, entity_id, ts, metadata, previous_hash, integrity_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.ActorID.String(),
		entry.ActorName,
		entry.Action,
		entry.EntityID,
		entry.Timestamp,
		metadata,
		entry.PreviousHash,
		entry.IntegrityHash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	query := `
		SELECT id, actor_id, actor_name, action, entity_id, ts, metadata, previous_hash, integrity_hash
		FROM audit_entries
	`
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}
	if !filter.ActorID.IsNil() {
		add("actor_id = ", filter.ActorID.String())
	}
	if filter.Action != "" {
		add("action = ", filter.Action)
	}
	if filter.EntityID != "" {
		add("entity_id = ", filter.EntityID)
	}
	if !filter.From.IsZero() {
		add("ts >= ", filter.From)
	}
	if !filter.To.IsZero() {
		add("ts <= ", filter.To)
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Snapshot reads the chain oldest-first up to the newest committed row. A
// single statement sees one MVCC snapshot, so concurrent appends cannot
// surface a torn prefix.
func (s *Store) Snapshot(ctx context.Context) ([]audit.Entry, error) {
	query := `
		SELECT id, actor_id, actor_name, action, entity_id, ts, metadata, previous_hash, integrity_hash
		FROM audit_entries
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("snapshot audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) LastHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT integrity_hash FROM audit_entries ORDER BY seq DESC LIMIT 1
	`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read chain tail: %w", err)
	}
	return hash, nil
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var out []audit.Entry
	for rows.Next() {
		var (
			e        audit.Entry
			actorID  string
			ts       time.Time
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &actorID, &e.ActorName, &e.Action, &e.EntityID, &ts, &metadata, &e.PreviousHash, &e.IntegrityHash); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ActorID = id.ActorID(actorID)
		e.Timestamp = ts.UTC()
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
