package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"forgecert/internal/forge/models"
	id "forgecert/pkg/domain"
	"forgecert/pkg/platform/sentinel"
	txcontext "forgecert/pkg/platform/tx"
)

// Postgres persists forges with a version column for optimistic concurrency.
//
// Schema:
//
//	CREATE TABLE forges (
//	    id              UUID PRIMARY KEY,
//	    owner_id        TEXT NOT NULL,
//	    name            TEXT NOT NULL,
//	    current_state   TEXT NOT NULL,
//	    version         BIGINT NOT NULL DEFAULT 1,
//	    seed_hash       TEXT NOT NULL DEFAULT '',
//	    digital_twin_id TEXT NOT NULL DEFAULT '',
//	    created_at      TIMESTAMPTZ NOT NULL,
//	    updated_at      TIMESTAMPTZ NOT NULL,
//	    certified_at    TIMESTAMPTZ
//	);
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Create(ctx context.Context, f *models.Forge) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO forges (id, owner_id, name, current_state, version, seed_hash, digital_twin_id, created_at, updated_at, certified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		f.ID.String(), f.OwnerID.String(), f.Name, f.CurrentState.String(),
		f.Version, f.SeedHash, f.DigitalTwinID.String(), f.CreatedAt, f.UpdatedAt, f.CertifiedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert forge: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, forgeID id.ForgeID) (*models.Forge, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, owner_id, name, current_state, version, seed_hash, digital_twin_id, created_at, updated_at, certified_at
		FROM forges WHERE id = $1
	`, forgeID.String())
	return scanForge(row)
}

func (s *Postgres) List(ctx context.Context) ([]*models.Forge, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, owner_id, name, current_state, version, seed_hash, digital_twin_id, created_at, updated_at, certified_at
		FROM forges ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list forges: %w", err)
	}
	defer rows.Close()

	var out []*models.Forge
	for rows.Next() {
		f, err := scanForgeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Update applies the row only when the version matches, bumping it in the
// same statement so the check-and-write is atomic on the database side.
func (s *Postgres) Update(ctx context.Context, f *models.Forge) error {
	now := time.Now().UTC()
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE forges
		SET current_state = $1, seed_hash = $2, digital_twin_id = $3,
		    updated_at = $4, certified_at = $5, version = version + 1
		WHERE id = $6 AND version = $7
	`,
		f.CurrentState.String(), f.SeedHash, f.DigitalTwinID.String(),
		now, f.CertifiedAt, f.ID.String(), f.Version,
	)
	if err != nil {
		return fmt.Errorf("update forge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update forge rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from a lost version race.
		var exists bool
		if err := s.q(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM forges WHERE id = $1)`, f.ID.String(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("check forge existence: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrVersionMismatch
	}
	f.Version++
	f.UpdatedAt = now
	return nil
}

func (s *Postgres) Delete(ctx context.Context, forgeID id.ForgeID) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM forges WHERE id = $1`, forgeID.String())
	if err != nil {
		return fmt.Errorf("delete forge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete forge rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInto(sc rowScanner) (*models.Forge, error) {
	var (
		f           models.Forge
		forgeID     string
		ownerID     string
		state       string
		twinID      string
		certifiedAt sql.NullTime
	)
	err := sc.Scan(&forgeID, &ownerID, &f.Name, &state, &f.Version, &f.SeedHash, &twinID, &f.CreatedAt, &f.UpdatedAt, &certifiedAt)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan forge: %w", err)
	}

	parsed, err := id.ParseForgeID(forgeID)
	if err != nil {
		return nil, fmt.Errorf("stored forge id invalid: %w", err)
	}
	f.ID = parsed
	f.OwnerID = id.ActorID(ownerID)
	f.CurrentState = id.PipelineState(state)
	f.DigitalTwinID = id.TwinID(twinID)
	if certifiedAt.Valid {
		t := certifiedAt.Time.UTC()
		f.CertifiedAt = &t
	}
	return &f, nil
}

func scanForge(row *sql.Row) (*models.Forge, error) { return scanInto(row) }

func scanForgeRows(rows *sql.Rows) (*models.Forge, error) { return scanInto(rows) }
