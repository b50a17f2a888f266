package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"forgecert/internal/license/models"
	id "forgecert/pkg/domain"
	"forgecert/pkg/platform/sentinel"
	txcontext "forgecert/pkg/platform/tx"
)

// Postgres persists licenses. The guarded UPDATE in RecordUsage makes the
// quota check-and-increment atomic on the database side.
//
// Schema:
//
//	CREATE TABLE licenses (
//	    id                UUID PRIMARY KEY,
//	    digital_twin_id   TEXT NOT NULL,
//	    grantee_id        TEXT NOT NULL,
//	    usage_type        TEXT NOT NULL,
//	    territories       TEXT[] NOT NULL,
//	    valid_from        TIMESTAMPTZ NOT NULL,
//	    valid_until       TIMESTAMPTZ NOT NULL,
//	    status            TEXT NOT NULL,
//	    max_downloads     INTEGER,
//	    current_downloads INTEGER NOT NULL DEFAULT 0,
//	    created_by        TEXT NOT NULL,
//	    created_at        TIMESTAMPTZ NOT NULL,
//	    revoked_at        TIMESTAMPTZ,
//	    revoked_reason    TEXT NOT NULL DEFAULT ''
//	);
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const licenseColumns = `id, digital_twin_id, grantee_id, usage_type, territories, valid_from, valid_until, status, max_downloads, current_downloads, created_by, created_at, revoked_at, revoked_reason`

func (s *Postgres) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return tx.ExecContext(ctx, query, args...)
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Postgres) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if tx, ok := txcontext.From(ctx); ok {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *Postgres) Create(ctx context.Context, l *models.License) error {
	_, err := s.exec(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		l.ID.String(), l.DigitalTwinID.String(), l.GranteeID.String(), string(l.UsageType),
		pq.Array(l.Territories), l.ValidFrom, l.ValidUntil, string(l.Status),
		l.MaxDownloads, l.CurrentDownloads, l.CreatedBy.String(), l.CreatedAt,
		l.RevokedAt, l.RevokedReason,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, licenseID id.LicenseID) (*models.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, licenseID.String())
	return scanLicense(row)
}

// Update persists status and revocation fields. The usage counter is owned
// by RecordUsage and never written here: a stale snapshot must not clobber a
// concurrent increment.
func (s *Postgres) Update(ctx context.Context, l *models.License) error {
	res, err := s.exec(ctx, `
		UPDATE licenses
		SET status = $1, revoked_at = $2, revoked_reason = $3
		WHERE id = $4
	`, string(l.Status), l.RevokedAt, l.RevokedReason, l.ID.String())
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update license rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// RecordUsage increments the counter only when the license is effectively
// ACTIVE and under quota, in a single guarded statement. When the guard
// misses, the row is re-read to diagnose which sentinel applies, and lazy
// expiry is persisted on the way.
func (s *Postgres) RecordUsage(ctx context.Context, licenseID id.LicenseID, now time.Time) (*models.License, error) {
	row := s.queryRow(ctx, `
		UPDATE licenses
		SET current_downloads = current_downloads + 1
		WHERE id = $1 AND status = 'ACTIVE'
		  AND valid_from <= $2 AND valid_until >= $2
		  AND (max_downloads IS NULL OR current_downloads < max_downloads)
		RETURNING `+licenseColumns,
		licenseID.String(), now)

	l, err := scanLicense(row)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	current, err := s.FindByID(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	switch {
	case current.Status == models.StatusRevoked:
		return nil, sentinel.ErrRevoked
	case current.Status == models.StatusExpired:
		return nil, sentinel.ErrExpired
	case now.After(current.ValidUntil):
		// Persist lazy expiry so later reads see the terminal status. On the
		// pool, not the caller's transaction: the usage attempt is about to
		// roll back and the flip must survive it.
		_, _ = s.db.ExecContext(ctx, `UPDATE licenses SET status = 'EXPIRED' WHERE id = $1 AND status = 'ACTIVE'`, licenseID.String())
		return nil, sentinel.ErrExpired
	case now.Before(current.ValidFrom):
		return nil, sentinel.ErrInvalidState
	default:
		return nil, sentinel.ErrQuotaExceeded
	}
}

func (s *Postgres) ListActiveByTwin(ctx context.Context, twinID id.TwinID, now time.Time) ([]*models.License, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+licenseColumns+` FROM licenses
		WHERE digital_twin_id = $1 AND status = 'ACTIVE'
		  AND valid_from <= $2 AND valid_until >= $2
		ORDER BY created_at DESC
	`, twinID.String(), now)
	if err != nil {
		return nil, fmt.Errorf("list active licenses: %w", err)
	}
	defer rows.Close()
	return scanLicenses(rows)
}

func (s *Postgres) ListByGrantee(ctx context.Context, granteeID id.ActorID) ([]*models.License, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+licenseColumns+` FROM licenses
		WHERE grantee_id = $1
		ORDER BY created_at DESC
	`, granteeID.String())
	if err != nil {
		return nil, fmt.Errorf("list licenses by grantee: %w", err)
	}
	defer rows.Close()
	return scanLicenses(rows)
}

func (s *Postgres) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.exec(ctx, `
		UPDATE licenses SET status = 'EXPIRED'
		WHERE status = 'ACTIVE' AND valid_until < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire licenses: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire licenses rows affected: %w", err)
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(sc rowScanner) (*models.License, error) {
	var (
		l            models.License
		licenseID    string
		twinID       string
		granteeID    string
		usageType    string
		territories  pq.StringArray
		status       string
		maxDownloads sql.NullInt64
		createdBy    string
		revokedAt    sql.NullTime
	)
	err := sc.Scan(&licenseID, &twinID, &granteeID, &usageType, &territories,
		&l.ValidFrom, &l.ValidUntil, &status, &maxDownloads, &l.CurrentDownloads,
		&createdBy, &l.CreatedAt, &revokedAt, &l.RevokedReason)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan license: %w", err)
	}

	parsed, err := id.ParseLicenseID(licenseID)
	if err != nil {
		return nil, fmt.Errorf("stored license id invalid: %w", err)
	}
	l.ID = parsed
	l.DigitalTwinID = id.TwinID(twinID)
	l.GranteeID = id.ActorID(granteeID)
	l.UsageType = models.UsageType(usageType)
	l.Territories = []string(territories)
	l.Status = models.Status(status)
	if maxDownloads.Valid {
		n := int(maxDownloads.Int64)
		l.MaxDownloads = &n
	}
	l.CreatedBy = id.ActorID(createdBy)
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		l.RevokedAt = &t
	}
	return &l, nil
}

func scanLicenses(rows *sql.Rows) ([]*models.License, error) {
	var out []*models.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
