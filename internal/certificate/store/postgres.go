package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"forgecert/internal/certificate/models"
	id "forgecert/pkg/domain"
	"forgecert/pkg/platform/sentinel"
	txcontext "forgecert/pkg/platform/tx"
)

// Postgres persists certificates. The partial unique index enforces the
// one-ACTIVE-per-forge invariant on the database side so concurrent issue
// calls cannot both insert.
//
// Schema:
//
//	CREATE TABLE certificates (
//	    id                UUID PRIMARY KEY,
//	    forge_id          UUID NOT NULL,
//	    digital_twin_id   TEXT NOT NULL,
//	    issued_at         TIMESTAMPTZ NOT NULL,
//	    issued_by         TEXT NOT NULL,
//	    status            TEXT NOT NULL,
//	    verification_code TEXT NOT NULL UNIQUE,
//	    expires_at        TIMESTAMPTZ,
//	    revoked_at        TIMESTAMPTZ,
//	    revoked_reason    TEXT NOT NULL DEFAULT ''
//	);
//	CREATE UNIQUE INDEX certificates_one_active_per_forge
//	    ON certificates (forge_id) WHERE status = 'ACTIVE';
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const certColumns = `id, forge_id, digital_twin_id, issued_at, issued_by, status, verification_code, expires_at, revoked_at, revoked_reason`

func (s *Postgres) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return tx.ExecContext(ctx, query, args...)
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Postgres) Create(ctx context.Context, c *models.Certificate) error {
	_, err := s.exec(ctx, `
		INSERT INTO certificates (`+certColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		c.ID.String(), c.ForgeID.String(), c.DigitalTwinID.String(),
		c.IssuedAt, c.IssuedBy.String(), string(c.Status),
		c.VerificationCode, c.ExpiresAt, c.RevokedAt, c.RevokedReason,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	return s.findOne(ctx, `SELECT `+certColumns+` FROM certificates WHERE id = $1`, certID.String())
}

func (s *Postgres) FindByCode(ctx context.Context, code string) (*models.Certificate, error) {
	return s.findOne(ctx, `SELECT `+certColumns+` FROM certificates WHERE verification_code = $1`, code)
}

func (s *Postgres) FindActiveByForge(ctx context.Context, forgeID id.ForgeID) (*models.Certificate, error) {
	return s.findOne(ctx, `SELECT `+certColumns+` FROM certificates WHERE forge_id = $1 AND status = 'ACTIVE'`, forgeID.String())
}

func (s *Postgres) FindActiveByTwin(ctx context.Context, twinID id.TwinID) (*models.Certificate, error) {
	return s.findOne(ctx, `SELECT `+certColumns+` FROM certificates WHERE digital_twin_id = $1 AND status = 'ACTIVE'`, twinID.String())
}

func (s *Postgres) Update(ctx context.Context, c *models.Certificate) error {
	res, err := s.exec(ctx, `
		UPDATE certificates
		SET status = $1, revoked_at = $2, revoked_reason = $3
		WHERE id = $4
	`, string(c.Status), c.RevokedAt, c.RevokedReason, c.ID.String())
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update certificate rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.exec(ctx, `
		UPDATE certificates SET status = 'EXPIRED'
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire certificates: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire certificates rows affected: %w", err)
	}
	return int(affected), nil
}

func (s *Postgres) findOne(ctx context.Context, query string, arg any) (*models.Certificate, error) {
	var (
		c         models.Certificate
		certID    string
		forgeID   string
		twinID    string
		issuedBy  string
		status    string
		expiresAt sql.NullTime
		revokedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&certID, &forgeID, &twinID, &c.IssuedAt, &issuedBy, &status,
		&c.VerificationCode, &expiresAt, &revokedAt, &c.RevokedReason,
	)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan certificate: %w", err)
	}

	parsedCert, err := id.ParseCertificateID(certID)
	if err != nil {
		return nil, fmt.Errorf("stored certificate id invalid: %w", err)
	}
	parsedForge, err := id.ParseForgeID(forgeID)
	if err != nil {
		return nil, fmt.Errorf("stored forge id invalid: %w", err)
	}
	c.ID = parsedCert
	c.ForgeID = parsedForge
	c.DigitalTwinID = id.TwinID(twinID)
	c.IssuedBy = id.ActorID(issuedBy)
	c.Status = models.Status(status)
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		c.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		c.RevokedAt = &t
	}
	return &c, nil
}
