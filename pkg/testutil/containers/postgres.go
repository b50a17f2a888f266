//go:build integration

// Package containers provides shared testcontainers helpers for integration
// tests. Containers are started once per test binary; Ryuk reaps them when
// the run ends.
package containers

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// schema mirrors the table definitions documented on each Postgres store.
const schema = `
CREATE TABLE IF NOT EXISTS forges (
    id              UUID PRIMARY KEY,
    owner_id        TEXT NOT NULL,
    name            TEXT NOT NULL,
    current_state   TEXT NOT NULL,
    version         BIGINT NOT NULL DEFAULT 1,
    seed_hash       TEXT NOT NULL DEFAULT '',
    digital_twin_id TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    certified_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS certificates (
    id                UUID PRIMARY KEY,
    forge_id          UUID NOT NULL,
    digital_twin_id   TEXT NOT NULL,
    issued_at         TIMESTAMPTZ NOT NULL,
    issued_by         TEXT NOT NULL,
    status            TEXT NOT NULL,
    verification_code TEXT NOT NULL UNIQUE,
    expires_at        TIMESTAMPTZ,
    revoked_at        TIMESTAMPTZ,
    revoked_reason    TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS certificates_one_active_per_forge
    ON certificates (forge_id) WHERE status = 'ACTIVE';

CREATE TABLE IF NOT EXISTS licenses (
    id                UUID PRIMARY KEY,
    digital_twin_id   TEXT NOT NULL,
    grantee_id        TEXT NOT NULL,
    usage_type        TEXT NOT NULL,
    territories       TEXT[] NOT NULL,
    valid_from        TIMESTAMPTZ NOT NULL,
    valid_until       TIMESTAMPTZ NOT NULL,
    status            TEXT NOT NULL,
    max_downloads     INTEGER,
    current_downloads INTEGER NOT NULL DEFAULT 0,
    created_by        TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    revoked_at        TIMESTAMPTZ,
    revoked_reason    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_entries (
    seq            BIGSERIAL PRIMARY KEY,
    id             UUID NOT NULL UNIQUE,
    actor_id       TEXT NOT NULL,
    actor_name     TEXT NOT NULL DEFAULT '',
    action         TEXT NOT NULL,
    entity_id      TEXT NOT NULL DEFAULT '',
    ts             TIMESTAMPTZ NOT NULL,
    metadata       JSONB NOT NULL DEFAULT '{}',
    previous_hash  TEXT NOT NULL DEFAULT '',
    integrity_hash TEXT NOT NULL
);
`

// PostgresContainer wraps a running Postgres instance with the project schema
// applied and an open connection pool.
type PostgresContainer struct {
	Container *tcpostgres.PostgresContainer
	DB        *sql.DB
}

var (
	pgOnce     sync.Once
	pgInstance *PostgresContainer
)

// GetPostgres returns the shared Postgres container, starting it on first use.
func GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()

	pgOnce.Do(func() {
		ctx := context.Background()

		container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("forgecert_test"),
			tcpostgres.WithUsername("forgecert"),
			tcpostgres.WithPassword("forgecert"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Fatalf("start postgres container: %v", err)
		}

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = container.Terminate(ctx)
			t.Fatalf("postgres connection string: %v", err)
		}

		db, err := sql.Open("postgres", dsn)
		if err != nil {
			_ = container.Terminate(ctx)
			t.Fatalf("open postgres: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			_ = container.Terminate(ctx)
			t.Fatalf("apply schema: %v", err)
		}

		pgInstance = &PostgresContainer{Container: container, DB: db}
	})

	if pgInstance == nil {
		t.Fatal("postgres container failed to start in an earlier test")
	}
	return pgInstance
}

// TruncateTables clears the given tables between tests.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}
