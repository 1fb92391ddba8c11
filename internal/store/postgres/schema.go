package postgres

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		mobile        TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		balance       BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		blocked       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS admins (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		default_price BIGINT NOT NULL DEFAULT 0,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		fields        JSONB NOT NULL DEFAULT '[]',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS price_overrides (
		user_id    TEXT NOT NULL,
		service_id TEXT NOT NULL,
		price      BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, service_id)
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		user_name       TEXT NOT NULL DEFAULT '',
		user_mobile     TEXT NOT NULL DEFAULT '',
		service_id      TEXT NOT NULL DEFAULT '',
		service_name    TEXT NOT NULL DEFAULT '',
		price           BIGINT NOT NULL,
		status          TEXT NOT NULL,
		token           TEXT UNIQUE,
		admin_message   TEXT NOT NULL DEFAULT '',
		payload         JSONB NOT NULL DEFAULT '{}',
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		last_checked_at TIMESTAMPTZ,
		completed_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_user_created ON records (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_records_status_updated ON records (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq           BIGSERIAL PRIMARY KEY,
		id            TEXT NOT NULL UNIQUE,
		user_id       TEXT NOT NULL,
		type          TEXT NOT NULL,
		amount        BIGINT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		reference     TEXT NOT NULL DEFAULT '',
		balance_after BIGINT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_user_seq ON ledger_entries (user_id, seq DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_reference ON ledger_entries (reference) WHERE reference <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_type_created ON ledger_entries (type, created_at)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id           TEXT PRIMARY KEY,
		txn_id       TEXT NOT NULL UNIQUE,
		user_id      TEXT NOT NULL,
		amount       BIGINT NOT NULL,
		status       TEXT NOT NULL,
		upi_id       TEXT NOT NULL DEFAULT '',
		upi_link     TEXT NOT NULL DEFAULT '',
		payment_link TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_user_created ON payments (user_id, created_at DESC)`,
}

// Migrate creates any missing tables and indexes. Every statement is
// idempotent, so it runs on each start.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return nil
}
