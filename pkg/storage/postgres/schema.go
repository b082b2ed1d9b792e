package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// migrations are applied in order inside one transaction. Each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS plans (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		price        BIGINT NOT NULL DEFAULT 0 CHECK (price >= 0),
		max_students BIGINT CHECK (max_students >= 0),
		features     TEXT NOT NULL DEFAULT '[]',
		active       BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS accounts (
		id               TEXT PRIMARY KEY,
		plan_id          TEXT REFERENCES plans(id),
		plan_status      TEXT NOT NULL DEFAULT 'active'
			CHECK (plan_status IN ('active', 'inactive', 'past_due')),
		plan_expires_at  TIMESTAMPTZ,
		subscription_ref TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id           BIGSERIAL PRIMARY KEY,
		account_id   TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		plan_id      TEXT NOT NULL REFERENCES plans(id),
		status       TEXT NOT NULL
			CHECK (status IN ('pending', 'active', 'cancelled', 'expired')),
		external_ref TEXT NOT NULL UNIQUE,
		cancelled_at TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_one_active_per_account
		ON subscriptions (account_id) WHERE status = 'active'`,

	`CREATE INDEX IF NOT EXISTS accounts_subscription_ref_idx ON accounts (subscription_ref)`,

	`CREATE INDEX IF NOT EXISTS accounts_plan_expires_at_idx
		ON accounts (plan_expires_at) WHERE plan_expires_at IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS students (
		id         BIGSERIAL PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS students_account_id_idx ON students (account_id)`,

	// No foreign key: history is kept after an account is deleted.
	`CREATE TABLE IF NOT EXISTS plan_events (
		id               BIGSERIAL PRIMARY KEY,
		account_id       TEXT NOT NULL,
		event_type       TEXT NOT NULL,
		actor            TEXT NOT NULL,
		plan_id          TEXT,
		subscription_ref TEXT,
		status           TEXT,
		request_id       TEXT,
		metadata         JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS plan_events_account_created_idx
		ON plan_events (account_id, created_at DESC)`,
}

// Migrate creates the entitlement tables when they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// uniqueViolation is the Postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
