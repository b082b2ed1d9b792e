// Package storagetest provides in-memory SQLite databases carrying the
// entitlement schema for package tests.
package storagetest

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
	CREATE TABLE plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price INTEGER NOT NULL DEFAULT 0,
		max_students INTEGER,
		features TEXT NOT NULL DEFAULT '[]',
		active BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE accounts (
		id TEXT PRIMARY KEY,
		plan_id TEXT REFERENCES plans(id),
		plan_status TEXT NOT NULL DEFAULT 'active',
		plan_expires_at TIMESTAMP,
		subscription_ref TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		plan_id TEXT NOT NULL REFERENCES plans(id),
		status TEXT NOT NULL,
		external_ref TEXT NOT NULL UNIQUE,
		cancelled_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX subscriptions_one_active_per_account
		ON subscriptions (account_id) WHERE status = 'active';

	CREATE TABLE students (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE plan_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		actor TEXT NOT NULL,
		plan_id TEXT,
		subscription_ref TEXT,
		status TEXT,
		request_id TEXT,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`

// NewDB opens a private in-memory database with the schema applied.
// The pool is pinned to one connection so every query sees the same database.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return db
}

// SeedDefaultPlans inserts free (1 seat), basic (4 seats) and premium (unlimited)
func SeedDefaultPlans(t testing.TB, db *sql.DB) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO plans (id, name, price, max_students, features, active) VALUES
			('free', 'Free', 0, 1, '["1 student"]', 1),
			('basic', 'Basic', 2900, 4, '["4 students","progress tracking"]', 1),
			('premium', 'Premium', 7900, NULL, '["unlimited students","progress tracking","custom programs"]', 1)
	`)
}

// InsertPlan inserts a single plan row; a negative maxStudents stores NULL
func InsertPlan(t testing.TB, db *sql.DB, id, name string, price, maxStudents int64, active bool) {
	t.Helper()
	var ceiling sql.NullInt64
	if maxStudents >= 0 {
		ceiling = sql.NullInt64{Int64: maxStudents, Valid: true}
	}
	mustExec(t, db, `
		INSERT INTO plans (id, name, price, max_students, features, active)
		VALUES ($1, $2, $3, $4, '[]', $5)
	`, id, name, price, ceiling, active)
}

// CreateAccount inserts an account on planID (empty for no plan) with status active
func CreateAccount(t testing.TB, db *sql.DB, id, planID string) {
	t.Helper()
	var plan sql.NullString
	if planID != "" {
		plan = sql.NullString{String: planID, Valid: true}
	}
	mustExec(t, db, `INSERT INTO accounts (id, plan_id, plan_status) VALUES ($1, $2, 'active')`, id, plan)
}

// SetAccountSubscription points an account at an external subscription reference
func SetAccountSubscription(t testing.TB, db *sql.DB, accountID, ref string, expiresAt *time.Time) {
	t.Helper()
	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	mustExec(t, db, `UPDATE accounts SET subscription_ref = $1, plan_expires_at = $2 WHERE id = $3`, ref, expiry, accountID)
}

// InsertSubscription inserts a subscription row
func InsertSubscription(t testing.TB, db *sql.DB, accountID, planID, status, ref string) {
	t.Helper()
	mustExec(t, db, `
		INSERT INTO subscriptions (account_id, plan_id, status, external_ref)
		VALUES ($1, $2, $3, $4)
	`, accountID, planID, status, ref)
}

// AddStudents inserts n students owned by accountID
func AddStudents(t testing.TB, db *sql.DB, accountID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		mustExec(t, db, `INSERT INTO students (account_id, name) VALUES ($1, $2)`, accountID, fmt.Sprintf("student-%d", i))
	}
}

// SubscriptionStatus returns the status of the subscription with ref
func SubscriptionStatus(t testing.TB, db *sql.DB, ref string) string {
	t.Helper()
	var status string
	if err := db.QueryRow(`SELECT status FROM subscriptions WHERE external_ref = $1`, ref).Scan(&status); err != nil {
		t.Fatalf("Failed to read subscription %s: %v", ref, err)
	}
	return status
}

// CountRows returns the number of rows in table matching where
func CountRows(t testing.TB, db *sql.DB, table, where string, args ...interface{}) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}

func mustExec(t testing.TB, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("Failed to exec %q: %v", query, err)
	}
}
