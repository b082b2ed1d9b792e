// Package storage holds the storage configuration shared by the Postgres
// connection manager and the Redis entitlement cache.
//
// The postgres subpackage opens the primary and replica pools, applies the
// schema and provides the Redis-backed entitlement cache. The storagetest
// subpackage provides in-memory SQLite databases with the same tables for tests.
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://localhost/coachplan?sslmode=disable"
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
package storage
