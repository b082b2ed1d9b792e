package storage

import (
	"fmt"
	"time"
)

// Config for the storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration
	AutoMigrate         bool

	// Redis config; an empty URL disables the entitlement cache
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	EntitlementTTL   time.Duration
	CatalogCacheSize int
	CatalogCacheTTL  time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: time.Hour,
		PostgresMaxIdleTime: 10 * time.Minute,
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		EntitlementTTL:      5 * time.Minute,
		CatalogCacheSize:    64,
		CatalogCacheTTL:     5 * time.Minute,
	}
}

// CacheEnabled reports whether a Redis entitlement cache is configured
func (c Config) CacheEnabled() bool {
	return c.RedisURL != "" && c.EntitlementTTL > 0
}

// Validate checks the storage configuration
func (c Config) Validate() error {
	if c.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.PostgresMaxConns <= 0 {
		return fmt.Errorf("postgres max connections must be positive")
	}
	if c.PostgresMinConns < 0 || c.PostgresMinConns > c.PostgresMaxConns {
		return fmt.Errorf("postgres min connections must be between 0 and max connections")
	}
	if c.PostgresTimeout <= 0 {
		return fmt.Errorf("postgres timeout must be positive")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis db must not be negative")
	}
	return nil
}
