package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 20, cfg.PostgresMaxConns)
	assert.Equal(t, 5*time.Minute, cfg.EntitlementTTL)
	assert.False(t, cfg.CacheEnabled())

	cfg.RedisURL = "redis://localhost:6379"
	assert.True(t, cfg.CacheEnabled())

	cfg.EntitlementTTL = 0
	assert.False(t, cfg.CacheEnabled())
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	valid.PostgresURL = "postgres://localhost/coachplan"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing url", func(c *Config) { c.PostgresURL = "" }, true},
		{"zero max conns", func(c *Config) { c.PostgresMaxConns = 0 }, true},
		{"min exceeds max", func(c *Config) { c.PostgresMinConns = 50 }, true},
		{"zero timeout", func(c *Config) { c.PostgresTimeout = 0 }, true},
		{"negative redis db", func(c *Config) { c.RedisDB = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
