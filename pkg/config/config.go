package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/coachplan/pkg/observability"
	"github.com/platinummonkey/coachplan/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Plans holds entitlement and billing settings
	Plans PlansConfig

	// RateLimit configures per-caller request limits on /plans routes
	RateLimit RateLimitConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// PlansConfig holds entitlement engine settings
type PlansConfig struct {
	// SeedFile is an optional YAML catalog applied at startup
	SeedFile string
	// IdentityHeader carries the verified account id set by the gateway
	IdentityHeader string
	// UpgradeURL is returned to clients that hit a ceiling
	UpgradeURL string
	// WebhookSecrets maps processor name to signing secret
	WebhookSecrets map[string]string
	// SweepSchedule is a cron expression for the lapsed-subscription sweeper
	SweepSchedule string
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	// Distributed shares counters through Redis when a Redis URL is set
	Distributed bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelMetrics        bool // Push domain counters over OTLP alongside /metrics
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	plansCfg, err := loadPlansConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Plans:         plansCfg,
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("COACHPLAN_HOST", "0.0.0.0"),
		Port:            getEnv("COACHPLAN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("COACHPLAN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("COACHPLAN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("COACHPLAN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("COACHPLAN_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("COACHPLAN_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("COACHPLAN_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("COACHPLAN_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("COACHPLAN_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = splitList(replicaURLs)
	}
	if maxConns := getEnvInt("COACHPLAN_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("COACHPLAN_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("COACHPLAN_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	cfg.AutoMigrate = getEnvBool("COACHPLAN_AUTO_MIGRATE", true)

	// Redis config
	if redisURL := getEnv("COACHPLAN_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("COACHPLAN_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("COACHPLAN_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("COACHPLAN_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("COACHPLAN_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	if ttl := getEnvDuration("COACHPLAN_ENTITLEMENT_TTL", -1); ttl >= 0 {
		cfg.EntitlementTTL = ttl
	}
	if size := getEnvInt("COACHPLAN_CATALOG_CACHE_SIZE", 0); size > 0 {
		cfg.CatalogCacheSize = size
	}
	if ttl := getEnvDuration("COACHPLAN_CATALOG_CACHE_TTL", 0); ttl > 0 {
		cfg.CatalogCacheTTL = ttl
	}

	return cfg
}

func loadPlansConfig() (PlansConfig, error) {
	secrets, err := parseSecrets(getEnv("COACHPLAN_WEBHOOK_SECRETS", ""))
	if err != nil {
		return PlansConfig{}, fmt.Errorf("invalid COACHPLAN_WEBHOOK_SECRETS: %w", err)
	}

	return PlansConfig{
		SeedFile:       getEnv("COACHPLAN_SEED_FILE", ""),
		IdentityHeader: getEnv("COACHPLAN_IDENTITY_HEADER", "X-Account-ID"),
		UpgradeURL:     getEnv("COACHPLAN_UPGRADE_URL", "/plans"),
		WebhookSecrets: secrets,
		SweepSchedule:  getEnv("COACHPLAN_SWEEP_SCHEDULE", "@every 5m"),
	}, nil
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("COACHPLAN_RATE_LIMIT_ENABLED", true),
		RequestsPerWindow: getEnvInt("COACHPLAN_RATE_LIMIT_REQUESTS", 120),
		Window:            getEnvDuration("COACHPLAN_RATE_LIMIT_WINDOW", time.Minute),
		Distributed:       getEnvBool("COACHPLAN_RATE_LIMIT_DISTRIBUTED", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("COACHPLAN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("COACHPLAN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("COACHPLAN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("COACHPLAN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("COACHPLAN_OTEL_SERVICE_NAME", "coachplan"),
		OTelServiceVersion: getEnv("COACHPLAN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("COACHPLAN_OTEL_INSECURE", true),
		OTelMetrics:        getEnvBool("COACHPLAN_OTEL_METRICS_ENABLED", false),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Plans.IdentityHeader == "" {
		return fmt.Errorf("identity header is required")
	}
	if c.Plans.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Plans.SweepSchedule); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", c.Plans.SweepSchedule, err)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow <= 0 {
			return fmt.Errorf("rate limit requests must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
		if c.RateLimit.Distributed && c.Storage.RedisURL == "" {
			return fmt.Errorf("distributed rate limiting requires a redis URL")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// TracingConfig adapts the OpenTelemetry settings for observability.InitTracing
func (c ObservabilityConfig) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		ExportMetrics:  c.OTelMetrics,
	}
}

// parseSecrets parses "processor:secret,processor:secret"
func parseSecrets(raw string) (map[string]string, error) {
	secrets := make(map[string]string)
	for _, entry := range splitList(raw) {
		processor, secret, ok := strings.Cut(entry, ":")
		processor = strings.ToLower(strings.TrimSpace(processor))
		secret = strings.TrimSpace(secret)
		if !ok || processor == "" || secret == "" {
			return nil, fmt.Errorf("entry %q must be processor:secret", entry)
		}
		secrets[processor] = secret
	}
	return secrets, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
