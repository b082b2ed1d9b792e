// Package config provides application configuration management from environment variables.
//
// # Overview
//
// LoadConfig reads COACHPLAN_* variables, applies defaults and validates the
// result before any connection is opened.
//
// # Configuration Structure
//
// Server settings:
//
//	COACHPLAN_HOST="0.0.0.0"
//	COACHPLAN_PORT="8080"
//	COACHPLAN_HEALTH_PORT="9090"
//	COACHPLAN_READ_TIMEOUT="15s"
//	COACHPLAN_WRITE_TIMEOUT="15s"
//	COACHPLAN_MAX_BODY_BYTES="1048576"
//
// Storage settings:
//
//	COACHPLAN_POSTGRES_URL="postgres://localhost/coachplan"
//	COACHPLAN_POSTGRES_REPLICA_URLS="postgres://replica1/coachplan,postgres://replica2/coachplan"
//	COACHPLAN_POSTGRES_MAX_CONNS="20"
//	COACHPLAN_AUTO_MIGRATE="true"
//
// Entitlement cache (disabled without a Redis URL or with a zero TTL):
//
//	COACHPLAN_REDIS_URL="redis://localhost:6379"
//	COACHPLAN_ENTITLEMENT_TTL="5m"
//	COACHPLAN_CATALOG_CACHE_SIZE="64"
//
// Plans and billing:
//
//	COACHPLAN_SEED_FILE="/etc/coachplan/plans.yaml"
//	COACHPLAN_IDENTITY_HEADER="X-Account-ID"
//	COACHPLAN_UPGRADE_URL="/plans"
//	COACHPLAN_WEBHOOK_SECRETS="stripe:whsec_...,paddle:..."
//	COACHPLAN_SWEEP_SCHEDULE="@every 5m"
//
// Rate limiting:
//
//	COACHPLAN_RATE_LIMIT_ENABLED="true"
//	COACHPLAN_RATE_LIMIT_REQUESTS="120"
//	COACHPLAN_RATE_LIMIT_WINDOW="1m"
//	COACHPLAN_RATE_LIMIT_DISTRIBUTED="false"
//
// Observability:
//
//	COACHPLAN_LOG_LEVEL="info"
//	COACHPLAN_METRICS_ENABLED="true"
//	COACHPLAN_OTEL_ENABLED="false"
//	COACHPLAN_OTEL_ENDPOINT="localhost:4317"
//	COACHPLAN_OTEL_METRICS_ENABLED="false"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
//	cm, err := postgres.NewConnectionManager(cfg.Storage)
package config
