// Package observability provides structured logging, Prometheus metrics, health checks and
// OpenTelemetry tracing for the entitlement service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("account_id", id).Info("plan upgraded")
//
// Request-scoped loggers carry request_id and account_id:
//
//	observability.FromContext(ctx).Warn("cache unavailable")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordLimitCheck("students", "denied")
//
// A nil *Metrics is valid and records nothing.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// Readiness fails (503) only when Postgres is unreachable. An empty plan
// catalog or an unreachable Redis reports "degraded" with 200.
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, cfg, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
package observability
