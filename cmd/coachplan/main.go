package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/coachplan/pkg/api"
	"github.com/platinummonkey/coachplan/pkg/async"
	"github.com/platinummonkey/coachplan/pkg/audit"
	"github.com/platinummonkey/coachplan/pkg/billing"
	"github.com/platinummonkey/coachplan/pkg/config"
	"github.com/platinummonkey/coachplan/pkg/middleware"
	"github.com/platinummonkey/coachplan/pkg/observability"
	"github.com/platinummonkey/coachplan/pkg/plans"
	"github.com/platinummonkey/coachplan/pkg/storage/postgres"
)

var (
	seedFile = flag.String("seed-file", "", "YAML plan catalog to upsert at startup (overrides COACHPLAN_SEED_FILE)")
	migrate  = flag.Bool("migrate", false, "Create missing tables and exit")
	version  = "dev"
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *seedFile != "" {
		cfg.Plans.SeedFile = *seedFile
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("coachplan exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	tp, err := observability.InitTracing(ctx, cfg.Observability.TracingConfig(), logger)
	if err != nil {
		return err
	}

	cm, err := postgres.NewConnectionManager(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	if cfg.Storage.AutoMigrate || *migrate {
		if err := postgres.Migrate(ctx, cm.Primary()); err != nil {
			cm.Close()
			return err
		}
		logger.Info("database schema is up to date")
	}
	if *migrate {
		return cm.Close()
	}

	catalog := plans.NewCatalog(cm.Primary(), &plans.CatalogConfig{
		CacheSize: cfg.Storage.CatalogCacheSize,
		CacheTTL:  cfg.Storage.CatalogCacheTTL,
	})
	if cfg.Plans.SeedFile != "" {
		seed, err := plans.LoadSeedFile(cfg.Plans.SeedFile)
		if err != nil {
			cm.Close()
			return err
		}
		if err := catalog.Seed(ctx, seed); err != nil {
			cm.Close()
			return fmt.Errorf("failed to seed plan catalog: %w", err)
		}
		logger.WithFields(map[string]interface{}{
			"file":  cfg.Plans.SeedFile,
			"plans": len(seed),
		}).Info("plan catalog seeded")
	}

	var redisClient *redis.Client
	var cache plans.EntitlementCache
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			cm.Close()
			return err
		}
		if cfg.Storage.CacheEnabled() {
			cache = postgres.NewEntitlementCache(redisClient, cfg.Storage.EntitlementTTL)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	mp, err := observability.InitMeterProvider(ctx, cfg.Observability.TracingConfig(), logger)
	if err != nil {
		cm.Close()
		return err
	}
	if mp != nil && metrics != nil {
		if err := metrics.EnableOTel(mp.Meter(observability.TracerName)); err != nil {
			cm.Close()
			return err
		}
	}

	resolver := plans.NewResolver(cm.Primary(), catalog, cache, logger, metrics)
	enforcer := plans.NewEnforcer(resolver, cm.Primary(), metrics)
	history := audit.NewStore(cm.Primary())
	manager := billing.NewManager(cm.Primary(), catalog, resolver, cache, logger, metrics).WithAudit(history)
	reconciler := billing.NewReconciler(manager, cfg.Plans.WebhookSecrets)

	// The public plan list tolerates replica lag.
	listing := plans.NewCatalog(cm.Replica(), &plans.CatalogConfig{
		CacheSize: cfg.Storage.CatalogCacheSize,
		CacheTTL:  cfg.Storage.CatalogCacheTTL,
	})

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		rlConfig := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
		}
		if cfg.RateLimit.Distributed {
			limiter = middleware.NewDistributedRateLimiter(redisClient, rlConfig, "")
		} else {
			local := middleware.NewRateLimiter(rlConfig)
			local.StartCleanup(ctx, logger)
			limiter = local
		}
	}

	server := api.NewServer(api.Services{
		Catalog:     listing,
		Resolver:    resolver,
		Limits:      enforcer,
		Transitions: manager,
		Webhooks:    reconciler,
		History:     history,
	}, api.ServerConfig{
		Verifier:     middleware.NewHeaderVerifier(cfg.Plans.IdentityHeader),
		Limiter:      limiter,
		UpgradeURL:   cfg.Plans.UpgradeURL,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ServiceName:  cfg.Observability.OTelServiceName,
		Logger:       logger,
		Metrics:      metrics,
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(cm.Primary(), redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error { return cm.Close() })
	if mp != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownMeterProvider(ctx, mp, logger)
		})
	}
	if tp != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownTracing(ctx, tp, logger)
		})
	}

	cm.StartHealthCheckRoutine(ctx, 30*time.Second)
	if metrics != nil {
		async.Go(ctx, logger, 0, "db stats reporter", func(ctx context.Context) error {
			return reportDBStats(ctx, cm, metrics)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiServer, logger, "api") })
	g.Go(func() error { return serve(healthServer, logger, "health") })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func serve(srv *http.Server, logger *observability.Logger, name string) error {
	logger.WithFields(map[string]interface{}{
		"server": name,
		"addr":   srv.Addr,
	}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func reportDBStats(ctx context.Context, cm *postgres.ConnectionManager, metrics *observability.Metrics) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.UpdateDBStats(cm.Primary().Stats())
		case <-ctx.Done():
			return nil
		}
	}
}
