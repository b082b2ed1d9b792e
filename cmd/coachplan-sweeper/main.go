package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/coachplan/pkg/audit"
	"github.com/platinummonkey/coachplan/pkg/billing"
	"github.com/platinummonkey/coachplan/pkg/config"
	"github.com/platinummonkey/coachplan/pkg/observability"
	"github.com/platinummonkey/coachplan/pkg/plans"
	"github.com/platinummonkey/coachplan/pkg/storage/postgres"
)

var (
	schedule = flag.String("schedule", "", "Cron schedule for the lapsed-subscription sweep (overrides COACHPLAN_SWEEP_SCHEDULE)")
	runOnce  = flag.Bool("run-once", false, "Run the sweep once and exit")
	timeout  = flag.Duration("timeout", 2*time.Minute, "Maximum duration of a single sweep")
	workers  = flag.Int("concurrency", 4, "Accounts expired in parallel")
	retain   = flag.Duration("audit-retention", 0, "Delete plan history older than this after each sweep (0 keeps everything)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *schedule != "" {
		cfg.Plans.SweepSchedule = *schedule
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("component", "sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cm, err := postgres.NewConnectionManager(ctx, cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer cm.Close()

	var cache plans.EntitlementCache
	if cfg.Storage.CacheEnabled() {
		client, err := postgres.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			// Entries left behind expire with their TTL.
			logger.WithError(err).Warn("entitlement cache unavailable, sweeping without invalidation")
		} else {
			defer client.Close()
			cache = postgres.NewEntitlementCache(client, cfg.Storage.EntitlementTTL)
		}
	}

	catalog := plans.NewCatalog(cm.Primary(), nil)
	resolver := plans.NewResolver(cm.Primary(), catalog, cache, logger, nil)
	history := audit.NewStore(cm.Primary())
	manager := billing.NewManager(cm.Primary(), catalog, resolver, cache, logger, nil).WithAudit(history)
	sweeper := billing.NewSweeper(manager).WithConcurrency(*workers)

	sweep := func() {
		sweepCtx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()

		started := time.Now()
		expired, err := sweeper.ExpireLapsed(sweepCtx, time.Now().UTC())
		entry := logger.WithFields(map[string]interface{}{
			"expired":     expired,
			"duration_ms": time.Since(started).Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Error("sweep finished with errors")
		} else {
			entry.Info("sweep completed")
		}

		if *retain > 0 {
			removed, err := history.Cleanup(sweepCtx, time.Now().Add(-*retain))
			if err != nil {
				logger.WithError(err).Error("failed to prune plan history")
				return
			}
			logger.WithField("removed", removed).Debug("plan history pruned")
		}
	}

	if *runOnce {
		sweep()
		return
	}

	if cfg.Plans.SweepSchedule == "" {
		logger.Error("no sweep schedule configured")
		os.Exit(1)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Plans.SweepSchedule, sweep); err != nil {
		logger.WithError(err).Error("failed to schedule sweep")
		os.Exit(1)
	}

	c.Start()
	logger.WithField("schedule", cfg.Plans.SweepSchedule).Info("sweeper started")

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	// Wait for a running sweep to finish
	<-c.Stop().Done()
	logger.Info("sweeper stopped")
}
