package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMeterProvider installs a global meter provider pushing over OTLP/gRPC.
// It returns nil when OTel or metric export is disabled.
func InitMeterProvider(ctx context.Context, cfg TracingConfig, logger *Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled || !cfg.ExportMetrics {
		return nil, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(dialOptions(cfg)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(10*time.Second),
		)),
	)
	otel.SetMeterProvider(mp)

	logger.Info("OTLP metric export initialized")
	return mp, nil
}

// ShutdownMeterProvider flushes pending metric exports
func ShutdownMeterProvider(ctx context.Context, mp *sdkmetric.MeterProvider, logger *Logger) error {
	if mp == nil {
		return nil
	}
	if err := mp.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("failed to shutdown meter provider")
		return fmt.Errorf("meter provider shutdown: %w", err)
	}
	return nil
}

// otelInstruments mirrors the domain counters of Metrics for OTLP consumers
type otelInstruments struct {
	transitions   metric.Int64Counter
	webhookEvents metric.Int64Counter
	limitChecks   metric.Int64Counter
}

// EnableOTel mirrors transition, webhook and limit-check counts onto meter
func (m *Metrics) EnableOTel(meter metric.Meter) error {
	transitions, err := meter.Int64Counter("coachplan.plan.transitions",
		metric.WithDescription("Plan transitions by kind and status"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transitions counter: %w", err)
	}
	webhookEvents, err := meter.Int64Counter("coachplan.webhook.events",
		metric.WithDescription("Billing processor webhook events by outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook counter: %w", err)
	}
	limitChecks, err := meter.Int64Counter("coachplan.limit.checks",
		metric.WithDescription("Resource ceiling checks by outcome"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create limit check counter: %w", err)
	}

	m.otel = &otelInstruments{
		transitions:   transitions,
		webhookEvents: webhookEvents,
		limitChecks:   limitChecks,
	}
	return nil
}

func addOne(counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	counter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
