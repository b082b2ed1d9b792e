package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string][]metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string][]metricdata.DataPoint[int64])
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				sums[m.Name] = sum.DataPoints
			}
		}
	}
	return sums
}

func attr(t *testing.T, dp metricdata.DataPoint[int64], key string) string {
	t.Helper()
	v, ok := dp.Attributes.Value(attribute.Key(key))
	require.True(t, ok, "missing attribute %s", key)
	return v.AsString()
}

func TestMetrics_EnableOTel(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, metrics.EnableOTel(provider.Meter(TracerName)))

	metrics.RecordTransition("upgrade", nil, time.Now())
	metrics.RecordTransition("upgrade", nil, time.Now())
	metrics.RecordWebhook("stripe", "applied")
	metrics.RecordLimitCheck("students", "denied")
	metrics.RecordCache("entitlement", true)

	sums := collectSums(t, reader)
	require.Len(t, sums, 3)

	transitions := sums["coachplan.plan.transitions"]
	require.Len(t, transitions, 1)
	assert.Equal(t, int64(2), transitions[0].Value)
	assert.Equal(t, "upgrade", attr(t, transitions[0], "transition"))
	assert.Equal(t, "success", attr(t, transitions[0], "status"))

	webhooks := sums["coachplan.webhook.events"]
	require.Len(t, webhooks, 1)
	assert.Equal(t, "applied", attr(t, webhooks[0], "outcome"))

	checks := sums["coachplan.limit.checks"]
	require.Len(t, checks, 1)
	assert.Equal(t, "denied", attr(t, checks[0], "outcome"))
}

func TestInitMeterProvider_Disabled(t *testing.T) {
	logger := NopLogger()

	mp, err := InitMeterProvider(context.Background(), TracingConfig{Enabled: true}, logger)
	require.NoError(t, err)
	assert.Nil(t, mp)

	mp, err = InitMeterProvider(context.Background(), TracingConfig{ExportMetrics: true}, logger)
	require.NoError(t, err)
	assert.Nil(t, mp)

	assert.NoError(t, ShutdownMeterProvider(context.Background(), nil, logger))
}
