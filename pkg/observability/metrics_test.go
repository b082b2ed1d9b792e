package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	if metrics == nil {
		t.Fatal("Expected non-nil metrics")
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	NewMetrics(registry)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordResolution("account")
	m.RecordLimitCheck("students", "allowed")
	m.RecordTransition("upgrade", nil, time.Now())
	m.RecordWebhook("stripe", "applied")
	m.RecordCache("entitlement", true)
	m.UpdateDBStats(sql.DBStats{})
}

func TestMetrics_EntitlementCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordResolution("account")
	metrics.RecordResolution("free_fallback")
	metrics.RecordResolution("free_fallback")
	metrics.RecordLimitCheck("students", "denied")
	metrics.RecordWebhook("stripe", "unknown_ref")

	if got := testutil.ToFloat64(metrics.EntitlementResolutionsTotal.WithLabelValues("free_fallback")); got != 2 {
		t.Errorf("Expected 2 free_fallback resolutions, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.LimitChecksTotal.WithLabelValues("students", "denied")); got != 1 {
		t.Errorf("Expected 1 denied check, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.WebhookEventsTotal.WithLabelValues("stripe", "unknown_ref")); got != 1 {
		t.Errorf("Expected 1 unknown_ref webhook, got %v", got)
	}
}

func TestMetrics_RecordTransition(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordTransition("cancel", nil, time.Now())
	metrics.RecordTransition("cancel", errors.New("boom"), time.Now())

	if got := testutil.ToFloat64(metrics.TransitionsTotal.WithLabelValues("cancel", "success")); got != 1 {
		t.Errorf("Expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.TransitionsTotal.WithLabelValues("cancel", "error")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
	if count := testutil.CollectAndCount(metrics.TransactionDuration); count != 1 {
		t.Errorf("Expected 1 duration series, got %d", count)
	}
}

func TestMetrics_UpdateDBStats(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.UpdateDBStats(sql.DBStats{InUse: 3, Idle: 2, WaitCount: 7, WaitDuration: 2 * time.Second})

	if got := testutil.ToFloat64(metrics.DBConnectionsActive); got != 3 {
		t.Errorf("Expected 3 active, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.DBConnectionsWaitDuration); got != 2 {
		t.Errorf("Expected 2s wait, got %v", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/plans/check-limit/{resource}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("nope"))
	})

	for _, resource := range []string{"students", "widgets"} {
		req := httptest.NewRequest(http.MethodGet, "/plans/check-limit/"+resource, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	expected := `
# HELP coachplan_http_requests_total Total number of HTTP requests
# TYPE coachplan_http_requests_total counter
coachplan_http_requests_total{method="GET",route="/plans/check-limit/{resource}",status="400"} 2
`
	if err := testutil.CollectAndCompare(metrics.HTTPRequestsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected counter value: %v", err)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected 418, got %d", rec.Code)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordResolution("baseline")

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	rec := httptest.NewRecorder()
	serveMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `coachplan_entitlement_resolutions_total{source="baseline"} 1`) {
		t.Errorf("Expected resolution counter in output, got:\n%s", rec.Body.String())
	}
}
