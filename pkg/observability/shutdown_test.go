package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewShutdownManager(t *testing.T) {
	sm := NewShutdownManager(nil, 0)
	if sm.shutdownTimeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", sm.shutdownTimeout)
	}
	if sm.logger == nil {
		t.Error("Expected a fallback logger")
	}
}

func TestShutdownManager_RunsFunctionsInOrder(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)

	var order []string
	sm.RegisterShutdownFunc(func(context.Context) error {
		order = append(order, "cache")
		return nil
	})
	sm.RegisterShutdownFunc(nil)
	sm.RegisterShutdownFunc(func(context.Context) error {
		order = append(order, "database")
		return nil
	})

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "cache" || order[1] != "database" {
		t.Errorf("Unexpected order %v", order)
	}
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	boom := errors.New("boom")
	sm.RegisterShutdownFunc(func(context.Context) error { return boom })

	err := sm.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped boom, got %v", err)
	}
}

func TestShutdownManager_StopsServer(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Start()
	defer ts.Close()

	sm := NewShutdownManager(NopLogger(), time.Second, ts.Config)
	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := http.Get(ts.URL); err == nil {
		t.Error("Expected request to fail after shutdown")
	}
}
