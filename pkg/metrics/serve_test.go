package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxPublisherMetrics(reg)
	m.Published("payment_created")

	resp := httptest.NewRecorder()
	Handler(reg).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "payment_created") {
		t.Fatalf("expected published counter in output: %s", resp.Body.String())
	}
}

func TestServeDisabledWithoutAddr(t *testing.T) {
	if err := Serve(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Serve(ctx, "127.0.0.1:0", prometheus.NewRegistry(), nil); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
