package observability_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"staybook_escrow/internal/adapters/observability"
)

func scrape(t *testing.T) string {
	t.Helper()
	reg := observability.InitRegistry()
	mh := observability.MetricsHandler(reg)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	mh.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	return string(body)
}

func TestMetricsRegistryAndHandler(t *testing.T) {
	// record one sample per vector so they show up in the exposition
	observability.ObserveHTTP("/test", "GET", 200, 12*time.Millisecond)
	observability.ObserveTransfer("transfer", "ok")
	observability.ObserveDisputeTransition("AWAITING_RESPONSE", "SETTLING")
	observability.ObserveSweepRow("room_fee_release", "done")

	out := scrape(t)
	for _, name := range []string{
		"staybook_http_requests_total",
		"staybook_provider_transfers_total",
		"staybook_dispute_transitions_total",
		"staybook_sweep_rows_total",
	} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s in output", name)
		}
	}
}

func TestFinanceConfigGauge(t *testing.T) {
	observability.SetFinanceConfigHealthy(false)
	if out := scrape(t); !strings.Contains(out, "staybook_finance_config_healthy 0") {
		t.Fatalf("expected degraded gauge, got:\n%s", out)
	}
	observability.SetFinanceConfigHealthy(true)
	if out := scrape(t); !strings.Contains(out, "staybook_finance_config_healthy 1") {
		t.Fatalf("expected healthy gauge")
	}
}
