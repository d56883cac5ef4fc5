package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRelay_Counters(t *testing.T) {
	m := NewRelay()

	m.Pushes.WithLabelValues(ResultDelivered).Inc()
	m.Pushes.WithLabelValues(ResultDelivered).Inc()
	m.Pushes.WithLabelValues(ResultMalformed).Inc()
	m.Connections.WithLabelValues("WebSockets").Set(3)

	if got := testutil.ToFloat64(m.Pushes.WithLabelValues(ResultDelivered)); got != 2 {
		t.Errorf("delivered pushes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Connections.WithLabelValues("WebSockets")); got != 3 {
		t.Errorf("connections = %v, want 3", got)
	}
}

func TestRelay_Handler(t *testing.T) {
	m := NewRelay()
	m.Deliveries.Add(5)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "signal_relay_deliveries_total 5") {
		t.Errorf("exposition missing deliveries counter:\n%s", body)
	}
}
