package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.OperationsTotal.WithLabelValues("insert").Add(2)
	m.InstrumentPosition.Set(-30)

	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("insert")); got != 2 {
		t.Errorf("expected 2 inserts, got %v", got)
	}
	if got := testutil.ToFloat64(m.InstrumentPosition); got != -30 {
		t.Errorf("expected position -30, got %v", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}
}

func TestHealthz(t *testing.T) {
	cases := []struct {
		name     string
		setup    func(h *HealthStatus)
		wantCode int
		wantStat string
	}{
		{"all up", func(h *HealthStatus) {
			h.SetVenueConnected(true)
			h.SetEngineRunning(true)
			h.SetRedisConnected(true)
			h.SetSQLiteOK(true)
		}, http.StatusOK, "healthy"},
		{"redis down", func(h *HealthStatus) {
			h.SetVenueConnected(true)
			h.SetEngineRunning(true)
			h.SetSQLiteOK(true)
		}, http.StatusOK, "degraded"},
		{"venue down", func(h *HealthStatus) {
			h.SetEngineRunning(true)
			h.SetRedisConnected(true)
			h.SetSQLiteOK(true)
		}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthStatus()
			tc.setup(h)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tc.wantCode {
				t.Errorf("expected %d, got %d", tc.wantCode, rec.Code)
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.wantStat {
				t.Errorf("expected %s, got %s", tc.wantStat, body.Status)
			}
		})
	}
}
