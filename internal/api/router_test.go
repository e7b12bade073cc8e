package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"autotrader-v1/internal/model"
)

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestState_UnavailableBeforeFirstCycle(t *testing.T) {
	mux := NewRouter(NewStateView())
	if rec := get(t, mux, "/api/v1/state"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	rec := get(t, mux, "/api/v1/orders")
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("expected empty order list, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestState_ServesLatestPublished(t *testing.T) {
	v := NewStateView()
	mux := NewRouter(v)

	v.Publish(model.EngineState{Cycle: 1})
	v.Publish(model.EngineState{
		Cycle:      2,
		Position:   model.Position{Instrument: 30, Hedge: -20},
		LiveOrders: []model.Order{{ID: 5, Price: 9900, Volume: 10}},
	})

	rec := get(t, mux, "/api/v1/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		State model.EngineState `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State.Cycle != 2 {
		t.Errorf("expected cycle 2, got %d", body.State.Cycle)
	}

	var pos struct {
		Unhedged int64 `json:"unhedged"`
	}
	json.Unmarshal(get(t, mux, "/api/v1/position").Body.Bytes(), &pos)
	if pos.Unhedged != 10 {
		t.Errorf("expected 10 unhedged lots, got %d", pos.Unhedged)
	}

	var orders []model.Order
	json.Unmarshal(get(t, mux, "/api/v1/orders").Body.Bytes(), &orders)
	if len(orders) != 1 || orders[0].ID != 5 {
		t.Errorf("expected order 5, got %+v", orders)
	}
}
