// Package api serves a read-only JSON view of the running engine for
// operators and dashboards.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"autotrader-v1/internal/model"
)

// StateView keeps the most recent engine state. It implements
// engine.Publisher and may be read from any goroutine.
type StateView struct {
	mu    sync.RWMutex
	state model.EngineState
	at    time.Time
	ok    bool
}

// NewStateView creates an empty view.
func NewStateView() *StateView { return &StateView{} }

// Publish records s as the latest state.
func (v *StateView) Publish(s model.EngineState) {
	v.mu.Lock()
	v.state, v.at, v.ok = s, time.Now(), true
	v.mu.Unlock()
}

// Latest returns the last published state and when it arrived. ok is false
// until the first cycle completes.
func (v *StateView) Latest() (s model.EngineState, at time.Time, ok bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state, v.at, v.ok
}

// NewRouter sets up the HTTP routes backed by v.
func NewRouter(v *StateView) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/v1/state", func(w http.ResponseWriter, r *http.Request) {
		s, at, ok := v.Latest()
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no engine cycle yet"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"as_of": at.UTC(),
			"state": s,
		})
	})

	mux.HandleFunc("/api/v1/position", func(w http.ResponseWriter, r *http.Request) {
		s, _, _ := v.Latest()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"cycle":    s.Cycle,
			"position": s.Position,
			"unhedged": s.Position.Unhedged(),
		})
	})

	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		s, _, _ := v.Latest()
		orders := s.LiveOrders
		if orders == nil {
			orders = []model.Order{}
		}
		writeJSON(w, http.StatusOK, orders)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
