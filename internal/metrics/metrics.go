package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the autotrader.
type Metrics struct {
	// Inbound
	EventsTotal      *prometheus.CounterVec // labels: kind
	StaleDrops       *prometheus.CounterVec // labels: stream=book|trade
	UnknownCallbacks *prometheus.CounterVec // labels: callback
	VenueErrors      prometheus.Counter
	EventLatency     prometheus.Histogram
	InboxOverflow    prometheus.Counter
	InboxSaturation  prometheus.Gauge

	// Outbound
	OperationsTotal *prometheus.CounterVec // labels: op=insert|cancel|amend|hedge
	RiskDenials     *prometheus.CounterVec // labels: reason
	OffsetChoices   *prometheus.CounterVec // labels: choice=impulse|hedge|decline
	ForcedHedges    prometheus.Counter

	// Exposure
	InstrumentPosition prometheus.Gauge
	HedgePosition      prometheus.Gauge
	UnhedgedLots       prometheus.Gauge
	LiveOrders         prometheus.Gauge
	HedgesInFlight     prometheus.Gauge
	FillRatio          prometheus.Gauge
	RealizedPnL        prometheus.Gauge
	UnrealizedPnL      prometheus.Gauge

	// Infrastructure
	WSReconnects             prometheus.Counter
	JournalCommitDur         prometheus.Histogram
	RedisPublishDur          prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. Binaries pass
// prometheus.DefaultRegisterer; tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_events_total",
			Help: "Venue events processed, by kind",
		}, []string{"kind"}),
		StaleDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_stale_drops_total",
			Help: "Market data updates dropped for an old sequence number",
		}, []string{"stream"}),
		UnknownCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_unknown_order_callbacks_total",
			Help: "Fill or status callbacks for orders not in the live set",
		}, []string{"callback"}),
		VenueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_venue_errors_total",
			Help: "Error messages received from the venue",
		}),
		EventLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autotrader_event_handling_seconds",
			Help:    "Time spent handling one venue event",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		InboxOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_inbox_overflow_total",
			Help: "Venue events dropped because the engine inbox was full",
		}),
		InboxSaturation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_inbox_saturation_pct",
			Help: "Engine inbox fill level as a percentage of capacity",
		}),

		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_operations_total",
			Help: "Outbound venue operations, by kind",
		}, []string{"op"}),
		RiskDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_risk_denials_total",
			Help: "Actions skipped by a risk check, by reason",
		}, []string{"reason"}),
		OffsetChoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_offset_choices_total",
			Help: "Fill offsets by chosen route",
		}, []string{"choice"}),
		ForcedHedges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_forced_reconciliations_total",
			Help: "Reconciliations forced by the unhedged deadline",
		}),

		InstrumentPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_instrument_position_lots",
			Help: "Net ETF position",
		}),
		HedgePosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_hedge_position_lots",
			Help: "Net futures position",
		}),
		UnhedgedLots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_unhedged_lots",
			Help: "Absolute net exposure",
		}),
		LiveOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_live_orders",
			Help: "ETF orders pending or resting",
		}),
		HedgesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_hedges_in_flight",
			Help: "Futures orders awaiting fills",
		}),
		FillRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_fill_ratio",
			Help: "Average filled/volume over recent orders",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_realized_pnl_cents",
			Help: "Realized profit and loss net of fees",
		}),
		UnrealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_unrealized_pnl_cents",
			Help: "Open position marked to the latest mid",
		}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_ws_reconnects_total",
			Help: "Venue WebSocket reconnection attempts",
		}),
		JournalCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autotrader_journal_commit_duration_seconds",
			Help:    "SQLite journal batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autotrader_redis_publish_duration_seconds",
			Help:    "Redis state publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.StaleDrops,
		m.UnknownCallbacks,
		m.VenueErrors,
		m.EventLatency,
		m.InboxOverflow,
		m.InboxSaturation,
		m.OperationsTotal,
		m.RiskDenials,
		m.OffsetChoices,
		m.ForcedHedges,
		m.InstrumentPosition,
		m.HedgePosition,
		m.UnhedgedLots,
		m.LiveOrders,
		m.HedgesInFlight,
		m.FillRatio,
		m.RealizedPnL,
		m.UnrealizedPnL,
		m.WSReconnects,
		m.JournalCommitDur,
		m.RedisPublishDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	VenueConnected bool      `json:"venue_connected"`
	LastEventTime  time.Time `json:"last_event_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	EngineRunning  bool      `json:"engine_running"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetVenueConnected(v bool) {
	h.mu.Lock()
	h.VenueConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEngineRunning(v bool) {
	h.mu.Lock()
	h.EngineRunning = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint. The venue connection and the
// engine loop are required; Redis and SQLite only degrade.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
	}
	if !h.VenueConnected || !h.EngineRunning {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		VenueConnected  bool    `json:"venue_connected"`
		EngineRunning   bool    `json:"engine_running"`
		LastEventTime   string  `json:"last_event_time"`
		EventAge        string  `json:"event_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		VenueConnected:  h.VenueConnected,
		EngineRunning:   h.EngineRunning,
		LastEventTime:   h.LastEventTime.Format(time.RFC3339),
		EventAge:        eventAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handle mounts an additional handler. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
