package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"autotrader-v1/config"
	"autotrader-v1/internal/api"
	"autotrader-v1/internal/engine"
	"autotrader-v1/internal/logger"
	"autotrader-v1/internal/metrics"
	"autotrader-v1/internal/model"
	"autotrader-v1/internal/notification"
	"autotrader-v1/internal/portfolio"
	redisstore "autotrader-v1/internal/store/redis"
	sqlitestore "autotrader-v1/internal/store/sqlite"
	"autotrader-v1/internal/venue"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[autotrader] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[autotrader] config: %v", err)
	}
	session := uuid.NewString()
	slogger := logger.Init("autotrader", logger.ParseLevel(cfg.LogLevel)).With("session", session)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	view := api.NewStateView()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Handle("/api/v1/", api.NewRouter(view))
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	// ---- Journal (off hot path) ----
	if dir := filepath.Dir(cfg.JournalPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("[autotrader] journal dir: %v", err)
		}
	}
	journal, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.JournalPath, Session: session})
	if err != nil {
		log.Fatalf("[autotrader] sqlite init failed: %v", err)
	}
	journal.OnCommit = func(d time.Duration) { prom.JournalCommitDur.Observe(d.Seconds()) }
	health.SetSQLiteOK(true)
	wg.Add(1)
	go func() {
		defer wg.Done()
		journal.Run(ctx)
	}()

	// ---- Redis state publisher (optional) ----
	var statePub engine.Publisher
	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[autotrader] redis circuit %s -> %s", from, to)
	}
	redisPub, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Session:  session,
	}, cb)
	if err != nil {
		log.Printf("[autotrader] WARNING: redis init failed: %v (continuing without redis)", err)
		health.SetRedisConnected(false)
		health.StartLivenessChecker(ctx, nil, journal.DB(), 10*time.Second)
	} else {
		redisPub.OnPublish = func(d time.Duration) { prom.RedisPublishDur.Observe(d.Seconds()) }
		statePub = redisPub
		health.SetRedisConnected(true)
		health.StartLivenessChecker(ctx, redisPub.Client(), journal.DB(), 10*time.Second)
		go redisPub.Run(ctx)
	}

	// ---- Alerts ----
	var backend notification.Notifier = notification.NewLogNotifier(slogger)
	if cfg.AlertWebhookURL != "" {
		backend = notification.NewWebhookNotifier(cfg.AlertWebhookURL, session)
	}
	alerts := notification.NewAsync(backend, 64)
	go alerts.Run(ctx)

	// ---- Venue transport ----
	dispatcher := venue.NewDispatcher(cfg.InboxCapacity)
	dispatcher.OnOverflow = func() { prom.InboxOverflow.Inc() }

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.InboxSaturation.Set(dispatcher.Saturation() * 100)
			}
		}
	}()

	client, err := venue.NewClient(venue.ClientConfig{URL: cfg.VenueWSURL}, dispatcher)
	if err != nil {
		log.Fatalf("[autotrader] venue client: %v", err)
	}
	client.OnReconnect = func() { prom.WSReconnects.Inc() }
	client.OnConnected = health.SetVenueConnected

	var gateway model.Gateway = client
	if cfg.PaperTrading {
		gateway = venue.NewPaperVenue(venue.PaperConfig{
			MaxLiveOrders: cfg.Engine.MaxLiveOrders,
			TakerFeeBps:   int64(cfg.Engine.TakerFeeBps),
			MakerFeeBps:   cfg.MakerFeeBps,
		}, dispatcher)
		log.Println("[autotrader] paper trading: orders stay local, books come from the venue")
	}

	// ---- Engine ----
	pnl := portfolio.NewPnLTracker()
	trader := engine.New(cfg.Engine, engine.Deps{
		Gateway:   gateway,
		Recorder:  journal,
		Publisher: engine.Publishers(view, statePub),
		Metrics:   prom,
		Alerts:    alerts,
		PnL:       pnl,
		Health:    health,
		Log:       slogger,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		health.SetEngineRunning(true)
		dispatcher.Run(ctx, trader)
		health.SetEngineRunning(false)
	}()

	go func() {
		if err := client.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[autotrader] venue client stopped: %v", err)
		}
	}()

	log.Printf("[autotrader] running session=%s venue=%s paper=%v metrics=%s",
		session, cfg.VenueWSURL, cfg.PaperTrading, cfg.MetricsAddr)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[autotrader] shutdown signal received, cleaning up...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if redisPub != nil {
		redisPub.Close()
	}
	if err := journal.Close(); err != nil {
		log.Printf("[autotrader] journal close: %v", err)
	}
	if n := journal.Dropped(); n > 0 {
		log.Printf("[autotrader] journal dropped %d records under load", n)
	}

	s := trader.PnL()
	log.Printf("[autotrader] session %s done: realized=%s unrealized=%s fees=%s trades=%d",
		session, s.RealizedPnL.StringFixed(0), s.UnrealizedPnL.StringFixed(0), s.Fees.StringFixed(0), s.TotalTrades)
	log.Println("[autotrader] shutdown complete.")
}
