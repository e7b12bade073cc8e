// cmd/replay runs the engine against a journaled session with a paper venue
// standing in for the exchange, then prints P&L and order statistics.
//
// Usage:
//
//	go run ./cmd/replay --db=data/journal.db --session=<id> --speed=0
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"autotrader-v1/config"
	"autotrader-v1/internal/engine"
	"autotrader-v1/internal/logger"
	"autotrader-v1/internal/marketdata/replay"
	"autotrader-v1/internal/metrics"
	"autotrader-v1/internal/model"
	"autotrader-v1/internal/portfolio"
	sqlitestore "autotrader-v1/internal/store/sqlite"
	"autotrader-v1/internal/venue"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/journal.db", "Journal to read market data from")
	session := flag.String("session", "", "Session to replay (default: latest)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	recordPath := flag.String("record", "", "Optional journal to record the replay run into")
	asJSON := flag.Bool("json", false, "Print the summary as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[replay] config: %v", err)
	}
	slogger := logger.Init("replay", logger.ParseLevel(cfg.LogLevel))

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[replay] sqlite open failed: %v", err)
	}
	defer reader.Close()

	if *session == "" {
		latest, ok, err := reader.LatestSession()
		if err != nil {
			log.Fatalf("[replay] %v", err)
		}
		if !ok {
			log.Fatalf("[replay] journal %s has no sessions", *dbPath)
		}
		*session = latest.ID
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var recorder model.Recorder
	var journal *sqlitestore.Writer
	journalDone := make(chan struct{})
	if *recordPath != "" {
		journal, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: *recordPath, Session: uuid.NewString()})
		if err != nil {
			log.Fatalf("[replay] record journal: %v", err)
		}
		recorder = journal
		jctx, jcancel := context.WithCancel(context.Background())
		defer jcancel()
		go func() {
			journal.Run(jctx)
			close(journalDone)
		}()
		defer func() {
			jcancel()
			<-journalDone
			journal.Close()
		}()
	}

	dispatcher := venue.NewDispatcher(cfg.InboxCapacity)
	paper := venue.NewPaperVenue(venue.PaperConfig{
		MaxLiveOrders: cfg.Engine.MaxLiveOrders,
		TakerFeeBps:   int64(cfg.Engine.TakerFeeBps),
		MakerFeeBps:   cfg.MakerFeeBps,
	}, dispatcher)

	clock := &replay.Clock{}
	trader := engine.New(cfg.Engine, engine.Deps{
		Gateway:  paper,
		Recorder: recorder,
		Metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		Clock:    clock,
		Log:      slogger,
	})

	replayer := replay.New(reader)
	replayer.OnEvent = clock.Advance

	st, err := replayer.Run(ctx, *session, *speed, replay.Stepped{D: dispatcher, H: trader})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("[replay] %v", err)
	}

	inserts, hedges, fills := paper.Stats()
	summary := struct {
		Session  string               `json:"session"`
		Events   int                  `json:"events"`
		Cycles   int64                `json:"cycles"`
		Inserts  int                  `json:"inserts"`
		Hedges   int                  `json:"hedges"`
		Fills    int                  `json:"fills"`
		Position model.Position       `json:"position"`
		PnL      portfolio.PnLSummary `json:"pnl"`
	}{
		Session:  *session,
		Events:   st.Emitted,
		Cycles:   trader.Cycle(),
		Inserts:  inserts,
		Hedges:   hedges,
		Fills:    fills,
		Position: trader.Position(),
		PnL:      trader.PnL(),
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.Fatalf("[replay] encode summary: %v", err)
		}
		return
	}

	pnl := trader.PnL()
	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("  Replay of session %s\n", *session)
	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("  Events replayed : %d\n", st.Emitted)
	fmt.Printf("  Engine cycles   : %d\n", trader.Cycle())
	fmt.Printf("  Orders inserted : %d\n", inserts)
	fmt.Printf("  Hedge orders    : %d\n", hedges)
	fmt.Printf("  Paper fills     : %d\n", fills)
	fmt.Printf("  Fill ratio      : %.3f\n", trader.Orders().FillRatio())
	fmt.Printf("  Position        : etf=%d future=%d\n", summary.Position.Instrument, summary.Position.Hedge)
	fmt.Printf("  Realized P&L    : %s\n", pnl.RealizedPnL.StringFixed(0))
	fmt.Printf("  Unrealized P&L  : %s\n", pnl.UnrealizedPnL.StringFixed(0))
	fmt.Printf("  Fees            : %s\n", pnl.Fees.StringFixed(0))
	fmt.Printf("  Max drawdown    : %s\n", pnl.DrawdownPnL.StringFixed(0))
	fmt.Println("═══════════════════════════════════════════")
}
