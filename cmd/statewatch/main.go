// cmd/statewatch prints the engine state a running autotrader publishes to
// Redis: the last stored snapshot, then every update until interrupted.
//
// Usage:
//
//	go run ./cmd/statewatch --session=<id>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"autotrader-v1/config"
	redisstore "autotrader-v1/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	session := flag.String("session", "", "Session id logged by the autotrader at startup")
	asJSON := flag.Bool("json", false, "Print raw state JSON instead of a one-line summary")
	flag.Parse()
	if *session == "" {
		log.Fatal("[statewatch] --session is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[statewatch] config: %v", err)
	}

	reader, err := redisstore.NewReader(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("[statewatch] %v", err)
	}
	defer reader.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	latest, ok, err := reader.LatestState(ctx, *session)
	switch {
	case err != nil:
		log.Printf("[statewatch] latest state: %v", err)
	case !ok:
		log.Printf("[statewatch] no state stored for session %s yet", *session)
	default:
		show(latest, *asJSON)
	}

	updates := make(chan redisstore.StateUpdate, 64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for u := range updates {
			show(u, *asJSON)
		}
	}()

	err = reader.Watch(ctx, *session, updates)
	close(updates)
	<-printed
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[statewatch] %v", err)
	}
}

func show(u redisstore.StateUpdate, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		if err := enc.Encode(u); err != nil {
			log.Printf("[statewatch] encode: %v", err)
		}
		return
	}
	s := u.State
	fmt.Printf("%s cycle=%d etf=%+d fut=%+d unhedged=%d live=%d hedges=%d fill_ratio=%.2f\n",
		u.At.Format("15:04:05.000"), s.Cycle, s.Position.Instrument, s.Position.Hedge,
		s.Position.Unhedged(), len(s.LiveOrders), s.HedgesInFlight, s.FillRatio)
}
