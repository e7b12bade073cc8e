// cmd/venuesim is a stand-in exchange for running cmd/autotrader without a
// real venue. It broadcasts simulated futures and ETF books over WebSocket and
// gives every connection its own paper venue to trade against.
//
// Config (env vars, plus the engine config for fees and order limits):
//
//	VENUESIM_ADDR         listen address (default ":12345", path /venue)
//	VENUESIM_INTERVAL_MS  book interval in milliseconds (default 250)
//	VENUESIM_START_PRICE  starting future price in cents (default 10000)
//	VENUESIM_TRADE_EVERY  ETF trade ticks every N intervals (default 2)
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"autotrader-v1/config"
	"autotrader-v1/internal/model"
	"autotrader-v1/internal/venue"
)

// hub fans market updates out to connected sessions.
type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []venue.Event
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []venue.Event)}
}

func (h *hub) register(conn *websocket.Conn) chan []venue.Event {
	ch := make(chan []venue.Event, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

func (h *hub) broadcast(batch []venue.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- batch:
		default: // slow client, skip this interval
		}
	}
}

// wireHandler writes every event delivered to it to the connection.
type wireHandler struct {
	conn *websocket.Conn
	err  error
}

func (w *wireHandler) send(e venue.Event) {
	if w.err != nil {
		return
	}
	raw, err := venue.EncodeEvent(e)
	if err != nil {
		w.err = err
		return
	}
	w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	w.err = w.conn.WriteMessage(websocket.TextMessage, raw)
}

func (w *wireHandler) OnOrderBookUpdate(s model.Snapshot) {
	w.send(venue.Event{Kind: venue.KindBook, Book: s})
}
func (w *wireHandler) OnTradeTicks(t model.TradeTicks) {
	w.send(venue.Event{Kind: venue.KindTrade, Trade: t})
}
func (w *wireHandler) OnOrderFilled(id, price, volume int64) {
	w.send(venue.Event{Kind: venue.KindFill, OrderID: id, Price: price, Volume: volume})
}
func (w *wireHandler) OnOrderStatus(id, filled, remaining, fees int64) {
	w.send(venue.Event{Kind: venue.KindStatus, OrderID: id, TotalFilled: filled, Remaining: remaining, Fees: fees})
}
func (w *wireHandler) OnHedgeFilled(id, price, volume int64) {
	w.send(venue.Event{Kind: venue.KindHedgeFill, OrderID: id, Price: price, Volume: volume})
}
func (w *wireHandler) OnError(id int64, msg string) {
	w.send(venue.Event{Kind: venue.KindError, OrderID: id, Message: msg})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsHandler runs one trading session per connection. Market updates and
// order commands are handled on a single goroutine, the session's dispatcher
// consumer, so the paper venue sees them in arrival order.
func wsHandler(h *hub, paperCfg venue.PaperConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[venuesim] upgrade error: %v", err)
			return
		}
		log.Printf("[venuesim] client connected: %s", r.RemoteAddr)

		updates := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[venuesim] client disconnected: %s", r.RemoteAddr)
		}()

		commands := make(chan venue.Command, 256)
		readErr := make(chan error, 1)
		done := make(chan struct{})
		defer close(done)
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					readErr <- err
					return
				}
				cmd, err := venue.DecodeCommand(raw)
				if err != nil {
					log.Printf("[venuesim] %s: %v", r.RemoteAddr, err)
					continue
				}
				select {
				case commands <- cmd:
				case <-done:
					return
				}
			}
		}()

		d := venue.NewDispatcher(16)
		paper := venue.NewPaperVenue(paperCfg, d)
		out := &wireHandler{conn: conn}
		ctx := r.Context()

		for out.err == nil {
			select {
			case <-ctx.Done():
				return
			case <-readErr:
				return
			case batch := <-updates:
				for _, e := range batch {
					d.Publish(ctx, e)
					d.Drain(out)
				}
			case cmd := <-commands:
				cmd.Apply(paper)
				d.Drain(out)
			}
		}
		inserts, hedges, fills := paper.Stats()
		log.Printf("[venuesim] %s: write error %v (inserts=%d hedges=%d fills=%d)",
			r.RemoteAddr, out.err, inserts, hedges, fills)
	}
}

func runGenerator(ctx context.Context, h *hub, m *market, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcast(m.step())
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[venuesim] starting simulated venue...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[venuesim] config: %v", err)
	}

	addr := envOrDefault("VENUESIM_ADDR", ":12345")
	interval := time.Duration(envIntOrDefault("VENUESIM_INTERVAL_MS", 250)) * time.Millisecond
	start := int64(envIntOrDefault("VENUESIM_START_PRICE", 10000))
	tradeEvery := envIntOrDefault("VENUESIM_TRADE_EVERY", 2)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := newHub()
	m := newMarket(time.Now().UnixNano(), start, cfg.Engine.TickSize, tradeEvery)
	go runGenerator(ctx, h, m, interval)

	paperCfg := venue.PaperConfig{
		MaxLiveOrders: cfg.Engine.MaxLiveOrders,
		TakerFeeBps:   int64(cfg.Engine.TakerFeeBps),
		MakerFeeBps:   cfg.MakerFeeBps,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/venue", wsHandler(h, paperCfg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"venuesim"}`)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[venuesim] listening on %s (WebSocket: ws://localhost%s/venue, interval=%v)", addr, addr, interval)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[venuesim] server error: %v", err)
	}
	log.Println("[venuesim] stopped")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
