package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"autotrader-v1/internal/model"
)

const (
	// ~1h of state history at 3 updates per second
	stateStreamMaxLen = 10000
	defaultLatestTTL  = 30 * time.Minute
	retryInterval     = time.Second
)

// Config configures the state publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Session  string // run identifier used in every key
}

// StateKey holds the latest engine state for a session.
func StateKey(session string) string { return "autotrader:" + session + ":state" }

// StateStream holds the recent history of engine states for a session.
func StateStream(session string) string { return "autotrader:" + session + ":states" }

// StateChannel is the pub/sub channel engine states are announced on.
func StateChannel(session string) string { return "pub:autotrader:" + session + ":state" }

type stateMessage struct {
	Session string            `json:"session"`
	TS      int64             `json:"ts"`
	State   model.EngineState `json:"state"`
}

// EncodeState renders the payload written to Redis.
func EncodeState(session string, at time.Time, s model.EngineState) ([]byte, error) {
	return json.Marshal(stateMessage{Session: session, TS: at.UnixNano(), State: s})
}

// Publisher mirrors the engine state into Redis for dashboards. Publish never
// blocks the engine: only the newest state is kept, and while the circuit is
// open it is held back and retried.
type Publisher struct {
	client  *goredis.Client
	cb      *CircuitBreaker
	session string
	latest  chan model.EngineState

	// Optional hook, called with the duration of each successful write.
	OnPublish func(d time.Duration)
}

// New connects to Redis and pings the server.
func New(cfg Config, cb *CircuitBreaker) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s session=%s", cfg.Addr, cfg.Session)
	return newPublisher(client, cb, cfg.Session), nil
}

func newPublisher(client *goredis.Client, cb *CircuitBreaker, session string) *Publisher {
	if cb == nil {
		cb = NewCircuitBreaker(5, 10*time.Second)
	}
	return &Publisher{
		client:  client,
		cb:      cb,
		session: session,
		latest:  make(chan model.EngineState, 1),
	}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Publish implements engine.Publisher. A state not yet written is replaced.
// Safe for a single producer only.
func (p *Publisher) Publish(s model.EngineState) {
	select {
	case p.latest <- s:
		return
	default:
	}
	select {
	case <-p.latest:
	default:
	}
	select {
	case p.latest <- s:
	default:
	}
}

// Run writes published states through the circuit breaker until ctx is
// cancelled.
func (p *Publisher) Run(ctx context.Context) {
	retry := time.NewTicker(retryInterval)
	defer retry.Stop()

	var pending *model.EngineState
	attempt := func(s model.EngineState) {
		err := p.cb.Execute(func() error { return p.write(ctx, s) })
		switch {
		case err == nil:
			pending = nil
		case err == ErrCircuitOpen:
			pending = &s
		default:
			log.Printf("[redis] state write error: %v", err)
			pending = &s
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.latest:
			attempt(s)
		case <-retry.C:
			if pending != nil {
				attempt(*pending)
			}
		}
	}
}

// write performs pipelined SET + XADD + PUBLISH for one state.
func (p *Publisher) write(ctx context.Context, s model.EngineState) error {
	start := time.Now()
	data, err := EncodeState(p.session, start, s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	payload := string(data)

	pipe := p.client.Pipeline()
	pipe.Set(ctx, StateKey(p.session), payload, defaultLatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: StateStream(p.session),
		MaxLen: stateStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	pipe.Publish(ctx, StateChannel(p.session), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if p.OnPublish != nil {
		p.OnPublish(time.Since(start))
	}
	return nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
