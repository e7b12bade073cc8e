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

// StateUpdate is one published engine state as read back from Redis.
type StateUpdate struct {
	Session string
	At      time.Time
	State   model.EngineState
}

// DecodeState parses a payload produced by EncodeState.
func DecodeState(data []byte) (StateUpdate, error) {
	var m stateMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return StateUpdate{}, fmt.Errorf("decode state: %w", err)
	}
	return StateUpdate{Session: m.Session, At: time.Unix(0, m.TS).UTC(), State: m.State}, nil
}

// Reader gives read-only access to published engine states.
type Reader struct {
	client *goredis.Client
}

// NewReader connects to Redis and pings the server.
func NewReader(cfg Config) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis reader ping: %w", err)
	}
	return &Reader{client: client}, nil
}

// LatestState reads the last state written for session. ok is false when
// nothing was published or the key expired.
func (r *Reader) LatestState(ctx context.Context, session string) (u StateUpdate, ok bool, err error) {
	data, err := r.client.Get(ctx, StateKey(session)).Bytes()
	if err == goredis.Nil {
		return StateUpdate{}, false, nil
	}
	if err != nil {
		return StateUpdate{}, false, fmt.Errorf("redis GET %s: %w", StateKey(session), err)
	}
	u, err = DecodeState(data)
	return u, err == nil, err
}

// Watch forwards states announced for session to out until ctx is cancelled.
// Updates are dropped if out is full.
func (r *Reader) Watch(ctx context.Context, session string, out chan<- StateUpdate) error {
	pubsub := r.client.Subscribe(ctx, StateChannel(session))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			u, err := DecodeState([]byte(msg.Payload))
			if err != nil {
				log.Printf("[redis-reader] %v", err)
				continue
			}
			select {
			case out <- u:
			default:
			}
		}
	}
}

// Close releases the Redis connection.
func (r *Reader) Close() error {
	return r.client.Close()
}
