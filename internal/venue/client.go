package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"autotrader-v1/internal/model"
)

// ErrNotConnected is returned for commands sent while the socket is down.
var ErrNotConnected = errors.New("venue: not connected")

// ClientConfig holds the websocket venue connection settings.
type ClientConfig struct {
	// URL of the venue, e.g. "ws://localhost:12345/venue"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// HeartbeatInterval between pings. Defaults to 10s. The connection is
	// dropped if no pong arrives within three intervals.
	HeartbeatInterval time.Duration

	// WriteTimeout bounds each command write. Defaults to 1s.
	WriteTimeout time.Duration
}

func (c *ClientConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = time.Second
	}
}

// Client is a websocket connection to the venue. Its reader goroutine is the
// dispatcher's producer; its model.Gateway methods are called from the
// dispatcher's Run goroutine. A command that cannot be written is reported
// back to the engine as a venue error for that order.
type Client struct {
	cfg ClientConfig
	d   *Dispatcher

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn

	// Optional hooks
	OnReconnect func()
	OnConnected func(up bool)
}

// NewClient creates a venue client. Returns an error if the URL is unparseable.
func NewClient(cfg ClientConfig, d *Dispatcher) (*Client, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("venue client: %w", err)
	}
	return &Client{cfg: cfg, d: d}, nil
}

// Start connects and streams venue events into the dispatcher. Blocks until
// ctx is cancelled. Reconnects automatically on disconnect.
func (c *Client) Start(ctx context.Context) error {
	delay := c.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := c.runOnce(ctx)
		if err == nil {
			return nil
		}
		if connected {
			delay = c.cfg.ReconnectDelay
		}

		log.Printf("[venue] disconnected (%v), reconnecting in %s...", err, delay)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. connected reports whether the dial succeeded.
func (c *Client) runOnce(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	log.Printf("[venue] connected to %s", c.cfg.URL)

	deadline := 3 * c.cfg.HeartbeatInterval
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	c.setConn(conn)
	defer c.setConn(nil)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.heartbeat(connCtx, conn)
	go func() {
		<-connCtx.Done()
		c.mu.Lock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(deadline))

		e, err := DecodeEvent(raw)
		if err != nil {
			log.Printf("[venue] %v (raw: %s)", err, raw)
			continue
		}
		c.d.Publish(ctx, e)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if c.OnConnected != nil {
		c.OnConnected(conn != nil)
	}
}

// heartbeat sends periodic pings until ctx is done.
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteTimeout))
			c.mu.Unlock()
			if err != nil {
				log.Printf("[venue] ping write error: %v", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) write(f frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.Type, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write %s: %w", f.Type, err)
	}
	return nil
}

// send writes a command for order id and turns a failure into a venue error
// event so the order does not stay pending.
func (c *Client) send(id int64, f frame) {
	if err := c.write(f); err != nil {
		log.Printf("[venue] order %d: %v", id, err)
		c.d.Inject(Event{Kind: KindError, OrderID: id, Message: err.Error()})
	}
}

// InsertOrder implements model.Gateway.
func (c *Client) InsertOrder(id int64, side model.Side, price, volume int64, lifespan model.Lifespan) {
	c.send(id, frame{Type: frameInsert, OrderID: id, Side: side, Price: price, Volume: volume, Lifespan: lifespan})
}

// CancelOrder implements model.Gateway. A failed cancel is only logged.
func (c *Client) CancelOrder(id int64) {
	if err := c.write(frame{Type: frameCancel, OrderID: id}); err != nil {
		log.Printf("[venue] cancel %d: %v", id, err)
	}
}

// AmendOrder implements model.Gateway.
func (c *Client) AmendOrder(id, volume int64) {
	if err := c.write(frame{Type: frameAmend, OrderID: id, Volume: volume}); err != nil {
		log.Printf("[venue] amend %d: %v", id, err)
	}
}

// SendHedgeOrder implements model.Gateway.
func (c *Client) SendHedgeOrder(id int64, side model.Side, price, volume int64) {
	c.send(id, frame{Type: frameHedge, OrderID: id, Side: side, Price: price, Volume: volume})
}
