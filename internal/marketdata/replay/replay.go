// Package replay feeds journaled market data back through the engine's
// event path for paper trading and backtests.
package replay

import (
	"context"
	"log"
	"time"

	sqlitestore "autotrader-v1/internal/store/sqlite"
	"autotrader-v1/internal/venue"
)

const maxGap = 5 * time.Second

// Source loads the market data journaled for a session.
type Source interface {
	ReadMarket(session string) ([]sqlitestore.MarketEvent, error)
}

// Sink accepts replayed events. *venue.Dispatcher satisfies it.
type Sink interface {
	Publish(ctx context.Context, e venue.Event) bool
}

// Stats summarises one replay.
type Stats struct {
	Emitted int
	Dropped int
}

// Replayer reads journaled market data and replays it at a configurable
// speed multiplier.
type Replayer struct {
	src Source

	// OnEvent, if set, is called with each event's journal time before it
	// is published.
	OnEvent func(at time.Time)
}

// New creates a Replayer backed by src.
func New(src Source) *Replayer {
	return &Replayer{src: src}
}

// Run replays every book and trade-tick update of session into sink.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast
// as possible. Gaps are capped at five seconds of wall time.
func (r *Replayer) Run(ctx context.Context, session string, speed float64, sink Sink) (Stats, error) {
	var st Stats
	events, err := r.src.ReadMarket(session)
	if err != nil {
		return st, err
	}
	if len(events) == 0 {
		log.Printf("[replay] no market data journaled for session %s", session)
		return st, nil
	}

	log.Printf("[replay] loaded %d events from session %s, speed=%.1fx", len(events), session, speed)

	var prev time.Time
	for _, me := range events {
		if ctx.Err() != nil {
			log.Printf("[replay] cancelled after %d events", st.Emitted)
			return st, ctx.Err()
		}

		if speed > 0 && !prev.IsZero() {
			if gap := me.At.Sub(prev); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				select {
				case <-ctx.Done():
					return st, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prev = me.At

		e, ok := ToEvent(me)
		if !ok {
			continue
		}
		if r.OnEvent != nil {
			r.OnEvent(me.At)
		}
		if sink.Publish(ctx, e) {
			st.Emitted++
		} else {
			st.Dropped++
		}
	}

	log.Printf("[replay] completed: %d events replayed, %d dropped", st.Emitted, st.Dropped)
	return st, nil
}

// ToEvent converts a journal row into a venue event.
func ToEvent(me sqlitestore.MarketEvent) (venue.Event, bool) {
	switch {
	case me.Book != nil:
		return venue.Event{Kind: venue.KindBook, Book: *me.Book}, true
	case me.Trade != nil:
		return venue.Event{Kind: venue.KindTrade, Trade: *me.Trade}, true
	}
	return venue.Event{}, false
}

// Stepped publishes into a dispatcher and delivers synchronously, so a
// replay can drive the engine on the calling goroutine without an inbox
// ever filling up.
type Stepped struct {
	D *venue.Dispatcher
	H venue.Handler
}

// Publish implements Sink.
func (s Stepped) Publish(ctx context.Context, e venue.Event) bool {
	if !s.D.Publish(ctx, e) {
		return false
	}
	s.D.Drain(s.H)
	return true
}

// Clock reports journal time during a replay so rate and unhedged-time limits
// behave as they did live regardless of playback speed. It is not safe for
// concurrent use; pair it with Stepped.
type Clock struct {
	now time.Time
}

// Now implements risk.Clock.
func (c *Clock) Now() time.Time { return c.now }

// Advance moves the clock to t. Time never goes backwards.
func (c *Clock) Advance(t time.Time) {
	if t.After(c.now) {
		c.now = t
	}
}
