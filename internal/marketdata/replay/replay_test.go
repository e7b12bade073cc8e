package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"autotrader-v1/internal/model"
	sqlitestore "autotrader-v1/internal/store/sqlite"
	"autotrader-v1/internal/venue"
)

type fakeSource struct {
	events []sqlitestore.MarketEvent
	err    error
}

func (f fakeSource) ReadMarket(string) ([]sqlitestore.MarketEvent, error) { return f.events, f.err }

type countingHandler struct {
	books, trades int
}

func (h *countingHandler) OnOrderBookUpdate(model.Snapshot)         { h.books++ }
func (h *countingHandler) OnTradeTicks(model.TradeTicks)            { h.trades++ }
func (h *countingHandler) OnOrderFilled(int64, int64, int64)        {}
func (h *countingHandler) OnOrderStatus(int64, int64, int64, int64) {}
func (h *countingHandler) OnHedgeFilled(int64, int64, int64)        {}
func (h *countingHandler) OnError(int64, string)                    {}

func journal(n int, step time.Duration) []sqlitestore.MarketEvent {
	base := time.Unix(1700000000, 0)
	var out []sqlitestore.MarketEvent
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * step)
		if i%2 == 0 {
			out = append(out, sqlitestore.MarketEvent{At: at, Book: &model.Snapshot{Instrument: model.ETF, Sequence: int64(i + 1)}})
		} else {
			out = append(out, sqlitestore.MarketEvent{At: at, Trade: &model.TradeTicks{Instrument: model.ETF, Sequence: int64(i + 1)}})
		}
	}
	return out
}

func TestRun_SteppedDeliversEverything(t *testing.T) {
	d := venue.NewDispatcher(2)
	h := &countingHandler{}

	st, err := New(fakeSource{events: journal(10, time.Second)}).Run(context.Background(), "s", 0, Stepped{D: d, H: h})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Emitted != 10 || st.Dropped != 0 {
		t.Errorf("expected 10 emitted 0 dropped, got %+v", st)
	}
	if h.books != 5 || h.trades != 5 {
		t.Errorf("expected 5 books and 5 trades, got %d and %d", h.books, h.trades)
	}
}

func TestRun_FullInboxDropsMarketData(t *testing.T) {
	d := venue.NewDispatcher(2)
	dropped := 0
	d.OnOverflow = func() { dropped++ }

	st, err := New(fakeSource{events: journal(6, time.Second)}).Run(context.Background(), "s", 0, d)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.Emitted+st.Dropped != 6 || st.Dropped == 0 {
		t.Errorf("expected some of 6 events dropped, got %+v", st)
	}
	if dropped != st.Dropped {
		t.Errorf("expected overflow hook %d times, got %d", st.Dropped, dropped)
	}
}

func TestRun_SpeedScalesGaps(t *testing.T) {
	d := venue.NewDispatcher(16)
	h := &countingHandler{}

	start := time.Now()
	_, err := New(fakeSource{events: journal(3, 100*time.Millisecond)}).Run(context.Background(), "s", 10, Stepped{D: d, H: h})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("expected at least 15ms of scaled gaps, got %v", elapsed)
	}
}

func TestRun_CancelledStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(fakeSource{events: journal(3, time.Second)}).Run(ctx, "s", 1, venue.NewDispatcher(4))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_SourceError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(fakeSource{err: boom}).Run(context.Background(), "s", 0, venue.NewDispatcher(4))
	if !errors.Is(err, boom) {
		t.Errorf("expected source error, got %v", err)
	}
}

func TestClock_FollowsJournalTime(t *testing.T) {
	events := journal(4, time.Second)
	clock := &Clock{}
	var seen []time.Time

	r := New(fakeSource{events: events})
	r.OnEvent = clock.Advance
	d := venue.NewDispatcher(4)
	d.Observe(func(venue.Event) { seen = append(seen, clock.Now()) })

	if _, err := r.Run(context.Background(), "s", 0, Stepped{D: d, H: &countingHandler{}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 observations, got %d", len(seen))
	}
	for i, at := range seen {
		if !at.Equal(events[i].At) {
			t.Errorf("event %d: expected clock %v, got %v", i, events[i].At, at)
		}
	}
}

func TestClock_NeverGoesBack(t *testing.T) {
	c := &Clock{}
	t1 := time.Unix(100, 0)
	c.Advance(t1)
	c.Advance(time.Unix(50, 0))
	if !c.Now().Equal(t1) {
		t.Errorf("expected %v, got %v", t1, c.Now())
	}
}
