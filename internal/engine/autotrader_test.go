package engine

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"autotrader-v1/config"
	"autotrader-v1/internal/logger"
	"autotrader-v1/internal/metrics"
	"autotrader-v1/internal/model"
)

type call struct {
	op       string
	id       int64
	side     model.Side
	price    int64
	volume   int64
	lifespan model.Lifespan
}

type recordingGateway struct{ calls []call }

func (g *recordingGateway) InsertOrder(id int64, side model.Side, price, volume int64, lifespan model.Lifespan) {
	g.calls = append(g.calls, call{op: "insert", id: id, side: side, price: price, volume: volume, lifespan: lifespan})
}
func (g *recordingGateway) CancelOrder(id int64) {
	g.calls = append(g.calls, call{op: "cancel", id: id})
}
func (g *recordingGateway) AmendOrder(id, volume int64) {
	g.calls = append(g.calls, call{op: "amend", id: id, volume: volume})
}
func (g *recordingGateway) SendHedgeOrder(id int64, side model.Side, price, volume int64) {
	g.calls = append(g.calls, call{op: "hedge", id: id, side: side, price: price, volume: volume})
}

func (g *recordingGateway) reset() { g.calls = nil }

func (g *recordingGateway) find(op string) []call {
	var out []call
	for _, c := range g.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

type recordingRecorder struct {
	books    int
	trades   int
	fills    []model.Fill
	archived []model.Order
}

func (r *recordingRecorder) RecordBook(model.Snapshot)    { r.books++ }
func (r *recordingRecorder) RecordTrade(model.TradeTicks) { r.trades++ }
func (r *recordingRecorder) RecordFill(f model.Fill)      { r.fills = append(r.fills, f) }
func (r *recordingRecorder) RecordArchived(o model.Order) { r.archived = append(r.archived, o) }

type recordingPublisher struct{ states []model.EngineState }

func (p *recordingPublisher) Publish(s model.EngineState) { p.states = append(p.states, s) }

type fixture struct {
	gw    *recordingGateway
	rec   *recordingRecorder
	pub   *recordingPublisher
	m     *metrics.Metrics
	clock *manualClock
	at    *AutoTrader
	seq   int64
	tseq  int64
}

func newFixture(mutate func(*config.Engine)) *fixture {
	cfg := config.Default().Engine
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		gw:    &recordingGateway{},
		rec:   &recordingRecorder{},
		pub:   &recordingPublisher{},
		m:     metrics.NewMetrics(prometheus.NewRegistry()),
		clock: &manualClock{now: time.Unix(1000, 0)},
	}
	f.at = New(cfg, Deps{
		Gateway:   f.gw,
		Recorder:  f.rec,
		Publisher: f.pub,
		Metrics:   f.m,
		Clock:     f.clock,
		Log:       logger.Discard(),
	})
	return f
}

// book spreads levels 300 apart so the computed quote is wider than the
// touch and joins it.
func book(inst model.Instrument, seq, bid, ask int64) model.Snapshot {
	s := model.Snapshot{Instrument: inst, Sequence: seq}
	for i := 0; i < model.TopLevelCount; i++ {
		s.Bids.Prices[i], s.Bids.Volumes[i] = bid-int64(i)*300, 10
		s.Asks.Prices[i], s.Asks.Volumes[i] = ask+int64(i)*300, 10
	}
	return s
}

func (f *fixture) etf(bid, ask int64) {
	f.seq++
	f.at.OnOrderBookUpdate(book(model.ETF, f.seq, bid, ask))
}

func (f *fixture) future(bid, ask int64) {
	f.seq++
	f.at.OnOrderBookUpdate(book(model.Future, f.seq, bid, ask))
}

func (f *fixture) trades(n int) {
	for i := 0; i < n; i++ {
		f.tseq++
		t := model.TradeTicks{Instrument: model.ETF, Sequence: f.tseq}
		t.Asks.Prices[0], t.Asks.Volumes[0] = 10100, 5
		t.Bids.Prices[0], t.Bids.Volumes[0] = 9900, 5
		f.at.OnTradeTicks(t)
	}
}

// quoted warms the engine up and returns the resting bid and ask.
func (f *fixture) quoted(t *testing.T) (bid, ask call) {
	t.Helper()
	f.future(9900, 10100)
	f.trades(2)
	f.etf(9900, 10100)
	ins := f.gw.find("insert")
	if len(ins) != 2 {
		t.Fatalf("expected two quote inserts, got %+v", f.gw.calls)
	}
	f.gw.reset()
	return ins[0], ins[1]
}

func TestBookUpdate_WaitsForTradeObservations(t *testing.T) {
	f := newFixture(nil)
	f.etf(9900, 10100)
	if len(f.gw.calls) != 0 {
		t.Fatalf("expected no orders before trades, got %+v", f.gw.calls)
	}
	f.trades(2)
	f.etf(9900, 10100)

	ins := f.gw.find("insert")
	if len(ins) != 2 {
		t.Fatalf("expected 2 inserts, got %+v", f.gw.calls)
	}
	if ins[0].side != model.Buy || ins[0].price != 9900 || ins[0].volume != 10 || ins[0].lifespan != model.Resting {
		t.Errorf("unexpected bid %+v", ins[0])
	}
	if ins[1].side != model.Sell || ins[1].price != 10100 {
		t.Errorf("unexpected ask %+v", ins[1])
	}
	if f.at.Cycle() != 2 {
		t.Errorf("expected cycle 2, got %d", f.at.Cycle())
	}
	if got := testutil.ToFloat64(f.m.OperationsTotal.WithLabelValues("insert")); got != 2 {
		t.Errorf("expected 2 counted inserts, got %v", got)
	}
	if len(f.pub.states) != 2 || len(f.pub.states[1].LiveOrders) != 2 {
		t.Errorf("expected published state with 2 live orders, got %+v", f.pub.states)
	}
}

func TestBookUpdate_StaleIsIgnored(t *testing.T) {
	f := newFixture(nil)
	f.quoted(t)
	cycle, books := f.at.Cycle(), f.rec.books

	f.at.OnOrderBookUpdate(book(model.ETF, f.seq, 9800, 10000))
	f.at.OnOrderBookUpdate(book(model.ETF, 1, 9800, 10000))

	if len(f.gw.calls) != 0 {
		t.Errorf("expected no calls for stale updates, got %+v", f.gw.calls)
	}
	if f.at.Cycle() != cycle || f.rec.books != books {
		t.Error("expected stale updates to leave state untouched")
	}
	if got := testutil.ToFloat64(f.m.StaleDrops.WithLabelValues("book")); got != 2 {
		t.Errorf("expected 2 stale drops, got %v", got)
	}
}

func TestQuoteFill_HedgesAndPullsSibling(t *testing.T) {
	f := newFixture(nil)
	bid, ask := f.quoted(t)

	f.at.OnOrderFilled(bid.id, 9900, 10)

	hedges := f.gw.find("hedge")
	if len(hedges) != 1 {
		t.Fatalf("expected one hedge, got %+v", f.gw.calls)
	}
	h := hedges[0]
	if h.side != model.Sell || h.volume != 10 || h.price != 100 {
		t.Errorf("expected sell 10 at the minimum tick, got %+v", h)
	}
	cancels := f.gw.find("cancel")
	if len(cancels) != 1 || cancels[0].id != ask.id {
		t.Errorf("expected the ask to be pulled, got %+v", cancels)
	}
	if p := f.at.Position(); p.Instrument != 10 || p.Hedge != 0 {
		t.Errorf("expected position {10 0}, got %+v", p)
	}

	f.at.OnHedgeFilled(h.id, 9900, 10)
	if p := f.at.Position(); p.Instrument != 10 || p.Hedge != -10 {
		t.Errorf("expected position {10 -10}, got %+v", p)
	}
	if len(f.rec.fills) != 2 || f.rec.fills[1].Kind != model.FillHedge {
		t.Errorf("expected etf and hedge fills journaled, got %+v", f.rec.fills)
	}
	if got := testutil.ToFloat64(f.m.OffsetChoices.WithLabelValues("hedge")); got != 1 {
		t.Errorf("expected one hedge offset, got %v", got)
	}
}

func TestStatusOnlyFill_HedgesAndPullsSibling(t *testing.T) {
	f := newFixture(nil)
	bid, ask := f.quoted(t)

	f.at.OnOrderStatus(bid.id, 10, 0, 0)

	if hedges := f.gw.find("hedge"); len(hedges) != 1 || hedges[0].volume != 10 {
		t.Errorf("expected one hedge for 10 lots, got %+v", f.gw.calls)
	}
	cancels := f.gw.find("cancel")
	if len(cancels) != 1 || cancels[0].id != ask.id {
		t.Errorf("expected the ask to be pulled, got %+v", cancels)
	}
}

func TestFillThenStatus_OffsetsOnce(t *testing.T) {
	f := newFixture(nil)
	bid, _ := f.quoted(t)

	f.at.OnOrderFilled(bid.id, 9900, 4)
	f.at.OnOrderStatus(bid.id, 4, 6, 0)
	f.at.OnOrderStatus(bid.id, 10, 0, 0)
	f.at.OnOrderFilled(bid.id, 9900, 6)

	var hedged int64
	for _, h := range f.gw.find("hedge") {
		hedged += h.volume
	}
	if hedged != 10 {
		t.Errorf("expected 10 lots hedged, got %d", hedged)
	}
	if p := f.at.Position(); p.Instrument != 10 {
		t.Errorf("expected position 10, got %d", p.Instrument)
	}
	if len(f.rec.archived) != 1 || f.rec.archived[0].State != model.Executed {
		t.Errorf("expected executed archive, got %+v", f.rec.archived)
	}
}

func TestOnError_RejectsOrder(t *testing.T) {
	f := newFixture(nil)
	bid, _ := f.quoted(t)

	f.at.OnError(bid.id, "invalid price")

	if _, live := f.at.Orders().Get(bid.id); live {
		t.Error("expected rejected order removed from live set")
	}
	if len(f.rec.archived) != 1 || f.rec.archived[0].State != model.Cancelled {
		t.Errorf("expected cancelled archive, got %+v", f.rec.archived)
	}
	if got := testutil.ToFloat64(f.m.VenueErrors); got != 1 {
		t.Errorf("expected 1 venue error, got %v", got)
	}
}

func TestOnError_HedgeRejectionFreesVolume(t *testing.T) {
	f := newFixture(nil)
	bid, _ := f.quoted(t)
	f.at.OnOrderFilled(bid.id, 9900, 10)
	h := f.gw.find("hedge")[0]

	f.at.OnError(h.id, "hedge rejected")
	if n := f.State().HedgesInFlight; n != 0 {
		t.Errorf("expected no hedges in flight, got %d", n)
	}
}

func (f *fixture) State() model.EngineState { return f.at.State() }

func TestOnError_GeneralLeavesState(t *testing.T) {
	f := newFixture(nil)
	f.quoted(t)
	before := f.at.Orders().LiveCount()

	f.at.OnError(0, "session warning")
	if f.at.Orders().LiveCount() != before {
		t.Error("expected id 0 error to leave orders untouched")
	}
	if got := testutil.ToFloat64(f.m.UnknownCallbacks.WithLabelValues("error")); got != 0 {
		t.Errorf("expected no unknown-callback count, got %v", got)
	}
}

func TestUnknownCallbacks_AreCounted(t *testing.T) {
	f := newFixture(nil)
	f.at.OnOrderFilled(99, 10000, 1)
	f.at.OnOrderStatus(99, 1, 0, 0)
	f.at.OnHedgeFilled(98, 10000, 1)

	for _, kind := range []string{"fill", "status", "hedge_fill"} {
		if got := testutil.ToFloat64(f.m.UnknownCallbacks.WithLabelValues(kind)); got != 1 {
			t.Errorf("expected one unknown %s, got %v", kind, got)
		}
	}
	if p := f.at.Position(); p != (model.Position{}) {
		t.Errorf("expected flat position, got %+v", p)
	}
}

func TestRateCeiling_HoldsUnderChurn(t *testing.T) {
	f := newFixture(func(c *config.Engine) { c.MaxOpsPerSecond = 12 })
	f.quoted(t)

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			f.etf(10000, 10200)
		} else {
			f.etf(9900, 10100)
		}
	}
	ops := len(f.gw.find("insert")) + len(f.gw.find("cancel")) + len(f.gw.find("amend"))
	// The two warm-up inserts share the same frozen second.
	if ops+2 > 12 {
		t.Errorf("expected at most 12 operations in one second, got %d", ops+2)
	}
	if ops == 0 {
		t.Error("expected some requoting")
	}
}

func TestPositionStaysWithinLimit(t *testing.T) {
	f := newFixture(nil)
	f.quoted(t)
	limit := config.Default().Engine.PositionLimit

	for i := 0; i < 60; i++ {
		f.clock.now = f.clock.now.Add(time.Second)
		f.future(9900, 10100)
		f.etf(9900, 10100)
		for _, o := range f.at.Orders().Live() {
			switch {
			case o.CancelRequested:
				f.at.OnOrderStatus(o.ID, o.Filled, 0, 0)
			case o.Purpose.Kind == model.PurposeQuote && o.Side == model.Buy:
				f.at.OnOrderFilled(o.ID, o.Price, o.Remaining())
				f.at.OnOrderStatus(o.ID, o.Volume, 0, 0)
			}
			p := f.at.Position()
			if p.Instrument > limit || p.Instrument < -limit || p.Hedge > limit || p.Hedge < -limit {
				t.Fatalf("position %+v beyond limit %d", p, limit)
			}
		}
	}
	if p := f.at.Position(); p.Instrument <= 0 {
		t.Errorf("expected long instrument position, got %+v", p)
	}
}

func TestPnL_TracksFills(t *testing.T) {
	f := newFixture(nil)
	bid, _ := f.quoted(t)
	f.at.OnOrderFilled(bid.id, 9900, 10)
	f.at.OnOrderStatus(bid.id, 10, 0, 20)

	s := f.at.PnL()
	if s.ETFQty != 10 || s.TotalTrades != 1 {
		t.Errorf("expected one 10 lot etf trade, got %+v", s)
	}
	if s.Fees.IntPart() != 20 {
		t.Errorf("expected fees 20, got %s", s.Fees)
	}
}

func TestPublishers_FansOutAndSkipsNil(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	if Publishers(nil, nil) != nil {
		t.Error("expected nil for no publishers")
	}
	if p := Publishers(nil, a); p != Publisher(a) {
		t.Error("expected the single publisher to be returned as is")
	}

	Publishers(a, nil, b).Publish(model.EngineState{Cycle: 9})
	if len(a.states) != 1 || len(b.states) != 1 || b.states[0].Cycle != 9 {
		t.Errorf("expected both publishers to see cycle 9, got %v and %v", a.states, b.states)
	}
}
