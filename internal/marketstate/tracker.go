// Package marketstate keeps the latest order book and recent trade activity per
// instrument. Order-book updates and trade ticks carry independent sequence
// streams and are checked separately.
package marketstate

import (
	"log/slog"

	"autotrader-v1/internal/model"
)

// Reject explains why an update was not accepted.
type Reject uint8

const (
	Accepted Reject = iota
	// RejectStale: sequence number not newer than the last accepted one.
	RejectStale
	// RejectEmpty: top of book is zero on at least one side.
	RejectEmpty
	// RejectNoTrades: trade tick reported no activity.
	RejectNoTrades
	// RejectUnknownInstrument: instrument outside the known set.
	RejectUnknownInstrument
)

func (r Reject) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectStale:
		return "stale"
	case RejectEmpty:
		return "empty"
	case RejectNoTrades:
		return "no_trades"
	case RejectUnknownInstrument:
		return "unknown_instrument"
	default:
		return "unknown"
	}
}

const instrumentCount = 2

// window is a fixed-size ring of volumes; the oldest entry is overwritten.
type window struct {
	buf   []int64
	next  int
	count int
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{buf: make([]int64, size)}
}

func (w *window) push(v int64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// average of the most recent n entries (all of them when n <= 0 or n > count).
func (w *window) average(n int) float64 {
	if w.count == 0 {
		return 0
	}
	if n <= 0 || n > w.count {
		n = w.count
	}
	var sum int64
	idx := w.next
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = len(w.buf) - 1
		}
		sum += w.buf[idx]
	}
	return float64(sum) / float64(n)
}

type tradeState struct {
	lastSeq      int64
	seen         bool
	traded       *window
	price        float64 // weighted traded price of the latest tick
	prevPrice    float64
	pressure     float64
	observations int
}

type bookState struct {
	lastSeq int64
	seen    bool
	latest  *model.Snapshot
	volumes *window
}

// Tracker is the market state for both instruments. It is owned by the engine
// event loop and is not safe for concurrent use.
type Tracker struct {
	books  [instrumentCount]bookState
	trades [instrumentCount]tradeState
	log    *slog.Logger
}

// NewTracker creates a tracker whose rolling windows hold windowSize entries.
func NewTracker(windowSize int, log *slog.Logger) *Tracker {
	t := &Tracker{log: log}
	for i := range t.books {
		t.books[i].volumes = newWindow(windowSize)
		t.trades[i].traded = newWindow(windowSize)
	}
	return t
}

func valid(inst model.Instrument) bool { return int(inst) < instrumentCount }

// Ingest applies an order-book update. The stored snapshot is replaced only
// when the update is accepted.
func (t *Tracker) Ingest(s model.Snapshot) Reject {
	if !valid(s.Instrument) {
		return RejectUnknownInstrument
	}
	b := &t.books[s.Instrument]
	if b.seen && s.Sequence <= b.lastSeq {
		t.log.Debug("stale book update dropped",
			slog.String("instrument", s.Instrument.String()),
			slog.Int64("seq", s.Sequence),
			slog.Int64("last_seq", b.lastSeq))
		return RejectStale
	}
	if s.Empty() {
		return RejectEmpty
	}

	b.seen = true
	b.lastSeq = s.Sequence
	snap := s
	b.latest = &snap
	b.volumes.push(s.Asks.TotalVolume() + s.Bids.TotalVolume())
	return Accepted
}

// LatestSnapshot returns the last accepted snapshot, or nil before the first.
func (t *Tracker) LatestSnapshot(inst model.Instrument) *model.Snapshot {
	if !valid(inst) {
		return nil
	}
	return t.books[inst].latest
}

// LastBookSequence returns the last accepted order-book sequence number.
func (t *Tracker) LastBookSequence(inst model.Instrument) int64 {
	if !valid(inst) {
		return 0
	}
	return t.books[inst].lastSeq
}

// RollingVolumeAverage is the mean resting volume over the last n accepted
// book updates.
func (t *Tracker) RollingVolumeAverage(inst model.Instrument, n int) float64 {
	if !valid(inst) {
		return 0
	}
	return t.books[inst].volumes.average(n)
}

// IngestTrade applies a trade-tick report: it updates the traded-volume
// window, the weighted traded price and the volume pressure signal.
func (t *Tracker) IngestTrade(tt model.TradeTicks) Reject {
	if !valid(tt.Instrument) {
		return RejectUnknownInstrument
	}
	tr := &t.trades[tt.Instrument]
	if tr.seen && tt.Sequence <= tr.lastSeq {
		t.log.Debug("stale trade ticks dropped",
			slog.String("instrument", tt.Instrument.String()),
			slog.Int64("seq", tt.Sequence),
			slog.Int64("last_seq", tr.lastSeq))
		return RejectStale
	}
	tr.seen = true
	tr.lastSeq = tt.Sequence
	if tt.Empty() {
		return RejectNoTrades
	}

	askVol, bidVol := tt.Asks.TotalVolume(), tt.Bids.TotalVolume()
	total := askVol + bidVol
	if total == 0 {
		return RejectNoTrades
	}
	tr.traded.push(total)

	if avg := tr.traded.average(0); avg > 0 {
		tr.pressure = float64(askVol-bidVol) / avg
	}
	tr.prevPrice = tr.price
	tr.price = float64(tt.Asks.Notional()+tt.Bids.Notional()) / float64(total)
	tr.observations++
	return Accepted
}

// VolumePressure is (askTraded - bidTraded) / averageTraded for the latest
// trade tick. Positive means buyers are lifting offers.
func (t *Tracker) VolumePressure(inst model.Instrument) float64 {
	if !valid(inst) {
		return 0
	}
	return t.trades[inst].pressure
}

// TradedPrice returns the volume-weighted traded price of the latest tick and
// of the one before it. Either is 0 until enough ticks have arrived.
func (t *Tracker) TradedPrice(inst model.Instrument) (latest, previous float64) {
	if !valid(inst) {
		return 0, 0
	}
	return t.trades[inst].price, t.trades[inst].prevPrice
}

// TradeObservations counts accepted non-empty trade ticks.
func (t *Tracker) TradeObservations(inst model.Instrument) int {
	if !valid(inst) {
		return 0
	}
	return t.trades[inst].observations
}
