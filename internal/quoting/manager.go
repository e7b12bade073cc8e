// Package quoting maintains the engine's resting two-sided ETF quote.
package quoting

import (
	"log/slog"
	"sort"

	"autotrader-v1/internal/model"
	"autotrader-v1/internal/pricing"
	"autotrader-v1/internal/risk"
)

// Orders is the slice of the order manager the quote manager uses.
type Orders interface {
	NextID() int64
	Submit(id int64, side model.Side, price, volume int64, lifespan model.Lifespan, purpose model.Purpose, now int64) *model.Order
	Get(id int64) (*model.Order, bool)
	Sibling(id int64) (*model.Order, bool)
	Live() []model.Order
	Pair(a, b int64)
	MarkCancelRequested(id, now int64)
	Amend(id, volume int64) bool
	Expired(now int64) []int64
}

// Config tunes the quote manager.
type Config struct {
	LotSize         int64
	ActivityCeiling int     // live quote legs kept when the market runs away
	PullFraction    float64 // share of a level consumed by one fill that pulls the sibling
	AmendDivisor    int64   // stale legs are amended to remaining/AmendDivisor
}

// Outcome counts the actions of one call.
type Outcome struct {
	Skipped   bool
	Placement pricing.Placement
	Quote     pricing.Quote
	Inserted  int
	Cancelled int
	Amended   int
	Denied    []risk.Reason
}

// Manager places, replaces and withdraws quote legs. Not safe for concurrent
// use.
type Manager struct {
	cfg     Config
	pricer  *pricing.Engine
	guard   *risk.Guard
	rate    *risk.RateWindow
	orders  Orders
	gw      model.Gateway
	log     *slog.Logger
	bidID   int64
	askID   int64
	cycle   int64
	amended map[int64]bool
}

// New creates a quote manager.
func New(cfg Config, pricer *pricing.Engine, guard *risk.Guard, rate *risk.RateWindow, orders Orders, gw model.Gateway, log *slog.Logger) *Manager {
	if cfg.AmendDivisor <= 1 {
		cfg.AmendDivisor = 3
	}
	return &Manager{
		cfg:     cfg,
		pricer:  pricer,
		guard:   guard,
		rate:    rate,
		orders:  orders,
		gw:      gw,
		log:     log,
		amended: make(map[int64]bool),
	}
}

// Current returns the ids of the resting quote legs, 0 where a side is empty.
func (m *Manager) Current() (bidID, askID int64) {
	m.refresh()
	return m.bidID, m.askID
}

// refresh forgets legs that are no longer live or are being cancelled.
func (m *Manager) refresh() {
	if o, ok := m.orders.Get(m.bidID); !ok || o.CancelRequested {
		m.bidID = 0
	}
	if o, ok := m.orders.Get(m.askID); !ok || o.CancelRequested {
		m.askID = 0
	}
}

// Requote prices snap and brings the resting quote in line with it.
func (m *Manager) Requote(snap *model.Snapshot, tradeObservations int, cycle int64) Outcome {
	m.cycle = cycle
	q, ok := m.pricer.ComputeQuote(snap, tradeObservations)
	if !ok {
		return Outcome{Skipped: true}
	}
	out := Outcome{Quote: q, Placement: q.Placement}

	if q.Placement.Outside() {
		m.log.Debug("quote outside market, reducing activity",
			slog.String("placement", q.Placement.String()),
			slog.Int64("bid", q.RawBid),
			slog.Int64("ask", q.RawAsk))
		m.decreaseActivity(&out)
		return out
	}

	m.refresh()
	m.tidyStale(q, &out)

	bid, haveBid := m.orders.Get(m.bidID)
	ask, haveAsk := m.orders.Get(m.askID)
	bidChanged := !haveBid || bid.Price != q.Bid
	askChanged := !haveAsk || ask.Price != q.Ask

	switch {
	case bidChanged && askChanged:
		if haveBid {
			m.cancel(bid.ID, &out)
		}
		if haveAsk {
			m.cancel(ask.ID, &out)
		}
		m.placePair(q, cycle, &out)
	case bidChanged:
		if haveBid {
			m.cancel(bid.ID, &out)
		}
		m.placeLeg(model.Buy, q.Bid, m.askID, cycle, &out)
	case askChanged:
		if haveAsk {
			m.cancel(ask.ID, &out)
		}
		m.placeLeg(model.Sell, q.Ask, m.bidID, cycle, &out)
	}
	return out
}

func (m *Manager) placePair(q pricing.Quote, cycle int64, out *Outcome) {
	lot := m.cfg.LotSize
	if d := m.guard.CanPlacePair(q.Bid, lot, q.Ask, lot); !d.Allowed {
		out.Denied = append(out.Denied, d.Reason)
		return
	}
	if d := m.guard.CanSendOperations(2); !d.Allowed {
		out.Denied = append(out.Denied, d.Reason)
		return
	}
	bidID, askID := m.orders.NextID(), m.orders.NextID()
	m.orders.Submit(bidID, model.Buy, q.Bid, lot, model.Resting, model.QuoteLeg(askID), cycle)
	m.orders.Submit(askID, model.Sell, q.Ask, lot, model.Resting, model.QuoteLeg(bidID), cycle)
	m.gw.InsertOrder(bidID, model.Buy, q.Bid, lot, model.Resting)
	m.rate.Record()
	m.gw.InsertOrder(askID, model.Sell, q.Ask, lot, model.Resting)
	m.rate.Record()
	m.bidID, m.askID = bidID, askID
	out.Inserted += 2
}

func (m *Manager) placeLeg(side model.Side, price, siblingID, cycle int64, out *Outcome) {
	lot := m.cfg.LotSize
	if d := m.guard.CanPlaceSingle(side, price, lot); !d.Allowed {
		out.Denied = append(out.Denied, d.Reason)
		return
	}
	if d := m.guard.CanSendOperation(); !d.Allowed {
		out.Denied = append(out.Denied, d.Reason)
		return
	}
	id := m.orders.NextID()
	m.orders.Submit(id, side, price, lot, model.Resting, model.QuoteLeg(siblingID), cycle)
	if siblingID != 0 {
		m.orders.Pair(id, siblingID)
	}
	m.gw.InsertOrder(id, side, price, lot, model.Resting)
	m.rate.Record()
	if side == model.Buy {
		m.bidID = id
	} else {
		m.askID = id
	}
	out.Inserted++
}

// Cancel withdraws a live order if the rate budget allows. It reports whether
// the cancel was sent.
func (m *Manager) Cancel(id int64) bool {
	var out Outcome
	m.cancel(id, &out)
	return out.Cancelled > 0
}

func (m *Manager) cancel(id int64, out *Outcome) {
	o, ok := m.orders.Get(id)
	if !ok || o.CancelRequested {
		return
	}
	m.sendCancel(id, out)
}

func (m *Manager) sendCancel(id int64, out *Outcome) {
	if d := m.guard.CanSendOperation(); !d.Allowed {
		out.Denied = append(out.Denied, d.Reason)
		return
	}
	m.gw.CancelOrder(id)
	m.rate.Record()
	m.orders.MarkCancelRequested(id, m.cycle)
	if id == m.bidID {
		m.bidID = 0
	}
	if id == m.askID {
		m.askID = 0
	}
	out.Cancelled++
}

// tidyStale handles resting quote legs that are not part of the current quote.
// A leg more passive than the new quote is amended down once, keeping its
// queue position; a leg at or inside the new quote is cancelled.
func (m *Manager) tidyStale(q pricing.Quote, out *Outcome) {
	for _, o := range m.orders.Live() {
		if o.Purpose.Kind != model.PurposeQuote || o.CancelRequested || o.ID == m.bidID || o.ID == m.askID {
			continue
		}
		passive := (o.Side == model.Buy && o.Price < q.Bid) || (o.Side == model.Sell && o.Price > q.Ask)
		if !passive {
			m.cancel(o.ID, out)
			continue
		}
		if m.amended[o.ID] {
			continue
		}
		volume := o.Filled + o.Remaining()/m.cfg.AmendDivisor
		if volume <= o.Filled {
			m.cancel(o.ID, out)
			continue
		}
		if d := m.guard.CanSendOperation(); !d.Allowed {
			out.Denied = append(out.Denied, d.Reason)
			continue
		}
		if m.orders.Amend(o.ID, volume) {
			m.gw.AmendOrder(o.ID, volume)
			m.rate.Record()
			m.amended[o.ID] = true
			out.Amended++
		}
	}
}

// decreaseActivity cancels the oldest quote legs, pairs together, until at
// most ActivityCeiling remain.
func (m *Manager) decreaseActivity(out *Outcome) {
	var legs []model.Order
	for _, o := range m.orders.Live() {
		if o.Purpose.Kind == model.PurposeQuote && !o.CancelRequested {
			legs = append(legs, o)
		}
	}
	sort.SliceStable(legs, func(i, j int) bool { return legs[i].SubmittedAt < legs[j].SubmittedAt })

	remaining := len(legs)
	for _, o := range legs {
		if remaining <= m.cfg.ActivityCeiling {
			return
		}
		if cur, ok := m.orders.Get(o.ID); !ok || cur.CancelRequested {
			continue
		}
		before := out.Cancelled
		if sib, ok := m.orders.Sibling(o.ID); ok && !sib.CancelRequested {
			m.cancel(sib.ID, out)
		}
		m.cancel(o.ID, out)
		remaining -= out.Cancelled - before
		if out.Cancelled == before {
			return // rate budget exhausted
		}
	}
}

// CancelExpired cancels live orders that have outlived their time to live.
func (m *Manager) CancelExpired(cycle int64) Outcome {
	m.cycle = cycle
	var out Outcome
	for _, id := range m.orders.Expired(cycle) {
		if o, ok := m.orders.Get(id); ok && o.CancelRequested {
			m.log.Warn("cancel unconfirmed, resending",
				slog.Int64("order_id", id),
				slog.Int64("sent_at", o.CancelSentAt))
		}
		m.sendCancel(id, &out)
	}
	return out
}

// OnQuoteFill pulls the sibling of a quote leg when one fill consumed at
// least PullFraction of the resting volume at the leg's price level.
func (m *Manager) OnQuoteFill(o model.Order, volume int64, snap *model.Snapshot) bool {
	if o.Purpose.Kind != model.PurposeQuote || m.cfg.PullFraction <= 0 {
		return false
	}
	sib, ok := m.orders.Sibling(o.ID)
	if !ok || sib.CancelRequested {
		return false
	}
	level := levelVolume(snap, o.Side, o.Price)
	if level > 0 && float64(volume)/float64(level) < m.cfg.PullFraction {
		return false
	}
	m.log.Debug("level failing, pulling sibling",
		slog.Int64("order_id", o.ID),
		slog.Int64("sibling_id", sib.ID),
		slog.Int64("fill", volume),
		slog.Int64("level_volume", level))
	return m.Cancel(sib.ID)
}

// levelVolume is the displayed volume at price on side, 0 when the level is
// not among the top levels.
func levelVolume(snap *model.Snapshot, side model.Side, price int64) int64 {
	if snap == nil {
		return 0
	}
	l := snap.Asks
	if side == model.Buy {
		l = snap.Bids
	}
	for i, p := range l.Prices {
		if p == price {
			return l.Volumes[i]
		}
	}
	return 0
}
