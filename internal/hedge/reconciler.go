// Package hedge keeps ETF exposure offset by futures. It picks between an
// impulse ETF order and a futures hedge after each quote fill, reconciles the
// full position periodically and recovers partially filled hedges.
package hedge

import (
	"log/slog"
	"sort"
	"time"

	"autotrader-v1/internal/model"
	"autotrader-v1/internal/risk"
)

// Hedge pricing modes.
const (
	PricingExtreme  = "extreme"
	PricingComputed = "computed"
)

// Config tunes the reconciler.
type Config struct {
	TickSize          int64
	PositionLimit     int64
	UnhedgedLotsLimit int64
	MaxUnhedged       time.Duration
	ReconcileEvery    int64 // cycles
	HedgeTTLCycles    int64 // unfilled hedges older than this are dropped
	TakerFeeBps       float64
	Pricing           string
	UnwindSignal      float64 // λ₂
}

// Orders is the slice of the order manager the reconciler uses.
type Orders interface {
	NextID() int64
	Position() model.Position
	Submit(id int64, side model.Side, price, volume int64, lifespan model.Lifespan, purpose model.Purpose, now int64) *model.Order
	ApplyHedgeFill(side model.Side, volume int64)
}

type inflight struct {
	model.HedgeOrder
	sentAt int64
}

// Report summarizes the corrective actions of one cycle.
type Report struct {
	Forced   bool
	Hedges   []model.HedgeOrder
	Resent   int
	Dropped  int
	Unhedged int64
}

// Reconciler owns in-flight hedge orders. Not safe for concurrent use.
type Reconciler struct {
	cfg    Config
	gw     model.Gateway
	orders Orders
	guard  *risk.Guard
	rate   *risk.RateWindow
	clock  risk.Clock
	log    *slog.Logger

	minBid, maxAsk int64

	hedges        map[int64]*inflight
	finished      map[int64]*inflight // dropped, replaced, rejected or filled
	unhedgedSince time.Time
	unhedged      bool
	unwindID      [2]int64 // per side, 0 when none in flight
}

// New creates a reconciler.
func New(cfg Config, gw model.Gateway, orders Orders, guard *risk.Guard, rate *risk.RateWindow, clock risk.Clock, log *slog.Logger) *Reconciler {
	if clock == nil {
		clock = risk.RealClock{}
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = 1
	}
	minBid, maxAsk := model.NearestTicks(cfg.TickSize)
	return &Reconciler{
		cfg:      cfg,
		gw:       gw,
		orders:   orders,
		guard:    guard,
		rate:     rate,
		clock:    clock,
		log:      log,
		minBid:   minBid,
		maxAsk:   maxAsk,
		hedges:   make(map[int64]*inflight),
		finished: make(map[int64]*inflight),
	}
}

// OffsetFill reacts to volume lots of a quote order on side filled at price.
func (r *Reconciler) OffsetFill(side model.Side, price, volume int64, etf, fut *model.Snapshot, cycle int64) Costing {
	c := Cost(side, price, etf, fut, r.cfg.TakerFeeBps)
	offset := side.Opposite()

	switch c.Choice {
	case Decline:
		r.log.Warn("no reference prices, leaving fill to reconciliation",
			slog.Int64("volume", volume))
		return c
	case Impulse:
		if r.sendImpulse(offset, c.ImpulsePrice, volume, cycle) {
			return c
		}
		if fut.Empty() {
			c.Choice = Decline
			return c
		}
		c.Choice = Hedge
	}
	r.sendHedge(offset, r.hedgePrice(offset, c.HedgePrice), volume, model.Because(model.PurposeFillHedge), cycle)
	return c
}

func (r *Reconciler) sendImpulse(side model.Side, price, volume, cycle int64) bool {
	if d := r.guard.CanPlaceSingle(side, price, volume); !d.Allowed {
		r.log.Debug("impulse denied", slog.String("reason", string(d.Reason)))
		return false
	}
	if d := r.guard.CanSendOperation(); !d.Allowed {
		r.log.Debug("impulse denied", slog.String("reason", string(d.Reason)))
		return false
	}
	id := r.orders.NextID()
	r.orders.Submit(id, side, price, volume, model.Immediate, model.Because(model.PurposeImpulse), cycle)
	r.gw.InsertOrder(id, side, price, volume, model.Immediate)
	r.rate.Record()
	return true
}

// hedgePrice chooses the futures limit price for side.
func (r *Reconciler) hedgePrice(side model.Side, computed int64) int64 {
	if r.cfg.Pricing == PricingComputed && computed > 0 {
		return computed
	}
	if side == model.Sell {
		return r.minBid
	}
	return r.maxAsk
}

// sendHedge submits a futures order, clamped so the hedge position plus
// in-flight hedges stays within the position limit.
func (r *Reconciler) sendHedge(side model.Side, price, volume int64, purpose model.Purpose, cycle int64) (model.HedgeOrder, bool) {
	projected := r.orders.Position().Hedge + r.InFlightSigned()
	room := r.cfg.PositionLimit - side.Sign()*projected
	if volume > room {
		volume = room
	}
	if volume <= 0 {
		r.log.Warn("hedge skipped at position limit",
			slog.String("side", side.String()),
			slog.Int64("projected", projected))
		return model.HedgeOrder{}, false
	}
	h := &inflight{
		HedgeOrder: model.HedgeOrder{
			ID:      r.orders.NextID(),
			Side:    side,
			Price:   price,
			Volume:  volume,
			Purpose: purpose,
		},
		sentAt: cycle,
	}
	r.hedges[h.ID] = h
	r.gw.SendHedgeOrder(h.ID, side, price, volume)
	r.log.Info("hedge sent",
		slog.Int64("order_id", h.ID),
		slog.String("side", side.String()),
		slog.Int64("price", price),
		slog.Int64("volume", volume),
		slog.String("purpose", purpose.String()))
	return h.HedgeOrder, true
}

// OnHedgeFilled applies a futures fill. A fill for a hedge that was already
// dropped or replaced still moves the hedge position, since the venue executed
// it. ok is false for ids that were never sent or have nothing left to fill.
func (r *Reconciler) OnHedgeFilled(id, price, volume int64) (model.HedgeOrder, bool) {
	h, found := r.hedges[id]
	if !found {
		return r.lateFill(id, price, volume)
	}
	if rem := h.Remaining(); volume > rem {
		r.log.Error("hedge fill exceeds order volume",
			slog.Int64("order_id", id),
			slog.Int64("fill", volume),
			slog.Int64("remaining", rem))
		volume = rem
	}
	h.Filled += volume
	r.orders.ApplyHedgeFill(h.Side, volume)
	if h.Remaining() == 0 {
		r.finish(h)
	}
	return h.HedgeOrder, true
}

func (r *Reconciler) lateFill(id, price, volume int64) (model.HedgeOrder, bool) {
	h, found := r.finished[id]
	if !found || h.Remaining() == 0 {
		r.log.Debug("hedge fill for unknown order", slog.Int64("order_id", id))
		return model.HedgeOrder{}, false
	}
	if rem := h.Remaining(); volume > rem {
		r.log.Error("hedge fill exceeds order volume",
			slog.Int64("order_id", id),
			slog.Int64("fill", volume),
			slog.Int64("remaining", rem))
		volume = rem
	}
	h.Filled += volume
	r.orders.ApplyHedgeFill(h.Side, volume)
	r.log.Warn("fill on finished hedge",
		slog.Int64("order_id", id),
		slog.Int64("price", price),
		slog.Int64("volume", volume),
		slog.Int64("hedge_position", r.orders.Position().Hedge))
	return h.HedgeOrder, true
}

// Discard forgets a hedge the venue rejected. It reports whether id was in
// flight.
func (r *Reconciler) Discard(id int64) bool {
	h, ok := r.hedges[id]
	if !ok {
		return false
	}
	r.log.Warn("hedge rejected",
		slog.Int64("order_id", id),
		slog.Int64("filled", h.Filled),
		slog.Int64("volume", h.Volume))
	r.finish(h)
	return true
}

func (r *Reconciler) finish(h *inflight) {
	delete(r.hedges, h.ID)
	r.finished[h.ID] = h
	for i, id := range r.unwindID {
		if id == h.ID {
			r.unwindID[i] = 0
		}
	}
}

// InFlightSigned is the signed unfilled volume of in-flight hedges.
func (r *Reconciler) InFlightSigned() int64 {
	var total int64
	for _, h := range r.hedges {
		total += h.Signed()
	}
	return total
}

// InFlight returns the in-flight hedges ordered by id.
func (r *Reconciler) InFlight() []model.HedgeOrder {
	out := make([]model.HedgeOrder, 0, len(r.hedges))
	for _, h := range r.hedges {
		out = append(out, h.HedgeOrder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnCycle runs the per-snapshot hedge duties: recover partial hedges, track
// how long exposure has been outside tolerance, unwind on strong volume
// pressure and reconcile on schedule or at the deadline.
func (r *Reconciler) OnCycle(cycle int64, fut *model.Snapshot, pressure float64) Report {
	var rep Report
	r.sweep(cycle, &rep)

	pos := r.orders.Position()
	rep.Unhedged = pos.Unhedged()
	now := r.clock.Now()

	if rep.Unhedged <= r.cfg.UnhedgedLotsLimit {
		r.unhedged = false
	} else if !r.unhedged {
		r.unhedged = true
		r.unhedgedSince = now
	}

	if r.unhedged && r.cfg.MaxUnhedged > 0 && now.Sub(r.unhedgedSince) >= r.cfg.MaxUnhedged {
		rep.Forced = true
		r.log.Warn("unhedged deadline reached, forcing reconciliation",
			slog.Int64("instrument", pos.Instrument),
			slog.Int64("hedge", pos.Hedge),
			slog.Duration("since", now.Sub(r.unhedgedSince)))
		if h, ok := r.reconcile(0, fut, model.PurposePeriodicHedge, cycle); ok {
			rep.Hedges = append(rep.Hedges, h)
		}
		r.unhedged = false
		return rep
	}

	if r.unhedged {
		if h, ok := r.unwind(pos, fut, pressure, cycle); ok {
			rep.Hedges = append(rep.Hedges, h)
		}
	}

	if cycle%r.cfg.ReconcileEvery == 0 {
		if h, ok := r.reconcile(r.cfg.UnhedgedLotsLimit, fut, model.PurposePeriodicHedge, cycle); ok {
			rep.Hedges = append(rep.Hedges, h)
		}
	}
	return rep
}

// Reconcile hedges the net exposure beyond tolerance, net of hedges in flight.
func (r *Reconciler) Reconcile(tolerance int64, fut *model.Snapshot, cycle int64) (model.HedgeOrder, bool) {
	return r.reconcile(tolerance, fut, model.PurposePeriodicHedge, cycle)
}

func (r *Reconciler) reconcile(tolerance int64, fut *model.Snapshot, kind model.PurposeKind, cycle int64) (model.HedgeOrder, bool) {
	diff := r.orders.Position().Net() + r.InFlightSigned()
	if diff == 0 || abs(diff) <= tolerance {
		return model.HedgeOrder{}, false
	}
	side := model.Sell
	if diff < 0 {
		side = model.Buy
	}
	var computed int64
	if !fut.Empty() {
		computed = touch(fut, side)
	}
	return r.sendHedge(side, r.hedgePrice(side, computed), abs(diff), model.Because(kind), cycle)
}

// unwind buys back a short hedge when buyers dominate the tape, or sells a
// long hedge when sellers do. One unwind per side may be in flight.
func (r *Reconciler) unwind(pos model.Position, fut *model.Snapshot, pressure float64, cycle int64) (model.HedgeOrder, bool) {
	var side model.Side
	switch {
	case pressure > r.cfg.UnwindSignal && pos.Hedge < 0:
		side = model.Buy
	case pressure < -r.cfg.UnwindSignal && pos.Hedge > 0:
		side = model.Sell
	default:
		return model.HedgeOrder{}, false
	}
	if r.unwindID[side] != 0 {
		return model.HedgeOrder{}, false
	}
	var computed int64
	if !fut.Empty() {
		computed = touch(fut, side)
	}
	h, ok := r.sendHedge(side, r.hedgePrice(side, computed), abs(pos.Hedge), model.Because(model.PurposeUnwind), cycle)
	if ok {
		r.unwindID[side] = h.ID
	}
	return h, ok
}

// sweep resubmits the remainder of partially filled hedges under a new id and
// drops unfilled hedges the venue has evidently discarded.
func (r *Reconciler) sweep(cycle int64, rep *Report) {
	var stale []*inflight
	for _, h := range r.hedges {
		if cycle-h.sentAt >= r.cfg.HedgeTTLCycles && r.cfg.HedgeTTLCycles > 0 {
			stale = append(stale, h)
		} else if h.Filled > 0 && h.Remaining() > 0 {
			stale = append(stale, h)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })

	for _, h := range stale {
		r.finish(h)
		if h.Filled == 0 {
			r.log.Warn("dropping unfilled hedge", slog.Int64("order_id", h.ID))
			rep.Dropped++
			continue
		}
		remaining := h.Remaining()
		price := r.hedgePrice(h.Side, 0)
		if next, ok := r.sendHedge(h.Side, price, remaining, h.Purpose, cycle); ok {
			r.log.Info("resent hedge remainder",
				slog.Int64("old_id", h.ID),
				slog.Int64("new_id", next.ID),
				slog.Int64("volume", remaining))
			if h.Purpose.Kind == model.PurposeUnwind {
				r.unwindID[h.Side] = next.ID
			}
			rep.Resent++
		}
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
