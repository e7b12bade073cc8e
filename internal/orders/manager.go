// Package orders owns the canonical record of every ETF order the engine has
// sent and the positions that fills produce.
//
// Fill and status callbacks both advance an order's filled volume: a fill by
// its volume, a status report to its cumulative total. Whichever arrives
// second sees a zero increment, so position is never counted twice.
package orders

import (
	"log/slog"
	"sort"

	"autotrader-v1/internal/model"
)

// Config tunes the manager.
type Config struct {
	PositionLimit  int64
	TTLCycles      int64
	FillRateWindow int
}

// Transition reports what a status callback did to an order.
type Transition uint8

const (
	Unchanged Transition = iota
	BecameLive
	PartiallyFilled
	BecameExecuted
	BecameCancelled
)

func (t Transition) String() string {
	switch t {
	case Unchanged:
		return "unchanged"
	case BecameLive:
		return "live"
	case PartiallyFilled:
		return "partial"
	case BecameExecuted:
		return "executed"
	case BecameCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FillResult describes an applied fill callback.
type FillResult struct {
	Order   model.Order // state after the fill
	Applied int64       // lots that moved position
}

// StatusResult describes an applied status callback.
type StatusResult struct {
	Order      model.Order
	Increment  int64
	Transition Transition
}

// Manager tracks live and archived orders. Not safe for concurrent use; the
// engine event loop owns it.
type Manager struct {
	cfg    Config
	log    *slog.Logger
	nextID int64

	live      map[int64]*model.Order
	executed  map[int64]*model.Order
	cancelled map[int64]*model.Order

	recent    []int64 // submission order, trimmed to FillRateWindow
	fillTimes []int64 // ticks from submission to terminal state, trimmed likewise

	pos model.Position

	onArchive func(model.Order)
}

// NewManager creates an empty manager. The first id issued is 1.
func NewManager(cfg Config, log *slog.Logger) *Manager {
	if cfg.FillRateWindow <= 0 {
		cfg.FillRateWindow = 1
	}
	return &Manager{
		cfg:       cfg,
		log:       log,
		live:      make(map[int64]*model.Order),
		executed:  make(map[int64]*model.Order),
		cancelled: make(map[int64]*model.Order),
	}
}

// OnArchive registers a hook called with every order moved to an archive.
func (m *Manager) OnArchive(fn func(model.Order)) { m.onArchive = fn }

// NextID issues the next order id. Hedge orders draw from the same sequence.
func (m *Manager) NextID() int64 {
	m.nextID++
	return m.nextID
}

// Submit records a new order as pending. Call it when the order is sent.
func (m *Manager) Submit(id int64, side model.Side, price, volume int64, lifespan model.Lifespan, purpose model.Purpose, now int64) *model.Order {
	o := &model.Order{
		ID:          id,
		Side:        side,
		Price:       price,
		Volume:      volume,
		Lifespan:    lifespan,
		State:       model.Pending,
		Purpose:     purpose,
		SubmittedAt: now,
	}
	m.live[id] = o
	m.recent = append(m.recent, id)
	if over := len(m.recent) - m.cfg.FillRateWindow; over > 0 {
		m.recent = append(m.recent[:0], m.recent[over:]...)
	}
	return o
}

// OnFill applies a fill callback. ok is false when the id is not live.
func (m *Manager) OnFill(id, price, volume, now int64) (FillResult, bool) {
	o, found := m.live[id]
	if !found {
		m.unknown("fill", id)
		return FillResult{}, false
	}
	applied := m.advance(o, volume)
	if applied < volume {
		m.log.Error("fill exceeds order volume",
			slog.Int64("order_id", id),
			slog.Int64("fill", volume),
			slog.Int64("applied", applied))
	}
	return FillResult{Order: *o, Applied: applied}, true
}

// OnStatus applies a status callback with cumulative filled volume.
func (m *Manager) OnStatus(id, totalFilled, remaining, fees, now int64) (StatusResult, bool) {
	o, found := m.live[id]
	if !found {
		m.unknown("status", id)
		return StatusResult{}, false
	}
	if totalFilled < o.Filled {
		m.log.Warn("status reports less than recorded fill",
			slog.Int64("order_id", id),
			slog.Int64("reported", totalFilled),
			slog.Int64("recorded", o.Filled))
		totalFilled = o.Filled
	}
	inc := m.advance(o, totalFilled-o.Filled)
	o.Fees = fees

	res := StatusResult{Increment: inc}
	switch {
	case remaining > 0 && o.State == model.Pending:
		o.State = model.Live
		o.LiveAt = now
		res.Transition = BecameLive
	case remaining > 0 && inc > 0:
		res.Transition = PartiallyFilled
	case remaining == 0 && (inc > 0 || o.Filled == o.Volume):
		m.archive(o, model.Executed, now)
		res.Transition = BecameExecuted
	case remaining == 0:
		m.archive(o, model.Cancelled, now)
		res.Transition = BecameCancelled
	}
	res.Order = *o
	return res, true
}

// Reject treats a venue error for id as a terminal status with no fill.
func (m *Manager) Reject(id, now int64) (StatusResult, bool) {
	o, found := m.live[id]
	if !found {
		return StatusResult{}, false
	}
	return m.OnStatus(id, o.Filled, 0, o.Fees, now)
}

// advance moves o.Filled forward by up to delta lots and applies the same
// amount to position. It returns the lots applied.
func (m *Manager) advance(o *model.Order, delta int64) int64 {
	if delta <= 0 {
		return 0
	}
	if rem := o.Remaining(); delta > rem {
		delta = rem
	}
	o.Filled += delta
	m.pos.Instrument += o.Side.Sign() * delta
	if m.pos.Instrument > m.cfg.PositionLimit || m.pos.Instrument < -m.cfg.PositionLimit {
		m.log.Error("instrument position beyond limit",
			slog.Int64("position", m.pos.Instrument),
			slog.Int64("limit", m.cfg.PositionLimit),
			slog.Int64("order_id", o.ID))
	}
	return delta
}

func (m *Manager) archive(o *model.Order, state model.OrderState, now int64) {
	o.State = state
	o.DoneAt = now
	delete(m.live, o.ID)
	if state == model.Executed {
		m.executed[o.ID] = o
	} else {
		m.cancelled[o.ID] = o
	}
	m.fillTimes = append(m.fillTimes, now-o.SubmittedAt)
	if over := len(m.fillTimes) - m.cfg.FillRateWindow; over > 0 {
		m.fillTimes = append(m.fillTimes[:0], m.fillTimes[over:]...)
	}
	if m.onArchive != nil {
		m.onArchive(*o)
	}
}

func (m *Manager) unknown(kind string, id int64) {
	state := "never seen"
	if _, ok := m.executed[id]; ok {
		state = "executed"
	} else if _, ok := m.cancelled[id]; ok {
		state = "cancelled"
	}
	m.log.Debug("callback for order not live",
		slog.String("callback", kind),
		slog.Int64("order_id", id),
		slog.String("archived", state))
}

// ApplyHedgeFill moves the hedge position by a futures fill.
func (m *Manager) ApplyHedgeFill(side model.Side, volume int64) {
	m.pos.Hedge += side.Sign() * volume
	if m.pos.Hedge > m.cfg.PositionLimit || m.pos.Hedge < -m.cfg.PositionLimit {
		m.log.Error("hedge position beyond limit",
			slog.Int64("position", m.pos.Hedge),
			slog.Int64("limit", m.cfg.PositionLimit))
	}
}

// Position returns the current instrument and hedge positions.
func (m *Manager) Position() model.Position { return m.pos }

// Get returns a live order.
func (m *Manager) Get(id int64) (*model.Order, bool) {
	o, ok := m.live[id]
	return o, ok
}

// Lookup finds an order in the live set or either archive.
func (m *Manager) Lookup(id int64) (model.Order, bool) {
	if o, ok := m.live[id]; ok {
		return *o, true
	}
	if o, ok := m.executed[id]; ok {
		return *o, true
	}
	if o, ok := m.cancelled[id]; ok {
		return *o, true
	}
	return model.Order{}, false
}

// Sibling returns the live paired leg of a quote order.
func (m *Manager) Sibling(id int64) (*model.Order, bool) {
	o, ok := m.Lookup(id)
	if !ok || o.Purpose.Kind != model.PurposeQuote || o.Purpose.PairID == 0 {
		return nil, false
	}
	return m.Get(o.Purpose.PairID)
}

// Pair links two live quote legs as siblings.
func (m *Manager) Pair(a, b int64) {
	if o, ok := m.live[a]; ok {
		o.Purpose = model.QuoteLeg(b)
	}
	if o, ok := m.live[b]; ok {
		o.Purpose = model.QuoteLeg(a)
	}
}

// Live returns copies of the live orders, oldest first.
func (m *Manager) Live() []model.Order {
	out := make([]model.Order, 0, len(m.live))
	for _, o := range m.live {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LiveCount is the number of live or pending orders.
func (m *Manager) LiveCount() int { return len(m.live) }

// LiveVolume is the unfilled volume of live orders on side.
func (m *Manager) LiveVolume(side model.Side) int64 {
	var total int64
	for _, o := range m.live {
		if o.Side == side {
			total += o.Remaining()
		}
	}
	return total
}

// RestingAt reports whether a live order on side with unfilled volume sits
// at price.
func (m *Manager) RestingAt(side model.Side, price int64) bool {
	for _, o := range m.live {
		if o.Side == side && o.Price == price && o.Remaining() > 0 {
			return true
		}
	}
	return false
}

// MarkCancelRequested flags a live order as having a cancel in flight since
// now.
func (m *Manager) MarkCancelRequested(id, now int64) {
	if o, ok := m.live[id]; ok {
		o.CancelRequested = true
		o.CancelSentAt = now
	}
}

// Amend records a volume reduction sent to the venue. Volumes below the filled
// amount or not smaller than the current volume are ignored.
func (m *Manager) Amend(id, volume int64) bool {
	o, ok := m.live[id]
	if !ok || volume >= o.Volume || volume < o.Filled {
		return false
	}
	o.Volume = volume
	return true
}

// Expired returns ids of live orders at least TTLCycles old at now, oldest
// first. An order with a cancel in flight is returned again once the cancel
// itself is TTLCycles old without the venue confirming it.
func (m *Manager) Expired(now int64) []int64 {
	var ids []int64
	for _, o := range m.live {
		since := o.SubmittedAt
		if o.CancelRequested {
			since = o.CancelSentAt
		}
		if now-since >= m.cfg.TTLCycles {
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FillRatio averages filled/volume over the most recent orders. Cancelled
// orders that never filled are left out.
func (m *Manager) FillRatio() float64 {
	var sum float64
	var n int
	for _, id := range m.recent {
		var o *model.Order
		if l, ok := m.live[id]; ok {
			o = l
		} else if e, ok := m.executed[id]; ok {
			o = e
		} else if c, ok := m.cancelled[id]; ok && c.Filled > 0 {
			o = c
		}
		if o == nil || o.Volume == 0 {
			continue
		}
		sum += float64(o.Filled) / float64(o.Volume)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// AvgFillTicks averages the ticks recent orders took to reach a terminal state.
func (m *Manager) AvgFillTicks() float64 {
	if len(m.fillTimes) == 0 {
		return 0
	}
	var sum int64
	for _, t := range m.fillTimes {
		sum += t
	}
	return float64(sum) / float64(len(m.fillTimes))
}

// Archived returns the sizes of the executed and cancelled archives.
func (m *Manager) Archived() (executed, cancelled int) {
	return len(m.executed), len(m.cancelled)
}
