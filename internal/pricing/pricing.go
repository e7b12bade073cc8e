// Package pricing turns an order-book snapshot into a two-sided quote.
package pricing

import (
	"math"

	"autotrader-v1/internal/model"
)

// Skew modes for one-sided book pressure.
const (
	ModeWiden  = "widen"
	ModeNarrow = "narrow"
)

// Params are the tuning constants of the quote formula.
type Params struct {
	TickSize             int64
	RiskAversion         float64 // α: half-width = α·σ
	ImbalanceThreshold   float64 // λ
	SkewTicks            int64
	Mode                 string
	MinTradeObservations int
}

// Placement describes where the rounded quote sits relative to the touch.
type Placement uint8

const (
	// Inside: both prices at or inside the best bid/ask.
	Inside Placement = iota
	// Contains: both prices outside the touch.
	Contains
	// ShiftedUp: bid inside, ask outside.
	ShiftedUp
	// ShiftedDown: ask inside, bid outside.
	ShiftedDown
	// Above: the bid is at or above the best ask.
	Above
	// Below: the ask is at or below the best bid.
	Below
)

func (p Placement) String() string {
	switch p {
	case Inside:
		return "inside"
	case Contains:
		return "contains"
	case ShiftedUp:
		return "shifted_up"
	case ShiftedDown:
		return "shifted_down"
	case Above:
		return "above"
	case Below:
		return "below"
	default:
		return "unknown"
	}
}

// Outside reports whether the quote lies entirely off the visible market.
func (p Placement) Outside() bool { return p == Above || p == Below }

// Quote is the result of one pricing pass.
type Quote struct {
	Bid, Ask       int64 // final, tick aligned, never better than the touch
	RawBid, RawAsk int64 // tick aligned before clamping
	Theo           float64
	HalfWidth      float64
	Imbalance      float64
	Placement      Placement
}

// Engine computes quotes. It holds no state between calls.
type Engine struct {
	p Params
}

// New creates a pricing engine.
func New(p Params) *Engine {
	if p.TickSize <= 0 {
		p.TickSize = 1
	}
	return &Engine{p: p}
}

// Params returns the engine's tuning.
func (e *Engine) Params() Params { return e.p }

// ComputeQuote prices snap. ok is false when the cycle should be skipped:
// empty book, degenerate volume, too few trade observations or a non-finite
// result.
func (e *Engine) ComputeQuote(snap *model.Snapshot, tradeObservations int) (q Quote, ok bool) {
	if snap.Empty() || tradeObservations < e.p.MinTradeObservations {
		return Quote{}, false
	}
	theo, ok := snap.Theo()
	if !ok {
		return Quote{}, false
	}
	variance, ok := Dispersion(snap, theo)
	if !ok {
		return Quote{}, false
	}
	half := e.p.RiskAversion * math.Sqrt(variance)
	if math.IsNaN(half) || math.IsInf(half, 0) {
		return Quote{}, false
	}

	bidOff, askOff := half, half
	imb := snap.Imbalance()
	skew := float64(e.p.SkewTicks * e.p.TickSize)
	switch {
	case imb > e.p.ImbalanceThreshold:
		// Buyers dominate: the ask is the side about to be run over.
		askOff += skew
		if e.p.Mode == ModeNarrow {
			bidOff = math.Max(0, bidOff-skew)
		}
	case imb < -e.p.ImbalanceThreshold:
		bidOff += skew
		if e.p.Mode == ModeNarrow {
			askOff = math.Max(0, askOff-skew)
		}
	}

	q = Quote{
		Theo:      theo,
		HalfWidth: half,
		Imbalance: imb,
		RawBid:    RoundDown(theo-bidOff, e.p.TickSize),
		RawAsk:    RoundUp(theo+askOff, e.p.TickSize),
	}
	if q.RawBid <= 0 {
		return Quote{}, false
	}
	q.Placement = Classify(q.RawBid, q.RawAsk, snap.Bids.Best(), snap.Asks.Best())
	q.Bid, q.Ask = clamp(q.RawBid, q.RawAsk, snap.Bids.Best(), snap.Asks.Best(), q.Placement)
	return q, true
}

// Dispersion is the volume-weighted variance of every populated level on both
// sides around theo. ok is false for a zero-volume book.
func Dispersion(snap *model.Snapshot, theo float64) (variance float64, ok bool) {
	var sum, weight float64
	add := func(l model.Levels) {
		for i := range l.Prices {
			if l.Prices[i] == 0 || l.Volumes[i] == 0 {
				continue
			}
			d := float64(l.Prices[i]) - theo
			v := float64(l.Volumes[i])
			sum += v * d * d
			weight += v
		}
	}
	add(snap.Bids)
	add(snap.Asks)
	if weight == 0 {
		return 0, false
	}
	return sum / weight, true
}

// Classify places a rounded quote relative to the best bid and ask.
func Classify(bid, ask, bestBid, bestAsk int64) Placement {
	switch {
	case bid >= bestAsk:
		return Above
	case ask <= bestBid:
		return Below
	case bid < bestBid && ask > bestAsk:
		return Contains
	case bid >= bestBid && ask > bestAsk:
		return ShiftedUp
	case bid < bestBid && ask <= bestAsk:
		return ShiftedDown
	default:
		return Inside
	}
}

// clamp keeps the quote from improving on the touch. A quote wider than the
// market on both sides joins the touch.
func clamp(bid, ask, bestBid, bestAsk int64, p Placement) (int64, int64) {
	if p == Contains {
		return bestBid, bestAsk
	}
	if bid > bestBid {
		bid = bestBid
	}
	if ask < bestAsk {
		ask = bestAsk
	}
	return bid, ask
}

// RoundDown aligns price down to the tick grid.
func RoundDown(price float64, tick int64) int64 {
	return int64(math.Floor(price/float64(tick))) * tick
}

// RoundUp aligns price up to the tick grid.
func RoundUp(price float64, tick int64) int64 {
	return int64(math.Ceil(price/float64(tick))) * tick
}
