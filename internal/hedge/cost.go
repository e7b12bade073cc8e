package hedge

import (
	"math"

	"autotrader-v1/internal/model"
)

// Choice is the offset route picked for a fill.
type Choice uint8

const (
	// Decline: no reference prices to judge either route.
	Decline Choice = iota
	Impulse
	Hedge
)

func (c Choice) String() string {
	switch c {
	case Decline:
		return "decline"
	case Impulse:
		return "impulse"
	case Hedge:
		return "hedge"
	default:
		return "unknown"
	}
}

// Costing is the outcome of the cost comparison. Costs are per lot in cents;
// a route whose book is empty has NaN cost.
type Costing struct {
	Choice       Choice
	ImpulseCost  float64
	HedgeCost    float64
	ImpulsePrice int64 // ETF price an impulse order would take
	HedgePrice   int64 // futures price a hedge would take
}

// Cost compares offsetting a fill of our ETF order on filledSide at price
// with an immediate ETF order against a futures hedge. The impulse pays the
// touch plus a taker fee; the hedge pays only the price difference. Ties go
// to the hedge.
func Cost(filledSide model.Side, price int64, etf, fut *model.Snapshot, takerFeeBps float64) Costing {
	c := Costing{ImpulseCost: math.NaN(), HedgeCost: math.NaN()}
	offset := filledSide.Opposite()

	if !etf.Empty() {
		c.ImpulsePrice = touch(etf, offset)
		fee := float64(c.ImpulsePrice) * takerFeeBps / 10000
		c.ImpulseCost = math.Abs(slippage(offset, price, c.ImpulsePrice)) + fee
	}
	if !fut.Empty() {
		c.HedgePrice = touch(fut, offset)
		c.HedgeCost = math.Abs(slippage(offset, price, c.HedgePrice))
	}

	switch {
	case math.IsNaN(c.ImpulseCost) && math.IsNaN(c.HedgeCost):
		c.Choice = Decline
	case math.IsNaN(c.ImpulseCost):
		c.Choice = Hedge
	case math.IsNaN(c.HedgeCost):
		c.Choice = Impulse
	case c.ImpulseCost < c.HedgeCost:
		c.Choice = Impulse
	default:
		c.Choice = Hedge
	}
	return c
}

// touch is the price an aggressive order on side would trade at.
func touch(s *model.Snapshot, side model.Side) int64 {
	if side == model.Sell {
		return s.Bids.Best()
	}
	return s.Asks.Best()
}

// slippage per lot of offsetting at exit after entering at entry.
func slippage(offset model.Side, entry, exit int64) float64 {
	if offset == model.Sell {
		return float64(entry - exit)
	}
	return float64(exit - entry)
}
