// Package risk holds the pre-trade checks every outbound ETF action passes
// through. All checks are predicates: callers record rate usage only after a
// successful send.
package risk

import (
	"autotrader-v1/internal/model"
)

// Reason names the check that denied an action.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonPosition   Reason = "position_limit"
	ReasonWash       Reason = "wash_trade"
	ReasonLiveOrders Reason = "live_order_limit"
	ReasonRate       Reason = "rate_limit"
	ReasonVolume     Reason = "invalid_volume"
)

// Decision is the outcome of a check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision        { return Decision{Allowed: true} }
func deny(r Reason) Decision { return Decision{Reason: r} }
func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return "denied: " + string(d.Reason)
}

// Exposure is the view of outstanding orders and position the guard needs.
// The order manager implements it.
type Exposure interface {
	Position() model.Position
	LiveVolume(side model.Side) int64
	LiveCount() int
	RestingAt(side model.Side, price int64) bool
}

// Limits configure the guard.
type Limits struct {
	PositionLimit   int64
	MaxLiveOrders   int
	MaxOpsPerSecond int
}

// Guard evaluates risk predicates against the current exposure.
type Guard struct {
	limits   Limits
	exposure Exposure
	rate     *RateWindow
}

// NewGuard creates a guard. rate may be shared with the caller, which must
// Record each successful send.
func NewGuard(limits Limits, exposure Exposure, rate *RateWindow) *Guard {
	return &Guard{limits: limits, exposure: exposure, rate: rate}
}

// Limits returns the configured limits.
func (g *Guard) Limits() Limits { return g.limits }

// CanPlacePair checks a bid and an ask submitted together. Both must pass.
func (g *Guard) CanPlacePair(bidPrice, bidVolume, askPrice, askVolume int64) Decision {
	if bidVolume <= 0 || askVolume <= 0 {
		return deny(ReasonVolume)
	}
	if g.exposure.LiveCount()+2 > g.limits.MaxLiveOrders {
		return deny(ReasonLiveOrders)
	}
	if d := g.checkSide(model.Buy, bidPrice, bidVolume); !d.Allowed {
		return d
	}
	return g.checkSide(model.Sell, askPrice, askVolume)
}

// CanPlaceSingle checks one order.
func (g *Guard) CanPlaceSingle(side model.Side, price, volume int64) Decision {
	if volume <= 0 {
		return deny(ReasonVolume)
	}
	if g.exposure.LiveCount()+1 > g.limits.MaxLiveOrders {
		return deny(ReasonLiveOrders)
	}
	return g.checkSide(side, price, volume)
}

// CanSendOperation checks that one more insert, cancel or amend fits in the
// trailing one-second window.
func (g *Guard) CanSendOperation() Decision { return g.CanSendOperations(1) }

// CanSendOperations checks room for n operations.
func (g *Guard) CanSendOperations(n int) Decision {
	if g.rate.Count()+n > g.limits.MaxOpsPerSecond {
		return deny(ReasonRate)
	}
	return allow()
}

// checkSide applies the prospective position and wash checks.
func (g *Guard) checkSide(side model.Side, price, volume int64) Decision {
	pos := g.exposure.Position().Instrument
	live := g.exposure.LiveVolume(side)
	if side == model.Buy {
		if live+pos+volume >= g.limits.PositionLimit {
			return deny(ReasonPosition)
		}
	} else if -live+pos-volume <= -g.limits.PositionLimit {
		return deny(ReasonPosition)
	}
	if g.exposure.RestingAt(side.Opposite(), price) {
		return deny(ReasonWash)
	}
	return allow()
}
