// Package portfolio keeps cash, fee and average-entry accounting for the two
// traded instruments and derives realized and unrealized P&L.
//
// Prices arrive as integer cents. All money arithmetic is done in decimal so
// average entry prices do not drift with repeated partial closes.
package portfolio

import (
	"sync"

	"github.com/shopspring/decimal"

	"autotrader-v1/internal/model"
)

const instrumentCount = 2

// Trade is one execution for P&L purposes.
type Trade struct {
	Instrument model.Instrument `json:"instrument"`
	Side       model.Side       `json:"side"`
	Price      int64            `json:"price"` // cents
	Volume     int64            `json:"volume"`
}

type book struct {
	qty      int64           // signed
	avgPrice decimal.Decimal // average entry of the open qty
	cash     decimal.Decimal
	fees     decimal.Decimal
	realized decimal.Decimal
}

// PnLTracker tracks realized and unrealized P&L per instrument.
type PnLTracker struct {
	mu     sync.RWMutex
	books  [instrumentCount]book
	trades int

	peakEquity decimal.Decimal
}

// NewPnLTracker creates an empty tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{}
}

// RecordTrade applies a trade and returns the P&L it realized.
// Position-reducing volume realizes against the average entry price; any
// excess opens a new position at the trade price.
func (p *PnLTracker) RecordTrade(t Trade) decimal.Decimal {
	if t.Volume <= 0 || int(t.Instrument) >= instrumentCount {
		return decimal.Zero
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trades++
	b := &p.books[t.Instrument]
	price := decimal.NewFromInt(t.Price)
	sign := t.Side.Sign()
	b.cash = b.cash.Sub(price.Mul(decimal.NewFromInt(sign * t.Volume)))

	realized := decimal.Zero
	volume := t.Volume

	if b.qty != 0 && (b.qty > 0) != (sign > 0) {
		closing := volume
		if open := abs(b.qty); closing > open {
			closing = open
		}
		// Long positions gain when price > entry, shorts when price < entry.
		direction := decimal.NewFromInt(-sign)
		realized = price.Sub(b.avgPrice).Mul(decimal.NewFromInt(closing)).Mul(direction)
		b.realized = b.realized.Add(realized)
		b.qty += sign * closing
		volume -= closing
		if b.qty == 0 {
			b.avgPrice = decimal.Zero
		}
	}

	if volume > 0 {
		open := decimal.NewFromInt(abs(b.qty))
		added := decimal.NewFromInt(volume)
		b.avgPrice = b.avgPrice.Mul(open).Add(price.Mul(added)).Div(open.Add(added))
		b.qty += sign * volume
	}
	return realized
}

// RecordFees adds fees paid (negative for rebates) on inst.
func (p *PnLTracker) RecordFees(inst model.Instrument, fees int64) {
	if fees == 0 || int(inst) >= instrumentCount {
		return
	}
	p.mu.Lock()
	p.books[inst].fees = p.books[inst].fees.Add(decimal.NewFromInt(fees))
	p.mu.Unlock()
}

// RealizedPnL is the realized P&L across both instruments net of fees.
func (p *PnLTracker) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedLocked()
}

func (p *PnLTracker) realizedLocked() decimal.Decimal {
	total := decimal.Zero
	for i := range p.books {
		total = total.Add(p.books[i].realized).Sub(p.books[i].fees)
	}
	return total
}

// UnrealizedPnL marks open positions to marks, indexed by instrument. A zero
// mark leaves that instrument out.
func (p *PnLTracker) UnrealizedPnL(marks [instrumentCount]float64) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unrealizedLocked(marks)
}

func (p *PnLTracker) unrealizedLocked(marks [instrumentCount]float64) decimal.Decimal {
	total := decimal.Zero
	for i := range p.books {
		b := p.books[i]
		if b.qty == 0 || marks[i] == 0 {
			continue
		}
		mark := decimal.NewFromFloat(marks[i])
		total = total.Add(mark.Sub(b.avgPrice).Mul(decimal.NewFromInt(b.qty)))
	}
	return total
}

// PnLSummary is a point-in-time P&L view.
type PnLSummary struct {
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	Fees          decimal.Decimal `json:"fees"`
	PeakPnL       decimal.Decimal `json:"peak_pnl"`
	DrawdownPnL   decimal.Decimal `json:"drawdown_pnl"`
	TotalTrades   int             `json:"total_trades"`
	ETFQty        int64           `json:"etf_qty"`
	FutureQty     int64           `json:"future_qty"`
	ETFAvgPrice   decimal.Decimal `json:"etf_avg_price"`
}

// Summary marks the book to marks and updates the running peak.
func (p *PnLTracker) Summary(marks [instrumentCount]float64) PnLSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	realized := p.realizedLocked()
	unrealized := p.unrealizedLocked(marks)
	total := realized.Add(unrealized)
	if total.GreaterThan(p.peakEquity) {
		p.peakEquity = total
	}
	fees := decimal.Zero
	for i := range p.books {
		fees = fees.Add(p.books[i].fees)
	}
	return PnLSummary{
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		TotalPnL:      total,
		Fees:          fees,
		PeakPnL:       p.peakEquity,
		DrawdownPnL:   p.peakEquity.Sub(total),
		TotalTrades:   p.trades,
		ETFQty:        p.books[model.ETF].qty,
		FutureQty:     p.books[model.Future].qty,
		ETFAvgPrice:   p.books[model.ETF].avgPrice,
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
