// Package venue connects the engine to an exchange. Inbound venue messages
// become Events that a Dispatcher delivers to a Handler one at a time, in
// arrival order. Outbound commands go through model.Gateway implementations:
// the websocket Client for a live venue and the PaperVenue for replay.
package venue

import "autotrader-v1/internal/model"

// Kind identifies an inbound event.
type Kind uint8

const (
	KindBook Kind = iota
	KindTrade
	KindFill
	KindStatus
	KindHedgeFill
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindBook:
		return "book"
	case KindTrade:
		return "trade"
	case KindFill:
		return "fill"
	case KindStatus:
		return "status"
	case KindHedgeFill:
		return "hedge_fill"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// MarketData reports whether the event may be dropped under backpressure.
// A later snapshot supersedes a dropped one; order events cannot be lost.
func (k Kind) MarketData() bool { return k == KindBook || k == KindTrade }

// Event is one inbound venue message. Only the fields for Kind are set.
type Event struct {
	Kind  Kind
	Book  model.Snapshot
	Trade model.TradeTicks

	OrderID     int64
	Price       int64
	Volume      int64
	TotalFilled int64
	Remaining   int64
	Fees        int64
	Message     string
}

// Handler consumes venue events. Calls never overlap.
type Handler interface {
	OnOrderBookUpdate(s model.Snapshot)
	OnTradeTicks(t model.TradeTicks)
	OnOrderFilled(id, price, volume int64)
	OnOrderStatus(id, totalFilled, remaining, fees int64)
	OnHedgeFilled(id, price, volume int64)
	OnError(id int64, message string)
}

// Deliver invokes the handler method for e.
func Deliver(h Handler, e Event) {
	switch e.Kind {
	case KindBook:
		h.OnOrderBookUpdate(e.Book)
	case KindTrade:
		h.OnTradeTicks(e.Trade)
	case KindFill:
		h.OnOrderFilled(e.OrderID, e.Price, e.Volume)
	case KindStatus:
		h.OnOrderStatus(e.OrderID, e.TotalFilled, e.Remaining, e.Fees)
	case KindHedgeFill:
		h.OnHedgeFilled(e.OrderID, e.Price, e.Volume)
	case KindError:
		h.OnError(e.OrderID, e.Message)
	}
}
