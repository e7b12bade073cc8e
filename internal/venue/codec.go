package venue

import (
	"encoding/json"
	"fmt"

	"autotrader-v1/internal/model"
)

// Frame types on the wire. Inbound frames carry events, outbound frames carry
// commands.
const (
	frameBook      = "book"
	frameTrade     = "trade_ticks"
	frameFill      = "order_filled"
	frameStatus    = "order_status"
	frameHedgeFill = "hedge_filled"
	frameError     = "error"

	frameInsert = "insert_order"
	frameCancel = "cancel_order"
	frameAmend  = "amend_order"
	frameHedge  = "hedge_order"
)

// frame is the JSON message exchanged with the venue. Prices are cents.
type frame struct {
	Type       string           `json:"type"`
	Instrument model.Instrument `json:"instrument,omitempty"`
	Sequence   int64            `json:"sequence,omitempty"`

	AskPrices  *[model.TopLevelCount]int64 `json:"ask_prices,omitempty"`
	AskVolumes *[model.TopLevelCount]int64 `json:"ask_volumes,omitempty"`
	BidPrices  *[model.TopLevelCount]int64 `json:"bid_prices,omitempty"`
	BidVolumes *[model.TopLevelCount]int64 `json:"bid_volumes,omitempty"`

	OrderID   int64          `json:"order_id,omitempty"`
	Side      model.Side     `json:"side,omitempty"`
	Price     int64          `json:"price,omitempty"`
	Volume    int64          `json:"volume,omitempty"`
	Lifespan  model.Lifespan `json:"lifespan,omitempty"`
	Filled    int64          `json:"filled,omitempty"`
	Remaining int64          `json:"remaining,omitempty"`
	Fees      int64          `json:"fees,omitempty"`
	Message   string         `json:"message,omitempty"`
}

func levels(prices, volumes *[model.TopLevelCount]int64) model.Levels {
	var l model.Levels
	if prices != nil {
		l.Prices = *prices
	}
	if volumes != nil {
		l.Volumes = *volumes
	}
	return l
}

// DecodeEvent parses one inbound frame.
func DecodeEvent(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case frameBook:
		return Event{Kind: KindBook, Book: model.Snapshot{
			Instrument: f.Instrument,
			Sequence:   f.Sequence,
			Asks:       levels(f.AskPrices, f.AskVolumes),
			Bids:       levels(f.BidPrices, f.BidVolumes),
		}}, nil
	case frameTrade:
		return Event{Kind: KindTrade, Trade: model.TradeTicks{
			Instrument: f.Instrument,
			Sequence:   f.Sequence,
			Asks:       levels(f.AskPrices, f.AskVolumes),
			Bids:       levels(f.BidPrices, f.BidVolumes),
		}}, nil
	case frameFill:
		return Event{Kind: KindFill, OrderID: f.OrderID, Price: f.Price, Volume: f.Volume}, nil
	case frameStatus:
		return Event{Kind: KindStatus, OrderID: f.OrderID, TotalFilled: f.Filled, Remaining: f.Remaining, Fees: f.Fees}, nil
	case frameHedgeFill:
		return Event{Kind: KindHedgeFill, OrderID: f.OrderID, Price: f.Price, Volume: f.Volume}, nil
	case frameError:
		return Event{Kind: KindError, OrderID: f.OrderID, Message: f.Message}, nil
	default:
		return Event{}, fmt.Errorf("decode frame: unknown type %q", f.Type)
	}
}

// EncodeEvent renders e as an inbound frame. Used by test venues and tools.
func EncodeEvent(e Event) ([]byte, error) {
	var f frame
	switch e.Kind {
	case KindBook, KindTrade:
		l := e.Book
		f.Type = frameBook
		if e.Kind == KindTrade {
			f.Type = frameTrade
			l = model.Snapshot(e.Trade)
		}
		f.Instrument, f.Sequence = l.Instrument, l.Sequence
		f.AskPrices, f.AskVolumes = &l.Asks.Prices, &l.Asks.Volumes
		f.BidPrices, f.BidVolumes = &l.Bids.Prices, &l.Bids.Volumes
	case KindFill:
		f = frame{Type: frameFill, OrderID: e.OrderID, Price: e.Price, Volume: e.Volume}
	case KindStatus:
		f = frame{Type: frameStatus, OrderID: e.OrderID, Filled: e.TotalFilled, Remaining: e.Remaining, Fees: e.Fees}
	case KindHedgeFill:
		f = frame{Type: frameHedgeFill, OrderID: e.OrderID, Price: e.Price, Volume: e.Volume}
	case KindError:
		f = frame{Type: frameError, OrderID: e.OrderID, Message: e.Message}
	default:
		return nil, fmt.Errorf("encode event: unknown kind %d", e.Kind)
	}
	return json.Marshal(f)
}

// Command is an outbound order operation as seen by a venue.
type Command struct {
	Op       string
	OrderID  int64
	Side     model.Side
	Price    int64
	Volume   int64
	Lifespan model.Lifespan
}

// DecodeCommand parses one outbound frame. Used by simulated venues.
func DecodeCommand(raw []byte) (Command, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	switch f.Type {
	case frameInsert, frameCancel, frameAmend, frameHedge:
	default:
		return Command{}, fmt.Errorf("decode command: unknown type %q", f.Type)
	}
	return Command{Op: f.Type, OrderID: f.OrderID, Side: f.Side, Price: f.Price, Volume: f.Volume, Lifespan: f.Lifespan}, nil
}

// Apply forwards c to g.
func (c Command) Apply(g model.Gateway) {
	switch c.Op {
	case frameInsert:
		g.InsertOrder(c.OrderID, c.Side, c.Price, c.Volume, c.Lifespan)
	case frameCancel:
		g.CancelOrder(c.OrderID)
	case frameAmend:
		g.AmendOrder(c.OrderID, c.Volume)
	case frameHedge:
		g.SendHedgeOrder(c.OrderID, c.Side, c.Price, c.Volume)
	}
}
