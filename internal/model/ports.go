package model

// ── Gateway Port ──
// The engine reaches the venue only through Gateway. Every call is
// fire-and-forget: outcomes arrive later as fill/status/error events.

// Gateway is the outbound side of the exchange connection.
type Gateway interface {
	// InsertOrder submits an ETF order.
	InsertOrder(id int64, side Side, price, volume int64, lifespan Lifespan)

	// CancelOrder requests cancellation of a resting ETF order.
	CancelOrder(id int64)

	// AmendOrder reduces the volume of a resting ETF order in place.
	AmendOrder(id int64, volume int64)

	// SendHedgeOrder submits a futures order.
	SendHedgeOrder(id int64, side Side, price, volume int64)
}

// ── Observer Ports ──
// Sinks for audit and state publication. Implementations must not block the
// caller; the engine invokes them from its event loop.

// FillKind distinguishes journaled executions.
type FillKind string

const (
	FillETF   FillKind = "etf"
	FillHedge FillKind = "hedge"
)

// Fill is one execution report.
type Fill struct {
	Kind    FillKind `json:"kind"`
	OrderID int64    `json:"order_id"`
	Side    Side     `json:"side"`
	Price   int64    `json:"price"`
	Volume  int64    `json:"volume"`
	Purpose Purpose  `json:"purpose"`
	Cycle   int64    `json:"cycle"`
}

// Recorder receives the audit trail.
type Recorder interface {
	RecordBook(s Snapshot)
	RecordTrade(t TradeTicks)
	RecordFill(f Fill)
	RecordArchived(o Order)
}

// EngineState is a point-in-time view of the engine for publishing.
type EngineState struct {
	Cycle          int64    `json:"cycle"`
	Position       Position `json:"position"`
	LiveOrders     []Order  `json:"live_orders"`
	HedgesInFlight int      `json:"hedges_in_flight"`
	FillRatio      float64  `json:"fill_ratio"`
	AvgFillTicks   float64  `json:"avg_fill_ticks"`
}
