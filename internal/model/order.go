package model

// OrderState is the lifecycle state of an ETF order.
type OrderState uint8

const (
	Pending OrderState = iota
	Live
	Executed
	Cancelled
)

func (s OrderState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Live:
		return "live"
	case Executed:
		return "executed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s OrderState) Terminal() bool { return s == Executed || s == Cancelled }

// PurposeKind enumerates why an order was sent.
type PurposeKind uint8

const (
	// PurposeQuote is one leg of a resting two-sided quote.
	PurposeQuote PurposeKind = iota
	// PurposeImpulse is an immediate ETF order offsetting a fill.
	PurposeImpulse
	// PurposeFillHedge is a futures order offsetting a fill.
	PurposeFillHedge
	// PurposePeriodicHedge is a futures order from full reconciliation.
	PurposePeriodicHedge
	// PurposeUnwind is a futures order reducing the hedge ahead of a move.
	PurposeUnwind
)

func (k PurposeKind) String() string {
	switch k {
	case PurposeQuote:
		return "quote"
	case PurposeImpulse:
		return "impulse"
	case PurposeFillHedge:
		return "fill_hedge"
	case PurposePeriodicHedge:
		return "periodic_hedge"
	case PurposeUnwind:
		return "unwind"
	default:
		return "unknown"
	}
}

// Purpose tags an order with its intent. PairID is only meaningful for
// PurposeQuote and names the sibling leg (0 for a single-sided quote).
type Purpose struct {
	Kind   PurposeKind `json:"kind"`
	PairID int64       `json:"pair_id,omitempty"`
}

// QuoteLeg returns the purpose for a quote leg paired with pairID.
func QuoteLeg(pairID int64) Purpose { return Purpose{Kind: PurposeQuote, PairID: pairID} }

// Because returns a purpose with no pair link.
func Because(kind PurposeKind) Purpose { return Purpose{Kind: kind} }

func (p Purpose) String() string { return p.Kind.String() }

// Order is the engine's record of an ETF order.
type Order struct {
	ID       int64      `json:"id"`
	Side     Side       `json:"side"`
	Price    int64      `json:"price"`
	Volume   int64      `json:"volume"`
	Filled   int64      `json:"filled"`
	Lifespan Lifespan   `json:"lifespan"`
	State    OrderState `json:"state"`
	Purpose  Purpose    `json:"purpose"`
	Fees     int64      `json:"fees"`

	// Logical ticks: submission, first acknowledgement, terminal transition.
	SubmittedAt int64 `json:"submitted_at"`
	LiveAt      int64 `json:"live_at"`
	DoneAt      int64 `json:"done_at"`

	// CancelRequested is set once a cancel has been sent; fills may still arrive.
	CancelRequested bool  `json:"cancel_requested"`
	CancelSentAt    int64 `json:"cancel_sent_at,omitempty"`
}

// Remaining is the unfilled volume.
func (o *Order) Remaining() int64 { return o.Volume - o.Filled }

// Age returns how many ticks the order has been outstanding at now.
func (o *Order) Age(now int64) int64 { return now - o.SubmittedAt }

// HedgeOrder is a futures order. Hedge orders are priced marketably, so only
// side and volumes are tracked.
type HedgeOrder struct {
	ID      int64   `json:"id"`
	Side    Side    `json:"side"`
	Price   int64   `json:"price"`
	Volume  int64   `json:"volume"`
	Filled  int64   `json:"filled"`
	Purpose Purpose `json:"purpose"`
}

// Remaining is the unfilled volume.
func (h *HedgeOrder) Remaining() int64 { return h.Volume - h.Filled }

// Signed returns the remaining volume signed by side.
func (h *HedgeOrder) Signed() int64 { return h.Side.Sign() * h.Remaining() }
