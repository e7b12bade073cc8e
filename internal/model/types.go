package model

// TopLevelCount is the number of price levels reported per side in book and
// trade-tick messages.
const TopLevelCount = 5

// Venue price bounds, in cents.
const (
	MinimumBid int64 = 1
	MaximumAsk int64 = 2147483647
)

// Instrument identifies one of the two traded products.
type Instrument uint8

const (
	Future Instrument = iota
	ETF
)

func (i Instrument) String() string {
	switch i {
	case Future:
		return "future"
	case ETF:
		return "etf"
	default:
		return "unknown"
	}
}

// Side of an order. Sell is the zero value to match the venue encoding.
type Side uint8

const (
	Sell Side = iota
	Buy
)

func (s Side) String() string {
	if s == Buy {
		return "bid"
	}
	return "ask"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for bids and -1 for asks: the direction a fill moves position.
func (s Side) Sign() int64 {
	if s == Buy {
		return 1
	}
	return -1
}

// Lifespan of an order on the venue.
type Lifespan uint8

const (
	// Immediate orders fill what they can and the remainder is withdrawn.
	Immediate Lifespan = iota
	// Resting orders stay on the book until filled or cancelled.
	Resting
)

func (l Lifespan) String() string {
	if l == Resting {
		return "resting"
	}
	return "immediate"
}

// NearestTicks returns the most extreme marketable prices that are still
// aligned to tickSize: the lowest sell price and the highest buy price.
func NearestTicks(tickSize int64) (minBid, maxAsk int64) {
	minBid = (MinimumBid + tickSize) / tickSize * tickSize
	maxAsk = MaximumAsk / tickSize * tickSize
	return minBid, maxAsk
}
