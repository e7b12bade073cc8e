package model

// Levels holds the five best price levels of one side. Prices are in cents;
// an empty level has price 0.
type Levels struct {
	Prices  [TopLevelCount]int64 `json:"prices"`
	Volumes [TopLevelCount]int64 `json:"volumes"`
}

// TotalVolume sums the volume across all levels.
func (l Levels) TotalVolume() int64 {
	var total int64
	for _, v := range l.Volumes {
		total += v
	}
	return total
}

// Notional sums price*volume across all levels.
func (l Levels) Notional() int64 {
	var total int64
	for i := range l.Prices {
		total += l.Prices[i] * l.Volumes[i]
	}
	return total
}

// Best returns the top-of-book price, 0 when the side is empty.
func (l Levels) Best() int64 { return l.Prices[0] }

// Snapshot is an accepted order-book update for one instrument. It is replaced
// wholesale on each accepted update and never mutated in place.
type Snapshot struct {
	Instrument Instrument `json:"instrument"`
	Sequence   int64      `json:"sequence"`
	Asks       Levels     `json:"asks"`
	Bids       Levels     `json:"bids"`
}

// Empty reports whether either side of the book has no liquidity yet.
func (s *Snapshot) Empty() bool {
	return s == nil || s.Asks.Best() == 0 || s.Bids.Best() == 0
}

// Mid returns the midpoint of the best bid and ask.
func (s *Snapshot) Mid() float64 {
	return float64(s.Asks.Best()+s.Bids.Best()) / 2
}

// Theo is the top-of-book price weighted toward the thinner side:
// (bid*askVol + ask*bidVol) / (askVol + bidVol). ok is false when both top
// volumes are zero.
func (s *Snapshot) Theo() (theo float64, ok bool) {
	askVol, bidVol := s.Asks.Volumes[0], s.Bids.Volumes[0]
	if askVol+bidVol == 0 {
		return 0, false
	}
	num := float64(s.Bids.Best())*float64(askVol) + float64(s.Asks.Best())*float64(bidVol)
	return num / float64(askVol+bidVol), true
}

// Imbalance is (bidVolume - askVolume) / (bidVolume + askVolume) across all
// levels, in [-1, 1]. Positive means buy-side pressure.
func (s *Snapshot) Imbalance() float64 {
	bid, ask := s.Bids.TotalVolume(), s.Asks.TotalVolume()
	if bid+ask == 0 {
		return 0
	}
	return float64(bid-ask) / float64(bid+ask)
}

// TradeTicks reports aggregated traded volume at up to five prices per side
// since the previous tick message.
type TradeTicks struct {
	Instrument Instrument `json:"instrument"`
	Sequence   int64      `json:"sequence"`
	Asks       Levels     `json:"asks"`
	Bids       Levels     `json:"bids"`
}

// Empty reports whether nothing traded.
func (t *TradeTicks) Empty() bool {
	return t.Asks.Best() == 0 && t.Bids.Best() == 0
}
