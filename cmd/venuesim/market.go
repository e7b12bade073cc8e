package main

import (
	"math/rand"

	"autotrader-v1/internal/model"
	"autotrader-v1/internal/venue"
)

// market simulates a futures contract and an ETF tracking it. Both books are
// laid out on the tick grid around their own mid; the ETF mid wanders a few
// ticks either side of the future's.
type market struct {
	rng        *rand.Rand
	tick       int64
	futureMid  int64
	etfOffset  int64
	seq        [2]int64
	tradeEvery int
	steps      int
}

func newMarket(seed int64, startPrice, tick int64, tradeEvery int) *market {
	return &market{
		rng:        rand.New(rand.NewSource(seed)),
		tick:       tick,
		futureMid:  startPrice / tick * tick,
		tradeEvery: tradeEvery,
	}
}

// step advances the simulation one interval and returns the updates to
// broadcast, future first.
func (m *market) step() []venue.Event {
	m.steps++
	m.futureMid += int64(m.rng.Intn(3)-1) * m.tick
	if m.futureMid < 10*m.tick {
		m.futureMid = 10 * m.tick
	}
	// mean-reverting basis
	switch {
	case m.etfOffset > 2*m.tick:
		m.etfOffset -= m.tick
	case m.etfOffset < -2*m.tick:
		m.etfOffset += m.tick
	default:
		m.etfOffset += int64(m.rng.Intn(3)-1) * m.tick
	}

	out := []venue.Event{
		{Kind: venue.KindBook, Book: m.book(model.Future, m.futureMid, 1)},
		{Kind: venue.KindBook, Book: m.book(model.ETF, m.futureMid+m.etfOffset, 2)},
	}
	if m.tradeEvery > 0 && m.steps%m.tradeEvery == 0 {
		out = append(out, venue.Event{Kind: venue.KindTrade, Trade: m.trades(model.ETF)})
	}
	return out
}

// book builds a five-level book with halfSpread ticks either side of mid.
func (m *market) book(inst model.Instrument, mid, halfSpread int64) model.Snapshot {
	m.seq[inst]++
	s := model.Snapshot{Instrument: inst, Sequence: m.seq[inst]}
	for i := 0; i < model.TopLevelCount; i++ {
		off := (halfSpread + int64(i)) * m.tick
		s.Asks.Prices[i] = mid + off
		s.Bids.Prices[i] = mid - off
		s.Asks.Volumes[i] = int64(m.rng.Intn(50)+1) * 10
		s.Bids.Volumes[i] = int64(m.rng.Intn(50)+1) * 10
	}
	return s
}

// trades reports volume traded at the touch since the last report.
func (m *market) trades(inst model.Instrument) model.TradeTicks {
	mid := m.futureMid
	if inst == model.ETF {
		mid += m.etfOffset
	}
	t := model.TradeTicks{Instrument: inst, Sequence: m.seq[inst]}
	if m.rng.Intn(2) == 0 {
		t.Asks.Prices[0] = mid + 2*m.tick
		t.Asks.Volumes[0] = int64(m.rng.Intn(20)+1) * 10
	} else {
		t.Bids.Prices[0] = mid - 2*m.tick
		t.Bids.Volumes[0] = int64(m.rng.Intn(20)+1) * 10
	}
	return t
}
