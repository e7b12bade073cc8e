package marketstate

import (
	"math"
	"testing"

	"autotrader-v1/internal/logger"
	"autotrader-v1/internal/model"
)

func book(inst model.Instrument, seq, bid, ask, vol int64) model.Snapshot {
	s := model.Snapshot{Instrument: inst, Sequence: seq}
	for i := 0; i < model.TopLevelCount; i++ {
		s.Bids.Prices[i] = bid - int64(i)*100
		s.Bids.Volumes[i] = vol
		s.Asks.Prices[i] = ask + int64(i)*100
		s.Asks.Volumes[i] = vol
	}
	return s
}

func ticks(inst model.Instrument, seq, askPrice, askVol, bidPrice, bidVol int64) model.TradeTicks {
	tt := model.TradeTicks{Instrument: inst, Sequence: seq}
	tt.Asks.Prices[0], tt.Asks.Volumes[0] = askPrice, askVol
	tt.Bids.Prices[0], tt.Bids.Volumes[0] = bidPrice, bidVol
	return tt
}

func TestIngest_AcceptsAndReplaces(t *testing.T) {
	tr := NewTracker(4, logger.Discard())
	if got := tr.Ingest(book(model.ETF, 1, 9900, 10100, 10)); got != Accepted {
		t.Fatalf("expected accepted, got %s", got)
	}
	if got := tr.Ingest(book(model.ETF, 2, 10000, 10200, 10)); got != Accepted {
		t.Fatalf("expected accepted, got %s", got)
	}
	s := tr.LatestSnapshot(model.ETF)
	if s == nil || s.Sequence != 2 || s.Bids.Best() != 10000 {
		t.Fatalf("expected snapshot seq 2 bid 10000, got %+v", s)
	}
	if tr.LatestSnapshot(model.Future) != nil {
		t.Error("expected no future snapshot yet")
	}
}

func TestIngest_RejectsStaleAndDuplicate(t *testing.T) {
	tr := NewTracker(4, logger.Discard())
	tr.Ingest(book(model.ETF, 5, 9900, 10100, 10))

	for _, seq := range []int64{5, 4, 1} {
		if got := tr.Ingest(book(model.ETF, seq, 1000, 2000, 1)); got != RejectStale {
			t.Errorf("seq %d: expected stale, got %s", seq, got)
		}
	}
	if s := tr.LatestSnapshot(model.ETF); s.Bids.Best() != 9900 {
		t.Errorf("expected snapshot unchanged, got bid %d", s.Bids.Best())
	}
	if avg := tr.RollingVolumeAverage(model.ETF, 0); avg != 100 {
		t.Errorf("expected window untouched at 100, got %v", avg)
	}
}

func TestIngest_RejectsEmptyBook(t *testing.T) {
	tr := NewTracker(4, logger.Discard())
	s := book(model.ETF, 1, 9900, 10100, 10)
	s.Bids.Prices[0] = 0
	if got := tr.Ingest(s); got != RejectEmpty {
		t.Fatalf("expected empty, got %s", got)
	}
	if tr.LatestSnapshot(model.ETF) != nil {
		t.Fatal("expected no snapshot after empty update")
	}
	// the same sequence number is still usable once the book populates
	if got := tr.Ingest(book(model.ETF, 1, 9900, 10100, 10)); got != Accepted {
		t.Fatalf("expected accepted, got %s", got)
	}
}

func TestIngest_StreamsAreIndependent(t *testing.T) {
	tr := NewTracker(4, logger.Discard())
	tr.Ingest(book(model.ETF, 10, 9900, 10100, 10))
	if got := tr.Ingest(book(model.Future, 1, 9900, 10100, 10)); got != Accepted {
		t.Errorf("future stream should not see etf sequence, got %s", got)
	}
	if got := tr.IngestTrade(ticks(model.ETF, 1, 10100, 5, 0, 0)); got != Accepted {
		t.Errorf("trade stream should not see book sequence, got %s", got)
	}
	if got := tr.Ingest(book(model.ETF, 9, 9900, 10100, 10)); got != RejectStale {
		t.Errorf("expected stale book, got %s", got)
	}
}

func TestRollingVolumeAverage_Evicts(t *testing.T) {
	tr := NewTracker(3, logger.Discard())
	for i, vol := range []int64{1, 2, 3, 4} {
		tr.Ingest(book(model.ETF, int64(i+1), 9900, 10100, vol))
	}
	// each snapshot carries 10 levels of vol; window keeps 2,3,4
	if got := tr.RollingVolumeAverage(model.ETF, 0); got != 30 {
		t.Errorf("expected 30, got %v", got)
	}
	if got := tr.RollingVolumeAverage(model.ETF, 1); got != 40 {
		t.Errorf("expected last entry 40, got %v", got)
	}
	if got := tr.RollingVolumeAverage(model.ETF, 2); got != 35 {
		t.Errorf("expected 35, got %v", got)
	}
}

func TestIngestTrade_PriceAndPressure(t *testing.T) {
	tr := NewTracker(4, logger.Discard())

	if got := tr.IngestTrade(ticks(model.ETF, 1, 10100, 30, 9900, 10)); got != Accepted {
		t.Fatalf("expected accepted, got %s", got)
	}
	latest, prev := tr.TradedPrice(model.ETF)
	if latest != 10050 || prev != 0 {
		t.Errorf("expected price 10050/0, got %v/%v", latest, prev)
	}
	// avg traded = 40, (30-10)/40
	if p := tr.VolumePressure(model.ETF); math.Abs(p-0.5) > 1e-9 {
		t.Errorf("expected pressure 0.5, got %v", p)
	}

	tr.IngestTrade(ticks(model.ETF, 2, 10200, 0, 10000, 20))
	latest, prev = tr.TradedPrice(model.ETF)
	if latest != 10000 || prev != 10050 {
		t.Errorf("expected price 10000/10050, got %v/%v", latest, prev)
	}
	// avg traded = 30, (0-20)/30
	if p := tr.VolumePressure(model.ETF); math.Abs(p+2.0/3.0) > 1e-9 {
		t.Errorf("expected pressure -0.667, got %v", p)
	}
	if n := tr.TradeObservations(model.ETF); n != 2 {
		t.Errorf("expected 2 observations, got %d", n)
	}
}

func TestIngestTrade_ReplayIsNoop(t *testing.T) {
	tr := NewTracker(4, logger.Discard())
	tr.IngestTrade(ticks(model.ETF, 3, 10100, 30, 9900, 10))
	if got := tr.IngestTrade(ticks(model.ETF, 3, 20000, 99, 1000, 1)); got != RejectStale {
		t.Fatalf("expected stale, got %s", got)
	}
	if latest, _ := tr.TradedPrice(model.ETF); latest != 10050 {
		t.Errorf("expected price unchanged, got %v", latest)
	}
	if n := tr.TradeObservations(model.ETF); n != 1 {
		t.Errorf("expected 1 observation, got %d", n)
	}
}

func TestIngestTrade_EmptyTick(t *testing.T) {
	tr := NewTracker(4, logger.Discard())
	if got := tr.IngestTrade(model.TradeTicks{Instrument: model.ETF, Sequence: 1}); got != RejectNoTrades {
		t.Fatalf("expected no_trades, got %s", got)
	}
	if n := tr.TradeObservations(model.ETF); n != 0 {
		t.Errorf("expected 0 observations, got %d", n)
	}
}
