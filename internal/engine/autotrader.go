// Package engine wires the market state tracker, pricing, risk, order
// lifecycle, hedging and quoting components behind the venue's inbound
// callbacks. The AutoTrader is single-threaded: the venue dispatcher invokes
// one handler at a time, in delivery order.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"autotrader-v1/config"
	"autotrader-v1/internal/hedge"
	"autotrader-v1/internal/logger"
	"autotrader-v1/internal/marketstate"
	"autotrader-v1/internal/metrics"
	"autotrader-v1/internal/model"
	"autotrader-v1/internal/notification"
	"autotrader-v1/internal/orders"
	"autotrader-v1/internal/portfolio"
	"autotrader-v1/internal/pricing"
	"autotrader-v1/internal/quoting"
	"autotrader-v1/internal/risk"
)

// Publisher receives engine state after each quoting cycle. It must not block.
type Publisher interface {
	Publish(s model.EngineState)
}

type publishers []Publisher

func (ps publishers) Publish(s model.EngineState) {
	for _, p := range ps {
		p.Publish(s)
	}
}

// Publishers combines several publishers into one, skipping nils.
func Publishers(ps ...Publisher) Publisher {
	var out publishers
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

// Deps are the engine's collaborators. Only Gateway is required.
type Deps struct {
	Gateway   model.Gateway
	Recorder  model.Recorder
	Publisher Publisher
	Metrics   *metrics.Metrics
	Alerts    *notification.Async
	PnL       *portfolio.PnLTracker
	Health    *metrics.HealthStatus
	Clock     risk.Clock
	Log       *slog.Logger
}

// AutoTrader handles venue callbacks.
type AutoTrader struct {
	cfg   config.Engine
	gw    model.Gateway
	rec   model.Recorder
	pub   Publisher
	m     *metrics.Metrics
	alert *notification.Async
	pnl   *portfolio.PnLTracker
	hs    *metrics.HealthStatus
	clock risk.Clock
	log   *slog.Logger

	tracker *marketstate.Tracker
	pricer  *pricing.Engine
	rate    *risk.RateWindow
	guard   *risk.Guard
	orders  *orders.Manager
	hedger  *hedge.Reconciler
	quotes  *quoting.Manager

	cycle int64
}

// New builds an AutoTrader from engine settings.
func New(cfg config.Engine, d Deps) *AutoTrader {
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if d.PnL == nil {
		d.PnL = portfolio.NewPnLTracker()
	}
	if d.Clock == nil {
		d.Clock = risk.RealClock{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	a := &AutoTrader{
		cfg:   cfg,
		rec:   d.Recorder,
		pub:   d.Publisher,
		m:     d.Metrics,
		alert: d.Alerts,
		pnl:   d.PnL,
		hs:    d.Health,
		clock: d.Clock,
		log:   logger.Component(d.Log, "engine"),
	}
	a.gw = &countingGateway{inner: d.Gateway, m: d.Metrics}

	a.tracker = marketstate.NewTracker(cfg.VolumeWindow, logger.Component(d.Log, "marketstate"))
	a.pricer = pricing.New(pricing.Params{
		TickSize:             cfg.TickSize,
		RiskAversion:         cfg.RiskAversion,
		ImbalanceThreshold:   cfg.ImbalanceThreshold,
		SkewTicks:            cfg.ImbalanceSkewTicks,
		Mode:                 cfg.ImbalanceMode,
		MinTradeObservations: cfg.MinTradeObservations,
	})
	a.orders = orders.NewManager(orders.Config{
		PositionLimit:  cfg.PositionLimit,
		TTLCycles:      cfg.OrderTTLCycles,
		FillRateWindow: cfg.FillRateWindow,
	}, logger.Component(d.Log, "orders"))
	a.orders.OnArchive(a.rec.RecordArchived)

	a.rate = risk.NewRateWindow(d.Clock)
	a.guard = risk.NewGuard(risk.Limits{
		PositionLimit:   cfg.PositionLimit,
		MaxLiveOrders:   cfg.MaxLiveOrders,
		MaxOpsPerSecond: cfg.MaxOpsPerSecond,
	}, a.orders, a.rate)

	a.hedger = hedge.New(hedge.Config{
		TickSize:          cfg.TickSize,
		PositionLimit:     cfg.PositionLimit,
		UnhedgedLotsLimit: cfg.UnhedgedLotsLimit,
		MaxUnhedged:       time.Duration(cfg.MaxUnhedgedSecs) * time.Second,
		ReconcileEvery:    cfg.ReconcileEveryCycles,
		HedgeTTLCycles:    cfg.OrderTTLCycles,
		TakerFeeBps:       cfg.TakerFeeBps,
		Pricing:           cfg.HedgePricing,
		UnwindSignal:      cfg.UnwindSignal,
	}, a.gw, a.orders, a.guard, a.rate, d.Clock, logger.Component(d.Log, "hedge"))

	a.quotes = quoting.New(quoting.Config{
		LotSize:         cfg.LotSize,
		ActivityCeiling: cfg.MaxLiveOrders / 2,
		PullFraction:    cfg.PullFraction,
		AmendDivisor:    3,
	}, a.pricer, a.guard, a.rate, a.orders, a.gw, logger.Component(d.Log, "quoting"))

	return a
}

// Cycle is the number of accepted ETF book updates so far.
func (a *AutoTrader) Cycle() int64 { return a.cycle }

// Position returns the current instrument and hedge positions.
func (a *AutoTrader) Position() model.Position { return a.orders.Position() }

// Orders exposes the order record for inspection.
func (a *AutoTrader) Orders() *orders.Manager { return a.orders }

// PnL returns the P&L summary marked to the latest mids.
func (a *AutoTrader) PnL() portfolio.PnLSummary { return a.pnl.Summary(a.marks()) }

// State returns a point-in-time view of the engine.
func (a *AutoTrader) State() model.EngineState {
	return model.EngineState{
		Cycle:          a.cycle,
		Position:       a.orders.Position(),
		LiveOrders:     a.orders.Live(),
		HedgesInFlight: len(a.hedger.InFlight()),
		FillRatio:      a.orders.FillRatio(),
		AvgFillTicks:   a.orders.AvgFillTicks(),
	}
}

// OnOrderBookUpdate handles a book snapshot. Every accepted ETF update is one
// engine cycle: hedging duties run first, then expired orders are withdrawn
// and the quote is refreshed.
func (a *AutoTrader) OnOrderBookUpdate(s model.Snapshot) {
	defer a.observe("book", time.Now())

	switch a.tracker.Ingest(s) {
	case marketstate.Accepted:
	case marketstate.RejectStale:
		a.m.StaleDrops.WithLabelValues("book").Inc()
		return
	default:
		return
	}
	a.rec.RecordBook(s)
	if s.Instrument != model.ETF {
		return
	}

	a.cycle++
	etf := a.tracker.LatestSnapshot(model.ETF)
	fut := a.tracker.LatestSnapshot(model.Future)

	rep := a.hedger.OnCycle(a.cycle, fut, a.tracker.VolumePressure(model.ETF))
	if rep.Forced {
		a.m.ForcedHedges.Inc()
		pos := a.orders.Position()
		a.alert.Notify(notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "Forced hedge reconciliation",
			Message: fmt.Sprintf("cycle %d: etf %d, future %d", a.cycle, pos.Instrument, pos.Hedge),
		})
	}

	a.countDenials(a.quotes.CancelExpired(a.cycle))
	out := a.quotes.Requote(etf, a.tracker.TradeObservations(model.ETF), a.cycle)
	a.countDenials(out)

	a.refreshGauges()
	if a.pub != nil {
		a.pub.Publish(a.State())
	}
}

// OnTradeTicks handles a trade tick report.
func (a *AutoTrader) OnTradeTicks(t model.TradeTicks) {
	defer a.observe("trade", time.Now())

	switch a.tracker.IngestTrade(t) {
	case marketstate.Accepted:
		a.rec.RecordTrade(t)
	case marketstate.RejectStale:
		a.m.StaleDrops.WithLabelValues("trade").Inc()
	}
}

// OnOrderFilled handles a fill on an ETF order.
func (a *AutoTrader) OnOrderFilled(id, price, volume int64) {
	defer a.observe("fill", time.Now())

	res, ok := a.orders.OnFill(id, price, volume, a.cycle)
	if !ok {
		a.m.UnknownCallbacks.WithLabelValues("fill").Inc()
		return
	}
	if res.Applied == 0 {
		return
	}
	a.applyETFFill(res.Order, price, res.Applied)
	a.refreshGauges()
}

// OnOrderStatus handles a status update with cumulative fill.
func (a *AutoTrader) OnOrderStatus(id, totalFilled, remaining, fees int64) {
	defer a.observe("status", time.Now())

	var prevFees int64
	if o, ok := a.orders.Get(id); ok {
		prevFees = o.Fees
	}
	res, ok := a.orders.OnStatus(id, totalFilled, remaining, fees, a.cycle)
	if !ok {
		a.m.UnknownCallbacks.WithLabelValues("status").Inc()
		return
	}
	a.pnl.RecordFees(model.ETF, fees-prevFees)
	if res.Increment > 0 {
		a.applyETFFill(res.Order, res.Order.Price, res.Increment)
	}
	a.refreshGauges()
}

// applyETFFill books volume lots of o at price. Quote fills are offset and
// may pull the sibling leg, whichever callback reported them.
func (a *AutoTrader) applyETFFill(o model.Order, price, volume int64) {
	a.rec.RecordFill(model.Fill{
		Kind:    model.FillETF,
		OrderID: o.ID,
		Side:    o.Side,
		Price:   price,
		Volume:  volume,
		Purpose: o.Purpose,
		Cycle:   a.cycle,
	})
	a.pnl.RecordTrade(portfolio.Trade{Instrument: model.ETF, Side: o.Side, Price: price, Volume: volume})

	if o.Purpose.Kind != model.PurposeQuote {
		return
	}
	etf := a.tracker.LatestSnapshot(model.ETF)
	c := a.hedger.OffsetFill(o.Side, price, volume, etf, a.tracker.LatestSnapshot(model.Future), a.cycle)
	a.m.OffsetChoices.WithLabelValues(c.Choice.String()).Inc()
	a.quotes.OnQuoteFill(o, volume, etf)
}

// OnHedgeFilled handles a fill on a futures order.
func (a *AutoTrader) OnHedgeFilled(id, price, volume int64) {
	defer a.observe("hedge_fill", time.Now())

	h, ok := a.hedger.OnHedgeFilled(id, price, volume)
	if !ok {
		a.m.UnknownCallbacks.WithLabelValues("hedge_fill").Inc()
		return
	}
	a.rec.RecordFill(model.Fill{
		Kind:    model.FillHedge,
		OrderID: id,
		Side:    h.Side,
		Price:   price,
		Volume:  volume,
		Purpose: h.Purpose,
		Cycle:   a.cycle,
	})
	a.pnl.RecordTrade(portfolio.Trade{Instrument: model.Future, Side: h.Side, Price: price, Volume: volume})
	a.refreshGauges()
}

// OnError handles a venue error. A nonzero id is a rejection of that order
// and ends its lifecycle with no fill.
func (a *AutoTrader) OnError(id int64, message string) {
	defer a.observe("error", time.Now())

	a.m.VenueErrors.Inc()
	a.log.Warn("venue error", slog.Int64("order_id", id), slog.String("message", message))
	a.alert.Notify(notification.Alert{
		Level:   notification.AlertWarning,
		Title:   "Venue error",
		Message: fmt.Sprintf("order %d: %s", id, message),
	})
	if id == 0 {
		return
	}
	if _, ok := a.orders.Reject(id, a.cycle); ok {
		a.refreshGauges()
		return
	}
	if a.hedger.Discard(id) {
		a.refreshGauges()
		return
	}
	a.m.UnknownCallbacks.WithLabelValues("error").Inc()
}

func (a *AutoTrader) observe(kind string, start time.Time) {
	a.m.EventsTotal.WithLabelValues(kind).Inc()
	a.m.EventLatency.Observe(time.Since(start).Seconds())
	if a.hs != nil {
		a.hs.SetLastEventTime(start)
	}
}

func (a *AutoTrader) countDenials(out quoting.Outcome) {
	for _, r := range out.Denied {
		a.m.RiskDenials.WithLabelValues(string(r)).Inc()
	}
}

func (a *AutoTrader) marks() [2]float64 {
	var marks [2]float64
	for _, inst := range []model.Instrument{model.Future, model.ETF} {
		if s := a.tracker.LatestSnapshot(inst); !s.Empty() {
			marks[inst] = s.Mid()
		}
	}
	return marks
}

func (a *AutoTrader) refreshGauges() {
	pos := a.orders.Position()
	a.m.InstrumentPosition.Set(float64(pos.Instrument))
	a.m.HedgePosition.Set(float64(pos.Hedge))
	a.m.UnhedgedLots.Set(float64(pos.Unhedged()))
	a.m.LiveOrders.Set(float64(a.orders.LiveCount()))
	a.m.HedgesInFlight.Set(float64(len(a.hedger.InFlight())))
	a.m.FillRatio.Set(a.orders.FillRatio())

	sum := a.pnl.Summary(a.marks())
	realized, _ := sum.RealizedPnL.Float64()
	unrealized, _ := sum.UnrealizedPnL.Float64()
	a.m.RealizedPnL.Set(realized)
	a.m.UnrealizedPnL.Set(unrealized)
}

// countingGateway counts outbound operations by kind.
type countingGateway struct {
	inner model.Gateway
	m     *metrics.Metrics
}

func (g *countingGateway) InsertOrder(id int64, side model.Side, price, volume int64, lifespan model.Lifespan) {
	g.m.OperationsTotal.WithLabelValues("insert").Inc()
	g.inner.InsertOrder(id, side, price, volume, lifespan)
}

func (g *countingGateway) CancelOrder(id int64) {
	g.m.OperationsTotal.WithLabelValues("cancel").Inc()
	g.inner.CancelOrder(id)
}

func (g *countingGateway) AmendOrder(id, volume int64) {
	g.m.OperationsTotal.WithLabelValues("amend").Inc()
	g.inner.AmendOrder(id, volume)
}

func (g *countingGateway) SendHedgeOrder(id int64, side model.Side, price, volume int64) {
	g.m.OperationsTotal.WithLabelValues("hedge").Inc()
	g.inner.SendHedgeOrder(id, side, price, volume)
}

type nopRecorder struct{}

func (nopRecorder) RecordBook(model.Snapshot)    {}
func (nopRecorder) RecordTrade(model.TradeTicks) {}
func (nopRecorder) RecordFill(model.Fill)        {}
func (nopRecorder) RecordArchived(model.Order)   {}
