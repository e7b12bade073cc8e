package venue

import (
	"log"
	"sort"

	"autotrader-v1/internal/model"
)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	MaxLiveOrders int
	TakerFeeBps   int64 // charged on volume that trades on arrival
	MakerFeeBps   int64 // charged on resting volume; negative for a rebate
}

type paperOrder struct {
	id       int64
	side     model.Side
	price    int64
	volume   int64
	filled   int64
	fees     int64
	lifespan model.Lifespan
}

func (o *paperOrder) remaining() int64 { return o.volume - o.filled }

// PaperVenue simulates the exchange for replay. Orders trade against the
// latest observed books: a marketable order takes the touch on arrival and a
// resting order fills once the opposite side of the book moves through its
// price. Responses are injected into the dispatcher, so PaperVenue must be
// used from the dispatcher's Run goroutine.
type PaperVenue struct {
	cfg    PaperConfig
	d      *Dispatcher
	books  [2]model.Snapshot
	orders map[int64]*paperOrder

	inserts, hedges, fills int
}

// NewPaperVenue creates a paper venue that observes books through d.
func NewPaperVenue(cfg PaperConfig, d *Dispatcher) *PaperVenue {
	p := &PaperVenue{
		cfg:    cfg,
		d:      d,
		orders: make(map[int64]*paperOrder),
	}
	d.Observe(p.observe)
	return p
}

func (p *PaperVenue) observe(e Event) {
	if e.Kind != KindBook || int(e.Book.Instrument) >= len(p.books) {
		return
	}
	p.books[e.Book.Instrument] = e.Book
	if e.Book.Instrument == model.ETF {
		p.matchResting()
	}
}

// InsertOrder implements model.Gateway.
func (p *PaperVenue) InsertOrder(id int64, side model.Side, price, volume int64, lifespan model.Lifespan) {
	p.inserts++
	if volume <= 0 || price <= 0 {
		p.reject(id, "invalid order")
		return
	}
	if _, dup := p.orders[id]; dup {
		p.reject(id, "duplicate order id")
		return
	}
	if p.cfg.MaxLiveOrders > 0 && len(p.orders) >= p.cfg.MaxLiveOrders {
		p.reject(id, "too many live orders")
		return
	}
	if p.crossesOwn(side, price) {
		p.reject(id, "order would trade with own order")
		return
	}

	o := &paperOrder{id: id, side: side, price: price, volume: volume, lifespan: lifespan}
	if take := p.marketable(model.ETF, side, price, volume); take > 0 {
		p.fill(o, price, take, p.cfg.TakerFeeBps)
	}
	if o.remaining() == 0 || lifespan == model.Immediate {
		p.status(o, 0)
		return
	}
	p.orders[id] = o
	p.status(o, o.remaining())
}

// CancelOrder implements model.Gateway.
func (p *PaperVenue) CancelOrder(id int64) {
	o, ok := p.orders[id]
	if !ok {
		// Already done; the terminal status has been sent.
		return
	}
	delete(p.orders, id)
	p.status(o, 0)
}

// AmendOrder implements model.Gateway.
func (p *PaperVenue) AmendOrder(id, volume int64) {
	o, ok := p.orders[id]
	if !ok {
		return
	}
	if volume >= o.volume || volume < o.filled {
		p.reject(id, "invalid amend volume")
		return
	}
	o.volume = volume
	if o.remaining() == 0 {
		delete(p.orders, id)
	}
	p.status(o, o.remaining())
}

// SendHedgeOrder implements model.Gateway. Hedges take the futures touch up
// to its displayed volume; any remainder is discarded.
func (p *PaperVenue) SendHedgeOrder(id int64, side model.Side, price, volume int64) {
	p.hedges++
	take := p.marketable(model.Future, side, price, volume)
	if take == 0 {
		return
	}
	fut := p.books[model.Future]
	at := fut.Asks.Best()
	if side == model.Sell {
		at = fut.Bids.Best()
	}
	p.d.Inject(Event{Kind: KindHedgeFill, OrderID: id, Price: at, Volume: take})
}

// marketable is the volume an order on side at price would take from the
// touch of inst.
func (p *PaperVenue) marketable(inst model.Instrument, side model.Side, price, volume int64) int64 {
	b := p.books[inst]
	if b.Empty() {
		return 0
	}
	var avail int64
	switch {
	case side == model.Buy && price >= b.Asks.Best():
		avail = b.Asks.Volumes[0]
	case side == model.Sell && price <= b.Bids.Best():
		avail = b.Bids.Volumes[0]
	}
	if avail > volume {
		return volume
	}
	return avail
}

func (p *PaperVenue) crossesOwn(side model.Side, price int64) bool {
	for _, o := range p.orders {
		if o.side != side && o.price == price {
			return true
		}
	}
	return false
}

// matchResting fills resting orders the ETF book has moved through.
func (p *PaperVenue) matchResting() {
	b := p.books[model.ETF]
	if b.Empty() {
		return
	}
	ids := make([]int64, 0, len(p.orders))
	for id := range p.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		o := p.orders[id]
		through := (o.side == model.Buy && b.Asks.Best() <= o.price) ||
			(o.side == model.Sell && b.Bids.Best() >= o.price)
		if !through {
			continue
		}
		p.fill(o, o.price, o.remaining(), p.cfg.MakerFeeBps)
		delete(p.orders, id)
		p.status(o, 0)
	}
}

func (p *PaperVenue) fill(o *paperOrder, price, volume, feeBps int64) {
	o.filled += volume
	o.fees += price * volume * feeBps / 10000
	p.fills++
	p.d.Inject(Event{Kind: KindFill, OrderID: o.id, Price: price, Volume: volume})
}

func (p *PaperVenue) status(o *paperOrder, remaining int64) {
	p.d.Inject(Event{
		Kind:        KindStatus,
		OrderID:     o.id,
		TotalFilled: o.filled,
		Remaining:   remaining,
		Fees:        o.fees,
	})
}

func (p *PaperVenue) reject(id int64, msg string) {
	log.Printf("[paper] reject order %d: %s", id, msg)
	p.d.Inject(Event{Kind: KindError, OrderID: id, Message: msg})
}

// Stats reports activity counts: inserts, hedge orders and fills.
func (p *PaperVenue) Stats() (inserts, hedges, fills int) {
	return p.inserts, p.hedges, p.fills
}
