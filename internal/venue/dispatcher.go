package venue

import (
	"context"
	"log"
	"time"

	"autotrader-v1/internal/ringbuf"
)

// Dispatcher serializes venue events onto a single consumer goroutine.
//
// Exactly one goroutine may call Publish (the transport reader) and exactly
// one may call Run. Inject is for events raised on the Run goroutine itself,
// such as paper fills or synthetic rejections from a gateway call made while
// handling an event; injected events are delivered before the next published
// one.
type Dispatcher struct {
	ring     *ringbuf.Ring[Event]
	wake     chan struct{}
	local    []Event
	observer []func(Event)

	// OnOverflow is called for each market data event dropped on a full inbox.
	OnOverflow func()
}

// NewDispatcher creates a dispatcher with an inbox of at least capacity events.
func NewDispatcher(capacity int) *Dispatcher {
	return &Dispatcher{
		ring: ringbuf.New[Event](capacity),
		wake: make(chan struct{}, 1),
	}
}

// Observe registers fn to see every event before the handler does.
// Call before Run.
func (d *Dispatcher) Observe(fn func(Event)) {
	d.observer = append(d.observer, fn)
}

// Publish enqueues e from the producer goroutine. Market data is dropped when
// the inbox is full; order events wait for room until ctx is done. It reports
// whether e was enqueued.
func (d *Dispatcher) Publish(ctx context.Context, e Event) bool {
	backoff := 50 * time.Microsecond
	for !d.ring.Push(e) {
		if e.Kind.MarketData() {
			if d.OnOverflow != nil {
				d.OnOverflow()
			}
			return false
		}
		select {
		case <-ctx.Done():
			log.Printf("[dispatcher] dropping %s event for order %d on shutdown", e.Kind, e.OrderID)
			return false
		case <-time.After(backoff):
		}
		if backoff < 5*time.Millisecond {
			backoff *= 2
		}
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Inject queues e for delivery on the Run goroutine.
func (d *Dispatcher) Inject(e Event) {
	d.local = append(d.local, e)
}

// Pending is the number of events waiting in the inbox.
func (d *Dispatcher) Pending() int { return d.ring.Len() }

// Saturation is the fraction of the inbox in use, in [0, 1]. Safe from any
// goroutine.
func (d *Dispatcher) Saturation() float64 {
	return float64(d.ring.Len()) / float64(d.ring.Cap())
}

// Run delivers events to h until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, h Handler) {
	for {
		d.Drain(h)
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
	}
}

// Drain delivers everything currently queued and returns the number of
// events delivered. It must be called from the Run goroutine, or in place of
// Run.
func (d *Dispatcher) Drain(h Handler) int {
	n := d.flushLocal(h)
	for {
		e, ok := d.ring.Pop()
		if !ok {
			return n
		}
		d.deliver(h, e)
		n++
		n += d.flushLocal(h)
	}
}

func (d *Dispatcher) flushLocal(h Handler) int {
	n := 0
	for len(d.local) > 0 {
		e := d.local[0]
		d.local = d.local[1:]
		d.deliver(h, e)
		n++
	}
	return n
}

func (d *Dispatcher) deliver(h Handler, e Event) {
	for _, fn := range d.observer {
		fn(e)
	}
	Deliver(h, e)
}
