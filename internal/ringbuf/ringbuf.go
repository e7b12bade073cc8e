// Package ringbuf provides a lock-free, single-producer single-consumer (SPSC)
// ring buffer. The venue reader goroutine is the producer and the engine loop
// the consumer, so events reach the engine in delivery order without locks.
package ringbuf

import "sync/atomic"

const cacheLine = 64

// Ring is a bounded SPSC queue with power-of-two capacity.
//
// Each side keeps a private copy of the other side's index and reloads it
// only when the ring looks full (producer) or empty (consumer).
type Ring[T any] struct {
	buf  []T
	mask uint64

	_pad0      [cacheLine]byte
	head       atomic.Uint64 // next slot to write; stored by producer
	cachedTail uint64        // producer's view of tail
	_pad1      [cacheLine]byte
	tail       atomic.Uint64 // next slot to read; stored by consumer
	cachedHead uint64        // consumer's view of head
	_pad2      [cacheLine]byte
}

// New creates a ring holding at least capacity items (minimum 2).
func New[T any](capacity int) *Ring[T] {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring[T]{
		buf:  make([]T, n),
		mask: uint64(n - 1),
	}
}

// Push appends v, reporting false without writing when the ring is full.
// Producer only.
func (r *Ring[T]) Push(v T) bool {
	head := r.head.Load()
	size := uint64(len(r.buf))
	if head-r.cachedTail >= size {
		r.cachedTail = r.tail.Load()
		if head-r.cachedTail >= size {
			return false
		}
	}
	r.buf[head&r.mask] = v
	r.head.Store(head + 1)
	return true
}

// Pop removes the oldest item. Consumer only.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	tail := r.tail.Load()
	if tail >= r.cachedHead {
		r.cachedHead = r.head.Load()
		if tail >= r.cachedHead {
			return zero, false
		}
	}
	v := r.buf[tail&r.mask]
	r.buf[tail&r.mask] = zero
	r.tail.Store(tail + 1)
	return v, true
}

// Len is the number of queued items. Safe from any goroutine; the result may
// be stale by the time it is used.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Cap is the number of slots.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
