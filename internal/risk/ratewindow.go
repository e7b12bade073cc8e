package risk

import (
	"time"
)

// Clock abstracts wall time so rate accounting can be tested.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// RateWindow remembers the send times of recent outbound operations.
// Entries older than the window are pruned lazily on Record.
type RateWindow struct {
	window time.Duration
	stamps []time.Time
	clock  Clock
}

// NewRateWindow creates a one-second window. A nil clock uses RealClock.
func NewRateWindow(clock Clock) *RateWindow {
	if clock == nil {
		clock = RealClock{}
	}
	return &RateWindow{window: time.Second, clock: clock}
}

// Record notes one operation sent now.
func (w *RateWindow) Record() {
	now := w.clock.Now()
	w.prune(now)
	w.stamps = append(w.stamps, now)
}

// Count returns how many recorded operations fall inside the trailing window.
// It does not modify the window.
func (w *RateWindow) Count() int {
	cutoff := w.clock.Now().Add(-w.window)
	n := 0
	for i := len(w.stamps) - 1; i >= 0; i-- {
		if !w.stamps[i].After(cutoff) {
			break
		}
		n++
	}
	return n
}

func (w *RateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for idx < len(w.stamps) && !w.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[idx:]...)
	}
}
