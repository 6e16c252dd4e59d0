package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle gates the async router's topology refresh to "at most one in
// flight, at most once per window" (spec.md §4.G). The C original
// overloads a single timestamp field as both a clock and an ONGOING
// sentinel; SPEC_FULL.md's redesign note splits that into two pieces of
// state, and this type additionally delegates the time-window half to
// rate.Sometimes instead of hand-rolled timestamp arithmetic.
type Throttle struct {
	mu        sync.Mutex
	sometimes rate.Sometimes
	inFlight  bool
}

// NewThrottle builds a throttle allowing one refresh per interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{sometimes: rate.Sometimes{Interval: interval}}
}

// TryStart reports whether the caller may start a refresh now. It
// vetoes when a refresh is already in flight or the window has not
// elapsed since the last attempt (spec.md §4.G's throttle rule).
func (t *Throttle) TryStart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight {
		return false
	}
	started := false
	t.sometimes.Do(func() { started = true })
	if started {
		t.inFlight = true
	}
	return started
}

// Finish clears the in-flight flag, re-enabling future refreshes subject
// to the time window.
func (t *Throttle) Finish() {
	t.mu.Lock()
	t.inFlight = false
	t.mu.Unlock()
}
