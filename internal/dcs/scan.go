package dcs

import (
	"sync"
	"time"
)

// scanContext is the single-slot measurement rendezvous (spec.md §3, §5).
// At most one measurement is in flight because the scheduler issues them one
// at a time from its single goroutine; begin does not check for, or reject,
// a measurement already in flight.
type scanContext struct {
	mu      sync.Mutex
	cond    *sync.Cond
	inFlight bool
	freqKHz uint32
	pending *Measurement
}

func newScanContext() *scanContext {
	var s = &scanContext{} //nolint:exhaustruct
	s.cond = sync.NewCond(&s.mu)

	return s
}

// begin marks a measurement in flight for freqKHz. Callers must already
// hold the invariant that no other measurement is in flight (spec.md §3).
func (s *scanContext) begin(freqKHz uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = true
	s.freqKHz = freqKHz
	s.pending = nil
}

// deliver records a completed measurement and wakes a waiter. A delivery
// that arrives when no measurement is in flight (a completion received
// after the wait already timed out) is dropped, per spec.md §5.
func (s *scanContext) deliver(m Measurement) (accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inFlight {
		return false
	}

	s.pending = &m
	s.cond.Signal()

	return true
}

// wait blocks up to timeout for a delivered measurement, clearing in-flight
// state on return either way (spec.md §5: "scheduler suspends on scan.done
// with a 10 s timeout while a measurement is in flight").
func (s *scanContext) wait(timeout time.Duration) (*Measurement, bool) {
	var deadline = time.Now().Add(timeout)

	var done = make(chan struct{})

	go func() {
		s.mu.Lock()

		for s.pending == nil && time.Now().Before(deadline) {
			s.cond.Wait()
		}

		s.mu.Unlock()
		close(done)
	}()

	// sync.Cond has no timed wait; a timer goroutine broadcasts to unstick
	// cond.Wait once the deadline passes, matching spec.md §9's allowance
	// for "oneshot channels or analogous primitives" around a
	// mutex+condition-variable rendezvous.
	var timer = time.AfterFunc(time.Until(deadline), s.cond.Broadcast)
	<-done
	timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	var result = s.pending
	s.pending = nil
	s.inFlight = false

	return result, result != nil
}
