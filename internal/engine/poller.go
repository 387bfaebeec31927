// Package engine implements the generic event engine: a polling-request
// scheduler and a per-backend pattern-matching notification dispatcher over
// abstract backend.Backend transports (spec.md §4.F).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/halow-ap/dcsd/internal/backend"
	"github.com/halow-ap/dcsd/internal/dataitem"
)

// PollCallback is invoked after each poll with the backend's response (or a
// non-nil err if SubmitBlocking failed).
type PollCallback func(ctx context.Context, b backend.Backend, result *dataitem.Node, err error)

type pollEntry struct {
	backend  backend.Backend
	period   time.Duration
	request  *dataitem.Node
	callback PollCallback
	nextFire time.Time
}

// Poller is the single-threaded cooperative polling worker: it fires
// SubmitBlocking on each registered entry at its own period, in earliest-
// next_fire-first order (spec.md §4.F).
type Poller struct {
	log *log.Logger

	mu      sync.Mutex
	entries []*pollEntry
	wake    chan struct{}

	running bool
	wg      sync.WaitGroup
}

// NewPoller constructs an idle Poller; call Run to start its loop.
func NewPoller(logger *log.Logger) *Poller {
	return &Poller{
		log:     logger.With("engine", "poller"),
		mu:      sync.Mutex{},
		entries: nil,
		wake:    make(chan struct{}, 1),
		running: false,
		wg:      sync.WaitGroup{},
	}
}

// Register adds a new monitor, firing for the first time immediately, and
// wakes the worker if it is waiting on a later entry.
func (p *Poller) Register(b backend.Backend, period time.Duration, request *dataitem.Node, cb PollCallback) {
	p.mu.Lock()
	p.entries = append(p.entries, &pollEntry{
		backend:  b,
		period:   period,
		request:  request,
		callback: cb,
		nextFire: time.Now(),
	})
	p.mu.Unlock()

	p.signal()
}

func (p *Poller) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run executes the poll loop until ctx is cancelled. Call Wait afterwards
// (or just let ctx's cancellation plus Run's return signal completion).
func (p *Poller) Run(ctx context.Context) {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		var entry, wait = p.nextDue()

		if entry == nil {
			var timer = time.NewTimer(wait)

			select {
			case <-ctx.Done():
				timer.Stop()

				return
			case <-p.wake:
				timer.Stop()

				continue
			case <-timer.C:
				continue
			}
		}

		var result, err = entry.backend.SubmitBlocking(ctx, entry.request)

		entry.callback(ctx, entry.backend, result, err)

		if err != nil {
			p.log.Debug("poll request failed", "backend", entry.backend.Name(), "err", err)
		}
	}
}

// nextDue returns the entry whose nextFire is earliest and due now
// (advancing its nextFire by period as a side effect per spec.md §4.F), or
// nil plus how long to wait until the earliest entry becomes due.
func (p *Poller) nextDue() (*pollEntry, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return nil, time.Second
	}

	var earliest = p.entries[0]

	for _, e := range p.entries[1:] {
		if e.nextFire.Before(earliest.nextFire) {
			earliest = e
		}
	}

	var now = time.Now()
	if !earliest.nextFire.After(now) {
		earliest.nextFire = earliest.nextFire.Add(earliest.period)

		return earliest, 0
	}

	return nil, earliest.nextFire.Sub(now)
}

// Wait blocks until Run has returned.
func (p *Poller) Wait() { p.wg.Wait() }

var errBackendNotCapable = fmt.Errorf("engine: %w: backend does not support async events", backend.ErrNotSupported)
