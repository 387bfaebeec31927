package engine

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/halow-ap/dcsd/internal/backend"
	"github.com/halow-ap/dcsd/internal/dataitem"
)

// MonitorCallback is invoked once per matching event, per registered
// monitor (spec.md §4.F: "multiple registered monitors may match a single
// event; each is called").
type MonitorCallback func(ctx context.Context, b backend.Backend, event *dataitem.Node)

type monitor struct {
	template dataitem.Key
	callback MonitorCallback
}

type backendDispatcher struct {
	backend  backend.Backend
	mu       sync.Mutex
	monitors []*monitor
	started  bool
}

// Dispatcher hosts one goroutine per backend that carries pattern monitors,
// started lazily on the first registration for that backend (spec.md §4.F).
type Dispatcher struct {
	log *log.Logger

	mu       sync.Mutex
	backends map[string]*backendDispatcher

	wg sync.WaitGroup
}

// NewDispatcher constructs an idle Dispatcher.
func NewDispatcher(logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		log:      logger.With("engine", "dispatcher"),
		mu:       sync.Mutex{},
		backends: make(map[string]*backendDispatcher),
		wg:       sync.WaitGroup{},
	}
}

// RegisterMonitor adds a pattern monitor on b for events whose top-level
// siblings include a node keyed templateKey. It starts b's dispatcher
// goroutine if this is the first monitor registered on b.
func (d *Dispatcher) RegisterMonitor(ctx context.Context, b backend.Backend, templateKey dataitem.Key, cb MonitorCallback) error {
	if c, ok := b.(backend.Capable); ok && !c.SupportsAsync() {
		return errBackendNotCapable
	}

	d.mu.Lock()

	var bd, exists = d.backends[b.Name()]
	if !exists {
		bd = &backendDispatcher{backend: b, mu: sync.Mutex{}, monitors: nil, started: false} //nolint:exhaustruct
		d.backends[b.Name()] = bd
	}

	d.mu.Unlock()

	bd.mu.Lock()
	bd.monitors = append(bd.monitors, &monitor{template: templateKey, callback: cb})

	var needStart = !bd.started
	if needStart {
		bd.started = true
	}

	bd.mu.Unlock()

	if needStart {
		d.wg.Add(1)

		go d.runBackend(ctx, bd)
	}

	return nil
}

func (d *Dispatcher) runBackend(ctx context.Context, bd *backendDispatcher) {
	defer d.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		var event, err = bd.backend.PumpAsync(ctx, backend.MaxPumpTimeout)
		if err != nil {
			d.log.Debug("pump_async error", "backend", bd.backend.Name(), "err", err)

			continue
		}

		if event == nil {
			continue
		}

		bd.mu.Lock()
		var monitors = append([]*monitor(nil), bd.monitors...)
		bd.mu.Unlock()

		for _, m := range monitors {
			if matches(event, m.template) {
				m.callback(ctx, bd.backend, event)
			}
		}
	}
}

// matches reports whether templateKey is present among event's top-level
// siblings (spec.md §4.F).
func matches(event *dataitem.Node, templateKey dataitem.Key) bool {
	return dataitem.FindSibling(event, templateKey) != nil
}

// Wait blocks until every started dispatcher goroutine has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }
