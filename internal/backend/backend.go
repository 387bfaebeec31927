// Package backend defines the contract every transport (control socket,
// netlink, vendor command) implements for the DCS core and the event engine.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/halow-ap/dcsd/internal/dataitem"
)

// ErrNotSupported is returned by SubmitBlocking or PumpAsync when a backend
// implements only the other half of the contract.
var ErrNotSupported = errors.New("backend: operation not supported")

// MaxPumpTimeout bounds PumpAsync per spec.md §4.B ("≤ 1 s").
const MaxPumpTimeout = time.Second

// Backend is the capability set the DCS core and event engine consume.
// A concrete backend implements at least one of SubmitBlocking/PumpAsync
// meaningfully. The engine's Dispatcher rejects a monitor registration on a
// backend whose Capable.SupportsAsync reports false; the Poller's Register
// does not check Capable (see internal/engine).
type Backend interface {
	// Name identifies the backend for logging and engine registration.
	Name() string

	// SubmitBlocking sends a pre-parsed request tree and returns the parsed
	// response tree, blocking the caller until the backend replies or the
	// context is cancelled.
	SubmitBlocking(ctx context.Context, request *dataitem.Node) (*dataitem.Node, error)

	// PumpAsync blocks up to timeout (capped at MaxPumpTimeout) for one
	// unsolicited event and returns it, or returns (nil, nil) on timeout.
	PumpAsync(ctx context.Context, timeout time.Duration) (*dataitem.Node, error)

	// ParseRequestArgs serialises caller-supplied positional arguments into
	// a request tree using this backend's schema.
	ParseRequestArgs(args ...any) (*dataitem.Node, error)
}

// Capable is implemented by backends that want to declare, ahead of any
// call, which half of the Backend contract they actually support. The
// engine's Dispatcher uses SupportsAsync at monitor registration to reject a
// backend without async support, which includes one that supports neither
// direction (spec.md §4.B). A backend that does not implement Capable is
// registered without a check; an ErrNotSupported from its PumpAsync is then
// logged and the pump retried.
type Capable interface {
	SupportsBlocking() bool
	SupportsAsync() bool
}
