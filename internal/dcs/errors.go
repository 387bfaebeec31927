package dcs

import "errors"

// ErrTransientBackend covers a failed or empty submit_blocking and a timed
// out pump_async (spec.md §7): the scheduler retries at its next natural
// boundary with no state change.
var ErrTransientBackend = errors.New("dcs: transient backend error")

// ErrMeasurementFailure covers a missing or malformed vendor measurement
// event; counted against a channel's 3-strike budget (spec.md §4.G, §7).
var ErrMeasurementFailure = errors.New("dcs: measurement failure")

// ErrSwitchRejected is returned by SwitchTo when the AP's CHAN_SWITCH reply
// was not "OK" (spec.md §4.H, §7).
var ErrSwitchRejected = errors.New("dcs: switch rejected by AP")

// ErrSwitchTimeout is returned by SwitchTo when the completion condition was
// not signalled before the derived deadline (spec.md §4.H, §7).
var ErrSwitchTimeout = errors.New("dcs: switch timed out")

// ErrSwitchMismatch is returned by SwitchTo when the frequency confirmed by
// CH_SWITCH_NOTIFY does not match the freq field STATUS reports after the
// switch (spec.md §4.H, §7).
var ErrSwitchMismatch = errors.New("dcs: switch landed on unexpected frequency")

// ErrInvariantViolation marks an unreachable branch; the caller terminates
// the process after logging the condition site (spec.md §7).
var ErrInvariantViolation = errors.New("dcs: invariant violation")

// ConfigError reports a fatal configuration problem: a missing required key,
// an out-of-range value, an unknown algorithm, or an empty scan list after
// filtering (spec.md §7).
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "dcs: config: " + e.Field + ": " + e.Reason
}
