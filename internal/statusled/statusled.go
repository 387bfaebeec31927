// Package statusled drives an optional GPIO output line for the duration of
// a channel switch, built on github.com/warthog618/go-gpiocdev (spec.md
// §4.O).
package statusled

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"
)

// outputLine is the subset of *gpiocdev.Line the indicator drives; kept as
// an interface so tests can swap in a mock without a gpio-sim chip.
type outputLine interface {
	SetValue(v int) error
	Close() error
}

const (
	lineLow  = 0
	lineHigh = 1
)

// Indicator drives a single GPIO line high for the duration of a channel
// switch (spec.md §4.O).
type Indicator struct {
	log  *log.Logger
	line outputLine
}

// None returns a no-op Indicator, used when dcs.status_gpio_line is unset —
// the switch coordinator never special-cases "no LED configured".
func None() *Indicator { return &Indicator{log: nil, line: nil} } //nolint:exhaustruct

// Open requests spec, a "<chip>:<offset>" pair such as "gpiochip0:4", as an
// output line initially low (spec.md §4.O, §6's "dcs.status_gpio_line").
func Open(logger *log.Logger, spec string) (*Indicator, error) {
	var chip, offset, parseErr = parseLineSpec(spec)
	if parseErr != nil {
		return nil, parseErr
	}

	var line, err = gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(lineLow))
	if err != nil {
		return nil, fmt.Errorf("statusled: request %s: %w", spec, err)
	}

	return &Indicator{log: logger.With("component", "statusled"), line: line}, nil
}

func parseLineSpec(spec string) (chip string, offset int, err error) {
	var parts = strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("statusled: invalid line spec %q, want \"<chip>:<offset>\"", spec)
	}

	var n, convErr = strconv.Atoi(parts[1])
	if convErr != nil {
		return "", 0, fmt.Errorf("statusled: invalid line offset in %q: %w", spec, convErr)
	}

	return parts[0], n, nil
}

// Enter drives the line high, entering the switch-in-progress state
// (spec.md §4.O). A no-op Indicator does nothing.
func (i *Indicator) Enter() {
	i.set(lineHigh)
}

// Exit drives the line low again on every SwitchTo return path, including
// Timeout and Rejected (spec.md §4.O).
func (i *Indicator) Exit() {
	i.set(lineLow)
}

func (i *Indicator) set(v int) {
	if i.line == nil {
		return
	}

	if err := i.line.SetValue(v); err != nil {
		i.log.Warn("set gpio line failed", "value", v, "err", err)
	}
}

// Close releases the underlying GPIO line, if any.
func (i *Indicator) Close() error {
	if i.line == nil {
		return nil
	}

	return i.line.Close()
}
