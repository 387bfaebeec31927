// Package devwatch blocks startup until the configured wireless interface is
// present, using udev add/change events rather than a fixed sleep (spec.md
// §4.N, supplementing §4.G's INIT readiness wait).
package devwatch

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
)

const netSubsystem = "net"

// device is the subset of *udev.Device the wait loop reads.
type device interface {
	Sysname() string
	Action() string
}

// source is the thin hardware boundary: an already-present check plus a
// channel of hotplug events. realSource wraps github.com/jochenvg/go-udev;
// tests supply a fake, mirroring how ptt.go's gpiodOutputLine is mocked.
type source interface {
	present(name string) (bool, error)
	events(ctx context.Context) (<-chan device, error)
}

// WaitForInterface blocks until udev reports name present in the net
// subsystem, or ctx is cancelled. It first checks the current device list so
// an interface that already exists (the common case on a warm restart) does
// not wait on an event that will never arrive.
func WaitForInterface(ctx context.Context, logger *log.Logger, name string) error {
	return waitForInterface(ctx, logger, realSource{}, name)
}

func waitForInterface(ctx context.Context, logger *log.Logger, src source, name string) error {
	var present, presentErr = src.present(name)
	if presentErr != nil {
		return fmt.Errorf("devwatch: enumerate: %w", presentErr)
	}

	if present {
		logger.Debug("interface already present", "interface", name)

		return nil
	}

	var deviceCh, eventsErr = src.events(ctx)
	if eventsErr != nil {
		return fmt.Errorf("devwatch: start monitor: %w", eventsErr)
	}

	logger.Info("waiting for interface", "interface", name)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("devwatch: wait for %s: %w", name, ctx.Err())
		case dev, ok := <-deviceCh:
			if !ok {
				return fmt.Errorf("devwatch: monitor channel closed waiting for %s", name)
			}

			if dev.Sysname() != name {
				continue
			}

			switch dev.Action() {
			case "add", "change":
				logger.Info("interface appeared", "interface", name, "action", dev.Action())

				return nil
			}
		}
	}
}

// realSource is the production source, backed by go-udev.
type realSource struct{}

func (realSource) present(name string) (bool, error) {
	var u udev.Udev

	var enumerate = u.NewEnumerate()
	if err := enumerate.AddMatchSubsystem(netSubsystem); err != nil {
		return false, fmt.Errorf("add match subsystem: %w", err)
	}

	if err := enumerate.AddMatchSysname(name); err != nil {
		return false, fmt.Errorf("add match sysname: %w", err)
	}

	var devices, err = enumerate.Devices()
	if err != nil {
		return false, err
	}

	return len(devices) > 0, nil
}

func (realSource) events(ctx context.Context) (<-chan device, error) {
	var u udev.Udev

	var monitor = u.NewMonitorFromNetlink("udev")
	if err := monitor.FilterAddMatchSubsystemDevtype(netSubsystem, ""); err != nil {
		return nil, fmt.Errorf("filter subsystem: %w", err)
	}

	var raw, _, err = monitor.DeviceChan(ctx)
	if err != nil {
		return nil, err
	}

	var out = make(chan device)

	go func() {
		defer close(out)

		for d := range raw {
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
