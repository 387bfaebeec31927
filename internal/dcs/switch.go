package dcs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SwitchOutcome is the result of SwitchTo (spec.md §4.H).
type SwitchOutcome int

const (
	SwitchOk SwitchOutcome = iota
	SwitchTimeout
	SwitchRejected
	SwitchMismatch
	SwitchDisabled
)

func (o SwitchOutcome) String() string {
	switch o {
	case SwitchOk:
		return "Ok"
	case SwitchTimeout:
		return "Timeout"
	case SwitchRejected:
		return "Rejected"
	case SwitchMismatch:
		return "Mismatch"
	case SwitchDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

// switchGraceSeconds is added to the derived switch deadline (spec.md §4.H).
const switchGraceSeconds = 5

// switchContext is the switch rendezvous (spec.md §3, §5): in_progress,
// confirmed_freq, and the completion condition, all guarded by mu.
type switchContext struct {
	mu             sync.Mutex
	cond           *sync.Cond
	inProgress     bool
	confirmedFreq  uint32
	confirmedFresh bool
}

func newSwitchContext() *switchContext {
	var s = &switchContext{} //nolint:exhaustruct
	s.cond = sync.NewCond(&s.mu)

	return s
}

// SwitchTo issues an ECSA to candidate and waits for its outcome (spec.md
// §4.H). It is the only path that drives the status indicator; the switch
// context is shared with HandleChSwitchNotify, which records the confirmed
// frequency.
func (c *Controller) SwitchTo(ctx context.Context, candidate *ChannelEntry) (SwitchOutcome, error) {
	if !c.cfg.TriggerCSA {
		c.log.Info("csa disabled by configuration, skipping switch", "candidate", candidate.Descriptor.S1GChannel)

		return SwitchOk, nil
	}

	c.led.Enter()
	defer c.led.Exit()

	c.sw.mu.Lock()
	defer c.sw.mu.Unlock()

	var primaryCentre = PrimaryCentreKHz(candidate.Descriptor.CentreFreqKHz, candidate.Descriptor.BandwidthMHz, c.op.PrimaryWidthMHz, c.op.Primary1MHzIndex)
	var offset = SecondaryChannelOffset(candidate.Descriptor.BandwidthMHz, c.op.Primary1MHzIndex)

	var cmd = fmt.Sprintf(
		"CHAN_SWITCH %d %d prim_bandwidth=%d sec_channel_offset=%d center_freq1=%d bandwidth=%d",
		c.cfg.DTIMsForCSA, primaryCentre, c.op.PrimaryWidthMHz, offset,
		candidate.Descriptor.CentreFreqKHz, candidate.Descriptor.BandwidthMHz,
	)

	var req, buildErr = c.ctrl.ParseRequestArgs(cmd)
	if buildErr != nil {
		return SwitchRejected, fmt.Errorf("dcs: build CHAN_SWITCH: %w", buildErr)
	}

	var resp, submitErr = c.ctrl.SubmitBlocking(ctx, req)
	if submitErr != nil || resp == nil || resp.Key.Str != "OK" {
		c.log.Warn("chan_switch rejected", "err", submitErr)

		return SwitchRejected, ErrSwitchRejected
	}

	var deadline = switchDeadline(c.op.BeaconIntervalTU, c.op.DTIMPeriod, c.cfg.DTIMsForCSA)

	c.sw.inProgress = true
	c.sw.confirmedFresh = false

	defer func() {
		c.sw.inProgress = false
		c.sw.confirmedFreq = 0
		c.sw.confirmedFresh = false
	}()

	var woke = waitWithDeadline(c.sw.cond, deadline, func() bool { return c.sw.confirmedFresh })
	if !woke {
		return SwitchTimeout, ErrSwitchTimeout
	}

	var status, statusErr = c.readStatus(ctx)
	if statusErr != nil {
		return SwitchMismatch, statusErr
	}

	if c.sw.confirmedFreq != status.Freq {
		return SwitchMismatch, ErrSwitchMismatch
	}

	return SwitchOk, nil
}

// switchDeadline computes the ECSA completion deadline: beacon_interval_tu
// · dtim_period · count, converted from TU (1024us) to seconds, plus a
// fixed grace period (spec.md §4.H).
func switchDeadline(beaconIntervalTU, dtimPeriod uint32, count int) time.Duration {
	var tus = uint64(beaconIntervalTU) * uint64(dtimPeriod) * uint64(count) //nolint:gosec
	var seconds = (tus * 1024) / 1_000_000

	return time.Duration(seconds)*time.Second + switchGraceSeconds*time.Second
}

// waitWithDeadline blocks on cond until predicate is true or deadline
// elapses, returning whether predicate became true. The caller must hold
// cond.L. A timer goroutine broadcasts on cond once the deadline passes, the
// same "oneshot-adjacent" technique scanContext.wait uses (spec.md §9).
func waitWithDeadline(cond *sync.Cond, deadline time.Duration, predicate func() bool) bool {
	var timer = time.AfterFunc(deadline, cond.Broadcast)
	defer timer.Stop()

	var expiry = time.Now().Add(deadline)

	for !predicate() && time.Now().Before(expiry) {
		cond.Wait()
	}

	return predicate()
}

// HandleChSwitchNotify is the CH_SWITCH_NOTIFY monitor callback wired
// through the event engine on the netlink backend (spec.md §4.H). It runs
// with the switch mutex held: reads WIPHY_FREQ into confirmed_freq, re-reads
// STATUS with up to 3 one-second retries if the AP still reports
// s1g_freq=-1, updates current_channel, and signals completion. A
// notification that arrives when no switch is in progress is logged and
// dropped (spec.md §4.H, §9: current_channel is NOT updated in that case).
func (c *Controller) HandleChSwitchNotify(ctx context.Context, confirmedFreqKHz uint32) {
	c.sw.mu.Lock()
	defer c.sw.mu.Unlock()

	if !c.sw.inProgress {
		c.log.Warn("spurious ch_switch_notify while no switch in progress", "freq", confirmedFreqKHz)

		return
	}

	c.sw.confirmedFreq = confirmedFreqKHz

	var status, err = c.readStatusWithRetry(ctx, 3, time.Second)
	if err == nil {
		c.syncOperatingState(status)
	} else {
		c.log.Warn("status re-read failed after ch_switch_notify", "err", err)
	}

	c.sw.confirmedFresh = true
	c.sw.cond.Broadcast()
}
