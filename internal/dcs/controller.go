package dcs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/halow-ap/dcsd/internal/algo"
	"github.com/halow-ap/dcsd/internal/backend"
	"github.com/halow-ap/dcsd/internal/backend/nl80211"
	"github.com/halow-ap/dcsd/internal/dataitem"
)

// Controller is one DCS instance, owning exactly one interface (spec.md §1
// Non-goals: "does not coordinate across multiple radios"). It is created
// once, runs until ctx is cancelled, and is destroyed on host shutdown
// (spec.md §3 Lifecycle).
type Controller struct {
	log *log.Logger

	ctrl   backend.Backend
	vendor backend.Backend

	algo algo.Algorithm
	sink DataSink
	led  StatusIndicator

	cfg Config

	channelSet []*ChannelEntry
	scanList   []*ChannelEntry
	scanIdx    int

	op OperatingState

	sc *scanContext
	sw *switchContext
}

// New constructs a Controller. Call Init before Run.
func New(logger *log.Logger, ctrl, vendor backend.Backend, a algo.Algorithm, cfg Config) *Controller {
	return &Controller{
		log:        logger.With("component", "dcs"),
		ctrl:       ctrl,
		vendor:     vendor,
		algo:       a,
		sink:       noopSink{},
		led:        noopIndicator{},
		cfg:        cfg,
		channelSet: nil,
		scanList:   nil,
		scanIdx:    0,
		op:         OperatingState{}, //nolint:exhaustruct
		sc:         newScanContext(),
		sw:         newSwitchContext(),
	}
}

// WithSink overrides the no-op data sink.
func (c *Controller) WithSink(sink DataSink) *Controller {
	c.sink = sink
	return c
}

// WithStatusIndicator overrides the no-op status indicator.
func (c *Controller) WithStatusIndicator(led StatusIndicator) *Controller {
	c.led = led
	return c
}

// Init runs the INIT state (spec.md §4.G): waits for the AP, enumerates
// permitted channels, resolves the current operating channel, and builds
// the scan list. Returns a *ConfigError if the scan list is empty after
// filtering.
func (c *Controller) Init(ctx context.Context) error {
	if initErr := c.algo.Init(); initErr != nil {
		return fmt.Errorf("dcs: algorithm init: %w", initErr)
	}

	var status, waitErr = c.waitForEnabled(ctx)
	if waitErr != nil {
		return waitErr
	}

	var channels, chanErr = c.fetchAvailableChannels(ctx)
	if chanErr != nil {
		return fmt.Errorf("dcs: fetch available channels: %w", chanErr)
	}

	c.channelSet = make([]*ChannelEntry, 0, len(channels))
	for _, d := range channels {
		c.channelSet = append(c.channelSet, &ChannelEntry{
			Descriptor:          d,
			Score:               &algo.ChannelEntry{CentreFreqKHz: d.CentreFreqKHz, AccumulatedScore: 100}, //nolint:exhaustruct
			ConsecutiveFailures: 0,
		})
	}

	var current = findChannel(c.channelSet, uint32(status.S1GFreqKHz), status.S1GBWMHz) //nolint:gosec
	if current == nil {
		return &ConfigError{Field: "interface_name", Reason: "AP's current channel is not in the permitted set"}
	}

	current.Score.IsCurrent = true

	c.op = OperatingState{
		CurrentChannel:   current,
		CurrentFreqKHz:   status.Freq,
		PrimaryWidthMHz:  status.PrimaryWidthMHz,
		Primary1MHzIndex: status.Primary1MHzIndex,
		BeaconIntervalTU: status.BeaconIntervalTU,
		DTIMPeriod:       status.DTIMPeriod,
	}

	var scanList, buildErr = buildScanList(c.channelSet, c.op)
	if buildErr != nil {
		return buildErr
	}

	if len(scanList) == 0 {
		return &ConfigError{Field: "dcs.scan_list", Reason: "empty after filtering"}
	}

	c.scanList = scanList
	c.scanIdx = 0

	return nil
}

// waitForEnabled polls STATUS up to initAttempts times at initAttemptSpacing
// until s1g_freq is present and not -1 (spec.md §4.G).
func (c *Controller) waitForEnabled(ctx context.Context) (statusFields, error) {
	for attempt := 0; attempt < initAttempts; attempt++ {
		var status, err = c.readStatus(ctx)
		if err == nil && status.S1GFreqKHz != -1 {
			return status, nil
		}

		if err != nil {
			c.log.Debug("status poll failed during init", "attempt", attempt, "err", err)
		}

		select {
		case <-ctx.Done():
			return statusFields{}, ctx.Err() //nolint:exhaustruct
		case <-time.After(initAttemptSpacing):
		}
	}

	return statusFields{}, fmt.Errorf("dcs: AP did not reach ENABLED after %d attempts", initAttempts) //nolint:exhaustruct
}

func (c *Controller) readStatus(ctx context.Context) (statusFields, error) {
	return c.readStatusWithRetry(ctx, 1, 0)
}

// readStatusWithRetry re-reads STATUS up to attempts times, waiting spacing
// between tries, while s1g_freq is still -1 (spec.md §4.H's post-notify
// retry; §9's open question on applying it at other call sites resolved in
// DESIGN.md).
func (c *Controller) readStatusWithRetry(ctx context.Context, attempts int, spacing time.Duration) (statusFields, error) {
	var last statusFields

	var lastErr error

	for i := 0; i < attempts; i++ {
		var req, buildErr = c.ctrl.ParseRequestArgs("STATUS")
		if buildErr != nil {
			return statusFields{}, fmt.Errorf("dcs: build STATUS: %w", buildErr) //nolint:exhaustruct
		}

		var resp, submitErr = c.ctrl.SubmitBlocking(ctx, req)
		if submitErr != nil {
			lastErr = fmt.Errorf("dcs: %w: STATUS: %w", ErrTransientBackend, submitErr)

			continue
		}

		var status, parseErr = parseStatus(resp)
		if parseErr != nil {
			lastErr = parseErr

			continue
		}

		last, lastErr = status, nil

		if status.S1GFreqKHz != -1 {
			return status, nil
		}

		if i < attempts-1 && spacing > 0 {
			time.Sleep(spacing)
		}
	}

	return last, lastErr
}

func (c *Controller) syncOperatingState(status statusFields) {
	var current = findChannel(c.channelSet, uint32(status.S1GFreqKHz), status.S1GBWMHz) //nolint:gosec
	if current == nil {
		c.log.Error("status reports a channel outside the permitted set", "freq_khz", status.S1GFreqKHz)

		return
	}

	if c.op.CurrentChannel != nil {
		c.op.CurrentChannel.Score.IsCurrent = false
	}

	current.Score.IsCurrent = true

	c.op.CurrentChannel = current
	c.op.CurrentFreqKHz = status.Freq
	c.op.PrimaryWidthMHz = status.PrimaryWidthMHz
	c.op.Primary1MHzIndex = status.Primary1MHzIndex
	c.op.BeaconIntervalTU = status.BeaconIntervalTU
	c.op.DTIMPeriod = status.DTIMPeriod
}

func (c *Controller) fetchAvailableChannels(ctx context.Context) ([]ChannelDescriptor, error) {
	var req, buildErr = c.vendor.ParseRequestArgs(getAvailableChannelsRecord())
	if buildErr != nil {
		return nil, buildErr
	}

	var resp, submitErr = c.vendor.SubmitBlocking(ctx, req)
	if submitErr != nil {
		return nil, submitErr
	}

	if resp == nil {
		return nil, fmt.Errorf("dcs: %w: empty GET_AVAILABLE_CHANNELS response", ErrTransientBackend)
	}

	return decodeAvailableChannels(resp.Value)
}

// Run executes RUN (spec.md §4.G) until ctx is cancelled: sleep
// sec_per_scan, measure the next scan-list channel, process it, advance the
// iterator; at the end of a round evaluate and possibly switch; sleep
// sec_per_round; restart from the list head.
func (c *Controller) Run(ctx context.Context) error {
	var secPerScan, secPerRound = c.roundTimings()

	for {
		select {
		case <-ctx.Done():
			c.algo.Deinit()

			return ctx.Err()
		case <-time.After(time.Duration(secPerScan) * time.Second):
		}

		if err := c.measureNext(ctx); err != nil {
			if errors.Is(err, ErrInvariantViolation) {
				c.algo.Deinit()

				return err
			}

			c.log.Debug("measurement round step failed", "err", err)
		}

		c.scanIdx++

		if c.scanIdx >= len(c.scanList) {
			c.scanIdx = 0

			if evalErr := c.evaluateRound(ctx); evalErr != nil {
				if errors.Is(evalErr, ErrInvariantViolation) {
					c.algo.Deinit()

					return evalErr
				}

				c.log.Warn("round evaluation failed", "err", evalErr)
			}

			select {
			case <-ctx.Done():
				c.algo.Deinit()

				return ctx.Err()
			case <-time.After(time.Duration(secPerRound) * time.Second):
			}
		}
	}
}

func (c *Controller) roundTimings() (secPerScan, secPerRound int) {
	if c.cfg.AlgoType == "sample_and_hold" {
		return c.cfg.SampleAndHold.SecPerScan, c.cfg.SampleAndHold.SecPerRound
	}

	return c.cfg.EWMA.SecPerScan, c.cfg.EWMA.SecPerRound
}

// measureNext issues an off-channel scan for the channel at scanIdx and
// blocks for its result (spec.md §4.G's retry policy).
func (c *Controller) measureNext(ctx context.Context) error {
	if len(c.scanList) == 0 {
		return fmt.Errorf("dcs: %w: scan list is empty", ErrInvariantViolation)
	}

	if c.scanIdx >= len(c.scanList) {
		c.scanIdx = 0
	}

	var target = c.scanList[c.scanIdx]

	c.sc.begin(target.Descriptor.CentreFreqKHz)

	var payload = encodeOCSDriverPayload(target.Descriptor.CentreFreqKHz*1000, target.Descriptor.BandwidthMHz, c.op.PrimaryWidthMHz, c.op.Primary1MHzIndex)

	var req, buildErr = c.vendor.ParseRequestArgs(ocsDriverRecord(payload))
	if buildErr != nil {
		return c.onMeasurementFailure(target, buildErr)
	}

	if _, submitErr := c.vendor.SubmitBlocking(ctx, req); submitErr != nil {
		return c.onMeasurementFailure(target, submitErr)
	}

	var sample, ok = c.sc.wait(10 * time.Second)
	if !ok {
		return c.onMeasurementFailure(target, ErrMeasurementFailure)
	}

	target.ConsecutiveFailures = 0

	c.algo.ProcessMeasurement(algo.Sample{MetricRaw: sample.MetricRaw}, target.Score)

	if recErr := c.sink.Record(*sample, *target); recErr != nil {
		c.log.Debug("datalog record failed", "err", recErr)
	}

	return nil
}

// onMeasurementFailure applies the 3-strike retry policy: the current
// channel is never removed, only reset (spec.md §4.G).
func (c *Controller) onMeasurementFailure(target *ChannelEntry, cause error) error {
	target.ConsecutiveFailures++

	if target.Descriptor.CentreFreqKHz == c.op.CurrentChannel.Descriptor.CentreFreqKHz {
		target.ConsecutiveFailures = 0

		return fmt.Errorf("dcs: %w: %w", ErrMeasurementFailure, cause)
	}

	if target.ConsecutiveFailures >= maxChannelFailures {
		c.removeFromScanList(target)
		c.log.Warn("channel removed from scan list after repeated failures", "channel", target.Descriptor.S1GChannel)
	}

	return fmt.Errorf("dcs: %w: %w", ErrMeasurementFailure, cause)
}

func (c *Controller) removeFromScanList(target *ChannelEntry) {
	var out = make([]*ChannelEntry, 0, len(c.scanList))

	for _, ch := range c.scanList {
		if ch != target {
			out = append(out, ch)
		}
	}

	c.scanList = out

	if c.scanIdx > len(c.scanList) {
		c.scanIdx = 0
	}
}

// evaluateRound calls the algorithm's EvaluateChannels and, if warranted,
// invokes the switch coordinator (spec.md §4.G).
func (c *Controller) evaluateRound(ctx context.Context) error {
	var scores = make([]*algo.ChannelEntry, 0, len(c.scanList))
	for _, ch := range c.scanList {
		scores = append(scores, ch.Score)
	}

	var best = c.algo.EvaluateChannels(scores, c.op.CurrentChannel.Score)
	if best == nil {
		return nil
	}

	var candidate = findChannelByScore(c.scanList, best)
	if candidate == nil {
		return fmt.Errorf("dcs: %w: evaluate_channels returned an unknown channel", ErrInvariantViolation)
	}

	var outcome, switchErr = c.SwitchTo(ctx, candidate)

	switch outcome {
	case SwitchOk:
		c.algo.PostSwitch(candidate.Score)
		algo.ResetAll(scores)
	case SwitchTimeout, SwitchMismatch:
		c.log.Warn("channel switch did not confirm cleanly", "outcome", outcome.String(), "err", switchErr)
	case SwitchRejected:
		c.log.Warn("channel switch rejected", "err", switchErr)
	case SwitchDisabled:
	}

	return switchErr
}

func findChannelByScore(scanList []*ChannelEntry, score *algo.ChannelEntry) *ChannelEntry {
	for _, ch := range scanList {
		if ch.Score == score {
			return ch
		}
	}

	return nil
}

// HandleOCSDone is the OCS_DONE monitor callback wired through the event
// engine on the vendor-command backend (spec.md §4.E, §4.G).
func (c *Controller) HandleOCSDone(_ context.Context, _ backend.Backend, event *dataitem.Node) {
	var m, err = decodeOCSDone(event.Value)
	if err != nil {
		c.log.Debug("discarding malformed OCS_DONE event", "err", err)

		return
	}

	m.CapturedAt = time.Now()

	if !c.sc.deliver(m) {
		c.log.Debug("discarding OCS_DONE event with no measurement in flight")
	}
}

// HandleChSwitchNotifyEvent adapts an engine.MonitorCallback for the
// netlink backend's CH_SWITCH_NOTIFY event into HandleChSwitchNotify.
func (c *Controller) HandleChSwitchNotifyEvent(ctx context.Context, _ backend.Backend, event *dataitem.Node) {
	var freqNode = dataitem.FindSibling(event.Children, dataitem.IntKey(nl80211.AttrWiphyFreq))
	if freqNode == nil || len(freqNode.Value) < 4 {
		c.log.Debug("ch_switch_notify missing WIPHY_FREQ attribute")

		return
	}

	var freqKHz = leU32(freqNode.Value)

	c.HandleChSwitchNotify(ctx, freqKHz)
}
