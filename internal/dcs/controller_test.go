package dcs

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/halow-ap/dcsd/internal/algo"
	"github.com/halow-ap/dcsd/internal/backend"
	"github.com/halow-ap/dcsd/internal/backend/vendorcmd"
	"github.com/halow-ap/dcsd/internal/dataitem"
)

// fakeCtrl stands in for the control-socket backend: STATUS and CHAN_SWITCH.
type fakeCtrl struct {
	status       map[string]string
	chanSwitchOK bool
}

func (f *fakeCtrl) Name() string { return "fakectrl" }

func (f *fakeCtrl) ParseRequestArgs(args ...any) (*dataitem.Node, error) {
	return dataitem.New(dataitem.StrKey(fmt.Sprint(args[0])), nil), nil
}

func (f *fakeCtrl) SubmitBlocking(_ context.Context, request *dataitem.Node) (*dataitem.Node, error) {
	var cmd = request.Key.Str

	if cmd == "STATUS" {
		var head, tail *dataitem.Node
		for k, v := range f.status {
			var node = dataitem.New(dataitem.StrKey(k), []byte(v))
			if head == nil {
				head, tail = node, node
			} else {
				tail.Next = node
				tail = node
			}
		}

		return head, nil
	}

	if f.chanSwitchOK {
		return dataitem.New(dataitem.StrKey("OK"), nil), nil
	}

	return dataitem.New(dataitem.StrKey("FAIL"), nil), nil
}

func (f *fakeCtrl) PumpAsync(context.Context, time.Duration) (*dataitem.Node, error) {
	return nil, backend.ErrNotSupported
}

// fakeVendor stands in for the vendor-command backend.
type fakeVendor struct {
	channels     []ChannelDescriptor
	measureCalls int
}

func (f *fakeVendor) Name() string { return "fakevendor" }

func (f *fakeVendor) ParseRequestArgs(args ...any) (*dataitem.Node, error) {
	var rec, ok = args[0].(vendorcmd.Record)
	if !ok {
		return nil, fmt.Errorf("not a Record")
	}

	return dataitem.New(dataitem.IntKey(uint32(rec.MessageID)), rec.Payload), nil
}

func (f *fakeVendor) SubmitBlocking(_ context.Context, request *dataitem.Node) (*dataitem.Node, error) {
	switch request.Key.Int {
	case uint32(vendorMsgGetAvailableChannels):
		return dataitem.New(dataitem.StrKey("0"), encodeChannelsPayload(f.channels)), nil
	case uint32(vendorMsgOCSDriver):
		f.measureCalls++

		return dataitem.New(dataitem.StrKey("0"), nil), nil
	default:
		return nil, fmt.Errorf("unexpected message id %d", request.Key.Int)
	}
}

func (f *fakeVendor) PumpAsync(context.Context, time.Duration) (*dataitem.Node, error) {
	return nil, backend.ErrNotSupported
}

func encodeChannelsPayload(channels []ChannelDescriptor) []byte {
	var buf = make([]byte, 4+len(channels)*availableChannelRecordLen)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(channels))) //nolint:gosec

	for i, ch := range channels {
		var off = 4 + i*availableChannelRecordLen
		buf[off] = ch.S1GChannel
		buf[off+1] = ch.BandwidthMHz
		binary.LittleEndian.PutUint32(buf[off+4:off+8], ch.CentreFreqKHz)
	}

	return buf
}

func testController(t *testing.T, ctrl *fakeCtrl, vendor *fakeVendor) *Controller {
	t.Helper()

	var a = algo.NewEWMA(algo.EWMAConfig{Alpha: 50, ThresholdPct: 10, RoundsForCSA: 1, SecPerScan: 0, SecPerRound: 0})

	var c = New(log.New(nil), ctrl, vendor, a, Config{ //nolint:exhaustruct
		TriggerCSA:  true,
		DTIMsForCSA: 3,
		AlgoType:    "ewma",
		EWMA:        algo.EWMAConfig{Alpha: 50, ThresholdPct: 10, RoundsForCSA: 1, SecPerScan: 0, SecPerRound: 0},
	})

	return c
}

// With s1g_freq=918000, bw=4, prim_chwidth=1, idx=0: bottom=916000, derived
// primary centre=916500 — so a permitted 1 MHz channel at 916500 must exist
// for the current channel itself to survive scan-list filtering.
func TestControllerInitBuildsScanList(t *testing.T) {
	var ctrl = &fakeCtrl{chanSwitchOK: true, status: map[string]string{
		"s1g_freq":                 "918000",
		"s1g_bw":                   "4",
		"s1g_prim_chwidth":         "1",
		"s1g_prim_1mhz_chan_index": "0",
		"beacon_int":               "100",
		"dtim_period":              "2",
		"freq":                     "918000",
	}}

	var vendor = &fakeVendor{channels: []ChannelDescriptor{ //nolint:exhaustruct
		{S1GChannel: 1, CentreFreqKHz: 918_000, BandwidthMHz: 4},
		{S1GChannel: 2, CentreFreqKHz: 916_500, BandwidthMHz: 1},
	}}

	var c = testController(t, ctrl, vendor)

	require.NoError(t, c.Init(context.Background()))
	require.NotEmpty(t, c.scanList)
	require.Equal(t, uint32(918_000), c.op.CurrentChannel.Descriptor.CentreFreqKHz)
}

func TestControllerInitFailsWhenCurrentChannelNotPermitted(t *testing.T) {
	var ctrl = &fakeCtrl{chanSwitchOK: true, status: map[string]string{ //nolint:exhaustruct
		"s1g_freq": "999999",
		"s1g_bw":   "4",
		"freq":     "999999",
	}}

	var vendor = &fakeVendor{channels: []ChannelDescriptor{{S1GChannel: 1, CentreFreqKHz: 916_500, BandwidthMHz: 4}}} //nolint:exhaustruct

	var c = testController(t, ctrl, vendor)

	var err = c.Init(context.Background())
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestMeasureNextAppliesMeasurementToAlgorithm(t *testing.T) {
	var ctrl = &fakeCtrl{chanSwitchOK: true, status: map[string]string{ //nolint:exhaustruct
		"s1g_freq": "918000", "s1g_bw": "4", "freq": "918000",
		"s1g_prim_chwidth": "1", "s1g_prim_1mhz_chan_index": "0",
		"beacon_int": "100", "dtim_period": "2",
	}}

	var vendor = &fakeVendor{channels: []ChannelDescriptor{ //nolint:exhaustruct
		{S1GChannel: 1, CentreFreqKHz: 918_000, BandwidthMHz: 4},
		{S1GChannel: 2, CentreFreqKHz: 916_500, BandwidthMHz: 1},
	}}

	var c = testController(t, ctrl, vendor)
	require.NoError(t, c.Init(context.Background()))

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.HandleOCSDone(context.Background(), nil, dataitem.New(dataitem.StrKey("OCS_DONE"), ocsDoneBytes(42, -5, 100, 200)))
	}()

	require.NoError(t, c.measureNext(context.Background()))
	require.Equal(t, uint(1), c.scanList[0].Score.SamplesTaken)
	require.Equal(t, 1, vendor.measureCalls)
}

func ocsDoneBytes(metric uint8, noise int8, listenUS, rxUS uint64) []byte {
	var buf = make([]byte, ocsDoneRecordLen)
	buf[0] = metric
	buf[1] = byte(noise)
	binary.LittleEndian.PutUint64(buf[2:10], listenUS)
	binary.LittleEndian.PutUint64(buf[10:18], rxUS)

	return buf
}

func TestSwitchToRejected(t *testing.T) {
	var ctrl = &fakeCtrl{chanSwitchOK: false, status: map[string]string{}} //nolint:exhaustruct
	var vendor = &fakeVendor{}                                            //nolint:exhaustruct

	var c = testController(t, ctrl, vendor)
	c.op = OperatingState{CurrentChannel: &ChannelEntry{Descriptor: ChannelDescriptor{CentreFreqKHz: 916_500, BandwidthMHz: 4}, Score: &algo.ChannelEntry{}}, PrimaryWidthMHz: 1} //nolint:exhaustruct

	var candidate = &ChannelEntry{Descriptor: ChannelDescriptor{CentreFreqKHz: 920_500, BandwidthMHz: 4}, Score: &algo.ChannelEntry{}} //nolint:exhaustruct

	var outcome, err = c.SwitchTo(context.Background(), candidate)
	require.Equal(t, SwitchRejected, outcome)
	require.ErrorIs(t, err, ErrSwitchRejected)
}

func TestSwitchToDisabledByConfig(t *testing.T) {
	var ctrl = &fakeCtrl{}     //nolint:exhaustruct
	var vendor = &fakeVendor{} //nolint:exhaustruct

	var c = testController(t, ctrl, vendor)
	c.cfg.TriggerCSA = false

	var outcome, err = c.SwitchTo(context.Background(), &ChannelEntry{Score: &algo.ChannelEntry{}}) //nolint:exhaustruct
	require.NoError(t, err)
	require.Equal(t, SwitchOk, outcome)
}

func TestSwitchToMismatch(t *testing.T) {
	var ctrl = &fakeCtrl{chanSwitchOK: true, status: map[string]string{ //nolint:exhaustruct
		"s1g_freq": "920500", "s1g_bw": "4", "freq": "999999",
	}}
	var vendor = &fakeVendor{} //nolint:exhaustruct

	var c = testController(t, ctrl, vendor)

	var current = &ChannelEntry{Descriptor: ChannelDescriptor{CentreFreqKHz: 916_500, BandwidthMHz: 4}, Score: &algo.ChannelEntry{}} //nolint:exhaustruct
	var candidate = &ChannelEntry{Descriptor: ChannelDescriptor{CentreFreqKHz: 920_500, BandwidthMHz: 4}, Score: &algo.ChannelEntry{}} //nolint:exhaustruct

	c.channelSet = []*ChannelEntry{current, candidate}
	c.op = OperatingState{CurrentChannel: current, PrimaryWidthMHz: 1, BeaconIntervalTU: 100, DTIMPeriod: 2} //nolint:exhaustruct

	go func() {
		time.Sleep(5 * time.Millisecond)
		// Notify reports a frequency different from what STATUS will report.
		c.HandleChSwitchNotify(context.Background(), 777_777)
	}()

	var outcome, err = c.SwitchTo(context.Background(), candidate)
	require.Equal(t, SwitchMismatch, outcome)
	require.ErrorIs(t, err, ErrSwitchMismatch)
}

// evaluateRound must clear every scan-list entry's accumulated score once
// a switch is confirmed, not just the channel switched to (spec.md
// §4.I.2's "post_switch resets all accumulated scores to 0"). TriggerCSA
// is left off so SwitchTo resolves to SwitchOk without a real CHAN_SWITCH
// round trip, keeping the test deterministic.
func TestEvaluateRoundResetsAllScoresAfterConfirmedSwitch(t *testing.T) {
	var ctrl = &fakeCtrl{}     //nolint:exhaustruct
	var vendor = &fakeVendor{} //nolint:exhaustruct

	var a = algo.NewSampleAndHold(algo.SampleAndHoldConfig{RoundsForEval: 1, ThresholdPct: 10, SecPerScan: 0, SecPerRound: 0})

	var c = New(log.New(nil), ctrl, vendor, a, Config{ //nolint:exhaustruct
		TriggerCSA:    false,
		AlgoType:      "sample_and_hold",
		SampleAndHold: algo.SampleAndHoldConfig{RoundsForEval: 1, ThresholdPct: 10, SecPerScan: 0, SecPerRound: 0},
	})

	var current = &ChannelEntry{
		Descriptor: ChannelDescriptor{CentreFreqKHz: 916_500, BandwidthMHz: 4},
		Score:      &algo.ChannelEntry{AccumulatedScore: 100, IsCurrent: true}, //nolint:exhaustruct
	}
	var candidate = &ChannelEntry{
		Descriptor: ChannelDescriptor{CentreFreqKHz: 920_500, BandwidthMHz: 4},
		Score:      &algo.ChannelEntry{AccumulatedScore: 200}, //nolint:exhaustruct
	}

	c.scanList = []*ChannelEntry{current, candidate}
	c.op = OperatingState{CurrentChannel: current, PrimaryWidthMHz: 1} //nolint:exhaustruct

	require.NoError(t, c.evaluateRound(context.Background()))

	require.Equal(t, uint32(0), current.Score.AccumulatedScore)
	require.Equal(t, uint32(0), candidate.Score.AccumulatedScore)
}

func TestHandleChSwitchNotifySpuriousIsDropped(t *testing.T) {
	var ctrl = &fakeCtrl{}     //nolint:exhaustruct
	var vendor = &fakeVendor{} //nolint:exhaustruct

	var c = testController(t, ctrl, vendor)

	// No switch in progress: must not panic and must leave state untouched.
	c.HandleChSwitchNotify(context.Background(), 123)
	require.False(t, c.sw.inProgress)
}
