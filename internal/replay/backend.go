package replay

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/halow-ap/dcsd/internal/backend"
	"github.com/halow-ap/dcsd/internal/backend/nl80211"
	"github.com/halow-ap/dcsd/internal/backend/vendorcmd"
	"github.com/halow-ap/dcsd/internal/dataitem"
)

// Vendor subcommand message ids this package expects, mirroring the
// numbering internal/dcs's vendor.go assigns when building requests:
// GET_AVAILABLE_CHANNELS is 0, OCS_DRIVER is 1.
const (
	msgGetAvailableChannels uint16 = 0
	msgOCSDriver            uint16 = 1
)

// availableChannelRecordLen mirrors internal/dcs's own
// GET_AVAILABLE_CHANNELS wire convention: s1g_channel (u8), bandwidth_mhz
// (u8), 2 bytes padding, centre_freq_khz (u32 LE).
const availableChannelRecordLen = 8

// ocsDoneRecordLen mirrors internal/dcs's OCS_DONE payload convention:
// metric (u8), noise (i8), time_listen_us (u64 LE), time_rx_us (u64 LE).
// Replay files carry no noise or timing columns, so those fields are
// always synthesised as zero.
const ocsDoneRecordLen = 18

const (
	statusBeaconIntervalTU = 100
	statusDTIMPeriod       = 1
)

const (
	keyStatus     = "status"
	keyChanSwitch = "chan_switch"
)

// Backend stands in for the control-socket, netlink, and vendor-command
// backends together when dcs.test.enabled is set (spec.md §4.J,
// "constructs... the replay source, component J, in test mode"). It answers
// STATUS, CHAN_SWITCH, GET_AVAILABLE_CHANNELS, and OCS_DRIVER purely from
// the loaded file, and synthesises the OCS_DONE and CH_SWITCH_NOTIFY events
// the scheduler would otherwise receive asynchronously.
type Backend struct {
	log *log.Logger
	src *Source

	mu      sync.Mutex
	current ChannelInfo

	events     chan *dataitem.Node
	done       chan struct{}
	closedDone bool
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend wraps src, resolving its channel set and initial operating
// channel from the file itself.
func NewBackend(logger *log.Logger, src *Source) (*Backend, error) {
	if len(src.Channels()) == 0 {
		return nil, fmt.Errorf("replay: file has no rows")
	}

	var current, found = src.ChannelByS1G(src.InitialChannel)
	if !found {
		return nil, fmt.Errorf("replay: initial channel %d not present in file", src.InitialChannel)
	}

	return &Backend{ //nolint:exhaustruct
		log:     logger.With("backend", "replay"),
		src:     src,
		current: current,
		events:  make(chan *dataitem.Node, 4),
		done:    make(chan struct{}),
	}, nil
}

func (b *Backend) Name() string { return "replay" }

// Done closes once the replay file is exhausted, per spec.md §4.J's "the
// scheduler must halt cleanly" requirement. cmd/dcsd selects on it
// alongside the signal-derived context to stop the scheduler.
func (b *Backend) Done() <-chan struct{} { return b.done }

// ParseRequestArgs accepts exactly the two request shapes dcs.Controller
// issues: a ctrlsock-style command string ("STATUS", "CHAN_SWITCH ...") or
// a vendorcmd.Record.
func (b *Backend) ParseRequestArgs(args ...any) (*dataitem.Node, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("replay: expected exactly one request argument, got %d", len(args))
	}

	switch v := args[0].(type) {
	case string:
		return parseControlCommand(v)
	case vendorcmd.Record:
		return dataitem.New(dataitem.IntKey(uint32(v.MessageID)), v.Payload), nil
	default:
		return nil, fmt.Errorf("replay: unsupported request argument type %T", args[0])
	}
}

func parseControlCommand(cmd string) (*dataitem.Node, error) {
	if cmd == "STATUS" {
		return dataitem.New(dataitem.StrKey(keyStatus), nil), nil
	}

	if strings.HasPrefix(cmd, "CHAN_SWITCH ") {
		var freqKHz, bwMHz, parseErr = parseChanSwitchCmd(cmd)
		if parseErr != nil {
			return nil, parseErr
		}

		var n = dataitem.New(dataitem.StrKey(keyChanSwitch), nil)
		n.Append(dataitem.New(dataitem.StrKey("freq_khz"), []byte(strconv.FormatUint(uint64(freqKHz), 10))))
		n.Append(dataitem.New(dataitem.StrKey("bw_mhz"), []byte(strconv.FormatUint(uint64(bwMHz), 10))))

		return n, nil
	}

	return nil, fmt.Errorf("replay: unrecognised control command %q", cmd)
}

func parseChanSwitchCmd(cmd string) (freqKHz uint32, bwMHz uint8, err error) {
	for _, field := range strings.Fields(cmd) {
		if rest, ok := strings.CutPrefix(field, "center_freq1="); ok {
			var n, convErr = strconv.ParseUint(rest, 10, 32)
			if convErr != nil {
				return 0, 0, fmt.Errorf("replay: parse center_freq1: %w", convErr)
			}

			freqKHz = uint32(n)
		}

		if rest, ok := strings.CutPrefix(field, "bandwidth="); ok {
			var n, convErr = strconv.ParseUint(rest, 10, 8)
			if convErr != nil {
				return 0, 0, fmt.Errorf("replay: parse bandwidth: %w", convErr)
			}

			bwMHz = uint8(n)
		}
	}

	if freqKHz == 0 {
		return 0, 0, fmt.Errorf("replay: %q missing center_freq1", cmd)
	}

	return freqKHz, bwMHz, nil
}

// SubmitBlocking dispatches on the request shape ParseRequestArgs built.
func (b *Backend) SubmitBlocking(_ context.Context, request *dataitem.Node) (*dataitem.Node, error) {
	if request == nil {
		return nil, fmt.Errorf("replay: nil request")
	}

	switch {
	case !request.Key.IsInt && request.Key.Str == keyStatus:
		return b.buildStatus(), nil
	case !request.Key.IsInt && request.Key.Str == keyChanSwitch:
		return b.handleChanSwitch(request)
	case request.Key.IsInt && uint16(request.Key.Int) == msgGetAvailableChannels: //nolint:gosec
		return dataitem.New(dataitem.StrKey("0"), encodeAvailableChannels(b.src.Channels())), nil
	case request.Key.IsInt && uint16(request.Key.Int) == msgOCSDriver: //nolint:gosec
		return b.handleOCSDriver(request.Value)
	default:
		return nil, fmt.Errorf("replay: unrecognised request")
	}
}

func (b *Backend) buildStatus() *dataitem.Node {
	b.mu.Lock()
	var cur = b.current
	b.mu.Unlock()

	var fields = []*dataitem.Node{
		statusField("s1g_freq", int64(cur.FrequencyKHz)),
		statusField("s1g_bw", int64(cur.BandwidthMHz)),
		statusField("s1g_prim_chwidth", int64(cur.BandwidthMHz)),
		statusField("s1g_prim_1mhz_chan_index", 0),
		statusField("beacon_int", statusBeaconIntervalTU),
		statusField("dtim_period", statusDTIMPeriod),
		statusField("freq", int64(cur.FrequencyKHz)),
	}

	for i := 0; i < len(fields)-1; i++ {
		fields[i].Next = fields[i+1]
	}

	return fields[0]
}

func statusField(key string, value int64) *dataitem.Node {
	return dataitem.New(dataitem.StrKey(key), []byte(strconv.FormatInt(value, 10)))
}

func (b *Backend) handleChanSwitch(request *dataitem.Node) (*dataitem.Node, error) {
	var freqNode = dataitem.FindSibling(request.Children, dataitem.StrKey("freq_khz"))
	var bwNode = dataitem.FindSibling(request.Children, dataitem.StrKey("bw_mhz"))

	if freqNode == nil || bwNode == nil {
		return nil, fmt.Errorf("replay: CHAN_SWITCH request missing fields")
	}

	var freqKHz, _ = strconv.ParseUint(string(freqNode.Value), 10, 32)
	var bwMHz, _ = strconv.ParseUint(string(bwNode.Value), 10, 8)

	var target, found = b.src.ChannelByFreq(uint32(freqKHz))
	if !found {
		target = ChannelInfo{FrequencyKHz: uint32(freqKHz), BandwidthMHz: uint8(bwMHz), S1GChannel: 0}
	}

	b.mu.Lock()
	b.current = target
	b.mu.Unlock()

	b.queueEvent(buildChSwitchNotify(target))

	return dataitem.New(dataitem.StrKey("OK"), nil), nil
}

func buildChSwitchNotify(target ChannelInfo) *dataitem.Node {
	var buf = make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, target.FrequencyKHz)

	var event = dataitem.New(dataitem.IntKey(nl80211.CmdChSwitchNotify), nil)
	event.Append(dataitem.New(dataitem.IntKey(nl80211.AttrWiphyFreq), buf))

	return event
}

func (b *Backend) handleOCSDriver(payload []byte) (*dataitem.Node, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("replay: OCS_DRIVER payload too short")
	}

	var freqHz = binary.LittleEndian.Uint32(payload[0:4])
	var freqKHz = freqHz / 1000

	var row, ok, exhausted = b.src.Next(freqKHz)
	if !ok {
		return nil, fmt.Errorf("replay: no queued samples for %d kHz", freqKHz)
	}

	b.queueEvent(dataitem.New(dataitem.StrKey("OCS_DONE"), encodeOCSDone(row)))

	if exhausted {
		b.closeDone()
	}

	return dataitem.New(dataitem.StrKey("submitted"), nil), nil
}

func (b *Backend) queueEvent(event *dataitem.Node) {
	select {
	case b.events <- event:
	default:
		b.log.Warn("replay event queue full, dropping event")
	}
}

func (b *Backend) closeDone() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closedDone {
		b.closedDone = true

		close(b.done)
	}
}

// PumpAsync serves the OCS_DONE and CH_SWITCH_NOTIFY events SubmitBlocking
// queued, in order, or blocks up to timeout.
func (b *Backend) PumpAsync(ctx context.Context, timeout time.Duration) (*dataitem.Node, error) {
	if timeout > backend.MaxPumpTimeout {
		timeout = backend.MaxPumpTimeout
	}

	select {
	case event := <-b.events:
		return event, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func encodeAvailableChannels(channels []ChannelInfo) []byte {
	var buf = make([]byte, 4+len(channels)*availableChannelRecordLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(channels))) //nolint:gosec

	for i, ch := range channels {
		var rec = buf[4+i*availableChannelRecordLen : 4+(i+1)*availableChannelRecordLen]
		rec[0] = ch.S1GChannel
		rec[1] = ch.BandwidthMHz
		binary.LittleEndian.PutUint32(rec[4:8], ch.FrequencyKHz)
	}

	return buf
}

func encodeOCSDone(row Row) []byte {
	var buf = make([]byte, ocsDoneRecordLen)
	buf[0] = row.Metric

	return buf
}
