// Package replay implements the test/replay path (spec.md §4.J): it loads
// recorded CSV measurements and feeds them to the DCS scheduler in place of
// live measurements from the vendor-command backend.
package replay

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Header is the exact CSV header every replay file must start with
// (spec.md §4.J).
var Header = []string{
	"time", "frequency_khz", "bandwidth_mhz", "channel_s1g", "metric",
	"accumulated_score", "rounds_as_best_for_channel", "current_channel",
}

// Row is one parsed CSV data row.
type Row struct {
	Time                 int64
	FrequencyKHz         uint32
	BandwidthMHz         uint8
	ChannelS1G           uint8
	Metric               uint8
	AccumulatedScore     uint32
	RoundsAsBestForChan  uint
	CurrentChannelS1G    uint8
}

// Source replays a fixed set of recorded rows as a per-channel FIFO queue of
// measurements, substituting for the vendor backend's off-channel scans
// (spec.md §4.J).
type Source struct {
	queues         map[uint32][]Row
	InitialChannel uint8
	totalRemaining int

	// order and first track the first row seen at each frequency, in
	// first-seen order, so a backend standing in for GET_AVAILABLE_CHANNELS
	// can derive a channel set straight from the file (spec.md §4.J).
	order []uint32
	first map[uint32]Row
}

// Load reads a CSV file at path with the exact header in Header and builds a
// per-channel FIFO from its rows (spec.md §4.J).
func Load(path string) (*Source, error) {
	var f, openErr = os.Open(path)
	if openErr != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, openErr)
	}

	defer f.Close()

	return parse(bufio.NewReader(f))
}

func parse(r io.Reader) (*Source, error) {
	var reader = csv.NewReader(r)

	var header, headerErr = reader.Read()
	if headerErr != nil {
		return nil, fmt.Errorf("replay: read header: %w", headerErr)
	}

	if !headersEqual(header, Header) {
		return nil, fmt.Errorf("replay: unexpected header %v, want %v", header, Header)
	}

	var src = &Source{ //nolint:exhaustruct
		queues:         make(map[uint32][]Row),
		InitialChannel: 0,
		totalRemaining: 0,
		order:          nil,
		first:          make(map[uint32]Row),
	}

	var first = true

	for {
		var record, readErr = reader.Read()
		if readErr == io.EOF { //nolint:errorlint
			break
		}

		if readErr != nil {
			return nil, fmt.Errorf("replay: read row: %w", readErr)
		}

		var row, parseErr = parseRow(record)
		if parseErr != nil {
			return nil, parseErr
		}

		if first {
			src.InitialChannel = row.CurrentChannelS1G
			first = false
		}

		if _, seen := src.first[row.FrequencyKHz]; !seen {
			src.first[row.FrequencyKHz] = row
			src.order = append(src.order, row.FrequencyKHz)
		}

		src.queues[row.FrequencyKHz] = append(src.queues[row.FrequencyKHz], row)
		src.totalRemaining++
	}

	return src, nil
}

func headersEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func parseRow(record []string) (Row, error) {
	if len(record) != len(Header) {
		return Row{}, fmt.Errorf("replay: row has %d fields, want %d", len(record), len(Header)) //nolint:exhaustruct
	}

	var t, err1 = strconv.ParseInt(record[0], 10, 64)
	var freq, err2 = strconv.ParseUint(record[1], 10, 32)
	var bw, err3 = strconv.ParseUint(record[2], 10, 8)
	var ch, err4 = strconv.ParseUint(record[3], 10, 8)
	var metric, err5 = strconv.ParseUint(record[4], 10, 8)
	var score, err6 = strconv.ParseUint(record[5], 10, 32)
	var rounds, err7 = strconv.ParseUint(record[6], 10, 64)
	var current, err8 = strconv.ParseUint(record[7], 10, 8)

	for _, err := range []error{err1, err2, err3, err4, err5, err6, err7, err8} {
		if err != nil {
			return Row{}, fmt.Errorf("replay: parse row: %w", err) //nolint:exhaustruct
		}
	}

	return Row{
		Time:                t,
		FrequencyKHz:        uint32(freq),
		BandwidthMHz:        uint8(bw),
		ChannelS1G:          uint8(ch),
		Metric:              uint8(metric),
		AccumulatedScore:    uint32(score),
		RoundsAsBestForChan: uint(rounds),
		CurrentChannelS1G:   uint8(current),
	}, nil
}

// Next pops the head of frequencyKHz's FIFO, or reports ok=false if that
// channel's queue is empty. done reports whether this was the very last
// sample across all channels, per spec.md §4.J's "the scheduler must halt
// cleanly" requirement.
func (s *Source) Next(frequencyKHz uint32) (row Row, ok bool, done bool) {
	var q = s.queues[frequencyKHz]
	if len(q) == 0 {
		return Row{}, false, s.totalRemaining == 0 //nolint:exhaustruct
	}

	row = q[0]
	s.queues[frequencyKHz] = q[1:]
	s.totalRemaining--

	return row, true, s.totalRemaining == 0
}

// Remaining reports how many unconsumed samples remain across all channels.
func (s *Source) Remaining() int { return s.totalRemaining }

// ChannelInfo is one distinct channel a replay file exercises, derived from
// the first row seen at its frequency.
type ChannelInfo struct {
	FrequencyKHz uint32
	BandwidthMHz uint8
	S1GChannel   uint8
}

func channelInfoFromRow(row Row) ChannelInfo {
	return ChannelInfo{FrequencyKHz: row.FrequencyKHz, BandwidthMHz: row.BandwidthMHz, S1GChannel: row.ChannelS1G}
}

// Channels returns one ChannelInfo per distinct frequency, in first-seen
// order, for a backend that must synthesize a GET_AVAILABLE_CHANNELS
// response from the replay file alone (spec.md §4.J).
func (s *Source) Channels() []ChannelInfo {
	var out = make([]ChannelInfo, 0, len(s.order))

	for _, freq := range s.order {
		out = append(out, channelInfoFromRow(s.first[freq]))
	}

	return out
}

// ChannelByS1G returns the ChannelInfo whose s1g channel number matches, or
// ok=false. Used to resolve the initial operating channel, itself an s1g
// channel number (spec.md §4.J: "taken from the first row's current_channel
// column").
func (s *Source) ChannelByS1G(s1gChannel uint8) (ChannelInfo, bool) {
	for _, freq := range s.order {
		var row = s.first[freq]
		if row.ChannelS1G == s1gChannel {
			return channelInfoFromRow(row), true
		}
	}

	return ChannelInfo{}, false //nolint:exhaustruct
}

// ChannelByFreq returns the ChannelInfo at frequencyKHz, or ok=false.
func (s *Source) ChannelByFreq(frequencyKHz uint32) (ChannelInfo, bool) {
	var row, ok = s.first[frequencyKHz]
	if !ok {
		return ChannelInfo{}, false //nolint:exhaustruct
	}

	return channelInfoFromRow(row), true
}
