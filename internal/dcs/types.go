// Package dcs implements the DCS scheduler and channel-switch coordinator:
// the top-level state machine that measures channel quality, scores
// channels through a pluggable algorithm, and migrates the AP to a better
// channel via ECSA (spec.md §§3, 4.G, 4.H).
package dcs

import (
	"time"

	"github.com/halow-ap/dcsd/internal/algo"
)

// ChannelDescriptor is immutable after initialisation (spec.md §3).
type ChannelDescriptor struct {
	S1GChannel    uint8
	CentreFreqKHz uint32
	BandwidthMHz  uint8
}

// ChannelEntry is one permitted channel's descriptor plus its scoring
// bookkeeping and retry-policy state (spec.md §3, §4.G's "3-strike budget").
type ChannelEntry struct {
	Descriptor          ChannelDescriptor
	Score               *algo.ChannelEntry
	ConsecutiveFailures int
}

// Measurement is one off-channel-scan result, produced by the vendor
// backend's OCS_DONE event or synthesised by the replay path (spec.md §3).
type Measurement struct {
	CapturedAt   time.Time
	MetricRaw    uint8
	NoiseRSSI    int8
	ListenTimeUS uint64
	RxTimeUS     uint64
}

// OperatingState mirrors spec.md §3's "Operating state", mutated exclusively
// by the scheduler after a confirmed channel switch.
type OperatingState struct {
	CurrentChannel   *ChannelEntry
	CurrentFreqKHz   uint32
	PrimaryWidthMHz  uint8 // 1 or 2
	Primary1MHzIndex uint8
	BeaconIntervalTU uint32
	DTIMPeriod       uint32
}

// EWMAConfig and SampleAndHoldConfig reuse the algorithm packages' own
// configuration types directly; Config only adds the algorithm-selection
// and switch-policy keys that are common across algorithms (spec.md §6).
type Config struct {
	TriggerCSA    bool
	DTIMsForCSA   int
	AlgoType      string // "ewma" | "sample_and_hold"
	EWMA          algo.EWMAConfig
	SampleAndHold algo.SampleAndHoldConfig
}

// maxChannelFailures is the retry budget before a non-current channel is
// dropped from the scan list (spec.md §4.G).
const maxChannelFailures = 3

// initAttempts bounds INIT's STATUS poll for AP readiness (spec.md §4.G).
const initAttempts = 10

// initAttemptSpacing is the delay between INIT's STATUS polls.
const initAttemptSpacing = 10 * time.Second

// DataSink receives one record per processed measurement; internal/datalog's
// CSVSink implements it. It is declared here so this package does not need
// to import internal/datalog.
type DataSink interface {
	Record(sample Measurement, entry ChannelEntry) error
}

// StatusIndicator is the subset of internal/statusled the switch
// coordinator drives; kept local for the same reason as DataSink.
type StatusIndicator interface {
	Enter()
	Exit()
}

// noopSink and noopIndicator let Controller always have a non-nil sink and
// indicator, so the switch coordinator and measurement path never special-
// case "none configured" (spec.md §4.O's "the coordinator never
// special-cases no LED configured", extended here to the sink).
type noopSink struct{}

func (noopSink) Record(Measurement, ChannelEntry) error { return nil }

type noopIndicator struct{}

func (noopIndicator) Enter() {}
func (noopIndicator) Exit()  {}
