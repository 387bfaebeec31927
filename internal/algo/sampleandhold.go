package algo

import "fmt"

// SampleAndHoldConfig is the algorithm's configuration block, spec.md
// §4.I.2 / §6 ("dcs.sample_and_hold.*").
type SampleAndHoldConfig struct {
	RoundsForEval int // >= 1
	ThresholdPct  int
	SecPerScan    int
	SecPerRound   int
}

// SampleAndHold implements the accumulate-then-periodically-evaluate
// scoring algorithm (spec.md §4.I.2): every measurement adds its raw
// metric to a running sum, and the scan list is only re-evaluated for a
// switch once every RoundsForEval full scans.
type SampleAndHold struct {
	cfg           SampleAndHoldConfig
	fullScansDone uint
}

var _ Algorithm = (*SampleAndHold)(nil)

// NewSampleAndHold constructs a SampleAndHold algorithm instance from cfg.
func NewSampleAndHold(cfg SampleAndHoldConfig) *SampleAndHold {
	return &SampleAndHold{cfg: cfg, fullScansDone: 0}
}

func (s *SampleAndHold) Init() error {
	if s.cfg.RoundsForEval < 1 {
		return fmt.Errorf("algo: rounds_for_eval must be >= 1, got %d", s.cfg.RoundsForEval)
	}

	return nil
}

func (s *SampleAndHold) Deinit() {}

func (s *SampleAndHold) ProcessMeasurement(sample Sample, entry *ChannelEntry) {
	entry.AccumulatedScore += uint32(sample.MetricRaw)
	entry.SamplesTaken++
}

// EvaluateChannels runs the evaluation-boundary check before comparing
// entries: the scan list is only argmax'd on every RoundsForEval-th full
// scan (spec.md §4.I.2: "num_full_scans mod rounds_for_eval == 0"). On a
// non-boundary round it records the scan and returns nil without
// resetting any channel's accumulated score.
func (s *SampleAndHold) EvaluateChannels(scanList []*ChannelEntry, current *ChannelEntry) *ChannelEntry {
	s.fullScansDone++

	if s.fullScansDone%uint(s.cfg.RoundsForEval) != 0 { //nolint:gosec
		return nil
	}

	var best = Argmax(scanList, current)
	if best == nil {
		ResetAll(scanList)
		return nil
	}

	best.RoundsAsBest++

	if best == current {
		ResetAll(scanList)
		return nil
	}

	if best.AccumulatedScore <= Threshold(current.AccumulatedScore, s.cfg.ThresholdPct) {
		ResetAll(scanList)
		return nil
	}

	return best
}

// PostSwitch restarts the evaluation-boundary counter (spec.md §4.I.2).
// Resetting every channel's accumulated score is the caller's
// responsibility: the scan list a switch was evaluated against lives
// outside this algorithm, so callers must invoke ResetAll over it
// themselves once a switch is confirmed (see dcs.Controller.evaluateRound).
func (s *SampleAndHold) PostSwitch(newChannel *ChannelEntry) {
	s.fullScansDone = 0

	if newChannel != nil {
		newChannel.AccumulatedScore = 0
		newChannel.SamplesTaken = 0
	}
}

// ResetAll zeroes every entry's accumulated score; callers invoke this on
// the full scan list alongside PostSwitch since PostSwitch alone only
// resets the channel switched to (spec.md §4.I.2: "resets ALL channels'
// accumulated scores to 0").
func ResetAll(scanList []*ChannelEntry) {
	for _, e := range scanList {
		e.AccumulatedScore = 0
		e.SamplesTaken = 0
	}
}
