package algo

import "fmt"

// EWMAConfig is the algorithm's configuration block, spec.md §4.I.1 /
// §6 ("dcs.ewma.*").
type EWMAConfig struct {
	Alpha             int // ewma_alpha, 1..100
	ThresholdPct      int
	RoundsForCSA      int // >= 1
	SecPerScan        int
	SecPerRound       int
}

const ewmaInitialScore = 100

// EWMA implements the exponentially-weighted moving average scoring
// algorithm (spec.md §4.I.1).
type EWMA struct {
	cfg                    EWMAConfig
	roundsWithBetterChannel int
}

var _ Algorithm = (*EWMA)(nil)

// NewEWMA constructs an EWMA algorithm instance from cfg.
func NewEWMA(cfg EWMAConfig) *EWMA {
	return &EWMA{cfg: cfg, roundsWithBetterChannel: 0}
}

func (e *EWMA) Init() error {
	if e.cfg.Alpha < 1 || e.cfg.Alpha > 100 {
		return fmt.Errorf("algo: ewma_alpha must be in [1,100], got %d", e.cfg.Alpha)
	}

	if e.cfg.RoundsForCSA < 1 {
		return fmt.Errorf("algo: rounds_for_csa must be >= 1, got %d", e.cfg.RoundsForCSA)
	}

	return nil
}

func (e *EWMA) Deinit() {}

// InitialScore is the starting AccumulatedScore new channel entries should
// carry before any measurement (spec.md §4.I.1: "Initial per-channel
// score: 100").
func (e *EWMA) InitialScore() uint32 { return ewmaInitialScore }

func (e *EWMA) ProcessMeasurement(sample Sample, entry *ChannelEntry) {
	var alpha = int64(e.cfg.Alpha)
	var raw = int64(sample.MetricRaw)
	var prev = int64(entry.AccumulatedScore)

	entry.AccumulatedScore = uint32((alpha*raw + (100-alpha)*prev) / 100) //nolint:gosec
	entry.SamplesTaken++
}

func (e *EWMA) EvaluateChannels(scanList []*ChannelEntry, current *ChannelEntry) *ChannelEntry {
	var best = Argmax(scanList, current)
	if best == nil {
		return nil
	}

	switch {
	case best == current:
		e.roundsWithBetterChannel = 0
	case best.AccumulatedScore > Threshold(current.AccumulatedScore, e.cfg.ThresholdPct):
		e.roundsWithBetterChannel++
	}

	best.RoundsAsBest++

	if e.roundsWithBetterChannel >= e.cfg.RoundsForCSA {
		return best
	}

	return nil
}

func (e *EWMA) PostSwitch(*ChannelEntry) {
	e.roundsWithBetterChannel = 0
}
