// Package algo implements the pluggable channel-scoring algorithms consumed
// by the DCS scheduler (spec.md §4.I): EWMA and Sample-and-Hold, built on a
// shared threshold/argmax vocabulary.
package algo

// Sample is the subset of a measurement the scoring algorithms need.
type Sample struct {
	MetricRaw uint8 // 0..100
}

// ChannelEntry is the subset of a channel's bookkeeping the scoring
// algorithms read and mutate. The scheduler owns the backing array; the
// algorithm only ever holds entries it was handed.
type ChannelEntry struct {
	CentreFreqKHz    uint32
	AccumulatedScore uint32
	SamplesTaken     uint
	RoundsAsBest     uint
	IsCurrent        bool
}

// Algorithm is the capability set every scoring algorithm implements
// (spec.md §4.I). All but Init are optional in the sense that a
// zero-value/no-op implementation is acceptable; the interface requires all
// five so the scheduler never needs a type switch.
type Algorithm interface {
	// Init validates algorithm-specific configuration. Returning an error
	// here is a Configuration error per spec.md §7 — fatal at startup.
	Init() error

	// Deinit releases any algorithm-held resources; called before backend
	// teardown on controller shutdown.
	Deinit()

	// ProcessMeasurement folds one sample into entry's running score.
	ProcessMeasurement(sample Sample, entry *ChannelEntry)

	// EvaluateChannels runs once per complete scan-list traversal and
	// returns the channel that should become current, or nil if no switch
	// is warranted this round.
	EvaluateChannels(scanList []*ChannelEntry, current *ChannelEntry) *ChannelEntry

	// PostSwitch is called once a switch to newChannel has been confirmed;
	// it is never called after Timeout/Rejected/Mismatch (spec.md §4.H).
	PostSwitch(newChannel *ChannelEntry)
}

// Threshold computes score·(100+pct)/100, per spec.md §4.I. Integer
// arithmetic matches the reference semantics: Threshold(0, pct) == 0 for
// all pct, and Threshold(x, 0) == x.
func Threshold(score uint32, pct int) uint32 {
	return uint32(int64(score) * int64(100+pct) / 100) //nolint:gosec
}

// Argmax selects the scanList entry with the greatest AccumulatedScore.
// Ties are broken in favour of the entry whose centre frequency is
// farthest from current's; if current itself is among the tied entries, it
// wins (spec.md §4.I: "do not switch for the sake of switching").
func Argmax(scanList []*ChannelEntry, current *ChannelEntry) *ChannelEntry {
	if len(scanList) == 0 {
		return nil
	}

	var best = scanList[0]

	for _, e := range scanList[1:] {
		switch {
		case e.AccumulatedScore > best.AccumulatedScore:
			best = e
		case e.AccumulatedScore == best.AccumulatedScore:
			best = breakTie(best, e, current)
		}
	}

	return best
}

func breakTie(a, b, current *ChannelEntry) *ChannelEntry {
	if a == current {
		return a
	}

	if b == current {
		return b
	}

	if distance(b, current) > distance(a, current) {
		return b
	}

	return a
}

func distance(e, current *ChannelEntry) int64 {
	if current == nil {
		return 0
	}

	var d = int64(e.CentreFreqKHz) - int64(current.CentreFreqKHz)
	if d < 0 {
		return -d
	}

	return d
}
