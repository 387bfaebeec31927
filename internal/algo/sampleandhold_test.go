package algo_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halow-ap/dcsd/internal/algo"
)

func TestSampleAndHoldInitRejectsZeroRounds(t *testing.T) {
	var s = algo.NewSampleAndHold(algo.SampleAndHoldConfig{RoundsForEval: 0, ThresholdPct: 10, SecPerScan: 1, SecPerRound: 10})
	require.Error(t, s.Init())
}

func TestSampleAndHoldAccumulates(t *testing.T) {
	var s = algo.NewSampleAndHold(algo.SampleAndHoldConfig{RoundsForEval: 1, ThresholdPct: 10, SecPerScan: 1, SecPerRound: 10})
	require.NoError(t, s.Init())

	var ch = &algo.ChannelEntry{CentreFreqKHz: 916_000} //nolint:exhaustruct

	s.ProcessMeasurement(algo.Sample{MetricRaw: 30}, ch)
	s.ProcessMeasurement(algo.Sample{MetricRaw: 40}, ch)

	require.Equal(t, uint32(70), ch.AccumulatedScore)
	require.Equal(t, uint(2), ch.SamplesTaken)
}

// Sample-and-hold quantisation: evaluation only happens once every
// RoundsForEval full scans; an intervening round is a pure no-op.
func TestSampleAndHoldQuantisation(t *testing.T) {
	var s = algo.NewSampleAndHold(algo.SampleAndHoldConfig{RoundsForEval: 3, ThresholdPct: 10, SecPerScan: 1, SecPerRound: 10})
	require.NoError(t, s.Init())

	var cur = &algo.ChannelEntry{CentreFreqKHz: 916_000, AccumulatedScore: 10, IsCurrent: true} //nolint:exhaustruct
	var alt = &algo.ChannelEntry{CentreFreqKHz: 920_000, AccumulatedScore: 90}                  //nolint:exhaustruct

	require.Nil(t, s.EvaluateChannels([]*algo.ChannelEntry{cur, alt}, cur))
	require.Nil(t, s.EvaluateChannels([]*algo.ChannelEntry{cur, alt}, cur))

	var winner = s.EvaluateChannels([]*algo.ChannelEntry{cur, alt}, cur)
	require.Same(t, alt, winner)
}

func TestSampleAndHoldPostSwitchResetsAccumulated(t *testing.T) {
	var s = algo.NewSampleAndHold(algo.SampleAndHoldConfig{RoundsForEval: 1, ThresholdPct: 10, SecPerScan: 1, SecPerRound: 10})
	require.NoError(t, s.Init())

	var cur = &algo.ChannelEntry{CentreFreqKHz: 916_000, AccumulatedScore: 10, IsCurrent: true} //nolint:exhaustruct
	var alt = &algo.ChannelEntry{CentreFreqKHz: 920_000, AccumulatedScore: 90}                  //nolint:exhaustruct

	var scanList = []*algo.ChannelEntry{cur, alt}

	var winner = s.EvaluateChannels(scanList, cur)
	require.Same(t, alt, winner)

	s.PostSwitch(alt)
	algo.ResetAll(scanList)

	require.Equal(t, uint32(0), cur.AccumulatedScore)
	require.Equal(t, uint32(0), alt.AccumulatedScore)
}

func TestSampleAndHoldStaysOnCurrentWhenBest(t *testing.T) {
	var s = algo.NewSampleAndHold(algo.SampleAndHoldConfig{RoundsForEval: 1, ThresholdPct: 10, SecPerScan: 1, SecPerRound: 10})
	require.NoError(t, s.Init())

	var cur = &algo.ChannelEntry{CentreFreqKHz: 916_000, AccumulatedScore: 90, IsCurrent: true} //nolint:exhaustruct
	var alt = &algo.ChannelEntry{CentreFreqKHz: 920_000, AccumulatedScore: 10}                  //nolint:exhaustruct

	require.Nil(t, s.EvaluateChannels([]*algo.ChannelEntry{cur, alt}, cur))

	require.Equal(t, uint32(0), cur.AccumulatedScore)
	require.Equal(t, uint32(0), alt.AccumulatedScore)
}

// A reached evaluation boundary that does not clear the threshold still
// quantises: every channel's accumulated score resets to 0 (spec.md
// §4.I.2), not just the ones compared.
func TestSampleAndHoldResetsAllOnFailedThreshold(t *testing.T) {
	var s = algo.NewSampleAndHold(algo.SampleAndHoldConfig{RoundsForEval: 1, ThresholdPct: 50, SecPerScan: 1, SecPerRound: 10})
	require.NoError(t, s.Init())

	var cur = &algo.ChannelEntry{CentreFreqKHz: 916_000, AccumulatedScore: 100, IsCurrent: true} //nolint:exhaustruct
	var alt = &algo.ChannelEntry{CentreFreqKHz: 920_000, AccumulatedScore: 120}                  //nolint:exhaustruct

	require.Nil(t, s.EvaluateChannels([]*algo.ChannelEntry{cur, alt}, cur))

	require.Equal(t, uint32(0), cur.AccumulatedScore)
	require.Equal(t, uint32(0), alt.AccumulatedScore)
}
