package algo_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/halow-ap/dcsd/internal/algo"
)

func TestThresholdIdentities(t *testing.T) {
	require.Equal(t, uint32(0), algo.Threshold(0, 37))
	require.Equal(t, uint32(50), algo.Threshold(50, 0))
	require.Equal(t, uint32(55), algo.Threshold(50, 10))
}

func TestThresholdPropertyHolds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var score = rapid.Uint32Range(0, 1_000_000).Draw(t, "score")
		var pct = rapid.IntRange(0, 500).Draw(t, "pct")

		require.Equal(t, uint32(0), algo.Threshold(0, pct))
		require.Equal(t, score, algo.Threshold(score, 0))
	})
}

func entry(freq uint32, score uint32) *algo.ChannelEntry {
	return &algo.ChannelEntry{
		CentreFreqKHz:    freq,
		AccumulatedScore: score,
		SamplesTaken:     0,
		RoundsAsBest:     0,
		IsCurrent:        false,
	}
}

func TestArgmaxPicksStrictMax(t *testing.T) {
	var cur = entry(916_000, 60)
	var a = entry(918_000, 90)
	var b = entry(920_000, 40)

	require.Same(t, a, algo.Argmax([]*algo.ChannelEntry{cur, a, b}, cur))
}

func TestArgmaxTieBreakFarthest(t *testing.T) {
	var cur = entry(916_000, 50)
	var near = entry(917_000, 90)
	var far = entry(924_000, 90)

	require.Same(t, far, algo.Argmax([]*algo.ChannelEntry{cur, near, far}, cur))
}

func TestArgmaxTieKeepsCurrent(t *testing.T) {
	var cur = entry(916_000, 90)
	var a = entry(924_000, 90)

	require.Same(t, cur, algo.Argmax([]*algo.ChannelEntry{cur, a}, cur))
	require.Same(t, cur, algo.Argmax([]*algo.ChannelEntry{a, cur}, cur))
}
