package replay_test

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halow-ap/dcsd/internal/replay"
)

const sampleCSV = `time,frequency_khz,bandwidth_mhz,channel_s1g,metric,accumulated_score,rounds_as_best_for_channel,current_channel
1,916500,4,1,80,100,0,1
2,920500,4,2,70,90,0,1
3,916500,4,1,82,101,1,1
`

func loadFromString(t *testing.T, csv string) *replay.Source {
	t.Helper()

	var dir = t.TempDir()
	var path = dir + "/rows.csv"

	require.NoError(t, writeFile(path, csv))

	var src, err = replay.Load(path)
	require.NoError(t, err)

	return src
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestLoadParsesInitialChannelFromFirstRow(t *testing.T) {
	var src = loadFromString(t, sampleCSV)

	require.Equal(t, uint8(1), src.InitialChannel)
	require.Equal(t, 3, src.Remaining())
}

func TestNextPopsPerChannelFIFO(t *testing.T) {
	var src = loadFromString(t, sampleCSV)

	var row1, ok1, done1 = src.Next(916_500)
	require.True(t, ok1)
	require.False(t, done1)
	require.Equal(t, uint8(80), row1.Metric)

	var row2, ok2, done2 = src.Next(916_500)
	require.True(t, ok2)
	require.False(t, done2)
	require.Equal(t, uint8(82), row2.Metric)

	var _, ok3, done3 = src.Next(920_500)
	require.True(t, ok3)
	require.True(t, done3)
}

func TestNextReportsEmptyQueue(t *testing.T) {
	var src = loadFromString(t, sampleCSV)

	var _, ok, _ = src.Next(999_999)
	require.False(t, ok)
}

func TestChannelsListsDistinctFrequenciesInFirstSeenOrder(t *testing.T) {
	var src = loadFromString(t, sampleCSV)

	var channels = src.Channels()
	require.Len(t, channels, 2)
	require.Equal(t, replay.ChannelInfo{FrequencyKHz: 916_500, BandwidthMHz: 4, S1GChannel: 1}, channels[0])
	require.Equal(t, replay.ChannelInfo{FrequencyKHz: 920_500, BandwidthMHz: 4, S1GChannel: 2}, channels[1])
}

func TestChannelByS1GAndByFreq(t *testing.T) {
	var src = loadFromString(t, sampleCSV)

	var byS1G, foundS1G = src.ChannelByS1G(2)
	require.True(t, foundS1G)
	require.Equal(t, uint32(920_500), byS1G.FrequencyKHz)

	var byFreq, foundFreq = src.ChannelByFreq(916_500)
	require.True(t, foundFreq)
	require.Equal(t, uint8(1), byFreq.S1GChannel)

	var _, missing = src.ChannelByFreq(1_234_567)
	require.False(t, missing)
}

func TestLoadRejectsWrongHeader(t *testing.T) {
	var dir = t.TempDir()
	var path = dir + "/bad.csv"

	require.NoError(t, writeFile(path, "a,b,c\n1,2,3\n"))

	var _, err = replay.Load(path)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "header"))
}
