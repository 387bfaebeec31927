package replay_test

import (
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/halow-ap/dcsd/internal/backend/nl80211"
	"github.com/halow-ap/dcsd/internal/backend/vendorcmd"
	"github.com/halow-ap/dcsd/internal/dataitem"
	"github.com/halow-ap/dcsd/internal/replay"
)

func testBackend(t *testing.T, csv string) *replay.Backend {
	t.Helper()

	var src = loadFromString(t, csv)

	var b, err = replay.NewBackend(log.New(io.Discard), src)
	require.NoError(t, err)

	return b
}

func TestBackendStatusReflectsInitialChannel(t *testing.T) {
	var b = testBackend(t, sampleCSV)

	var req, buildErr = b.ParseRequestArgs("STATUS")
	require.NoError(t, buildErr)

	var resp, submitErr = b.SubmitBlocking(context.Background(), req)
	require.NoError(t, submitErr)

	var freqNode = dataitem.FindSibling(resp, dataitem.StrKey("s1g_freq"))
	require.NotNil(t, freqNode)
	require.Equal(t, "916500", string(freqNode.Value))
}

func TestBackendGetAvailableChannels(t *testing.T) {
	var b = testBackend(t, sampleCSV)

	var req, buildErr = b.ParseRequestArgs(vendorcmd.Record{MessageID: 0, Payload: nil})
	require.NoError(t, buildErr)

	var resp, submitErr = b.SubmitBlocking(context.Background(), req)
	require.NoError(t, submitErr)

	var numChannels = binary.LittleEndian.Uint32(resp.Value[0:4])
	require.Equal(t, uint32(2), numChannels)
}

func TestBackendOCSDriverDeliversQueuedMeasurement(t *testing.T) {
	var b = testBackend(t, sampleCSV)

	var payload = make([]byte, 7)
	binary.LittleEndian.PutUint32(payload[0:4], 916_500*1000)

	var req, buildErr = b.ParseRequestArgs(vendorcmd.Record{MessageID: 1, Payload: payload})
	require.NoError(t, buildErr)

	var _, submitErr = b.SubmitBlocking(context.Background(), req)
	require.NoError(t, submitErr)

	var event, pumpErr = b.PumpAsync(context.Background(), time.Second)
	require.NoError(t, pumpErr)
	require.NotNil(t, event)
	require.Equal(t, "OCS_DONE", event.Key.Str)
	require.Equal(t, uint8(80), event.Value[0])
}

func TestBackendChanSwitchQueuesNotifyAndReturnsOK(t *testing.T) {
	var b = testBackend(t, sampleCSV)

	var cmd = "CHAN_SWITCH 3 1000 prim_bandwidth=4 sec_channel_offset=0 center_freq1=920500 bandwidth=4"

	var req, buildErr = b.ParseRequestArgs(cmd)
	require.NoError(t, buildErr)

	var resp, submitErr = b.SubmitBlocking(context.Background(), req)
	require.NoError(t, submitErr)
	require.Equal(t, "OK", resp.Key.Str)

	var event, pumpErr = b.PumpAsync(context.Background(), time.Second)
	require.NoError(t, pumpErr)
	require.NotNil(t, event)
	require.Equal(t, uint32(nl80211.CmdChSwitchNotify), event.Key.Int)

	var freqNode = dataitem.FindSibling(event.Children, dataitem.IntKey(nl80211.AttrWiphyFreq))
	require.NotNil(t, freqNode)
	require.Equal(t, uint32(920_500), binary.LittleEndian.Uint32(freqNode.Value))
}

func TestBackendDoneClosesWhenFileExhausted(t *testing.T) {
	var b = testBackend(t, sampleCSV)

	var drain = func(freqKHz uint32) {
		var payload = make([]byte, 7)
		binary.LittleEndian.PutUint32(payload[0:4], freqKHz*1000)

		var req, buildErr = b.ParseRequestArgs(vendorcmd.Record{MessageID: 1, Payload: payload})
		require.NoError(t, buildErr)

		var _, submitErr = b.SubmitBlocking(context.Background(), req)
		require.NoError(t, submitErr)
	}

	drain(916_500)
	drain(916_500)
	drain(920_500)

	select {
	case <-b.Done():
	default:
		t.Fatal("expected Done to be closed once the file is exhausted")
	}
}

func TestBackendPumpAsyncTimesOutWithNoEvent(t *testing.T) {
	var b = testBackend(t, sampleCSV)

	var event, err = b.PumpAsync(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, event)
}
