package dcs

import (
	"encoding/binary"
	"fmt"

	"github.com/halow-ap/dcsd/internal/backend/vendorcmd"
)

// Vendor subcommand message ids this package issues, scoped within
// vendorcmd.VendorOUI (spec.md §4.E, §6). GET_AVAILABLE_CHANNELS is enumerated
// before OCS_DRIVER since the scheduler always calls it first, during INIT.
const (
	vendorMsgGetAvailableChannels uint16 = 0
	vendorMsgOCSDriver            uint16 = 1
)

// availableChannelRecordLen is this controller's own wire convention for one
// entry in GET_AVAILABLE_CHANNELS's channels[] array: s1g_channel_number
// (u8), bandwidth_mhz (u8), 2 bytes padding, centre_freq_khz (u32 LE).
const availableChannelRecordLen = 8

func decodeAvailableChannels(data []byte) ([]ChannelDescriptor, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("dcs: GET_AVAILABLE_CHANNELS: payload too short")
	}

	var numChannels = binary.LittleEndian.Uint32(data[0:4])
	var body = data[4:]

	var need = int(numChannels) * availableChannelRecordLen
	if len(body) < need {
		return nil, fmt.Errorf("dcs: GET_AVAILABLE_CHANNELS: declared %d channels but only %d bytes follow", numChannels, len(body))
	}

	var out = make([]ChannelDescriptor, 0, numChannels)

	for i := 0; i < int(numChannels); i++ {
		var rec = body[i*availableChannelRecordLen : (i+1)*availableChannelRecordLen]

		out = append(out, ChannelDescriptor{
			S1GChannel:    rec[0],
			BandwidthMHz:  rec[1],
			CentreFreqKHz: binary.LittleEndian.Uint32(rec[4:8]),
		})
	}

	return out, nil
}

// encodeOCSDriverPayload builds the OCS_DRIVER request payload: {
// op_channel_freq_hz u32 LE, op_channel_bw_mhz u8, pri_channel_bw_mhz u8,
// pri_1mhz_channel_index u8 } (spec.md §6).
func encodeOCSDriverPayload(opChannelFreqHz uint32, opChannelBWMHz, priChannelBWMHz, pri1MHzIndex uint8) []byte {
	var buf = make([]byte, 7)

	binary.LittleEndian.PutUint32(buf[0:4], opChannelFreqHz)
	buf[4] = opChannelBWMHz
	buf[5] = priChannelBWMHz
	buf[6] = pri1MHzIndex

	return buf
}

// ocsDoneRecordLen is the OCS_DONE event payload length: metric (u8), noise
// (i8), time_listen_us (u64 LE), time_rx_us (u64 LE) (spec.md §6).
const ocsDoneRecordLen = 18

func decodeOCSDone(data []byte) (Measurement, error) {
	if len(data) < ocsDoneRecordLen {
		return Measurement{}, fmt.Errorf("dcs: OCS_DONE: payload too short") //nolint:exhaustruct
	}

	return Measurement{
		MetricRaw:    data[0],
		NoiseRSSI:    int8(data[1]), //nolint:gosec
		ListenTimeUS: binary.LittleEndian.Uint64(data[2:10]),
		RxTimeUS:     binary.LittleEndian.Uint64(data[10:18]),
	}, nil
}

func ocsDriverRecord(payload []byte) vendorcmd.Record {
	return vendorcmd.Record{MessageID: vendorMsgOCSDriver, Payload: payload}
}

func getAvailableChannelsRecord() vendorcmd.Record {
	return vendorcmd.Record{MessageID: vendorMsgGetAvailableChannels, Payload: nil}
}

// leU32 decodes a little-endian u32 netlink attribute payload, tolerating
// short buffers the way vendorcmd's own decoder does.
func leU32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}
