package dcs

import (
	"fmt"
	"strconv"

	"github.com/halow-ap/dcsd/internal/dataitem"
)

// statusFields is the subset of the AP's STATUS response the scheduler
// reads (spec.md §4.G).
type statusFields struct {
	S1GFreqKHz       int32 // -1 when the AP has not yet negotiated a channel
	S1GBWMHz         uint8
	PrimaryWidthMHz  uint8
	Primary1MHzIndex uint8
	BeaconIntervalTU uint32
	DTIMPeriod       uint32
	Freq             uint32
}

func parseStatus(tree *dataitem.Node) (statusFields, error) {
	var get = func(key string) (string, bool) {
		var n = dataitem.FindSibling(tree, dataitem.StrKey(key))
		if n == nil {
			return "", false
		}

		return string(n.Value), true
	}

	var s1gFreqStr, hasS1GFreq = get("s1g_freq")
	if !hasS1GFreq {
		return statusFields{}, fmt.Errorf("dcs: STATUS missing s1g_freq") //nolint:exhaustruct
	}

	var s1gFreq, convErr = strconv.Atoi(s1gFreqStr)
	if convErr != nil {
		return statusFields{}, fmt.Errorf("dcs: STATUS s1g_freq: %w", convErr) //nolint:exhaustruct
	}

	var out = statusFields{S1GFreqKHz: int32(s1gFreq)} //nolint:gosec

	if v, ok := get("s1g_bw"); ok {
		out.S1GBWMHz = uint8(atoiOrZero(v)) //nolint:gosec
	}

	if v, ok := get("s1g_prim_chwidth"); ok {
		out.PrimaryWidthMHz = uint8(atoiOrZero(v)) //nolint:gosec
	}

	if v, ok := get("s1g_prim_1mhz_chan_index"); ok {
		out.Primary1MHzIndex = uint8(atoiOrZero(v)) //nolint:gosec
	}

	if v, ok := get("beacon_int"); ok {
		out.BeaconIntervalTU = uint32(atoiOrZero(v)) //nolint:gosec
	}

	if v, ok := get("dtim_period"); ok {
		out.DTIMPeriod = uint32(atoiOrZero(v)) //nolint:gosec
	}

	if v, ok := get("freq"); ok {
		out.Freq = uint32(atoiOrZero(v)) //nolint:gosec
	}

	return out, nil
}

func atoiOrZero(s string) int {
	var n, err = strconv.Atoi(s)
	if err != nil {
		return 0
	}

	return n
}
