package dcs

import "fmt"

// PrimaryCentreKHz derives the centre frequency of the primary sub-channel
// within an operating channel centred at fKHz with bandwidth bwMHz, given a
// primary width of 1 or 2 MHz and its index within the operating channel
// (spec.md §4.G). The centre must lie strictly below bottom+bwMHz*1000;
// a caller that cannot prove this from already-validated descriptor data
// should treat a violation as ErrInvariantViolation (spec.md §4.G, §7).
func PrimaryCentreKHz(fKHz uint32, bwMHz uint8, primaryWidthMHz uint8, idx uint8) uint32 {
	var bottom = int64(fKHz) - int64(bwMHz)*500

	var centre int64
	if primaryWidthMHz == 1 {
		centre = bottom + int64(idx)*1000 + 500
	} else {
		centre = bottom + int64(idx/2)*2000 + 1000
	}

	return uint32(centre) //nolint:gosec
}

// validPrimaryCentre reports whether centreKHz lies strictly below the top
// of the operating channel spanning [fKHz-bwMHz*500, fKHz+bwMHz*500).
func validPrimaryCentre(centreKHz uint32, fKHz uint32, bwMHz uint8) bool {
	var bottom = int64(fKHz) - int64(bwMHz)*500
	var top = bottom + int64(bwMHz)*1000

	return int64(centreKHz) < top
}

// SecondaryChannelOffset returns the ECSA secondary-channel offset for a
// candidate channel of the given bandwidth and primary index (spec.md
// §4.G): 0 for a 1 MHz candidate channel; otherwise +1 for an even primary
// index, -1 for odd.
func SecondaryChannelOffset(candidateBWMHz uint8, primary1MHzIndex uint8) int {
	if candidateBWMHz == 1 {
		return 0
	}

	if primary1MHzIndex%2 == 0 {
		return 1
	}

	return -1
}

// buildScanList filters channelSet to entries admissible per spec.md §4.G:
// same bandwidth as the current operating channel, and whose derived
// primary centre matches some permitted channel at the current primary
// width.
func buildScanList(channelSet []*ChannelEntry, op OperatingState) ([]*ChannelEntry, error) {
	var out []*ChannelEntry

	for _, ch := range channelSet {
		if ch.Descriptor.BandwidthMHz != op.CurrentChannel.Descriptor.BandwidthMHz {
			continue
		}

		var centre = PrimaryCentreKHz(ch.Descriptor.CentreFreqKHz, ch.Descriptor.BandwidthMHz, op.PrimaryWidthMHz, op.Primary1MHzIndex)

		if !validPrimaryCentre(centre, ch.Descriptor.CentreFreqKHz, ch.Descriptor.BandwidthMHz) {
			return nil, fmt.Errorf("dcs: channel %d: %w: derived primary centre %d khz out of band",
				ch.Descriptor.S1GChannel, ErrInvariantViolation, centre)
		}

		if !permittedAt(channelSet, centre, op.PrimaryWidthMHz) {
			continue
		}

		out = append(out, ch)
	}

	return out, nil
}

func permittedAt(channelSet []*ChannelEntry, centreKHz uint32, bwMHz uint8) bool {
	for _, ch := range channelSet {
		if ch.Descriptor.CentreFreqKHz == centreKHz && ch.Descriptor.BandwidthMHz == bwMHz {
			return true
		}
	}

	return false
}

// findChannel returns the channelSet entry whose (frequency, bandwidth)
// matches exactly, or nil.
func findChannel(channelSet []*ChannelEntry, freqKHz uint32, bwMHz uint8) *ChannelEntry {
	for _, ch := range channelSet {
		if ch.Descriptor.CentreFreqKHz == freqKHz && ch.Descriptor.BandwidthMHz == bwMHz {
			return ch
		}
	}

	return nil
}
