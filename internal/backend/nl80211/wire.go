// Package nl80211 implements the generic-netlink backend that talks to the
// kernel 802.11 configuration layer (spec.md §4.D): family resolution,
// request/response framing, multicast-group subscription, and recursive
// attribute-to-dataitem decoding.
package nl80211

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// nlmsghdr mirrors struct nlmsghdr (16 bytes, host byte order on Linux).
type nlmsghdr struct {
	Len   uint32
	Type  uint16
	Flags uint16
	Seq   uint32
	Pid   uint32
}

const nlmsghdrLen = 16

// genlmsghdr mirrors struct genlmsghdr (4 bytes).
type genlmsghdr struct {
	Cmd     uint8
	Version uint8
	_       uint16
}

const genlmsghdrLen = 4

// Generic netlink control family, used to resolve "nl80211" to its dynamic
// family id and multicast group ids.
const (
	genlIDCtrl        = 0x10
	ctrlCmdGetFamily  = 3
	ctrlAttrFamilyID  = 1
	ctrlAttrFamName   = 2
	ctrlAttrMcastGrps = 7
	ctrlAttrMcastName = 1
	ctrlAttrMcastID   = 2
)

// nl80211 command ids consumed by the core (spec.md §6).
const (
	CmdGetInterface   = 5
	CmdGetStation     = 17
	CmdChSwitchNotify = 88
	CmdVendor         = 103
)

// nl80211 attribute ids used by the core.
const (
	AttrIfindex     = 3
	AttrWiphyFreq   = 38
	AttrVendorID    = 195
	AttrVendorSubcmd = 196
	AttrVendorData  = 197
)

func nlaAlign(n int) int {
	return (n + unix.NLA_ALIGNTO - 1) &^ (unix.NLA_ALIGNTO - 1)
}

// attr encodes one netlink attribute (type + payload), padded per NLA_ALIGNTO.
func attr(attrType uint16, payload []byte) []byte {
	var hdrLen = 4
	var total = hdrLen + len(payload)
	var buf = make([]byte, nlaAlign(total))

	binary.LittleEndian.PutUint16(buf[0:2], uint16(total)) //nolint:gosec
	binary.LittleEndian.PutUint16(buf[2:4], attrType)
	copy(buf[4:], payload)

	return buf
}

func attrU16(attrType uint16, v uint16) []byte {
	var b = make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)

	return attr(attrType, b)
}

func attrU32(attrType uint16, v uint32) []byte {
	var b = make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)

	return attr(attrType, b)
}

// rawAttr is one decoded attribute: its type, its raw payload, and — when
// the payload recursively parses as a sequence of TLVs that exactly fills
// the buffer — its parsed children (spec.md §4.D's nesting heuristic).
type rawAttr struct {
	Type     uint16
	Payload  []byte
	Children []rawAttr
}

// parseAttrs walks a buffer as a sequence of NLA TLVs. It never errors on
// malformed trailing bytes shorter than a header; it simply stops, since
// nl80211 payloads are not always attribute sequences (e.g. vendor blobs).
func parseAttrs(buf []byte) []rawAttr {
	var out []rawAttr

	for len(buf) >= 4 {
		var length = int(binary.LittleEndian.Uint16(buf[0:2]))
		var typ = binary.LittleEndian.Uint16(buf[2:4])

		if length < 4 || length > len(buf) {
			break
		}

		var payload = buf[4:length]

		var ra = rawAttr{Type: typ, Payload: payload, Children: nil}
		if children := tryParseNested(payload); children != nil {
			ra.Children = children
		}

		out = append(out, ra)

		var advance = nlaAlign(length)
		if advance > len(buf) {
			break
		}

		buf = buf[advance:]
	}

	return out
}

// tryParseNested applies spec.md §4.D's heuristic: payload is nested when,
// scanned as a TLV sequence, it ends exactly at the buffer boundary and
// contains at least one attribute.
func tryParseNested(payload []byte) []rawAttr {
	if len(payload) < 4 {
		return nil
	}

	var consumed int

	var buf = payload
	var children []rawAttr

	for len(buf) >= 4 {
		var length = int(binary.LittleEndian.Uint16(buf[0:2]))
		if length < 4 || length > len(buf) {
			return nil
		}

		var typ = binary.LittleEndian.Uint16(buf[2:4])
		children = append(children, rawAttr{Type: typ, Payload: buf[4:length], Children: nil})

		var advance = nlaAlign(length)
		consumed += advance

		if advance > len(buf) {
			return nil
		}

		buf = buf[advance:]
	}

	if consumed != len(payload) || len(children) == 0 {
		return nil
	}

	return children
}

func u16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("nl80211: attribute too short for u16")
	}

	return binary.LittleEndian.Uint16(b), nil
}

func u32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("nl80211: attribute too short for u32")
	}

	return binary.LittleEndian.Uint32(b), nil
}
