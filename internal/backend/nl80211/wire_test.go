package nl80211

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttrRoundTrip(t *testing.T) {
	var encoded = attrU32(AttrWiphyFreq, 916000)

	var parsed = parseAttrs(encoded)
	require.Len(t, parsed, 1)
	require.Equal(t, uint16(AttrWiphyFreq), parsed[0].Type)

	var v, err = u32(parsed[0].Payload)
	require.NoError(t, err)
	require.Equal(t, uint32(916000), v)
}

func TestParseAttrsNestedHeuristic(t *testing.T) {
	var inner = append(attrU16(1, 7), attrU32(2, 42)...)
	var outer = attr(200, inner)

	var parsed = parseAttrs(outer)
	require.Len(t, parsed, 1)
	require.Len(t, parsed[0].Children, 2)
}

func TestParseAttrsOpaqueLeaf(t *testing.T) {
	// A 3-byte opaque payload cannot parse as a TLV sequence at all
	// (shorter than one attribute header), so it stays a leaf.
	var outer = attr(201, []byte{0x01, 0x02, 0x03})

	var parsed = parseAttrs(outer)
	require.Len(t, parsed, 1)
	require.Nil(t, parsed[0].Children)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, parsed[0].Payload)
}

func TestParseAttrsMultipleSiblings(t *testing.T) {
	var buf = append(attrU32(1, 10), attrU32(2, 20)...)

	var parsed = parseAttrs(buf)
	require.Len(t, parsed, 2)
}
