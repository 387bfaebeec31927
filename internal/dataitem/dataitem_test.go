package dataitem_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/halow-ap/dcsd/internal/dataitem"
)

func TestFindSibling(t *testing.T) {
	var a = dataitem.New(dataitem.StrKey("freq"), []byte("916000"))
	var b = dataitem.New(dataitem.StrKey("bw"), []byte("1"))
	a.Next = b

	require.Same(t, b, dataitem.FindSibling(a, dataitem.StrKey("bw")))
	require.Nil(t, dataitem.FindSibling(a, dataitem.StrKey("missing")))
}

func TestNth(t *testing.T) {
	var a = dataitem.New(dataitem.StrKey("a"), nil)
	var b = dataitem.New(dataitem.StrKey("b"), nil)
	var c = dataitem.New(dataitem.StrKey("c"), nil)
	a.Next = b
	b.Next = c

	require.Same(t, a, dataitem.Nth(a, 0))
	require.Same(t, b, dataitem.Nth(a, 1))
	require.Same(t, c, dataitem.Nth(a, 2))
	require.Nil(t, dataitem.Nth(a, 3))
}

func TestFindPath(t *testing.T) {
	var leaf = dataitem.New(dataitem.IntKey(3), []byte{0x01})
	var mid = dataitem.New(dataitem.IntKey(2), nil).Append(leaf)
	var root = dataitem.New(dataitem.IntKey(1), nil).Append(mid)

	require.Same(t, leaf, dataitem.FindPath(root, 2, 3))
	require.Nil(t, dataitem.FindPath(root, 2, 99))
	require.Nil(t, dataitem.FindPath(root, 99))
}

func TestHasFlag(t *testing.T) {
	var n = dataitem.New(dataitem.StrKey("flags"), []byte("[AUTH][ASSOC]"))

	require.True(t, dataitem.HasFlag(n, "AUTH"))
	require.True(t, dataitem.HasFlag(n, "ASSOC"))
	require.False(t, dataitem.HasFlag(n, "WPS"))
	require.False(t, dataitem.HasFlag(nil, "AUTH"))
}

func TestFreeClearsTree(t *testing.T) {
	var child = dataitem.New(dataitem.StrKey("child"), []byte("x"))
	var root = dataitem.New(dataitem.StrKey("root"), []byte("y")).Append(child)

	dataitem.Free(root)

	require.Nil(t, root.Children)
	require.Nil(t, root.Value)
}
