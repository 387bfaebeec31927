// Package dataitem implements the generic, self-describing key/value tree
// returned by every backend: control-socket replies, netlink attribute sets,
// and vendor-command payloads all land here before the core inspects them.
package dataitem

import "strings"

// Key is either a string (control-socket "key=value" lines, vendor payload
// field names) or a 32-bit integer (netlink attribute types). Exactly one of
// the two fields is meaningful; IsInt reports which.
type Key struct {
	Str   string
	Int   uint32
	IsInt bool
}

// StrKey builds a string-valued Key.
func StrKey(s string) Key { return Key{Str: s} } //nolint:exhaustruct

// IntKey builds a u32-valued Key.
func IntKey(n uint32) Key { return Key{Int: n, IsInt: true} }

func (k Key) String() string {
	if k.IsInt {
		return "#" + uitoa(k.Int)
	}

	return k.Str
}

func uitoa(n uint32) string {
	if n == 0 {
		return "0"
	}

	var buf [10]byte

	var i = len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}

	return string(buf[i:])
}

// Node is one entry in the tree. A node may carry an opaque byte value, a
// child list (first child only; siblings chain through Next), or both in the
// degenerate case of a nested attribute that also carries a raw payload.
type Node struct {
	Key      Key
	Value    []byte
	Children *Node
	Next     *Node
}

// New allocates a leaf node with the given key and value.
func New(key Key, value []byte) *Node {
	return &Node{Key: key, Value: value, Children: nil, Next: nil} //nolint:exhaustruct
}

// Append adds child as the last sibling under parent's child chain and
// returns parent, so construction can be chained.
func (n *Node) Append(child *Node) *Node {
	if n.Children == nil {
		n.Children = child
		return n
	}

	var last = n.Children
	for last.Next != nil {
		last = last.Next
	}

	last.Next = child

	return n
}

// FindSibling returns the first node in the sibling chain starting at n whose
// key equals key, or nil.
func FindSibling(n *Node, key Key) *Node {
	for cur := n; cur != nil; cur = cur.Next {
		if cur.Key == key {
			return cur
		}
	}

	return nil
}

// Nth returns the (0-indexed) nth sibling starting at n, or nil if the chain
// is shorter than idx+1.
func Nth(n *Node, idx int) *Node {
	var cur = n

	for i := 0; i < idx && cur != nil; i++ {
		cur = cur.Next
	}

	return cur
}

// FindPath walks nested u32-keyed children: path[0] is looked up among n's
// children, path[1] among that node's children, and so on. Returns nil if
// any segment of the path is missing.
func FindPath(n *Node, path ...uint32) *Node {
	var cur = n
	if cur == nil {
		return nil
	}

	for _, p := range path {
		var found = FindSibling(cur.Children, IntKey(p))
		if found == nil {
			return nil
		}

		cur = found
	}

	return cur
}

// HasFlag tests whether n's value, interpreted as a string in the AP
// control-socket "flags=[AUTH][ASSOC]" format, contains token bracketed with
// '[' and ']'.
func HasFlag(n *Node, token string) bool {
	if n == nil {
		return false
	}

	var s = string(n.Value)

	return strings.Contains(s, "["+token+"]")
}

// Free releases n and every descendant and sibling reachable from it. Go's
// garbage collector reclaims the memory regardless; Free exists so callers
// that receive a tree from a backend have one explicit point documenting
// "this measurement's tree is no longer needed", matching the alloc/free
// discipline measurement samples are otherwise held to (spec.md §3).
func Free(n *Node) {
	for cur := n; cur != nil; {
		var next = cur.Next

		Free(cur.Children)

		cur.Children = nil
		cur.Next = nil
		cur.Value = nil
		cur = next
	}
}
