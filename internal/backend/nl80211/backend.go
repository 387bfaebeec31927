package nl80211

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/halow-ap/dcsd/internal/backend"
	"github.com/halow-ap/dcsd/internal/dataitem"
)

// Backend is the generic-netlink backend to the kernel's 802.11
// configuration layer (spec.md §4.D). One Backend instance owns two
// sockets: reqSock for SubmitBlocking (guarded by reqMu so requests and
// their responses aren't interleaved by concurrent callers) and evtSock,
// opened once and subscribed to the "mlme" and "vendor" multicast groups,
// dedicated to PumpAsync.
type Backend struct {
	log           *log.Logger
	interfaceName string
	ifindex       int
	familyID      uint16

	reqMu   sync.Mutex
	reqSock *socket

	evtOnce sync.Once
	evtSock *socket
	evtErr  error
}

var _ backend.Backend = (*Backend)(nil)

// New opens the request socket and resolves the nl80211 family id and the
// interface index for interfaceName. The event socket is opened lazily on
// first PumpAsync (spec.md §4.F: "creates its dispatcher thread lazily").
func New(logger *log.Logger, interfaceName string) (*Backend, error) {
	var link, linkErr = netlink.LinkByName(interfaceName)
	if linkErr != nil {
		return nil, fmt.Errorf("nl80211: resolve interface %q: %w", interfaceName, linkErr)
	}

	var reqSock, openErr = openSocket()
	if openErr != nil {
		return nil, openErr
	}

	var familyID, _, resolveErr = resolveFamily(reqSock, "nl80211")
	if resolveErr != nil {
		reqSock.close()

		return nil, resolveErr
	}

	return &Backend{
		log:           logger.With("backend", "nl80211"),
		interfaceName: interfaceName,
		ifindex:       link.Attrs().Index,
		familyID:      familyID,
		reqMu:         sync.Mutex{},
		reqSock:       reqSock,
		evtOnce:       sync.Once{},
		evtSock:       nil,
		evtErr:        nil,
	}, nil
}

func (b *Backend) Name() string { return "nl80211" }

func (b *Backend) Ifindex() int { return b.ifindex }

// SubmitBlocking sends request (built by ParseRequestArgs) and returns the
// decoded response attribute tree.
func (b *Backend) SubmitBlocking(ctx context.Context, request *dataitem.Node) (*dataitem.Node, error) {
	if request == nil {
		return nil, fmt.Errorf("nl80211: nil request")
	}

	b.reqMu.Lock()
	defer b.reqMu.Unlock()

	var cmd, cmdOK = commandOf(request)
	if !cmdOK {
		return nil, fmt.Errorf("nl80211: request missing command")
	}

	var attrs = encodeAttrs(request)

	var msg = b.reqSock.request(b.familyID, 0, cmd, attrs...)
	if sendErr := b.reqSock.send(msg); sendErr != nil {
		return nil, sendErr
	}

	var deadline = 5 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}

	var _, _, respAttrs, recvErr = b.reqSock.recvOne(deadline)
	if recvErr != nil {
		return nil, fmt.Errorf("nl80211: submit cmd %d: %w", cmd, recvErr)
	}

	return decodeAttrs(respAttrs), nil
}

// PumpAsync opens (once) and reads from the multicast event socket.
func (b *Backend) PumpAsync(_ context.Context, timeout time.Duration) (*dataitem.Node, error) {
	if timeout > backend.MaxPumpTimeout {
		timeout = backend.MaxPumpTimeout
	}

	b.evtOnce.Do(func() {
		b.evtSock, b.evtErr = b.openEventSocket()
	})

	if b.evtErr != nil {
		return nil, b.evtErr
	}

	var _, cmd, attrs, err = b.evtSock.recvOne(timeout)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil, nil
		}

		return nil, fmt.Errorf("nl80211: pump async: %w", err)
	}

	if attrs == nil {
		return nil, nil
	}

	var event = decodeAttrs(attrs)
	var wrapped = dataitem.New(dataitem.IntKey(uint32(cmd)), nil)
	wrapped.Children = event

	return wrapped, nil
}

func (b *Backend) openEventSocket() (*socket, error) {
	var s, err = openSocket()
	if err != nil {
		return nil, err
	}

	var _, groups, resolveErr = resolveFamily(s, "nl80211")
	if resolveErr != nil {
		s.close()

		return nil, resolveErr
	}

	for _, name := range []string{"mlme", "vendor"} {
		var gid, ok = groups[name]
		if !ok {
			b.log.Warn("nl80211: multicast group not advertised by kernel", "group", name)

			continue
		}

		if joinErr := s.joinGroup(gid); joinErr != nil {
			s.close()

			return nil, joinErr
		}
	}

	if seqErr := s.disableSeqCheck(); seqErr != nil {
		s.close()

		return nil, seqErr
	}

	return s, nil
}

// ParseRequestArgs builds a request tree from a command id (int) followed by
// alternating (attrType uint16, value) pairs. No flags argument is taken:
// SubmitBlocking always sends the request with flags 0 (NLM_F_REQUEST only).
func (b *Backend) ParseRequestArgs(args ...any) (*dataitem.Node, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("nl80211: missing command id")
	}

	cmdVal, ok := args[0].(int)
	if !ok {
		return nil, fmt.Errorf("nl80211: first arg must be command id (int)")
	}

	var root = dataitem.New(dataitem.IntKey(uint32(cmdVal)), nil) //nolint:gosec

	var rest = args[1:]
	if len(rest)%2 != 0 {
		return nil, fmt.Errorf("nl80211: attribute/value args must come in pairs")
	}

	for i := 0; i < len(rest); i += 2 {
		attrType, attrOK := rest[i].(uint16)
		if !attrOK {
			return nil, fmt.Errorf("nl80211: attribute key must be uint16")
		}

		switch v := rest[i+1].(type) {
		case uint32:
			root.Append(dataitem.New(dataitem.IntKey(uint32(attrType)), u32Bytes(v)))
		case uint16:
			root.Append(dataitem.New(dataitem.IntKey(uint32(attrType)), u16Bytes(v)))
		case []byte:
			root.Append(dataitem.New(dataitem.IntKey(uint32(attrType)), v))
		default:
			return nil, fmt.Errorf("nl80211: unsupported attribute value type %T", v)
		}
	}

	return root, nil
}

func commandOf(request *dataitem.Node) (uint8, bool) {
	if request == nil || !request.Key.IsInt {
		return 0, false
	}

	return uint8(request.Key.Int), true //nolint:gosec
}

func encodeAttrs(request *dataitem.Node) [][]byte {
	var out [][]byte

	for child := request.Children; child != nil; child = child.Next {
		if !child.Key.IsInt {
			continue
		}

		out = append(out, attr(uint16(child.Key.Int), child.Value)) //nolint:gosec
	}

	return out
}

func decodeAttrs(buf []byte) *dataitem.Node {
	var raws = parseAttrs(buf)
	if len(raws) == 0 {
		return nil
	}

	var head, tail *dataitem.Node

	for _, ra := range raws {
		var node = rawToNode(ra)

		if head == nil {
			head = node
			tail = node
		} else {
			tail.Next = node
			tail = node
		}
	}

	return head
}

func rawToNode(ra rawAttr) *dataitem.Node {
	var node = dataitem.New(dataitem.IntKey(uint32(ra.Type)), ra.Payload)

	if ra.Children != nil {
		var head, tail *dataitem.Node

		for _, child := range ra.Children {
			var c = rawToNode(child)

			if head == nil {
				head = c
				tail = c
			} else {
				tail.Next = c
				tail = c
			}
		}

		node.Children = head
	}

	return node
}

func u32Bytes(v uint32) []byte {
	var b = make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)

	return b
}

func u16Bytes(v uint16) []byte {
	var b = make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)

	return b
}
