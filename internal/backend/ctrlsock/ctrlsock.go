// Package ctrlsock implements the control-socket backend: text
// request/response to a hostapd-style AP control socket, plus a lazily
// opened notification socket for unsolicited events (spec.md §4.C).
package ctrlsock

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/halow-ap/dcsd/internal/backend"
	"github.com/halow-ap/dcsd/internal/dataitem"
)

// Backend talks to a Unix-domain control socket at socketPath. It implements
// backend.Backend.
type Backend struct {
	log        *log.Logger
	socketPath string

	// openMu serialises the notification-socket open: the underlying
	// connect sequence is not re-entrant (spec.md §4.C).
	openMu   sync.Mutex
	notifyFD net.Conn
}

var _ backend.Backend = (*Backend)(nil)

// New constructs a control-socket backend for the endpoint named after
// interfaceName under controlDir.
func New(logger *log.Logger, controlDir, interfaceName string) *Backend {
	return &Backend{ //nolint:exhaustruct
		log:        logger.With("backend", "ctrlsock"),
		socketPath: controlDir + "/" + interfaceName,
	}
}

func (b *Backend) Name() string { return "ctrlsock" }

// SubmitBlocking opens a fresh command connection, writes the request line,
// reads one reply datagram (up to 8 KiB), and parses its key=value lines.
func (b *Backend) SubmitBlocking(ctx context.Context, request *dataitem.Node) (*dataitem.Node, error) {
	if request == nil {
		return nil, fmt.Errorf("ctrlsock: %w: nil request", backend.ErrNotSupported)
	}

	var line, ok = requestLine(request)
	if !ok {
		return nil, fmt.Errorf("ctrlsock: request has no command line")
	}

	var d net.Dialer

	var conn, err = d.DialContext(ctx, "unixgram", b.socketPath)
	if err != nil {
		return nil, fmt.Errorf("ctrlsock: dial %s: %w", b.socketPath, err)
	}

	defer conn.Close()

	if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
		_ = conn.SetDeadline(deadline)
	}

	if _, writeErr := conn.Write([]byte(line + "\n")); writeErr != nil {
		return nil, fmt.Errorf("ctrlsock: write: %w", writeErr)
	}

	var buf = make([]byte, 8192)

	var n, readErr = conn.Read(buf)
	if readErr != nil {
		return nil, fmt.Errorf("ctrlsock: read: %w", readErr)
	}

	var tree = ParseKeyValueLines(string(buf[:n]))
	if tree == nil {
		return nil, fmt.Errorf("ctrlsock: empty response to %q", line)
	}

	return tree, nil
}

// PumpAsync opens the notification socket lazily on first call, then blocks
// up to timeout for one unsolicited line.
func (b *Backend) PumpAsync(ctx context.Context, timeout time.Duration) (*dataitem.Node, error) {
	if timeout > backend.MaxPumpTimeout {
		timeout = backend.MaxPumpTimeout
	}

	var conn, err = b.notifySocket(ctx)
	if err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	var buf = make([]byte, 4096)

	var n, readErr = conn.Read(buf)
	if readErr != nil {
		if ne, isNetErr := readErr.(net.Error); isNetErr && ne.Timeout() { //nolint:errorlint
			return nil, nil
		}

		b.log.Warn("notification socket error, will reopen", "err", readErr)

		b.openMu.Lock()
		_ = b.notifyFD.Close()
		b.notifyFD = nil
		b.openMu.Unlock()

		return nil, fmt.Errorf("ctrlsock: read notify: %w", readErr)
	}

	return ParseEvent(string(buf[:n])), nil
}

func (b *Backend) notifySocket(ctx context.Context) (net.Conn, error) {
	b.openMu.Lock()
	defer b.openMu.Unlock()

	if b.notifyFD != nil {
		return b.notifyFD, nil
	}

	var d net.Dialer

	var conn, err = d.DialContext(ctx, "unixgram", b.socketPath)
	if err != nil {
		return nil, fmt.Errorf("ctrlsock: open notify socket: %w", err)
	}

	if _, attachErr := conn.Write([]byte("ATTACH\n")); attachErr != nil {
		conn.Close()

		return nil, fmt.Errorf("ctrlsock: attach: %w", attachErr)
	}

	b.notifyFD = conn

	return conn, nil
}

// ParseRequestArgs builds a request tree for the given command and
// space-joined arguments. The control-socket schema is a single command
// line; args are joined as the rest of the line (spec.md §6's CHAN_SWITCH
// and STATUS commands).
func (b *Backend) ParseRequestArgs(args ...any) (*dataitem.Node, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("ctrlsock: no command given")
	}

	var parts = make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}

	return dataitem.New(dataitem.StrKey(strings.Join(parts, " ")), nil), nil
}

func requestLine(request *dataitem.Node) (string, bool) {
	if request == nil || request.Key.IsInt {
		return "", false
	}

	return request.Key.Str, true
}

// ParseKeyValueLines parses a hostapd-style "key=value\n" response block
// into a sibling chain of string-keyed nodes. A line that does not contain
// '=' is kept verbatim as a node with a nil value (e.g. bare "OK"/"FAIL"
// replies).
func ParseKeyValueLines(body string) *dataitem.Node {
	var lines = strings.Split(strings.TrimRight(body, "\n"), "\n")

	var head, tail *dataitem.Node

	for _, line := range lines {
		if line == "" {
			continue
		}

		var key, value, hasEq = strings.Cut(line, "=")

		var node *dataitem.Node
		if hasEq {
			node = dataitem.New(dataitem.StrKey(key), []byte(value))
		} else {
			node = dataitem.New(dataitem.StrKey(line), nil)
		}

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

// ParseEvent strips an optional "<N>" priority prefix and parses the first
// whitespace-delimited token as the event's key, per spec.md §4.C.
func ParseEvent(line string) *dataitem.Node {
	line = strings.TrimRight(line, "\r\n")

	if strings.HasPrefix(line, "<") {
		if idx := strings.Index(line, ">"); idx >= 0 {
			line = line[idx+1:]
		}
	}

	var name, rest, _ = strings.Cut(line, " ")
	if name == "" {
		return nil
	}

	return dataitem.New(dataitem.StrKey(name), []byte(rest))
}
