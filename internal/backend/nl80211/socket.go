package nl80211

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// socket owns one AF_NETLINK/NETLINK_GENERIC file descriptor. It is safe for
// one concurrent sender and one concurrent receiver (the DCS core uses one
// socket for SubmitBlocking under a request mutex, and a second for
// PumpAsync's multicast subscription — see Backend).
type socket struct {
	fd   int
	pid  uint32
	seq  atomic.Uint32
	sMu  sync.Mutex
}

func openSocket() (*socket, error) {
	var fd, err = unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_GENERIC)
	if err != nil {
		return nil, fmt.Errorf("nl80211: socket: %w", err)
	}

	var sa = &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pad: 0, Pid: 0, Groups: 0} //nolint:exhaustruct

	if bindErr := unix.Bind(fd, sa); bindErr != nil {
		unix.Close(fd)

		return nil, fmt.Errorf("nl80211: bind: %w", bindErr)
	}

	var local, getErr = unix.Getsockname(fd)
	if getErr != nil {
		unix.Close(fd)

		return nil, fmt.Errorf("nl80211: getsockname: %w", getErr)
	}

	var nlAddr, ok = local.(*unix.SockaddrNetlink)
	if !ok {
		unix.Close(fd)

		return nil, fmt.Errorf("nl80211: unexpected sockaddr type")
	}

	return &socket{fd: fd, pid: nlAddr.Pid, seq: atomic.Uint32{}, sMu: sync.Mutex{}}, nil
}

func (s *socket) joinGroup(group uint32) error {
	if err := unix.SetsockoptInt(s.fd, unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, int(group)); err != nil { //nolint:gosec
		return fmt.Errorf("nl80211: join multicast group %d: %w", group, err)
	}

	return nil
}

func (s *socket) disableSeqCheck() error {
	// The kernel does not enforce sequence numbers on multicast deliveries;
	// nothing to configure beyond not validating them on receive (see
	// recvOne, which never compares against a stored sequence for events).
	return nil
}

func (s *socket) close() error {
	return unix.Close(s.fd) //nolint:wrapcheck
}

// request builds one generic-netlink request message: nlmsghdr + genlmsghdr
// + a family id (resolved by the caller) as Type, followed by pre-encoded
// attributes.
func (s *socket) request(family uint16, flags uint16, cmd uint8, attrs ...[]byte) []byte {
	var payloadLen = genlmsghdrLen
	for _, a := range attrs {
		payloadLen += len(a)
	}

	var total = nlmsghdrLen + payloadLen
	var buf = make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(total)) //nolint:gosec
	binary.LittleEndian.PutUint16(buf[4:6], family)
	binary.LittleEndian.PutUint16(buf[6:8], flags|unix.NLM_F_REQUEST)
	binary.LittleEndian.PutUint32(buf[8:12], s.seq.Add(1))
	binary.LittleEndian.PutUint32(buf[12:16], s.pid)

	buf[16] = cmd
	buf[17] = 1 // genl version

	var off = nlmsghdrLen + genlmsghdrLen
	for _, a := range attrs {
		copy(buf[off:], a)
		off += len(a)
	}

	return buf
}

func (s *socket) send(msg []byte) error {
	var sa = &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pad: 0, Pid: 0, Groups: 0} //nolint:exhaustruct

	if err := unix.Sendto(s.fd, msg, 0, sa); err != nil {
		return fmt.Errorf("nl80211: sendto: %w", err)
	}

	return nil
}

// recvOne reads one datagram, applying the given read timeout (0 = block
// indefinitely). It returns the genl command, its attribute payload, and
// the message's own nlmsghdr.Type (the resolved family id for responses, or
// a control value for errors/done markers).
func (s *socket) recvOne(timeout time.Duration) (hdr nlmsghdr, cmd uint8, attrs []byte, err error) {
	if timeout > 0 {
		var tv = unix.NsecToTimeval(timeout.Nanoseconds())
		if setErr := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); setErr != nil {
			return hdr, 0, nil, fmt.Errorf("nl80211: set rcvtimeo: %w", setErr)
		}
	}

	var buf = make([]byte, 1<<16)

	var n, _, recvErr = unix.Recvfrom(s.fd, buf, 0)
	if recvErr != nil {
		return hdr, 0, nil, fmt.Errorf("nl80211: recvfrom: %w", recvErr)
	}

	if n < nlmsghdrLen {
		return hdr, 0, nil, fmt.Errorf("nl80211: short message (%d bytes)", n)
	}

	hdr = nlmsghdr{
		Len:   binary.LittleEndian.Uint32(buf[0:4]),
		Type:  binary.LittleEndian.Uint16(buf[4:6]),
		Flags: binary.LittleEndian.Uint16(buf[6:8]),
		Seq:   binary.LittleEndian.Uint32(buf[8:12]),
		Pid:   binary.LittleEndian.Uint32(buf[12:16]),
	}

	if hdr.Type == unix.NLMSG_ERROR {
		if n < nlmsghdrLen+4 {
			return hdr, 0, nil, fmt.Errorf("nl80211: truncated NLMSG_ERROR")
		}

		var errno = int32(binary.LittleEndian.Uint32(buf[16:20])) //nolint:gosec
		if errno != 0 {
			return hdr, 0, nil, fmt.Errorf("nl80211: netlink error %d", -errno)
		}

		return hdr, 0, nil, nil
	}

	if n < nlmsghdrLen+genlmsghdrLen {
		return hdr, 0, nil, fmt.Errorf("nl80211: truncated genlmsghdr")
	}

	cmd = buf[nlmsghdrLen]
	attrs = buf[nlmsghdrLen+genlmsghdrLen : int(hdr.Len)]

	return hdr, cmd, attrs, nil
}
