// Package raw implements the duplex link layer spec.md §6 requires: an
// AF_PACKET raw socket bound to a single network interface, sending and
// receiving full Ethernet II frames carrying the EtherCAT EtherType. It
// replaces the teacher's ll/udp multicast framer, which depended on the
// unfetchable code.google.com/p/go.net/ipv4 and spoke UDP rather than the
// raw L2 link the spec calls for.
package raw

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/distributed/ecat/ecfr"
)

const readBufLen = int(ecfr.MaxFrameLen)

// Socket is a duplex AF_PACKET raw socket implementing ecfr.Socket, so
// ecfr.Frame.WriteThenRead and ecbus's link pipeline can drive it
// directly without knowing it is Linux-specific.
type Socket struct {
	fd      int
	iface   *net.Interface
	deadline time.Duration
}

// NewSocket opens and binds a raw socket on the named interface, filtered
// to the EtherCAT EtherType so the kernel never hands this process traffic
// from unrelated protocols sharing the link.
func NewSocket(ifaceName string) (*Socket, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("ll/raw: interface %q: %w", ifaceName, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(ecfr.EtherCATEtherType)))
	if err != nil {
		return nil, fmt.Errorf("ll/raw: socket: %w", err)
	}

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(ecfr.EtherCATEtherType),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ll/raw: bind: %w", err)
	}

	return &Socket{fd: fd, iface: iface}, nil
}

// HardwareAddr is the interface's own MAC, for callers that want to stamp
// PRIMARY_IF_MAC from the real adapter rather than the sentinel default.
func (s *Socket) HardwareAddr() net.HardwareAddr { return s.iface.HardwareAddr }

func (s *Socket) Write(b []byte) (int, error) {
	n, err := unix.Write(s.fd, b)
	if err != nil {
		return n, fmt.Errorf("ll/raw: write: %w", err)
	}
	return n, nil
}

func (s *Socket) Read(b []byte) (int, error) {
	n, err := unix.Read(s.fd, b)
	if err != nil {
		return n, fmt.Errorf("ll/raw: read: %w", err)
	}
	return n, nil
}

// SetTimeout bounds subsequent Read calls; per spec §5 a pending
// write_then_read completes or fails with this socket timeout.
func (s *Socket) SetTimeout(d time.Duration) error {
	s.deadline = d
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("ll/raw: setsockopt SO_RCVTIMEO: %w", err)
	}
	return nil
}

func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// htons converts a uint16 from host to network byte order; AF_PACKET's
// sll_protocol and the socket() protocol argument are both big endian
// regardless of host endianness.
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}
