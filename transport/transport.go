// Package transport wraps UDP unicast/multicast sockets, adapted from the
// teacher's Server.listen/Server.Start net.ListenUDP/ReadFromUDP/WriteToUDP
// handling in source/server/server.go, generalized to join multicast
// groups for SPDP and to hand datagrams to a caller-supplied handler
// instead of a hardcoded RakNet dispatcher.
package transport

import (
	"fmt"
	"net"

	"github.com/rtpsmw/rtpsmw/locator"
	"github.com/rtpsmw/rtpsmw/rtpserrors"
)

// MaxDatagramSize matches the teacher's read buffer upper bound but sized
// to the default UDP MTU spec.md §5 calls out for packet coalescing.
const MaxDatagramSize = 65536

// Socket owns one UDP connection (unicast bind, optionally joined to a
// multicast group for receive).
type Socket struct {
	conn  *net.UDPConn
	local locator.Locator
}

// Bind opens a unicast UDP socket on the given port, on all interfaces.
func Bind(port int) (*Socket, error) {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, rtpserrors.New(rtpserrors.KindTransport, "transport.Bind", err)
	}
	return &Socket{conn: conn, local: locator.FromUDPAddr(conn.LocalAddr().(*net.UDPAddr))}, nil
}

// JoinMulticast opens a UDP socket bound to the given multicast group/port
// and joins the group on every usable interface, for SPDP reception.
func JoinMulticast(group net.IP, port int) (*Socket, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, rtpserrors.New(rtpserrors.KindTransport, "transport.JoinMulticast", err)
	}
	conn, err := net.ListenMulticastUDP("udp", nil, &net.UDPAddr{IP: group, Port: port})
	if err != nil {
		return nil, rtpserrors.New(rtpserrors.KindTransport, "transport.JoinMulticast", err)
	}
	// net.ListenMulticastUDP already joins the group on every multicast-
	// capable interface when ifi is nil; ifaces is kept only in case a
	// future caller wants to restrict to Config.Interface.
	_ = ifaces
	return &Socket{conn: conn, local: locator.FromUDPAddr(&net.UDPAddr{IP: group, Port: port})}, nil
}

// Local returns the locator this socket is bound to.
func (s *Socket) Local() locator.Locator { return s.local }

func (s *Socket) Close() error { return s.conn.Close() }

// SetReadBuffer/SetWriteBuffer size the kernel socket buffers; RTPS
// participants with many matched endpoints benefit from larger buffers
// than the OS default, mirroring the teacher's fixed 2048-byte read
// buffer sizing decision but made configurable.
func (s *Socket) SetReadBuffer(bytes int) error  { return s.conn.SetReadBuffer(bytes) }
func (s *Socket) SetWriteBuffer(bytes int) error { return s.conn.SetWriteBuffer(bytes) }

// ReadFrom blocks for one datagram, returning its bytes and source
// locator. Adapted from the teacher's listen() ReadFromUDP call; unlike
// the teacher, this has no internal goroutine or loop — the reactor owns
// the read loop and calls this once per iteration.
func (s *Socket) ReadFrom(buf []byte) (int, locator.Locator, error) {
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, locator.Locator{}, rtpserrors.New(rtpserrors.KindTransport, "transport.ReadFrom", err)
	}
	return n, locator.FromUDPAddr(addr), nil
}

// WriteTo sends one datagram to dst. Per spec.md §7, Transport failures on
// send are the caller's responsibility to log and retry on the next pass;
// WriteTo itself never retries.
func (s *Socket) WriteTo(data []byte, dst locator.Locator) error {
	_, err := s.conn.WriteToUDP(data, dst.UDPAddr())
	if err != nil {
		return rtpserrors.New(rtpserrors.KindTransport, "transport.WriteTo", err)
	}
	return nil
}

// WriteToMany sends the same datagram to several destinations, coalescing
// submessages bound for different locators is the caller's job (spec.md
// §5 packing rule); this just fans a single already-packed datagram out.
func (s *Socket) WriteToMany(data []byte, dsts []locator.Locator) error {
	var firstErr error
	for _, d := range dsts {
		if err := s.WriteTo(data, d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("transport: one or more sends failed: %w", firstErr)
	}
	return nil
}
