// Package locator computes RTPS well-known UDP ports and represents
// Locator_t addresses (spec.md §6), adapted from the teacher's
// Session.Addr/BitStream.Address handling in source/protocol/raknet.go.
package locator

import (
	"fmt"
	"net"
)

// Kind distinguishes the address family/transport of a Locator, per the
// RTPS Locator_t discriminant.
type Kind int32

const (
	KindInvalid  Kind = 0
	KindUDPv4    Kind = 1
	KindUDPv6    Kind = 2
)

// Locator is the RTPS Locator_t: a transport kind, port, and 16-byte
// address (an IPv4 address occupies the last 4 bytes; the first 12 are zero).
type Locator struct {
	Kind Kind
	Port uint32
	Addr [16]byte
}

func (l Locator) IP() net.IP {
	if l.Kind == KindUDPv4 {
		return net.IPv4(l.Addr[12], l.Addr[13], l.Addr[14], l.Addr[15])
	}
	addr := l.Addr
	return net.IP(addr[:])
}

func (l Locator) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: l.IP(), Port: int(l.Port)}
}

func (l Locator) String() string {
	return fmt.Sprintf("%s:%d", l.IP(), l.Port)
}

func FromUDPAddr(addr *net.UDPAddr) Locator {
	var loc Locator
	loc.Port = uint32(addr.Port)
	if v4 := addr.IP.To4(); v4 != nil {
		loc.Kind = KindUDPv4
		copy(loc.Addr[12:], v4)
	} else {
		loc.Kind = KindUDPv6
		copy(loc.Addr[:], addr.IP.To16())
	}
	return loc
}

// PortParams are the PB/DG/PG/d0..d3 constants from spec.md §6. Defaults
// match the RTPS standard PSM.
type PortParams struct {
	PB, DG, PG     int
	D0, D1, D2, D3 int
}

var DefaultPortParams = PortParams{PB: 7400, DG: 250, PG: 2, D0: 0, D1: 10, D2: 1, D3: 11}

// SPDPMulticastPort is the well-known multicast discovery port for a domain.
func (p PortParams) SPDPMulticastPort(domainID int) int {
	return p.PB + p.DG*domainID + p.D0
}

// SPDPUnicastPort is the well-known unicast discovery port for a
// (domain, participant) pair.
func (p PortParams) SPDPUnicastPort(domainID, participantID int) int {
	return p.PB + p.DG*domainID + p.D1 + p.PG*participantID
}

// UserMulticastPort is the well-known multicast port for user traffic.
func (p PortParams) UserMulticastPort(domainID int) int {
	return p.PB + p.DG*domainID + p.D2
}

// UserUnicastPort is the well-known unicast port for user traffic for a
// given participant within a domain.
func (p PortParams) UserUnicastPort(domainID, participantID int) int {
	return p.PB + p.DG*domainID + p.D3 + p.PG*participantID
}

// DefaultSPDPMulticastLocator is the locator participants announce on and
// listen to for SPDP, for the given domain, on all configured multicast
// groups (typically just 239.255.0.1).
func DefaultSPDPMulticastLocator(domainID int, group net.IP) Locator {
	loc := FromUDPAddr(&net.UDPAddr{IP: group, Port: DefaultPortParams.SPDPMulticastPort(domainID)})
	return loc
}

// LocalUnicastLocators enumerates this host's non-loopback IPv4 interface
// addresses as Locators bound to the given port, adapted from the
// teacher's use of net.Interfaces-style enumeration in server startup.
func LocalUnicastLocators(port int) ([]Locator, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("locator: enumerate interfaces: %w", err)
	}
	var out []Locator
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		v4 := ipNet.IP.To4()
		if v4 == nil {
			continue
		}
		out = append(out, FromUDPAddr(&net.UDPAddr{IP: v4, Port: port}))
	}
	return out, nil
}

// Encode/Decode below serialize a Locator to/from the 24-byte RTPS wire
// form (kind:int32, port:uint32, address:[16]byte), used by the wire
// package's parameter-list codec for PID_*_LOCATOR parameters.

const WireSize = 24

func (l Locator) Encode() []byte {
	buf := make([]byte, WireSize)
	putInt32BE(buf[0:4], int32(l.Kind))
	putUint32BE(buf[4:8], l.Port)
	copy(buf[8:24], l.Addr[:])
	return buf
}

func Decode(buf []byte) (Locator, error) {
	if len(buf) < WireSize {
		return Locator{}, fmt.Errorf("locator: need %d bytes, got %d", WireSize, len(buf))
	}
	var l Locator
	l.Kind = Kind(int32BE(buf[0:4]))
	l.Port = uint32BE(buf[4:8])
	copy(l.Addr[:], buf[8:24])
	return l, nil
}

func putInt32BE(b []byte, v int32)  { putUint32BE(b, uint32(v)) }
func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
func int32BE(b []byte) int32   { return int32(uint32BE(b)) }
func uint32BE(b []byte) uint32 { return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]) }
