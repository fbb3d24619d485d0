package wire

import (
	"fmt"

	"github.com/rtpsmw/rtpsmw/guid"
)

// Magic is the fixed 4-byte RTPS message preamble (spec.md §6).
var Magic = [4]byte{'R', 'T', 'P', 'S'}

// ProtocolVersion is a (major, minor) pair. We advertise 2.3 and accept any
// 2.x >= 2.1 per spec.md §6.
type ProtocolVersion struct {
	Major, Minor byte
}

var CurrentProtocolVersion = ProtocolVersion{Major: 2, Minor: 3}

func (v ProtocolVersion) Supported() bool {
	return v.Major == 2 && v.Minor >= 1
}

// VendorID identifies the implementation that produced a message.
type VendorID [2]byte

// OurVendorID is this implementation's 2-byte vendor identifier.
var OurVendorID = VendorID{0x01, 0xFF}

// HeaderLength is the fixed size of the RTPS message header.
const HeaderLength = 20

// Header is the 20-byte preamble of every RTPS message.
type Header struct {
	Version    ProtocolVersion
	Vendor     VendorID
	GuidPrefix guid.Prefix
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, 0, HeaderLength)
	buf = append(buf, Magic[:]...)
	buf = append(buf, h.Version.Major, h.Version.Minor)
	buf = append(buf, h.Vendor[0], h.Vendor[1])
	buf = append(buf, h.GuidPrefix[:]...)
	return buf
}

// DecodeHeader parses and validates the RTPS message header. Magic mismatch
// and unsupported protocol versions are rejected, per spec.md §4.1/§6.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderLength {
		return Header{}, fmt.Errorf("wire: header needs %d bytes, got %d", HeaderLength, len(data))
	}
	if data[0] != Magic[0] || data[1] != Magic[1] || data[2] != Magic[2] || data[3] != Magic[3] {
		return Header{}, fmt.Errorf("wire: bad magic %q", data[:4])
	}
	h := Header{
		Version: ProtocolVersion{Major: data[4], Minor: data[5]},
		Vendor:  VendorID{data[6], data[7]},
	}
	if !h.Version.Supported() {
		return Header{}, fmt.Errorf("wire: unsupported protocol version %d.%d", h.Version.Major, h.Version.Minor)
	}
	copy(h.GuidPrefix[:], data[8:20])
	return h, nil
}
