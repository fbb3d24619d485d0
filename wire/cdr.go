package wire

import "fmt"

// RepresentationIdentifier selects the payload encoding, per spec.md §4.1/§6:
// CDR_* for user data, PL_CDR_* for discovery parameter lists.
type RepresentationIdentifier uint16

const (
	ReprCDRBigEndian     RepresentationIdentifier = 0x0000
	ReprCDRLittleEndian  RepresentationIdentifier = 0x0001
	ReprPLCDRBigEndian   RepresentationIdentifier = 0x0002
	ReprPLCDRLittleEndian RepresentationIdentifier = 0x0003
)

func (r RepresentationIdentifier) Endian() Endian {
	switch r {
	case ReprCDRLittleEndian, ReprPLCDRLittleEndian:
		return LittleEndian
	default:
		return BigEndian
	}
}

func (r RepresentationIdentifier) IsParameterList() bool {
	return r == ReprPLCDRBigEndian || r == ReprPLCDRLittleEndian
}

// SerializedPayload is the opaque octet sequence carried by DATA/DATA_FRAG:
// a 4-byte (representation id + options) header followed by the encoded
// sample.
type SerializedPayload struct {
	Representation RepresentationIdentifier
	Data           []byte
}

func EncodeSerializedPayload(p SerializedPayload) []byte {
	w := NewWriter(BigEndian)
	w.WriteUint16(uint16(p.Representation))
	w.WriteUint16(0) // options, unused
	w.WriteBytes(p.Data)
	return w.Bytes()
}

func DecodeSerializedPayload(data []byte) (SerializedPayload, error) {
	if len(data) < 4 {
		return SerializedPayload{}, fmt.Errorf("wire: serialized payload header needs 4 bytes, got %d", len(data))
	}
	r := NewReader(data, BigEndian)
	repr, _ := r.ReadUint16()
	if _, err := r.ReadUint16(); err != nil { // options
		return SerializedPayload{}, err
	}
	return SerializedPayload{
		Representation: RepresentationIdentifier(repr),
		Data:           data[4:],
	}, nil
}
