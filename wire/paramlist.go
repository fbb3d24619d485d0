package wire

import "fmt"

// ParameterID identifies one field of a PL_CDR discovery payload (spec.md
// §6). Values match the OMG RTPS standard parameter ids so this codec stays
// wire-compatible with other vendors' discovery traffic.
type ParameterID uint16

const (
	PIDPad                         ParameterID = 0x0000
	PIDSentinel                    ParameterID = 0x0001
	PIDParticipantLeaseDuration    ParameterID = 0x0002
	PIDTopicName                   ParameterID = 0x0005
	PIDTypeName                    ParameterID = 0x0007
	PIDProtocolVersion             ParameterID = 0x0015
	PIDVendorID                    ParameterID = 0x0016
	PIDReliability                 ParameterID = 0x001A
	PIDLiveliness                  ParameterID = 0x001B
	PIDDurability                  ParameterID = 0x001D
	PIDOwnership                   ParameterID = 0x001F
	PIDDeadline                    ParameterID = 0x0023
	PIDUnicastLocator              ParameterID = 0x002F
	PIDMulticastLocator            ParameterID = 0x0030
	PIDDefaultUnicastLocator       ParameterID = 0x0031
	PIDMetatrafficUnicastLocator   ParameterID = 0x0032
	PIDMetatrafficMulticastLocator ParameterID = 0x0033
	PIDDefaultMulticastLocator     ParameterID = 0x0048
	PIDParticipantGUID             ParameterID = 0x0050
	PIDGroupGUID                   ParameterID = 0x0052
	PIDBuiltinEndpointSet          ParameterID = 0x0058
	PIDEndpointGUID                ParameterID = 0x005A
	PIDKeyHash                     ParameterID = 0x0070
	PIDStatusInfo                  ParameterID = 0x0071

	// Vendor-specific range (0x8000-0xBFFF per the RTPS standard), used to
	// carry this engine's PKI-DH handshake tokens (spec.md §4.7) as
	// ordinary parameter lists rather than a bespoke submessage kind.
	PIDHandshakeKind            ParameterID = 0x8001 // one byte: 0=request, 1=reply, 2=final
	PIDIdentityCertPEM          ParameterID = 0x8002
	PIDPermissionsDoc           ParameterID = 0x8003
	PIDHandshakeParticipantData ParameterID = 0x8004
	PIDSignatureAlgo            ParameterID = 0x8005
	PIDKeyAgreeAlgo             ParameterID = 0x8006 // one byte: KeyAgreementAlgo
	PIDChallenge1               ParameterID = 0x8007
	PIDChallenge2               ParameterID = 0x8008
	PIDDH1                      ParameterID = 0x8009
	PIDDH2                      ParameterID = 0x800A
	PIDHashC1                   ParameterID = 0x800B
	PIDHashC2                   ParameterID = 0x800C
	PIDHandshakeSignature       ParameterID = 0x800D
)

func (p ParameterID) String() string {
	switch p {
	case PIDPad:
		return "PID_PAD"
	case PIDSentinel:
		return "PID_SENTINEL"
	case PIDParticipantLeaseDuration:
		return "PID_PARTICIPANT_LEASE_DURATION"
	case PIDTopicName:
		return "PID_TOPIC_NAME"
	case PIDTypeName:
		return "PID_TYPE_NAME"
	case PIDProtocolVersion:
		return "PID_PROTOCOL_VERSION"
	case PIDVendorID:
		return "PID_VENDOR_ID"
	case PIDReliability:
		return "PID_RELIABILITY"
	case PIDLiveliness:
		return "PID_LIVELINESS"
	case PIDDurability:
		return "PID_DURABILITY"
	case PIDOwnership:
		return "PID_OWNERSHIP"
	case PIDDeadline:
		return "PID_DEADLINE"
	case PIDUnicastLocator:
		return "PID_UNICAST_LOCATOR"
	case PIDMulticastLocator:
		return "PID_MULTICAST_LOCATOR"
	case PIDDefaultUnicastLocator:
		return "PID_DEFAULT_UNICAST_LOCATOR"
	case PIDMetatrafficUnicastLocator:
		return "PID_METATRAFFIC_UNICAST_LOCATOR"
	case PIDMetatrafficMulticastLocator:
		return "PID_METATRAFFIC_MULTICAST_LOCATOR"
	case PIDDefaultMulticastLocator:
		return "PID_DEFAULT_MULTICAST_LOCATOR"
	case PIDParticipantGUID:
		return "PID_PARTICIPANT_GUID"
	case PIDGroupGUID:
		return "PID_GROUP_GUID"
	case PIDBuiltinEndpointSet:
		return "PID_BUILTIN_ENDPOINT_SET"
	case PIDEndpointGUID:
		return "PID_ENDPOINT_GUID"
	case PIDKeyHash:
		return "PID_KEY_HASH"
	case PIDStatusInfo:
		return "PID_STATUS_INFO"
	case PIDHandshakeKind:
		return "PID_HANDSHAKE_KIND"
	case PIDIdentityCertPEM:
		return "PID_IDENTITY_CERT_PEM"
	case PIDPermissionsDoc:
		return "PID_PERMISSIONS_DOC"
	case PIDHandshakeParticipantData:
		return "PID_HANDSHAKE_PARTICIPANT_DATA"
	case PIDSignatureAlgo:
		return "PID_SIGNATURE_ALGO"
	case PIDKeyAgreeAlgo:
		return "PID_KEY_AGREE_ALGO"
	case PIDChallenge1:
		return "PID_CHALLENGE1"
	case PIDChallenge2:
		return "PID_CHALLENGE2"
	case PIDDH1:
		return "PID_DH1"
	case PIDDH2:
		return "PID_DH2"
	case PIDHashC1:
		return "PID_HASH_C1"
	case PIDHashC2:
		return "PID_HASH_C2"
	case PIDHandshakeSignature:
		return "PID_HANDSHAKE_SIGNATURE"
	default:
		return fmt.Sprintf("PID(0x%04X)", uint16(p))
	}
}

// Parameter is one (id, value) entry of a parameter list. Value never
// includes the 4-byte id+length header; a decoded Value keeps the trailing
// zero pad up to the 4-byte boundary, since the length field counts it.
type Parameter struct {
	ID    ParameterID
	Value []byte
}

// ParameterList is a decoded PL_CDR payload body, as carried in SPDP/SEDP
// discovery DATA samples (spec.md §6). Unknown parameter ids are preserved
// verbatim so a participant can republish what it doesn't understand,
// matching the RTPS "ignore unknown, don't drop" discovery rule.
type ParameterList []Parameter

// Get returns the first parameter with the given id.
func (pl ParameterList) Get(id ParameterID) ([]byte, bool) {
	for _, p := range pl {
		if p.ID == id {
			return p.Value, true
		}
	}
	return nil, false
}

// DecodeParameterList parses a raw parameter-list byte slice, as produced by
// decodeRawParameterList or found directly in an SPDP/SEDP DATA payload
// (after the 4-byte CDR representation header).
func DecodeParameterList(data []byte, endian Endian) (ParameterList, error) {
	r := NewReader(data, endian)
	var pl ParameterList
	for {
		if r.Remaining() < 4 {
			return nil, fmt.Errorf("wire: truncated parameter list header")
		}
		idRaw, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		length, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		id := ParameterID(idRaw)
		if id == PIDSentinel {
			break
		}
		value, err := r.ReadBytes(int(length))
		if err != nil {
			return nil, fmt.Errorf("wire: parameter %s: %w", id, err)
		}
		if id != PIDPad {
			pl = append(pl, Parameter{ID: id, Value: value})
		}
	}
	return pl, nil
}

// EncodeParameterList serializes a parameter list, padding every value to a
// 4-byte boundary and terminating with PID_SENTINEL, per CDR alignment
// rules.
func EncodeParameterList(pl ParameterList, endian Endian) []byte {
	w := NewWriter(endian)
	for _, p := range pl {
		w.WriteUint16(uint16(p.ID))
		padded := (len(p.Value) + 3) &^ 3
		w.WriteUint16(uint16(padded))
		w.WriteBytes(p.Value)
		for i := len(p.Value); i < padded; i++ {
			w.WriteByte(0)
		}
	}
	w.WriteUint16(uint16(PIDSentinel))
	w.WriteUint16(0)
	return w.Bytes()
}

// EncodeStringParameter encodes a CDR string value (length-prefixed,
// NUL-terminated) as a parameter's Value.
func EncodeStringParameter(s string) []byte {
	w := NewWriter(BigEndian)
	w.WriteString(s)
	return w.Bytes()
}

// DecodeStringParameter decodes a parameter Value previously produced by
// EncodeStringParameter.
func DecodeStringParameter(value []byte) (string, error) {
	r := NewReader(value, BigEndian)
	return r.ReadString()
}
