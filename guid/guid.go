// Package guid implements RTPS GUIDs: a 12-byte participant prefix plus a
// 4-byte entity id, and the well-known entity ids used by the built-in
// discovery endpoints.
package guid

import (
	"fmt"

	"github.com/google/uuid"
)

// PrefixLength and EntityIDLength are fixed by the RTPS wire format.
const (
	PrefixLength   = 12
	EntityIDLength = 4
	Length         = PrefixLength + EntityIDLength
)

// Prefix is the participant-unique portion of a GUID.
type Prefix [PrefixLength]byte

func (p Prefix) String() string {
	return fmt.Sprintf("%x", [PrefixLength]byte(p))
}

// Compare gives the lexicographic ordering spec.md requires for
// deterministic tie-breaking (handshake initiator selection, etc).
func (p Prefix) Compare(other Prefix) int {
	for i := range p {
		if p[i] != other[i] {
			if p[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// NewPrefix generates a fresh, globally-unique participant prefix. We lean
// on google/uuid's random source rather than rolling our own crypto/rand
// plumbing: we keep the first 12 bytes of a v4 UUID, which are random apart
// from the fixed version bits in byte 6 and variant bits in byte 8.
func NewPrefix() Prefix {
	id := uuid.New()
	var p Prefix
	copy(p[:], id[:PrefixLength])
	return p
}

// EntityKind enumerates the byte that tags an EntityID's role, per the RTPS
// specification's well-known entity kind values.
type EntityKind byte

const (
	EntityKindParticipant        EntityKind = 0xC1
	EntityKindWriterWithKey      EntityKind = 0x02
	EntityKindWriterNoKey        EntityKind = 0x03
	EntityKindReaderNoKey        EntityKind = 0x04
	EntityKindReaderWithKey      EntityKind = 0x07
	EntityKindWriterWithKeyBI    EntityKind = 0xC2
	EntityKindWriterNoKeyBI      EntityKind = 0xC3
	EntityKindReaderNoKeyBI      EntityKind = 0xC4
	EntityKindReaderWithKeyBI    EntityKind = 0xC7
	EntityKindUnknown            EntityKind = 0x00
)

// EntityID is the 4-byte (entity-key[3] | entity-kind[1]) suffix of a GUID.
type EntityID [EntityIDLength]byte

func (e EntityID) Kind() EntityKind { return EntityKind(e[3]) }

// NewEntityID builds an EntityID from a 24-bit key and a kind byte.
func NewEntityID(key uint32, kind EntityKind) EntityID {
	var e EntityID
	e[0] = byte(key >> 16)
	e[1] = byte(key >> 8)
	e[2] = byte(key)
	e[3] = byte(kind)
	return e
}

// Well-known built-in entity ids (spec.md §6).
var (
	EntityIDUnknown = EntityID{0, 0, 0, 0}
	// ENTITYID_PARTICIPANT
	EntityIDParticipant = EntityID{0, 0, 0x01, byte(EntityKindParticipant)}

	EntityIDSPDPBuiltinParticipantWriter = EntityID{0, 0x01, 0x00, 0xC2}
	EntityIDSPDPBuiltinParticipantReader = EntityID{0, 0x01, 0x00, 0xC7}

	EntityIDSEDPBuiltinPublicationsWriter  = EntityID{0, 0, 0x03, 0xC2}
	EntityIDSEDPBuiltinPublicationsReader  = EntityID{0, 0, 0x03, 0xC7}
	EntityIDSEDPBuiltinSubscriptionsWriter = EntityID{0, 0, 0x04, 0xC2}
	EntityIDSEDPBuiltinSubscriptionsReader = EntityID{0, 0, 0x04, 0xC7}

	// ENTITYID_P2P_BUILTIN_PARTICIPANT_STATELESS_MESSAGE_WRITER/READER
	// (DDS-Security spec table 99): carry the PKI-DH handshake request/
	// reply/final tokens of spec.md §4.7 as ordinary best-effort DATA.
	EntityIDP2PBuiltinParticipantStatelessMessageWriter = EntityID{0, 0x02, 0x00, 0xC3}
	EntityIDP2PBuiltinParticipantStatelessMessageReader = EntityID{0, 0x02, 0x00, 0xC4}
)

// GUID identifies an RTPS entity globally: prefix + entity id.
type GUID struct {
	Prefix   Prefix
	EntityID EntityID
}

func New(prefix Prefix, entityID EntityID) GUID {
	return GUID{Prefix: prefix, EntityID: entityID}
}

func (g GUID) String() string {
	return fmt.Sprintf("%s:%x", g.Prefix, [EntityIDLength]byte(g.EntityID))
}

// Compare orders GUIDs lexicographically: prefix first, then entity id.
// Used for the handshake-initiator and other deterministic tie-breaks in
// spec.md §4.6/§4.7.
func (g GUID) Compare(other GUID) int {
	if c := g.Prefix.Compare(other.Prefix); c != 0 {
		return c
	}
	for i := range g.EntityID {
		if g.EntityID[i] != other.EntityID[i] {
			if g.EntityID[i] < other.EntityID[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Bytes renders the GUID as its 16-byte wire representation.
func (g GUID) Bytes() [Length]byte {
	var out [Length]byte
	copy(out[:PrefixLength], g.Prefix[:])
	copy(out[PrefixLength:], g.EntityID[:])
	return out
}

// FromBytes parses a 16-byte wire GUID.
func FromBytes(b []byte) (GUID, error) {
	if len(b) < Length {
		return GUID{}, fmt.Errorf("guid: need %d bytes, got %d", Length, len(b))
	}
	var g GUID
	copy(g.Prefix[:], b[:PrefixLength])
	copy(g.EntityID[:], b[PrefixLength:Length])
	return g, nil
}
