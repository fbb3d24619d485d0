package guid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixCompare(t *testing.T) {
	var a, b Prefix
	a[0], b[0] = 1, 2
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestNewPrefixUnique(t *testing.T) {
	p1 := NewPrefix()
	p2 := NewPrefix()
	assert.NotEqual(t, p1, p2, "two generated prefixes collided")
}

func TestEntityIDRoundTrip(t *testing.T) {
	id := NewEntityID(0x112233, EntityKindWriterWithKey)
	assert.Equal(t, EntityKindWriterWithKey, id.Kind())
	assert.Equal(t, byte(0x11), id[0])
	assert.Equal(t, byte(0x22), id[1])
	assert.Equal(t, byte(0x33), id[2])
}

func TestGUIDBytesRoundTrip(t *testing.T) {
	g := GUID{Prefix: NewPrefix(), EntityID: NewEntityID(7, EntityKindReaderWithKey)}
	b := g.Bytes()
	got, err := FromBytes(b[:])
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func TestFromBytesTooShort(t *testing.T) {
	_, err := FromBytes(make([]byte, Length-1))
	assert.Error(t, err)
}

func TestGUIDCompareOrdersByPrefixThenEntityID(t *testing.T) {
	var lo, hi Prefix
	hi[0] = 1
	g1 := GUID{Prefix: lo, EntityID: EntityIDParticipant}
	g2 := GUID{Prefix: hi, EntityID: EntityIDParticipant}
	assert.Equal(t, -1, g1.Compare(g2))

	sameOne := GUID{Prefix: lo, EntityID: NewEntityID(1, EntityKindWriterNoKey)}
	sameTwo := GUID{Prefix: lo, EntityID: NewEntityID(2, EntityKindWriterNoKey)}
	assert.Equal(t, -1, sameOne.Compare(sameTwo))
}

func TestWellKnownEntityIDsAreBuiltin(t *testing.T) {
	for _, id := range []EntityID{
		EntityIDSPDPBuiltinParticipantWriter,
		EntityIDSPDPBuiltinParticipantReader,
		EntityIDSEDPBuiltinPublicationsWriter,
		EntityIDSEDPBuiltinPublicationsReader,
		EntityIDSEDPBuiltinSubscriptionsWriter,
		EntityIDSEDPBuiltinSubscriptionsReader,
	} {
		assert.Equal(t, byte(0xC0), byte(id.Kind())&0xC0, "entity id %v not tagged built-in", id)
	}
}
