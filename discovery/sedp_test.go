package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmw/rtpsmw/guid"
)

func testEndpoint(entityNum uint32, kind guid.EntityKind, topic string, reliable bool) EndpointBuiltinData {
	d := EndpointBuiltinData{
		GUID:      guid.GUID{Prefix: guid.NewPrefix(), EntityID: guid.NewEntityID(entityNum, kind)},
		TopicName: topic,
		TypeName:  "Square",
	}
	if reliable {
		d.QoS.Reliability = Reliable
	}
	return d
}

func TestEndpointBuiltinDataParameterListRoundTrip(t *testing.T) {
	d := testEndpoint(1, guid.EntityKindWriterWithKey, "square", true)
	d.QoS.Durability = TransientLocal
	pl := d.ToParameterList()

	got, ok := EndpointBuiltinDataFromParameterList(pl)
	require.True(t, ok)
	assert.Equal(t, d.GUID, got.GUID)
	assert.Equal(t, d.TopicName, got.TopicName)
	assert.Equal(t, d.TypeName, got.TypeName)
	assert.Equal(t, Reliable, got.QoS.Reliability)
	assert.Equal(t, TransientLocal, got.QoS.Durability)
}

func TestCompatibleRejectsTopicMismatch(t *testing.T) {
	w := testEndpoint(1, guid.EntityKindWriterWithKey, "square", true)
	r := testEndpoint(2, guid.EntityKindReaderWithKey, "circle", true)
	assert.False(t, Compatible(w, r, true))
}

func TestCompatibleRejectsReliableReaderWithBestEffortWriter(t *testing.T) {
	w := testEndpoint(1, guid.EntityKindWriterWithKey, "square", false)
	r := testEndpoint(2, guid.EntityKindReaderWithKey, "square", true)
	assert.False(t, Compatible(w, r, true))
}

func TestCompatibleRequiresAuthenticationWhenEitherSideDemandsSecurity(t *testing.T) {
	w := testEndpoint(1, guid.EntityKindWriterWithKey, "square", true)
	w.QoS.RequiresSecurity = true
	r := testEndpoint(2, guid.EntityKindReaderWithKey, "square", true)
	assert.False(t, Compatible(w, r, false))
	assert.True(t, Compatible(w, r, true))
}

func TestRegisterLocalWriterMatchesExistingRemoteSubscription(t *testing.T) {
	s := NewSEDP()
	r := testEndpoint(2, guid.EntityKindReaderWithKey, "square", true)
	require.Empty(t, s.ReceiveRemoteSubscription(r))

	w := testEndpoint(1, guid.EntityKindWriterWithKey, "square", true)
	matches := s.RegisterLocalWriter(w)
	require.Len(t, matches, 1)
	assert.Equal(t, w.GUID, matches[0].Writer.GUID)
	assert.Equal(t, r.GUID, matches[0].Reader.GUID)
}

func TestReceiveRemotePublicationMatchesLocalSubscription(t *testing.T) {
	s := NewSEDP()
	r := testEndpoint(2, guid.EntityKindReaderWithKey, "square", true)
	require.Empty(t, s.RegisterLocalReader(r))

	w := testEndpoint(1, guid.EntityKindWriterWithKey, "square", true)
	matches := s.ReceiveRemotePublication(w)
	require.Len(t, matches, 1)
	assert.Equal(t, w.GUID, matches[0].Writer.GUID)
}

func TestUnmatchParticipantRemovesAllItsEndpoints(t *testing.T) {
	s := NewSEDP()
	w := testEndpoint(1, guid.EntityKindWriterWithKey, "square", true)
	s.ReceiveRemotePublication(w)

	s.UnmatchParticipant(w.GUID.Prefix)

	r := testEndpoint(2, guid.EntityKindReaderWithKey, "square", true)
	assert.Empty(t, s.RegisterLocalReader(r))
}
