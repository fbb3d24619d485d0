package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterListRoundTrip(t *testing.T) {
	pl := ParameterList{
		{ID: PIDTopicName, Value: EncodeStringParameter("square")},
		{ID: PIDKeyHash, Value: make([]byte, 16)},
	}
	for _, endian := range []Endian{BigEndian, LittleEndian} {
		encoded := EncodeParameterList(pl, endian)
		decoded, err := DecodeParameterList(encoded, endian)
		require.NoError(t, err)
		require.Len(t, decoded, len(pl))
		for i := range pl {
			assert.Equal(t, pl[i].ID, decoded[i].ID)
			// Decoded values keep the zero pad up to the 4-byte boundary.
			want := append(append([]byte{}, pl[i].Value...), make([]byte, (4-len(pl[i].Value)%4)%4)...)
			assert.Equal(t, want, decoded[i].Value)
		}
	}
}

func TestParameterListGet(t *testing.T) {
	pl := ParameterList{{ID: PIDTypeName, Value: []byte("Type")}}
	v, ok := pl.Get(PIDTypeName)
	assert.True(t, ok)
	assert.Equal(t, []byte("Type"), v)

	_, ok = pl.Get(PIDDurability)
	assert.False(t, ok)
}

func TestDecodeParameterListStopsAtSentinel(t *testing.T) {
	pl := ParameterList{{ID: PIDTopicName, Value: []byte("abcd")}}
	encoded := EncodeParameterList(pl, BigEndian)
	// Append trailing garbage after the sentinel; decode must ignore it.
	encoded = append(encoded, 0xFF, 0xFF, 0xFF, 0xFF)
	decoded, err := DecodeParameterList(encoded, BigEndian)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, PIDTopicName, decoded[0].ID)
}

func TestDecodeParameterListTruncated(t *testing.T) {
	_, err := DecodeParameterList([]byte{0x00, 0x05}, BigEndian)
	assert.Error(t, err)
}

func TestStringParameterRoundTrip(t *testing.T) {
	encoded := EncodeStringParameter("publisher-topic")
	decoded, err := DecodeStringParameter(encoded)
	require.NoError(t, err)
	assert.Equal(t, "publisher-topic", decoded)
}

func TestParameterIDString(t *testing.T) {
	assert.Equal(t, "PID_TOPIC_NAME", PIDTopicName.String())
	assert.Contains(t, ParameterID(0x1234).String(), "0x1234")
}
