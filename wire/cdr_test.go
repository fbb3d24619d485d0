package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializedPayloadRoundTrip(t *testing.T) {
	cases := []RepresentationIdentifier{
		ReprCDRBigEndian, ReprCDRLittleEndian, ReprPLCDRBigEndian, ReprPLCDRLittleEndian,
	}
	for _, repr := range cases {
		p := SerializedPayload{Representation: repr, Data: []byte{1, 2, 3, 4, 5}}
		encoded := EncodeSerializedPayload(p)
		decoded, err := DecodeSerializedPayload(encoded)
		require.NoError(t, err)
		assert.Equal(t, p.Representation, decoded.Representation)
		assert.Equal(t, p.Data, decoded.Data)
	}
}

func TestRepresentationEndian(t *testing.T) {
	assert.Equal(t, LittleEndian, ReprCDRLittleEndian.Endian())
	assert.Equal(t, LittleEndian, ReprPLCDRLittleEndian.Endian())
	assert.Equal(t, BigEndian, ReprCDRBigEndian.Endian())
	assert.Equal(t, BigEndian, ReprPLCDRBigEndian.Endian())
}

func TestIsParameterList(t *testing.T) {
	assert.True(t, ReprPLCDRBigEndian.IsParameterList())
	assert.True(t, ReprPLCDRLittleEndian.IsParameterList())
	assert.False(t, ReprCDRBigEndian.IsParameterList())
}

func TestDecodeSerializedPayloadTooShort(t *testing.T) {
	_, err := DecodeSerializedPayload([]byte{0, 1})
	assert.Error(t, err)
}
