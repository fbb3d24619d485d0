package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/seqnum"
)

func testHeader() Header {
	return Header{Version: CurrentProtocolVersion, Vendor: OurVendorID, GuidPrefix: guid.NewPrefix()}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := testHeader()
	encoded := EncodeHeader(h)
	require.Len(t, encoded, HeaderLength)
	decoded, err := DecodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	h := testHeader()
	encoded := EncodeHeader(h)
	encoded[0] = 'X'
	_, err := DecodeHeader(encoded)
	assert.Error(t, err)
}

func TestDecodeHeaderRejectsUnsupportedVersion(t *testing.T) {
	h := testHeader()
	h.Version = ProtocolVersion{Major: 1, Minor: 0}
	encoded := EncodeHeader(h)
	_, err := DecodeHeader(encoded)
	assert.Error(t, err)
}

func TestMessageRoundTripData(t *testing.T) {
	h := testHeader()
	data := Data{
		ReaderID: guid.EntityIDUnknown,
		WriterID: guid.NewEntityID(1, guid.EntityKindWriterWithKey),
		WriterSN: seqnum.First,
		Payload:  &SerializedPayload{Representation: ReprCDRLittleEndian, Data: []byte("payload")},
	}
	sm := EncodeData(data, LittleEndian)
	out := EncodeMessage(h, []EncodedSubmessage{sm})

	msg, err := DecodeMessage(out)
	require.NoError(t, err)
	assert.Equal(t, h, msg.Header)
	require.Len(t, msg.Submessages, 1)
	assert.Equal(t, KindData, msg.Submessages[0].Header.Kind)

	decodedData, err := DecodeData(msg.Submessages[0].Body, LittleEndian, msg.Submessages[0].Header.Flags)
	require.NoError(t, err)
	assert.Equal(t, data.WriterID, decodedData.WriterID)
	assert.Equal(t, data.WriterSN, decodedData.WriterSN)
	assert.Equal(t, data.Payload.Data, decodedData.Payload.Data)
}

func TestMessageTrailingBytesDropped(t *testing.T) {
	h := testHeader()
	out := EncodeMessage(h, nil)
	out = append(out, 0x01) // shorter than a submessage header
	msg, err := DecodeMessage(out)
	require.NoError(t, err)
	assert.Empty(t, msg.Submessages)
}

func TestMessageRejectsOversizedContentLength(t *testing.T) {
	h := testHeader()
	out := EncodeHeader(h)
	out = append(out, byte(KindData), 0, 0xFF, 0xFF) // claims 64KB of body with none present
	_, err := DecodeMessage(out)
	assert.Error(t, err)
}
