package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/seqnum"
)

func TestHeartbeatRoundTrip(t *testing.T) {
	hb := Heartbeat{
		ReaderID: guid.EntityIDUnknown,
		WriterID: guid.NewEntityID(2, guid.EntityKindWriterWithKey),
		FirstSN:  1,
		LastSN:   10,
		Count:    3,
		Final:    true,
	}
	for _, endian := range []Endian{BigEndian, LittleEndian} {
		sm := EncodeHeartbeat(hb, endian)
		flags := sm[1]
		decoded, err := DecodeHeartbeat(sm[4:], endian, flags)
		require.NoError(t, err)
		assert.Equal(t, hb.WriterID, decoded.WriterID)
		assert.Equal(t, hb.FirstSN, decoded.FirstSN)
		assert.Equal(t, hb.LastSN, decoded.LastSN)
		assert.Equal(t, hb.Count, decoded.Count)
		assert.True(t, decoded.Final)
	}
}

func TestAckNackRoundTripWithMissingSet(t *testing.T) {
	set, err := seqnum.NewSet(5, []seqnum.SequenceNumber{5, 7, 9})
	require.NoError(t, err)
	an := AckNack{
		ReaderID:    guid.NewEntityID(1, guid.EntityKindReaderWithKey),
		WriterID:    guid.EntityIDUnknown,
		ReaderSNSet: set,
		Count:       4,
		Final:       true,
	}
	sm := EncodeAckNack(an, LittleEndian)
	decoded, err := DecodeAckNack(sm[4:], LittleEndian, sm[1])
	require.NoError(t, err)
	assert.Equal(t, an.ReaderID, decoded.ReaderID)
	assert.Equal(t, an.Count, decoded.Count)
	assert.Equal(t, set.Members(), decoded.ReaderSNSet.Members())
}

func TestGapRoundTrip(t *testing.T) {
	set, err := seqnum.NewSet(10, []seqnum.SequenceNumber{10, 11})
	require.NoError(t, err)
	g := Gap{
		ReaderID: guid.EntityIDUnknown,
		WriterID: guid.NewEntityID(3, guid.EntityKindWriterNoKey),
		GapStart: 10,
		GapList:  set,
	}
	sm := EncodeGap(g, BigEndian)
	decoded, err := DecodeGap(sm[4:], BigEndian)
	require.NoError(t, err)
	assert.Equal(t, g.WriterID, decoded.WriterID)
	assert.Equal(t, g.GapStart, decoded.GapStart)
	assert.Equal(t, set.Members(), decoded.GapList.Members())
}

func TestInfoTSInvalidateSkipsBody(t *testing.T) {
	sm := EncodeInfoTS(InfoTS{Invalidate: true}, BigEndian)
	decoded, err := DecodeInfoTS(sm[4:], BigEndian, sm[1])
	require.NoError(t, err)
	assert.True(t, decoded.Invalidate)
}

func TestInfoDstRoundTrip(t *testing.T) {
	d := InfoDst{GuidPrefix: guid.NewPrefix()}
	sm := EncodeInfoDst(d, BigEndian)
	decoded, err := DecodeInfoDst(sm[4:])
	require.NoError(t, err)
	assert.Equal(t, d.GuidPrefix, decoded.GuidPrefix)
}
