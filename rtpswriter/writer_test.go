package rtpswriter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/history"
	"github.com/rtpsmw/rtpsmw/seqnum"
)

func TestWriteFansOutToMatchedProxies(t *testing.T) {
	w := NewWriter(Reliable, history.DefaultLimits, DefaultMaxBlockingTime)
	rp1 := NewReaderProxy(Reliable, 0, nil)
	rp2 := NewReaderProxy(Reliable, 0, nil)
	w.Match(rp1)
	w.Match(rp2)

	change, err := w.Write([16]byte{}, history.Alive, []byte("x"), time.Now(), guid.GUID{})
	require.NoError(t, err)

	assert.Equal(t, []seqnum.SequenceNumber{change.SN}, rp1.DrainUnsent())
	assert.Equal(t, []seqnum.SequenceNumber{change.SN}, rp2.DrainUnsent())
}

func TestDueHeartbeatBestEffortNeverFires(t *testing.T) {
	rp := NewReaderProxy(BestEffort, 0, nil)
	count, due := rp.DueHeartbeat(time.Now().Add(time.Hour), true)
	assert.False(t, due)
	assert.Zero(t, count)
}

func TestDueHeartbeatFiresAfterPeriod(t *testing.T) {
	rp := NewReaderProxy(Reliable, 0, nil)
	now := time.Now()
	count, due := rp.DueHeartbeat(now.Add(DefaultHeartbeatPeriod+time.Millisecond), true)
	require.True(t, due)
	assert.Equal(t, int32(1), count)
}

func TestReceiveAckNackRequestsMissingAndGapsPurged(t *testing.T) {
	w := NewWriter(Reliable, history.DefaultLimits, DefaultMaxBlockingTime)
	rp := NewReaderProxy(Reliable, 0, nil)
	w.Match(rp)

	for i := 0; i < 3; i++ {
		_, err := w.Write([16]byte{}, history.Alive, []byte("x"), time.Now(), guid.GUID{})
		require.NoError(t, err)
	}
	rp.DrainUnsent()

	w.Cache().RemoveAckedUpTo(1) // SN 1 purged from the cache

	gapSNs, err := rp.ReceiveAckNack(1, []seqnum.SequenceNumber{1, 2, 3}, 1, w.Cache())
	require.NoError(t, err)
	assert.Contains(t, gapSNs, seqnum.SequenceNumber(1))
	assert.NotContains(t, gapSNs, seqnum.SequenceNumber(2))

	requested := rp.DrainRequested()
	assert.Contains(t, requested, seqnum.SequenceNumber(2))
	assert.Contains(t, requested, seqnum.SequenceNumber(3))
}

func TestReceiveAckNackIgnoresStaleCount(t *testing.T) {
	w := NewWriter(Reliable, history.DefaultLimits, DefaultMaxBlockingTime)
	rp := NewReaderProxy(Reliable, 0, nil)
	w.Match(rp)

	_, err := rp.ReceiveAckNack(1, nil, 5, w.Cache())
	require.NoError(t, err)
	gapSNs, err := rp.ReceiveAckNack(1, []seqnum.SequenceNumber{1}, 3, w.Cache())
	require.NoError(t, err)
	assert.Empty(t, gapSNs, "stale/duplicate ACKNACK count must be ignored")
}
