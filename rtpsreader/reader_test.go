package rtpsreader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmw/rtpsmw/history"
	"github.com/rtpsmw/rtpsmw/seqnum"
)

func TestReceiveDataInOrderDelivers(t *testing.T) {
	wp := NewWriterProxy(Reliable, history.DefaultLimits, nil)
	now := time.Now()
	wp.ReceiveData(history.CacheChange{SN: 1}, now)
	wp.ReceiveData(history.CacheChange{SN: 2}, now)

	ready := wp.Cache().TakeReady()
	assert.Len(t, ready, 2)
}

func TestReceiveDataOutOfOrderTracksMissing(t *testing.T) {
	wp := NewWriterProxy(Reliable, history.DefaultLimits, nil)
	now := time.Now()
	wp.ReceiveData(history.CacheChange{SN: 3}, now)

	result, due := wp.ReceiveHeartbeat(1, 3, 1, false, now)
	require.True(t, due)
	assert.True(t, result.ShouldSchedule)
	members := result.Missing.Members()
	assert.Contains(t, members, seqnum.SequenceNumber(1))
	assert.Contains(t, members, seqnum.SequenceNumber(2))
}

func TestBestEffortNeverRedelivers(t *testing.T) {
	wp := NewWriterProxy(BestEffort, history.DefaultLimits, nil)
	now := time.Now()
	wp.ReceiveData(history.CacheChange{SN: 5}, now)
	wp.ReceiveData(history.CacheChange{SN: 5}, now) // duplicate, ignored

	ready := wp.Cache().TakeReadyBestEffort()
	assert.Len(t, ready, 1)
}

func TestHeartbeatFinalWithNothingMissingNeedsNoAckNack(t *testing.T) {
	wp := NewWriterProxy(Reliable, history.DefaultLimits, nil)
	now := time.Now()
	wp.ReceiveData(history.CacheChange{SN: 1}, now)

	_, due := wp.ReceiveHeartbeat(1, 1, 1, true, now)
	assert.False(t, due)
}

func TestReceiveHeartbeatIgnoresStaleCount(t *testing.T) {
	wp := NewWriterProxy(Reliable, history.DefaultLimits, nil)
	now := time.Now()
	_, due := wp.ReceiveHeartbeat(1, 5, 3, false, now)
	require.True(t, due)

	_, due = wp.ReceiveHeartbeat(1, 5, 2, false, now) // stale count, must be ignored
	assert.False(t, due)
}

func TestReceiveGapMarksIrrelevant(t *testing.T) {
	wp := NewWriterProxy(Reliable, history.DefaultLimits, nil)
	now := time.Now()
	wp.ReceiveData(history.CacheChange{SN: 1}, now)
	require.Len(t, wp.Cache().TakeReady(), 1)

	gapSet, err := seqnum.NewSet(2, []seqnum.SequenceNumber{2, 3})
	require.NoError(t, err)
	wp.ReceiveGap(2, gapSet, now)

	wp.ReceiveData(history.CacheChange{SN: 4}, now)
	ready := wp.Cache().TakeReady()
	require.Len(t, ready, 1) // SN 4 now contiguous: 2 and 3 were GAPed irrelevant
	assert.Equal(t, seqnum.SequenceNumber(4), ready[0].SN)
}

func TestPendingAckNackRespectsCoalesceWindow(t *testing.T) {
	wp := NewWriterProxy(Reliable, history.DefaultLimits, nil)
	now := time.Now()
	wp.ReceiveHeartbeat(1, 3, 1, false, now)

	_, _, due := wp.PendingAckNack(now)
	assert.False(t, due, "must wait out the coalescing window")

	_, count, due := wp.PendingAckNack(now.Add(AckNackCoalesceWindow + time.Millisecond))
	assert.True(t, due)
	assert.Equal(t, int32(1), count)
}
