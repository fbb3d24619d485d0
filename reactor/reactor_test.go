package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmw/rtpsmw/discovery"
	"github.com/rtpsmw/rtpsmw/entity"
	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/history"
	"github.com/rtpsmw/rtpsmw/rtpserrors"
	"github.com/rtpsmw/rtpsmw/rtpsreader"
	"github.com/rtpsmw/rtpsmw/rtpslog"
	"github.com/rtpsmw/rtpsmw/rtpswriter"
	"github.com/rtpsmw/rtpsmw/seqnum"
	"github.com/rtpsmw/rtpsmw/wire"
)

func newTestReactor(t *testing.T) (*Reactor, guid.Prefix, *entity.Registry) {
	t.Helper()
	prefix := guid.NewPrefix()
	registry := entity.NewRegistry(prefix)
	local := discovery.ParticipantBuiltinData{GuidPrefix: prefix}
	r := New(prefix, 0, Sockets{}, registry, local, nil, nil, rtpslog.Nop())
	return r, prefix, registry
}

func encodeDataDatagram(t *testing.T, srcPrefix guid.Prefix, d wire.Data) []byte {
	t.Helper()
	header := wire.Header{Version: wire.CurrentProtocolVersion, Vendor: wire.OurVendorID, GuidPrefix: srcPrefix}
	sm := wire.EncodeData(d, wire.LittleEndian)
	return wire.EncodeMessage(header, []wire.EncodedSubmessage{sm})
}

func TestHandleDatagramDeliversDataToMatchedWriterProxy(t *testing.T) {
	r, _, registry := newTestReactor(t)
	remotePrefix := guid.NewPrefix()

	sub := registry.CreateSubscriber()
	dr, err := registry.CreateDataReader(sub, entity.Topic{Name: "square"})
	require.NoError(t, err)

	writerGUID := guid.GUID{Prefix: remotePrefix, EntityID: guid.NewEntityID(1, guid.EntityKindWriterWithKey)}
	wp := rtpsreader.NewWriterProxy(rtpsreader.Reliable, history.DefaultLimits, nil)
	dr.MatchWriter(writerGUID, wp)

	data := wire.Data{
		ReaderID: dr.GUID.EntityID,
		WriterID: writerGUID.EntityID,
		WriterSN: seqnum.First,
		Payload:  &wire.SerializedPayload{Representation: wire.ReprCDRLittleEndian, Data: []byte("hello")},
	}
	r.handleDatagram(inboundDatagram{data: encodeDataDatagram(t, remotePrefix, data)})

	ready := wp.Cache().TakeReady()
	require.Len(t, ready, 1)
	assert.Equal(t, []byte("hello"), ready[0].Payload)
}

func TestMatchedReadersResolvesSpecificReaderID(t *testing.T) {
	r, _, registry := newTestReactor(t)
	remotePrefix := guid.NewPrefix()
	writerGUID := guid.GUID{Prefix: remotePrefix, EntityID: guid.NewEntityID(1, guid.EntityKindWriterWithKey)}

	sub := registry.CreateSubscriber()
	dr, err := registry.CreateDataReader(sub, entity.Topic{Name: "t"})
	require.NoError(t, err)
	dr.MatchWriter(writerGUID, rtpsreader.NewWriterProxy(rtpsreader.Reliable, history.DefaultLimits, nil))

	out := r.matchedReaders(dr.GUID.EntityID, writerGUID)
	require.Len(t, out, 1)
	assert.Same(t, dr, out[0])

	assert.Empty(t, r.matchedReaders(guid.NewEntityID(99, guid.EntityKindReaderWithKey), writerGUID))
}

func TestMatchedReadersResolvesUnknownReaderIDToAllMatched(t *testing.T) {
	r, _, registry := newTestReactor(t)
	remotePrefix := guid.NewPrefix()
	writerGUID := guid.GUID{Prefix: remotePrefix, EntityID: guid.NewEntityID(1, guid.EntityKindWriterWithKey)}

	sub := registry.CreateSubscriber()
	dr1, err := registry.CreateDataReader(sub, entity.Topic{Name: "t"})
	require.NoError(t, err)
	dr2, err := registry.CreateDataReader(sub, entity.Topic{Name: "t"})
	require.NoError(t, err)
	dr1.MatchWriter(writerGUID, rtpsreader.NewWriterProxy(rtpsreader.Reliable, history.DefaultLimits, nil))
	dr2.MatchWriter(writerGUID, rtpsreader.NewWriterProxy(rtpsreader.Reliable, history.DefaultLimits, nil))

	out := r.matchedReaders(guid.EntityIDUnknown, writerGUID)
	assert.Len(t, out, 2)
}

func TestHandleAckNackRequestsRetransmission(t *testing.T) {
	r, prefix, registry := newTestReactor(t)
	remotePrefix := guid.NewPrefix()

	pub := registry.CreatePublisher()
	dw, err := registry.CreateDataWriter(pub, entity.Topic{Name: "t"}, guid.EntityKindWriterWithKey, rtpswriter.Reliable, history.DefaultLimits, rtpswriter.DefaultMaxBlockingTime)
	require.NoError(t, err)

	readerGUID := guid.GUID{Prefix: remotePrefix, EntityID: guid.NewEntityID(2, guid.EntityKindReaderWithKey)}
	rp := rtpswriter.NewReaderProxy(rtpswriter.Reliable, 0, nil)
	dw.MatchReader(readerGUID, rp)

	_, err = dw.Core().Write([16]byte{}, history.Alive, []byte("x"), time.Now(), guid.GUID{Prefix: prefix, EntityID: dw.GUID.EntityID})
	require.NoError(t, err)
	rp.DrainUnsent()

	an := wire.AckNack{ReaderID: readerGUID.EntityID, WriterID: dw.GUID.EntityID, ReaderSNSet: mustSet(t, 1, []seqnum.SequenceNumber{1}), Count: 1}
	r.handleAckNack(remotePrefix, an)

	assert.Contains(t, rp.DrainRequested(), seqnum.SequenceNumber(1))
}

func TestOnParticipantLostUnmatchesEndpointsForThatPrefix(t *testing.T) {
	r, _, registry := newTestReactor(t)
	lostPrefix := guid.NewPrefix()

	sub := registry.CreateSubscriber()
	dr, err := registry.CreateDataReader(sub, entity.Topic{Name: "t"})
	require.NoError(t, err)
	writerGUID := guid.GUID{Prefix: lostPrefix, EntityID: guid.NewEntityID(1, guid.EntityKindWriterWithKey)}
	dr.MatchWriter(writerGUID, rtpsreader.NewWriterProxy(rtpsreader.Reliable, history.DefaultLimits, nil))

	r.onParticipantLost(lostPrefix)

	_, ok := dr.Proxy(writerGUID)
	assert.False(t, ok)
	ev, ok := r.status.PollRecv()
	require.True(t, ok)
	assert.Equal(t, lostPrefix, ev.Entity.Prefix)
}

func TestChangeKindFromData(t *testing.T) {
	assert.Equal(t, history.Alive, changeKindFromData(wire.Data{KeyOnly: false}))
	assert.Equal(t, history.NotAliveDisposed, changeKindFromData(wire.Data{KeyOnly: true}))
}

func TestSendHeartbeatBoundsFromWriterCacheNotFromProxyAck(t *testing.T) {
	r, prefix, registry := newTestReactor(t)
	pub := registry.CreatePublisher()
	dw, err := registry.CreateDataWriter(pub, entity.Topic{Name: "t"}, guid.EntityKindWriterWithKey, rtpswriter.Reliable, history.Limits{HistoryKind: history.KeepAll}, rtpswriter.DefaultMaxBlockingTime)
	require.NoError(t, err)

	readerGUID := guid.GUID{Prefix: guid.NewPrefix(), EntityID: guid.NewEntityID(2, guid.EntityKindReaderWithKey)}
	rp := rtpswriter.NewReaderProxy(rtpswriter.Reliable, 0, nil)
	dw.MatchReader(readerGUID, rp)

	for i := 0; i < 3; i++ {
		_, err := dw.Core().Write([16]byte{}, history.Alive, []byte("x"), time.Now(), guid.GUID{Prefix: prefix, EntityID: dw.GUID.EntityID})
		require.NoError(t, err)
	}
	rp.DrainUnsent()

	// Before fixing, FirstSN/LastSN were sourced from rp.AckedUpTo(), which
	// is still 0 here because no ACKNACK has ever arrived; a writer with
	// unacknowledged samples must still advertise them in its HEARTBEAT.
	r.sendHeartbeat(dw, rp, 1, true)

	assert.Equal(t, seqnum.SequenceNumber(3), dw.Core().Cache().HighestSN())
	low, ok := dw.Core().Cache().LowestSN()
	require.True(t, ok)
	assert.Equal(t, seqnum.SequenceNumber(1), low)
}

func TestFireWriterTimersReclaimsOnlyUpToSlowestReliableReader(t *testing.T) {
	r, prefix, registry := newTestReactor(t)
	pub := registry.CreatePublisher()
	dw, err := registry.CreateDataWriter(pub, entity.Topic{Name: "t"}, guid.EntityKindWriterWithKey, rtpswriter.Reliable, history.Limits{HistoryKind: history.KeepAll}, rtpswriter.DefaultMaxBlockingTime)
	require.NoError(t, err)

	fastReader := guid.GUID{Prefix: guid.NewPrefix(), EntityID: guid.NewEntityID(2, guid.EntityKindReaderWithKey)}
	slowReader := guid.GUID{Prefix: guid.NewPrefix(), EntityID: guid.NewEntityID(3, guid.EntityKindReaderWithKey)}
	fastProxy := rtpswriter.NewReaderProxy(rtpswriter.Reliable, 0, nil)
	slowProxy := rtpswriter.NewReaderProxy(rtpswriter.Reliable, 0, nil)
	dw.MatchReader(fastReader, fastProxy)
	dw.MatchReader(slowReader, slowProxy)

	for i := 0; i < 3; i++ {
		_, err := dw.Core().Write([16]byte{}, history.Alive, []byte("x"), time.Now(), guid.GUID{Prefix: prefix, EntityID: dw.GUID.EntityID})
		require.NoError(t, err)
	}
	fastProxy.DrainUnsent()
	slowProxy.DrainUnsent()

	_, err = fastProxy.ReceiveAckNack(4, nil, 1, dw.Core().Cache())
	require.NoError(t, err)
	_, err = slowProxy.ReceiveAckNack(2, nil, 1, dw.Core().Cache())
	require.NoError(t, err)

	r.fireWriterTimers(dw, time.Now())

	low, ok := dw.Core().Cache().LowestSN()
	require.True(t, ok)
	assert.Equal(t, seqnum.SequenceNumber(2), low, "reclaim must stop at the slowest matched reliable reader's ack")
}

func TestRetryPendingWritesTimesOutAfterDeadline(t *testing.T) {
	r, prefix, registry := newTestReactor(t)
	pub := registry.CreatePublisher()
	dw, err := registry.CreateDataWriter(pub, entity.Topic{Name: "t"}, guid.EntityKindWriterWithKey, rtpswriter.Reliable, history.Limits{HistoryKind: history.KeepAll, MaxSamples: 1}, time.Millisecond)
	require.NoError(t, err)

	_, err = dw.Core().Write([16]byte{}, history.Alive, []byte("x"), time.Now(), guid.GUID{Prefix: prefix, EntityID: dw.GUID.EntityID})
	require.NoError(t, err)

	done := make(chan error, 1)
	cmdWriteSample{writer: dw.GUID, payload: []byte("y"), done: done}.apply(r)
	require.Len(t, r.pendingWrites, 1, "a full RELIABLE KEEP_ALL cache must suspend the write, not fail it inline")

	r.retryPendingWrites(r.pendingWrites[0].deadline.Add(time.Millisecond))

	select {
	case err := <-done:
		assert.True(t, rtpserrors.Is(err, rtpserrors.KindTimeout))
	default:
		t.Fatal("expected retryPendingWrites to resolve the timed-out write")
	}
	assert.Empty(t, r.pendingWrites)
}

func TestRetryPendingWritesSucceedsOnceCacheDrains(t *testing.T) {
	r, prefix, registry := newTestReactor(t)
	pub := registry.CreatePublisher()
	dw, err := registry.CreateDataWriter(pub, entity.Topic{Name: "t"}, guid.EntityKindWriterWithKey, rtpswriter.Reliable, history.Limits{HistoryKind: history.KeepAll, MaxSamples: 1}, time.Second)
	require.NoError(t, err)

	_, err = dw.Core().Write([16]byte{}, history.Alive, []byte("x"), time.Now(), guid.GUID{Prefix: prefix, EntityID: dw.GUID.EntityID})
	require.NoError(t, err)

	done := make(chan error, 1)
	cmdWriteSample{writer: dw.GUID, payload: []byte("y"), done: done}.apply(r)
	require.Len(t, r.pendingWrites, 1)

	dw.Core().Cache().RemoveAckedUpTo(1)
	r.retryPendingWrites(time.Now())

	select {
	case err := <-done:
		assert.NoError(t, err)
	default:
		t.Fatal("expected retryPendingWrites to resolve the write once the cache had room")
	}
	assert.Empty(t, r.pendingWrites)
}

func mustSet(t *testing.T, base seqnum.SequenceNumber, members []seqnum.SequenceNumber) seqnum.Set {
	t.Helper()
	s, err := seqnum.NewSet(base, members)
	require.NoError(t, err)
	return s
}
