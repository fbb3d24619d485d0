package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/history"
	"github.com/rtpsmw/rtpsmw/rtpsreader"
	"github.com/rtpsmw/rtpsmw/rtpswriter"
)

func newTestRegistry() *Registry {
	return NewRegistry(guid.NewPrefix())
}

func TestCreateDataWriterRequiresRegisteredPublisher(t *testing.T) {
	r := newTestRegistry()
	other := &Publisher{GUID: guid.GUID{}}
	_, err := r.CreateDataWriter(other, Topic{Name: "t"}, guid.EntityKindWriterWithKey, rtpswriter.Reliable, history.DefaultLimits, rtpswriter.DefaultMaxBlockingTime)
	assert.Error(t, err)
}

func TestCreateAndLookUpDataWriter(t *testing.T) {
	r := newTestRegistry()
	pub := r.CreatePublisher()
	dw, err := r.CreateDataWriter(pub, Topic{Name: "square"}, guid.EntityKindWriterWithKey, rtpswriter.Reliable, history.DefaultLimits, rtpswriter.DefaultMaxBlockingTime)
	require.NoError(t, err)

	got, ok := r.Writer(dw.GUID)
	require.True(t, ok)
	assert.Same(t, dw, got)
	assert.Len(t, r.Writers(), 1)
}

func TestDataWriterMatchReaderRoundTrip(t *testing.T) {
	r := newTestRegistry()
	pub := r.CreatePublisher()
	dw, err := r.CreateDataWriter(pub, Topic{Name: "t"}, guid.EntityKindWriterWithKey, rtpswriter.Reliable, history.DefaultLimits, rtpswriter.DefaultMaxBlockingTime)
	require.NoError(t, err)

	readerGUID := guid.GUID{EntityID: guid.NewEntityID(9, guid.EntityKindReaderWithKey)}
	rp := rtpswriter.NewReaderProxy(rtpswriter.Reliable, 0, nil)
	dw.MatchReader(readerGUID, rp)

	got, ok := dw.Proxy(readerGUID)
	require.True(t, ok)
	assert.Same(t, rp, got)
	assert.Len(t, dw.Proxies(), 1)

	dw.UnmatchReader(readerGUID)
	_, ok = dw.Proxy(readerGUID)
	assert.False(t, ok)
}

func TestDataReaderMatchWriterRoundTrip(t *testing.T) {
	r := newTestRegistry()
	sub := r.CreateSubscriber()
	dr, err := r.CreateDataReader(sub, Topic{Name: "t", Kind: WithKey})
	require.NoError(t, err)

	writerGUID := guid.GUID{EntityID: guid.NewEntityID(3, guid.EntityKindWriterWithKey)}
	wp := rtpsreader.NewWriterProxy(rtpsreader.Reliable, history.DefaultLimits, nil)
	dr.MatchWriter(writerGUID, wp)

	proxies := dr.Proxies()
	require.Len(t, proxies, 1)
	assert.Same(t, wp, proxies[writerGUID])

	dr.UnmatchWriter(writerGUID)
	assert.Empty(t, dr.Proxies())
}

func TestDestroyDataWriterRemovesFromPublisher(t *testing.T) {
	r := newTestRegistry()
	pub := r.CreatePublisher()
	dw, err := r.CreateDataWriter(pub, Topic{Name: "t"}, guid.EntityKindWriterWithKey, rtpswriter.BestEffort, history.DefaultLimits, 0)
	require.NoError(t, err)

	r.DestroyDataWriter(dw.GUID)
	_, ok := r.Writer(dw.GUID)
	assert.False(t, ok)
	assert.Empty(t, pub.writers)
}
