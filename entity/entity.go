// Package entity implements the participant-owned entity registry
// (spec.md §3 "Participant"/"Topic", §5 "Entity registry: protected by a
// single participant-wide mutex taken briefly for create/destroy"),
// grounded on the teacher's Server struct in source/server/server.go
// (which owns Players under a single sync.RWMutex) generalized from one
// flat map to the Participant -> Publisher/Subscriber -> Endpoint tree
// RTPS requires.
package entity

import (
	"fmt"
	"sync"
	"time"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/history"
	"github.com/rtpsmw/rtpsmw/rtpsreader"
	"github.com/rtpsmw/rtpsmw/rtpswriter"
)

// TopicKind distinguishes keyed from unkeyed topics (spec.md §3).
type TopicKind int

const (
	WithKey TopicKind = iota
	NoKey
)

// Topic is a referential (name, type, kind) tuple; it owns no messages.
type Topic struct {
	Name     string
	TypeName string
	Kind     TopicKind
}

// DataWriter is the engine-facing handle a Publisher hands to the
// application-facing wrapper (out of scope per spec.md §1) to drive.
type DataWriter struct {
	GUID  guid.GUID
	Topic Topic
	core  *rtpswriter.Writer

	mu      sync.Mutex
	proxies map[guid.GUID]*rtpswriter.ReaderProxy
}

func (w *DataWriter) Core() *rtpswriter.Writer { return w.core }

// MatchReader/UnmatchReader/Proxy/Proxies mirror DataReader's writer-proxy
// bookkeeping, symmetrically: a writer needs to resolve an inbound ACKNACK's
// remote reader GUID back to the rtpswriter.ReaderProxy SEDP matched it to.
func (w *DataWriter) MatchReader(readerGUID guid.GUID, proxy *rtpswriter.ReaderProxy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.proxies[readerGUID] = proxy
	w.core.Match(proxy)
}

func (w *DataWriter) UnmatchReader(readerGUID guid.GUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.proxies[readerGUID]; ok {
		w.core.Unmatch(p)
		delete(w.proxies, readerGUID)
	}
}

func (w *DataWriter) Proxy(readerGUID guid.GUID) (*rtpswriter.ReaderProxy, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.proxies[readerGUID]
	return p, ok
}

func (w *DataWriter) Proxies() map[guid.GUID]*rtpswriter.ReaderProxy {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[guid.GUID]*rtpswriter.ReaderProxy, len(w.proxies))
	for g, p := range w.proxies {
		out[g] = p
	}
	return out
}

// DataReader is the reader-side equivalent; its WriterProxies are
// allocated per matched remote writer (not here — by the reactor's
// onMatch when SEDP reports a match).
type DataReader struct {
	GUID      guid.GUID
	Topic     Topic
	mu        sync.Mutex
	proxies   map[guid.GUID]*rtpsreader.WriterProxy
}

func (r *DataReader) MatchWriter(writerGUID guid.GUID, proxy *rtpsreader.WriterProxy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxies[writerGUID] = proxy
}

func (r *DataReader) UnmatchWriter(writerGUID guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proxies, writerGUID)
}

func (r *DataReader) Proxy(writerGUID guid.GUID) (*rtpsreader.WriterProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[writerGUID]
	return p, ok
}

// Proxies returns a snapshot of all matched writer-proxies keyed by the
// remote writer's GUID, for the reactor's per-tick ACKNACK/fragment-GC
// sweep and for resolving an inbound submessage's writer id back to its
// proxy.
func (r *DataReader) Proxies() map[guid.GUID]*rtpsreader.WriterProxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[guid.GUID]*rtpsreader.WriterProxy, len(r.proxies))
	for g, p := range r.proxies {
		out[g] = p
	}
	return out
}

// Publisher and Subscriber are thin owning groups; RTPS itself matches at
// the endpoint level, so these exist only to satisfy spec.md §3's
// ownership tree and QoS-group defaults (out of scope beyond that).
type Publisher struct {
	GUID    guid.GUID
	writers map[guid.GUID]*DataWriter
}

type Subscriber struct {
	GUID    guid.GUID
	readers map[guid.GUID]*DataReader
}

// Registry is the single participant-wide entity table: protected by one
// mutex, taken briefly for create/destroy (spec.md §5).
type Registry struct {
	mu sync.Mutex

	participantGUID guid.GUID
	nextEntityKey   uint32

	publishers  map[guid.GUID]*Publisher
	subscribers map[guid.GUID]*Subscriber
	writers     map[guid.GUID]*DataWriter
	readers     map[guid.GUID]*DataReader
}

func NewRegistry(prefix guid.Prefix) *Registry {
	return &Registry{
		participantGUID: guid.GUID{Prefix: prefix, EntityID: guid.EntityIDParticipant},
		nextEntityKey:   1,
		publishers:      make(map[guid.GUID]*Publisher),
		subscribers:     make(map[guid.GUID]*Subscriber),
		writers:         make(map[guid.GUID]*DataWriter),
		readers:         make(map[guid.GUID]*DataReader),
	}
}

func (r *Registry) ParticipantGUID() guid.GUID { return r.participantGUID }

// allocEntityID assigns the next unused entity key for the given kind.
// Caller holds r.mu.
func (r *Registry) allocEntityID(kind guid.EntityKind) guid.EntityID {
	key := r.nextEntityKey
	r.nextEntityKey++
	return guid.NewEntityID(key, kind)
}

func (r *Registry) CreatePublisher() *Publisher {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.allocEntityID(guid.EntityKindWriterNoKey)
	g := guid.GUID{Prefix: r.participantGUID.Prefix, EntityID: id}
	p := &Publisher{GUID: g, writers: make(map[guid.GUID]*DataWriter)}
	r.publishers[g] = p
	return p
}

func (r *Registry) CreateSubscriber() *Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.allocEntityID(guid.EntityKindReaderNoKey)
	g := guid.GUID{Prefix: r.participantGUID.Prefix, EntityID: id}
	s := &Subscriber{GUID: g, readers: make(map[guid.GUID]*DataReader)}
	r.subscribers[g] = s
	return s
}

// CreateDataWriter allocates a GUID for a new writer endpoint and wires up
// its HistoryCache-backed state machine. maxBlockingTime bounds a RELIABLE
// writer's async_write suspension when the cache is full (spec.md §4.5);
// it is ignored for BEST_EFFORT, which never blocks.
func (r *Registry) CreateDataWriter(pub *Publisher, topic Topic, kind guid.EntityKind, reliability rtpswriter.ReliabilityKind, limits history.Limits, maxBlockingTime time.Duration) (*DataWriter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.publishers[pub.GUID]; !ok {
		return nil, fmt.Errorf("entity: publisher %s not registered", pub.GUID)
	}
	id := r.allocEntityID(kind)
	g := guid.GUID{Prefix: r.participantGUID.Prefix, EntityID: id}
	dw := &DataWriter{GUID: g, Topic: topic, core: rtpswriter.NewWriter(reliability, limits, maxBlockingTime), proxies: make(map[guid.GUID]*rtpswriter.ReaderProxy)}
	r.writers[g] = dw
	pub.writers[g] = dw
	return dw, nil
}

// CreateDataReader allocates a GUID for a new reader endpoint.
func (r *Registry) CreateDataReader(sub *Subscriber, topic Topic) (*DataReader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[sub.GUID]; !ok {
		return nil, fmt.Errorf("entity: subscriber %s not registered", sub.GUID)
	}
	kind := guid.EntityKindReaderNoKey
	if topic.Kind == WithKey {
		kind = guid.EntityKindReaderWithKey
	}
	id := r.allocEntityID(kind)
	g := guid.GUID{Prefix: r.participantGUID.Prefix, EntityID: id}
	dr := &DataReader{GUID: g, Topic: topic, proxies: make(map[guid.GUID]*rtpsreader.WriterProxy)}
	r.readers[g] = dr
	sub.readers[g] = dr
	return dr, nil
}

// DestroyDataWriter disposes one writer endpoint, per spec.md §3
// "destroying it cleanly disposes all its endpoints". Callers above this
// package (discovery) are responsible for announcing the DISPOSE via
// SEDP before calling this.
func (r *Registry) DestroyDataWriter(g guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, g)
	for _, pub := range r.publishers {
		delete(pub.writers, g)
	}
}

func (r *Registry) DestroyDataReader(g guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.readers, g)
	for _, sub := range r.subscribers {
		delete(sub.readers, g)
	}
}

// Writer/Reader look up an endpoint by GUID, for inbound submessage
// dispatch (the reactor resolves a DATA's writerId/readerId this way).
func (r *Registry) Writer(g guid.GUID) (*DataWriter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.writers[g]
	return w, ok
}

func (r *Registry) Reader(g guid.GUID) (*DataReader, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd, ok := r.readers[g]
	return rd, ok
}

// Readers/Writers snapshot every endpoint, for the reactor's per-tick
// sweep (heartbeat scheduling, fragment expiry, ACKNACK coalescing).
func (r *Registry) Readers() []*DataReader {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*DataReader, 0, len(r.readers))
	for _, rd := range r.readers {
		out = append(out, rd)
	}
	return out
}

func (r *Registry) Writers() []*DataWriter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*DataWriter, 0, len(r.writers))
	for _, w := range r.writers {
		out = append(out, w)
	}
	return out
}
