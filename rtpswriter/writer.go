// Package rtpswriter implements the per-reader-proxy writer state machine
// (spec.md §4.5), grounded on the teacher's Session.AddToQueue/Update/
// HandleACK/HandleNACK in source/protocol/raknet.go: both enqueue outgoing
// units per peer, drain the queue on a send pass, purge a recovery buffer
// on acknowledgment, and requeue on negative-acknowledgment. HEARTBEAT's
// exponential backoff (idle writers slow down) is new relative to the
// teacher's fixed-interval Update ticker, built with
// github.com/cenkalti/backoff/v4 the way the rest of the corpus reaches
// for that package for retry/backoff scheduling.
package rtpswriter

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/history"
	"github.com/rtpsmw/rtpsmw/locator"
	"github.com/rtpsmw/rtpsmw/rtpserrors"
	"github.com/rtpsmw/rtpsmw/seqnum"
)

type ReliabilityKind int

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

const (
	DefaultHeartbeatPeriod = 100 * time.Millisecond
	DefaultHeartbeatMax    = time.Second
)

// ReaderProxy tracks one matched remote reader, held by a writer.
type ReaderProxy struct {
	mu sync.Mutex

	Reliability     ReliabilityKind
	Locators        []locator.Locator
	MaxBlockingTime time.Duration

	ackedUpTo seqnum.SequenceNumber
	unsent    []seqnum.SequenceNumber
	requested map[seqnum.SequenceNumber]struct{}

	heartbeatCount   int32
	lastAckNackCount int32
	seenAckNack      bool

	backoffState       *backoff.ExponentialBackOff
	nextHeartbeat      time.Time
	progressedSinceAck bool
}

func NewReaderProxy(reliability ReliabilityKind, maxBlockingTime time.Duration, locators []locator.Locator) *ReaderProxy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultHeartbeatPeriod
	b.MaxInterval = DefaultHeartbeatMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // never stop trying: HEARTBEAT is periodic for the proxy's life
	b.Reset()
	return &ReaderProxy{
		Reliability:     reliability,
		Locators:        locators,
		MaxBlockingTime: maxBlockingTime,
		requested:       make(map[seqnum.SequenceNumber]struct{}),
		backoffState:    b,
		nextHeartbeat:   time.Now().Add(DefaultHeartbeatPeriod),
	}
}

// EnqueueUnsent adds a freshly-written SN to this proxy's unsent queue and
// resets the heartbeat backoff, since there's new data to push (spec.md
// §4.5: backoff applies only "when nothing new since last ack").
func (rp *ReaderProxy) EnqueueUnsent(sn seqnum.SequenceNumber) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.unsent = append(rp.unsent, sn)
	rp.progressedSinceAck = true
	rp.backoffState.Reset()
	rp.nextHeartbeat = time.Now()
}

// DrainUnsent returns (and clears) every SN queued for first-time send,
// for the caller to turn into DATA submessages.
func (rp *ReaderProxy) DrainUnsent() []seqnum.SequenceNumber {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	out := rp.unsent
	rp.unsent = nil
	return out
}

// DrainRequested returns (and clears) every SN the reader NACKed that
// still needs retransmission.
func (rp *ReaderProxy) DrainRequested() []seqnum.SequenceNumber {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	out := make([]seqnum.SequenceNumber, 0, len(rp.requested))
	for sn := range rp.requested {
		out = append(out, sn)
	}
	rp.requested = make(map[seqnum.SequenceNumber]struct{})
	return out
}

// DueHeartbeat reports whether it's time to send a HEARTBEAT, and if so
// returns the epoch count to use. The final argument does not affect the
// result; the caller chooses the FINAL flag itself.
func (rp *ReaderProxy) DueHeartbeat(now time.Time, final bool) (int32, bool) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.Reliability == BestEffort {
		return 0, false
	}
	if now.Before(rp.nextHeartbeat) {
		return 0, false
	}
	rp.heartbeatCount++
	if rp.progressedSinceAck {
		rp.backoffState.Reset()
	}
	rp.nextHeartbeat = now.Add(rp.backoffState.NextBackOff())
	return rp.heartbeatCount, true
}

// ReceiveAckNack applies spec.md §4.5's ACKNACK handling against the given
// cache, returning the SNs that must be GAPed because they've already been
// purged from the cache.
func (rp *ReaderProxy) ReceiveAckNack(base seqnum.SequenceNumber, missing []seqnum.SequenceNumber, count int32, cache *history.Cache) (gapSNs []seqnum.SequenceNumber, err error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.seenAckNack && count <= rp.lastAckNackCount {
		return nil, nil // stale/duplicate, ignore
	}
	rp.seenAckNack = true
	rp.lastAckNackCount = count
	rp.progressedSinceAck = false

	if base-1 > rp.ackedUpTo {
		rp.ackedUpTo = base - 1
	}

	for _, sn := range missing {
		if !cache.Has(sn) {
			gapSNs = append(gapSNs, sn)
			continue
		}
		rp.requested[sn] = struct{}{}
	}
	return gapSNs, nil
}

// AckedUpTo returns the highest SN the reader has acknowledged.
func (rp *ReaderProxy) AckedUpTo() seqnum.SequenceNumber {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.ackedUpTo
}

// DefaultMaxBlockingTime is the RELIABLE async_write suspension bound used
// when a writer doesn't configure one explicitly (spec.md §4.5).
const DefaultMaxBlockingTime = 100 * time.Millisecond

// Writer drives zero or more ReaderProxies over a shared history cache.
type Writer struct {
	Reliability     ReliabilityKind
	MaxBlockingTime time.Duration
	cache           *history.Cache

	mu      sync.Mutex
	proxies map[*ReaderProxy]struct{}
}

func NewWriter(reliability ReliabilityKind, limits history.Limits, maxBlockingTime time.Duration) *Writer {
	return &Writer{
		Reliability:     reliability,
		MaxBlockingTime: maxBlockingTime,
		cache:           history.NewCache(limits),
		proxies:         make(map[*ReaderProxy]struct{}),
	}
}

func (w *Writer) Cache() *history.Cache { return w.cache }

func (w *Writer) Match(rp *ReaderProxy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.proxies[rp] = struct{}{}
}

func (w *Writer) Unmatch(rp *ReaderProxy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.proxies, rp)
}

func (w *Writer) Proxies() []*ReaderProxy {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*ReaderProxy, 0, len(w.proxies))
	for rp := range w.proxies {
		out = append(out, rp)
	}
	return out
}

// Write performs one attempt at spec.md §4.5's async_write: inserts the
// sample, then fans the new SN out to every matched reader-proxy's unsent
// queue. It never blocks itself; on a full KEEP_ALL cache it reports
// ResourceLimit immediately, and the reactor is the one that retries this
// call across ticks up to MaxBlockingTime before giving up with Timeout
// (this package has no goroutine or timer of its own to suspend on).
func (w *Writer) Write(keyHash [16]byte, kind history.ChangeKind, payload []byte, ts time.Time, writerGUID guid.GUID) (*history.CacheChange, error) {
	change, err := w.cache.Insert(keyHash, kind, payload, ts, writerGUID)
	if err != nil {
		return nil, rtpserrors.New(rtpserrors.KindResourceLimit, "rtpswriter.Write", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for rp := range w.proxies {
		rp.EnqueueUnsent(change.SN)
	}
	return change, nil
}
