// Package fragment reassembles DATA_FRAG submessages into complete samples
// (spec.md §4.3), grounded on the teacher's Session.SplitPackets
// reassembly in source/protocol/raknet.go (HandleDataPacket): both key a
// nested map by a fragmentation-group id and fragment index, fire on the
// count of parts seen equaling the declared total, and drop state on
// completion. Generalized here to RTPS's byte-offset fragments (instead of
// whole-packet parts), a received-bitmap instead of a map-length count,
// an idle timeout, and a per-writer memory cap the teacher's version
// doesn't need (RakNet split packets aren't adversarial; RTPS fragment
// assemblies are bounded per spec.md §4.3 to avoid unbounded allocation
// from a hostile or buggy writer).
package fragment

import (
	"sync"
	"time"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/seqnum"
)

// Key identifies one in-progress reassembly.
type Key struct {
	Writer guid.GUID
	SN     seqnum.SequenceNumber
}

type partial struct {
	buf          []byte
	received     []bool
	fragmentSize uint16
	sampleSize   uint32
	fragCount    uint32
	receivedCount uint32
	lastActivity time.Time
}

// Assembler reassembles fragments per (writer, SN), with an idle timeout
// and a total in-flight byte cap per writer-proxy (spec.md §4.3).
type Assembler struct {
	mu          sync.Mutex
	byWriter    map[guid.GUID]map[seqnum.SequenceNumber]*partial
	timeout     time.Duration
	maxPerWriter int // bytes
	usedByWriter map[guid.GUID]int
}

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxPerWriter = 4 << 20 // 4 MiB in-flight per writer-proxy
)

func NewAssembler() *Assembler {
	return &Assembler{
		byWriter:     make(map[guid.GUID]map[seqnum.SequenceNumber]*partial),
		timeout:      DefaultTimeout,
		maxPerWriter: DefaultMaxPerWriter,
		usedByWriter: make(map[guid.GUID]int),
	}
}

// AddFragment records one fragment. fragmentStartingNum is 1-based (spec.md
// §4.3). Returns the reassembled payload and true once every fragment has
// arrived; otherwise (nil, false).
func (a *Assembler) AddFragment(writer guid.GUID, sn seqnum.SequenceNumber, fragmentStartingNum uint32, fragmentsInSubmessage uint16, fragmentSize uint16, sampleSize uint32, data []byte, now time.Time) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	writerMap, ok := a.byWriter[writer]
	if !ok {
		writerMap = make(map[seqnum.SequenceNumber]*partial)
		a.byWriter[writer] = writerMap
	}
	p, ok := writerMap[sn]
	if !ok {
		if a.usedByWriter[writer]+int(sampleSize) > a.maxPerWriter {
			a.evictOldest(writer)
		}
		fragCount := (sampleSize + uint32(fragmentSize) - 1) / uint32(fragmentSize)
		if fragCount == 0 {
			fragCount = 1
		}
		p = &partial{
			buf:        make([]byte, sampleSize),
			received:   make([]bool, fragCount),
			fragmentSize: fragmentSize,
			sampleSize: sampleSize,
			fragCount:  fragCount,
		}
		writerMap[sn] = p
		a.usedByWriter[writer] += int(sampleSize)
	}
	p.lastActivity = now

	offset := uint32(fragmentStartingNum-1) * uint32(p.fragmentSize)
	for i := uint16(0); i < fragmentsInSubmessage; i++ {
		idx := fragmentStartingNum - 1 + uint32(i)
		if idx >= p.fragCount {
			break
		}
		start := offset + uint32(i)*uint32(p.fragmentSize)
		end := start + uint32(p.fragmentSize)
		if end > p.sampleSize {
			end = p.sampleSize
		}
		chunkLen := end - start
		srcStart := uint32(i) * uint32(p.fragmentSize)
		if srcStart+chunkLen > uint32(len(data)) {
			chunkLen = uint32(len(data)) - srcStart
		}
		if chunkLen > 0 {
			copy(p.buf[start:start+chunkLen], data[srcStart:srcStart+chunkLen])
		}
		if !p.received[idx] {
			p.received[idx] = true
			p.receivedCount++
		}
	}

	if p.receivedCount == p.fragCount {
		out := p.buf
		delete(writerMap, sn)
		a.usedByWriter[writer] -= int(p.sampleSize)
		if len(writerMap) == 0 {
			delete(a.byWriter, writer)
		}
		return out, true
	}
	return nil, false
}

// evictOldest drops the least-recently-touched partial assembly for a
// writer to make room, per the §4.3 "overflow drops the oldest partial"
// rule. Caller holds a.mu.
func (a *Assembler) evictOldest(writer guid.GUID) {
	writerMap, ok := a.byWriter[writer]
	if !ok || len(writerMap) == 0 {
		return
	}
	var oldestSN seqnum.SequenceNumber
	var oldestTime time.Time
	first := true
	for sn, p := range writerMap {
		if first || p.lastActivity.Before(oldestTime) {
			oldestSN = sn
			oldestTime = p.lastActivity
			first = false
		}
	}
	a.usedByWriter[writer] -= int(writerMap[oldestSN].sampleSize)
	delete(writerMap, oldestSN)
}

// ExpireStale scans every in-progress assembly and drops ones idle longer
// than the configured timeout, returning the (writer, SN) keys dropped so
// the caller can emit a SampleLost status event per spec.md §4.3.
func (a *Assembler) ExpireStale(now time.Time) []Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	var expired []Key
	for writer, writerMap := range a.byWriter {
		for sn, p := range writerMap {
			if now.Sub(p.lastActivity) > a.timeout {
				expired = append(expired, Key{Writer: writer, SN: sn})
				a.usedByWriter[writer] -= int(p.sampleSize)
				delete(writerMap, sn)
			}
		}
		if len(writerMap) == 0 {
			delete(a.byWriter, writer)
		}
	}
	return expired
}

// Drop removes all partial assemblies for a writer, for use when its
// proxy is unmatched (spec.md §4.4 cancellation rule).
func (a *Assembler) Drop(writer guid.GUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byWriter, writer)
	delete(a.usedByWriter, writer)
}
