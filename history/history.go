// Package history implements the per-writer HistoryCache (spec.md §4.2),
// grounded on the teacher's Session.RecoveryQueue/ACKQueue bookkeeping in
// source/protocol/raknet.go: both keep an ordered, mutex-guarded buffer of
// not-yet-fully-acknowledged units and support range re-delivery, but
// HistoryCache generalizes RakNet's single flat queue into per-writer,
// per-instance-key depth limiting as RTPS requires.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/seqnum"
)

// ChangeKind mirrors spec.md §3's CacheChange.kind.
type ChangeKind int

const (
	Alive ChangeKind = iota
	NotAliveDisposed
	NotAliveUnregistered
)

// CacheChange is one immutable sample, writer or reader side.
type CacheChange struct {
	WriterGUID      guid.GUID
	SN              seqnum.SequenceNumber
	InstanceKeyHash [16]byte
	SourceTimestamp time.Time
	Kind            ChangeKind
	Payload         []byte // complete serialized sample; fragments are reassembled before a change is built
}

// HistoryKind selects KEEP_LAST vs KEEP_ALL retention (spec.md §4.2).
type HistoryKind int

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// Limits bounds a cache's retention, per spec.md §4.2 and the ResourceLimit
// error kind of §7.
type Limits struct {
	HistoryKind HistoryKind
	Depth       int // KEEP_LAST: max changes retained per instance key
	MaxSamples  int // KEEP_ALL: hard cap across all instances; 0 = unbounded
}

var DefaultLimits = Limits{HistoryKind: KeepLast, Depth: 1}

// Cache is a single writer's ordered sample store. The same type serves
// both the writer side (keyed purely by SN, owner assigns SNs via Insert)
// and the reader side (one cache per matched writer, keyed by the SN the
// writer assigned, via Apply), matching spec.md's
// description of the two access patterns sharing one data structure.
type Cache struct {
	mu        sync.Mutex
	limits    Limits
	changes   map[seqnum.SequenceNumber]*CacheChange
	byKey     map[[16]byte][]seqnum.SequenceNumber // instance key -> SNs present, oldest first
	nextSN    seqnum.SequenceNumber
	delivered seqnum.SequenceNumber // reader side: highest SN handed to the application
}

func NewCache(limits Limits) *Cache {
	return &Cache{
		limits:  limits,
		changes: make(map[seqnum.SequenceNumber]*CacheChange),
		byKey:   make(map[[16]byte][]seqnum.SequenceNumber),
		nextSN:  seqnum.First,
	}
}

// Insert is the writer-side entry point: assigns the next SN atomically and
// enforces KEEP_LAST/KEEP_ALL limits, evicting the oldest change for the
// same instance key (KEEP_LAST) or reporting ErrResourceLimit (KEEP_ALL).
func (c *Cache) Insert(keyHash [16]byte, kind ChangeKind, payload []byte, ts time.Time, writer guid.GUID) (*CacheChange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limits.HistoryKind == KeepAll && c.limits.MaxSamples > 0 && len(c.changes) >= c.limits.MaxSamples {
		return nil, ErrResourceLimit
	}

	sn := c.nextSN
	c.nextSN++
	change := &CacheChange{WriterGUID: writer, SN: sn, InstanceKeyHash: keyHash, SourceTimestamp: ts, Kind: kind, Payload: payload}
	c.changes[sn] = change
	c.byKey[keyHash] = append(c.byKey[keyHash], sn)

	if c.limits.HistoryKind == KeepLast {
		snList := c.byKey[keyHash]
		for len(snList) > c.limits.Depth {
			evict := snList[0]
			snList = snList[1:]
			delete(c.changes, evict)
		}
		c.byKey[keyHash] = snList
	}
	return change, nil
}

// RemoveAckedUpTo drops every change with SN <= sn, once all matched
// reliable readers have acknowledged it (writer side; spec.md §4.2).
func (c *Cache) RemoveAckedUpTo(sn seqnum.SequenceNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for candidate := range c.changes {
		if candidate <= sn {
			delete(c.changes, candidate)
		}
	}
	for key, snList := range c.byKey {
		out := snList[:0]
		for _, s := range snList {
			if s > sn {
				out = append(out, s)
			}
		}
		c.byKey[key] = out
	}
}

// HighestSN returns the highest SN ever inserted into this cache (writer
// side), or 0 if none have been inserted yet.
func (c *Cache) HighestSN() seqnum.SequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSN - 1
}

// LowestSN returns the lowest SN currently retained in this cache (writer
// side), and false if the cache holds nothing. A KEEP_LAST eviction or an
// explicit RemoveAckedUpTo sweep can raise this above the first SN ever
// inserted, so HEARTBEAT's FirstSN must be read from here, not assumed.
func (c *Cache) LowestSN() (seqnum.SequenceNumber, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.changes) == 0 {
		return 0, false
	}
	lowest := seqnum.SequenceNumber(0)
	first := true
	for sn := range c.changes {
		if first || sn < lowest {
			lowest = sn
			first = false
		}
	}
	return lowest, true
}

// GetRange returns changes with from <= SN <= to, in SN order, for
// writer-side retransmission.
func (c *Cache) GetRange(from, to seqnum.SequenceNumber) []*CacheChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*CacheChange
	for sn, change := range c.changes {
		if sn >= from && sn <= to {
			out = append(out, change)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SN < out[j].SN })
	return out
}

// Apply is the reader-side entry point: dedup by SN, reject anything not
// strictly greater than what's already been delivered.
//
// Returns (change, true) if accepted, (nil, false) if it's a duplicate or
// stale (SN <= Delivered()).
func (c *Cache) Apply(change CacheChange) (*CacheChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if change.SN <= c.delivered {
		return nil, false
	}
	if _, dup := c.changes[change.SN]; dup {
		return nil, false
	}
	cc := change
	c.changes[change.SN] = &cc
	c.byKey[change.InstanceKeyHash] = append(c.byKey[change.InstanceKeyHash], change.SN)
	return &cc, true
}

// TakeReady returns the contiguous run of changes starting at Delivered()+1
// that are present in the cache, in SN order, and advances Delivered() past
// them. Per spec.md §4.2/§4.4: RELIABLE readers only advance through
// contiguous runs; a gap in the middle halts delivery until filled (or
// explicitly GAPed, via MarkIrrelevantUpTo).
func (c *Cache) TakeReady() []*CacheChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*CacheChange
	next := c.delivered + 1
	for {
		change, ok := c.changes[next]
		if !ok {
			break
		}
		out = append(out, change)
		c.delivered = next
		next++
	}
	return out
}

// TakeReadyBestEffort returns every buffered change with SN > Delivered(),
// in SN order, regardless of contiguity, and advances Delivered() to the
// highest SN returned. BEST_EFFORT readers deliver whatever has arrived,
// dropping gaps rather than waiting (spec.md §4.2).
func (c *Cache) TakeReadyBestEffort() []*CacheChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*CacheChange
	for sn, change := range c.changes {
		if sn > c.delivered {
			out = append(out, change)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SN < out[j].SN })
	if len(out) > 0 {
		c.delivered = out[len(out)-1].SN
	}
	return out
}

// MarkIrrelevantUpTo advances Delivered() to sn without requiring the
// intervening changes to be present, for GAP handling (spec.md §4.4): the
// writer has declared those SNs will never arrive, so the reader must stop
// waiting on them.
func (c *Cache) MarkIrrelevantUpTo(sn seqnum.SequenceNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sn > c.delivered {
		c.delivered = sn
	}
}

// Has reports whether sn is currently present in the cache (reader side:
// already received, whether or not yet delivered to the application).
func (c *Cache) Has(sn seqnum.SequenceNumber) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.changes[sn]
	return ok
}

func (c *Cache) Delivered() seqnum.SequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}
