// Package rtpsreader implements the per-writer-proxy reader state machine
// (spec.md §4.4), grounded on the teacher's Session.HandleDataPacket /
// HandleACK handling of RELIABLE_ORDERED duplicate and out-of-order
// detection in source/protocol/raknet.go: both maintain a highest-seen
// sequence/message index and a per-peer missing set, and both coalesce
// feedback (RakNet's NACK batch, RTPS's ACKNACK) rather than reacting to
// every packet individually.
package rtpsreader

import (
	"sort"
	"sync"
	"time"

	"github.com/rtpsmw/rtpsmw/fragment"
	"github.com/rtpsmw/rtpsmw/history"
	"github.com/rtpsmw/rtpsmw/locator"
	"github.com/rtpsmw/rtpsmw/seqnum"
)

// State is the WriterProxy lifecycle state (spec.md §4.4).
type State int

const (
	StateInitial State = iota
	StateReady
)

// ReliabilityKind selects BEST_EFFORT vs RELIABLE delivery semantics.
type ReliabilityKind int

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

// AckNackCoalesceWindow is the fixed nominal delay before a scheduled
// ACKNACK actually sends, per spec.md §5.
const AckNackCoalesceWindow = 50 * time.Millisecond

// WriterProxy tracks one matched remote writer, held by a reader.
type WriterProxy struct {
	mu sync.Mutex

	Reliability ReliabilityKind
	Locators    []locator.Locator

	cache *history.Cache

	highestSeen    seqnum.SequenceNumber
	missing        map[seqnum.SequenceNumber]struct{}
	lastHeartbeat  struct {
		first, last seqnum.SequenceNumber
		count       int32
		seen        bool
	}
	ackNackCount int32
	state        State
	lastHeard    time.Time

	frags *fragment.Assembler

	ackNackScheduled bool
	ackNackDeadline  time.Time
}

func NewWriterProxy(reliability ReliabilityKind, limits history.Limits, locators []locator.Locator) *WriterProxy {
	return &WriterProxy{
		Reliability: reliability,
		Locators:    locators,
		cache:       history.NewCache(limits),
		missing:     make(map[seqnum.SequenceNumber]struct{}),
		state:       StateInitial,
		frags:       fragment.NewAssembler(),
	}
}

// Cache exposes the underlying per-writer history so the caller (entity
// DataReader) can TakeReady() newly delivered samples after a call here
// returns.
func (wp *WriterProxy) Cache() *history.Cache { return wp.cache }

// ReceiveData handles one complete (already-reassembled) sample, per
// spec.md §4.4 step 1-3: duplicate/stale SNs are discarded, otherwise
// inserted and any intervening gap recorded under RELIABLE.
func (wp *WriterProxy) ReceiveData(change history.CacheChange, now time.Time) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.lastHeard = now

	if wp.Reliability == BestEffort {
		if change.SN <= wp.cache.Delivered() {
			return // duplicate or stale; BEST_EFFORT never redelivers
		}
	}

	if _, ok := wp.cache.Apply(change); !ok {
		return // duplicate
	}

	if change.SN > wp.highestSeen {
		if wp.Reliability == Reliable {
			for sn := wp.highestSeen + 1; sn < change.SN; sn++ {
				wp.missing[sn] = struct{}{}
			}
		}
		wp.highestSeen = change.SN
	}
	delete(wp.missing, change.SN)
	if wp.Reliability == BestEffort {
		wp.state = StateReady
	}
}

// ReceiveDataFrag feeds one DATA_FRAG fragment through the writer's
// fragment assembler; when the sample completes it's applied exactly as
// ReceiveData would.
func (wp *WriterProxy) ReceiveDataFrag(writer history.CacheChange, fragStart uint32, fragsInSub uint16, fragSize uint16, sampleSize uint32, data []byte, now time.Time) {
	complete, done := wp.frags.AddFragment(writer.WriterGUID, writer.SN, fragStart, fragsInSub, fragSize, sampleSize, data, now)
	if !done {
		return
	}
	writer.Payload = complete
	wp.ReceiveData(writer, now)
}

// HeartbeatResult tells the caller whether an ACKNACK was scheduled
// (because FINAL is clear or SNs are missing); it is always due once the
// coalescing window elapses, never immediately.
type HeartbeatResult struct {
	ShouldSchedule bool
	Missing        seqnum.Set
	Count          int32
}

// ReceiveHeartbeat applies spec.md §4.4's HEARTBEAT handling.
func (wp *WriterProxy) ReceiveHeartbeat(first, last seqnum.SequenceNumber, count int32, final bool, now time.Time) (HeartbeatResult, bool) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.lastHeard = now

	if wp.lastHeartbeat.seen && count <= wp.lastHeartbeat.count {
		return HeartbeatResult{}, false // stale/duplicate heartbeat, ignore
	}
	wp.lastHeartbeat.first, wp.lastHeartbeat.last, wp.lastHeartbeat.count, wp.lastHeartbeat.seen = first, last, count, true
	wp.state = StateReady

	for sn := first; sn <= last; sn++ {
		if sn <= wp.cache.Delivered() || wp.cache.Has(sn) {
			continue
		}
		wp.missing[sn] = struct{}{}
	}
	// Drop missing entries the writer has already discarded (sn < first).
	for sn := range wp.missing {
		if sn < first {
			delete(wp.missing, sn)
		}
	}
	if last > wp.highestSeen {
		wp.highestSeen = last
	}

	if !final || len(wp.missing) > 0 {
		wp.ackNackCount++
		missingSNs := wp.sortedMissingLocked()
		var set seqnum.Set
		if len(missingSNs) > 0 {
			set, _ = seqnum.NewSet(missingSNs[0], missingSNs)
		} else {
			set = seqnum.NewEmptySet(last + 1)
		}
		wp.ackNackScheduled = true
		wp.ackNackDeadline = now.Add(AckNackCoalesceWindow)
		return HeartbeatResult{ShouldSchedule: true, Missing: set, Count: wp.ackNackCount}, true
	}
	return HeartbeatResult{}, false
}

// ReceiveGap applies spec.md §4.4's GAP handling: every SN in
// [gapStart, gapList.Base) and every set bit in gapList is irrelevant.
func (wp *WriterProxy) ReceiveGap(gapStart seqnum.SequenceNumber, gapList seqnum.Set, now time.Time) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.lastHeard = now

	for sn := gapStart; sn < gapList.Base; sn++ {
		delete(wp.missing, sn)
	}
	for _, sn := range gapList.Members() {
		delete(wp.missing, sn)
	}
	upto := gapList.Base - 1
	for _, sn := range gapList.Members() {
		if sn > upto {
			upto = sn
		}
	}
	wp.cache.MarkIrrelevantUpTo(upto)
}

// PendingAckNack reports whether a coalesced ACKNACK is due to fire and
// clears the scheduled flag if so; the caller (reactor) polls this each
// tick and actually sends when the deadline has passed or been forced.
func (wp *WriterProxy) PendingAckNack(now time.Time) (seqnum.Set, int32, bool) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if !wp.ackNackScheduled || now.Before(wp.ackNackDeadline) {
		return seqnum.Set{}, 0, false
	}
	wp.ackNackScheduled = false
	missingSNs := wp.sortedMissingLocked()
	var set seqnum.Set
	if len(missingSNs) > 0 {
		set, _ = seqnum.NewSet(missingSNs[0], missingSNs)
	} else {
		set = seqnum.NewEmptySet(wp.highestSeen + 1)
	}
	return set, wp.ackNackCount, true
}

func (wp *WriterProxy) sortedMissingLocked() []seqnum.SequenceNumber {
	out := make([]seqnum.SequenceNumber, 0, len(wp.missing))
	for sn := range wp.missing {
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// State reports the proxy's current lifecycle state.
func (wp *WriterProxy) State() State {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.state
}

func (wp *WriterProxy) LastHeard() time.Time {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.lastHeard
}

// ExpireStaleFragments sweeps this proxy's fragment assembler for
// reassemblies idle past fragment.DefaultTimeout, dropping them (spec.md
// §4.3's idle-timeout GC, run periodically by the reactor rather than on
// every received fragment).
func (wp *WriterProxy) ExpireStaleFragments(now time.Time) []fragment.Key {
	return wp.frags.ExpireStale(now)
}
