// Package reactor implements the single-threaded cooperative event loop
// (spec.md §4.8), grounded on the teacher's Server.Start/listen/updateLoop/
// sessionCleanupLoop in source/server/server.go: the teacher spins one
// goroutine per concern (accept loop, tick-driven update, tick-driven
// cleanup) all touching shared state under one mutex. This reactor
// generalizes that into the cooperative single-goroutine design spec.md
// demands: one loop owns every socket, timer and command, so no entity's
// state is ever touched from two goroutines at once. golang.org/x/sync's
// errgroup coordinates the handful of goroutines the reactor does still
// need (one blocking read per socket) and their shutdown, the way the rest
// of the corpus reaches for errgroup over raw sync.WaitGroup plumbing.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rtpsmw/rtpsmw/discovery"
	"github.com/rtpsmw/rtpsmw/entity"
	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/history"
	"github.com/rtpsmw/rtpsmw/locator"
	"github.com/rtpsmw/rtpsmw/rtpserrors"
	"github.com/rtpsmw/rtpsmw/rtpsreader"
	"github.com/rtpsmw/rtpsmw/rtpswriter"
	"github.com/rtpsmw/rtpsmw/security"
	"github.com/rtpsmw/rtpsmw/seqnum"
	"github.com/rtpsmw/rtpsmw/status"
	"github.com/rtpsmw/rtpsmw/transport"
	"github.com/rtpsmw/rtpsmw/wire"
)

// inboundDatagram is one received datagram, handed from a socket's read
// goroutine to the reactor's single dispatch goroutine over a channel —
// the only cross-goroutine boundary in the engine, matching spec.md §5's
// "sockets may be read from a helper goroutine, but all resulting state
// mutation happens on the reactor goroutine" concurrency contract.
type inboundDatagram struct {
	data []byte
	from locator.Locator
}

// Sockets bundles every transport endpoint a participant reactor drives.
type Sockets struct {
	UnicastData        *transport.Socket
	MulticastData      *transport.Socket // may be nil if no user multicast group joined
	UnicastDiscovery   *transport.Socket
	MulticastDiscovery *transport.Socket
}

// Command is one application-originated request the reactor drains each
// turn (spec.md §4.8 step 4); the only command is cmdWriteSample, which
// writes one sample. All come in through a single channel so they
// serialize onto the reactor goroutine exactly like inbound datagrams.
type Command interface{ apply(r *Reactor) }

type cmdWriteSample struct {
	writer   guid.GUID
	keyHash  [16]byte
	kind     history.ChangeKind
	payload  []byte
	deadline time.Time
	done     chan error
}

// apply performs one admission attempt for async_write (spec.md §4.5). A
// full KEEP_ALL cache on a RELIABLE writer doesn't fail the call outright:
// it suspends the command into r.pendingWrites, retried every tick by
// retryPendingWrites until the cache drains or max_blocking_time elapses.
// BEST_EFFORT writers, and RELIABLE writers with no configured blocking
// time, fail immediately instead of suspending.
func (c cmdWriteSample) apply(r *Reactor) {
	dw, ok := r.registry.Writer(c.writer)
	if !ok {
		c.done <- fmt.Errorf("reactor: unknown writer %s", c.writer)
		return
	}
	if r.tryWrite(dw, c) {
		return
	}
	if dw.Core().Reliability != rtpswriter.Reliable || dw.Core().MaxBlockingTime <= 0 {
		c.done <- rtpserrors.New(rtpserrors.KindResourceLimit, "rtpswriter.Write", nil)
		return
	}
	c.deadline = time.Now().Add(dw.Core().MaxBlockingTime)
	r.pendingWrites = append(r.pendingWrites, c)
}

// tryWrite makes one insertion attempt for a queued write command. It
// resolves c.done and returns true on success or on any failure other than
// ResourceLimit; ResourceLimit alone is left unresolved so the caller can
// decide whether to suspend it for a later retry.
func (r *Reactor) tryWrite(dw *entity.DataWriter, c cmdWriteSample) bool {
	_, err := dw.Core().Write(c.keyHash, c.kind, c.payload, time.Now(), c.writer)
	if err == nil {
		c.done <- nil
		return true
	}
	if rtpserrors.Is(err, rtpserrors.KindResourceLimit) {
		return false
	}
	c.done <- err
	return true
}

// retryPendingWrites re-attempts every RELIABLE async_write still suspended
// on a full cache, resolving each with success, a hard error, or Timeout
// once its max_blocking_time deadline has passed (spec.md §4.5/§7).
func (r *Reactor) retryPendingWrites(now time.Time) {
	if len(r.pendingWrites) == 0 {
		return
	}
	remaining := r.pendingWrites[:0]
	for _, c := range r.pendingWrites {
		dw, ok := r.registry.Writer(c.writer)
		if !ok {
			c.done <- fmt.Errorf("reactor: unknown writer %s", c.writer)
			continue
		}
		if r.tryWrite(dw, c) {
			continue
		}
		if !now.Before(c.deadline) {
			c.done <- rtpserrors.New(rtpserrors.KindTimeout, "rtpswriter.Write", nil)
			continue
		}
		remaining = append(remaining, c)
	}
	r.pendingWrites = remaining
}

// WriteSample enqueues an application sample for a local writer, blocking
// until the reactor has applied it to the writer's history cache.
func (r *Reactor) WriteSample(writer guid.GUID, keyHash [16]byte, kind history.ChangeKind, payload []byte) error {
	done := make(chan error, 1)
	r.commands <- cmdWriteSample{writer: writer, keyHash: keyHash, kind: kind, payload: payload, done: done}
	return <-done
}

// Reactor drives one participant's entire protocol state machine from a
// single goroutine (spec.md §4.8/§5).
type Reactor struct {
	log *zap.SugaredLogger

	localPrefix guid.Prefix
	domainID    int

	sockets Sockets

	registry *entity.Registry
	spdp     *discovery.SPDP
	sedp     *discovery.SEDP

	status  *status.Channel
	metrics *status.Metrics

	identity     *security.LocalIdentity
	peerSessions map[guid.Prefix]*security.PeerSession

	inbound  chan inboundDatagram
	commands chan Command

	pendingWrites []cmdWriteSample

	nextSPDPAnnounce time.Time
	nextFragGC       time.Time
	nextLeaseCheck   time.Time
}

const (
	fragGCPeriod     = 5 * time.Second
	leaseCheckPeriod = 1 * time.Second
	pollInterval     = 20 * time.Millisecond // lower bound on the "poll with deadline" wait
)

// New builds a reactor around already-bound sockets and a fresh entity
// registry; the caller (cmd/rtpsd) owns bind/config and hands the reactor
// ready-to-run resources, matching the teacher's NewServer/Start split.
// identity may be nil: a participant with no dds.sec.* properties loaded
// runs with security effectively off, and QoS requiring it simply never
// matches (spec.md §4.6/§4.7).
func New(localPrefix guid.Prefix, domainID int, sockets Sockets, registry *entity.Registry, local discovery.ParticipantBuiltinData, identity *security.LocalIdentity, statusMetrics *status.Metrics, log *zap.SugaredLogger) *Reactor {
	now := time.Now()
	r := &Reactor{
		log:              log,
		localPrefix:      localPrefix,
		domainID:         domainID,
		sockets:          sockets,
		registry:         registry,
		spdp:             discovery.NewSPDP(local),
		sedp:             discovery.NewSEDP(),
		status:           status.NewChannel(nil),
		metrics:          statusMetrics,
		identity:         identity,
		peerSessions:     make(map[guid.Prefix]*security.PeerSession),
		inbound:          make(chan inboundDatagram, 256),
		commands:         make(chan Command, 64),
		nextSPDPAnnounce: now,
		nextFragGC:       now.Add(fragGCPeriod),
		nextLeaseCheck:   now.Add(leaseCheckPeriod),
	}
	r.sedp.SetAuthChecker(r.peerAuthenticated)
	return r
}

// peerAuthenticated reports whether a completed handshake exists for the
// participant owning prefix (spec.md §4.6's security match gate); the
// local participant always counts as authenticated with itself.
func (r *Reactor) peerAuthenticated(prefix guid.Prefix) bool {
	if prefix == r.localPrefix {
		return true
	}
	ps, ok := r.peerSessions[prefix]
	return ok && ps.Completed()
}

// StatusEvents exposes the participant-wide status channel to the
// application (spec.md §4.9).
func (r *Reactor) StatusEvents() *status.Channel { return r.status }

// SEDP exposes the endpoint-discovery matcher so the engine's
// CreateDataWriter/CreateDataReader wrapper (outside this package's scope
// per spec.md §1) can announce new local endpoints and register matches
// discovered here.
func (r *Reactor) SEDP() *discovery.SEDP { return r.sedp }

// Run drives the reactor until ctx is cancelled, per spec.md §4.8's
// per-turn algorithm. One goroutine per configured socket blocks in
// ReadFrom and forwards datagrams to the single dispatch loop; errgroup
// ties their lifetimes together so ctx cancellation brings the whole
// reactor down cleanly, the way the teacher's Start/listen ties its accept
// loop to Stop() closing the connection. A socket read error is logged and
// the read loop carries on; it does not stop the reactor.
func (r *Reactor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, sock := range []*transport.Socket{r.sockets.UnicastData, r.sockets.MulticastData, r.sockets.UnicastDiscovery, r.sockets.MulticastDiscovery} {
		if sock == nil {
			continue
		}
		sock := sock
		g.Go(func() error { return r.readLoop(ctx, sock) })
	}

	g.Go(func() error { return r.dispatchLoop(ctx) })

	return g.Wait()
}

// readLoop is the only goroutine that touches a given socket; it never
// mutates protocol state directly, only forwards bytes, per spec.md §5.
func (r *Reactor) readLoop(ctx context.Context, sock *transport.Socket) error {
	buf := make([]byte, transport.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, from, err := sock.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			r.log.Warnw("socket read failed", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case r.inbound <- inboundDatagram{data: data, from: from}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatchLoop is THE reactor goroutine: every protocol state mutation in
// the engine happens here and nowhere else (spec.md §4.8/§5).
func (r *Reactor) dispatchLoop(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case dgram := <-r.inbound:
			r.handleDatagram(dgram)
		case cmd := <-r.commands:
			cmd.apply(r)
		case now := <-ticker.C:
			r.fireTimers(now)
		}
	}
}

// fireTimers implements spec.md §4.8 step 3: SPDP announce, HEARTBEAT per
// writer, ACKNACK coalescing per reader-proxy, lease-timeout checks,
// fragment-assembly GC.
func (r *Reactor) fireTimers(now time.Time) {
	if !now.Before(r.nextSPDPAnnounce) {
		r.announceSPDP()
		r.nextSPDPAnnounce = now.Add(discovery.DefaultAnnouncePeriod)
	}

	for _, dw := range r.registry.Writers() {
		r.fireWriterTimers(dw, now)
	}
	for _, dr := range r.registry.Readers() {
		r.fireReaderTimers(dr, now)
	}
	r.retryPendingWrites(now)

	if !now.Before(r.nextLeaseCheck) {
		for _, lost := range r.spdp.ExpireLeases(now) {
			r.onParticipantLost(lost)
		}
		r.nextLeaseCheck = now.Add(leaseCheckPeriod)
	}

	if !now.Before(r.nextFragGC) {
		for _, dr := range r.registry.Readers() {
			for writerGUID, wp := range dr.Proxies() {
				for _, key := range wp.ExpireStaleFragments(now) {
					r.status.TrySend(status.Event{Kind: status.SampleLost, Entity: writerGUID, Detail: fmt.Sprintf("fragment reassembly for SN %d timed out", key.SN)})
				}
			}
		}
		r.nextFragGC = now.Add(fragGCPeriod)
	}
}

func (r *Reactor) fireWriterTimers(dw *entity.DataWriter, now time.Time) {
	proxies := dw.Proxies()
	var minAcked seqnum.SequenceNumber
	haveReliable := false
	for readerGUID, rp := range proxies {
		unsent := rp.DrainUnsent()
		for _, sn := range unsent {
			r.sendData(dw, rp, sn, readerGUID)
		}
		requested := rp.DrainRequested()
		for _, sn := range requested {
			r.sendData(dw, rp, sn, readerGUID)
		}
		final := len(unsent) == 0 && len(requested) == 0
		if count, due := rp.DueHeartbeat(now, final); due {
			r.sendHeartbeat(dw, rp, count, final)
		}
		if rp.Reliability == rtpswriter.Reliable {
			acked := rp.AckedUpTo()
			if !haveReliable || acked < minAcked {
				minAcked = acked
			}
			haveReliable = true
		}
	}
	// A change may only leave the sending cache once every matched reliable
	// reader has acknowledged past it (spec.md §4.2); an unmatched or
	// BEST_EFFORT-only writer never reclaims.
	if haveReliable {
		dw.Core().Cache().RemoveAckedUpTo(minAcked)
	}
}

func (r *Reactor) fireReaderTimers(dr *entity.DataReader, now time.Time) {
	for writerGUID, wp := range dr.Proxies() {
		if set, count, due := wp.PendingAckNack(now); due {
			r.sendAckNack(dr, wp, writerGUID, set, count)
		}
	}
}

// handleDatagram implements spec.md §4.8 step 2: wire-decode, then
// dispatch each submessage to the entity its destination id names.
func (r *Reactor) handleDatagram(dgram inboundDatagram) {
	msg, err := wire.DecodeMessage(dgram.data)
	if err != nil {
		r.log.Debugw("dropping malformed datagram", "from", dgram.from, "error", err)
		return
	}
	now := time.Now()
	for _, sm := range msg.Submessages {
		r.dispatchSubmessage(msg.Header, sm, now)
	}
}

func (r *Reactor) dispatchSubmessage(hdr wire.Header, sm wire.Submessage, now time.Time) {
	endian := sm.Header.Endian()
	switch sm.Header.Kind {
	case wire.KindData:
		d, err := wire.DecodeData(sm.Body, endian, sm.Header.Flags)
		if err != nil {
			r.log.Debugw("dropping malformed DATA", "error", err)
			return
		}
		r.handleData(hdr.GuidPrefix, d, now)
	case wire.KindDataFrag:
		f, err := wire.DecodeDataFrag(sm.Body, endian, sm.Header.Flags)
		if err != nil {
			r.log.Debugw("dropping malformed DATA_FRAG", "error", err)
			return
		}
		r.handleDataFrag(hdr.GuidPrefix, f, now)
	case wire.KindHeartbeat:
		hb, err := wire.DecodeHeartbeat(sm.Body, endian, sm.Header.Flags)
		if err != nil {
			r.log.Debugw("dropping malformed HEARTBEAT", "error", err)
			return
		}
		r.handleHeartbeat(hdr.GuidPrefix, hb, now)
	case wire.KindAckNack:
		an, err := wire.DecodeAckNack(sm.Body, endian, sm.Header.Flags)
		if err != nil {
			r.log.Debugw("dropping malformed ACKNACK", "error", err)
			return
		}
		r.handleAckNack(hdr.GuidPrefix, an)
	case wire.KindGap:
		gap, err := wire.DecodeGap(sm.Body, endian)
		if err != nil {
			r.log.Debugw("dropping malformed GAP", "error", err)
			return
		}
		r.handleGap(hdr.GuidPrefix, gap, now)
	case wire.KindInfoTS, wire.KindInfoSrc, wire.KindInfoDst, wire.KindPad:
		// Carry no state of their own in this engine: INFO_TS/SRC/DST just
		// qualify the submessages around them, which spec.md §1 scopes out
		// (no multi-destination relaying); PAD is pure padding.
	default:
		r.log.Debugw("ignoring unhandled submessage kind", "kind", sm.Header.Kind)
	}
}

// handleData routes an inbound DATA either to the built-in SPDP/SEDP
// discovery handlers (by well-known writer entity id) or to a matched
// user DataReader's WriterProxy.
func (r *Reactor) handleData(srcPrefix guid.Prefix, d wire.Data, now time.Time) {
	switch d.WriterID {
	case guid.EntityIDSPDPBuiltinParticipantWriter:
		r.handleSPDPData(d)
		return
	case guid.EntityIDSEDPBuiltinPublicationsWriter:
		r.handleSEDPPublication(d)
		return
	case guid.EntityIDSEDPBuiltinSubscriptionsWriter:
		r.handleSEDPSubscription(d)
		return
	case guid.EntityIDP2PBuiltinParticipantStatelessMessageWriter:
		r.handleHandshakeMessage(srcPrefix, d)
		return
	}

	writerGUID := guid.GUID{Prefix: srcPrefix, EntityID: d.WriterID}
	change := history.CacheChange{
		WriterGUID:      writerGUID,
		SN:              d.WriterSN,
		SourceTimestamp: now,
		Kind:            changeKindFromData(d),
	}
	if d.Payload != nil {
		change.Payload = d.Payload.Data
	}
	if kh, ok := inlineKeyHash(d.InlineQos); ok {
		change.InstanceKeyHash = kh
	}

	for _, dr := range r.matchedReaders(d.ReaderID, writerGUID) {
		if wp, ok := dr.Proxy(writerGUID); ok {
			wp.ReceiveData(change, now)
		}
	}
}

func (r *Reactor) handleDataFrag(srcPrefix guid.Prefix, f wire.DataFrag, now time.Time) {
	writerGUID := guid.GUID{Prefix: srcPrefix, EntityID: f.WriterID}
	for _, dr := range r.matchedReaders(f.ReaderID, writerGUID) {
		if wp, ok := dr.Proxy(writerGUID); ok {
			change := history.CacheChange{WriterGUID: writerGUID, SN: f.WriterSN, SourceTimestamp: now}
			wp.ReceiveDataFrag(change, f.FragmentStartingNum, f.FragmentsInSubmessage, f.FragmentSize, f.SampleSize, f.FragmentData, now)
		}
	}
}

func (r *Reactor) handleHeartbeat(srcPrefix guid.Prefix, hb wire.Heartbeat, now time.Time) {
	writerGUID := guid.GUID{Prefix: srcPrefix, EntityID: hb.WriterID}
	for _, dr := range r.matchedReaders(hb.ReaderID, writerGUID) {
		wp, ok := dr.Proxy(writerGUID)
		if !ok {
			continue
		}
		// ReceiveHeartbeat's ShouldSchedule is always true whenever it asks
		// us to send at all; PendingAckNack's coalescing window in
		// fireReaderTimers is what actually sends the ACKNACK.
		wp.ReceiveHeartbeat(hb.FirstSN, hb.LastSN, int32(hb.Count), hb.Final, now)
		for _, ready := range wp.Cache().TakeReady() {
			_ = ready // delivery to the application-facing reader API is out of this package's scope
		}
	}
}

func (r *Reactor) handleAckNack(srcPrefix guid.Prefix, an wire.AckNack) {
	readerGUID := guid.GUID{Prefix: srcPrefix, EntityID: an.ReaderID}
	writerGUID := guid.GUID{Prefix: r.localPrefix, EntityID: an.WriterID}
	dw, ok := r.registry.Writer(writerGUID)
	if !ok {
		return
	}
	rp, ok := dw.Proxy(readerGUID)
	if !ok {
		return
	}
	gapSNs, err := rp.ReceiveAckNack(an.ReaderSNSet.Base, an.ReaderSNSet.Members(), int32(an.Count), dw.Core().Cache())
	if err != nil {
		r.log.Debugw("ACKNACK processing error", "error", err)
		return
	}
	if len(gapSNs) > 0 {
		r.sendGap(dw, rp, gapSNs)
	}
}

func (r *Reactor) handleGap(srcPrefix guid.Prefix, gap wire.Gap, now time.Time) {
	writerGUID := guid.GUID{Prefix: srcPrefix, EntityID: gap.WriterID}
	for _, dr := range r.matchedReaders(gap.ReaderID, writerGUID) {
		if wp, ok := dr.Proxy(writerGUID); ok {
			wp.ReceiveGap(gap.GapStart, gap.GapList, now)
		}
	}
}

// matchedReaders resolves a DATA/HEARTBEAT/GAP's destination: a specific
// local reader if readerID names one, or every reader matched to
// writerGUID if readerID is unknown (spec.md §4.1's "unknown reader id
// means all matched readers").
func (r *Reactor) matchedReaders(readerID guid.EntityID, writerGUID guid.GUID) []*entity.DataReader {
	if readerID != guid.EntityIDUnknown {
		if dr, ok := r.registry.Reader(guid.GUID{Prefix: r.localPrefix, EntityID: readerID}); ok {
			return []*entity.DataReader{dr}
		}
		return nil
	}
	var out []*entity.DataReader
	for _, dr := range r.registry.Readers() {
		if _, ok := dr.Proxy(writerGUID); ok {
			out = append(out, dr)
		}
	}
	return out
}

func changeKindFromData(d wire.Data) history.ChangeKind {
	if !d.KeyOnly {
		return history.Alive
	}
	return history.NotAliveDisposed
}

// inlineKeyHash extracts PID_KEY_HASH from a DATA's raw inline QoS, if
// present, by lazily decoding it as a parameter list (spec.md §6).
func inlineKeyHash(inlineQos []byte) ([16]byte, bool) {
	var out [16]byte
	if len(inlineQos) == 0 {
		return out, false
	}
	pl, err := wire.DecodeParameterList(inlineQos, wire.BigEndian)
	if err != nil {
		return out, false
	}
	kh, ok := pl.Get(wire.PIDKeyHash)
	if !ok || len(kh) < 16 {
		return out, false
	}
	copy(out[:], kh)
	return out, true
}

// announceSPDP sends this participant's SPDP sample to the multicast
// discovery group (spec.md §4.6).
func (r *Reactor) announceSPDP() {
	if r.sockets.MulticastDiscovery == nil {
		return
	}
	payload := r.spdp.AnnouncementPayload()
	data := wire.Data{
		ReaderID: guid.EntityIDUnknown,
		WriterID: guid.EntityIDSPDPBuiltinParticipantWriter,
		WriterSN: seqnum.First,
		Payload:  &wire.SerializedPayload{Representation: wire.ReprPLCDRLittleEndian, Data: payload},
	}
	header := wire.Header{Version: wire.CurrentProtocolVersion, Vendor: wire.OurVendorID, GuidPrefix: r.localPrefix}
	sm := wire.EncodeData(data, wire.LittleEndian)
	out := wire.EncodeMessage(header, []wire.EncodedSubmessage{sm})
	group := locator.DefaultSPDPMulticastLocator(r.domainID, net.IPv4(239, 255, 0, 1))
	if err := r.sockets.MulticastDiscovery.WriteTo(out, group); err != nil {
		r.log.Warnw("SPDP announce send failed", "error", err)
	}
}

func (r *Reactor) handleSPDPData(d wire.Data) {
	if d.Payload == nil {
		return
	}
	pl, err := wire.DecodeParameterList(d.Payload.Data, d.Payload.Representation.Endian())
	if err != nil {
		return
	}
	now := time.Now()
	data, ok := r.spdp.ReceiveAnnouncement(pl, now)
	if !ok {
		return
	}
	r.status.TrySend(status.Event{Kind: status.EndpointMatched, Entity: guid.GUID{Prefix: data.GuidPrefix, EntityID: guid.EntityIDParticipant}, Detail: "SPDP"})
	if r.metrics != nil {
		r.metrics.ParticipantsKnown.Set(float64(len(r.spdp.Peers())))
	}
	r.ensureHandshake(data, now)
}

// ensureHandshake starts a PKI-DH handshake (spec.md §4.7) the first time a
// security-capable peer is seen via SPDP. Initiator/responder roles are
// assigned by NewPeerSession's guid-prefix tie-break; only the initiator
// sends anything here, the responder waits for the request.
func (r *Reactor) ensureHandshake(peer discovery.ParticipantBuiltinData, now time.Time) {
	if r.identity == nil || !peer.SecuritySupported {
		return
	}
	if _, ok := r.peerSessions[peer.GuidPrefix]; ok {
		return
	}
	ps := security.NewPeerSession(r.localPrefix, peer.GuidPrefix, now)
	r.peerSessions[peer.GuidPrefix] = ps
	if ps.State != security.PendingRequestSend {
		return
	}
	req, err := ps.BeginRequest(r.identity.Identity.CertPEM, r.identity.PermissionsDoc, r.identity.ParticipantData, r.identity.SignatureAlgo, r.identity.KeyAgreeAlgo)
	if err != nil {
		r.log.Warnw("handshake BeginRequest failed", "peer", peer.GuidPrefix, "error", err)
		return
	}
	r.sendHandshakeMessage(peer.GuidPrefix, security.EncodeHandshakeRequestToken(req))
}

// handleHandshakeMessage dispatches one inbound request/reply/final token
// carried as a DATA sample on the participant stateless message endpoint
// (spec.md §4.7).
func (r *Reactor) handleHandshakeMessage(srcPrefix guid.Prefix, d wire.Data) {
	if r.identity == nil || d.Payload == nil {
		return
	}
	kind, pl, err := security.PeekHandshakeKind(d.Payload.Data, d.Payload.Representation.Endian())
	if err != nil {
		r.log.Debugw("dropping malformed handshake message", "error", err)
		return
	}
	switch kind {
	case security.HandshakeMessageRequest:
		r.handleHandshakeRequest(srcPrefix, pl, time.Now())
	case security.HandshakeMessageReply:
		r.handleHandshakeReply(srcPrefix, pl)
	case security.HandshakeMessageFinal:
		r.handleHandshakeFinal(srcPrefix, pl)
	default:
		r.log.Debugw("dropping handshake message with unknown kind", "kind", kind)
	}
}

func (r *Reactor) handleHandshakeRequest(srcPrefix guid.Prefix, pl wire.ParameterList, now time.Time) {
	req, err := security.DecodeHandshakeRequestTokenFrom(pl)
	if err != nil {
		r.log.Debugw("dropping malformed handshake request", "error", err)
		return
	}
	ps, ok := r.peerSessions[srcPrefix]
	if !ok {
		ps = security.NewPeerSession(r.localPrefix, srcPrefix, now)
		r.peerSessions[srcPrefix] = ps
	}
	reply, err := ps.OnRequest(req, r.identity.Identity.CertPEM, r.identity.PermissionsDoc, r.identity.ParticipantData, r.identity.SignatureAlgo, r.identity.PrivateKey)
	if err != nil {
		r.log.Warnw("handshake OnRequest failed", "peer", srcPrefix, "error", err)
		return
	}
	r.sendHandshakeMessage(srcPrefix, security.EncodeHandshakeReplyToken(reply))
}

func (r *Reactor) handleHandshakeReply(srcPrefix guid.Prefix, pl wire.ParameterList) {
	reply, err := security.DecodeHandshakeReplyTokenFrom(pl)
	if err != nil {
		r.log.Debugw("dropping malformed handshake reply", "error", err)
		return
	}
	ps, ok := r.peerSessions[srcPrefix]
	if !ok {
		return
	}
	peerIdentity, err := security.ResolveRemoteIdentity(reply.IdentityCertPEM, srcPrefix, r.identity.IdentityCAPool)
	if err != nil {
		r.log.Warnw("handshake reply identity rejected", "peer", srcPrefix, "error", err)
		return
	}
	peerPub, err := security.ECDSAPublicKeyFromCertificate(peerIdentity)
	if err != nil {
		r.log.Warnw("handshake reply public key rejected", "peer", srcPrefix, "error", err)
		return
	}
	final, err := ps.OnReply(reply, peerPub, r.identity.PrivateKey)
	if err != nil {
		r.log.Warnw("handshake OnReply failed", "peer", srcPrefix, "error", err)
		return
	}
	r.sendHandshakeMessage(srcPrefix, security.EncodeHandshakeFinalToken(final))
	r.status.TrySend(status.Event{Kind: status.EndpointMatched, Entity: guid.GUID{Prefix: srcPrefix, EntityID: guid.EntityIDParticipant}, Detail: "security handshake completed"})
}

func (r *Reactor) handleHandshakeFinal(srcPrefix guid.Prefix, pl wire.ParameterList) {
	final, err := security.DecodeHandshakeFinalTokenFrom(pl)
	if err != nil {
		r.log.Debugw("dropping malformed handshake final", "error", err)
		return
	}
	ps, ok := r.peerSessions[srcPrefix]
	if !ok {
		return
	}
	peerIdentity, err := security.ResolveRemoteIdentity(ps.PeerIdentityCertPEM(), srcPrefix, r.identity.IdentityCAPool)
	if err != nil {
		r.log.Warnw("handshake final identity rejected", "peer", srcPrefix, "error", err)
		return
	}
	peerPub, err := security.ECDSAPublicKeyFromCertificate(peerIdentity)
	if err != nil {
		r.log.Warnw("handshake final public key rejected", "peer", srcPrefix, "error", err)
		return
	}
	if err := ps.OnFinal(final, peerPub); err != nil {
		r.log.Warnw("handshake OnFinal failed", "peer", srcPrefix, "error", err)
		return
	}
	r.status.TrySend(status.Event{Kind: status.EndpointMatched, Entity: guid.GUID{Prefix: srcPrefix, EntityID: guid.EntityIDParticipant}, Detail: "security handshake completed"})
}

// sendHandshakeMessage fans one encoded handshake token out over the
// destination participant's discovery locators, reusing SPDP's known-peer
// table the way sendData/sendHeartbeat reuse a matched proxy's.
func (r *Reactor) sendHandshakeMessage(dest guid.Prefix, payload []byte) {
	peer, ok := r.spdp.Peer(dest)
	if !ok || len(peer.Data.DefaultUnicastLoc) == 0 {
		r.log.Debugw("no locator for handshake peer", "peer", dest)
		return
	}
	data := wire.Data{
		ReaderID: guid.EntityIDUnknown,
		WriterID: guid.EntityIDP2PBuiltinParticipantStatelessMessageWriter,
		WriterSN: seqnum.First,
		Payload:  &wire.SerializedPayload{Representation: wire.ReprPLCDRLittleEndian, Data: payload},
	}
	header := wire.Header{Version: wire.CurrentProtocolVersion, Vendor: wire.OurVendorID, GuidPrefix: r.localPrefix}
	sm := wire.EncodeData(data, wire.LittleEndian)
	out := wire.EncodeMessage(header, []wire.EncodedSubmessage{sm})
	if err := r.sockets.UnicastDiscovery.WriteToMany(out, peer.Data.DefaultUnicastLoc); err != nil {
		r.log.Debugw("handshake send failed", "error", err)
	}
}

func (r *Reactor) handleSEDPPublication(d wire.Data) {
	if d.Payload == nil {
		return
	}
	pl, err := wire.DecodeParameterList(d.Payload.Data, d.Payload.Representation.Endian())
	if err != nil {
		return
	}
	remote, ok := discovery.EndpointBuiltinDataFromParameterList(pl)
	if !ok {
		return
	}
	for _, m := range r.sedp.ReceiveRemotePublication(remote) {
		r.onMatch(m)
	}
}

func (r *Reactor) handleSEDPSubscription(d wire.Data) {
	if d.Payload == nil {
		return
	}
	pl, err := wire.DecodeParameterList(d.Payload.Data, d.Payload.Representation.Endian())
	if err != nil {
		return
	}
	remote, ok := discovery.EndpointBuiltinDataFromParameterList(pl)
	if !ok {
		return
	}
	for _, m := range r.sedp.ReceiveRemoteSubscription(remote) {
		r.onMatch(m)
	}
}

// onMatch wires a newly-confirmed SEDP (writer, reader) pair into real
// rtpswriter.ReaderProxy / rtpsreader.WriterProxy state, whichever side is
// local to this participant (spec.md §4.6's match handling).
func (r *Reactor) onMatch(m discovery.Match) {
	if m.Writer.GUID.Prefix == r.localPrefix {
		if dw, ok := r.registry.Writer(m.Writer.GUID); ok {
			var locs []locator.Locator
			if peer, ok := r.spdp.Peer(m.Reader.GUID.Prefix); ok {
				locs = peer.Data.DefaultUnicastLoc
			}
			rp := rtpswriter.NewReaderProxy(reliabilityFromQoS(m.Reader.QoS.Reliability), 0, locs)
			dw.MatchReader(m.Reader.GUID, rp)
			r.status.TrySend(status.Event{Kind: status.EndpointMatched, Entity: m.Writer.GUID, Detail: m.Writer.TopicName})
		}
	}
	if m.Reader.GUID.Prefix == r.localPrefix {
		if dr, ok := r.registry.Reader(m.Reader.GUID); ok {
			var locs []locator.Locator
			if peer, ok := r.spdp.Peer(m.Writer.GUID.Prefix); ok {
				locs = peer.Data.DefaultUnicastLoc
			}
			wp := rtpsreader.NewWriterProxy(readerReliabilityFromQoS(m.Writer.QoS.Reliability), history.DefaultLimits, locs)
			dr.MatchWriter(m.Writer.GUID, wp)
			r.status.TrySend(status.Event{Kind: status.EndpointMatched, Entity: m.Reader.GUID, Detail: m.Reader.TopicName})
		}
	}
}

func reliabilityFromQoS(q discovery.ReliabilityKind) rtpswriter.ReliabilityKind {
	if q == discovery.Reliable {
		return rtpswriter.Reliable
	}
	return rtpswriter.BestEffort
}

func readerReliabilityFromQoS(q discovery.ReliabilityKind) rtpsreader.ReliabilityKind {
	if q == discovery.Reliable {
		return rtpsreader.Reliable
	}
	return rtpsreader.BestEffort
}

// onParticipantLost unmatches every endpoint belonging to a lost peer and
// reports it, per spec.md §4.6's symmetric unmatch rule.
func (r *Reactor) onParticipantLost(prefix guid.Prefix) {
	r.sedp.UnmatchParticipant(prefix)
	for _, dr := range r.registry.Readers() {
		for writerGUID := range dr.Proxies() {
			if writerGUID.Prefix == prefix {
				dr.UnmatchWriter(writerGUID)
			}
		}
	}
	for _, dw := range r.registry.Writers() {
		for readerGUID := range dw.Proxies() {
			if readerGUID.Prefix == prefix {
				dw.UnmatchReader(readerGUID)
			}
		}
	}
	r.status.TrySend(status.Event{Kind: status.ParticipantLost, Entity: guid.GUID{Prefix: prefix, EntityID: guid.EntityIDParticipant}})
	if r.metrics != nil {
		r.metrics.ParticipantsKnown.Set(float64(len(r.spdp.Peers())))
	}
}

// sendData/sendHeartbeat/sendAckNack/sendGap serialize one outbound
// submessage and fan it out over the destination's locators.

func (r *Reactor) sendData(dw *entity.DataWriter, rp *rtpswriter.ReaderProxy, sn seqnum.SequenceNumber, readerGUID guid.GUID) {
	changes := dw.Core().Cache().GetRange(sn, sn)
	if len(changes) == 0 {
		return
	}
	change := changes[0]
	data := wire.Data{
		ReaderID: readerGUID.EntityID,
		WriterID: dw.GUID.EntityID,
		WriterSN: change.SN,
		KeyOnly:  change.Kind != history.Alive,
		Payload:  &wire.SerializedPayload{Representation: wire.ReprCDRLittleEndian, Data: change.Payload},
	}
	header := wire.Header{Version: wire.CurrentProtocolVersion, Vendor: wire.OurVendorID, GuidPrefix: r.localPrefix}
	sm := wire.EncodeData(data, wire.LittleEndian)
	out := wire.EncodeMessage(header, []wire.EncodedSubmessage{sm})
	r.sendToLocators(out, rp.Locators)
}

func (r *Reactor) sendHeartbeat(dw *entity.DataWriter, rp *rtpswriter.ReaderProxy, count int32, final bool) {
	cache := dw.Core().Cache()
	last := cache.HighestSN()
	first, ok := cache.LowestSN()
	if !ok {
		first = last + 1
	}
	hb := wire.Heartbeat{WriterID: dw.GUID.EntityID, FirstSN: first, LastSN: last, Count: uint32(count), Final: final}
	header := wire.Header{Version: wire.CurrentProtocolVersion, Vendor: wire.OurVendorID, GuidPrefix: r.localPrefix}
	sm := wire.EncodeHeartbeat(hb, wire.LittleEndian)
	out := wire.EncodeMessage(header, []wire.EncodedSubmessage{sm})
	r.sendToLocators(out, rp.Locators)
}

func (r *Reactor) sendAckNack(dr *entity.DataReader, wp *rtpsreader.WriterProxy, writerGUID guid.GUID, set seqnum.Set, count int32) {
	an := wire.AckNack{ReaderID: dr.GUID.EntityID, WriterID: writerGUID.EntityID, ReaderSNSet: set, Count: uint32(count), Final: true}
	header := wire.Header{Version: wire.CurrentProtocolVersion, Vendor: wire.OurVendorID, GuidPrefix: r.localPrefix}
	sm := wire.EncodeAckNack(an, wire.LittleEndian)
	out := wire.EncodeMessage(header, []wire.EncodedSubmessage{sm})
	r.sendToLocators(out, wp.Locators)
}

func (r *Reactor) sendGap(dw *entity.DataWriter, rp *rtpswriter.ReaderProxy, snList []seqnum.SequenceNumber) {
	if len(snList) == 0 {
		return
	}
	set, err := seqnum.NewSet(snList[0], snList)
	if err != nil {
		return
	}
	gap := wire.Gap{WriterID: dw.GUID.EntityID, GapStart: snList[0], GapList: set}
	header := wire.Header{Version: wire.CurrentProtocolVersion, Vendor: wire.OurVendorID, GuidPrefix: r.localPrefix}
	sm := wire.EncodeGap(gap, wire.LittleEndian)
	out := wire.EncodeMessage(header, []wire.EncodedSubmessage{sm})
	r.sendToLocators(out, rp.Locators)
}

func (r *Reactor) sendToLocators(data []byte, locators []locator.Locator) {
	if len(locators) == 0 {
		// Proxy has no known locator yet (match announced before the peer's
		// unicast locator parameters arrived); nothing to send to.
		return
	}
	if err := r.sockets.UnicastData.WriteToMany(data, locators); err != nil {
		r.log.Debugw("send failed", "error", err)
	}
}
