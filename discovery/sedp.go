package discovery

import (
	"sync"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/wire"
)

// Durability mirrors spec.md §4.6's ordered durability scale.
type Durability int

const (
	Volatile Durability = iota
	TransientLocal
	Transient
	Persistent
)

// ReliabilityKind is re-declared here (rather than imported from
// rtpsreader/rtpswriter) because SEDP must describe remote endpoints
// discovery hasn't yet instantiated proxies for.
type ReliabilityKind int

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

// EndpointQoS is the subset of QoS spec.md says affects wire behavior
// (§1 Non-goals: "no QoS policies beyond what affects wire behavior").
type EndpointQoS struct {
	Reliability       ReliabilityKind
	Durability        Durability
	OwnershipStrength int32 // higher wins; only meaningful if Ownership is EXCLUSIVE-like
	DeadlineMillis    int64 // 0 = none
	RequiresSecurity  bool
}

// EndpointBuiltinData is the SEDP publication/subscription record
// (spec.md §4.6).
type EndpointBuiltinData struct {
	GUID      guid.GUID
	TopicName string
	TypeName  string
	QoS       EndpointQoS
}

func (d EndpointBuiltinData) ToParameterList() wire.ParameterList {
	gb := d.GUID.Bytes()
	pl := wire.ParameterList{
		{ID: wire.PIDEndpointGUID, Value: gb[:]},
		{ID: wire.PIDTopicName, Value: wire.EncodeStringParameter(d.TopicName)},
		{ID: wire.PIDTypeName, Value: wire.EncodeStringParameter(d.TypeName)},
	}
	reliability := byte(0)
	if d.QoS.Reliability == Reliable {
		reliability = 1
	}
	pl = append(pl, wire.Parameter{ID: wire.PIDReliability, Value: []byte{reliability}})
	pl = append(pl, wire.Parameter{ID: wire.PIDDurability, Value: []byte{byte(d.QoS.Durability)}})
	return pl
}

func EndpointBuiltinDataFromParameterList(pl wire.ParameterList) (EndpointBuiltinData, bool) {
	var d EndpointBuiltinData
	gb, ok := pl.Get(wire.PIDEndpointGUID)
	if !ok {
		return d, false
	}
	g, err := guid.FromBytes(gb)
	if err != nil {
		return d, false
	}
	d.GUID = g
	if tb, ok := pl.Get(wire.PIDTopicName); ok {
		if s, err := wire.DecodeStringParameter(tb); err == nil {
			d.TopicName = s
		}
	}
	if tb, ok := pl.Get(wire.PIDTypeName); ok {
		if s, err := wire.DecodeStringParameter(tb); err == nil {
			d.TypeName = s
		}
	}
	if rb, ok := pl.Get(wire.PIDReliability); ok && len(rb) > 0 && rb[0] == 1 {
		d.QoS.Reliability = Reliable
	}
	if db, ok := pl.Get(wire.PIDDurability); ok && len(db) > 0 {
		d.QoS.Durability = Durability(db[0])
	}
	return d, true
}

// Compatible implements spec.md §4.6's matching rules for a (local writer,
// remote reader) pair; call with roles swapped for (local reader, remote
// writer). peerAuthenticated must be true whenever either side's QoS
// requires security.
func Compatible(writer, reader EndpointBuiltinData, peerAuthenticated bool) bool {
	if writer.TopicName != reader.TopicName || writer.TypeName != reader.TypeName {
		return false
	}
	if reader.QoS.Reliability == Reliable && writer.QoS.Reliability != Reliable {
		return false
	}
	if reader.QoS.Durability > writer.QoS.Durability {
		return false
	}
	if reader.QoS.DeadlineMillis != 0 && (writer.QoS.DeadlineMillis == 0 || reader.QoS.DeadlineMillis < writer.QoS.DeadlineMillis) {
		return false
	}
	if (writer.QoS.RequiresSecurity || reader.QoS.RequiresSecurity) && !peerAuthenticated {
		return false
	}
	return true
}

// Match is a confirmed (writer, reader) pairing, delivered to the
// application as SubscriptionMatched/PublicationMatched (spec.md §4.6).
type Match struct {
	Writer EndpointBuiltinData
	Reader EndpointBuiltinData
}

// AuthChecker reports whether a completed security handshake exists for
// the peer participant owning prefix (spec.md §4.6/§4.7). The reactor sets
// one once it's driving handshakes; a SEDP with none configured treats
// every peer as authenticated, since an engine with no security identity
// loaded can't require it of anyone either.
type AuthChecker func(prefix guid.Prefix) bool

// SEDP tracks discovered remote publications/subscriptions and runs the
// matching rules against locally registered endpoints.
type SEDP struct {
	mu                  sync.Mutex
	remotePublications  map[guid.GUID]EndpointBuiltinData
	remoteSubscriptions map[guid.GUID]EndpointBuiltinData
	localPublications   map[guid.GUID]EndpointBuiltinData
	localSubscriptions  map[guid.GUID]EndpointBuiltinData
	authChecker         AuthChecker
}

func NewSEDP() *SEDP {
	return &SEDP{
		remotePublications:  make(map[guid.GUID]EndpointBuiltinData),
		remoteSubscriptions: make(map[guid.GUID]EndpointBuiltinData),
		localPublications:   make(map[guid.GUID]EndpointBuiltinData),
		localSubscriptions:  make(map[guid.GUID]EndpointBuiltinData),
	}
}

// SetAuthChecker installs the callback Compatible's peerAuthenticated
// argument is sourced from for every match this SEDP evaluates from here
// on.
func (s *SEDP) SetAuthChecker(f AuthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authChecker = f
}

// authenticated evaluates the installed AuthChecker. Callers must already
// hold s.mu.
func (s *SEDP) authenticated(prefix guid.Prefix) bool {
	if s.authChecker == nil {
		return true
	}
	return s.authChecker(prefix)
}

// RegisterLocalWriter/RegisterLocalReader record a just-created local
// endpoint, per spec.md §4.6 "on local endpoint creation, SEDP publishes
// its EndpointBuiltinData". The caller is responsible for actually
// sending the announcement via the SEDP publications/subscriptions
// writer; this just tracks state for subsequent matching.
func (s *SEDP) RegisterLocalWriter(d EndpointBuiltinData) []Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localPublications[d.GUID] = d
	var matches []Match
	for _, remoteReader := range s.remoteSubscriptions {
		if Compatible(d, remoteReader, s.authenticated(remoteReader.GUID.Prefix)) {
			matches = append(matches, Match{Writer: d, Reader: remoteReader})
		}
	}
	return matches
}

func (s *SEDP) RegisterLocalReader(d EndpointBuiltinData) []Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSubscriptions[d.GUID] = d
	var matches []Match
	for _, remoteWriter := range s.remotePublications {
		if Compatible(remoteWriter, d, s.authenticated(remoteWriter.GUID.Prefix)) {
			matches = append(matches, Match{Writer: remoteWriter, Reader: d})
		}
	}
	return matches
}

// ReceiveRemotePublication/ReceiveRemoteSubscription process an inbound
// SEDP sample and return any newly-formed matches.
func (s *SEDP) ReceiveRemotePublication(d EndpointBuiltinData) []Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remotePublications[d.GUID] = d
	var matches []Match
	for _, localReader := range s.localSubscriptions {
		if Compatible(d, localReader, s.authenticated(d.GUID.Prefix)) {
			matches = append(matches, Match{Writer: d, Reader: localReader})
		}
	}
	return matches
}

func (s *SEDP) ReceiveRemoteSubscription(d EndpointBuiltinData) []Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteSubscriptions[d.GUID] = d
	var matches []Match
	for _, localWriter := range s.localPublications {
		if Compatible(localWriter, d, s.authenticated(d.GUID.Prefix)) {
			matches = append(matches, Match{Writer: localWriter, Reader: d})
		}
	}
	return matches
}

// UnmatchParticipant drops every remote endpoint whose GUID prefix
// matches a lost participant, per spec.md §4.6 "symmetric unmatch".
func (s *SEDP) UnmatchParticipant(prefix guid.Prefix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for g := range s.remotePublications {
		if g.Prefix == prefix {
			delete(s.remotePublications, g)
		}
	}
	for g := range s.remoteSubscriptions {
		if g.Prefix == prefix {
			delete(s.remoteSubscriptions, g)
		}
	}
}
