// Package discovery implements SPDP participant discovery and SEDP
// endpoint discovery (spec.md §4.6), grounded on burgrp-surp-go's periodic
// multicast advertisement loop (pkg/surp.go: a register/sync/control
// three-op UDP broadcast with its own lease-refresh semantics) for the
// announce/listen/lease-timer shape, and on RustDDS's
// SpdpDiscoveredParticipantData (referenced from
// security/authentication_builtin/authentication.rs) for the
// ParticipantBuiltinData field set.
package discovery

import (
	"sync"
	"time"

	"github.com/rtpsmw/rtpsmw/guid"
	"github.com/rtpsmw/rtpsmw/locator"
	"github.com/rtpsmw/rtpsmw/wire"
)

// DefaultAnnouncePeriod and DefaultLeaseDuration match spec.md §4.6's
// defaults (5s announcement, 20s lease per §5).
const (
	DefaultAnnouncePeriod = 5 * time.Second
	DefaultLeaseDuration  = 20 * time.Second
)

// ParticipantBuiltinData is the SPDP announcement record (spec.md §4.6).
type ParticipantBuiltinData struct {
	GuidPrefix          guid.Prefix
	ProtocolVersion     wire.ProtocolVersion
	VendorID            wire.VendorID
	DefaultUnicastLoc   []locator.Locator
	DefaultMulticastLoc []locator.Locator
	LeaseDuration       time.Duration
	SecuritySupported   bool
	EntityName          string
}

func (d ParticipantBuiltinData) ToParameterList() wire.ParameterList {
	var pl wire.ParameterList
	g := guid.GUID{Prefix: d.GuidPrefix, EntityID: guid.EntityIDParticipant}
	gb := g.Bytes()
	pl = append(pl, wire.Parameter{ID: wire.PIDParticipantGUID, Value: gb[:]})
	for _, l := range d.DefaultUnicastLoc {
		pl = append(pl, wire.Parameter{ID: wire.PIDDefaultUnicastLocator, Value: l.Encode()})
	}
	for _, l := range d.DefaultMulticastLoc {
		pl = append(pl, wire.Parameter{ID: wire.PIDDefaultMulticastLocator, Value: l.Encode()})
	}
	if d.EntityName != "" {
		pl = append(pl, wire.Parameter{ID: wire.PIDTopicName, Value: wire.EncodeStringParameter(d.EntityName)})
	}
	return pl
}

func ParticipantBuiltinDataFromParameterList(pl wire.ParameterList) (ParticipantBuiltinData, bool) {
	var d ParticipantBuiltinData
	guidBytes, ok := pl.Get(wire.PIDParticipantGUID)
	if !ok || len(guidBytes) < guid.Length {
		return d, false
	}
	g, err := guid.FromBytes(guidBytes)
	if err != nil {
		return d, false
	}
	d.GuidPrefix = g.Prefix
	for _, p := range pl {
		switch p.ID {
		case wire.PIDDefaultUnicastLocator:
			if loc, err := locator.Decode(p.Value); err == nil {
				d.DefaultUnicastLoc = append(d.DefaultUnicastLoc, loc)
			}
		case wire.PIDDefaultMulticastLocator:
			if loc, err := locator.Decode(p.Value); err == nil {
				d.DefaultMulticastLoc = append(d.DefaultMulticastLoc, loc)
			}
		}
	}
	return d, true
}

// RemoteParticipant tracks one peer discovered via SPDP, with its lease
// timer (spec.md §4.6: "missed lease => PARTICIPANT_LOST").
type RemoteParticipant struct {
	Data       ParticipantBuiltinData
	lastSeen   time.Time
	leaseTimer time.Duration
}

// SPDP owns the set of remote participants known via the built-in SPDP
// writer/reader, matching spec.md §4.6's "single built-in BEST_EFFORT
// writer and reader per participant" model.
type SPDP struct {
	mu    sync.Mutex
	local ParticipantBuiltinData
	peers map[guid.Prefix]*RemoteParticipant
}

func NewSPDP(local ParticipantBuiltinData) *SPDP {
	return &SPDP{local: local, peers: make(map[guid.Prefix]*RemoteParticipant)}
}

// AnnouncementPayload returns the PL_CDR bytes to send as this
// participant's periodic SPDP DATA sample.
func (s *SPDP) AnnouncementPayload() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.EncodeParameterList(s.local.ToParameterList(), wire.LittleEndian)
}

// ReceiveAnnouncement processes one remote SPDP sample: starts or
// refreshes that peer's lease timer.
func (s *SPDP) ReceiveAnnouncement(pl wire.ParameterList, now time.Time) (ParticipantBuiltinData, bool) {
	data, ok := ParticipantBuiltinDataFromParameterList(pl)
	if !ok || data.GuidPrefix == s.local.GuidPrefix {
		return ParticipantBuiltinData{}, false
	}
	lease := data.LeaseDuration
	if lease == 0 {
		lease = DefaultLeaseDuration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[data.GuidPrefix] = &RemoteParticipant{Data: data, lastSeen: now, leaseTimer: lease}
	return data, true
}

// ExpireLeases returns the prefixes of every peer whose lease has lapsed
// since now, removing them from the known-peers table (caller emits
// PARTICIPANT_LOST and unmatches endpoints).
func (s *SPDP) ExpireLeases(now time.Time) []guid.Prefix {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lost []guid.Prefix
	for prefix, rp := range s.peers {
		if now.Sub(rp.lastSeen) > rp.leaseTimer {
			lost = append(lost, prefix)
			delete(s.peers, prefix)
		}
	}
	return lost
}

func (s *SPDP) Peer(prefix guid.Prefix) (*RemoteParticipant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp, ok := s.peers[prefix]
	return rp, ok
}

func (s *SPDP) Peers() []*RemoteParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RemoteParticipant, 0, len(s.peers))
	for _, rp := range s.peers {
		out = append(out, rp)
	}
	return out
}
