package security

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/rtpsmw/rtpsmw/guid"
)

// HandshakeTimeout is the overall per-peer handshake deadline (spec.md
// §5: "overall handshake times out after 60s").
const HandshakeTimeout = 60 * time.Second

// PeerSession tracks one remote participant's handshake progress and, on
// completion, its derived shared secret — the local analogue of
// authentication.rs's RemoteParticipantInfo.
type PeerSession struct {
	RemotePrefix guid.Prefix
	State        HandshakeState
	StartedAt    time.Time

	dh        DHKeyPair
	request   HandshakeRequestToken
	reply     HandshakeReplyToken
	challenge1 Challenge

	Secret *SharedSecretHandle
}

// NewPeerSession creates the handshake-tracking record for a newly SPDP-
// matched peer that advertises security support, in the appropriate
// initial state per spec.md §4.7's initiator rule.
func NewPeerSession(localPrefix, remotePrefix guid.Prefix, now time.Time) *PeerSession {
	state := PendingRequestMessage
	if Initiator(localPrefix, remotePrefix) {
		state = PendingRequestSend
	}
	return &PeerSession{RemotePrefix: remotePrefix, State: state, StartedAt: now}
}

func (ps *PeerSession) Expired(now time.Time) bool {
	return ps.State != CompletedWithFinalMessageSent && ps.State != CompletedWithFinalMessageReceived &&
		now.Sub(ps.StartedAt) > HandshakeTimeout
}

// BeginRequest drives PendingRequestSend -> PendingReplyMessage: builds and
// returns the request token to send to the peer (spec.md §4.7 step 1).
func (ps *PeerSession) BeginRequest(localCertPEM, localPermissionsDoc, localParticipantData []byte, sigAlgo string, kagreeAlgo KeyAgreementAlgo) (HandshakeRequestToken, error) {
	if ps.State != PendingRequestSend {
		return HandshakeRequestToken{}, fmt.Errorf("security: BeginRequest called in state %s", ps.State)
	}
	dh1, err := GenerateDHKeyPair(kagreeAlgo)
	if err != nil {
		return HandshakeRequestToken{}, err
	}
	req, challenge1, err := NewHandshakeRequestToken(localCertPEM, localPermissionsDoc, localParticipantData, sigAlgo, kagreeAlgo, dh1)
	if err != nil {
		return HandshakeRequestToken{}, err
	}
	ps.dh = dh1
	ps.request = req
	ps.challenge1 = challenge1
	ps.State = PendingReplyMessage
	return req, nil
}

// OnRequest drives PendingRequestMessage -> PendingFinalMessage (responder
// side, spec.md §4.7 step 2).
func (ps *PeerSession) OnRequest(req HandshakeRequestToken, localCertPEM, localPermissionsDoc, localParticipantData []byte, sigAlgo string, signer *ecdsa.PrivateKey) (HandshakeReplyToken, error) {
	if ps.State != PendingRequestMessage {
		return HandshakeReplyToken{}, fmt.Errorf("security: OnRequest called in state %s", ps.State)
	}
	reply, dh2, err := BeginHandshakeReply(req, localCertPEM, localPermissionsDoc, localParticipantData, sigAlgo, signer)
	if err != nil {
		return HandshakeReplyToken{}, err
	}
	ps.request = req
	ps.dh = dh2
	ps.reply = reply
	ps.State = PendingFinalMessage
	return reply, nil
}

// OnReply drives PendingReplyMessage -> CompletedWithFinalMessageSent
// (initiator side, spec.md §4.7 step 3).
func (ps *PeerSession) OnReply(reply HandshakeReplyToken, peerPublicKey *ecdsa.PublicKey, localSigner *ecdsa.PrivateKey) (HandshakeFinalToken, error) {
	if ps.State != PendingReplyMessage {
		return HandshakeFinalToken{}, fmt.Errorf("security: OnReply called in state %s", ps.State)
	}
	final, secret, err := ProcessHandshakeReply(ps.request, ps.dh, reply, peerPublicKey, localSigner)
	if err != nil {
		return HandshakeFinalToken{}, err
	}
	ps.reply = reply
	ps.Secret = &SharedSecretHandle{Challenge1: ps.request.Challenge1, Challenge2: reply.Challenge2, SharedSecret: secret}
	ps.State = CompletedWithFinalMessageSent
	return final, nil
}

// OnFinal drives PendingFinalMessage -> CompletedWithFinalMessageReceived
// (responder side, spec.md §4.7 step 4).
func (ps *PeerSession) OnFinal(final HandshakeFinalToken, peerPublicKey *ecdsa.PublicKey) error {
	if ps.State != PendingFinalMessage {
		return fmt.Errorf("security: OnFinal called in state %s", ps.State)
	}
	secret, err := ProcessHandshakeFinal(ps.request, ps.reply, ps.dh, final, peerPublicKey)
	if err != nil {
		return err
	}
	ps.Secret = &SharedSecretHandle{Challenge1: ps.request.Challenge1, Challenge2: ps.reply.Challenge2, SharedSecret: secret}
	ps.State = CompletedWithFinalMessageReceived
	return nil
}

func (ps *PeerSession) Completed() bool {
	return ps.State == CompletedWithFinalMessageSent || ps.State == CompletedWithFinalMessageReceived
}

// PeerIdentityCertPEM returns the remote peer's identity certificate PEM
// from the request token exchanged earlier in this session: the responder
// needs it to verify the initiator's final-message signature (spec.md
// §4.7 step 4), having only ever seen it inside that request.
func (ps *PeerSession) PeerIdentityCertPEM() []byte {
	return ps.request.IdentityCertPEM
}

// SelfAuthenticate synthesizes a loopback shared secret for the local
// participant's own identity, so the engine can treat locally-hosted
// readers/writers on the same participant as already-authenticated
// without running the full handshake against itself — ported from
// authentication.rs's validate_local_identity, which generates three
// random 32-byte values and inserts a self RemoteParticipantInfo keyed by
// the local identity handle precisely so self-matching endpoints don't
// need a real peer handshake.
func SelfAuthenticate(localPrefix guid.Prefix) (*PeerSession, error) {
	var c1, c2, secret [32]byte
	for _, b := range [][]byte{c1[:], c2[:], secret[:]} {
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("security: generate self-authentication material: %w", err)
		}
	}
	return &PeerSession{
		RemotePrefix: localPrefix,
		State:        CompletedWithFinalMessageReceived,
		StartedAt:    time.Now(),
		Secret:       &SharedSecretHandle{Challenge1: Challenge(c1), Challenge2: Challenge(c2), SharedSecret: secret[:]},
	}, nil
}
