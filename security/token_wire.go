package security

import (
	"fmt"

	"github.com/rtpsmw/rtpsmw/wire"
)

// Handshake message kinds, tagged via PIDHandshakeKind so the three token
// types can share one builtin endpoint (ENTITYID_P2P_BUILTIN_PARTICIPANT_
// STATELESS_MESSAGE_WRITER/READER) instead of needing one each.
const (
	HandshakeMessageRequest byte = 0
	HandshakeMessageReply   byte = 1
	HandshakeMessageFinal   byte = 2
)

// PeekHandshakeKind decodes just enough of a stateless-message DATA payload
// to learn which token type it carries, returning the parameter list so the
// caller's subsequent Decode*Token call doesn't re-parse it.
func PeekHandshakeKind(data []byte, endian wire.Endian) (byte, wire.ParameterList, error) {
	pl, err := wire.DecodeParameterList(data, endian)
	if err != nil {
		return 0, nil, err
	}
	kind, ok := pl.Get(wire.PIDHandshakeKind)
	if !ok || len(kind) == 0 {
		return 0, nil, fmt.Errorf("security: handshake message missing PID_HANDSHAKE_KIND")
	}
	return kind[0], pl, nil
}

func EncodeHandshakeRequestToken(t HandshakeRequestToken) []byte {
	pl := wire.ParameterList{
		{ID: wire.PIDHandshakeKind, Value: []byte{HandshakeMessageRequest}},
		{ID: wire.PIDIdentityCertPEM, Value: t.IdentityCertPEM},
		{ID: wire.PIDPermissionsDoc, Value: t.PermissionsDoc},
		{ID: wire.PIDHandshakeParticipantData, Value: t.ParticipantData},
		{ID: wire.PIDSignatureAlgo, Value: wire.EncodeStringParameter(t.SignatureAlgo)},
		{ID: wire.PIDKeyAgreeAlgo, Value: []byte{byte(t.KeyAgreeAlgo)}},
		{ID: wire.PIDChallenge1, Value: t.Challenge1[:]},
		{ID: wire.PIDDH1, Value: t.DH1[:]},
		{ID: wire.PIDHashC1, Value: t.HashC1[:]},
	}
	return wire.EncodeParameterList(pl, wire.LittleEndian)
}

func DecodeHandshakeRequestTokenFrom(pl wire.ParameterList) (HandshakeRequestToken, error) {
	var t HandshakeRequestToken
	t.IdentityCertPEM, _ = pl.Get(wire.PIDIdentityCertPEM)
	t.PermissionsDoc, _ = pl.Get(wire.PIDPermissionsDoc)
	t.ParticipantData, _ = pl.Get(wire.PIDHandshakeParticipantData)
	if sa, ok := pl.Get(wire.PIDSignatureAlgo); ok {
		if s, err := wire.DecodeStringParameter(sa); err == nil {
			t.SignatureAlgo = s
		}
	}
	if ka, ok := pl.Get(wire.PIDKeyAgreeAlgo); ok && len(ka) > 0 {
		t.KeyAgreeAlgo = KeyAgreementAlgo(ka[0])
	}
	var err error
	if t.Challenge1, err = decodeChallenge(pl, wire.PIDChallenge1); err != nil {
		return HandshakeRequestToken{}, err
	}
	if t.DH1, err = decodeFixed32(pl, wire.PIDDH1); err != nil {
		return HandshakeRequestToken{}, err
	}
	if t.HashC1, err = decodeFixed32(pl, wire.PIDHashC1); err != nil {
		return HandshakeRequestToken{}, err
	}
	return t, nil
}

func EncodeHandshakeReplyToken(t HandshakeReplyToken) []byte {
	pl := wire.ParameterList{
		{ID: wire.PIDHandshakeKind, Value: []byte{HandshakeMessageReply}},
		{ID: wire.PIDIdentityCertPEM, Value: t.IdentityCertPEM},
		{ID: wire.PIDPermissionsDoc, Value: t.PermissionsDoc},
		{ID: wire.PIDHandshakeParticipantData, Value: t.ParticipantData},
		{ID: wire.PIDSignatureAlgo, Value: wire.EncodeStringParameter(t.SignatureAlgo)},
		{ID: wire.PIDKeyAgreeAlgo, Value: []byte{byte(t.KeyAgreeAlgo)}},
		{ID: wire.PIDChallenge2, Value: t.Challenge2[:]},
		{ID: wire.PIDDH2, Value: t.DH2[:]},
		{ID: wire.PIDHashC2, Value: t.HashC2[:]},
		{ID: wire.PIDHandshakeSignature, Value: t.Signature},
	}
	return wire.EncodeParameterList(pl, wire.LittleEndian)
}

func DecodeHandshakeReplyTokenFrom(pl wire.ParameterList) (HandshakeReplyToken, error) {
	var t HandshakeReplyToken
	t.IdentityCertPEM, _ = pl.Get(wire.PIDIdentityCertPEM)
	t.PermissionsDoc, _ = pl.Get(wire.PIDPermissionsDoc)
	t.ParticipantData, _ = pl.Get(wire.PIDHandshakeParticipantData)
	if sa, ok := pl.Get(wire.PIDSignatureAlgo); ok {
		if s, err := wire.DecodeStringParameter(sa); err == nil {
			t.SignatureAlgo = s
		}
	}
	if ka, ok := pl.Get(wire.PIDKeyAgreeAlgo); ok && len(ka) > 0 {
		t.KeyAgreeAlgo = KeyAgreementAlgo(ka[0])
	}
	var err error
	if t.Challenge2, err = decodeChallenge(pl, wire.PIDChallenge2); err != nil {
		return HandshakeReplyToken{}, err
	}
	if t.DH2, err = decodeFixed32(pl, wire.PIDDH2); err != nil {
		return HandshakeReplyToken{}, err
	}
	if t.HashC2, err = decodeFixed32(pl, wire.PIDHashC2); err != nil {
		return HandshakeReplyToken{}, err
	}
	sig, ok := pl.Get(wire.PIDHandshakeSignature)
	if !ok {
		return HandshakeReplyToken{}, fmt.Errorf("security: reply token missing signature")
	}
	t.Signature = sig
	return t, nil
}

func EncodeHandshakeFinalToken(t HandshakeFinalToken) []byte {
	pl := wire.ParameterList{
		{ID: wire.PIDHandshakeKind, Value: []byte{HandshakeMessageFinal}},
		{ID: wire.PIDHandshakeSignature, Value: t.Signature},
	}
	return wire.EncodeParameterList(pl, wire.LittleEndian)
}

func DecodeHandshakeFinalTokenFrom(pl wire.ParameterList) (HandshakeFinalToken, error) {
	sig, ok := pl.Get(wire.PIDHandshakeSignature)
	if !ok {
		return HandshakeFinalToken{}, fmt.Errorf("security: final token missing signature")
	}
	return HandshakeFinalToken{Signature: sig}, nil
}

func decodeFixed32(pl wire.ParameterList, id wire.ParameterID) ([32]byte, error) {
	var out [32]byte
	v, ok := pl.Get(id)
	if !ok || len(v) < 32 {
		return out, fmt.Errorf("security: missing or short parameter %s", id)
	}
	copy(out[:], v)
	return out, nil
}

func decodeChallenge(pl wire.ParameterList, id wire.ParameterID) (Challenge, error) {
	v, err := decodeFixed32(pl, id)
	return Challenge(v), err
}
