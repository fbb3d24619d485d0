package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullHandshakeDerivesMatchingSharedSecret(t *testing.T) {
	initiatorKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	responderKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	dh1, err := GenerateDHKeyPair(ECDH)
	require.NoError(t, err)
	req, _, err := NewHandshakeRequestToken([]byte("initiator-cert"), []byte("perms"), []byte("pdata"), "ECDSA", ECDH, dh1)
	require.NoError(t, err)

	reply, dh2, err := BeginHandshakeReply(req, []byte("responder-cert"), []byte("perms2"), []byte("pdata2"), "ECDSA", responderKey)
	require.NoError(t, err)

	final, secretInitiator, err := ProcessHandshakeReply(req, dh1, reply, &responderKey.PublicKey, initiatorKey)
	require.NoError(t, err)

	secretResponder, err := ProcessHandshakeFinal(req, reply, dh2, final, &initiatorKey.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, secretInitiator, secretResponder)
}

func TestBeginHandshakeReplyRejectsForgedHashC1(t *testing.T) {
	responderKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	dh1, err := GenerateDHKeyPair(ECDH)
	require.NoError(t, err)
	req, _, err := NewHandshakeRequestToken([]byte("cert"), nil, nil, "ECDSA", ECDH, dh1)
	require.NoError(t, err)

	req.HashC1[0] ^= 0xFF // corrupt the integrity hash
	_, _, err = BeginHandshakeReply(req, []byte("resp-cert"), nil, nil, "ECDSA", responderKey)
	assert.Error(t, err)
}

func TestProcessHandshakeReplyRejectsAlgorithmSwitch(t *testing.T) {
	initiatorKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	responderKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	dh1, err := GenerateDHKeyPair(ECDH)
	require.NoError(t, err)
	req, _, err := NewHandshakeRequestToken([]byte("cert"), nil, nil, "ECDSA", ECDH, dh1)
	require.NoError(t, err)

	reply, _, err := BeginHandshakeReply(req, []byte("resp-cert"), nil, nil, "ECDSA", responderKey)
	require.NoError(t, err)
	reply.KeyAgreeAlgo = ModpDH

	_, _, err = ProcessHandshakeReply(req, dh1, reply, &responderKey.PublicKey, initiatorKey)
	assert.Error(t, err)
}

func TestProcessHandshakeReplyRejectsBadSignature(t *testing.T) {
	initiatorKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	responderKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	wrongKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	dh1, err := GenerateDHKeyPair(ECDH)
	require.NoError(t, err)
	req, _, err := NewHandshakeRequestToken([]byte("cert"), nil, nil, "ECDSA", ECDH, dh1)
	require.NoError(t, err)
	reply, _, err := BeginHandshakeReply(req, []byte("resp-cert"), nil, nil, "ECDSA", responderKey)
	require.NoError(t, err)

	_, _, err = ProcessHandshakeReply(req, dh1, reply, &wrongKey.PublicKey, initiatorKey)
	assert.Error(t, err)
}

func TestInitiatorPicksLexicographicallySmallerPrefix(t *testing.T) {
	var small, large [12]byte
	large[0] = 0xFF
	assert.True(t, Initiator(small, large))
	assert.False(t, Initiator(large, small))
}

func TestDeriveKeyMaterialIsDeterministicPerInfo(t *testing.T) {
	h := SharedSecretHandle{SharedSecret: []byte("secret")}
	a, err := h.DeriveKeyMaterial("session-key", 32)
	require.NoError(t, err)
	b, err := h.DeriveKeyMaterial("session-key", 32)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := h.DeriveKeyMaterial("other-info", 32)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
