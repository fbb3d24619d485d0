package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmw/rtpsmw/guid"
)

func TestNewPeerSessionPicksInitialStateByPrefixOrdering(t *testing.T) {
	var smaller, larger guid.Prefix
	larger[0] = 0xFF

	initiatorSide := NewPeerSession(smaller, larger, time.Now())
	assert.Equal(t, PendingRequestSend, initiatorSide.State)

	responderSide := NewPeerSession(larger, smaller, time.Now())
	assert.Equal(t, PendingRequestMessage, responderSide.State)
}

func TestPeerSessionExpiredAfterHandshakeTimeout(t *testing.T) {
	ps := NewPeerSession(guid.Prefix{}, guid.Prefix{1}, time.Now())
	start := ps.StartedAt
	assert.False(t, ps.Expired(start.Add(HandshakeTimeout-time.Second)))
	assert.True(t, ps.Expired(start.Add(HandshakeTimeout+time.Second)))
}

func TestPeerSessionFullHandshakeCompletesAndAgreesSecret(t *testing.T) {
	var localPrefix guid.Prefix
	remotePrefix := guid.Prefix{0xFF}

	initiator := NewPeerSession(localPrefix, remotePrefix, time.Now())
	responder := NewPeerSession(remotePrefix, localPrefix, time.Now())
	require.Equal(t, PendingRequestSend, initiator.State)
	require.Equal(t, PendingRequestMessage, responder.State)

	initiatorKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	responderKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	req, err := initiator.BeginRequest([]byte("init-cert"), nil, nil, "ECDSA", ECDH)
	require.NoError(t, err)
	assert.Equal(t, PendingReplyMessage, initiator.State)

	reply, err := responder.OnRequest(req, []byte("resp-cert"), nil, nil, "ECDSA", responderKey)
	require.NoError(t, err)
	assert.Equal(t, PendingFinalMessage, responder.State)

	final, err := initiator.OnReply(reply, &responderKey.PublicKey, initiatorKey)
	require.NoError(t, err)
	assert.True(t, initiator.Completed())

	err = responder.OnFinal(final, &initiatorKey.PublicKey)
	require.NoError(t, err)
	assert.True(t, responder.Completed())

	require.NotNil(t, initiator.Secret)
	require.NotNil(t, responder.Secret)
	assert.Equal(t, initiator.Secret.SharedSecret, responder.Secret.SharedSecret)
}

func TestSelfAuthenticateCompletesImmediately(t *testing.T) {
	ps, err := SelfAuthenticate(guid.NewPrefix())
	require.NoError(t, err)
	assert.True(t, ps.Completed())
	require.NotNil(t, ps.Secret)
	assert.Len(t, ps.Secret.SharedSecret, 32)
}
