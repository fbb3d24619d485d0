package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateModpDHKeyPairTaggedAndRandom(t *testing.T) {
	a, err := GenerateDHKeyPair(ModpDH)
	require.NoError(t, err)
	assert.Equal(t, ModpDH, a.Algo)

	b, err := GenerateDHKeyPair(ModpDH)
	require.NoError(t, err)
	assert.NotEqual(t, a.Private, b.Private, "two independent key pairs must not share a private exponent")
}

func TestModpDHSharedSecretRejectsZeroPublicValue(t *testing.T) {
	kp, err := GenerateDHKeyPair(ModpDH)
	require.NoError(t, err)

	var zero [32]byte
	_, err = modpDHSharedSecret(kp, zero)
	assert.Error(t, err)
}

func TestSharedSecretDispatchesOnAlgo(t *testing.T) {
	a, err := GenerateDHKeyPair(ECDH)
	require.NoError(t, err)
	b, err := GenerateDHKeyPair(ECDH)
	require.NoError(t, err)

	secretA, err := SharedSecret(a, b.Public)
	require.NoError(t, err)
	secretB, err := SharedSecret(b, a.Public)
	require.NoError(t, err)
	assert.Equal(t, secretA, secretB, "ECDH shared secret must be symmetric")
}
