package rtpserrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorUnwrapsToCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(KindTransport, "transport.Bind", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transport.Bind")
	assert.Contains(t, err.Error(), "transport")
}

func TestIsMatchesWrappedKind(t *testing.T) {
	err := New(KindResourceLimit, "history.Insert", nil)
	assert.True(t, Is(err, KindResourceLimit))
	assert.False(t, Is(err, KindTimeout))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindTransport))
}

func TestKindStringCoversAllValues(t *testing.T) {
	kinds := []Kind{
		KindWireFormat, KindSerialization, KindResourceLimit, KindTimeout,
		KindQosIncompatible, KindAuthenticationFailure, KindPermissionsDenied,
		KindTransport, KindIllegalOperation,
	}
	for _, k := range kinds {
		assert.NotEqual(t, "unknown", k.String())
	}
	assert.Equal(t, "unknown", Kind(999).String())
}
