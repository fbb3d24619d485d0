package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtpsmw/rtpsmw/locator"
)

func TestBindReadWriteRoundTrip(t *testing.T) {
	a, err := Bind(0)
	require.NoError(t, err)
	defer a.Close()
	b, err := Bind(0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.WriteTo([]byte("hello"), a.Local()))

	buf := make([]byte, MaxDatagramSize)
	require.NoError(t, a.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := a.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, b.Local().Port, from.Port)
}

func TestReadFromTimeoutWrapsNetError(t *testing.T) {
	s, err := Bind(0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.conn.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	buf := make([]byte, MaxDatagramSize)
	_, _, err = s.ReadFrom(buf)
	require.Error(t, err)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr), "ReadFrom's wrapped error must still unwrap to net.Error")
	assert.True(t, netErr.Timeout())
}

func TestWriteToManyFansOutToAllDestinations(t *testing.T) {
	a, err := Bind(0)
	require.NoError(t, err)
	defer a.Close()
	b, err := Bind(0)
	require.NoError(t, err)
	defer b.Close()
	sender, err := Bind(0)
	require.NoError(t, err)
	defer sender.Close()

	require.NoError(t, sender.WriteToMany([]byte("x"), []locator.Locator{a.Local(), b.Local()}))

	buf := make([]byte, MaxDatagramSize)
	require.NoError(t, a.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := a.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf[:n]))

	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err = b.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf[:n]))
}
