package locator

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromUDPAddrV4RoundTrip(t *testing.T) {
	loc := FromUDPAddr(&net.UDPAddr{IP: net.IPv4(192, 168, 1, 5), Port: 7411})
	assert.Equal(t, KindUDPv4, loc.Kind)
	assert.Equal(t, uint32(7411), loc.Port)
	assert.True(t, loc.IP().Equal(net.IPv4(192, 168, 1, 5)))
	assert.Equal(t, "192.168.1.5:7411", loc.String())
}

func TestPortParamsMatchRTPSPSM(t *testing.T) {
	p := DefaultPortParams
	assert.Equal(t, 7400, p.SPDPMulticastPort(0))
	assert.Equal(t, 7410, p.SPDPUnicastPort(0, 0))
	assert.Equal(t, 7412, p.SPDPUnicastPort(0, 1))
	assert.Equal(t, 7650, p.SPDPMulticastPort(1))
}

func TestDefaultSPDPMulticastLocator(t *testing.T) {
	group := net.IPv4(239, 255, 0, 1)
	loc := DefaultSPDPMulticastLocator(0, group)
	assert.Equal(t, KindUDPv4, loc.Kind)
	assert.Equal(t, uint32(7400), loc.Port)
	assert.True(t, loc.IP().Equal(group))
}

func TestLocatorEncodeDecodeRoundTrip(t *testing.T) {
	loc := FromUDPAddr(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 9999})
	buf := loc.Encode()
	require.Len(t, buf, WireSize)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, loc, got)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, WireSize-1))
	assert.Error(t, err)
}
