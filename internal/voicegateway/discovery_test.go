package voicegateway

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiscoverExternalAddressParsesResponse(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer serverConn.Close()

	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, discoveryPacketSize)
		n, addr, rerr := serverConn.ReadFromUDP(buf)
		require.NoError(t, rerr)
		require.Equal(t, discoveryPacketSize, n)
		require.Equal(t, byte(0xCA), buf[0])

		resp := make([]byte, discoveryPacketSize)
		copy(resp[4:], "203.0.113.5")
		resp[68] = 0x39 // port 12345 = 0x3039, low byte
		resp[69] = 0x30
		_, werr := serverConn.WriteToUDP(resp, addr)
		require.NoError(t, werr)
	}()

	ip, port, err := discoverExternalAddress(clientConn, 0xCAFEBABE)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.5", ip)
	require.Equal(t, 0x3039, port)
	<-done
}

func TestDiscoverExternalAddressTimesOutAndFails(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer conn.Close()
	// nobody replies: after discoveryRetries attempts this must fail.
	_, _, err = discoverExternalAddress(conn, 1)
	require.ErrorIs(t, err, ErrIPDiscoveryFailed)
}
