package rtp

import (
	"encoding/hex"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeMatchesWorkedExample(t *testing.T) {
	h := Header{Sequence: 0x1234, Timestamp: 0xDEADBEEF, SSRC: 0xCAFEBABE}
	got := hex.EncodeToString(h.Encode())
	require.Equal(t, "80781234deadbeefcafebabe", got)
}

func TestSequenceAndTimestampAdvanceMonotonically(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer serverConn.Close()
	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	var key SecretKey
	s := NewSender(clientConn, 0xCAFEBABE, key)
	startSeq, startTS := s.sequence, s.timestamp

	require.NoError(t, s.Send(make([]byte, 20), 960))
	require.Equal(t, startSeq+1, s.sequence)
	require.Equal(t, startTS+960, s.timestamp)

	require.NoError(t, s.Send(make([]byte, 20), 960))
	require.Equal(t, startSeq+2, s.sequence)
	require.Equal(t, startTS+1920, s.timestamp)
}

func TestNewSenderSeedsPseudoRandomStart(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer serverConn.Close()
	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	var key SecretKey
	seenSeq, seenTS := false, false
	for i := 0; i < 8; i++ {
		s := NewSender(clientConn, 1, key)
		if s.sequence != 0 {
			seenSeq = true
		}
		if s.timestamp != 0 {
			seenTS = true
		}
	}
	require.True(t, seenSeq, "sequence should not always start at zero")
	require.True(t, seenTS, "timestamp should not always start at zero")
}

func TestSequenceWrapsModulo16Bit(t *testing.T) {
	h := Header{Sequence: 0xFFFF, Timestamp: 0, SSRC: 1}
	_ = h.Encode()
	s := &Sender{sequence: 0xFFFF}
	s.sequence++
	require.Equal(t, uint16(0), s.sequence)
}
