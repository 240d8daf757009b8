package voicegateway

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/discord-voice-lab/internal/wsproto"
	"github.com/stretchr/testify/require"
)

func acceptAndUpgrade(t *testing.T, ln net.Listener) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	br := bufio.NewReader(conn)
	tp := textproto.NewReader(br)
	_, err = tp.ReadLine()
	require.NoError(t, err)
	header, err := tp.ReadMIMEHeader()
	require.NoError(t, err)
	// the client verifies this value, so it must be the real RFC 6455 digest
	sum := sha1.Sum([]byte(header.Get("Sec-Websocket-Key") + "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"))
	resp := strings.Join([]string{
		"HTTP/1.1 101 Switching Protocols",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Accept: " + base64.StdEncoding.EncodeToString(sum[:]),
		"", "",
	}, "\r\n")
	_, err = conn.Write([]byte(resp))
	require.NoError(t, err)
	return conn, br
}

func writeServerPayload(t *testing.T, conn net.Conn, p Payload) {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	b0 := byte(wsproto.OpText) | 0x80
	frame := append([]byte{b0, byte(len(b))}, b...)
	_, err = conn.Write(frame)
	require.NoError(t, err)
}

func readClientPayload(t *testing.T, r *bufio.Reader) Payload {
	t.Helper()
	fr := wsproto.NewFrameReader(r)
	f, err := fr.ReadFrame()
	require.NoError(t, err)
	var p Payload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	return p
}

func TestIdentifyAndReadyTransitionsState(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	serverBrCh := make(chan *bufio.Reader, 1)
	go func() {
		conn, br := acceptAndUpgrade(t, ln)
		serverConnCh <- conn
		serverBrCh <- br
	}()

	v := New(ln.Addr().String(), "guild1", "user1", "sess1", "tok")
	require.NoError(t, v.Connect(context.Background()))
	defer v.Close()

	serverConn := <-serverConnCh
	br := <-serverBrCh
	defer serverConn.Close()

	writeServerPayload(t, serverConn, Payload{Op: OpHello, D: json.RawMessage(`{"heartbeat_interval":10000}`)})

	identify := readClientPayload(t, br)
	require.Equal(t, OpIdentify, identify.Op)
	require.Eventually(t, func() bool { return v.State() == StateIdentified }, time.Second, time.Millisecond)
}
