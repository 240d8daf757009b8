package wsproto

import (
	"bufio"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serveOneUpgrade accepts a single connection, performs the server side of
// the RFC 6455 handshake, and returns the raw net.Conn for the test to drive
// frames over.
func serveOneUpgrade(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	tp := textproto.NewReader(br)
	_, err = tp.ReadLine() // request line
	require.NoError(t, err)
	header, err := tp.ReadMIMEHeader()
	require.NoError(t, err)

	key := header.Get("Sec-Websocket-Key")
	require.NotEmpty(t, key)
	accept := acceptKey(key)

	resp := strings.Join([]string{
		"HTTP/1.1 101 Switching Protocols",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Accept: " + accept,
		"", "",
	}, "\r\n")
	_, err = conn.Write([]byte(resp))
	require.NoError(t, err)
	return conn
}

func TestConnectHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan net.Conn, 1)
	go func() {
		serverDone <- serveOneUpgrade(t, ln)
	}()

	target := "ws://" + ln.Addr().String() + "/gateway"
	c, err := Connect(target)
	require.NoError(t, err)
	defer c.Close(CloseNormal)

	serverConn := <-serverDone
	defer serverConn.Close()
}

func TestReadNextReassemblesFragments(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan net.Conn, 1)
	go func() {
		serverDone <- serveOneUpgrade(t, ln)
	}()

	c, err := Connect("ws://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	defer c.Close(CloseNormal)
	serverConn := <-serverDone
	defer serverConn.Close()

	// server sends two fragments unmasked (servers never mask).
	f1, err := encodeServerFrame(false, OpText, []byte("hello "))
	require.NoError(t, err)
	f2, err := encodeServerFrame(true, OpContinuation, []byte("world"))
	require.NoError(t, err)
	_, err = serverConn.Write(f1)
	require.NoError(t, err)
	_, err = serverConn.Write(f2)
	require.NoError(t, err)

	done := make(chan Message, 1)
	go func() {
		msg, rerr := c.ReadNext()
		require.NoError(t, rerr)
		done <- msg
	}()

	select {
	case msg := <-done:
		require.Equal(t, "hello world", string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reassembled message")
	}
}

func TestReadNextSurfacesCloseAfterReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan net.Conn, 1)
	go func() {
		serverDone <- serveOneUpgrade(t, ln)
	}()

	c, err := Connect("ws://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	serverConn := <-serverDone
	defer serverConn.Close()

	payload := []byte{0x0F, 0xA0} // 4000
	f, err := encodeServerFrame(true, OpClose, payload)
	require.NoError(t, err)
	_, err = serverConn.Write(f)
	require.NoError(t, err)

	_, err = c.ReadNext()
	var closed *Closed
	require.ErrorAs(t, err, &closed)
	require.Equal(t, CloseCode(4000), closed.Code)
}

// encodeServerFrame renders an unmasked frame, as a spec-compliant server
// would send (only clients mask).
func encodeServerFrame(fin bool, op Opcode, payload []byte) ([]byte, error) {
	b0 := byte(op)
	if fin {
		b0 |= 0x80
	}
	out := []byte{b0, byte(len(payload))}
	out = append(out, payload...)
	return out, nil
}
