package gateway

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

	"github.com/discord-voice-lab/internal/model"
	"github.com/discord-voice-lab/internal/wsproto"
	"github.com/stretchr/testify/require"
)

// readClientPayload reads one client-to-server frame off r (must be
// masked, per RFC 6455) and returns its decoded Payload.
func readClientPayload(t *testing.T, r *bufio.Reader) Payload {
	t.Helper()
	fr := wsproto.NewFrameReader(r)
	f, err := fr.ReadFrame()
	require.NoError(t, err)
	var p Payload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	return p
}

func writeServerPayload(t *testing.T, conn net.Conn, p Payload) {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	frame := encodeUnmaskedFrame(true, wsproto.OpText, b)
	_, err = conn.Write(frame)
	require.NoError(t, err)
}

func encodeUnmaskedFrame(fin bool, op wsproto.Opcode, payload []byte) []byte {
	b0 := byte(op)
	if fin {
		b0 |= 0x80
	}
	var out []byte
	switch {
	case len(payload) < 126:
		out = []byte{b0, byte(len(payload))}
	case len(payload) < 65536:
		out = []byte{b0, 126, byte(len(payload) >> 8), byte(len(payload))}
	default:
		out = []byte{b0, 127, 0, 0, 0, 0, byte(len(payload) >> 24), byte(len(payload) >> 16), byte(len(payload) >> 8), byte(len(payload))}
	}
	out = append(out, payload...)
	return out
}

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

func TestConnectIdentifyReady(t *testing.T) {
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

	store := model.NewGatewayStore()
	g := New("faketoken.faketoken.faketokenfaketokenfaketoken", "ws://"+ln.Addr().String()+"/gateway", store)
	g.pacerGap = time.Millisecond

	readyCh := make(chan struct{}, 1)
	g.On("READY", func(ctx context.Context, gw *Gateway, event string, data json.RawMessage) {
		readyCh <- struct{}{}
	})

	require.NoError(t, g.Connect(context.Background()))
	defer g.Close()

	serverConn := <-serverConnCh
	br := <-serverBrCh
	defer serverConn.Close()

	writeServerPayload(t, serverConn, Payload{Op: OpHello, D: json.RawMessage(`{"heartbeat_interval":50}`)})

	identify := readClientPayload(t, br)
	require.Equal(t, OpIdentify, identify.Op)

	seq := 1
	writeServerPayload(t, serverConn, Payload{
		Op: OpDispatch,
		T:  "READY",
		S:  &seq,
		D:  json.RawMessage(`{"v":6,"session_id":"abc123","user":{"id":"42","username":"bot","discriminator":"0001"},"guilds":[]}`),
	})

	select {
	case <-readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for READY handler")
	}
	require.Eventually(t, func() bool { return g.State() == StateConnected }, time.Second, time.Millisecond)
	require.Equal(t, "abc123", g.SessionID())
	require.Equal(t, 1, g.LastSeq())
}

func TestGuildCreateUpdatesStore(t *testing.T) {
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

	store := model.NewGatewayStore()
	g := New("tok", "ws://"+ln.Addr().String()+"/gateway", store)
	g.pacerGap = time.Millisecond
	require.NoError(t, g.Connect(context.Background()))
	defer g.Close()

	serverConn := <-serverConnCh
	_ = <-serverBrCh
	defer serverConn.Close()

	writeServerPayload(t, serverConn, Payload{Op: OpHello, D: json.RawMessage(`{"heartbeat_interval":10000}`)})

	seq := 1
	writeServerPayload(t, serverConn, Payload{
		Op: OpDispatch, T: "GUILD_CREATE", S: &seq,
		D: json.RawMessage(`{"id":"100","owner_id":"7","name":"g","region":"us","channels":[{"id":"200","guild_id":"100","type":2,"name":"voice"}]}`),
	})

	require.Eventually(t, func() bool {
		guild, ok := store.Guild(100)
		return ok && guild.Name == "g"
	}, time.Second, 5*time.Millisecond)

	ch, ok := store.ChannelByName(100, "voice")
	require.True(t, ok)
	require.Equal(t, model.Snowflake(200), ch.ID)
}

func TestReadySeedsUnavailableGuildsThenGuildCreateMarksAvailable(t *testing.T) {
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

	store := model.NewGatewayStore()
	g := New("tok", "ws://"+ln.Addr().String()+"/gateway", store)
	g.pacerGap = time.Millisecond
	require.NoError(t, g.Connect(context.Background()))
	defer g.Close()

	serverConn := <-serverConnCh
	_ = <-serverBrCh
	defer serverConn.Close()

	writeServerPayload(t, serverConn, Payload{Op: OpHello, D: json.RawMessage(`{"heartbeat_interval":10000}`)})

	seq := 1
	writeServerPayload(t, serverConn, Payload{
		Op: OpDispatch, T: "READY", S: &seq,
		D: json.RawMessage(`{"v":6,"session_id":"s1","user":{"id":"42"},"guilds":[{"id":"300","unavailable":true}]}`),
	})

	require.Eventually(t, func() bool {
		guild, ok := store.Guild(300)
		return ok && guild.Unavailable
	}, time.Second, 5*time.Millisecond)

	seq2 := 2
	writeServerPayload(t, serverConn, Payload{
		Op: OpDispatch, T: "GUILD_CREATE", S: &seq2,
		D: json.RawMessage(`{"id":"300","owner_id":"7","name":"revived","region":"us","channels":[]}`),
	})

	require.Eventually(t, func() bool {
		guild, ok := store.Guild(300)
		return ok && guild.Name == "revived" && !guild.Unavailable
	}, time.Second, 5*time.Millisecond)
}
