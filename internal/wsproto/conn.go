package wsproto

import (
	"bufio"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/discord-voice-lab/internal/uri"
)

// Message is one fully-reassembled text/binary message delivered to the
// caller of ReadNext.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// reassembly accumulates a fragmented data-message across continuation
// frames. Tracking this explicitly as pending-opcode + buffer — rather than
// the pair of loosely-coupled booleans the original source used — is the
// fix for the "dropped packet on EAGAIN" bug noted in spec §9: a short read
// simply leaves reassembly populated for the next call rather than losing
// the fragment already buffered.
type reassembly struct {
	active  bool
	opcode  Opcode
	buf     []byte
}

// Conn is a client-side WebSocket connection: TCP+TLS transport, the RFC
// 6455 upgrade handshake, and framed message delivery (spec §4.4).
type Conn struct {
	raw net.Conn
	fr  *FrameReader

	writeMu sync.Mutex

	closeMu   sync.Mutex
	closeSent bool

	reasm reassembly
}

// Connect dials target, performs a TLS handshake when the scheme is secure,
// and completes the HTTP/1.1 upgrade handshake.
func Connect(target string) (*Conn, error) {
	p := uri.Parse(target)
	if p.Port < 0 || p.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrResolve, target)
	}

	addr := net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))
	rawConn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	var conn net.Conn = rawConn
	if p.Secure() {
		tlsConn := tls.Client(rawConn, &tls.Config{ServerName: p.Host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.Handshake(); err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("%w: %v", ErrTLSHandshake, err)
		}
		conn = tlsConn
	}

	_, nonceB64 := newClientNonce()
	req := strings.Join([]string{
		"GET " + p.Path + " HTTP/1.1",
		"Host: " + p.Host,
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Key: " + nonceB64,
		"Sec-WebSocket-Version: 13",
		"", "",
	}, "\r\n")
	if _, err := conn.Write([]byte(req)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
	}

	br := bufio.NewReader(conn)
	tp := textproto.NewReader(br)
	statusLine, err := tp.ReadLine()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
	}
	if !strings.Contains(statusLine, "101") {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: status line %q", ErrUpgradeFailed, statusLine)
	}
	header, err := tp.ReadMIMEHeader()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
	}
	got := header.Get("Sec-WebSocket-Accept")
	if got == "" {
		_ = conn.Close()
		return nil, ErrNoUpgradeKey
	}
	if got != acceptKey(nonceB64) {
		_ = conn.Close()
		return nil, ErrBadUpgradeKey
	}

	return &Conn{raw: conn, fr: NewFrameReader(br)}, nil
}

// Send atomically enqueues one frame; concurrent callers are serialized by
// writeMu so a message's bytes are never interleaved with another's.
func (c *Conn) Send(payload []byte, op Opcode) error {
	encoded, err := EncodeFrame(true, op, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.raw.Write(encoded)
	return err
}

// sendControl is used internally for control-frame replies; it truncates the
// payload to MaxControlFramePayload so EncodeFrame's length check never
// rejects a reply (e.g. a pong echoing an oversized ping payload).
func (c *Conn) sendControl(op Opcode, payload []byte) error {
	if len(payload) > MaxControlFramePayload {
		payload = payload[:MaxControlFramePayload]
	}
	return c.Send(payload, op)
}

// ReadNext blocks until one fully-reassembled text/binary message arrives,
// or the connection is closed. Control frames (ping/pong/close) are handled
// transparently and may interleave with a data message's fragments.
func (c *Conn) ReadNext() (Message, error) {
	for {
		f, err := c.fr.ReadFrame()
		if err != nil {
			return Message{}, &Closed{Code: CloseAbruptEOF}
		}
		if f.Masked {
			return Message{}, ErrServerMaskedData
		}

		switch f.Opcode {
		case OpPing:
			_ = c.sendControl(OpPong, f.Payload)
			continue
		case OpPong:
			continue
		case OpClose:
			code := CloseNormal
			if len(f.Payload) >= 2 {
				code = CloseCode(binary.BigEndian.Uint16(f.Payload[:2]))
			}
			c.replyClose(code)
			return Message{}, &Closed{Code: code}
		case OpContinuation:
			if !c.reasm.active {
				continue
			}
			c.reasm.buf = append(c.reasm.buf, f.Payload...)
			if f.FIN {
				msg := Message{Opcode: c.reasm.opcode, Payload: c.reasm.buf}
				c.reasm = reassembly{}
				return msg, nil
			}
			continue
		case OpText, OpBinary:
			if f.FIN {
				return Message{Opcode: f.Opcode, Payload: f.Payload}, nil
			}
			c.reasm = reassembly{active: true, opcode: f.Opcode, buf: append([]byte(nil), f.Payload...)}
			continue
		default:
			continue
		}
	}
}

// replyClose answers a peer-initiated close with the same code (or Normal
// if the peer's payload was malformed), per spec §4.4.
func (c *Conn) replyClose(code CloseCode) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closeSent {
		return
	}
	c.closeSent = true
	var payload [2]byte
	binary.BigEndian.PutUint16(payload[:], uint16(code))
	_ = c.sendControl(OpClose, payload[:])
}

// Close sends a close frame carrying code once; duplicate calls no-op.
func (c *Conn) Close(code CloseCode) error {
	c.closeMu.Lock()
	alreadySent := c.closeSent
	c.closeSent = true
	c.closeMu.Unlock()
	if !alreadySent {
		var payload [2]byte
		binary.BigEndian.PutUint16(payload[:], uint16(code))
		_ = c.sendControl(OpClose, payload[:])
	}
	return c.raw.Close()
}
