// Package rtp builds and encrypts the outbound RTP stream: header
// composition plus XSalsa20-Poly1305 sealing over UDP (spec §4.9).
package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	headerSize  = 12
	versionFlag = 0x80
	payloadType = 0x78
	nonceSize   = 24
)

// Header is the 12-byte RTP header this client always sends: version 2, no
// padding/extension/CSRC, payload type 0x78 (spec §8 worked example).
type Header struct {
	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
}

// Encode renders the 12-byte wire header.
func (h Header) Encode() []byte {
	b := make([]byte, headerSize)
	b[0] = versionFlag
	b[1] = payloadType
	binary.BigEndian.PutUint16(b[2:4], h.Sequence)
	binary.BigEndian.PutUint32(b[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(b[8:12], h.SSRC)
	return b
}

// SecretKey is the 32-byte XSalsa20-Poly1305 key from session_description.
type SecretKey = [32]byte

// Seal encrypts an Opus frame for one RTP packet: the nonce is the 12-byte
// header followed by 12 zero bytes (spec §4.9), and the header itself is
// sent in the clear as the packet prefix.
func Seal(header Header, opusFrame []byte, key SecretKey) []byte {
	hdr := header.Encode()
	var nonce [nonceSize]byte
	copy(nonce[:headerSize], hdr)
	out := make([]byte, 0, headerSize+len(opusFrame)+secretbox.Overhead)
	out = append(out, hdr...)
	return secretbox.Seal(out, opusFrame, &nonce, &key)
}

// Sender owns sequence/timestamp state and the UDP socket for one voice
// session. Sequence and timestamp advance monotonically per packet (spec §8
// properties).
type Sender struct {
	conn     *net.UDPConn
	ssrc     uint32
	key      SecretKey
	sequence uint16
	timestamp uint32
	dropped  int
}

// NewSender binds a Sender to an already-connected voice UDP socket. The
// initial sequence and timestamp are chosen pseudo-randomly per RFC 3550
// rather than starting at zero, so a packet capture never reveals stream
// start time or session count.
func NewSender(conn *net.UDPConn, ssrc uint32, key SecretKey) *Sender {
	var seed [6]byte
	_, _ = rand.Read(seed[:])
	return &Sender{
		conn:      conn,
		ssrc:      ssrc,
		key:       key,
		sequence:  binary.BigEndian.Uint16(seed[0:2]),
		timestamp: binary.BigEndian.Uint32(seed[2:6]),
	}
}

// Dropped reports how many frames have failed to encrypt or send.
func (s *Sender) Dropped() int { return s.dropped }

// Send seals and writes one Opus frame, then advances sequence by 1 and
// timestamp by sampleCount (mod their wire widths). An encrypt or socket
// error drops only this frame; sequence/timestamp still advance so the
// stream stays contiguous (spec §7).
func (s *Sender) Send(opusFrame []byte, sampleCount uint32) error {
	header := Header{Sequence: s.sequence, Timestamp: s.timestamp, SSRC: s.ssrc}
	packet := Seal(header, opusFrame, s.key)

	s.sequence++
	s.timestamp += sampleCount

	if _, err := s.conn.Write(packet); err != nil {
		s.dropped++
		return fmt.Errorf("rtp: send: %w", err)
	}
	return nil
}
