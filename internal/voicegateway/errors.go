package voicegateway

import (
	"errors"
	"fmt"
)

// CloseError describes a voice-gateway close code (spec §7).
type CloseError struct {
	Code int
	Name string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("voicegateway: close %d (%s)", e.Code, e.Name)
}

var closeCodeNames = map[int]string{
	1:    "ip_discovery_failed",
	4001: "unknown_opcode",
	4003: "not_authenticated",
	4004: "authentication_failed",
	4005: "already_authenticated",
	4006: "session_no_longer_valid",
	4009: "session_timeout",
	4011: "server_not_found",
	4012: "unknown_protocol",
	4014: "disconnected",
	4015: "voice_server_crashed",
	4016: "unknown_encryption_mode",
}

func newCloseError(code int) *CloseError {
	name, ok := closeCodeNames[code]
	if !ok {
		name = "unknown"
	}
	return &CloseError{Code: code, Name: name}
}

// ErrIPDiscoveryFailed is returned when all UDP discovery retries are
// exhausted without a response (spec §4.8).
var ErrIPDiscoveryFailed = errors.New("voicegateway: ip discovery failed")

// ErrUnknownEncryptionMode names the case where the server's ready payload
// never offers xsalsa20_poly1305. handleReady does not return it; it logs
// the case and stops the handshake there.
var ErrUnknownEncryptionMode = errors.New("voicegateway: xsalsa20_poly1305 not offered")
