package gateway

import (
	"errors"
	"fmt"
)

// CloseError describes a gateway-protocol close code (spec §7, 4000-4011).
type CloseError struct {
	Code int
	Name string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway: close %d (%s)", e.Code, e.Name)
}

var closeCodeNames = map[int]string{
	4000: "unknown_opcode",
	4001: "decode_error",
	4002: "not_authenticated",
	4003: "authentication_failed",
	4004: "already_authenticated",
	4005: "invalid_seq",
	4006: "rate_limited", // note: upstream reassigns some codes; name kept descriptive
	4007: "invalid_seq",
	4008: "rate_limited",
	4009: "session_timeout",
	4010: "invalid_shard",
	4011: "sharding_required",
}

func newCloseError(code int) *CloseError {
	name, ok := closeCodeNames[code]
	if !ok {
		name = "unknown"
	}
	return &CloseError{Code: code, Name: name}
}

// ErrFatalInvalidSession names the invalid_session(resumable=false) failure:
// the connection cannot be resumed or reconnected automatically. The gateway
// does not return it; on that opcode it logs and moves to StateFatal.
var ErrFatalInvalidSession = errors.New("gateway: fatal invalid session")

// ErrUnsupportedVersion names a READY that reports a protocol version other
// than 6 (spec §4.7 "READY handling"). The gateway does not return it; it
// logs the version and moves to StateFatal.
var ErrUnsupportedVersion = errors.New("gateway: unsupported protocol version")
