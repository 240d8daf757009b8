package gateway

import "encoding/json"

// Op is a control-gateway opcode (spec §4.7).
type Op int

const (
	OpDispatch            Op = 0
	OpHeartbeat           Op = 1
	OpIdentify            Op = 2
	OpStatusUpdate        Op = 3
	OpVoiceStateUpdate    Op = 4
	OpResume              Op = 6
	OpReconnect           Op = 7
	OpRequestGuildMembers Op = 8
	OpInvalidSession      Op = 9
	OpHello               Op = 10
	OpHeartbeatAck        Op = 11
)

// Payload is the envelope carried by every control-gateway frame.
type Payload struct {
	Op Op              `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int            `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type readyData struct {
	V      int `json:"v"`
	Guilds []struct {
		ID          string `json:"id"`
		Unavailable bool   `json:"unavailable"`
	} `json:"guilds"`
	SessionID string `json:"session_id"`
	User      struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Discriminator string `json:"discriminator"`
	} `json:"user"`
}

func parseInvalidSession(raw json.RawMessage) bool {
	// the payload is a bare JSON boolean per the gateway protocol.
	var resumable bool
	_ = json.Unmarshal(raw, &resumable)
	return resumable
}

type identifyPayload struct {
	Token          string         `json:"token"`
	Properties     identifyProps  `json:"properties"`
	Compress       bool           `json:"compress"`
	LargeThreshold int            `json:"large_threshold"`
}

type identifyProps struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
}
