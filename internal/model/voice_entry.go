package model

// VoiceGatewayEntry accumulates the two halves of a voice connection grant:
// VOICE_STATE_UPDATE supplies SessionID, VOICE_SERVER_UPDATE supplies
// Token+Endpoint. Neither side alone is sufficient to connect (spec §4,
// "Invariants").
type VoiceGatewayEntry struct {
	GuildID   Snowflake
	ChannelID Snowflake
	UserID    Snowflake
	SessionID string
	Token     string
	Endpoint  string
}

// Ready reports whether both halves have arrived.
func (e VoiceGatewayEntry) Ready() bool {
	return e.SessionID != "" && e.Token != "" && e.Endpoint != ""
}

// VoiceSession is the negotiated state of one connected voice gateway:
// ssrc, UDP endpoint, and the XSalsa20-Poly1305 secret key (spec §4).
type VoiceSession struct {
	SSRC      uint32
	Host      string
	Port      int
	SecretKey [32]byte
	Sequence  uint16
	Timestamp uint32
}
