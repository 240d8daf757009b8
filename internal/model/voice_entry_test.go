package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVoiceGatewayEntryReadyRequiresBothHalves(t *testing.T) {
	var e VoiceGatewayEntry
	require.False(t, e.Ready())

	e.SessionID = "session-abc"
	require.False(t, e.Ready())

	e.Token = "token-xyz"
	require.False(t, e.Ready())

	e.Endpoint = "voice.example.discord.gg"
	require.True(t, e.Ready())
}
