package uri

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCanonicalURLs(t *testing.T) {
	cases := []struct {
		raw  string
		want Parsed
	}{
		{"wss://gateway.example.com/?v=6&encoding=json", Parsed{Scheme: "wss", Host: "gateway.example.com", Port: 443, Path: "/?v=6&encoding=json"}},
		{"wss://voice-host-1.example.com:443/?v=3", Parsed{Scheme: "wss", Host: "voice-host-1.example.com", Port: 443, Path: "/?v=3"}},
		{"ws://localhost:8080/gateway", Parsed{Scheme: "ws", Host: "localhost", Port: 8080, Path: "/gateway"}},
		{"https://example.com", Parsed{Scheme: "https", Host: "example.com", Port: 443, Path: "/"}},
	}
	for _, c := range cases {
		got := Parse(c.raw)
		require.Equal(t, c.want, got, c.raw)
	}
}

func TestParseFailureSentinel(t *testing.T) {
	for _, raw := range []string{"", "not-a-url", "wss://", "wss://host:abc/path"} {
		got := Parse(raw)
		require.Equal(t, -1, got.Port, raw)
	}
}

func TestSecure(t *testing.T) {
	require.True(t, Parse("wss://h/").Secure())
	require.True(t, Parse("https://h/").Secure())
	require.False(t, Parse("ws://h/").Secure())
	require.False(t, Parse("http://h/").Secure())
}
