// Package uri implements the minimal scheme://authority[:port][/path]
// parser the WebSocket connector needs. It never returns an error: a
// malformed input yields a zero-value Parsed with Port == -1, and callers
// treat a missing authority as fatal themselves (spec §4.1).
package uri

import "strings"

// Parsed is the decomposed form of a ws/wss/http/https URL.
type Parsed struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

var defaultPorts = map[string]int{
	"http":  80,
	"ws":    80,
	"https": 443,
	"wss":   443,
}

// Parse splits raw into scheme/authority/port/path. On any failure (no
// "://", empty authority) it returns a sentinel Parsed with Port == -1.
func Parse(raw string) Parsed {
	sentinel := Parsed{Port: -1}

	schemeSep := strings.Index(raw, "://")
	if schemeSep < 0 {
		return sentinel
	}
	scheme := raw[:schemeSep]
	rest := raw[schemeSep+3:]
	if scheme == "" {
		return sentinel
	}

	path := "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		path = rest[i:]
		rest = rest[:i]
	}

	authority := rest
	if authority == "" {
		return sentinel
	}

	host := authority
	port := defaultPorts[strings.ToLower(scheme)]
	if port == 0 {
		port = -1
	}
	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		host = authority[:i]
		portStr := authority[i+1:]
		p := 0
		for _, r := range portStr {
			if r < '0' || r > '9' {
				return sentinel
			}
			p = p*10 + int(r-'0')
		}
		if portStr == "" {
			return sentinel
		}
		port = p
	}
	if host == "" {
		return sentinel
	}

	return Parsed{Scheme: scheme, Host: host, Port: port, Path: path}
}

// Secure reports whether the scheme requires a TLS handshake.
func (p Parsed) Secure() bool {
	s := strings.ToLower(p.Scheme)
	return s == "https" || s == "wss"
}
