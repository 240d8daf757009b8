package voicegateway

import (
	"bytes"
	"fmt"
	"net"
	"time"
)

const (
	discoveryPacketSize = 70
	discoveryRetries    = 5
	discoveryTimeout    = 200 * time.Millisecond
)

// discoverExternalAddress performs the UDP IP discovery handshake: send a
// 70-byte SSRC-prefixed request, parse the echoed external address/port out
// of the response (spec §4.8, §9 resolves the port as little-endian:
// buf[68] | buf[69]<<8).
func discoverExternalAddress(conn *net.UDPConn, ssrc uint32) (string, int, error) {
	req := make([]byte, discoveryPacketSize)
	req[0] = byte(ssrc >> 24)
	req[1] = byte(ssrc >> 16)
	req[2] = byte(ssrc >> 8)
	req[3] = byte(ssrc)

	var lastErr error
	for attempt := 0; attempt < discoveryRetries; attempt++ {
		if _, err := conn.Write(req); err != nil {
			lastErr = err
			continue
		}
		if err := conn.SetReadDeadline(time.Now().Add(discoveryTimeout)); err != nil {
			lastErr = err
			continue
		}
		buf := make([]byte, discoveryPacketSize)
		n, err := conn.Read(buf)
		if err != nil {
			lastErr = err
			continue
		}
		if n < discoveryPacketSize {
			lastErr = fmt.Errorf("voicegateway: short discovery response (%d bytes)", n)
			continue
		}
		ipBytes := buf[4:68]
		if idx := bytes.IndexByte(ipBytes, 0); idx >= 0 {
			ipBytes = ipBytes[:idx]
		}
		ip := string(ipBytes)
		port := int(buf[68]) | int(buf[69])<<8
		return ip, port, nil
	}
	if lastErr != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrIPDiscoveryFailed, lastErr)
	}
	return "", 0, ErrIPDiscoveryFailed
}
