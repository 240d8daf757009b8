package voicegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/discord-voice-lab/internal/heartbeat"
	"github.com/discord-voice-lab/internal/logging"
	"github.com/discord-voice-lab/internal/pacer"
	"github.com/discord-voice-lab/internal/wsproto"
	"golang.org/x/sync/errgroup"
)

// State names the voice-gateway state machine's nodes (spec §4.8).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentified
	StateAwaitingReady
	StateUDPDiscovery
	StateSelecting
	StateStreaming
	StateResuming
)

const defaultPacerGap = 50 * time.Millisecond

// SecretKey is the 32-byte XSalsa20-Poly1305 key handed back in
// session_description (spec §4.4).
type SecretKey [32]byte

// Gateway is one guild's voice session.
type Gateway struct {
	serverID  string
	userID    string
	sessionID string
	token     string
	endpoint  string

	mu        sync.Mutex
	state     State
	ssrc      uint32
	secretKey SecretKey
	udpAddr   *net.UDPAddr

	conn   *wsproto.Conn
	udp    *net.UDPConn
	sender *pacer.Sender
	beater *heartbeat.Beater

	group  *errgroup.Group
	cancel context.CancelFunc

	onReady func()
}

// New constructs a voice gateway for one guild's voice server assignment.
// endpoint, serverID, userID, sessionID, token come from the paired
// VOICE_SERVER_UPDATE/VOICE_STATE_UPDATE dispatch events (spec §4.8).
func New(endpoint, serverID, userID, sessionID, token string) *Gateway {
	return &Gateway{
		endpoint:  endpoint,
		serverID:  serverID,
		userID:    userID,
		sessionID: sessionID,
		token:     token,
	}
}

// OnReady registers a callback invoked once session_description completes
// and the gateway is ready to stream (spec §4.8 "streaming").
func (v *Gateway) OnReady(f func()) { v.onReady = f }

func (v *Gateway) setState(s State) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

// State returns the current state machine node.
func (v *Gateway) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// SSRC returns the session's assigned SSRC, valid after StateUDPDiscovery.
func (v *Gateway) SSRC() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ssrc
}

// SecretKey returns the encryption key negotiated at session_description.
func (v *Gateway) SecretKey() SecretKey {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.secretKey
}

// UDPConn returns the dialed voice UDP socket for use by the RTP sender.
func (v *Gateway) UDPConn() *net.UDPConn {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.udp
}

// Connect opens the voice websocket and starts the receive loop, then
// returns. The identify/udp-discovery/select-protocol sequence up to
// StateStreaming is driven afterwards by that loop as payloads arrive.
func (v *Gateway) Connect(ctx context.Context) error {
	v.setState(StateConnecting)
	conn, err := wsproto.Connect("wss://" + v.endpoint + "/?v=" + fmt.Sprint(protocolVersion))
	if err != nil {
		v.setState(StateDisconnected)
		return fmt.Errorf("voicegateway: connect: %w", err)
	}
	v.conn = conn
	v.sender = pacer.New(func(payload []byte) error {
		return v.conn.Send(payload, wsproto.OpText)
	}, defaultPacerGap)
	v.beater = heartbeat.New(v.sendHeartbeat, v.onHeartbeatFailure)

	runCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	grp, grpCtx := errgroup.WithContext(runCtx)
	v.group = grp
	grp.Go(func() error { return v.receiveLoop(grpCtx) })
	return nil
}

// Close tears down the heartbeater, pacer, UDP socket, and transport.
func (v *Gateway) Close() error {
	if v.cancel != nil {
		v.cancel()
	}
	if v.beater != nil {
		v.beater.Stop()
	}
	if v.sender != nil {
		v.sender.Close()
	}
	var err error
	if v.udp != nil {
		err = v.udp.Close()
	}
	if v.conn != nil {
		err = v.conn.Close(wsproto.CloseNormal)
	}
	if v.group != nil {
		_ = v.group.Wait()
	}
	v.setState(StateDisconnected)
	return err
}

func (v *Gateway) send(op Op, data interface{}) error {
	d, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Payload{Op: op, D: d})
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	if enqErr := v.sender.Enqueue(b, func(sendErr error) { errCh <- sendErr }); enqErr != nil {
		return enqErr
	}
	return <-errCh
}

func (v *Gateway) identify() error {
	v.setState(StateIdentified)
	return v.send(OpIdentify, identifyPayload{
		ServerID:  v.serverID,
		UserID:    v.userID,
		SessionID: v.sessionID,
		Token:     v.token,
	})
}

func (v *Gateway) sendHeartbeat() {
	if err := v.send(OpHeartbeat, time.Now().UnixMilli()); err != nil {
		logging.Warnw("voicegateway: heartbeat send failed", "err", err)
	}
}

func (v *Gateway) onHeartbeatFailure() {
	logging.Warnw("voicegateway: heartbeat ack missed")
}

// Speaking announces speaking state before/after an audio burst (spec
// §4.8 "speaking-state before/after audio bursts").
func (v *Gateway) Speaking(speaking SpeakingFlag) error {
	return v.send(OpSpeaking, speakingPayload{Speaking: int(speaking), Delay: 0, SSRC: v.SSRC()})
}

func (v *Gateway) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg, err := v.conn.ReadNext()
		if err != nil {
			logging.Warnw("voicegateway: read failed", "err", err)
			return nil
		}
		var p Payload
		if jsonErr := json.Unmarshal(msg.Payload, &p); jsonErr != nil {
			logging.Warnw("voicegateway: malformed frame, skipping", "err", jsonErr)
			continue
		}
		v.handlePayload(ctx, p)
	}
}

func (v *Gateway) handlePayload(ctx context.Context, p Payload) {
	switch p.Op {
	case OpHello:
		var hd helloData
		_ = json.Unmarshal(p.D, &hd)
		// the voice gateway's advertised interval runs roughly 25% fast;
		// the client is expected to heartbeat at interval * 3/4.
		interval := time.Duration(hd.HeartbeatInterval*0.75) * time.Millisecond
		v.beater.Hello(interval)
		if err := v.identify(); err != nil {
			logging.Errorw("voicegateway: identify send failed", "err", err)
		}
	case OpReady:
		v.handleReady(ctx, p.D)
	case OpSessionDescription:
		v.handleSessionDescription(p.D)
	case OpHeartbeatAck:
		v.beater.Ack()
	case OpResumed:
		v.setState(StateStreaming)
	default:
		logging.Warnw("voicegateway: unhandled opcode", logging.OpField(int(p.Op))...)
	}
}

func (v *Gateway) handleReady(ctx context.Context, raw json.RawMessage) {
	var rd readyData
	if err := json.Unmarshal(raw, &rd); err != nil {
		logging.Errorw("voicegateway: malformed ready", "err", err)
		return
	}
	supportsMode := false
	for _, m := range rd.Modes {
		if m == encryptionMode {
			supportsMode = true
			break
		}
	}
	if !supportsMode {
		logging.Errorw("voicegateway: server did not offer xsalsa20_poly1305")
		return
	}
	v.mu.Lock()
	v.ssrc = rd.SSRC
	v.mu.Unlock()
	v.setState(StateAwaitingReady)

	udpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", rd.IP, rd.Port))
	if err != nil {
		logging.Errorw("voicegateway: resolve udp addr failed", "err", err)
		return
	}
	udpConn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		logging.Errorw("voicegateway: udp dial failed", "err", err)
		return
	}
	v.mu.Lock()
	v.udp = udpConn
	v.udpAddr = udpAddr
	v.mu.Unlock()
	v.setState(StateUDPDiscovery)

	externalIP, externalPort, err := discoverExternalAddress(udpConn, rd.SSRC)
	if err != nil {
		logging.Errorw("voicegateway: ip discovery failed", append(logging.SSRCField(rd.SSRC), "err", err)...)
		return
	}
	v.setState(StateSelecting)
	if err := v.send(OpSelectProtocol, selectProtocolPayload{
		Protocol: "udp",
		Data: selectProtocolInner{
			Address: externalIP,
			Port:    externalPort,
			Mode:    encryptionMode,
		},
	}); err != nil {
		logging.Errorw("voicegateway: select_protocol send failed", "err", err)
	}
}

func (v *Gateway) handleSessionDescription(raw json.RawMessage) {
	var sd sessionDescriptionData
	if err := json.Unmarshal(raw, &sd); err != nil {
		logging.Errorw("voicegateway: malformed session_description", "err", err)
		return
	}
	if sd.Mode != encryptionMode {
		logging.Errorw("voicegateway: unexpected encryption mode", "mode", sd.Mode)
		return
	}
	var key SecretKey
	copy(key[:], sd.SecretKey)
	v.mu.Lock()
	v.secretKey = key
	v.mu.Unlock()
	v.setState(StateStreaming)
	if v.onReady != nil {
		v.onReady()
	}
}
