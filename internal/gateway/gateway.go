// Package gateway implements the control-plane state machine: connect,
// identify, heartbeat-with-ACK, dispatch, resume/reconnect on loss (spec
// §4.7).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/discord-voice-lab/internal/heartbeat"
	"github.com/discord-voice-lab/internal/logging"
	"github.com/discord-voice-lab/internal/model"
	"github.com/discord-voice-lab/internal/pacer"
	"github.com/discord-voice-lab/internal/wsproto"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// State names the control-gateway state machine's nodes.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFatal
)

// defaultPacerGap is the minimum inter-send delay on the control gateway
// (spec §4.5).
const defaultPacerGap = 500 * time.Millisecond

const protocolVersion = 6

// Handler processes one dispatch event. It runs synchronously on the
// receive goroutine; a panic/error here must not tear down the connection
// (spec §4.7 "Dispatch fan-out").
type Handler func(ctx context.Context, g *Gateway, eventName string, data json.RawMessage)

// Gateway is one control-plane session.
type Gateway struct {
	token string
	url   string
	store *model.GatewayStore

	mu        sync.Mutex
	state     State
	seq       *int
	sessionID string
	userID    string

	conn    *wsproto.Conn
	sender  *pacer.Sender
	beater  *heartbeat.Beater
	pacerGap time.Duration

	handlersMu sync.Mutex
	handlers   map[string][]Handler
	wildcard   []Handler

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs a Gateway bound to store, which is written only from this
// gateway's receive goroutine.
func New(token, url string, store *model.GatewayStore) *Gateway {
	return &Gateway{
		token:    token,
		url:      url,
		store:    store,
		handlers: make(map[string][]Handler),
		pacerGap: defaultPacerGap,
	}
}

// On registers a handler for a named dispatch event.
func (g *Gateway) On(event string, h Handler) {
	g.handlersMu.Lock()
	defer g.handlersMu.Unlock()
	g.handlers[event] = append(g.handlers[event], h)
}

// OnAll registers a handler invoked for every dispatch event, in addition
// to any event-specific handlers (the "ALL" wildcard bucket, spec §4.7).
func (g *Gateway) OnAll(h Handler) {
	g.handlersMu.Lock()
	defer g.handlersMu.Unlock()
	g.wildcard = append(g.wildcard, h)
}

func (g *Gateway) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// State returns the current state machine node.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Connect opens the transport, creates the pacer and heartbeater, and starts
// the receive loop in a cancellable errgroup (spec §5's "errgroup"
// realization of "strand" cancellation). It returns once the loop is
// running; HELLO and IDENTIFY are handled afterwards by that loop.
func (g *Gateway) Connect(ctx context.Context) error {
	g.setState(StateConnecting)
	conn, err := wsproto.Connect(g.url)
	if err != nil {
		g.setState(StateDisconnected)
		return fmt.Errorf("gateway: connect: %w", err)
	}
	g.conn = conn
	g.sender = pacer.New(func(payload []byte) error {
		return g.conn.Send(payload, wsproto.OpText)
	}, g.pacerGap)
	g.beater = heartbeat.New(g.sendHeartbeat, g.onHeartbeatFailure)

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	grp, grpCtx := errgroup.WithContext(runCtx)
	g.group = grp
	grp.Go(func() error {
		return g.receiveLoop(grpCtx)
	})
	return nil
}

// Close tears down the heartbeater, pacer, and transport, aggregating
// every shutdown error rather than discarding all but the last.
func (g *Gateway) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.beater != nil {
		g.beater.Stop()
	}
	if g.sender != nil {
		g.sender.Close()
	}
	var err error
	if g.conn != nil {
		err = multierr.Append(err, g.conn.Close(wsproto.CloseNormal))
	}
	if g.group != nil {
		if waitErr := g.group.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
			// a cancelled read loop is the expected shutdown path, not a
			// failure (spec §5's "operation_aborted is not an error").
			err = multierr.Append(err, waitErr)
		}
	}
	g.setState(StateDisconnected)
	return err
}

func (g *Gateway) send(op Op, data interface{}) error {
	if g.sender == nil {
		return fmt.Errorf("gateway: send op %d: not connected", op)
	}
	d, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload := Payload{Op: op, D: d}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	if enqErr := g.sender.Enqueue(b, func(sendErr error) { errCh <- sendErr }); enqErr != nil {
		return enqErr
	}
	return <-errCh
}

func (g *Gateway) sendHeartbeat() {
	g.mu.Lock()
	seq := g.seq
	g.mu.Unlock()
	if err := g.send(OpHeartbeat, seq); err != nil {
		logging.Warnw("gateway: heartbeat send failed", "err", err)
	}
}

func (g *Gateway) onHeartbeatFailure() {
	logging.Warnw("gateway: heartbeat ack missed, reconnecting")
	go g.resume(context.Background())
}

func (g *Gateway) identify() error {
	return g.send(OpIdentify, identifyPayload{
		Token: g.token,
		Properties: identifyProps{
			OS:      "linux",
			Browser: "discord-voice-lab",
			Device:  "discord-voice-lab",
		},
		Compress:       false,
		LargeThreshold: 50,
	})
}

func (g *Gateway) resumePayload() resumePayload {
	g.mu.Lock()
	defer g.mu.Unlock()
	seq := 0
	if g.seq != nil {
		seq = *g.seq
	}
	return resumePayload{Token: g.token, SessionID: g.sessionID, Seq: seq}
}

// resume closes the current transport with a non-1000 code, reconnects, and
// sends RESUME (spec §4.7 "Resume").
func (g *Gateway) resume(ctx context.Context) {
	g.setState(StateDisconnected)
	if g.conn != nil {
		_ = g.conn.Close(wsproto.CloseCode(4000))
	}
	if g.beater != nil {
		g.beater.Stop()
	}
	conn, err := wsproto.Connect(g.url)
	if err != nil {
		logging.Errorw("gateway: resume connect failed", "err", err)
		return
	}
	g.conn = conn
	g.sender = pacer.New(func(payload []byte) error {
		return g.conn.Send(payload, wsproto.OpText)
	}, g.pacerGap)
	g.beater = heartbeat.New(g.sendHeartbeat, g.onHeartbeatFailure)

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	grp, grpCtx := errgroup.WithContext(runCtx)
	g.group = grp
	grp.Go(func() error { return g.receiveLoop(grpCtx) })

	if err := g.send(OpResume, g.resumePayload()); err != nil {
		logging.Errorw("gateway: resume send failed", "err", err)
	}
}

func (g *Gateway) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg, err := g.conn.ReadNext()
		if err != nil {
			if ctx.Err() != nil {
				// Close cancelled the group before closing the transport:
				// this is shutdown, not a lost connection.
				return ctx.Err()
			}
			logging.Warnw("gateway: read failed, will resume", "err", err)
			go g.resume(context.Background())
			return nil
		}
		var p Payload
		if jsonErr := json.Unmarshal(msg.Payload, &p); jsonErr != nil {
			// JSON parse failures on an inbound frame are logged and the
			// stream resumes from the next frame (spec §7).
			logging.Warnw("gateway: malformed frame, skipping", "err", jsonErr)
			continue
		}
		g.handlePayload(ctx, p)
	}
}

func (g *Gateway) handlePayload(ctx context.Context, p Payload) {
	switch p.Op {
	case OpHello:
		var hd helloData
		_ = json.Unmarshal(p.D, &hd)
		g.beater.Hello(time.Duration(hd.HeartbeatInterval) * time.Millisecond)
		if err := g.identify(); err != nil {
			logging.Errorw("gateway: identify send failed", "err", err)
		}
	case OpHeartbeat:
		g.sendHeartbeat()
	case OpHeartbeatAck:
		g.beater.Ack()
	case OpReconnect:
		go g.resume(ctx)
	case OpInvalidSession:
		if parseInvalidSession(p.D) {
			go g.resume(ctx)
		} else {
			g.setState(StateFatal)
			logging.Errorw("gateway: fatal invalid session")
		}
	case OpDispatch:
		g.handleDispatch(ctx, p)
	default:
		logging.Warnw("gateway: unhandled opcode", logging.OpField(int(p.Op))...)
	}
}

func (g *Gateway) handleDispatch(ctx context.Context, p Payload) {
	if p.S != nil {
		g.mu.Lock()
		s := *p.S
		g.seq = &s
		g.mu.Unlock()
	}

	switch p.T {
	case "READY":
		var rd readyData
		if err := json.Unmarshal(p.D, &rd); err == nil {
			if rd.V != protocolVersion {
				logging.Errorw("gateway: unsupported protocol version", "version", rd.V)
				g.setState(StateFatal)
				return
			}
			g.mu.Lock()
			g.sessionID = rd.SessionID
			g.userID = rd.User.ID
			g.mu.Unlock()
			// Record the unavailable set up front so a later GUILD_CREATE
			// for one of these ids is recognized as "became available"
			// instead of a brand new guild.
			for _, rg := range rd.Guilds {
				if !rg.Unavailable {
					continue
				}
				if id, idErr := model.ParseSnowflake(rg.ID); idErr == nil {
					g.store.SeedUnavailableGuild(id)
				}
			}
			g.setState(StateConnected)
		}
	case "GUILD_CREATE":
		guild, err := applyGuildCreate(g.store, p.D)
		if err != nil {
			logging.Warnw("gateway: guild_create decode failed", "err", err)
		} else {
			logging.Infow("gateway: guild available", logging.GuildFields(guild.ID.String(), guild.Name)...)
		}
	case "GUILD_DELETE":
		if err := applyGuildDelete(g.store, p.D); err != nil {
			logging.Warnw("gateway: guild_delete decode failed", "err", err)
		}
	case "CHANNEL_CREATE":
		channel, err := applyChannelCreate(g.store, p.D)
		if err != nil {
			logging.Warnw("gateway: channel_create decode failed", "err", err)
		} else {
			logging.Infow("gateway: channel available", logging.ChannelFields(channel.ID.String(), channel.Name)...)
		}
	case "CHANNEL_UPDATE":
		if _, err := applyChannelUpdate(g.store, p.D); err != nil {
			logging.Warnw("gateway: channel_update decode failed", "err", err)
		}
	case "CHANNEL_DELETE":
		if err := applyChannelDelete(g.store, p.D); err != nil {
			logging.Warnw("gateway: channel_delete decode failed", "err", err)
		}
	}

	g.fanOut(ctx, p.T, p.D)
}

// fanOut runs every handler registered for p.T plus the wildcard bucket.
// Handler panics are recovered so one bad handler never tears down the
// connection (spec §4.7).
func (g *Gateway) fanOut(ctx context.Context, event string, data json.RawMessage) {
	g.handlersMu.Lock()
	hs := append([]Handler(nil), g.handlers[event]...)
	all := append([]Handler(nil), g.wildcard...)
	g.handlersMu.Unlock()

	run := func(h Handler) {
		defer func() {
			if r := recover(); r != nil {
				logging.Errorw("gateway: handler panicked", "event", event, "recover", r)
			}
		}()
		h(ctx, g, event, data)
	}
	for _, h := range hs {
		run(h)
	}
	for _, h := range all {
		run(h)
	}
}

// LastSeq returns the most recently observed dispatch sequence number.
func (g *Gateway) LastSeq() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seq == nil {
		return 0
	}
	return *g.seq
}

// SendVoiceStateUpdate sends op=4, used by the director to join/leave a
// voice channel (spec §4.7's voice_state_update opcode).
func (g *Gateway) SendVoiceStateUpdate(guildID, channelID model.Snowflake, selfMute, selfDeaf bool) error {
	var cid *string
	if channelID != 0 {
		s := channelID.String()
		cid = &s
	}
	return g.send(OpVoiceStateUpdate, map[string]interface{}{
		"guild_id":   guildID.String(),
		"channel_id": cid,
		"self_mute":  selfMute,
		"self_deaf":  selfDeaf,
	})
}

// Store returns the GatewayStore this gateway mutates on dispatch.
func (g *Gateway) Store() *model.GatewayStore { return g.store }

// SessionID returns the session id recorded at READY.
func (g *Gateway) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionID
}

// UserID returns the bot user id recorded at READY.
func (g *Gateway) UserID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userID
}
