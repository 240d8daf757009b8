// Package director owns per-guild voice playback lifecycle: pairing
// VOICE_STATE_UPDATE/VOICE_SERVER_UPDATE into a voice gateway connection,
// driving the 20ms pacing timer, and a FIFO queue of pending sources
// (spec §4.13).
package director

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/discord-voice-lab/internal/audio/source"
	"github.com/discord-voice-lab/internal/gateway"
	"github.com/discord-voice-lab/internal/logging"
	"github.com/discord-voice-lab/internal/model"
	"github.com/discord-voice-lab/internal/rtp"
	"github.com/discord-voice-lab/internal/voicegateway"
	"github.com/google/uuid"
)

const tickInterval = 20 * time.Millisecond

// NowPlaying is a read-only snapshot of a guild's playback state.
type NowPlaying struct {
	GuildID model.Snowflake
	TrackID string
	Source  string
	Playing bool
	Queued  int
}

// guildSession holds one guild's voice-director state.
type guildSession struct {
	mu          sync.Mutex
	entry       model.VoiceGatewayEntry
	vg          *voicegateway.Gateway
	sender      *rtp.Sender
	current     source.Source
	currentName string
	currentID   string
	queue       []queuedSource
	playing     bool
	stop        chan struct{}
}

type queuedSource struct {
	id   string
	name string
	src  source.Source
}

// Director coordinates voice playback across every guild the bot has
// joined.
type Director struct {
	gw *gateway.Gateway

	mu       sync.Mutex
	sessions map[model.Snowflake]*guildSession
}

// New wires a Director to the control gateway whose VOICE_STATE_UPDATE,
// VOICE_SERVER_UPDATE, and MESSAGE_CREATE events it subscribes to (spec
// §4.7 "The director receives voice-related events").
func New(gw *gateway.Gateway) *Director {
	d := &Director{gw: gw, sessions: make(map[model.Snowflake]*guildSession)}
	gw.On("VOICE_STATE_UPDATE", d.onVoiceStateUpdate)
	gw.On("VOICE_SERVER_UPDATE", d.onVoiceServerUpdate)
	gw.On("MESSAGE_CREATE", d.onMessageCreate)
	return d
}

type messageCreatePayload struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// onMessageCreate implements the director's plain-text command surface:
// "!play <url-or-path>", "!skip", "!leave" (spec §4.7 dispatch fan-out
// lists MESSAGE_CREATE among the events the director subscribes to).
func (d *Director) onMessageCreate(ctx context.Context, gw *gateway.Gateway, event string, data json.RawMessage) {
	var p messageCreatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	channelID, err := model.ParseSnowflake(p.ChannelID)
	if err != nil {
		return
	}
	guildID, ok := gw.Store().LookupChannelGuild(channelID)
	if !ok {
		return
	}
	fields := strings.Fields(p.Content)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "!play":
		if len(fields) < 2 {
			return
		}
		d.Enqueue(guildID, fields[1], source.NewSubprocessSource(fields[1]))
	case "!skip":
		d.Skip(guildID)
	case "!leave":
		d.Leave(guildID)
	}
}

func (d *Director) session(guildID model.Snowflake) *guildSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[guildID]
	if !ok {
		s = &guildSession{}
		d.sessions[guildID] = s
	}
	return s
}

type voiceStateUpdatePayload struct {
	GuildID   *string `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	UserID    string  `json:"user_id"`
	SessionID string  `json:"session_id"`
}

type voiceServerUpdatePayload struct {
	Token    string `json:"token"`
	GuildID  string `json:"guild_id"`
	Endpoint string `json:"endpoint"`
}

func (d *Director) onVoiceStateUpdate(ctx context.Context, gw *gateway.Gateway, event string, data json.RawMessage) {
	var p voiceStateUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.GuildID == nil {
		return
	}
	guildID, _ := model.ParseSnowflake(*p.GuildID)
	if guildID == 0 || p.UserID != gw.UserID() {
		return
	}
	s := d.session(guildID)
	s.mu.Lock()
	s.entry.GuildID = guildID
	s.entry.UserID, _ = model.ParseSnowflake(p.UserID)
	s.entry.SessionID = p.SessionID
	if p.ChannelID != nil {
		s.entry.ChannelID, _ = model.ParseSnowflake(*p.ChannelID)
	}
	ready := s.entry.Ready()
	entry := s.entry
	s.mu.Unlock()
	if ready {
		d.connectVoice(ctx, s, entry)
	}
}

func (d *Director) onVoiceServerUpdate(ctx context.Context, gw *gateway.Gateway, event string, data json.RawMessage) {
	var p voiceServerUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	guildID, _ := model.ParseSnowflake(p.GuildID)
	if guildID == 0 {
		return
	}
	s := d.session(guildID)
	s.mu.Lock()
	s.entry.GuildID = guildID
	s.entry.Token = p.Token
	s.entry.Endpoint = p.Endpoint
	ready := s.entry.Ready()
	entry := s.entry
	s.mu.Unlock()
	if ready {
		d.connectVoice(ctx, s, entry)
	}
}

func (d *Director) connectVoice(ctx context.Context, s *guildSession, entry model.VoiceGatewayEntry) {
	s.mu.Lock()
	if s.vg != nil {
		s.mu.Unlock()
		return
	}
	vg := voicegateway.New(entry.Endpoint, entry.GuildID.String(), entry.UserID.String(), entry.SessionID, entry.Token)
	s.vg = vg
	s.mu.Unlock()

	vg.OnReady(func() {
		s.mu.Lock()
		s.sender = rtp.NewSender(vg.UDPConn(), vg.SSRC(), vg.SecretKey())
		s.mu.Unlock()
		d.startPlaybackIfQueued(s)
	})

	if err := vg.Connect(ctx); err != nil {
		logging.Errorw("director: voice connect failed", append(logging.SnowflakeField("guild_id", entry.GuildID), "err", err)...)
	}
}

// Enqueue adds a source to the guild's FIFO queue, starting playback
// immediately if nothing is currently playing. It returns a generated
// track id used to correlate this entry in logs and NowPlaying snapshots.
func (d *Director) Enqueue(guildID model.Snowflake, name string, src source.Source) string {
	id := uuid.NewString()
	s := d.session(guildID)
	s.mu.Lock()
	s.queue = append(s.queue, queuedSource{id: id, name: name, src: src})
	s.mu.Unlock()
	d.startPlaybackIfQueued(s)
	return id
}

func (d *Director) startPlaybackIfQueued(s *guildSession) {
	s.mu.Lock()
	if s.playing || s.sender == nil || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()
	d.beginSource(s, next)
}

// beginSource marks the guild busy and hands the source off to a dedicated
// goroutine for Prepare — which for SubprocessSource blocks until an entire
// download completes — so it never stalls the caller. Callers reach this
// synchronously from the gateway's receive goroutine (onMessageCreate →
// Enqueue → startPlaybackIfQueued), which must never block (spec §5/§6).
func (d *Director) beginSource(s *guildSession, qs queuedSource) {
	s.mu.Lock()
	s.playing = true
	s.mu.Unlock()

	go func() {
		status, err := qs.src.Prepare(context.Background())
		if err != nil || status != source.ReadyOK {
			logging.Warnw("director: source prepare failed", "name", qs.name, "err", err)
			s.mu.Lock()
			s.playing = false
			s.mu.Unlock()
			d.startPlaybackIfQueued(s)
			return
		}
		s.mu.Lock()
		s.current = qs.src
		s.currentName = qs.name
		s.currentID = qs.id
		s.stop = make(chan struct{})
		stop := s.stop
		s.mu.Unlock()

		d.pump(s, stop)
	}()
}

// pump runs the 20ms pacing timer: pull → encrypt → send, advancing to the
// next queue entry on end-of-source (spec §4.13).
func (d *Director) pump(s *guildSession, stop chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			cur := s.current
			sender := s.sender
			s.mu.Unlock()
			if cur == nil || sender == nil {
				return
			}
			frame, err := cur.Next()
			if err != nil {
				logging.Warnw("director: source read failed", "err", err)
				continue
			}
			if len(frame.Bytes) > 0 {
				if sendErr := sender.Send(frame.Bytes, uint32(frame.SampleCount)); sendErr != nil {
					logging.Warnw("director: rtp send failed", "err", sendErr)
				}
			}
			if frame.EndOfSource {
				d.advance(s)
				return
			}
		}
	}
}

func (d *Director) advance(s *guildSession) {
	s.mu.Lock()
	if s.current != nil {
		_ = s.current.Close()
	}
	s.current = nil
	s.playing = false
	s.mu.Unlock()
	d.startPlaybackIfQueued(s)
}

// Skip discards the current source and advances immediately.
func (d *Director) Skip(guildID model.Snowflake) {
	s := d.session(guildID)
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	d.advance(s)
}

// Leave stops playback, sends speaking-false, and closes the voice gateway
// (spec §4.13 "leave").
func (d *Director) Leave(guildID model.Snowflake) {
	s := d.session(guildID)
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
	}
	vg := s.vg
	s.vg = nil
	s.sender = nil
	s.playing = false
	s.mu.Unlock()

	if vg != nil {
		_ = vg.Speaking(voicegateway.SpeakingNone)
		_ = vg.Close()
	}
	_ = d.gw.SendVoiceStateUpdate(guildID, 0, false, false)
}

// NowPlaying returns a snapshot of a guild's current playback state.
func (d *Director) NowPlaying(guildID model.Snowflake) NowPlaying {
	s := d.session(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return NowPlaying{
		GuildID: guildID,
		TrackID: s.currentID,
		Source:  s.currentName,
		Playing: s.playing,
		Queued:  len(s.queue),
	}
}
