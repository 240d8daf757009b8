package model

import "sync"

// GatewayStore is the authoritative channel/guild cache maintained from
// dispatch events. It is written and read only from the gateway's receive
// goroutine (see internal/gateway), so the mutex here guards against the
// director or test code reading concurrently, not against concurrent writers.
//
// Grounded on the mutex-guarded-map cache pattern the teacher uses for
// resolving Discord names (internal/voice/discord_resolver.go), adapted to
// be event-sourced: entries are populated from dispatch payloads rather than
// fetched lazily from a REST API, and there is no TTL — the store is only
// ever as stale as the last dispatch event applied to it.
type GatewayStore struct {
	mu             sync.RWMutex
	guilds         map[Snowflake]Guild
	channelToGuild map[Snowflake]Snowflake
}

// NewGatewayStore returns an empty store.
func NewGatewayStore() *GatewayStore {
	return &GatewayStore{
		guilds:         make(map[Snowflake]Guild),
		channelToGuild: make(map[Snowflake]Snowflake),
	}
}

// UpsertGuild records a guild seen in a GUILD_CREATE payload, replacing any
// earlier entry for the same id wholesale (the dispatch carries the full
// current channel list) and clearing its Unavailable flag. Index entries for
// channels the new payload no longer lists are dropped.
func (s *GatewayStore) UpsertGuild(g Guild) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.Channels == nil {
		g.Channels = make(map[Snowflake]Channel)
	}
	if g.Members == nil {
		g.Members = make(map[Snowflake]Member)
	}
	g.Unavailable = false
	if old, ok := s.guilds[g.ID]; ok {
		for cid := range old.Channels {
			if s.channelToGuild[cid] == g.ID {
				delete(s.channelToGuild, cid)
			}
		}
	}
	s.guilds[g.ID] = g
	for cid := range g.Channels {
		s.channelToGuild[cid] = g.ID
	}
}

// MarkGuildUnavailable implements the GUILD_DELETE(unavailable=true) case:
// the guild and its channel index are kept, only flagged, so a later
// GUILD_CREATE for the same id is recognized as "became available again"
// rather than a fresh guild.
func (s *GatewayStore) MarkGuildUnavailable(id Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[id]
	if !ok {
		return
	}
	g.Unavailable = true
	s.guilds[id] = g
}

// SeedUnavailableGuild records a guild id READY reported as already
// unavailable, before any GUILD_CREATE for it has arrived. It is a no-op if
// the guild is already known. A later GUILD_CREATE for the same id then
// goes through the ordinary UpsertGuild path and is recognized as "became
// available" rather than a brand new guild, the same outcome
// MarkGuildUnavailable/UpsertGuild produce for a guild discovered mid-session.
func (s *GatewayStore) SeedUnavailableGuild(id Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.guilds[id]; ok {
		return
	}
	s.guilds[id] = Guild{
		ID:          id,
		Unavailable: true,
		Channels:    make(map[Snowflake]Channel),
		Members:     make(map[Snowflake]Member),
	}
}

// RemoveGuild implements GUILD_DELETE without the unavailable flag: the
// guild and every channel it owned are dropped from the index.
func (s *GatewayStore) RemoveGuild(id Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[id]
	if !ok {
		return
	}
	for cid := range g.Channels {
		delete(s.channelToGuild, cid)
	}
	delete(s.guilds, id)
}

// UpsertChannel implements CHANNEL_CREATE / CHANNEL_UPDATE.
func (s *GatewayStore) UpsertChannel(c Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[c.GuildID]
	if !ok {
		g = newGuild()
		g.ID = c.GuildID
	}
	g.Channels[c.ID] = c
	s.guilds[c.GuildID] = g
	s.channelToGuild[c.ID] = c.GuildID
}

// RemoveChannel implements CHANNEL_DELETE.
func (s *GatewayStore) RemoveChannel(channelID Snowflake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gid, ok := s.channelToGuild[channelID]
	if !ok {
		return
	}
	delete(s.channelToGuild, channelID)
	if g, ok := s.guilds[gid]; ok {
		delete(g.Channels, channelID)
		s.guilds[gid] = g
	}
}

// LookupChannelGuild returns the guild id that owns channelID, satisfying the
// invariant GatewayStore.channel_to_guild[c] == g iff c ∈ Guild[g].channels.
func (s *GatewayStore) LookupChannelGuild(channelID Snowflake) (Snowflake, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gid, ok := s.channelToGuild[channelID]
	return gid, ok
}

// Guild returns a copy of the guild by id.
func (s *GatewayStore) Guild(id Snowflake) (Guild, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[id]
	return g, ok
}

// ChannelByName finds a channel by exact name within a guild, the lookup the
// chat-command layer (join/leave) relies on.
func (s *GatewayStore) ChannelByName(guildID Snowflake, name string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.guilds[guildID]
	if !ok {
		return Channel{}, false
	}
	for _, c := range g.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return Channel{}, false
}
