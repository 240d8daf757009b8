package gateway

import (
	"encoding/json"

	"github.com/discord-voice-lab/internal/model"
)

type wireChannel struct {
	ID        string `json:"id"`
	GuildID   string `json:"guild_id"`
	Type      int    `json:"type"`
	Name      string `json:"name"`
	Bitrate   int    `json:"bitrate"`
	UserLimit int    `json:"user_limit"`
}

func (w wireChannel) toModel() model.Channel {
	id, _ := model.ParseSnowflake(w.ID)
	gid, _ := model.ParseSnowflake(w.GuildID)
	return model.Channel{
		ID:        id,
		GuildID:   gid,
		Type:      model.ChannelType(w.Type),
		Name:      w.Name,
		Bitrate:   w.Bitrate,
		UserLimit: w.UserLimit,
	}
}

type wireGuild struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Name        string        `json:"name"`
	Region      string        `json:"region"`
	Unavailable bool          `json:"unavailable"`
	Channels    []wireChannel `json:"channels"`
}

type wireGuildDelete struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// applyGuildCreate decodes a GUILD_CREATE dispatch, upserts it, and returns
// the decoded guild so callers can log its id/name without re-parsing.
func applyGuildCreate(store *model.GatewayStore, raw json.RawMessage) (model.Guild, error) {
	var w wireGuild
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Guild{}, err
	}
	id, _ := model.ParseSnowflake(w.ID)
	owner, _ := model.ParseSnowflake(w.OwnerID)
	g := model.Guild{
		ID:       id,
		OwnerID:  owner,
		Name:     w.Name,
		Region:   w.Region,
		Channels: make(map[model.Snowflake]model.Channel, len(w.Channels)),
		Members:  make(map[model.Snowflake]model.Member),
	}
	for _, c := range w.Channels {
		cm := c.toModel()
		cm.GuildID = id
		g.Channels[cm.ID] = cm
	}
	store.UpsertGuild(g)
	return g, nil
}

// applyGuildDelete decodes a GUILD_DELETE dispatch.
func applyGuildDelete(store *model.GatewayStore, raw json.RawMessage) error {
	var w wireGuildDelete
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	id, _ := model.ParseSnowflake(w.ID)
	if w.Unavailable {
		store.MarkGuildUnavailable(id)
	} else {
		store.RemoveGuild(id)
	}
	return nil
}

func applyChannelCreate(store *model.GatewayStore, raw json.RawMessage) (model.Channel, error) {
	var w wireChannel
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Channel{}, err
	}
	cm := w.toModel()
	store.UpsertChannel(cm)
	return cm, nil
}

func applyChannelUpdate(store *model.GatewayStore, raw json.RawMessage) (model.Channel, error) {
	return applyChannelCreate(store, raw)
}

func applyChannelDelete(store *model.GatewayStore, raw json.RawMessage) error {
	var w wireChannel
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	id, _ := model.ParseSnowflake(w.ID)
	store.RemoveChannel(id)
	return nil
}
