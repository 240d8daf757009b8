package model

import "time"

// ChannelType enumerates the channel kinds this client distinguishes.
type ChannelType int

const (
	ChannelGuildText ChannelType = iota
	ChannelDM
	ChannelGuildVoice
	ChannelGroupDM
	ChannelGuildCategory
)

// User is the minimal account identity carried in member/voice payloads.
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
}

// Member embeds a User with guild-scoped metadata.
type Member struct {
	User     User      `json:"user"`
	Nick     string    `json:"nick"`
	JoinedAt time.Time `json:"joined_at"`
}

// Channel is a guild or DM channel.
type Channel struct {
	ID        Snowflake   `json:"id"`
	GuildID   Snowflake   `json:"guild_id"`
	Type      ChannelType `json:"type"`
	Name      string      `json:"name"`
	Bitrate   int         `json:"bitrate,omitempty"`
	UserLimit int         `json:"user_limit,omitempty"`
}

// Guild owns a set of channels and members, keyed by id.
type Guild struct {
	ID          Snowflake `json:"id"`
	OwnerID     Snowflake `json:"owner_id"`
	Name        string    `json:"name"`
	Region      string    `json:"region"`
	Unavailable bool      `json:"unavailable"`

	Channels map[Snowflake]Channel `json:"-"`
	Members  map[Snowflake]Member  `json:"-"`
}

func newGuild() Guild {
	return Guild{
		Channels: make(map[Snowflake]Channel),
		Members:  make(map[Snowflake]Member),
	}
}

// OpusFrame is one 20ms/960-sample unit of encoded audio flowing from the
// encoder to the RTP sender. EndOfSource marks the final, zero-padded frame
// of a source (spec §4.10, §8 scenario 6).
type OpusFrame struct {
	Bytes        []byte
	SampleCount  int
	EndOfSource  bool
}
