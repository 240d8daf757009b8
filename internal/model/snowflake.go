// Package model holds the plain data entities shared by the gateway and
// voice-gateway state machines: guilds, channels, members, users, and the
// gateway/voice payload envelopes.
package model

import (
	"strconv"
)

// Snowflake is a 64-bit identifier carried on the wire as a decimal string.
type Snowflake uint64

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// MarshalJSON renders the snowflake as a quoted decimal string.
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON number,
// since some dispatch payloads are inconsistent about quoting ids.
func (s *Snowflake) UnmarshalJSON(b []byte) error {
	str := string(b)
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	if str == "" || str == "null" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return err
	}
	*s = Snowflake(v)
	return nil
}

// ParseSnowflake parses a bare decimal string into a Snowflake.
func ParseSnowflake(str string) (Snowflake, error) {
	v, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, err
	}
	return Snowflake(v), nil
}
