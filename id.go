package songbird

import "strconv"

// GuildID identifies a Discord guild (server).
type GuildID uint64

// ChannelID identifies a Discord voice channel.
type ChannelID uint64

// UserID identifies a Discord user.
type UserID uint64

// SSRC is the 32-bit synchronization source identifier Discord assigns to a
// voice session on Ready, and to each remote speaker we hear from.
type SSRC uint32

func (g GuildID) String() string   { return strconv.FormatUint(uint64(g), 10) }
func (c ChannelID) String() string { return strconv.FormatUint(uint64(c), 10) }
func (u UserID) String() string    { return strconv.FormatUint(uint64(u), 10) }
