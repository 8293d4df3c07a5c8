package songbird

// ConnectionInfo carries the immutable inputs the gateway collaborator hands
// the driver once a guild's voice server and voice state updates have both
// arrived. Nothing in the driver mutates it after Join.
type ConnectionInfo struct {
	GuildID   GuildID
	ChannelID ChannelID
	UserID    UserID

	// Endpoint is the voice server host, without a scheme (e.g.
	// "russia1234.discord.media:443").
	Endpoint string
	// SessionID is the current user's voice session id, from a Voice State
	// Update event.
	SessionID string
	// Token authenticates the Identify payload, from a Voice Server Update
	// event.
	Token string
}

// connectionProgress accumulates the two halves of a ConnectionInfo that
// arrive independently from the gateway (Voice Server Update and Voice State
// Update), mirroring the reference driver's incomplete/complete split so a
// Driver never opens a handshake before both have landed.
type connectionProgress struct {
	guildID   GuildID
	channelID ChannelID
	userID    UserID

	token     string
	endpoint  string
	sessionID string
}

func newConnectionProgress(guildID GuildID, userID UserID, channelID ChannelID) connectionProgress {
	return connectionProgress{guildID: guildID, userID: userID, channelID: channelID}
}

func (p *connectionProgress) setServer(endpoint, token string) {
	p.endpoint = endpoint
	p.token = token
}

func (p *connectionProgress) setState(sessionID string, channelID ChannelID) {
	p.sessionID = sessionID
	p.channelID = channelID
}

func (p connectionProgress) complete() bool {
	return p.token != "" && p.endpoint != "" && p.sessionID != ""
}

func (p connectionProgress) info() ConnectionInfo {
	return ConnectionInfo{
		GuildID:   p.guildID,
		ChannelID: p.channelID,
		UserID:    p.userID,
		Endpoint:  p.endpoint,
		SessionID: p.sessionID,
		Token:     p.token,
	}
}
