package voicegateway

// IdentifyData is opcode 0.
type IdentifyData struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// SelectProtocolData is opcode 1.
type SelectProtocolData struct {
	Protocol string                 `json:"protocol"`
	Data     SelectProtocolPayload  `json:"data"`
}

// SelectProtocolPayload describes the discovered UDP endpoint and the chosen
// encryption mode.
type SelectProtocolPayload struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// SpeakingFlag is the bitmask sent/received on opcode 5.
type SpeakingFlag int

const (
	SpeakingMicrophone SpeakingFlag = 1 << iota
	SpeakingSoundshare
	SpeakingPriority
)

// SpeakingData is opcode 5, sent to announce our own speaking state.
type SpeakingData struct {
	Speaking SpeakingFlag `json:"speaking"`
	Delay    int          `json:"delay"`
	SSRC     uint32       `json:"ssrc"`
}

// ResumeData is opcode 7.
type ResumeData struct {
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}
