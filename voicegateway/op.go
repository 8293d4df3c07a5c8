// Package voicegateway implements the client side of Discord's voice
// websocket: the opcode envelope, the Identify/Resume handshake, and the
// heartbeat pacemaker. It knows nothing about mixing or RTP; it hands the
// Connection FSM (see the connection package) a channel of decoded events.
package voicegateway

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// OPCode is a Discord voice gateway operation code (spec.md §6).
type OPCode int

const (
	IdentifyOP           OPCode = 0 // send
	SelectProtocolOP     OPCode = 1 // send
	ReadyOP              OPCode = 2 // receive
	HeartbeatOP          OPCode = 3 // send
	SessionDescriptionOP OPCode = 4 // receive
	SpeakingOP           OPCode = 5 // send/receive
	HeartbeatAckOP       OPCode = 6 // receive
	ResumeOP             OPCode = 7 // send
	HelloOP              OPCode = 8 // receive
	ResumedOP            OPCode = 9 // receive
	ClientConnectOP      OPCode = 12 // receive, undocumented
	ClientDisconnectOP   OPCode = 13 // receive
)

func (c OPCode) String() string {
	switch c {
	case IdentifyOP:
		return "Identify"
	case SelectProtocolOP:
		return "SelectProtocol"
	case ReadyOP:
		return "Ready"
	case HeartbeatOP:
		return "Heartbeat"
	case SessionDescriptionOP:
		return "SessionDescription"
	case SpeakingOP:
		return "Speaking"
	case HeartbeatAckOP:
		return "HeartbeatAck"
	case ResumeOP:
		return "Resume"
	case HelloOP:
		return "Hello"
	case ResumedOP:
		return "Resumed"
	case ClientConnectOP:
		return "ClientConnect"
	case ClientDisconnectOP:
		return "ClientDisconnect"
	default:
		return "Unknown"
	}
}

// envelope is the {"op": ..., "d": ...} wire frame every payload travels in.
type envelope struct {
	Code OPCode          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

// Event is a decoded incoming frame, handed to the Connection FSM. Err is
// non-nil if the websocket closed or a read failed, in which case Code and
// Data are zero.
type Event struct {
	Code OPCode
	Data json.RawMessage
	Err  error

	// CloseCode is the websocket close code when Err wraps a close, and
	// websocket.CloseNoStatusReceived for any other failed read, and zero
	// for a frame that failed to decode; it lets the
	// Connection FSM decide resumability (spec.md §6).
	CloseCode int
}

// Unmarshal decodes the event's data into v.
func (e Event) Unmarshal(v interface{}) error {
	if len(e.Data) == 0 {
		return errors.New("voicegateway: empty payload")
	}
	return json.Unmarshal(e.Data, v)
}
