package events

import "github.com/serenity-rs/songbird/track"

// TrackContext is passed to a handler firing for a specific track's
// lifecycle or timed event.
type TrackContext struct {
	Handle *track.Handle
	State  track.State
	Fired  TrackKind
}

// CoreContext is passed to a handler firing for a global, driver-wide
// event: connection lifecycle, receive-path telemetry, or another user's
// speaking state (spec.md §4.7).
type CoreContext struct {
	SSRC       uint32
	UserID     uint64
	Speaking   bool
	RTPHeader  []byte
	RTPPayload []byte
	// PCM carries decoded audio for a VoiceTick event; nil when DecodeMode
	// leaves the payload undecoded (Pass/Decrypt) or the tick was a missed
	// marker with PLC disabled.
	PCM    []float32
	Reason string
}

// Context is the union a Handler observes. Exactly one of Track or Core is
// set, matching which Store the firing registration lives in.
type Context struct {
	Track *TrackContext
	Core  *CoreContext
}

// Handler reacts to one event firing and decides its own fate.
type Handler func(Context) HandlerAction
