package track

import "time"

// CommandKind tags the variant of a Command sent down a TrackHandle's
// channel (spec.md §9: the handle carries only this channel and a UUID,
// never a shared reference to the Track itself).
type CommandKind int

const (
	CmdPlay CommandKind = iota
	CmdPause
	CmdStop
	CmdVolume
	CmdSeek
	CmdAddEvent
	CmdDo
	CmdRequest
	CmdLoop
	CmdMakePlayable
)

// Command is the single message type a Track drains from its command
// channel once per Mixer tick. Only the fields relevant to Kind are set.
type Command struct {
	Kind CommandKind

	Volume     float32
	SeekTarget time.Duration
	Loop       LoopState

	// Do runs an Action-Protocol closure against a View of the track,
	// invoked on the Mixer's tick thread; it must not block.
	Do func(View) Action

	// Register is invoked by the Mixer to add this track's pending event
	// registration to whichever EventStore owns it. Keeping this a closure
	// (rather than a concrete event type) keeps this package independent of
	// the events package, which depends on track, not the reverse.
	Register func()

	// Reply receives the current State for a CmdRequest command.
	Reply chan State
}
