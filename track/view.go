package track

import "time"

// View exposes a Track's mutable fields to an Action closure submitted
// through TrackHandle.Do, without handing out the Track itself (spec.md
// §4.2 Action Protocol). It is only ever constructed by the Mixer's tick
// thread, which owns the Track.
type View struct {
	Position time.Duration
	PlayTime time.Duration

	Volume  *float32
	Playing *PlayMode
	Loops   *LoopState

	Ready ReadyState
}
