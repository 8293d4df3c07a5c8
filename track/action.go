package track

import "time"

// Action is a composite command assembled from a View snapshot, letting a
// caller order a seek and/or a make-playable request consistently with the
// track's state at the moment it was read, without a round trip (spec.md
// §4.2 Action Protocol).
type Action struct {
	makePlayable bool
	seekPoint    *time.Duration
}

// Seek requests playback resume at target once applied.
func (a Action) Seek(target time.Duration) Action {
	a.seekPoint = &target
	return a
}

// MakePlayable requests the track's lazy Input be realized if it isn't
// already.
func (a Action) MakePlayable() Action {
	a.makePlayable = true
	return a
}

// combine folds other into a, with other's seek (if any) taking precedence
// since it was computed from the more recent snapshot.
func (a *Action) combine(other Action) {
	a.makePlayable = a.makePlayable || other.makePlayable
	if other.seekPoint != nil {
		a.seekPoint = other.seekPoint
	}
}
