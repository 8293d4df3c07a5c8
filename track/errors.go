package track

import "github.com/pkg/errors"

// ErrFinished is returned by any TrackHandle operation once the underlying
// Track has been discarded by the Mixer (naturally ended, stopped, or the
// call it belongs to was torn down).
var ErrFinished = errors.New("track: handle is finished")

// ErrDropped marks a Request/Do callback that was superseded by a newer one
// of the same kind before the Mixer could service it.
var ErrDropped = errors.New("track: request dropped")
