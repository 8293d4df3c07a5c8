// Package input defines the audio source contract the Mixer pulls from:
// either raw 48kHz stereo float32 PCM, or whole pre-encoded Opus frames
// eligible for passthrough (spec.md §4.1).
package input

import (
	"time"

	"github.com/pkg/errors"
)

// Kind says whether a Live input yields PCM or whole Opus frames. A single
// Live input never switches kind mid-stream (spec.md §3 invariant).
type Kind int

const (
	KindPCM Kind = iota
	KindOpus
)

// Status is the outcome of one read attempt (spec.md §4.1).
type Status int

const (
	// StatusFrame means dst/the returned slice holds a full frame.
	StatusFrame Status = iota
	// StatusEOF means the source is exhausted.
	StatusEOF
	// StatusWouldBlock means no data is ready yet; the Mixer treats the
	// track as silent for this tick and counts it toward the starving
	// threshold.
	StatusWouldBlock
)

// ErrNotSeekable is returned by Seek on an input that advertises
// IsSeekable() == false.
var ErrNotSeekable = errors.New("input: not seekable")

// Live is a ready-to-read audio source. All methods are called from the
// Mixer's tick thread and MUST NOT block; adapters that wrap blocking I/O
// are expected to buffer ahead on a separate goroutine and return
// StatusWouldBlock when starved.
type Live interface {
	// Kind reports whether this source yields PCM or Opus frames.
	Kind() Kind

	// ReadPCM fills dst (StereoFrameSamples long) with one 20ms frame.
	// Only valid when Kind() == KindPCM.
	ReadPCM(dst []float32) (Status, error)

	// NextOpusFrame returns one whole Opus packet and its duration. Only
	// valid when Kind() == KindOpus.
	NextOpusFrame() (frame []byte, duration time.Duration, status Status, err error)

	// IsSeekable is a static property of the source.
	IsSeekable() bool

	// Seek requests playback resume at the given position. Unseekable
	// inputs must return ErrNotSeekable.
	Seek(target time.Duration) error

	// Close releases any resources. The caller (normally the Disposer)
	// must not assume Close is fast.
	Close() error
}

// Factory lazily produces a Live input. Creating one may block (file opens,
// subprocess spawns, HTTP headers); it must only ever run on the Thread
// Pool, never inline on the Mixer's tick (spec.md §4.1, §4.9).
type Factory func() (Live, error)

// Input is the two-variant sum type spec.md §3 describes: either a Factory
// not yet realized, or an already-Live source. Exactly one field is set.
type Input struct {
	Factory Factory
	Live    Live
}

// NewLazy wraps a Factory as an Input.
func NewLazy(f Factory) Input { return Input{Factory: f} }

// NewLive wraps an already-constructed Live source as an Input.
func NewLive(l Live) Input { return Input{Live: l} }

// IsLazy reports whether this Input still needs Factory invoked.
func (i Input) IsLazy() bool { return i.Factory != nil }

// Realize runs the Factory if this Input is lazy, otherwise returns the
// existing Live source. Callers on the Mixer's tick thread must never call
// this directly for a lazy Input; route it through the Thread Pool.
func (i Input) Realize() (Live, error) {
	if i.Factory != nil {
		return i.Factory()
	}
	return i.Live, nil
}
