package track

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handle is a cheap-to-clone-by-pointer, safe-for-concurrent-use reference
// to a Track living on a Mixer's tick thread. It holds nothing but a
// command channel and an identifier (spec.md §9 Design Notes) so that
// calling code never touches the Track's memory directly.
type Handle struct {
	id   uuid.UUID
	ch   chan<- Command
	done <-chan struct{}
}

// NewHandle builds a Handle over a track's command channel. Called only by
// the track package itself when a Track is constructed.
func NewHandle(ch chan<- Command, done <-chan struct{}, id uuid.UUID) *Handle {
	return &Handle{id: id, ch: ch, done: done}
}

// UUID returns this handle's (and its track's) unique identifier.
func (h *Handle) UUID() uuid.UUID { return h.id }

func (h *Handle) send(cmd Command) error {
	select {
	case <-h.done:
		return ErrFinished
	default:
	}
	select {
	case h.ch <- cmd:
		return nil
	case <-h.done:
		return ErrFinished
	}
}

// Play unpauses the track.
func (h *Handle) Play() error { return h.send(Command{Kind: CmdPlay}) }

// Pause pauses the track; it may be resumed with Play.
func (h *Handle) Pause() error { return h.send(Command{Kind: CmdPause}) }

// Stop halts the track permanently; this fires a TrackEnd event and the
// track cannot be restarted afterward.
func (h *Handle) Stop() error { return h.send(Command{Kind: CmdStop}) }

// SetVolume scales this track's contribution to the mix.
func (h *Handle) SetVolume(volume float32) error {
	return h.send(Command{Kind: CmdVolume, Volume: volume})
}

// MakePlayable forces a lazy track's Input to be realized on the Thread
// Pool ahead of time, rather than on first use.
func (h *Handle) MakePlayable() error {
	return h.send(Command{Kind: CmdMakePlayable})
}

// SeekTime requests playback resume at position. A seek on an unseekable
// input, or one the input rejects, is logged and ignored on the Mixer's
// tick thread; no event fires for it.
func (h *Handle) SeekTime(position time.Duration) error {
	return h.send(Command{Kind: CmdSeek, SeekTarget: position})
}

// EnableLoop loops the track indefinitely.
func (h *Handle) EnableLoop() error {
	return h.send(Command{Kind: CmdLoop, Loop: LoopForever()})
}

// DisableLoop stops the track from looping once its current pass ends.
func (h *Handle) DisableLoop() error {
	return h.send(Command{Kind: CmdLoop, Loop: LoopOnce()})
}

// LoopFor loops the track n more times after its current pass.
func (h *Handle) LoopFor(n int) error {
	return h.send(Command{Kind: CmdLoop, Loop: LoopFinite(n)})
}

// AddEvent registers an event on this track. register is invoked on the
// Mixer's tick thread against the track's own EventStore.
func (h *Handle) AddEvent(register func()) error {
	return h.send(Command{Kind: CmdAddEvent, Register: register})
}

// Do runs action against a View of the current track state, on the Mixer's
// tick thread. action must return promptly: it runs inline on the audio
// pipeline's critical path (spec.md §4.2).
func (h *Handle) Do(action func(View) Action) error {
	return h.send(Command{Kind: CmdDo, Do: action})
}

// GetInfo requests a snapshot of the track's playback state.
func (h *Handle) GetInfo(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := h.send(Command{Kind: CmdRequest, Reply: reply}); err != nil {
		return State{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return State{}, ErrFinished
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}
