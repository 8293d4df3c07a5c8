package track

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/serenity-rs/songbird/input"
)

// FiredEvent is a lifecycle transition a Track produced while draining
// commands or handling end-of-input; the Mixer forwards these to whatever
// EventStore owns this track's registrations (spec.md §4.7).
type FiredEvent struct {
	Kind  EventKind
	State State
}

// Track is the Mixer-side object a Handle's commands are applied to. It is
// never touched from any goroutine but the one ticking its owning Mixer;
// all outside control flows through the command channel (spec.md §9).
type Track struct {
	id uuid.UUID
	in input.Input

	live input.Live // nil until realized

	state State

	realizing   bool
	pendingSeek *time.Duration

	cmdCh chan Command
	done  chan struct{}
	dead  bool

	log *logrus.Entry
}

// New constructs a Track from an Input. A Live (non-lazy) Input is
// considered Playable immediately; a lazy one starts Uninitialised and
// must be realized via MakePlayable or first use (spec.md §4.1).
func New(in input.Input, log *logrus.Entry) *Track {
	t := &Track{
		id:    uuid.New(),
		in:    in,
		cmdCh: make(chan Command, 32),
		done:  make(chan struct{}),
		log:   log,
	}
	t.state.Loops = LoopOnce()
	t.state.Playing = Play
	t.state.Volume = 1.0

	if !in.IsLazy() {
		t.live = in.Live
		t.state.Ready = Playable
	}

	return t
}

// Handle returns a new Handle for controlling this track.
func (t *Track) Handle() *Handle { return NewHandle(t.cmdCh, t.done, t.id) }

// ID returns this track's unique identifier.
func (t *Track) ID() uuid.UUID { return t.id }

// State returns a copy of the current playback state.
func (t *Track) State() State { return t.state }

// Live returns the realized input, or nil if not yet realized.
func (t *Track) Live() input.Live { return t.live }

// Active reports whether the Mixer should be pulling audio from this track
// this tick.
func (t *Track) Active() bool {
	return t.state.Playing == Play && t.state.Ready == Playable
}

// NeedsRealize reports whether this track's lazy Input should be submitted
// to the Thread Pool. Calling code must call BeginRealize immediately after
// submitting, so the request isn't issued twice.
func (t *Track) NeedsRealize() bool {
	return t.state.Ready == Uninitialised && !t.realizing
}

// Factory returns this track's lazy Input constructor and whether one is
// present, for submission to the Thread Pool alongside BeginRealize.
func (t *Track) Factory() (input.Factory, bool) {
	return t.in.Factory, t.in.Factory != nil
}

// BeginRealize flags that a realize request for this track is now in
// flight on the Thread Pool and fires the Preparing event.
func (t *Track) BeginRealize() []FiredEvent {
	t.state.Ready = Preparing
	t.realizing = true
	return []FiredEvent{{Kind: EventPreparing, State: t.state}}
}

// CompleteRealize is called by the Mixer with the Thread Pool's result once
// a lazy Input has been (or failed to be) realized.
func (t *Track) CompleteRealize(live input.Live, err error) []FiredEvent {
	t.realizing = false
	if err != nil {
		t.log.WithError(err).Warn("track: realize failed")
		t.state.Ready = Uninitialised
		fired := []FiredEvent{{Kind: EventError, State: t.state}}
		return append(fired, t.transition(Stop)...)
	}

	t.live = live
	t.state.Ready = Playable
	fired := []FiredEvent{{Kind: EventPlayable, State: t.state}}

	if t.pendingSeek != nil {
		target := *t.pendingSeek
		t.pendingSeek = nil
		t.requestSeek(target)
	}

	return fired
}

// DrainCommands applies every command queued on this track's channel,
// returning the lifecycle events that fired along the way. Called once per
// tick, before this track is considered for mixing (spec.md §4.3 step 1).
func (t *Track) DrainCommands() []FiredEvent {
	var fired []FiredEvent
	for {
		select {
		case cmd := <-t.cmdCh:
			fired = append(fired, t.apply(cmd)...)
		default:
			return fired
		}
	}
}

func (t *Track) apply(cmd Command) []FiredEvent {
	switch cmd.Kind {
	case CmdPlay:
		return t.transition(Play)
	case CmdPause:
		return t.transition(Pause)
	case CmdStop:
		return t.transition(Stop)
	case CmdVolume:
		t.state.Volume = cmd.Volume
	case CmdSeek:
		t.requestSeek(cmd.SeekTarget)
	case CmdLoop:
		t.state.Loops = cmd.Loop
	case CmdMakePlayable:
		if t.NeedsRealize() {
			return t.BeginRealize()
		}
	case CmdAddEvent:
		if cmd.Register != nil {
			cmd.Register()
		}
	case CmdDo:
		if cmd.Do != nil {
			return t.runAction(cmd.Do)
		}
	case CmdRequest:
		if cmd.Reply != nil {
			select {
			case cmd.Reply <- t.state:
			default:
			}
		}
	}
	return nil
}

func (t *Track) transition(to PlayMode) []FiredEvent {
	before := t.state.Playing
	next := before.NextState(to)
	if next == before {
		return nil
	}

	t.state.Playing = next
	if next.IsDone() {
		t.finish()
	}

	return []FiredEvent{{Kind: next.AsEventKind(), State: t.state}}
}

// finish marks the track dead and unblocks any handle waiting in a select
// against Handle.done; idempotent.
func (t *Track) finish() {
	if !t.dead {
		t.dead = true
		close(t.done)
	}
}

func (t *Track) requestSeek(target time.Duration) {
	if t.live == nil {
		pos := target
		t.pendingSeek = &pos
		return
	}
	if !t.live.IsSeekable() {
		t.log.Debug("track: seek requested on unseekable input, ignoring")
		return
	}
	if err := t.live.Seek(target); err != nil {
		t.log.WithError(err).Warn("track: seek failed")
		return
	}
	t.state.Position = target
}

func (t *Track) runAction(do func(View) Action) []FiredEvent {
	view := View{
		Position: t.state.Position,
		PlayTime: t.state.PlayTime,
		Volume:   &t.state.Volume,
		Playing:  &t.state.Playing,
		Loops:    &t.state.Loops,
		Ready:    t.state.Ready,
	}

	action := do(view)

	var fired []FiredEvent
	if action.makePlayable && t.NeedsRealize() {
		fired = append(fired, t.BeginRealize()...)
	}
	if action.seekPoint != nil {
		t.requestSeek(*action.seekPoint)
	}
	return fired
}

// StepFrame advances this track's position counters by one mixed tick.
// Called by the Mixer only for tracks that contributed audio this tick.
func (t *Track) StepFrame(tick time.Duration) {
	t.state.StepFrame(tick)
}

// HandleStarved responds to an Input reporting WouldBlock for more than the
// configured starving threshold: auto-pause rather than silently stalling
// forever (spec.md §4.1).
func (t *Track) HandleStarved() []FiredEvent {
	return t.transition(Pause)
}

// HandleInputError responds to an unrecoverable Input read/seek failure:
// fire TrackError and stop the track, leaving its handle valid but inert
// (spec.md §4.2, §7 "Input-local" error category).
func (t *Track) HandleInputError() []FiredEvent {
	fired := []FiredEvent{{Kind: EventError, State: t.state}}
	return append(fired, t.transition(Stop)...)
}

// HandleEnded responds to the underlying Live input reporting StatusEOF:
// either starts another pass per the loop policy, or transitions to End.
func (t *Track) HandleEnded() []FiredEvent {
	next, shouldLoop := t.state.Loops.ShouldContinue()
	if !shouldLoop {
		return t.transition(End)
	}

	t.state.Loops = next
	if t.live != nil {
		if !t.live.IsSeekable() {
			t.log.Debug("track: loop requested on unseekable input, ending instead")
			return t.transition(End)
		}
		if err := t.live.Seek(0); err != nil {
			t.log.WithError(err).Warn("track: loop seek failed")
			return t.transition(End)
		}
	}
	t.state.Position = 0

	return []FiredEvent{{Kind: EventLoop, State: t.state}}
}
