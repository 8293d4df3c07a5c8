package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/serenity-rs/songbird/track"
)

// TrackFire bundles one tick's worth of a single track's lifecycle events
// (from Track.DrainCommands/HandleEnded) with the context handlers should
// observe.
type TrackFire struct {
	ID    uuid.UUID
	Fired []track.FiredEvent
	Ctx   TrackContext
}

// CoreFire is one core event observed this tick (a decoded receive packet,
// a speaking update, a connection transition).
type CoreFire struct {
	Kind CoreKind
	Ctx  CoreContext
}

// Dispatcher owns the global Store and one per-track Store, and enforces
// spec.md §4.7's cross-kind firing order for a single tick: track-end/loop
// events, then time-crossings, then global periodic/delayed, then receive
// events.
type Dispatcher struct {
	global *Store
	tracks map[uuid.UUID]*Store
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{global: NewStore(true), tracks: map[uuid.UUID]*Store{}}
}

// Global returns the driver-wide Store, for core events and global
// periodic/delayed timers.
func (d *Dispatcher) Global() *Store { return d.global }

// Track returns (creating if needed) the per-track Store for id.
func (d *Dispatcher) Track(id uuid.UUID) *Store {
	s, ok := d.tracks[id]
	if !ok {
		s = NewStore(false)
		d.tracks[id] = s
	}
	return s
}

// RemoveTrack drops a track's Store entirely, once it's been discarded.
func (d *Dispatcher) RemoveTrack(id uuid.UUID) {
	delete(d.tracks, id)
}

// trackKindOf maps a track package's internal FiredEvent kind onto this
// package's public TrackKind vocabulary.
func trackKindOf(k track.EventKind) (TrackKind, bool) {
	switch k {
	case track.EventPlay:
		return TrackStart, true
	case track.EventPause:
		return TrackPause, true
	case track.EventEnd:
		return TrackEnd, true
	case track.EventLoop:
		return TrackLoop, true
	case track.EventPreparing:
		return TrackPreparing, true
	case track.EventPlayable:
		return TrackPlayable, true
	case track.EventError:
		return TrackError, true
	default:
		return 0, false
	}
}

// Tick runs one tick's dispatch in spec order. now is the driver's running
// tick clock, used for the global Store's periodic/delayed timers; each
// track's own periodic/delayed timers use that track's play_time instead,
// so a paused track's timers don't advance (spec.md §4.7).
func (d *Dispatcher) Tick(now time.Duration, trackFires []TrackFire, coreFires []CoreFire) {
	// 1. Track-end/loop (and other lifecycle) events, fired against both
	// the owning track's own Store and the global Store, so a caller can
	// subscribe to "any track ended" without touching individual handles.
	for _, tf := range trackFires {
		store := d.Track(tf.ID)
		for _, fe := range tf.Fired {
			kind, ok := trackKindOf(fe.Kind)
			if !ok {
				continue
			}
			ctx := Context{Track: &TrackContext{Handle: tf.Ctx.Handle, State: tf.Ctx.State, Fired: kind}}
			store.FireTrack(kind, ctx)
			d.global.FireTrack(kind, ctx)
		}
	}

	// 2. Time-crossings: each track's own periodic/delayed timers, on that
	// track's play_time clock.
	for _, tf := range trackFires {
		store, ok := d.tracks[tf.ID]
		if !ok {
			continue
		}
		ctx := Context{Track: &TrackContext{Handle: tf.Ctx.Handle, State: tf.Ctx.State}}
		store.FireTimed(tf.Ctx.State.PlayTime, ctx)
	}

	// 3. Global periodic/delayed, on the driver's tick clock.
	d.global.FireTimed(now, Context{})

	// 4. Receive events: core notifications from the receive path.
	for _, cf := range coreFires {
		d.global.FireCore(cf.Kind, Context{Core: &cf.Ctx})
	}
}
