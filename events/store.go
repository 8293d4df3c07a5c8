package events

import (
	"time"

	"github.com/pkg/errors"
)

// ErrGlobalOnly is returned by Add when a Core event is registered against
// a per-track Store (spec.md §4.7: Core events must be applied globally).
var ErrGlobalOnly = errors.New("events: core events can only be registered globally")

type registration struct {
	event    Event
	handler  Handler
	deadline time.Duration
}

// Store holds one scope's worth of event registrations: either a single
// track's, or the driver-wide global scope. Handlers for a given kind fire
// in the order they were added (spec.md §4.7).
type Store struct {
	global bool
	regs   []*registration
}

// NewStore creates an empty Store. global stores may hold Core
// registrations; per-track stores reject them.
func NewStore(global bool) *Store {
	return &Store{global: global}
}

// Add registers h for ev. now seeds the initial deadline for Periodic
// (first fire after Phase, or Period if Phase is zero) and Delayed events;
// it is measured on whichever clock this Store is ticked with (a track's
// play_time for a per-track Store, the driver's running tick duration for
// the global Store).
func (s *Store) Add(ev Event, h Handler, now time.Duration) error {
	if ev.IsGlobalOnly() && !s.global {
		return ErrGlobalOnly
	}

	r := &registration{event: ev, handler: h}
	switch ev.Class {
	case ClassPeriodic:
		phase := ev.Phase
		if phase == 0 {
			phase = ev.Period
		}
		r.deadline = now + phase
	case ClassDelayed:
		r.deadline = now + ev.Delay
	}

	s.regs = append(s.regs, r)
	return nil
}

// RemoveAll drops every registration in this Store. A track's whole Store
// is dropped by Dispatcher.RemoveTrack instead.
func (s *Store) RemoveAll() {
	s.regs = nil
}

// FireTrack invokes every handler registered for kind, in insertion order.
func (s *Store) FireTrack(kind TrackKind, ctx Context) {
	s.fireMatching(0, func(r *registration) bool {
		return r.event.Class == ClassTrack && r.event.Track == kind
	}, ctx)
}

// FireCore invokes every handler registered for kind, in insertion order.
func (s *Store) FireCore(kind CoreKind, ctx Context) {
	s.fireMatching(0, func(r *registration) bool {
		return r.event.Class == ClassCore && r.event.Core == kind
	}, ctx)
}

// FireTimed invokes every Periodic/Delayed handler whose deadline has
// passed as of now, in insertion order, then re-arms or drops it per its
// returned HandlerAction.
func (s *Store) FireTimed(now time.Duration, ctx Context) {
	s.fireMatching(now, func(r *registration) bool {
		return (r.event.Class == ClassPeriodic || r.event.Class == ClassDelayed) && now >= r.deadline
	}, ctx)
}

func (s *Store) fireMatching(now time.Duration, match func(*registration) bool, ctx Context) {
	kept := s.regs[:0]
	for _, r := range s.regs {
		if !match(r) {
			kept = append(kept, r)
			continue
		}

		switch action := r.handler(ctx); action.Kind {
		case Cancel:
			// dropped: not appended to kept.
		case Reschedule:
			if r.event.Class == ClassPeriodic || r.event.Class == ClassDelayed {
				r.deadline = now + action.Delay
			}
			kept = append(kept, r)
		default: // Continue
			if r.event.Class == ClassDelayed {
				// one-shot: drop unless the handler asked to reschedule.
				continue
			}
			if r.event.Class == ClassPeriodic {
				r.deadline = now + r.event.Period
			}
			kept = append(kept, r)
		}
	}
	s.regs = kept
}
