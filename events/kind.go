// Package events implements the driver's tagged handler system: periodic
// and delayed timers, track lifecycle notifications, and global "core"
// notifications from the receive path and connection state machine
// (spec.md §4.7). Trait-object handlers become tagged HandlerAction values
// (Continue, Cancel, Reschedule) rather than a callback-with-side-effects
// contract.
package events

import "time"

// CoreKind is a global-only event: Store.Add rejects one attached to a
// per-track store with ErrGlobalOnly (spec.md §4.7).
type CoreKind int

const (
	DriverConnect CoreKind = iota
	DriverReconnect
	DriverDisconnect
	SpeakingStateUpdate
	ClientDisconnect
	RtpPacket
	VoiceTick
)

func (k CoreKind) String() string {
	switch k {
	case DriverConnect:
		return "driver-connect"
	case DriverReconnect:
		return "driver-reconnect"
	case DriverDisconnect:
		return "driver-disconnect"
	case SpeakingStateUpdate:
		return "speaking-state-update"
	case ClientDisconnect:
		return "client-disconnect"
	case RtpPacket:
		return "rtp-packet"
	case VoiceTick:
		return "voice-tick"
	default:
		return "unknown"
	}
}

// TrackKind is a per-track lifecycle event (spec.md §4.7's named list, plus
// Pause/Preparing carried over from the reference driver's richer set as a
// supplementary, non-exclusive addition).
type TrackKind int

const (
	TrackStart TrackKind = iota
	TrackPause
	TrackEnd
	TrackLoop
	TrackPreparing
	TrackPlayable
	TrackError
)

func (k TrackKind) String() string {
	switch k {
	case TrackStart:
		return "track-start"
	case TrackPause:
		return "track-pause"
	case TrackEnd:
		return "track-end"
	case TrackLoop:
		return "track-loop"
	case TrackPreparing:
		return "track-preparing"
	case TrackPlayable:
		return "track-playable"
	case TrackError:
		return "track-error"
	default:
		return "unknown"
	}
}

// Class tags which variant of Event a registration describes.
type Class int

const (
	ClassPeriodic Class = iota
	ClassDelayed
	ClassTrack
	ClassCore
)

// Event describes what a handler should be invoked for. Exactly the fields
// matching Class are meaningful.
type Event struct {
	Class Class

	// Period and Phase apply to ClassPeriodic: the handler first fires
	// after Phase (or Period, if Phase is zero), then every Period after
	// that, re-armed by default (spec.md §4.7).
	Period time.Duration
	Phase  time.Duration

	// Delay applies to ClassDelayed: a single fire at now+Delay.
	Delay time.Duration

	Track TrackKind
	Core  CoreKind
}

// Periodic builds a recurring event, firing every period. If phase is zero
// the first fire happens after one period; otherwise the first fire happens
// after phase and every period thereafter.
func Periodic(period, phase time.Duration) Event {
	return Event{Class: ClassPeriodic, Period: period, Phase: phase}
}

// Delayed builds a one-shot event firing after delay.
func Delayed(delay time.Duration) Event {
	return Event{Class: ClassDelayed, Delay: delay}
}

// OnTrack builds a track-lifecycle event registration.
func OnTrack(kind TrackKind) Event {
	return Event{Class: ClassTrack, Track: kind}
}

// OnCore builds a global core-event registration. Attaching these to a
// per-track store is rejected by Store.Add with ErrGlobalOnly (spec.md §4.7).
func OnCore(kind CoreKind) Event {
	return Event{Class: ClassCore, Core: kind}
}

// IsGlobalOnly reports whether this event class may only be registered on
// the driver-wide store.
func (e Event) IsGlobalOnly() bool { return e.Class == ClassCore }
