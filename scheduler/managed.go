package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// Tickable is the subset of *mixer.Mixer the Scheduler depends on. Defined
// as an interface so Worker/Idle logic can be exercised with fakes instead
// of a real Mixer, which needs a live Opus encoder and UDP socket to build.
type Tickable interface {
	Tick(now time.Duration) (TickResult, error)
	HasPlayingTrack() bool
	TrackCount() int
}

// TickResult mirrors the fields of mixer.TickResult the Scheduler cares
// about, avoiding an import of the mixer package's full event-fire types.
type TickResult struct {
	Sent bool
	Cost time.Duration
}

// managedMixer is one call's residency record: its Tickable, identity, and
// the Scheduler's bookkeeping for promotion/eviction decisions. Touched by
// exactly one goroutine at a time: its pointer is handed over channels and
// ownership moves with it (spec.md §5 "no shared mutable state across
// threads").
type managedMixer struct {
	id       uuid.UUID
	mixer    Tickable
	lastCost time.Duration
	elapsed  time.Duration
}

// mailboxMsg is the single message type fed to both idleCollector and
// worker, so an add and a later drop for the same id are always processed
// in the order they were sent. Two separate channels (one for adds, one
// for drops) would let Go's non-deterministic select process a drop before
// its matching add when both are ready, losing the removal permanently.
type mailboxMsg struct {
	add    *managedMixer
	dropID uuid.UUID
	isDrop bool
}

// culledRequest is how a self-culling worker asks the dispatch goroutine to
// remove it from Scheduler.workers before it exits. reply is closed once
// the removal has been applied, so the worker knows no assignToWorker call
// still in flight can land a mixer on its mailbox after it stops reading.
type culledRequest struct {
	worker *worker
	reply  chan struct{}
}
