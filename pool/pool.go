// Package pool is the Thread Pool spec.md §4.9 describes: a dynamically
// sized set of goroutines servicing blocking work the Mixer's tick path must
// never run inline — lazy Input realization, seeks, and header parsing.
// One Pool is shared by every call a Driver hosts (spec.md §9 forbids a
// global pool, but a Driver-wide one is deliberate: it bounds the total
// blocking-work concurrency across every Mixer, not per-call). Each
// submission is delivered back on a channel the *caller* supplies, so two
// Mixers sharing one Pool never race over each other's results.
package pool

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/serenity-rs/songbird/input"
)

// Result is one completed realization, tagged with the Track that
// requested it so the Mixer can route it back via Track.CompleteRealize.
type Result struct {
	TrackID uuid.UUID
	Live    input.Live
	Err     error
}

// Pool runs input.Factory calls off the audio deadline path. Concurrency is
// bounded by a semaphore rather than a fixed worker count, since the work
// is bursty (a flurry of new tracks joining at once) and mostly I/O-bound;
// this is the idiomatic Go shape for that load (no teacher/pack library
// offers a bounded worker pool, so it is built on sync/channels directly).
type Pool struct {
	sem chan struct{}
	log *logrus.Entry
}

// New creates a Pool allowing at most maxConcurrent Factory calls to run at
// once, across every caller sharing it.
func New(maxConcurrent int, log *logrus.Entry) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Pool{
		sem: make(chan struct{}, maxConcurrent),
		log: log,
	}
}

// Submit schedules f to run on a pool goroutine, tagging its outcome with
// trackID and delivering it on results once done. results is owned by the
// caller (one Mixer's own channel, drained once per tick) rather than the
// Pool, since a Pool is shared across every call a Driver hosts — routing
// every result through one shared channel would let one Mixer's drain steal
// and discard a different Mixer's pending realization. Submit returns
// immediately: the semaphore slot is acquired on the spawned goroutine, so
// a Mixer's tick may call it directly. If results is full when f finishes,
// the result is dropped and its Live input closed.
func (p *Pool) Submit(trackID uuid.UUID, f input.Factory, results chan<- Result) {
	go func() {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		live, err := f()
		if err != nil {
			p.log.WithError(err).WithField("track", trackID).Debug("pool: factory failed")
		}

		select {
		case results <- Result{TrackID: trackID, Live: live, Err: err}:
		default:
			p.log.WithField("track", trackID).Warn("pool: result dropped, channel full")
			if live != nil {
				_ = live.Close()
			}
		}
	}()
}
