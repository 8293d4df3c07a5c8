package scheduler

import (
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// worker hosts a bounded set of live Mixers on one pinned OS thread,
// ticking all of them on an absolute 20ms deadline schedule so tick-to-tick
// drift never accumulates (spec.md §4.4). Grounded in
// original_source/src/driver/scheduler/live.rs's Live::run_once, with the
// Rust packet-arena bookkeeping dropped as a memory optimization Go's GC
// makes unnecessary (documented in DESIGN.md).
type worker struct {
	id  int
	cfg Config

	mine map[uuid.UUID]*managedMixer

	// mailbox carries both assignments and removals in a single ordered
	// channel; see mailboxMsg's doc comment for why two separate channels
	// would race.
	mailbox chan mailboxMsg
	stop    chan struct{}
	done    chan struct{}

	evict   chan *managedMixer
	demoted chan *managedMixer
	culled  chan culledRequest

	log *logrus.Entry
}

func newWorker(id int, cfg Config, evict, demoted chan *managedMixer, culled chan culledRequest, log *logrus.Entry) *worker {
	w := &worker{
		id:      id,
		cfg:     cfg,
		mine:    make(map[uuid.UUID]*managedMixer),
		mailbox: make(chan mailboxMsg, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		evict:   evict,
		demoted: demoted,
		culled:  culled,
		log:     log.WithField("worker", id),
	}
	go w.run()
	return w
}

// room reports whether this worker can accept one more live Mixer.
func (w *worker) room() bool { return len(w.mine) < w.cfg.MaxPerThread }

// drainMailbox applies every assign/drop message queued since the last
// tick, so a burst of promotions lands within one tick rather than
// trickling in one per loop iteration.
func (w *worker) drainMailbox(idleSince *time.Time) {
	for {
		select {
		case msg := <-w.mailbox:
			if msg.isDrop {
				delete(w.mine, msg.dropID)
			} else {
				w.mine[msg.add.id] = msg.add
				*idleSince = time.Time{}
			}
		default:
			return
		}
	}
}

func (w *worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	deadline := time.Now().Add(w.cfg.TickInterval)
	var elapsed time.Duration
	idleSince := time.Now()

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		w.drainMailbox(&idleSince)

		if len(w.mine) == 0 {
			if idleSince.IsZero() {
				idleSince = time.Now()
			} else if time.Since(idleSince) > w.cfg.WorkerIdleTimeout {
				w.requestCull()
				w.log.Debug("scheduler: worker culled after idle timeout")
				return
			}
		}

		w.tickOnce(elapsed)
		elapsed += w.cfg.TickInterval

		sleepUntil(deadline)
		deadline = deadline.Add(w.cfg.TickInterval)
	}
}

// tickOnce mixes every hosted Mixer once, then evicts the costliest one if
// the aggregate cost exceeded the soft budget (spec.md §4.4 overload
// handling: "at most once per tick").
func (w *worker) tickOnce(elapsed time.Duration) {
	var total time.Duration
	var worstID uuid.UUID
	var worstCost time.Duration
	haveWorst := false

	for id, m := range w.mine {
		res, err := m.mixer.Tick(elapsed)
		if err != nil {
			w.log.WithError(err).WithField("mixer", id).Warn("scheduler: mixer tick failed")
			continue
		}
		m.lastCost = res.Cost
		total += res.Cost

		if !m.mixer.HasPlayingTrack() {
			delete(w.mine, id)
			select {
			case w.demoted <- m:
			default:
				w.mine[id] = m // demotion channel saturated, retry next tick
			}
			continue
		}

		if !haveWorst || res.Cost > worstCost {
			worstID, worstCost, haveWorst = id, res.Cost, true
		}
	}

	if w.cfg.MoveExpensiveTasks && haveWorst && total > w.cfg.SoftBudget && len(w.mine) > 1 {
		m := w.mine[worstID]
		delete(w.mine, worstID)
		select {
		case w.evict <- m:
		default:
			w.mine[worstID] = m
		}
	}
}

// requestCull asks the dispatch goroutine to remove this worker from
// Scheduler.workers before it exits, so a later assignToWorker call can
// never pick a worker that has already stopped reading its mailbox.
// Because dispatch both mutates s.workers and is the only caller of
// assignToWorker, any promotion that chose this worker did so strictly
// before dispatch processes this request (dispatch handles one message at
// a time). Once reply is closed, one final drain catches a mixer that was
// already in flight to our mailbox at that moment and hands it back to the
// Idle Collector instead of stranding it.
func (w *worker) requestCull() {
	reply := make(chan struct{})
	select {
	case w.culled <- culledRequest{worker: w, reply: reply}:
	case <-w.stop:
		return
	}

	select {
	case <-reply:
	case <-w.stop:
		return
	}

	var unused time.Time
	w.drainMailbox(&unused)
	for id, m := range w.mine {
		delete(w.mine, id)
		w.demoted <- m
	}
}

func sleepUntil(deadline time.Time) {
	if d := time.Until(deadline); d > 0 {
		time.Sleep(d)
	}
}

func (w *worker) shutdown() {
	close(w.stop)
	<-w.done
}
