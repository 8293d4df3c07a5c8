package scheduler

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// residency records which Worker (nil for Idle) currently hosts a Mixer.
// Only the dispatch goroutine mutates residents entries after creation;
// mu exists so TotalTasks, LiveTasks and WorkerCount can read it from any
// goroutine.
type residency struct {
	worker *worker
}

// Scheduler is the two-tier deadline scheduler spec.md §4.4 describes: an
// Idle Collector plus a dynamic pool of Worker goroutines. One Scheduler
// should be constructed per Driver (spec.md §9 forbids global state).
type Scheduler struct {
	cfg Config
	log *logrus.Entry

	idle *idleCollector

	mu        sync.Mutex
	workers   []*worker
	residents map[uuid.UUID]*residency
	totalN    int

	promote   chan *managedMixer
	evicted   chan *managedMixer
	demoted   chan *managedMixer
	removeReq chan uuid.UUID
	culled    chan culledRequest

	stop chan struct{}
	done chan struct{}
}

// New constructs a Scheduler and starts its Idle Collector and dispatch
// goroutines immediately.
func New(cfg Config, log *logrus.Entry) *Scheduler {
	cfg = cfg.withDefaults()

	s := &Scheduler{
		cfg:       cfg,
		log:       log,
		residents: make(map[uuid.UUID]*residency),
		promote:   make(chan *managedMixer, 64),
		evicted:   make(chan *managedMixer, 64),
		demoted:   make(chan *managedMixer, 64),
		removeReq: make(chan uuid.UUID, 64),
		culled:    make(chan culledRequest, 8),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.idle = newIdleCollector(cfg, s.promote, log)
	go s.dispatch()
	return s
}

// NewMixer registers m as a freshly parked call under id, which the
// Scheduler uses to track its residency.
func (s *Scheduler) NewMixer(id uuid.UUID, m Tickable) {
	s.mu.Lock()
	s.residents[id] = &residency{}
	s.totalN++
	s.mu.Unlock()

	s.idle.add(&managedMixer{id: id, mixer: m})
}

// Remove tears down a Mixer's residency, wherever it currently lives. Routed
// through dispatch rather than sent directly to a worker/idle mailbox here:
// a concurrent promotion or eviction for the same id has no happens-before
// relationship with this call, so only dispatch — the single goroutine that
// already serializes every other residency transition — can resolve which
// mailbox currently holds it without a lost-update race.
func (s *Scheduler) Remove(id uuid.UUID) {
	s.removeReq <- id
}

// dispatch is the sole goroutine that promotes Idle Mixers onto a Worker,
// re-parks evicted/demoted ones, and processes removals, keeping residents
// consistent without a lock shared with the Worker/Idle hot paths.
func (s *Scheduler) dispatch() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case m := <-s.promote:
			s.assignToWorker(m)
		case m := <-s.evicted:
			s.parkIdle(m)
		case m := <-s.demoted:
			s.parkIdle(m)
		case id := <-s.removeReq:
			s.handleRemove(id)
		case req := <-s.culled:
			s.handleCulled(req)
		}
	}
}

func (s *Scheduler) handleRemove(id uuid.UUID) {
	s.mu.Lock()
	r, ok := s.residents[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.residents, id)
	s.totalN--
	w := r.worker
	s.mu.Unlock()

	if w != nil {
		w.mailbox <- mailboxMsg{dropID: id, isDrop: true}
	} else {
		s.idle.drop(id)
	}
}

// handleCulled removes a self-culled worker from s.workers so no future
// assignToWorker call can pick it, then releases the worker to finish
// exiting. Because dispatch is the sole goroutine that both mutates
// s.workers and calls assignToWorker, any promotion that already picked
// this worker did so strictly before this handler runs; the worker
// performs one final mailbox drain after reply is closed to catch it (see
// worker.requestCull).
func (s *Scheduler) handleCulled(req culledRequest) {
	s.mu.Lock()
	for i, w := range s.workers {
		if w == req.worker {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	close(req.reply)
}

// parkIdle hands m back to the Idle Collector, unless it was removed from
// the Scheduler entirely while its eviction/demotion was in flight — in
// which case it is dropped rather than resurrected.
func (s *Scheduler) parkIdle(m *managedMixer) {
	s.mu.Lock()
	r, ok := s.residents[m.id]
	if !ok {
		s.mu.Unlock()
		return
	}
	r.worker = nil
	s.mu.Unlock()
	s.idle.add(m)
}

// assignToWorker implements spec.md §4.4's promotion rule: the first
// Worker with room takes it, otherwise a new one is created. Guards
// against the same in-flight-removal race as parkIdle.
func (s *Scheduler) assignToWorker(m *managedMixer) {
	s.mu.Lock()
	r, ok := s.residents[m.id]
	if !ok {
		s.mu.Unlock()
		return
	}

	// Population is counted from residents, which dispatch keeps current,
	// rather than from each worker's own map, which only catches up when
	// that worker next drains its mailbox.
	load := make(map[*worker]int, len(s.workers))
	for _, res := range s.residents {
		if res.worker != nil {
			load[res.worker]++
		}
	}

	var target *worker
	for _, w := range s.workers {
		if load[w] < s.cfg.MaxPerThread {
			target = w
			break
		}
	}
	if target == nil {
		target = newWorker(len(s.workers), s.cfg, s.evicted, s.demoted, s.culled, s.log)
		s.workers = append(s.workers, target)
	}
	r.worker = target
	s.mu.Unlock()

	target.mailbox <- mailboxMsg{add: m}
}

// TotalTasks reports every Mixer the Scheduler currently tracks, idle or
// live (spec.md §4.4, mirroring the reference's total_tasks()).
func (s *Scheduler) TotalTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalN
}

// LiveTasks reports how many Mixers are currently resident on a Worker.
func (s *Scheduler) LiveTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.residents {
		if r.worker != nil {
			n++
		}
	}
	return n
}

// WorkerCount reports how many Worker goroutines currently exist.
func (s *Scheduler) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Shutdown stops the dispatch goroutine, every Worker, and the Idle
// Collector, in that order, waiting for each to fully exit.
func (s *Scheduler) Shutdown() {
	close(s.stop)
	<-s.done

	s.mu.Lock()
	workers := append([]*worker(nil), s.workers...)
	s.mu.Unlock()

	for _, w := range workers {
		w.shutdown()
	}
	s.idle.shutdown()
}
