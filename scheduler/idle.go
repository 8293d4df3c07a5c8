package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// idleCollector hosts every parked Mixer on a single goroutine, ticking
// each in turn so its commands still drain and its keepalive/receive path
// still advances while no audio is playing (spec.md §4.4). Grounded in
// original_source/src/driver/scheduler/idle.rs's Idle::run_once.
type idleCollector struct {
	cfg     Config
	mine    map[uuid.UUID]*managedMixer
	mailbox chan mailboxMsg
	done    chan struct{}
	stop    chan struct{}
	promote chan *managedMixer
	log     *logrus.Entry
}

func newIdleCollector(cfg Config, promote chan *managedMixer, log *logrus.Entry) *idleCollector {
	ic := &idleCollector{
		cfg:     cfg,
		mine:    make(map[uuid.UUID]*managedMixer),
		mailbox: make(chan mailboxMsg, 64),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		promote: promote,
		log:     log,
	}
	go ic.run()
	return ic
}

func (ic *idleCollector) add(m *managedMixer) { ic.mailbox <- mailboxMsg{add: m} }
func (ic *idleCollector) drop(id uuid.UUID)   { ic.mailbox <- mailboxMsg{dropID: id, isDrop: true} }

func (ic *idleCollector) run() {
	defer close(ic.done)

	ticker := time.NewTicker(ic.cfg.TickInterval)
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		select {
		case <-ic.stop:
			return
		case msg := <-ic.mailbox:
			if msg.isDrop {
				delete(ic.mine, msg.dropID)
			} else {
				ic.mine[msg.add.id] = msg.add
			}
		case <-ticker.C:
			ic.tickAll(elapsed)
			elapsed += ic.cfg.TickInterval
		}
	}
}

func (ic *idleCollector) tickAll(elapsed time.Duration) {
	for id, m := range ic.mine {
		res, err := m.mixer.Tick(elapsed)
		if err != nil {
			ic.log.WithError(err).WithField("mixer", id).Warn("scheduler: idle tick failed")
			continue
		}
		m.lastCost = res.Cost

		if m.mixer.HasPlayingTrack() {
			delete(ic.mine, id)
			select {
			case ic.promote <- m:
			default:
				// Promotion channel saturated: leave it parked, it will be
				// retried on next Idle tick since HasPlayingTrack stays true.
				ic.mine[id] = m
			}
		}
	}
}

func (ic *idleCollector) shutdown() {
	close(ic.stop)
	<-ic.done
}
