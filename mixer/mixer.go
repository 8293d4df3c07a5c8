// Package mixer implements the per-call synchronous audio pipeline (spec.md
// §4.3): source acquisition, PCM summation, soft-clip, Opus encode (or
// passthrough), SRTP seal, and UDP send, all within one 20ms tick. It also
// hosts the receive path's per-SSRC playout (spec.md §4.6), since both sides
// share the same tick clock.
package mixer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/serenity-rs/songbird/disposer"
	"github.com/serenity-rs/songbird/events"
	"github.com/serenity-rs/songbird/opuscodec"
	"github.com/serenity-rs/songbird/pool"
	"github.com/serenity-rs/songbird/track"
	"github.com/serenity-rs/songbird/udp"
	"github.com/serenity-rs/songbird/voicecrypto"
)

// trackSlot bundles a Track with the extra bookkeeping the Mixer needs but
// the Track itself has no business knowing about.
type trackSlot struct {
	track    *track.Track
	starving int

	// opusDecoder is lazily created only when this track's Input yields
	// Opus frames that must be summed alongside others (i.e. it lost its
	// passthrough eligibility), since a pure-passthrough or pure-PCM track
	// never needs one.
	opusDecoder *opuscodec.Decoder
}

// TickResult reports what one Tick produced, for the worker's scheduling
// decisions and the connection layer's speaking-state/keepalive plumbing.
type TickResult struct {
	Sent            bool
	SpeakingChanged *bool
	Cost            time.Duration
	CoreFires       []events.CoreFire
}

// Mixer owns a fixed set of Tracks and the inbound SSRC state for one voice
// call, and produces exactly one encrypted RTP packet (or nothing) per
// tick. A Mixer is single-threaded-owned: every method here runs on the
// Scheduler worker (or test goroutine) that ticks it, never concurrently
// with itself (spec.md §5). AddTrack/TrackCount/HasPlayingTrack may be
// called from other goroutines (a Driver's Play, the Scheduler) while a
// tick is in flight, so those three take mu, and Tick takes it too when it
// snapshots or removes entries of the tracks map.
type Mixer struct {
	params     Params
	keys       *voicecrypto.SessionKeys
	conn       *udp.Connection
	pool       *pool.Pool
	results    chan pool.Result
	disp       *disposer.Disposer
	dispatcher *events.Dispatcher

	encoder *opuscodec.Encoder

	tracks map[uuid.UUID]*trackSlot

	rx rxState

	seq       uint16
	timestamp uint32
	gate      silenceGate

	lastSpeakingState bool

	scratch []float32
	pcmTmp  []float32

	log *logrus.Entry

	mu sync.Mutex
}

// New constructs a Mixer bound to one call's session keys and socket.
func New(p Params, keys *voicecrypto.SessionKeys, conn *udp.Connection, pl *pool.Pool, disp *disposer.Disposer, log *logrus.Entry) (*Mixer, error) {
	enc, err := opuscodec.NewEncoder(p.Bitrate)
	if err != nil {
		return nil, errors.Wrap(err, "mixer: encoder init failed")
	}

	if p.TickInterval == 0 {
		p.TickInterval = 20 * time.Millisecond
	}

	return &Mixer{
		params:     p,
		keys:       keys,
		conn:       conn,
		pool:       pl,
		results:    make(chan pool.Result, 8),
		disp:       disp,
		dispatcher: events.NewDispatcher(),
		encoder:    enc,
		tracks:     map[uuid.UUID]*trackSlot{},
		scratch:    make([]float32, opuscodec.StereoFrameSamples),
		pcmTmp:     make([]float32, opuscodec.StereoFrameSamples),
		log:        log,
	}, nil
}

// Dispatcher exposes the Mixer's event dispatcher so a Driver can register
// global handlers against it.
func (m *Mixer) Dispatcher() *events.Dispatcher { return m.dispatcher }

// AddTrack adopts a new Track, taking exclusive ownership of it.
func (m *Mixer) AddTrack(t *track.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks[t.ID()] = &trackSlot{track: t}
}

// TrackCount reports how many tracks this Mixer currently owns, live or
// not. It is part of scheduler.Tickable; the Scheduler's per-worker limit
// counts Mixers and does not call it.
func (m *Mixer) TrackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}

// HasPlayingTrack reports whether any owned track is actively in Play
// state, the Scheduler's demotion/eviction-exemption test (spec.md §4.4).
func (m *Mixer) HasPlayingTrack() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.tracks {
		if s.track.Active() {
			return true
		}
	}
	return false
}

func (m *Mixer) snapshotSlots() []*trackSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	slots := make([]*trackSlot, 0, len(m.tracks))
	for _, s := range m.tracks {
		slots = append(slots, s)
	}
	return slots
}

// Tick runs one 20ms cycle of spec.md §4.3's nine-step algorithm plus the
// receive path's playout step (§4.6).
func (m *Mixer) Tick(now time.Duration) (TickResult, error) {
	start := time.Now()

	slots := m.snapshotSlots()
	var trackFires []events.TrackFire

	// Step 1: drain inbound command queues and pending realize requests.
	m.drainRealizeResults(slots, &trackFires)
	for _, s := range slots {
		fired := s.track.DrainCommands()
		if s.track.State().Playing == track.Play && s.track.NeedsRealize() {
			fired = append(fired, s.track.BeginRealize()...)
		}
		// A Preparing event marks a realize that just began, whether from
		// first use above or from MakePlayable/Do during DrainCommands.
		for _, fe := range fired {
			if fe.Kind != track.EventPreparing {
				continue
			}
			if factory, ok := s.track.Factory(); ok {
				m.pool.Submit(s.track.ID(), factory, m.results)
			}
		}
		if len(fired) > 0 {
			trackFires = append(trackFires, events.TrackFire{
				ID:    s.track.ID(),
				Fired: fired,
				Ctx:   events.TrackContext{Handle: s.track.Handle(), State: s.track.State()},
			})
		}
	}

	m.removeDeadTracks(slots)

	// Steps 3-4: mix or passthrough.
	payload, sent, marker, endFires := m.produceFrame(slots)
	trackFires = append(trackFires, endFires...)

	result := TickResult{}
	if sent {
		if err := m.sendPacket(payload, marker); err != nil {
			m.log.WithError(err).Debug("mixer: send failed")
		} else {
			result.Sent = true
		}
	}

	speaking := len(m.activeSlots(slots)) > 0
	if m.speakingChanged(speaking) {
		result.SpeakingChanged = &speaking
	}

	// Receive-path playout (spec.md §4.6).
	result.CoreFires = m.playoutTick()

	m.dispatcher.Tick(now, trackFires, result.CoreFires)

	result.Cost = time.Since(start)
	return result, nil
}

// speakingChanged compares against the Mixer's last reported speaking
// state, updating it as a side effect.
func (m *Mixer) speakingChanged(now bool) bool {
	changed := now != m.lastSpeakingState
	m.lastSpeakingState = now
	return changed
}

// activeSlots filters to tracks currently contributing audio.
func (m *Mixer) activeSlots(slots []*trackSlot) []*trackSlot {
	active := make([]*trackSlot, 0, len(slots))
	for _, s := range slots {
		if s.track.Active() {
			active = append(active, s)
		}
	}
	return active
}

// drainRealizeResults completes any Thread Pool realizations that finished
// since the last tick, without blocking if none have. m.results is this
// Mixer's own channel (Pool.Submit was handed it directly), so every result
// read here belongs to one of this Mixer's own tracks; the ownership lookup
// below only guards against a track that was removed between submit and
// completion, not against another Mixer's work landing here.
func (m *Mixer) drainRealizeResults(slots []*trackSlot, trackFires *[]events.TrackFire) {
	byID := make(map[uuid.UUID]*trackSlot, len(slots))
	for _, s := range slots {
		byID[s.track.ID()] = s
	}

	for {
		select {
		case res := <-m.results:
			s, ok := byID[res.TrackID]
			if !ok {
				if res.Live != nil {
					_ = res.Live.Close()
				}
				continue
			}
			fired := s.track.CompleteRealize(res.Live, res.Err)
			if len(fired) > 0 {
				*trackFires = append(*trackFires, events.TrackFire{
					ID:    s.track.ID(),
					Fired: fired,
					Ctx:   events.TrackContext{Handle: s.track.Handle(), State: s.track.State()},
				})
			}
		default:
			return
		}
	}
}

// removeDeadTracks drops tracks that have finished and had their commands
// drained this tick, routing their Live input's Close through the Disposer
// so a slow Close never blocks the next tick.
func (m *Mixer) removeDeadTracks(slots []*trackSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range slots {
		state := s.track.State()
		if !state.Playing.IsDone() {
			continue
		}
		if live := s.track.Live(); live != nil {
			m.disp.Dispose(live)
		}
		delete(m.tracks, s.track.ID())
		m.dispatcher.RemoveTrack(s.track.ID())
	}
}
