package mixer

import (
	"github.com/serenity-rs/songbird/events"
	"github.com/serenity-rs/songbird/input"
	"github.com/serenity-rs/songbird/opuscodec"
	"github.com/serenity-rs/songbird/track"
)

// produceFrame implements spec.md §4.3 steps 3-4: pick a passthrough
// candidate if one qualifies, otherwise sum PCM from every active track,
// soft-clip, and encode. It returns the Opus payload to send (if any), the
// silence-gate's send/marker decision, and any lifecycle events produced by
// tracks whose Input reported EOF/error/WouldBlock-past-threshold this tick.
func (m *Mixer) produceFrame(slots []*trackSlot) (payload []byte, send, marker bool, fires []events.TrackFire) {
	active := m.activeSlots(slots)

	send, marker = m.gate.step(len(active) > 0)
	if !send {
		return nil, false, false, nil
	}
	if len(active) == 0 {
		return opuscodec.SilenceFrame[:], true, marker, nil
	}

	if candidate := m.passthroughCandidate(active); candidate != nil {
		live := candidate.track.Live()
		frame, _, status, err := live.NextOpusFrame()
		out, fire := m.readOutcome(candidate, status, err)
		if fire != nil {
			fires = append(fires, *fire)
		}
		if out {
			candidate.track.StepFrame(m.params.TickInterval)
			return frame, true, marker, fires
		}
		return opuscodec.SilenceFrame[:], true, marker, fires
	}

	for i := range m.scratch {
		m.scratch[i] = 0
	}

	contributed := false
	for _, s := range active {
		pcm, fire := m.readAsPCM(s)
		if fire != nil {
			fires = append(fires, *fire)
		}
		if pcm == nil {
			continue
		}
		contributed = true
		volume := s.track.State().Volume
		for i, sample := range pcm {
			m.scratch[i] += sample * volume
		}
		s.track.StepFrame(m.params.TickInterval)
	}

	if !contributed {
		return opuscodec.SilenceFrame[:], true, marker, fires
	}

	if m.params.Softclip {
		opuscodec.Softclip(m.scratch)
	}

	encoded, err := m.encoder.Encode(m.scratch)
	if err != nil {
		m.log.WithError(err).Warn("mixer: encode failed")
		return opuscodec.SilenceFrame[:], true, marker, fires
	}
	return encoded, true, marker, fires
}

// passthroughCandidate returns the sole active track eligible for Opus
// passthrough (spec.md §4.3 step 3a), or nil.
func (m *Mixer) passthroughCandidate(active []*trackSlot) *trackSlot {
	if m.params.MixAndReencodeWhenOneTrack || len(active) != 1 {
		return nil
	}
	s := active[0]
	live := s.track.Live()
	if live == nil || live.Kind() != input.KindOpus {
		return nil
	}
	if s.track.State().Volume != 1.0 {
		return nil
	}
	return s
}

// readAsPCM pulls one 20ms PCM frame from a track for summation, decoding
// through a lazily-created Opus decoder if the track's Input yields Opus
// frames but wasn't eligible for passthrough this tick.
func (m *Mixer) readAsPCM(s *trackSlot) ([]float32, *events.TrackFire) {
	live := s.track.Live()
	if live == nil {
		return nil, nil
	}

	if live.Kind() == input.KindPCM {
		status, err := live.ReadPCM(m.pcmTmp)
		ok, fire := m.readOutcome(s, status, err)
		if !ok {
			return nil, fire
		}
		out := make([]float32, len(m.pcmTmp))
		copy(out, m.pcmTmp)
		return out, fire
	}

	opusFrame, _, status, err := live.NextOpusFrame()
	ok, fire := m.readOutcome(s, status, err)
	if !ok {
		return nil, fire
	}

	if s.opusDecoder == nil {
		dec, derr := opuscodec.NewDecoder()
		if derr != nil {
			m.log.WithError(derr).Warn("mixer: opus decoder init failed")
			return nil, fire
		}
		s.opusDecoder = dec
	}
	pcm, derr := s.opusDecoder.Decode(opusFrame)
	if derr != nil {
		m.log.WithError(derr).Warn("mixer: opus decode failed for summed track")
		return nil, fire
	}
	return pcm, fire
}

// readOutcome centralizes the WouldBlock/EOF/Error handling common to every
// Input read: WouldBlock counts toward the starving threshold and
// auto-pauses the track past it; EOF drives the loop/end transition. Returns
// whether the caller has a usable frame this tick.
func (m *Mixer) readOutcome(s *trackSlot, status input.Status, err error) (ok bool, fire *events.TrackFire) {
	if err != nil {
		m.log.WithError(err).WithField("track", s.track.ID()).Warn("mixer: input read failed")
		return false, m.fireFor(s, s.track.HandleInputError())
	}

	switch status {
	case input.StatusFrame:
		s.starving = 0
		return true, nil
	case input.StatusWouldBlock:
		s.starving++
		if s.starving > m.params.StarvingTicks {
			s.starving = 0
			return false, m.fireFor(s, s.track.HandleStarved())
		}
		return false, nil
	case input.StatusEOF:
		return false, m.fireFor(s, s.track.HandleEnded())
	default:
		return false, nil
	}
}

func (m *Mixer) fireFor(s *trackSlot, fired []track.FiredEvent) *events.TrackFire {
	if len(fired) == 0 {
		return nil
	}
	return &events.TrackFire{
		ID:    s.track.ID(),
		Fired: fired,
		Ctx:   events.TrackContext{Handle: s.track.Handle(), State: s.track.State()},
	}
}
