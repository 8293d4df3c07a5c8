package mixer

import (
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pkg/errors"

	"github.com/serenity-rs/songbird/events"
	"github.com/serenity-rs/songbird/jitter"
)

// rxState guards everything the receive path touches, separately from the
// tracks map's mu: inbound packets arrive on the connection layer's UDP
// receive goroutine, concurrently with the Mixer's own Tick (spec.md §5 —
// "optional UDP receive" is an async-task concern distinct from the
// synchronous mixing thread, even though both sides share the same
// SsrcState).
type rxState struct {
	mu      sync.Mutex
	ssrcMap map[uint32]*jitter.State
	users   map[uint32]uint64
}

// BindSSRCUser records which user id a remote SSRC belongs to, learned from
// the WebSocket's Speaking opcode; used to populate VoiceTick contexts.
func (m *Mixer) BindSSRCUser(ssrc uint32, userID uint64) {
	m.rx.mu.Lock()
	defer m.rx.mu.Unlock()
	if m.rx.users == nil {
		m.rx.users = map[uint32]uint64{}
	}
	m.rx.users[ssrc] = userID
}

// HandleInboundPacket implements spec.md §4.6 steps 1-3: parse the RTP
// header, SRTP-open per the configured DecodeMode, and slot the result into
// that SSRC's jitter buffer. Safe to call concurrently with Tick and with
// itself from multiple receive goroutines (only one is expected in
// practice, one per Mixer's UDP socket).
func (m *Mixer) HandleInboundPacket(raw []byte) error {
	var hdr rtp.Header
	n, err := hdr.Unmarshal(raw)
	if err != nil {
		return errors.Wrap(err, "mixer: malformed rtp packet")
	}
	if hdr.PayloadType != payloadType {
		return nil // unknown payload type, ignore per spec.md §4.6 step 1
	}

	header := raw[:headerLen]
	body := raw[n:]

	stored := jitter.StoredPacket{Packet: raw}
	if m.params.DecodeMode != DecodePass {
		plain, err := m.keys.Open(header, body)
		if err != nil {
			return errors.Wrap(err, "mixer: srtp open failed")
		}
		full := make([]byte, n+len(plain))
		copy(full, raw[:n])
		copy(full[n:], plain)
		stored = jitter.StoredPacket{Packet: full, Decrypted: true}
	}

	m.rx.mu.Lock()
	defer m.rx.mu.Unlock()

	if m.rx.ssrcMap == nil {
		m.rx.ssrcMap = map[uint32]*jitter.State{}
	}
	state, ok := m.rx.ssrcMap[hdr.SSRC]
	if !ok {
		state, err = jitter.NewState(stored.Packet, m.params.PlayoutBufferLength, m.params.PlayoutSpikeLength, m.silenceTimeout())
		if err != nil {
			return errors.Wrap(err, "mixer: ssrc state init failed")
		}
		m.rx.ssrcMap[hdr.SSRC] = state
	}

	return state.Store(stored)
}

func (m *Mixer) silenceTimeout() time.Duration {
	return time.Duration(m.params.SilenceTimeoutTicks) * m.params.TickInterval
}

// playoutTick implements spec.md §4.6 step 4-5: advance every live SsrcState
// by one playout step, emit VoiceTick core events, and prune SsrcStates
// that have gone silent past their timeout.
func (m *Mixer) playoutTick() []events.CoreFire {
	m.rx.mu.Lock()
	defer m.rx.mu.Unlock()

	if len(m.rx.ssrcMap) == 0 {
		return nil
	}

	decode := m.params.DecodeMode == DecodeDecode
	now := time.Now()

	var fires []events.CoreFire
	for ssrc, state := range m.rx.ssrcMap {
		tick, err := state.VoiceTick(decode)
		if err != nil {
			m.log.WithError(err).WithField("ssrc", ssrc).Warn("mixer: voice tick failed")
			continue
		}
		if tick != nil {
			fires = append(fires, events.CoreFire{
				Kind: events.VoiceTick,
				Ctx: events.CoreContext{
					SSRC:       ssrc,
					UserID:     m.rx.users[ssrc],
					RTPPayload: tick.RawPacket,
					PCM:        tick.DecodedPCM,
				},
			})
			state.RefreshPrune(m.silenceTimeout())
		}

		if state.ShouldPrune(now) {
			delete(m.rx.ssrcMap, ssrc)
		}
	}

	return fires
}
