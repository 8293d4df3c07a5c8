package jitter

import (
	"time"

	"github.com/pion/rtp"
	"github.com/pkg/errors"

	"github.com/serenity-rs/songbird/opuscodec"
)

// Tick is one SSRC's contribution to a single receive tick: the raw RTP
// packet (if one was released this tick) and, when decoding is enabled,
// the PCM it decoded to (or PLC-synthesized audio for a missed packet).
type Tick struct {
	RawPacket  []byte
	DecodedPCM []float32
}

// State tracks one remote SSRC's playout buffer, Opus decoder, and prune
// deadline (spec.md §4.6, grounded on the reference driver's SsrcState).
type State struct {
	buffer  *Buffer
	decoder *opuscodec.Decoder

	pruneDeadline time.Time
	Disconnected  bool
}

// NewState seeds a State from the first packet seen for this SSRC.
// targetDepth and spikeLength come from Config.PlayoutBufferLength/
// PlayoutSpikeLength; pruneAfter from Config.SilenceTimeoutTicks.
func NewState(firstPacket []byte, targetDepth, spikeLength int, pruneAfter time.Duration) (*State, error) {
	seq, _, err := parseHeader(firstPacket)
	if err != nil {
		return nil, err
	}

	dec, err := opuscodec.NewDecoder()
	if err != nil {
		return nil, errors.Wrap(err, "jitter: decoder init failed")
	}

	return &State{
		buffer:        New(seq, targetDepth, targetDepth+spikeLength),
		decoder:       dec,
		pruneDeadline: time.Now().Add(pruneAfter),
	}, nil
}

// Store slots a newly-arrived packet into the playout buffer.
func (s *State) Store(pkt StoredPacket) error {
	seq, ts, err := parseHeader(pkt.Packet)
	if err != nil {
		return err
	}
	s.buffer.Store(pkt, seq, ts)
	return nil
}

// RefreshPrune pushes this SSRC's prune deadline out by timeout, unless it
// has already been marked disconnected (spec.md §3: pruning after a
// silence timeout).
func (s *State) RefreshPrune(timeout time.Duration) {
	if !s.Disconnected {
		s.pruneDeadline = time.Now().Add(timeout)
	}
}

// ShouldPrune reports whether this SSRC has been silent past its deadline
// and its State should be dropped.
func (s *State) ShouldPrune(now time.Time) bool {
	return now.After(s.pruneDeadline)
}

// VoiceTick advances playout by one tick, returning nil if the buffer is
// still filling. decode selects whether Opus decoding (or PLC, for a
// missed packet) runs at all, matching Config.DecodeMode == DecodeDecode.
func (s *State) VoiceTick(decode bool) (*Tick, error) {
	lookup := s.buffer.Fetch(seqOf, timestampOf)

	switch lookup.Kind {
	case LookupFilling:
		return nil, nil

	case LookupMissed:
		if !decode {
			return &Tick{}, nil
		}
		pcm, err := s.decoder.PacketLossConcealment()
		if err != nil {
			return nil, errors.Wrap(err, "jitter: plc failed")
		}
		return &Tick{DecodedPCM: pcm}, nil

	default: // LookupPacket
		tick := &Tick{RawPacket: lookup.Packet.Packet}
		if decode && lookup.Packet.Decrypted {
			var hdr rtp.Header
			n, err := hdr.Unmarshal(lookup.Packet.Packet)
			if err != nil {
				return nil, errors.Wrap(err, "jitter: parse payload packet")
			}
			pcm, err := s.decoder.Decode(lookup.Packet.Packet[n:])
			if err != nil {
				return nil, errors.Wrap(err, "jitter: decode failed")
			}
			tick.DecodedPCM = pcm
		}
		return tick, nil
	}
}

func parseHeader(packet []byte) (seq uint16, timestamp uint32, err error) {
	var hdr rtp.Header
	if _, err := hdr.Unmarshal(packet); err != nil {
		return 0, 0, errors.Wrap(err, "jitter: malformed rtp header")
	}
	return hdr.SequenceNumber, hdr.Timestamp, nil
}

func seqOf(packet []byte) uint16 {
	seq, _, _ := parseHeader(packet)
	return seq
}

func timestampOf(packet []byte) uint32 {
	_, ts, _ := parseHeader(packet)
	return ts
}
