// Package jitter implements the receive path's per-SSRC reorder/playout
// buffer: absorbing network jitter by holding a short window of packets
// before releasing them in sequence order, and synthesizing "missed"
// markers for gaps (spec.md §4.6).
package jitter

// StoredPacket is one buffered inbound RTP datagram, plus whether it has
// already been through SRTP decryption (a track can be re-decrypted if the
// caller changes DecodeMode mid-call).
type StoredPacket struct {
	Packet    []byte
	Decrypted bool
}

// playoutMode mirrors the reference receive path's two-phase behaviour:
// Fill while the buffer builds up to its target depth, Drain once it's
// deep enough to start releasing packets on a steady cadence.
type playoutMode int

const (
	modeFill playoutMode = iota
	modeDrain
)

// LookupKind tags what Fetch found for this tick.
type LookupKind int

const (
	// LookupPacket means a real packet is ready to play out.
	LookupPacket LookupKind = iota
	// LookupMissed means this tick's slot is a confirmed gap: play
	// concealment audio.
	LookupMissed
	// LookupFilling means the buffer isn't deep enough yet: play silence
	// without advancing next_seq.
	LookupFilling
)

// Lookup is the result of one Fetch call.
type Lookup struct {
	Kind   LookupKind
	Packet StoredPacket
}

// frameSamples is 20ms at 48kHz, the RTP timestamp step per packet
// (spec.md §3).
const frameSamples = 960

// Buffer reorders packets from a single SSRC by RTP sequence number and
// releases them at a steady one-per-tick cadence, synthesizing "missed"
// markers for gaps and rebuffering ("Fill") when playout runs dry
// (spec.md §4.6, grounded on the reference driver's PlayoutBuffer).
type Buffer struct {
	slots       []*StoredPacket
	mode        playoutMode
	nextSeq     uint16
	haveTS      bool
	currentTS   uint32
	targetDepth int
	maxSpan     int
}

// New creates a Buffer expecting its first packet to carry seq nextSeq.
// targetDepth is how many packets accumulate before playout starts
// (spec.md §6 PlayoutBufferLength); maxSpan bounds how far ahead of
// next_seq an out-of-order arrival may still be slotted in.
func New(nextSeq uint16, targetDepth, maxSpan int) *Buffer {
	return &Buffer{nextSeq: nextSeq, targetDepth: targetDepth, maxSpan: maxSpan}
}

// seqDiff returns a-b as a signed 16-bit wraparound difference, matching
// RTP sequence number arithmetic.
func seqDiff(a, b uint16) int16 {
	return int16(a - b)
}

// Store slots an arrived packet by its RTP sequence number relative to
// next_seq. Packets that have already been passed over (arrived too late)
// or that fall beyond maxSpan ahead are dropped.
func (b *Buffer) Store(pkt StoredPacket, seq uint16, timestamp uint32) {
	if !b.haveTS {
		b.currentTS = timestamp - uint32(frameSamples*b.targetDepth)
		b.haveTS = true
	}

	index := int(seqDiff(seq, b.nextSeq))
	if index < 0 {
		return // arrived too late, past next_seq
	}
	if index >= b.maxSpan {
		return // arrived too far ahead of playout
	}

	for len(b.slots) <= index {
		b.slots = append(b.slots, nil)
	}
	stored := pkt
	b.slots[index] = &stored

	if len(b.slots) >= b.targetDepth {
		b.mode = modeDrain
	}
}

// Fetch releases the next packet in playout order, or reports a miss or a
// still-filling buffer. RTPSeq/RTPTimestamp let the caller decode
// timestamp/sequence out of Packet.Packet without this package depending
// on an RTP parsing library.
func (b *Buffer) Fetch(rtpSeq func([]byte) uint16, rtpTimestamp func([]byte) uint32) Lookup {
	if b.mode == modeFill {
		return Lookup{Kind: LookupFilling}
	}

	var out Lookup
	if len(b.slots) == 0 {
		out = Lookup{Kind: LookupFilling}
	} else {
		head := b.slots[0]
		b.slots = b.slots[1:]

		if head == nil {
			b.nextSeq++
			out = Lookup{Kind: LookupMissed}
		} else {
			ts := rtpTimestamp(head.Packet)
			tsDiff := int32(b.currentTS - ts)
			if tsDiff <= 0 {
				b.nextSeq = rtpSeq(head.Packet) + 1
				out = Lookup{Kind: LookupPacket, Packet: *head}
			} else {
				// The playout clock is already past this packet's
				// timestamp: put it back and refill rather than
				// releasing it now.
				b.slots = append([]*StoredPacket{head}, b.slots...)
				b.mode = modeFill
				out = Lookup{Kind: LookupFilling}
			}
		}
	}

	if len(b.slots) == 0 {
		b.mode = modeFill
		b.haveTS = false
	}
	if b.haveTS {
		b.currentTS += frameSamples
	}

	return out
}

// NextSeq exposes the sequence number this Buffer expects next, used to
// compute a saturating missed-packet count for the codec's PLC bookkeeping.
func (b *Buffer) NextSeq() uint16 { return b.nextSeq }
