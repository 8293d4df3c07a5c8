package jitter

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packet encodes a synthetic 6-byte payload carrying seq/timestamp for
// tests; Buffer itself is agnostic to wire format and only calls the
// extractor functions passed to Fetch.
func packet(seq uint16, ts uint32) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], seq)
	binary.BigEndian.PutUint32(buf[2:6], ts)
	return buf
}

func testSeq(b []byte) uint16       { return binary.BigEndian.Uint16(b[0:2]) }
func testTimestamp(b []byte) uint32 { return binary.BigEndian.Uint32(b[2:6]) }

func store(t *testing.T, b *Buffer, seq uint16) {
	t.Helper()
	b.Store(StoredPacket{Packet: packet(seq, uint32(seq)*960)}, seq, uint32(seq)*960)
}

func TestReorderedArrivalsPlayOutInSequence(t *testing.T) {
	b := New(100, 3, 8)

	store(t, b, 100)
	store(t, b, 102)
	store(t, b, 101)
	store(t, b, 103)

	var seqs []uint16
	for i := 0; i < 4; i++ {
		lookup := b.Fetch(testSeq, testTimestamp)
		require.Equal(t, LookupPacket, lookup.Kind)
		seqs = append(seqs, testSeq(lookup.Packet.Packet))
	}

	assert.Equal(t, []uint16{100, 101, 102, 103}, seqs)
}

func TestGapProducesMissedMarkers(t *testing.T) {
	b := New(100, 5, 8)

	store(t, b, 100)
	store(t, b, 104)

	kinds := make([]LookupKind, 0, 5)
	for i := 0; i < 5; i++ {
		kinds = append(kinds, b.Fetch(testSeq, testTimestamp).Kind)
	}

	assert.Equal(t, []LookupKind{
		LookupPacket,
		LookupMissed,
		LookupMissed,
		LookupMissed,
		LookupPacket,
	}, kinds)
}

func TestBufferFillsBeforeDraining(t *testing.T) {
	b := New(0, 4, 8)

	store(t, b, 0)
	lookup := b.Fetch(testSeq, testTimestamp)
	assert.Equal(t, LookupFilling, lookup.Kind, "should still be filling below target depth")
}

func TestLateArrivalIsDiscarded(t *testing.T) {
	b := New(10, 3, 8)

	store(t, b, 10)
	store(t, b, 11)
	store(t, b, 12)

	_ = b.Fetch(testSeq, testTimestamp) // releases 10, next_seq -> 11

	// A duplicate/late copy of 10 must not be slotted back in.
	b.Store(StoredPacket{Packet: packet(10, 10*960)}, 10, 10*960)

	lookup := b.Fetch(testSeq, testTimestamp)
	require.Equal(t, LookupPacket, lookup.Kind)
	assert.Equal(t, uint16(11), testSeq(lookup.Packet.Packet))
}
