package input

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

// dcaStream reads the length-prefixed raw-Opus container ("DCA") used
// throughout the example pack's Discord bots: each frame is a little-endian
// int16 byte length followed by that many bytes of a single Opus packet.
// Every frame is assumed to encode exactly 20ms (spec.md §9 Open Question):
// sources that don't hold this invariant are rejected at construction by
// their producer, not here.
type dcaStream struct {
	r       io.Reader
	seeker  io.Seeker
	closeFn func() error
}

// NewDCAStream wraps r as a Live Opus-framed input, eligible for the Mixer's
// passthrough fast path (spec.md §4.3).
func NewDCAStream(r io.Reader, closeFn func() error) Live {
	s := &dcaStream{r: r, closeFn: closeFn}
	if sk, ok := r.(io.Seeker); ok {
		s.seeker = sk
	}
	return s
}

// FrameDuration is the fixed per-frame duration this adapter assumes.
const FrameDuration = 20 * time.Millisecond

func (s *dcaStream) Kind() Kind { return KindOpus }

func (s *dcaStream) ReadPCM(dst []float32) (Status, error) {
	return StatusEOF, errors.New("input: dcaStream does not produce PCM frames")
}

func (s *dcaStream) NextOpusFrame() ([]byte, time.Duration, Status, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(s.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, 0, StatusEOF, nil
		}
		return nil, 0, StatusEOF, errors.Wrap(err, "input: dca length read failed")
	}

	frameLen := binary.LittleEndian.Uint16(lenBuf[:])
	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(s.r, frame); err != nil {
		return nil, 0, StatusEOF, errors.Wrap(err, "input: dca frame read failed")
	}

	return frame, FrameDuration, StatusFrame, nil
}

func (s *dcaStream) IsSeekable() bool { return s.seeker != nil }

func (s *dcaStream) Seek(target time.Duration) error {
	if s.seeker == nil {
		return ErrNotSeekable
	}
	// DCA frames are variable-length, so duration-based seeking can't be
	// translated to a byte offset without an index. Rewind to start only;
	// callers that need precise seeks should use a PCM source instead.
	if target != 0 {
		return errors.New("input: dca supports only seek-to-start")
	}
	_, err := s.seeker.Seek(0, io.SeekStart)
	return errors.Wrap(err, "input: dca seek failed")
}

func (s *dcaStream) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}
