package input

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
)

// pcmStream adapts an io.Reader of interleaved little-endian float32 stereo
// samples at 48kHz into a Live PCM source. This is the shape a demuxer
// collaborator (spec.md §6) is expected to hand the driver once it has
// already resampled to 48kHz stereo.
type pcmStream struct {
	r        io.Reader
	seeker   io.Seeker // non-nil if the underlying reader supports it
	sampleN  int64     // samples read so far, for Seek bookkeeping via position
	closeFn  func() error
}

// NewPCMStream wraps r as a Live PCM input. If r also implements io.Seeker,
// Seek translates a duration into a byte offset; otherwise IsSeekable is
// false.
func NewPCMStream(r io.Reader, closeFn func() error) Live {
	s := &pcmStream{r: r, closeFn: closeFn}
	if sk, ok := r.(io.Seeker); ok {
		s.seeker = sk
	}
	return s
}

const bytesPerSample = 4 // float32

func (s *pcmStream) Kind() Kind { return KindPCM }

func (s *pcmStream) ReadPCM(dst []float32) (Status, error) {
	raw := make([]byte, len(dst)*bytesPerSample)
	n, err := io.ReadFull(s.r, raw)
	switch {
	case err == io.EOF && n == 0:
		return StatusEOF, nil
	case err == io.ErrUnexpectedEOF:
		// Partial frame at end of stream: zero-pad and treat as final frame.
		for i := n; i < len(raw); i++ {
			raw[i] = 0
		}
	case err != nil:
		return StatusEOF, errors.Wrap(err, "input: pcm read failed")
	}

	for i := range dst {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		dst[i] = math.Float32frombits(bits)
	}
	s.sampleN += int64(len(dst) / 2)

	return StatusFrame, nil
}

func (s *pcmStream) NextOpusFrame() ([]byte, time.Duration, Status, error) {
	return nil, 0, StatusEOF, errors.New("input: pcmStream does not produce Opus frames")
}

func (s *pcmStream) IsSeekable() bool { return s.seeker != nil }

func (s *pcmStream) Seek(target time.Duration) error {
	if s.seeker == nil {
		return ErrNotSeekable
	}

	const sampleRate = 48000
	const channels = 2
	samplePos := int64(target.Seconds() * sampleRate)
	byteOffset := samplePos * channels * bytesPerSample

	if _, err := s.seeker.Seek(byteOffset, io.SeekStart); err != nil {
		return errors.Wrap(err, "input: pcm seek failed")
	}
	s.sampleN = samplePos
	return nil
}

func (s *pcmStream) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}
