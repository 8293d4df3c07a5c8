// Package opuscodec wraps github.com/hraban/opus for the 48kHz stereo,
// 20ms-frame encoding the Mixer and receive path both need, plus the
// soft-clip limiter applied before encoding.
package opuscodec

import (
	"github.com/hraban/opus"
	"github.com/pkg/errors"
)

const (
	// SampleRate is the fixed rate Discord voice uses.
	SampleRate = 48000
	// Channels is always stereo.
	Channels = 2
	// FrameSamples is 20ms of audio per channel at 48kHz (spec.md §3).
	FrameSamples = SampleRate / 50
	// StereoFrameSamples is the interleaved sample count for one frame.
	StereoFrameSamples = FrameSamples * Channels
	// maxFrameBytes is a safe upper bound for one encoded Opus frame.
	maxFrameBytes = 4000
)

// SilenceFrame is the sentinel Opus payload used to signal speech end
// (spec.md §3, §8): three magic bytes, not a real encoded silent frame.
var SilenceFrame = [3]byte{0xF8, 0xFF, 0xFE}

// Encoder wraps an Opus encoder configured for voice.
type Encoder struct {
	enc *opus.Encoder
}

// NewEncoder creates an encoder at the given bitrate (bits/second).
func NewEncoder(bitrate int) (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, errors.Wrap(err, "opuscodec: encoder init failed")
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, errors.Wrap(err, "opuscodec: set bitrate failed")
	}
	return &Encoder{enc: enc}, nil
}

// Encode compresses one 20ms stereo frame (StereoFrameSamples float32
// samples) into an Opus packet, returning a slice into a fresh buffer.
func (e *Encoder) Encode(pcm []float32) ([]byte, error) {
	if len(pcm) != StereoFrameSamples {
		return nil, errors.Errorf("opuscodec: expected %d samples, got %d", StereoFrameSamples, len(pcm))
	}

	buf := make([]byte, maxFrameBytes)
	n, err := e.enc.EncodeFloat32(pcm, buf)
	if err != nil {
		return nil, errors.Wrap(err, "opuscodec: encode failed")
	}
	return buf[:n], nil
}

// Decoder wraps an Opus decoder configured for voice.
type Decoder struct {
	dec *opus.Decoder
}

// NewDecoder creates a decoder for 48kHz stereo output.
func NewDecoder() (*Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, errors.Wrap(err, "opuscodec: decoder init failed")
	}
	return &Decoder{dec: dec}, nil
}

// Decode expands an Opus packet into StereoFrameSamples float32 samples.
func (d *Decoder) Decode(packet []byte) ([]float32, error) {
	pcm := make([]float32, StereoFrameSamples)
	n, err := d.dec.DecodeFloat32(packet, pcm)
	if err != nil {
		return nil, errors.Wrap(err, "opuscodec: decode failed")
	}
	return pcm[:n*Channels], nil
}

// PacketLossConcealment synthesizes a frame's worth of audio for a missing
// packet, used by the receive path's jitter buffer for "missed" entries
// (spec.md §4.6).
func (d *Decoder) PacketLossConcealment() ([]float32, error) {
	pcm := make([]float32, StereoFrameSamples)
	n, err := d.dec.DecodeFloat32(nil, pcm)
	if err != nil {
		return nil, errors.Wrap(err, "opuscodec: plc failed")
	}
	return pcm[:n*Channels], nil
}

// Softclip applies a smooth nonlinear limiter to keep samples within
// [-1, 1] without the harsh distortion of hard clipping (spec.md §4.3).
// It is the identity function for samples within [-0.8, 0.8]; samples
// beyond that knee are compressed towards +-1.
func Softclip(buf []float32) {
	for i, s := range buf {
		buf[i] = softclipSample(s)
	}
}

// softclipSample implements a cubic soft limiter: identity near zero,
// approaching +-1 smoothly and holding there for magnitudes of 1.4 and up.
func softclipSample(s float32) float32 {
	const threshold = 0.8

	if s > threshold {
		return threshold + (1-threshold)*tanhApprox((s-threshold)/(1-threshold))
	}
	if s < -threshold {
		return -threshold + (1-threshold)*tanhApprox((s+threshold)/(1-threshold))
	}
	return s
}

// tanhApprox is a fast rational approximation of tanh, sufficient for audio
// limiting where exactness beyond a few bits doesn't matter. The rational
// form reaches exactly +-1 at x = +-3 and grows past it beyond that, so it
// is clamped there.
func tanhApprox(x float32) float32 {
	if x >= 3 {
		return 1
	}
	if x <= -3 {
		return -1
	}
	x2 := x * x
	return x * (27 + x2) / (27 + 9*x2)
}
