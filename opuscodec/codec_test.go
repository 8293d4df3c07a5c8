package opuscodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sineFrame() []float32 {
	pcm := make([]float32, StereoFrameSamples)
	for i := range pcm {
		pcm[i] = 0.2
	}
	return pcm
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc, err := NewEncoder(64_000)
	require.NoError(t, err)
	dec, err := NewDecoder()
	require.NoError(t, err)

	pcm := sineFrame()
	packet, err := enc.Encode(pcm)
	require.NoError(t, err)
	require.NotEmpty(t, packet)

	out, err := dec.Decode(packet)
	require.NoError(t, err)
	require.Len(t, out, StereoFrameSamples)
}

func TestEncodeRejectsWrongFrameSize(t *testing.T) {
	enc, err := NewEncoder(64_000)
	require.NoError(t, err)

	_, err = enc.Encode(make([]float32, StereoFrameSamples-2))
	require.Error(t, err)
}

func TestPacketLossConcealmentProducesFullFrame(t *testing.T) {
	dec, err := NewDecoder()
	require.NoError(t, err)

	pcm, err := dec.PacketLossConcealment()
	require.NoError(t, err)
	require.Len(t, pcm, StereoFrameSamples)
}

func TestSoftclipLeavesQuietSamplesUntouched(t *testing.T) {
	buf := []float32{0, 0.1, -0.1, 0.5, -0.5}
	want := append([]float32{}, buf...)
	Softclip(buf)
	require.Equal(t, want, buf)
}

func TestSoftclipBoundsLoudSamples(t *testing.T) {
	buf := []float32{1.5, -1.5, 3.0, -3.0}
	Softclip(buf)
	for _, s := range buf {
		require.LessOrEqual(t, s, float32(1.0))
		require.GreaterOrEqual(t, s, float32(-1.0))
	}
}

func TestSoftclipPreservesOrdering(t *testing.T) {
	buf := []float32{0.9, 1.2}
	Softclip(buf)
	require.Less(t, buf[0], buf[1], "a louder input must still clip to a louder output")
}

func TestSilenceFrameIsThreeMagicBytes(t *testing.T) {
	require.Equal(t, [3]byte{0xF8, 0xFF, 0xFE}, SilenceFrame)
}

func TestFrameSizeConstants(t *testing.T) {
	require.Equal(t, 960, FrameSamples)
	require.Equal(t, 1920, StereoFrameSamples)
}
