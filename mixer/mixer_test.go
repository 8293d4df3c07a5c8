package mixer

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/serenity-rs/songbird/disposer"
	"github.com/serenity-rs/songbird/input"
	"github.com/serenity-rs/songbird/pool"
	"github.com/serenity-rs/songbird/track"
	"github.com/serenity-rs/songbird/udp"
	"github.com/serenity-rs/songbird/voicecrypto"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// loopbackConn dials a real UDP loopback pair so send.go's Connection.Write
// exercises an actual socket, and returns the server side raw for
// assertions on the wire bytes.
func loopbackConn(t *testing.T) (*udp.Connection, *net.UDPConn) {
	t.Helper()

	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	client, err := udp.Dial(context.Background(), server.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// The server needs the client's ephemeral port before it can reply, but
	// this test only ever reads from client->server, so no handshake needed.
	return client, server
}

func silentPCMTrack(t *testing.T, log *logrus.Entry) *track.Track {
	t.Helper()
	// Enough zeroed interleaved float32 stereo samples for many frames.
	raw := make([]byte, opuscodecStereoBytes()*64)
	live := input.NewPCMStream(newByteReader(raw), nil)
	return track.New(input.NewLive(live), log)
}

// byteReader is a minimal io.Reader (no Seek) over a fixed buffer, used so
// tests exercise the non-seekable path deliberately.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(b []byte) *byteReader { return &byteReader{data: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func opuscodecStereoBytes() int {
	const stereoFrameSamples = 960 * 2
	const bytesPerSample = 4
	return stereoFrameSamples * bytesPerSample
}

func testParams() Params {
	return Params{
		SSRC:                42,
		Bitrate:             64_000,
		Softclip:            true,
		DecodeMode:          DecodeDecode,
		PlayoutBufferLength: 5,
		PlayoutSpikeLength:  3,
		SilenceTimeoutTicks: 100,
		StarvingTicks:       5,
		TickInterval:        20 * time.Millisecond,
	}
}

func readRTP(t *testing.T, server *net.UDPConn) (seq uint16, ts uint32, payload []byte) {
	t.Helper()
	buf := make([]byte, udp.MaxDatagramSize)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := server.ReadFromUDP(buf)
	require.NoError(t, err)

	var hdr rtp.Header
	hn, err := hdr.Unmarshal(buf[:n])
	require.NoError(t, err)
	return hdr.SequenceNumber, hdr.Timestamp, buf[hn:n]
}

func TestSequenceAndTimestampAreMonotonic(t *testing.T) {
	log := testLog()
	client, server := loopbackConn(t)

	var key [32]byte
	keys := voicecrypto.NewSessionKeys(voicecrypto.ModeXChaCha20Poly1305RTPSize, key)

	pl := pool.New(4, log)
	disp := disposer.New(8, log)
	m, err := New(testParams(), keys, client, pl, disp, log)
	require.NoError(t, err)

	tr := silentPCMTrack(t, log)
	m.AddTrack(tr)

	var seqs []uint16
	var timestamps []uint32
	for i := 0; i < 3; i++ {
		_, err := m.Tick(time.Duration(i) * 20 * time.Millisecond)
		require.NoError(t, err)

		seq, ts, _ := readRTP(t, server)
		seqs = append(seqs, seq)
		timestamps = append(timestamps, ts)
	}

	for i := 1; i < len(seqs); i++ {
		require.Equal(t, seqs[i-1]+1, seqs[i], "sequence must increment by exactly one per tick")
		require.Equal(t, timestamps[i-1]+960, timestamps[i], "timestamp must advance by 960 samples per tick")
	}
}

func TestFirstPacketCarriesConfiguredSSRCAndPayloadType(t *testing.T) {
	log := testLog()
	client, server := loopbackConn(t)

	var key [32]byte
	keys := voicecrypto.NewSessionKeys(voicecrypto.ModeXSalsa20Poly1305Lite, key)

	pl := pool.New(4, log)
	disp := disposer.New(8, log)
	params := testParams()
	params.SSRC = 42
	m, err := New(params, keys, client, pl, disp, log)
	require.NoError(t, err)

	m.AddTrack(silentPCMTrack(t, log))

	_, err = m.Tick(0)
	require.NoError(t, err)

	buf := make([]byte, udp.MaxDatagramSize)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := server.ReadFromUDP(buf)
	require.NoError(t, err)

	require.Equal(t, byte(120), buf[1]&0x7F, "payload type must be 120")
	ssrc := binary.BigEndian.Uint32(buf[8:12])
	require.Equal(t, uint32(42), ssrc)
}

func TestSilenceTailAfterTrackStops(t *testing.T) {
	log := testLog()
	client, server := loopbackConn(t)

	var key [32]byte
	keys := voicecrypto.NewSessionKeys(voicecrypto.ModeXSalsa20Poly1305Suffix, key)

	pl := pool.New(4, log)
	disp := disposer.New(8, log)
	m, err := New(testParams(), keys, client, pl, disp, log)
	require.NoError(t, err)

	tr := silentPCMTrack(t, log)
	handle := tr.Handle()
	m.AddTrack(tr)

	_, err = m.Tick(0)
	require.NoError(t, err)
	_, _, _ = readRTP(t, server) // active tick

	require.NoError(t, handle.Stop())

	var silentSends int
	for i := 0; i < 6; i++ {
		_, err := m.Tick(time.Duration(i+1) * 20 * time.Millisecond)
		require.NoError(t, err)

		require.NoError(t, server.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
		buf := make([]byte, udp.MaxDatagramSize)
		_, _, readErr := server.ReadFromUDP(buf)
		if readErr == nil {
			silentSends++
		}
	}

	require.Equal(t, silenceTailFrames, silentSends, "exactly five silence-tail packets after stop")
}
