package mixer

import (
	"github.com/pkg/errors"

	"github.com/serenity-rs/songbird/opuscodec"
)

// sendPacket implements spec.md §4.3 steps 5-7: build the RTP header,
// advance seq/timestamp, SRTP-seal the payload, and hand the assembled
// datagram to the UDP socket. A send failure is logged by the caller and
// never fatal for this tick (spec.md §7).
func (m *Mixer) sendPacket(payload []byte, marker bool) error {
	m.seq++
	// The RTP timestamp increment is always one frame's worth of samples,
	// regardless of passthrough source duration (spec.md §9 Open Question,
	// resolved as stated there: non-20ms-frame sources are Input's problem
	// to reject or resample before ever reaching the Mixer).
	m.timestamp += opuscodec.FrameSamples

	hdr := buildHeader(m.seq, m.timestamp, m.params.SSRC, marker)
	headerBytes, err := marshalHeader(hdr)
	if err != nil {
		return err
	}

	sealed, err := m.keys.Seal(headerBytes, payload)
	if err != nil {
		return errors.Wrap(err, "mixer: seal failed")
	}

	datagram := make([]byte, 0, len(headerBytes)+len(sealed))
	datagram = append(datagram, headerBytes...)
	datagram = append(datagram, sealed...)

	return m.conn.Write(datagram)
}
