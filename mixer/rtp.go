package mixer

import (
	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// payloadType is Discord voice's fixed RTP payload type (spec.md §6: 2-byte
// flag 0x8078 decodes to version 2, no padding/extension, payload type 120).
const payloadType = 120

// headerLen is the fixed 12-byte RTP header Discord voice uses: no CSRC
// list, no extension.
const headerLen = 12

// buildHeader constructs the fixed 12-byte RTP header for one outbound
// packet (spec.md §4.3 step 5).
func buildHeader(seq uint16, timestamp, ssrc uint32, marker bool) rtp.Header {
	return rtp.Header{
		Version:        2,
		Marker:         marker,
		PayloadType:    payloadType,
		SequenceNumber: seq,
		Timestamp:      timestamp,
		SSRC:           ssrc,
	}
}

// marshalHeader serializes hdr into exactly headerLen bytes.
func marshalHeader(hdr rtp.Header) ([]byte, error) {
	b, err := hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "mixer: rtp header marshal failed")
	}
	if len(b) != headerLen {
		return nil, errors.Errorf("mixer: unexpected rtp header length %d", len(b))
	}
	return b, nil
}
