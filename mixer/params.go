package mixer

import "time"

// DecodeMode controls how much work the receive path performs on inbound
// packets. A package-local mirror of songbird.DecodeMode: mixer cannot
// import the root songbird package (driver.go imports mixer to build the
// Driver), so Params carries a narrow, mixer-owned copy that driver.go
// translates into at construction time.
type DecodeMode int

const (
	// DecodePass leaves packets encrypted; only RTP header/SSRC is inspected.
	DecodePass DecodeMode = iota
	// DecodeDecrypt opens SRTP but does not run the Opus decoder.
	DecodeDecrypt
	// DecodeDecode fully decrypts and decodes to PCM.
	DecodeDecode
)

// Params is everything a Mixer needs from the driver's Config, copied by
// value at construction so this package never depends on the root
// songbird package's types.
type Params struct {
	SSRC uint32

	Bitrate                    int
	Softclip                   bool
	MixAndReencodeWhenOneTrack bool

	DecodeMode DecodeMode

	PlayoutBufferLength int
	PlayoutSpikeLength  int
	SilenceTimeoutTicks int

	StarvingTicks int

	// TickInterval is the wall-clock duration of one mixing tick; 20ms per
	// spec.md §3, kept configurable only for tests that want to drive the
	// scheduler faster than real time.
	TickInterval time.Duration
}
