package songbird

import "time"

// CryptoMode names one of the encryption schemes Discord's voice servers
// negotiate during Select Protocol. Values are the exact wire strings sent
// during negotiation (spec.md §6).
type CryptoMode string

const (
	CryptoXChaCha20Poly1305RTPSize CryptoMode = "xchacha20_poly1305_rtpsize"
	CryptoXSalsa20Poly1305Lite     CryptoMode = "xsalsa20_poly1305_lite"
	CryptoXSalsa20Poly1305Suffix   CryptoMode = "xsalsa20_poly1305_suffix"
)

// preferenceOrder ranks crypto modes from most to least preferred when more
// than one is offered by the voice server's Ready payload.
var preferenceOrder = []CryptoMode{
	CryptoXChaCha20Poly1305RTPSize,
	CryptoXSalsa20Poly1305Lite,
	CryptoXSalsa20Poly1305Suffix,
}

// Preferred picks the best mutually-supported mode from a Ready payload's
// advertised modes list, honouring the caller's preferred mode first.
func Preferred(offered []string, want CryptoMode) (CryptoMode, bool) {
	offeredSet := make(map[CryptoMode]bool, len(offered))
	for _, o := range offered {
		offeredSet[CryptoMode(o)] = true
	}

	if want != "" && offeredSet[want] {
		return want, true
	}

	for _, mode := range preferenceOrder {
		if offeredSet[mode] {
			return mode, true
		}
	}

	return "", false
}

// DecodeMode controls how much work the receive path performs on inbound
// packets (spec.md §6).
type DecodeMode int

const (
	// DecodePass leaves packets encrypted; only RTP header/SSRC is inspected.
	DecodePass DecodeMode = iota
	// DecodeDecrypt opens SRTP but does not run the Opus decoder.
	DecodeDecrypt
	// DecodeDecode fully decrypts and decodes to PCM.
	DecodeDecode
)

// DriveMode selects how the Scheduler's worker threads are driven.
type DriveMode int

const (
	// DriveBlocking dedicates one OS thread per worker (default).
	DriveBlocking DriveMode = iota
	// DriveTokioCompatible is accepted, but nothing reads DriveMode: workers
	// run on dedicated OS threads exactly as under DriveBlocking.
	DriveTokioCompatible
)

// Config is the driver's public command surface for tunables enumerated in
// spec.md §6. Zero-value fields are replaced by DefaultConfig's values at
// Driver construction, except DecodeMode, Softclip, DriveMode and
// MixAndReencodeWhenOneTrack, which are used as given.
type Config struct {
	// CryptoMode is the caller's preferred encryption mode; the driver falls
	// back through preferenceOrder if the server doesn't offer it.
	CryptoMode CryptoMode

	// LiveTracksPerThread bounds how many Mixers one worker will host.
	LiveTracksPerThread int

	// PlayoutBufferLength is the jitter buffer's target depth, in 20ms ticks.
	PlayoutBufferLength int
	// PlayoutSpikeLength is the extra slack allowed above the target depth.
	PlayoutSpikeLength int

	DecodeMode DecodeMode

	// Softclip enables the soft nonlinear limiter on the mix buffer.
	Softclip bool

	DriveMode DriveMode

	// Bitrate is the Opus target bitrate in bits/second.
	Bitrate int

	// MixAndReencodeWhenOneTrack disables the passthrough fast path even
	// when a single Opus-framed track is the sole active source.
	MixAndReencodeWhenOneTrack bool

	// HandshakeTimeout bounds the WS handshake + Ready wait (spec.md §4.5).
	HandshakeTimeout time.Duration

	// ReconnectBackoffBase and ReconnectBackoffCap bound the exponential
	// backoff applied between reconnect attempts (spec.md §4.5).
	ReconnectBackoffBase time.Duration
	ReconnectBackoffCap  time.Duration

	// SilenceTimeoutTicks is the number of ticks an SsrcState may go without
	// a fresh packet before it is pruned (spec.md §3).
	SilenceTimeoutTicks int

	// StarvingTicks is how many consecutive WouldBlock ticks a track
	// tolerates before it is auto-paused (spec.md §4.1).
	StarvingTicks int

	// WorkerBudget is the soft wall-clock budget for the "work" half of a
	// worker's tick before it evicts its costliest Mixer (spec.md §4.4).
	WorkerBudget time.Duration
}

// DefaultConfig returns the configuration spec.md §6 enumerates as defaults.
func DefaultConfig() Config {
	return Config{
		CryptoMode:           CryptoXChaCha20Poly1305RTPSize,
		LiveTracksPerThread:  16,
		PlayoutBufferLength:  5,
		PlayoutSpikeLength:   3,
		DecodeMode:           DecodeDecode,
		Softclip:             true,
		DriveMode:            DriveBlocking,
		Bitrate:              128_000,
		HandshakeTimeout:     10 * time.Second,
		ReconnectBackoffBase: time.Second,
		ReconnectBackoffCap:  30 * time.Second,
		SilenceTimeoutTicks:  100,
		StarvingTicks:        5,
		WorkerBudget:         18 * time.Millisecond,
	}
}

// fillDefaults replaces zero-value fields with DefaultConfig's values, so
// callers can supply a partially-populated Config. DecodeMode, Softclip,
// DriveMode and MixAndReencodeWhenOneTrack are left as given, since their
// zero values are valid settings.
func fillDefaults(c Config) Config {
	d := DefaultConfig()

	if c.CryptoMode == "" {
		c.CryptoMode = d.CryptoMode
	}
	if c.LiveTracksPerThread == 0 {
		c.LiveTracksPerThread = d.LiveTracksPerThread
	}
	if c.PlayoutBufferLength == 0 {
		c.PlayoutBufferLength = d.PlayoutBufferLength
	}
	if c.PlayoutSpikeLength == 0 {
		c.PlayoutSpikeLength = d.PlayoutSpikeLength
	}
	if c.Bitrate == 0 {
		c.Bitrate = d.Bitrate
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.ReconnectBackoffBase == 0 {
		c.ReconnectBackoffBase = d.ReconnectBackoffBase
	}
	if c.ReconnectBackoffCap == 0 {
		c.ReconnectBackoffCap = d.ReconnectBackoffCap
	}
	if c.SilenceTimeoutTicks == 0 {
		c.SilenceTimeoutTicks = d.SilenceTimeoutTicks
	}
	if c.StarvingTicks == 0 {
		c.StarvingTicks = d.StarvingTicks
	}
	if c.WorkerBudget == 0 {
		c.WorkerBudget = d.WorkerBudget
	}

	return c
}
