package songbird

import "github.com/pkg/errors"

// Error categories from spec.md §7. Of these, only ErrNotConnected is
// returned by this package's methods; connection failures reach callers as
// the connection package's own errors and as a DisconnectReason.
var (
	// ErrAlreadyConnecting names a Join made while a previous Join for the
	// same Driver hasn't finished. Join does not return it: a repeated Join
	// replaces the pending one.
	ErrAlreadyConnecting = errors.New("songbird: already connecting")

	// ErrNotConnected is returned by control-plane operations that require a
	// live Mixer.
	ErrNotConnected = errors.New("songbird: not connected")

	// ErrHandshakeTimeout marks a fatal-to-connection handshake timeout.
	ErrHandshakeTimeout = errors.New("songbird: handshake timed out")

	// ErrIPDiscoveryFailed marks a fatal-to-connection IP discovery failure.
	ErrIPDiscoveryFailed = errors.New("songbird: ip discovery failed")

	// ErrNoSharedCryptoMode marks a fatal-to-connection negotiation failure:
	// no encryption mode offered by the server is supported.
	ErrNoSharedCryptoMode = errors.New("songbird: no shared crypto mode")

	// ErrNonResumable marks a voice WS close code that cannot be resumed;
	// the connection must fully tear down (spec.md §6).
	ErrNonResumable = errors.New("songbird: non-resumable close")

	// ErrHandleInert names the "programmer error" category of a handle
	// command sent after Stop (spec.md §7). Track handles report that case
	// with track.ErrFinished; nothing returns ErrHandleInert.
	ErrHandleInert = errors.New("songbird: track handle is inert")
)

// DisconnectReason classifies why a DriverDisconnect event fired.
type DisconnectReason int

const (
	DisconnectReasonUnknown DisconnectReason = iota
	DisconnectReasonLeave
	DisconnectReasonNonResumableClose
	DisconnectReasonHandshakeTimeout
	DisconnectReasonIPDiscoveryFailed
	DisconnectReasonSessionDescriptionFailed
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectReasonLeave:
		return "leave"
	case DisconnectReasonNonResumableClose:
		return "non-resumable close"
	case DisconnectReasonHandshakeTimeout:
		return "handshake timeout"
	case DisconnectReasonIPDiscoveryFailed:
		return "ip discovery failed"
	case DisconnectReasonSessionDescriptionFailed:
		return "session description failed"
	default:
		return "unknown"
	}
}
