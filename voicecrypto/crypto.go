// Package voicecrypto implements the three SRTP-like encryption schemes
// Discord's voice servers negotiate: xchacha20_poly1305_rtpsize and the two
// legacy xsalsa20_poly1305 variants. Seal/Open accept the 12-byte RTP
// header for API symmetry with the wire layout, but nonce material always
// travels as an explicit counter or suffix appended after the ciphertext,
// never derived from the header.
package voicecrypto

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"
)

// Mode names one of the negotiated encryption schemes.
type Mode string

const (
	ModeXChaCha20Poly1305RTPSize Mode = "xchacha20_poly1305_rtpsize"
	ModeXSalsa20Poly1305Lite     Mode = "xsalsa20_poly1305_lite"
	ModeXSalsa20Poly1305Suffix   Mode = "xsalsa20_poly1305_suffix"
)

// ErrOpenFailed marks an SRTP-open (authenticated decrypt) failure.
var ErrOpenFailed = errors.New("voicecrypto: open failed")

const keySize = 32

// nonceSuffixLen returns how many bytes of nonce material this mode appends
// after the ciphertext (0 for an unknown mode).
func (m Mode) nonceSuffixLen() int {
	switch m {
	case ModeXChaCha20Poly1305RTPSize, ModeXSalsa20Poly1305Lite:
		return 4
	case ModeXSalsa20Poly1305Suffix:
		return 24
	default:
		return 0
	}
}

// SessionKeys holds the negotiated secret and mode for one voice session,
// installed once after SessionDescription and read-only thereafter
// (spec.md §5).
type SessionKeys struct {
	Mode      Mode
	SecretKey [keySize]byte

	// liteCounter is the incrementing 32-bit nonce used by the "lite" mode.
	// rtpsizeCounter is the equivalent for xchacha20_poly1305_rtpsize. Both
	// are randomized at install time and never repeat within a session
	// (spec.md §6, "Nonce MUST never repeat"); the RTP header itself cannot
	// serve as nonce material since sequence/timestamp repeat across a
	// session lasting more than 2^16 packets.
	liteCounter    uint32
	rtpsizeCounter uint32
}

// NewSessionKeys installs a secret key under the given mode, seeding both
// incrementing counters from crypto/rand so restarts don't reuse nonces.
func NewSessionKeys(mode Mode, secret [keySize]byte) *SessionKeys {
	var seed [8]byte
	_, _ = rand.Read(seed[:])

	return &SessionKeys{
		Mode:           mode,
		SecretKey:      secret,
		liteCounter:    binary.BigEndian.Uint32(seed[:4]),
		rtpsizeCounter: binary.BigEndian.Uint32(seed[4:]),
	}
}

// Seal encrypts payload for transmission, given the 12-byte RTP header that
// precedes it. It returns the block that follows the header on the wire:
// the sealed payload (ciphertext with its tag) followed by the mode's
// nonce suffix.
func (k *SessionKeys) Seal(header, payload []byte) ([]byte, error) {
	switch k.Mode {
	case ModeXChaCha20Poly1305RTPSize:
		return k.sealXChaCha(header, payload)
	case ModeXSalsa20Poly1305Lite:
		return k.sealSecretbox(header, payload, k.liteNonceSuffix())
	case ModeXSalsa20Poly1305Suffix:
		var suffix [24]byte
		_, _ = rand.Read(suffix[:])
		return k.sealSecretbox(header, payload, suffix[:])
	default:
		return nil, errors.Errorf("voicecrypto: unknown mode %q", k.Mode)
	}
}

// Open decrypts a received body (everything after the 12-byte RTP header),
// returning the plaintext payload.
func (k *SessionKeys) Open(header, body []byte) ([]byte, error) {
	switch k.Mode {
	case ModeXChaCha20Poly1305RTPSize:
		return k.openXChaCha(header, body)
	case ModeXSalsa20Poly1305Lite, ModeXSalsa20Poly1305Suffix:
		return k.openSecretbox(body, k.Mode.nonceSuffixLen())
	default:
		return nil, errors.Errorf("voicecrypto: unknown mode %q", k.Mode)
	}
}

// liteNonceSuffix returns the next 4-byte incrementing nonce and advances
// the counter. Never repeats for the lifetime of the SessionKeys.
func (k *SessionKeys) liteNonceSuffix() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], k.liteCounter)
	k.liteCounter++
	return b[:]
}

// sealSecretbox implements both legacy xsalsa20_poly1305 variants: the
// 24-byte nonce is built by right-padding the mode-specific suffix, and
// that same suffix is appended after the ciphertext on the wire.
func (k *SessionKeys) sealSecretbox(header, payload, suffix []byte) ([]byte, error) {
	var nonce [24]byte
	copy(nonce[:], suffix)

	sealed := secretbox.Seal(nil, payload, &nonce, &k.SecretKey)
	return append(sealed, suffix...), nil
}

func (k *SessionKeys) openSecretbox(body []byte, suffixLen int) ([]byte, error) {
	if len(body) < suffixLen {
		return nil, ErrOpenFailed
	}

	ciphertext := body[:len(body)-suffixLen]
	suffix := body[len(body)-suffixLen:]

	var nonce [24]byte
	copy(nonce[:], suffix)

	plain, ok := secretbox.Open(nil, ciphertext, &nonce, &k.SecretKey)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plain, nil
}

// sealXChaCha implements xchacha20_poly1305_rtpsize: the 24-byte nonce is
// a 32-bit incrementing counter, zero-padded, and that same 4-byte counter
// is appended after the ciphertext on the wire so the receiver can
// reconstruct the nonce without the RTP header repeating within a session
// (header needs only 2^16 packets, under 22 minutes at 20ms/frame, to wrap
// and reuse a nonce, which is unacceptable for an AEAD).
func (k *SessionKeys) sealXChaCha(header, payload []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(k.SecretKey[:])
	if err != nil {
		return nil, errors.Wrap(err, "voicecrypto: aead init failed")
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	binary.BigEndian.PutUint32(nonce[:4], k.rtpsizeCounter)
	k.rtpsizeCounter++

	sealed := aead.Seal(nil, nonce[:], payload, nil)
	return append(sealed, nonce[:4]...), nil
}

func (k *SessionKeys) openXChaCha(header, body []byte) ([]byte, error) {
	const counterLen = 4
	if len(body) < counterLen {
		return nil, ErrOpenFailed
	}

	aead, err := chacha20poly1305.NewX(k.SecretKey[:])
	if err != nil {
		return nil, errors.Wrap(err, "voicecrypto: aead init failed")
	}

	ciphertext := body[:len(body)-counterLen]
	counter := body[len(body)-counterLen:]

	var nonce [chacha20poly1305.NonceSizeX]byte
	copy(nonce[:counterLen], counter)

	plain, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plain, nil
}

// Overhead returns the number of extra bytes Seal appends beyond the
// plaintext payload length, for pre-sizing the outgoing UDP datagram.
func (m Mode) Overhead() int {
	const tagSize = 16
	return tagSize + m.nonceSuffixLen()
}
