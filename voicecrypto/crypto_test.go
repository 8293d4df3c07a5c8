package voicecrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() [keySize]byte {
	var k [keySize]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestXChaChaRoundTrip(t *testing.T) {
	k := NewSessionKeys(ModeXChaCha20Poly1305RTPSize, testKey())

	header := []byte{0x80, 0x78, 0x00, 0x01, 0, 0, 0x03, 0xC0, 0, 0, 0, 0x2A}
	payload := []byte("opus frame contents")

	sealed, err := k.Seal(header, payload)
	require.NoError(t, err)

	plain, err := k.Open(header, sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestXChaChaNonceNeverRepeats(t *testing.T) {
	k := NewSessionKeys(ModeXChaCha20Poly1305RTPSize, testKey())
	header := make([]byte, 12)
	payload := []byte("frame")

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sealed, err := k.Seal(header, payload)
		require.NoError(t, err)

		counter := string(sealed[len(sealed)-4:])
		assert.False(t, seen[counter], "nonce counter repeated across successive seals")
		seen[counter] = true
	}
}

func TestXChaChaRejectsTamperedCiphertext(t *testing.T) {
	k := NewSessionKeys(ModeXChaCha20Poly1305RTPSize, testKey())
	header := make([]byte, 12)

	sealed, err := k.Seal(header, []byte("frame"))
	require.NoError(t, err)

	sealed[0] ^= 0xFF
	_, err = k.Open(header, sealed)
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestLiteRoundTripAndOverhead(t *testing.T) {
	k := NewSessionKeys(ModeXSalsa20Poly1305Lite, testKey())
	header := make([]byte, 12)
	payload := []byte("frame data")

	sealed, err := k.Seal(header, payload)
	require.NoError(t, err)
	assert.Len(t, sealed, len(payload)+ModeXSalsa20Poly1305Lite.Overhead())

	plain, err := k.Open(header, sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestSuffixRoundTrip(t *testing.T) {
	k := NewSessionKeys(ModeXSalsa20Poly1305Suffix, testKey())
	header := make([]byte, 12)
	payload := []byte("frame data")

	sealed, err := k.Seal(header, payload)
	require.NoError(t, err)

	plain, err := k.Open(header, sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestOpenTruncatedBodyFails(t *testing.T) {
	k := NewSessionKeys(ModeXSalsa20Poly1305Lite, testKey())
	_, err := k.Open(make([]byte, 12), []byte{0x01, 0x02})
	assert.Error(t, err)
}
