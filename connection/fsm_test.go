package connection

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/serenity-rs/songbird/mixer"
	"github.com/serenity-rs/songbird/pool"
	"github.com/serenity-rs/songbird/scheduler"
	"github.com/serenity-rs/songbird/voicecrypto"
	"github.com/serenity-rs/songbird/voicegateway"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestMain(m *testing.M) {
	// The fake voice server below is plain HTTP/WS (no TLS cert to trust),
	// so point the gateway client at ws:// for the duration of this
	// package's tests instead of the production wss:// scheme.
	voicegateway.Scheme = "ws"
	os.Exit(m.Run())
}

func TestPickCryptoModePrefersCallerChoiceWhenOffered(t *testing.T) {
	mode, ok := pickCryptoMode(
		[]string{"xsalsa20_poly1305_lite", "xchacha20_poly1305_rtpsize"},
		voicecrypto.ModeXSalsa20Poly1305Lite,
	)
	require.True(t, ok)
	require.Equal(t, voicecrypto.ModeXSalsa20Poly1305Lite, mode)
}

func TestPickCryptoModeFallsBackToPreferenceOrder(t *testing.T) {
	mode, ok := pickCryptoMode([]string{"xsalsa20_poly1305_suffix", "xsalsa20_poly1305_lite"}, "")
	require.True(t, ok)
	require.Equal(t, voicecrypto.ModeXSalsa20Poly1305Lite, mode)
}

func TestPickCryptoModeRejectsNoOverlap(t *testing.T) {
	_, ok := pickCryptoMode([]string{"some_future_mode"}, "")
	require.False(t, ok)
}

// fakeVoiceServer runs a minimal voice-gateway websocket endpoint (Hello,
// Ready, SessionDescription) plus a UDP socket that answers IP discovery,
// enough to drive a Connection through to Ready without a real Discord
// backend.
type fakeVoiceServer struct {
	ws  *httptest.Server
	udp *net.UDPConn
}

func newFakeVoiceServer(t *testing.T) *fakeVoiceServer {
	t.Helper()

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	go serveFakeDiscovery(t, udpConn)
	udpPort := uint16(udpConn.LocalAddr().(*net.UDPAddr).Port)

	upgrader := websocket.Upgrader{}
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go serveFakeVoiceGateway(t, conn, udpPort)
	}))

	srv := &fakeVoiceServer{ws: ws, udp: udpConn}
	t.Cleanup(func() {
		ws.Close()
		udpConn.Close()
	})
	return srv
}

// endpoint returns the server's address in the "host:port" shape
// Gateway.Dial expects (it prepends voicegateway.Scheme + "://" itself).
func (s *fakeVoiceServer) endpoint() string {
	return s.ws.Listener.Addr().String()
}

type wireEnvelope struct {
	Code voicegateway.OPCode `json:"op"`
	Data json.RawMessage     `json:"d,omitempty"`
}

func sendFrame(conn *websocket.Conn, code voicegateway.OPCode, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteJSON(wireEnvelope{Code: code, Data: data})
}

// serveFakeVoiceGateway plays the server side of the handshake: send Hello,
// wait for Identify, send Ready, wait for SelectProtocol, send
// SessionDescription, then just drain further frames until the socket
// closes.
func serveFakeVoiceGateway(t *testing.T, conn *websocket.Conn, udpPort uint16) {
	defer conn.Close()

	if err := sendFrame(conn, voicegateway.HelloOP, voicegateway.HelloEvent{HeartbeatIntervalMillis: 5000}); err != nil {
		return
	}

	if _, _, err := conn.ReadMessage(); err != nil { // Identify
		return
	}

	if err := sendFrame(conn, voicegateway.ReadyOP, voicegateway.ReadyEvent{
		IP:    "127.0.0.1",
		Port:  int(udpPort),
		SSRC:  42,
		Modes: []string{"xchacha20_poly1305_rtpsize"},
	}); err != nil {
		return
	}

	if _, _, err := conn.ReadMessage(); err != nil { // SelectProtocol
		return
	}

	var secret [32]byte
	if err := sendFrame(conn, voicegateway.SessionDescriptionOP, voicegateway.SessionDescriptionEvent{
		Mode:      "xchacha20_poly1305_rtpsize",
		SecretKey: secret,
	}); err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// serveFakeDiscovery answers exactly one IP-discovery request the way
// Discord's voice UDP endpoint does: echo the request type/length/SSRC
// fields back with the observed address filled in.
func serveFakeDiscovery(t *testing.T, conn *net.UDPConn) {
	buf := make([]byte, 128)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return
	}
	if n < 74 {
		return
	}

	resp := make([]byte, 74)
	copy(resp[:8], buf[:8])
	copy(resp[8:], []byte("127.0.0.1"))
	binary.BigEndian.PutUint16(resp[72:74], 4242)

	_, _ = conn.WriteToUDP(resp, addr)
}

func TestConnectReachesReadyAndRegistersWithScheduler(t *testing.T) {
	srv := newFakeVoiceServer(t)

	sched := scheduler.New(scheduler.DefaultConfig(), testLog())
	defer sched.Shutdown()

	pl := pool.New(4, testLog())

	params := Params{
		Info: Info{
			GuildID:   1,
			ChannelID: 2,
			UserID:    3,
			Endpoint:  srv.endpoint(),
			SessionID: "session",
			Token:     "token",
		},
		PreferredCryptoMode: voicecrypto.ModeXChaCha20Poly1305RTPSize,
		MixerParams: mixer.Params{
			Bitrate: 64_000,
		},
		HandshakeTimeout: 5 * time.Second,
	}

	conn := New(params, sched, pl, testLog())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := conn.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, StateReady, conn.State())
	require.NotNil(t, conn.Mixer())
	require.Eventually(t, func() bool { return sched.TotalTasks() == 1 }, time.Second, 5*time.Millisecond)
}
