package songbird

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/serenity-rs/songbird/connection"
	"github.com/serenity-rs/songbird/events"
	"github.com/serenity-rs/songbird/voicegateway"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestMain(m *testing.M) {
	// The fake voice server below speaks plain HTTP/WS, so point the gateway
	// client at ws:// for this package's tests rather than production wss://.
	voicegateway.Scheme = "ws"
	os.Exit(m.Run())
}

type fakeVoiceServer struct {
	ws  *httptest.Server
	udp *net.UDPConn
}

func newFakeVoiceServer(t *testing.T) *fakeVoiceServer {
	t.Helper()

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	go serveFakeDiscovery(udpConn)
	udpPort := uint16(udpConn.LocalAddr().(*net.UDPAddr).Port)

	upgrader := websocket.Upgrader{}
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go serveFakeVoiceGateway(conn, udpPort)
	}))

	srv := &fakeVoiceServer{ws: ws, udp: udpConn}
	t.Cleanup(func() {
		ws.Close()
		udpConn.Close()
	})
	return srv
}

func (s *fakeVoiceServer) endpoint() string { return s.ws.Listener.Addr().String() }

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

func serveFakeVoiceGateway(conn *websocket.Conn, udpPort uint16) {
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

func serveFakeDiscovery(conn *net.UDPConn) {
	buf := make([]byte, 128)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil || n < 74 {
		return
	}

	resp := make([]byte, 74)
	copy(resp[:8], buf[:8])
	copy(resp[8:], []byte("127.0.0.1"))
	binary.BigEndian.PutUint16(resp[72:74], 4242)

	_, _ = conn.WriteToUDP(resp, addr)
}

// TestJoinEndToEndReachesReadyAndFiresDriverConnect exercises spec.md §8's
// scenario 1: Join, feed both halves of ConnectionInfo, and confirm the
// handshake reaches Ready with a Mixer, that a DriverConnect handler on the
// Mixer's global Dispatcher runs when the test fires that event, and that
// Call returns the same Connection.
func TestJoinEndToEndReachesReadyAndFiresDriverConnect(t *testing.T) {
	srv := newFakeVoiceServer(t)

	d := NewDriver(Config{HandshakeTimeout: 5 * time.Second}, testLog())
	defer d.Shutdown()

	const guildID GuildID = 100

	results := d.Join(guildID, 200, 300)

	var connectFired atomic.Bool

	// VoiceServerUpdate arrives first in this scenario; the accumulator must
	// wait for VoiceStateUpdate before dialing.
	d.VoiceServerUpdate(guildID, srv.endpoint(), "token")
	require.Never(t, func() bool {
		_, ok := d.Call(guildID)
		return ok
	}, 50*time.Millisecond, 5*time.Millisecond)

	d.VoiceStateUpdate(guildID, 200, "session")

	var res JoinResult
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for JoinResult")
	}
	require.NoError(t, res.Err)
	require.NotNil(t, res.Conn)
	require.Equal(t, connection.StateReady, res.Conn.State())

	mx := res.Conn.Mixer()
	require.NotNil(t, mx)

	require.NoError(t, mx.Dispatcher().Global().Add(events.OnCore(events.DriverConnect), func(events.Context) events.HandlerAction {
		connectFired.Store(true)
		return events.ContinueAction()
	}, 0))

	mx.Dispatcher().Global().FireCore(events.DriverConnect, events.Context{})
	require.True(t, connectFired.Load())

	conn, ok := d.Call(guildID)
	require.True(t, ok)
	require.Same(t, res.Conn, conn)
}

func TestVoiceUpdatesWithNoPendingJoinAreIgnored(t *testing.T) {
	d := NewDriver(Config{}, testLog())
	defer d.Shutdown()

	// No Join was called for this guild; feeding updates must not panic or
	// register any pending accumulator.
	d.VoiceServerUpdate(42, "endpoint", "token")
	d.VoiceStateUpdate(42, 7, "session")

	_, ok := d.Call(42)
	require.False(t, ok)
}

func TestLeaveOnUnknownGuildReturnsErrNotConnected(t *testing.T) {
	d := NewDriver(Config{}, testLog())
	defer d.Shutdown()

	err := d.Leave(999)
	require.ErrorIs(t, err, ErrNotConnected)
}
