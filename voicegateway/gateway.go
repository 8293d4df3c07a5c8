package voicegateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Version is the voice gateway protocol version this client speaks.
const Version = "4"

// Dialer is used for every voice gateway connection; overridable in tests
// that need a longer handshake timeout or a custom TLS config, mirroring
// the udp package's overridable Dialer.
var Dialer = websocket.Dialer{HandshakeTimeout: 10 * time.Second}

// Scheme is normally "wss"; tests targeting a local plain-HTTP fake server
// override it to "ws".
var Scheme = "wss"

// NonResumableCloseCodes are the voice WS close codes that mean "don't
// bother resuming, start over" (spec.md §6).
var NonResumableCloseCodes = map[int]bool{
	4014: true,
	4015: true,
	4006: true,
	4009: true,
}

// Gateway is a single voice websocket connection: dial, Identify/Resume,
// heartbeat pacemaker, and a decoded event stream. It holds no mixing state.
type Gateway struct {
	log *logrus.Entry

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	events chan Event

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}
	lastSeq       int64
}

// New creates an unconnected Gateway.
func New(log *logrus.Entry) *Gateway {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gateway{log: log.WithField("component", "voicegateway")}
}

// Dial opens the websocket to the given endpoint (host[:port], no scheme)
// and starts the read loop. It does not send Identify; callers drive the
// handshake explicitly so the Connection FSM can choose Identify vs Resume.
func (g *Gateway) Dial(ctx context.Context, endpoint string) error {
	addr := Scheme + "://" + strings.TrimSuffix(endpoint, ":80") + "/?v=" + Version

	conn, _, err := Dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return errors.Wrap(err, "voicegateway: dial failed")
	}

	g.mu.Lock()
	g.conn = conn
	g.closed = false
	g.events = make(chan Event, 16)
	g.mu.Unlock()

	go g.readLoop()

	g.log.WithField("endpoint", endpoint).Debug("dialed voice gateway")
	return nil
}

// Events returns the decoded event stream. Closed once the connection dies.
func (g *Gateway) Events() <-chan Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.events
}

func (g *Gateway) readLoop() {
	g.mu.Lock()
	conn := g.conn
	events := g.events
	g.mu.Unlock()

	defer close(events)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseNoStatusReceived
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			events <- Event{Err: errors.Wrap(err, "voicegateway: read failed"), CloseCode: code}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			events <- Event{Err: errors.Wrap(err, "voicegateway: bad frame")}
			continue
		}

		events <- Event{Code: env.Code, Data: env.Data}
	}
}

// Send marshals v (or sends a bare opcode if v is nil) as an envelope.
func (g *Gateway) Send(code OPCode, v interface{}) error {
	var data json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "voicegateway: encode failed")
		}
		data = b
	}

	b, err := json.Marshal(envelope{Code: code, Data: data})
	if err != nil {
		return errors.Wrap(err, "voicegateway: encode envelope failed")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || g.conn == nil {
		return errors.New("voicegateway: send on closed connection")
	}

	if err := g.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Wrap(err, "voicegateway: write failed")
	}
	return nil
}

// Identify sends opcode 0.
func (g *Gateway) Identify(guildID, userID, sessionID, token string) error {
	return g.Send(IdentifyOP, IdentifyData{
		ServerID:  guildID,
		UserID:    userID,
		SessionID: sessionID,
		Token:     token,
	})
}

// Resume sends opcode 7.
func (g *Gateway) Resume(guildID, sessionID, token string) error {
	return g.Send(ResumeOP, ResumeData{
		ServerID:  guildID,
		SessionID: sessionID,
		Token:     token,
	})
}

// SelectProtocol sends opcode 1.
func (g *Gateway) SelectProtocol(address string, port uint16, mode string) error {
	return g.Send(SelectProtocolOP, SelectProtocolData{
		Protocol: "udp",
		Data: SelectProtocolPayload{
			Address: address,
			Port:    port,
			Mode:    mode,
		},
	})
}

// Speaking sends opcode 5 announcing our own speaking bitmap.
func (g *Gateway) Speaking(ssrc uint32, flag SpeakingFlag) error {
	return g.Send(SpeakingOP, SpeakingData{Speaking: flag, Delay: 0, SSRC: ssrc})
}

// Heartbeat sends opcode 3.
func (g *Gateway) Heartbeat() error {
	return g.Send(HeartbeatOP, time.Now().UnixMilli())
}

// StartHeartbeat launches the pacemaker at the given interval, calling
// onFailure exactly once if a heartbeat send ever fails. Stop with Close or
// StopHeartbeat.
func (g *Gateway) StartHeartbeat(interval time.Duration, onFailure func(error)) {
	g.mu.Lock()
	g.heartbeatStop = make(chan struct{})
	g.heartbeatDone = make(chan struct{})
	stop := g.heartbeatStop
	done := g.heartbeatDone
	g.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := g.Heartbeat(); err != nil {
					onFailure(err)
					return
				}
			}
		}
	}()
}

// StopHeartbeat stops the pacemaker started by StartHeartbeat, if any.
func (g *Gateway) StopHeartbeat() {
	g.mu.Lock()
	stop := g.heartbeatStop
	done := g.heartbeatDone
	g.heartbeatStop = nil
	g.mu.Unlock()

	if stop == nil {
		return
	}

	select {
	case <-stop:
	default:
		close(stop)
	}
	if done != nil {
		<-done
	}
}

// Close closes the underlying websocket and stops the heartbeat pacemaker.
func (g *Gateway) Close() error {
	g.StopHeartbeat()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed || g.conn == nil {
		return nil
	}
	g.closed = true
	return g.conn.Close()
}
