// Package connection implements the per-call Connection FSM (spec.md
// §4.5): voice WebSocket handshake, UDP IP discovery, crypto negotiation,
// and the resume/backoff policy that keeps a Mixer alive across
// reconnects. It owns exactly one Mixer and registers/deregisters it with
// a Scheduler as the connection comes up and goes down.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/serenity-rs/songbird/events"
	"github.com/serenity-rs/songbird/mixer"
	"github.com/serenity-rs/songbird/pool"
	"github.com/serenity-rs/songbird/scheduler"
	"github.com/serenity-rs/songbird/udp"
	"github.com/serenity-rs/songbird/voicecrypto"
	"github.com/serenity-rs/songbird/voicegateway"
)

// State names the Connection FSM's nodes (spec.md §4.5):
// Disconnected → Handshaking → Discovering → SelectingProtocol → Ready ⇄
// Resuming → Disconnected.
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateDiscovering
	StateSelectingProtocol
	StateReady
	StateResuming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateDiscovering:
		return "discovering"
	case StateSelectingProtocol:
		return "selecting-protocol"
	case StateReady:
		return "ready"
	case StateResuming:
		return "resuming"
	default:
		return "unknown"
	}
}

// cryptoPreferenceOrder ranks the modes Discord may offer, most to least
// preferred, mirroring the wire table in spec.md §6. Kept local to this
// package (rather than imported from the root songbird package) since
// that package imports connection, not the other way around.
var cryptoPreferenceOrder = []voicecrypto.Mode{
	voicecrypto.ModeXChaCha20Poly1305RTPSize,
	voicecrypto.ModeXSalsa20Poly1305Lite,
	voicecrypto.ModeXSalsa20Poly1305Suffix,
}

func pickCryptoMode(offered []string, want voicecrypto.Mode) (voicecrypto.Mode, bool) {
	set := make(map[voicecrypto.Mode]bool, len(offered))
	for _, o := range offered {
		set[voicecrypto.Mode(o)] = true
	}
	if want != "" && set[want] {
		return want, true
	}
	for _, m := range cryptoPreferenceOrder {
		if set[m] {
			return m, true
		}
	}
	return "", false
}

// Info carries the immutable inputs a Connection needs to dial, copied by
// value so this package never depends on the root songbird package's
// ConnectionInfo type.
type Info struct {
	GuildID   uint64
	ChannelID uint64
	UserID    uint64
	Endpoint  string
	SessionID string
	Token     string
}

// Params bundles Info with the tunables a Connection needs that originate
// from the driver's Config.
type Params struct {
	Info Info

	PreferredCryptoMode voicecrypto.Mode
	MixerParams         mixer.Params

	HandshakeTimeout time.Duration

	ReconnectBackoffBase time.Duration
	ReconnectBackoffCap  time.Duration
}

// DisconnectReason classifies why OnDisconnect fired (spec.md §7).
type DisconnectReason int

const (
	DisconnectLeave DisconnectReason = iota
	DisconnectNonResumableClose
	DisconnectHandshakeTimeout
	DisconnectIPDiscoveryFailed
	DisconnectSessionDescriptionFailed
)

// Connection drives one call's FSM: it owns the voice WebSocket, the UDP
// socket, and the Mixer that socket feeds, and keeps all three alive
// across resumable disconnects until Close is called.
type Connection struct {
	params Params
	sched  *scheduler.Scheduler
	pool   *pool.Pool
	log    *logrus.Entry

	mixerID uuid.UUID

	mu    sync.Mutex
	state State
	gw    *voicegateway.Gateway
	conn  *udp.Connection
	mix   *mixer.Mixer
	keys  *voicecrypto.SessionKeys
	ssrc  uint32

	runCancel context.CancelFunc
	runDone   chan struct{}

	onDisconnect    func(DisconnectReason, error)
	disconnectFired bool
}

// New constructs an unstarted Connection. Connect must be called before it
// does anything.
func New(params Params, sched *scheduler.Scheduler, pl *pool.Pool, log *logrus.Entry) *Connection {
	if params.HandshakeTimeout == 0 {
		params.HandshakeTimeout = 10 * time.Second
	}
	if params.ReconnectBackoffBase == 0 {
		params.ReconnectBackoffBase = time.Second
	}
	if params.ReconnectBackoffCap == 0 {
		params.ReconnectBackoffCap = 30 * time.Second
	}

	return &Connection{
		params:  params,
		sched:   sched,
		pool:    pl,
		log:     log,
		mixerID: uuid.New(),
		state:   StateDisconnected,
	}
}

// OnDisconnect registers the callback fired exactly once, when the
// Connection gives up for good (non-resumable close, handshake timeout,
// discovery failure, or an explicit Close).
func (c *Connection) OnDisconnect(f func(DisconnectReason, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = f
}

// State reports the Connection's current FSM node.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Mixer returns the live Mixer once the Connection has reached Ready, or
// nil before that.
func (c *Connection) Mixer() *mixer.Mixer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mix
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.WithField("state", s.String()).Debug("connection: state transition")
}

// Connect runs the handshake through to Ready, then starts the background
// run loop that owns resume/backoff and the UDP receive goroutine. It
// returns once Ready is reached or the handshake definitively fails.
func (c *Connection) Connect(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, c.params.HandshakeTimeout)
	defer cancel()

	gw := voicegateway.New(c.log)
	if err := c.handshake(hctx, gw); err != nil {
		gw.Close()
		c.fail(c.handshakeFailureReason(), err)
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.gw = gw
	c.runCancel = runCancel
	c.runDone = make(chan struct{})
	c.mu.Unlock()

	go c.runLoop(runCtx)

	return nil
}

// handshakeFailureReason maps the FSM node a failed handshake was in onto
// spec.md §7's fatal-to-connection categories.
func (c *Connection) handshakeFailureReason() DisconnectReason {
	switch c.State() {
	case StateDiscovering:
		return DisconnectIPDiscoveryFailed
	case StateSelectingProtocol:
		return DisconnectSessionDescriptionFailed
	default:
		return DisconnectHandshakeTimeout
	}
}

// handshake drives Handshaking → Discovering → SelectingProtocol → Ready,
// installing c.conn, c.keys, c.mix, c.ssrc on success.
func (c *Connection) handshake(ctx context.Context, gw *voicegateway.Gateway) error {
	c.setState(StateHandshaking)

	if err := gw.Dial(ctx, c.params.Info.Endpoint); err != nil {
		return errors.Wrap(err, "connection: dial failed")
	}

	hello, err := waitFor(ctx, gw.Events(), voicegateway.HelloOP)
	if err != nil {
		return errors.Wrap(err, "connection: hello not received")
	}
	var helloData voicegateway.HelloEvent
	if err := hello.Unmarshal(&helloData); err != nil {
		return errors.Wrap(err, "connection: bad hello payload")
	}

	if err := gw.Identify(itoa(c.params.Info.GuildID), itoa(c.params.Info.UserID), c.params.Info.SessionID, c.params.Info.Token); err != nil {
		return errors.Wrap(err, "connection: identify send failed")
	}

	readyEv, err := waitFor(ctx, gw.Events(), voicegateway.ReadyOP)
	if err != nil {
		return errors.Wrap(err, "connection: ready not received")
	}
	var ready voicegateway.ReadyEvent
	if err := readyEv.Unmarshal(&ready); err != nil {
		return errors.Wrap(err, "connection: bad ready payload")
	}

	c.setState(StateDiscovering)

	udpConn, err := udp.Dial(ctx, ready.Addr())
	if err != nil {
		return errors.Wrap(err, "connection: udp dial failed")
	}

	extIP, extPort, err := udp.Discover(ctx, udpConn.RawConn(), ready.SSRC)
	if err != nil {
		udpConn.Close()
		return errors.Wrap(err, "connection: ip discovery failed")
	}

	c.setState(StateSelectingProtocol)

	mode, ok := pickCryptoMode(ready.Modes, c.params.PreferredCryptoMode)
	if !ok {
		udpConn.Close()
		return errors.New("connection: no shared crypto mode")
	}

	if err := gw.SelectProtocol(extIP, extPort, string(mode)); err != nil {
		udpConn.Close()
		return errors.Wrap(err, "connection: select protocol send failed")
	}

	sdEv, err := waitFor(ctx, gw.Events(), voicegateway.SessionDescriptionOP)
	if err != nil {
		udpConn.Close()
		return errors.Wrap(err, "connection: session description not received")
	}
	var sd voicegateway.SessionDescriptionEvent
	if err := sdEv.Unmarshal(&sd); err != nil {
		udpConn.Close()
		return errors.Wrap(err, "connection: bad session description payload")
	}

	keys := voicecrypto.NewSessionKeys(mode, sd.SecretKey)

	mp := c.params.MixerParams
	mp.SSRC = ready.SSRC
	mx, err := mixer.New(mp, keys, udpConn, c.pool, nil, c.log)
	if err != nil {
		udpConn.Close()
		return errors.Wrap(err, "connection: mixer construction failed")
	}

	gw.StartHeartbeat(time.Duration(helloData.HeartbeatIntervalMillis)*time.Millisecond, func(err error) {
		c.log.WithError(err).Warn("connection: heartbeat failed")
	})

	c.mu.Lock()
	c.conn = udpConn
	c.keys = keys
	c.mix = mx
	c.ssrc = ready.SSRC
	c.mu.Unlock()

	c.sched.NewMixer(c.mixerID, scheduler.MixerAdapter{Mixer: mx})
	mx.Dispatcher().Global().FireCore(events.DriverConnect, events.Context{Core: &events.CoreContext{SSRC: ready.SSRC}})

	c.setState(StateReady)
	return nil
}

// runLoop owns the UDP receive goroutine and the gateway event stream for
// as long as the Connection stays alive, handling Resume/backoff on a
// resumable close and surfacing a terminal disconnect otherwise.
func (c *Connection) runLoop(ctx context.Context) {
	defer close(c.runDone)

	stopRx := make(chan struct{})
	go c.receiveLoop(stopRx)
	defer close(stopRx)

	backoff := c.params.ReconnectBackoffBase

	for {
		gw, evCh := c.snapshotGateway()
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evCh:
			if !ok || ev.Err != nil {
				if ctx.Err() != nil {
					return
				}
				if !voicegateway.NonResumableCloseCodes[ev.CloseCode] {
					if c.resume(ctx, gw, &backoff) {
						continue
					}
					if ctx.Err() != nil {
						return
					}
				}
				c.fail(DisconnectNonResumableClose, ev.Err)
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Connection) snapshotGateway() (*voicegateway.Gateway, <-chan voicegateway.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gw, c.gw.Events()
}

// resume implements spec.md §4.5's Resuming node: exponential backoff,
// then re-dial and send Resume, preserving the existing Mixer/UDP
// socket/session keys. Returns false if it gives up (context cancelled).
func (c *Connection) resume(ctx context.Context, gw *voicegateway.Gateway, backoff *time.Duration) bool {
	c.setState(StateResuming)
	gw.Close()

	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > c.params.ReconnectBackoffCap {
		*backoff = c.params.ReconnectBackoffCap
	}

	newGw := voicegateway.New(c.log)
	dctx, cancel := context.WithTimeout(ctx, c.params.HandshakeTimeout)
	defer cancel()

	if err := newGw.Dial(dctx, c.params.Info.Endpoint); err != nil {
		c.log.WithError(err).Warn("connection: resume dial failed, retrying")
		return true
	}
	if err := newGw.Resume(itoa(c.params.Info.GuildID), c.params.Info.SessionID, c.params.Info.Token); err != nil {
		newGw.Close()
		c.log.WithError(err).Warn("connection: resume send failed, retrying")
		return true
	}

	if _, err := waitFor(dctx, newGw.Events(), voicegateway.ResumedOP); err != nil {
		newGw.Close()
		c.log.WithError(err).Warn("connection: resumed ack not received, retrying")
		return true
	}

	c.mu.Lock()
	c.gw = newGw
	c.mu.Unlock()

	*backoff = c.params.ReconnectBackoffBase
	c.setState(StateReady)

	if mx := c.Mixer(); mx != nil {
		mx.Dispatcher().Global().FireCore(events.DriverReconnect, events.Context{Core: &events.CoreContext{}})
	}
	return true
}

// handleEvent reacts to voice-gateway events that don't drive the FSM
// itself: Speaking bindings, peer join/leave, heartbeat acks.
func (c *Connection) handleEvent(ev voicegateway.Event) {
	mx := c.Mixer()
	if mx == nil {
		return
	}

	switch ev.Code {
	case voicegateway.SpeakingOP:
		var sp voicegateway.SpeakingEvent
		if err := ev.Unmarshal(&sp); err != nil {
			return
		}
		if uid, err := parseUint64(sp.UserID); err == nil {
			mx.BindSSRCUser(sp.SSRC, uid)
		}
		mx.Dispatcher().Global().FireCore(events.SpeakingStateUpdate, events.Context{
			Core: &events.CoreContext{SSRC: sp.SSRC, Speaking: sp.Speaking != 0},
		})
	case voicegateway.ClientConnectOP:
		var cc voicegateway.ClientConnectEvent
		if err := ev.Unmarshal(&cc); err != nil {
			return
		}
		if uid, err := parseUint64(cc.UserID); err == nil {
			mx.BindSSRCUser(cc.AudioSSRC, uid)
		}
	case voicegateway.ClientDisconnectOP:
		var cd voicegateway.ClientDisconnectEvent
		if err := ev.Unmarshal(&cd); err != nil {
			return
		}
		uid, _ := parseUint64(cd.UserID)
		mx.Dispatcher().Global().FireCore(events.ClientDisconnect, events.Context{
			Core: &events.CoreContext{UserID: uid},
		})
	}
}

// receiveLoop pumps inbound UDP datagrams into the Mixer's receive path
// until stop closes (spec.md §4.6). Runs on its own goroutine, separate
// from the Mixer's own Tick, per spec.md §5.
func (c *Connection) receiveLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		c.mu.Lock()
		conn, mx := c.conn, c.mix
		c.mu.Unlock()
		if conn == nil || mx == nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		buf := make([]byte, udp.MaxDatagramSize)
		n, err := conn.Read(buf)
		if err != nil {
			continue // deadline or transient: receiveLoop is best-effort
		}
		if err := mx.HandleInboundPacket(buf[:n]); err != nil {
			c.log.WithError(err).Debug("connection: inbound packet rejected")
		}
	}
}

// fail tears everything down and surfaces a terminal disconnect exactly
// once (spec.md §7's "fatal to connection" category).
func (c *Connection) fail(reason DisconnectReason, err error) {
	c.setState(StateDisconnected)
	c.teardown()

	c.mu.Lock()
	cb := c.onDisconnect
	already := c.disconnectFired
	c.disconnectFired = true
	c.mu.Unlock()
	if cb != nil && !already {
		cb(reason, err)
	}
}

// Close tears the Connection down cooperatively (spec.md §4.5's
// Disconnected exit, "driver shutdown is cooperative"): stop the run loop,
// close the sockets, deregister from the Scheduler. If the Connection
// already terminated on its own (fail already fired the disconnect
// callback), Close still tears down but does not fire it a second time —
// OnDisconnect's contract promises exactly one call.
func (c *Connection) Close() {
	c.mu.Lock()
	cancel := c.runCancel
	done := c.runDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.setState(StateDisconnected)
	c.teardown()

	c.mu.Lock()
	cb := c.onDisconnect
	already := c.disconnectFired
	c.disconnectFired = true
	c.mu.Unlock()
	if cb != nil && !already {
		cb(DisconnectLeave, nil)
	}
}

func (c *Connection) teardown() {
	c.mu.Lock()
	gw, conn := c.gw, c.conn
	c.gw, c.conn, c.mix, c.keys = nil, nil, nil, nil
	c.mu.Unlock()

	c.sched.Remove(c.mixerID)

	if gw != nil {
		gw.Close()
	}
	if conn != nil {
		conn.Close()
	}
}

// waitFor blocks for the next event of the given opcode, surfacing any
// error frame or channel closure as a failure and ignoring other opcodes
// that may arrive first (e.g. an out-of-order HeartbeatAck).
func waitFor(ctx context.Context, evCh <-chan voicegateway.Event, want voicegateway.OPCode) (voicegateway.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return voicegateway.Event{}, ctx.Err()
		case ev, ok := <-evCh:
			if !ok {
				return voicegateway.Event{}, errors.New("connection: event stream closed")
			}
			if ev.Err != nil {
				return voicegateway.Event{}, ev.Err
			}
			if ev.Code == want {
				return ev, nil
			}
		}
	}
}
