// Package songbird is the public command surface of the voice driver: a
// Driver owns one Scheduler, Pool, and Disposer, and hosts one Connection
// per guild it has joined. Gateway signalling lives entirely outside this
// package; callers feed VoiceServerUpdate/VoiceStateUpdate from their own
// bot framework's gateway event stream (spec.md §1's stated boundary).
package songbird

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/serenity-rs/songbird/connection"
	"github.com/serenity-rs/songbird/disposer"
	"github.com/serenity-rs/songbird/input"
	"github.com/serenity-rs/songbird/mixer"
	"github.com/serenity-rs/songbird/pool"
	"github.com/serenity-rs/songbird/scheduler"
	"github.com/serenity-rs/songbird/track"
	"github.com/serenity-rs/songbird/voicecrypto"
)

// JoinResult is delivered on the channel Join returns, once both halves of
// a guild's ConnectionInfo have arrived and the handshake has either
// reached Ready or failed outright.
type JoinResult struct {
	Conn *connection.Connection
	Err  error
}

// Driver is one process-local instance of the voice subsystem: it owns its
// own Scheduler, Pool, and Disposer (spec.md §9 forbids global state, so a
// process hosting several bots/guild-sets constructs one Driver each, or
// shares a single Driver's Scheduler deliberately by sharing the Driver).
type Driver struct {
	id  uuid.UUID
	cfg Config
	log *logrus.Entry

	sched *scheduler.Scheduler
	pool  *pool.Pool
	disp  *disposer.Disposer

	mu       sync.Mutex
	progress map[GuildID]*connectionProgress
	pending  map[GuildID]chan JoinResult
	conns    map[GuildID]*connection.Connection

	onDisconnect func(GuildID, DisconnectReason, error)
}

// OnDisconnect registers a callback fired whenever a guild's Connection
// tears down, for any reason (spec.md §7's DriverDisconnect categories).
// Only one handler is kept; a later call replaces an earlier one.
func (d *Driver) OnDisconnect(f func(GuildID, DisconnectReason, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDisconnect = f
}

func toDisconnectReason(r connection.DisconnectReason) DisconnectReason {
	switch r {
	case connection.DisconnectLeave:
		return DisconnectReasonLeave
	case connection.DisconnectNonResumableClose:
		return DisconnectReasonNonResumableClose
	case connection.DisconnectHandshakeTimeout:
		return DisconnectReasonHandshakeTimeout
	case connection.DisconnectIPDiscoveryFailed:
		return DisconnectReasonIPDiscoveryFailed
	case connection.DisconnectSessionDescriptionFailed:
		return DisconnectReasonSessionDescriptionFailed
	default:
		return DisconnectReasonUnknown
	}
}

// NewDriver constructs a Driver, starting its Scheduler/Pool/Disposer
// immediately. Zero-value Config fields are replaced by DefaultConfig's.
func NewDriver(cfg Config, log *logrus.Entry) *Driver {
	cfg = fillDefaults(cfg)

	id := uuid.New()
	if log == nil {
		log = NewLogger(id)
	} else {
		log = log.WithField("driver", id.String())
	}

	return &Driver{
		id:       id,
		cfg:      cfg,
		log:      log,
		sched:    scheduler.New(toSchedulerConfig(cfg), log),
		pool:     pool.New(8, log),
		disp:     disposer.New(64, log),
		progress: map[GuildID]*connectionProgress{},
		pending:  map[GuildID]chan JoinResult{},
		conns:    map[GuildID]*connection.Connection{},
	}
}

// ID returns this Driver's identity (spec.md §3's DriverID).
func (d *Driver) ID() uuid.UUID { return d.id }

// Join begins connecting to a guild's voice channel. It seeds the
// two-event accumulation (spec.md's Voice Server Update + Voice State
// Update) and returns a channel that receives exactly one JoinResult once
// both events have arrived via VoiceServerUpdate/VoiceStateUpdate and the
// handshake has concluded.
func (d *Driver) Join(guildID GuildID, channelID ChannelID, userID UserID) <-chan JoinResult {
	result := make(chan JoinResult, 1)

	d.mu.Lock()
	p := newConnectionProgress(guildID, userID, channelID)
	d.progress[guildID] = &p
	d.pending[guildID] = result
	d.mu.Unlock()

	return result
}

// VoiceServerUpdate feeds the endpoint/token half of a guild's
// ConnectionInfo, learned from a Voice Server Update gateway event.
func (d *Driver) VoiceServerUpdate(guildID GuildID, endpoint, token string) {
	d.feedProgress(guildID, func(p *connectionProgress) { p.setServer(endpoint, token) })
}

// VoiceStateUpdate feeds the session/channel half of a guild's
// ConnectionInfo, learned from a Voice State Update gateway event for our
// own user.
func (d *Driver) VoiceStateUpdate(guildID GuildID, channelID ChannelID, sessionID string) {
	d.feedProgress(guildID, func(p *connectionProgress) { p.setState(sessionID, channelID) })
}

func (d *Driver) feedProgress(guildID GuildID, mutate func(*connectionProgress)) {
	d.mu.Lock()
	p, ok := d.progress[guildID]
	if !ok {
		d.mu.Unlock()
		return
	}
	mutate(p)

	if !p.complete() {
		d.mu.Unlock()
		return
	}

	info := p.info()
	result := d.pending[guildID]
	delete(d.progress, guildID)
	delete(d.pending, guildID)
	d.mu.Unlock()

	go d.connect(guildID, info, result)
}

func (d *Driver) connect(guildID GuildID, info ConnectionInfo, result chan JoinResult) {
	params := connection.Params{
		Info: connection.Info{
			GuildID:   uint64(info.GuildID),
			ChannelID: uint64(info.ChannelID),
			UserID:    uint64(info.UserID),
			Endpoint:  info.Endpoint,
			SessionID: info.SessionID,
			Token:     info.Token,
		},
		PreferredCryptoMode:  voicecrypto.Mode(d.cfg.CryptoMode),
		MixerParams:          d.mixerParams(),
		HandshakeTimeout:     d.cfg.HandshakeTimeout,
		ReconnectBackoffBase: d.cfg.ReconnectBackoffBase,
		ReconnectBackoffCap:  d.cfg.ReconnectBackoffCap,
	}

	conn := connection.New(params, d.sched, d.pool, d.log.WithField("guild", guildID.String()))
	conn.OnDisconnect(func(reason connection.DisconnectReason, err error) {
		d.mu.Lock()
		delete(d.conns, guildID)
		handler := d.onDisconnect
		d.mu.Unlock()

		if handler != nil {
			handler(guildID, toDisconnectReason(reason), err)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.HandshakeTimeout)
	defer cancel()

	if err := conn.Connect(ctx); err != nil {
		if result != nil {
			result <- JoinResult{Err: err}
		}
		return
	}

	d.mu.Lock()
	d.conns[guildID] = conn
	d.mu.Unlock()

	if result != nil {
		result <- JoinResult{Conn: conn}
	}
}

// Call returns the live Connection for a guild the Driver has joined, if
// any.
func (d *Driver) Call(guildID GuildID) (*connection.Connection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[guildID]
	return c, ok
}

// Leave tears down a guild's Connection, deregistering its Mixer from the
// Scheduler.
func (d *Driver) Leave(guildID GuildID) error {
	d.mu.Lock()
	conn, ok := d.conns[guildID]
	delete(d.conns, guildID)
	d.mu.Unlock()

	if !ok {
		return ErrNotConnected
	}
	conn.Close()
	return nil
}

// Play adopts in as a new Track on guildID's Mixer, returning a Handle the
// caller uses to control it (spec.md §4.2's Action Protocol).
func (d *Driver) Play(guildID GuildID, in input.Input) (*track.Handle, error) {
	conn, ok := d.Call(guildID)
	if !ok {
		return nil, ErrNotConnected
	}
	mx := conn.Mixer()
	if mx == nil {
		return nil, ErrNotConnected
	}

	t := track.New(in, d.log)
	mx.AddTrack(t)
	return t.Handle(), nil
}

// Shutdown cooperatively tears down every live Connection, then the
// Scheduler and Disposer (spec.md §5's cooperative-shutdown design note).
func (d *Driver) Shutdown() {
	d.mu.Lock()
	conns := make([]*connection.Connection, 0, len(d.conns))
	for _, c := range d.conns {
		conns = append(conns, c)
	}
	d.conns = map[GuildID]*connection.Connection{}
	d.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	d.sched.Shutdown()
	d.disp.Shutdown()
}

func (d *Driver) mixerParams() mixer.Params {
	return mixer.Params{
		Bitrate:                    d.cfg.Bitrate,
		Softclip:                   d.cfg.Softclip,
		MixAndReencodeWhenOneTrack: d.cfg.MixAndReencodeWhenOneTrack,
		DecodeMode:                 toMixerDecodeMode(d.cfg.DecodeMode),
		PlayoutBufferLength:        d.cfg.PlayoutBufferLength,
		PlayoutSpikeLength:         d.cfg.PlayoutSpikeLength,
		SilenceTimeoutTicks:        d.cfg.SilenceTimeoutTicks,
		StarvingTicks:              d.cfg.StarvingTicks,
	}
}

func toMixerDecodeMode(m DecodeMode) mixer.DecodeMode {
	switch m {
	case DecodeDecrypt:
		return mixer.DecodeDecrypt
	case DecodeDecode:
		return mixer.DecodeDecode
	default:
		return mixer.DecodePass
	}
}

func toSchedulerConfig(cfg Config) scheduler.Config {
	return scheduler.Config{
		MaxPerThread:       cfg.LiveTracksPerThread,
		MoveExpensiveTasks: true,
		SoftBudget:         cfg.WorkerBudget,
		TickInterval:       20 * time.Millisecond,
	}
}
