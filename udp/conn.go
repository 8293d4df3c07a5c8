// Package udp is the thin UDP transport beneath a voice connection: dialing,
// IP discovery, and rate-aware sends/receives. It carries opaque byte
// datagrams; RTP framing and encryption are the Mixer's concern.
package udp

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

var zeroTime time.Time

// Dialer is the dialer used for all voice UDP sockets; overridable in tests.
var Dialer = net.Dialer{Timeout: 10 * time.Second}

// MaxDatagramSize is a safe upper bound below common MTUs, matching the
// reference driver's VOICE_PACKET_MAX.
const MaxDatagramSize = 1460

// ErrClosed is returned by operations on a Connection after Close.
var ErrClosed = errors.New("udp: connection closed")

// Connection is a dialed voice UDP socket. It is not safe for concurrent
// Write from multiple goroutines (the Mixer is the sole writer); Read may run
// concurrently with Write from a dedicated receive goroutine.
type Connection struct {
	conn net.Conn

	// sendLimiter caps outgoing packets at one per 10ms with a burst of 4,
	// twice the one-per-20ms-tick rate a Mixer sends at, even if a caller's
	// Mixer somehow gets ahead of schedule; belt-and-braces against a
	// runaway retry loop flooding the socket.
	sendLimiter *rate.Limiter
}

// Dial opens a UDP socket to addr ("host:port").
func Dial(ctx context.Context, addr string) (*Connection, error) {
	conn, err := Dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "udp: dial failed")
	}

	return &Connection{
		conn:        conn,
		sendLimiter: rate.NewLimiter(rate.Every(10*time.Millisecond), 4),
	}, nil
}

// LocalAddr returns the local UDP endpoint, used to seed IP discovery.
func (c *Connection) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RawConn exposes the underlying net.Conn for IP discovery, which needs to
// read a response synchronously before the receive loop starts.
func (c *Connection) RawConn() net.Conn { return c.conn }

// Write sends a single datagram, non-blocking beyond the rate limiter's
// burst allowance. A send failure is never fatal for one tick (spec.md §4.3).
func (c *Connection) Write(b []byte) error {
	if err := c.sendLimiter.Wait(context.Background()); err != nil {
		return errors.Wrap(err, "udp: send limiter")
	}
	_, err := c.conn.Write(b)
	if err != nil {
		return errors.Wrap(err, "udp: write failed")
	}
	return nil
}

// Read reads one datagram into dst, returning the slice actually filled.
func (c *Connection) Read(dst []byte) (int, error) {
	n, err := c.conn.Read(dst)
	if err != nil {
		return 0, errors.Wrap(err, "udp: read failed")
	}
	return n, nil
}

// SetReadDeadline lets a receive loop poll with a bounded idle timeout so it
// can observe cancellation.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the socket.
func (c *Connection) Close() error {
	return c.conn.Close()
}
