// Package disposer implements spec.md §4.8: a single background goroutine
// absorbing resource releases that might block (process handles, decoder
// buffers, file descriptors) so the Mixer's tick never waits on Close.
package disposer

import (
	"github.com/sirupsen/logrus"
)

// Item is anything the Disposer knows how to release.
type Item interface {
	Close() error
}

// funcItem adapts a bare cleanup function to Item.
type funcItem func() error

func (f funcItem) Close() error { return f() }

// FromFunc wraps a cleanup function as a disposable Item.
func FromFunc(f func() error) Item { return funcItem(f) }

// Disposer drains a buffered queue of Items on its own goroutine, calling
// Close on each in order of arrival. Ordering across Items is the only
// guarantee; nothing waits for Close to return except the Disposer itself.
type Disposer struct {
	queue chan Item
	done  chan struct{}
	log   *logrus.Entry
}

// New starts a Disposer with a queue buffered to backlog entries, and
// begins its drain loop immediately.
func New(backlog int, log *logrus.Entry) *Disposer {
	if backlog <= 0 {
		backlog = 64
	}
	d := &Disposer{
		queue: make(chan Item, backlog),
		done:  make(chan struct{}),
		log:   log,
	}
	go d.run()
	return d
}

// Dispose hands ownership of item to the Disposer. Never blocks the caller
// beyond the queue's backlog; if the queue is full the item is dropped with
// a logged warning rather than stalling the Mixer tick that called this.
func (d *Disposer) Dispose(item Item) {
	select {
	case d.queue <- item:
	default:
		d.log.Warn("disposer: queue full, dropping item")
	}
}

func (d *Disposer) run() {
	for {
		select {
		case item, ok := <-d.queue:
			if !ok {
				return
			}
			if err := item.Close(); err != nil {
				d.log.WithError(err).Debug("disposer: close failed")
			}
		case <-d.done:
			d.drainRemaining()
			return
		}
	}
}

func (d *Disposer) drainRemaining() {
	for {
		select {
		case item := <-d.queue:
			if err := item.Close(); err != nil {
				d.log.WithError(err).Debug("disposer: close failed during shutdown drain")
			}
		default:
			return
		}
	}
}

// Shutdown stops accepting new work conceptually (callers should stop
// calling Dispose) and drains whatever is already queued before returning
// control of the goroutine.
func (d *Disposer) Shutdown() {
	close(d.done)
}
