package disposer

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestDisposeClosesItem(t *testing.T) {
	d := New(4, testLog())

	closed := make(chan struct{})
	d.Dispose(FromFunc(func() error {
		close(closed)
		return nil
	}))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("item was never closed")
	}
}

func TestDisposeOrdersByArrival(t *testing.T) {
	d := New(8, testLog())

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		d.Dispose(FromFunc(func() error {
			order = append(order, i)
			if i == 4 {
				close(done)
			}
			return nil
		}))
	}

	<-done
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDisposeSurvivesErroringClose(t *testing.T) {
	d := New(4, testLog())

	d.Dispose(FromFunc(func() error { return assert.AnError }))

	closed := make(chan struct{})
	d.Dispose(FromFunc(func() error {
		close(closed)
		return nil
	}))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("disposer stalled after an erroring close")
	}
}
