package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serenity-rs/songbird/track"
)

func TestTickFiresInSpecOrder(t *testing.T) {
	d := NewDispatcher()
	trackID := uuid.New()

	var order []string
	record := func(name string) Handler {
		return func(Context) HandlerAction {
			order = append(order, name)
			return ContinueAction()
		}
	}

	require.NoError(t, d.Track(trackID).Add(OnTrack(TrackEnd), record("track-end"), 0))
	require.NoError(t, d.Track(trackID).Add(Periodic(10*time.Millisecond, 10*time.Millisecond), record("track-timer"), 0))
	require.NoError(t, d.global.Add(Periodic(10*time.Millisecond, 10*time.Millisecond), record("global-timer"), 0))
	require.NoError(t, d.global.Add(OnCore(RtpPacket), record("receive"), 0))

	fires := []TrackFire{{
		ID:    trackID,
		Fired: []track.FiredEvent{{Kind: track.EventEnd}},
		Ctx:   TrackContext{State: track.State{PlayTime: 20 * time.Millisecond}},
	}}
	cores := []CoreFire{{Kind: RtpPacket}}

	d.Tick(20*time.Millisecond, fires, cores)

	assert.Equal(t, []string{"track-end", "track-timer", "global-timer", "receive"}, order)
}

func TestPeriodicReArmsAndDelayedFiresOnce(t *testing.T) {
	s := NewStore(true)
	var fireCount int
	require.NoError(t, s.Add(Periodic(10*time.Millisecond, 0), func(Context) HandlerAction {
		fireCount++
		return ContinueAction()
	}, 0))

	var delayedFired bool
	require.NoError(t, s.Add(Delayed(15*time.Millisecond), func(Context) HandlerAction {
		delayedFired = true
		return ContinueAction()
	}, 0))

	s.FireTimed(5*time.Millisecond, Context{})
	assert.Equal(t, 0, fireCount)
	assert.False(t, delayedFired)

	s.FireTimed(10*time.Millisecond, Context{})
	assert.Equal(t, 1, fireCount)
	assert.False(t, delayedFired)

	s.FireTimed(15*time.Millisecond, Context{})
	assert.Equal(t, 1, fireCount)
	assert.True(t, delayedFired)

	s.FireTimed(20*time.Millisecond, Context{})
	assert.Equal(t, 2, fireCount, "periodic should have re-armed for another period")
}

func TestCancelRemovesRegistration(t *testing.T) {
	s := NewStore(false)
	var fireCount int
	require.NoError(t, s.Add(OnTrack(TrackLoop), func(Context) HandlerAction {
		fireCount++
		return CancelAction()
	}, 0))

	s.FireTrack(TrackLoop, Context{})
	s.FireTrack(TrackLoop, Context{})

	assert.Equal(t, 1, fireCount)
}

func TestCoreEventRejectedOnTrackStore(t *testing.T) {
	s := NewStore(false)
	err := s.Add(OnCore(DriverConnect), func(Context) HandlerAction { return ContinueAction() }, 0)
	assert.ErrorIs(t, err, ErrGlobalOnly)
}
