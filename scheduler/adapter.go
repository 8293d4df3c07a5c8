package scheduler

import (
	"time"

	"github.com/serenity-rs/songbird/mixer"
)

// MixerAdapter satisfies Tickable for a real *mixer.Mixer, translating
// mixer.TickResult into the Scheduler's narrower view of it.
type MixerAdapter struct {
	*mixer.Mixer
}

func (a MixerAdapter) Tick(now time.Duration) (TickResult, error) {
	res, err := a.Mixer.Tick(now)
	return TickResult{Sent: res.Sent, Cost: res.Cost}, err
}
