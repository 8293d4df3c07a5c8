package mixer

// silenceGate tracks the active/silent transition and the five-frame
// sentinel tail spec.md §4.3/§8 require: exactly five Opus silence frames
// after an active→silent transition, then nothing until Play resumes.
type silenceGate struct {
	wasActive        bool
	silenceRemaining int
}

const silenceTailFrames = 5

// step advances the gate by one tick given whether any track contributed
// audio. It returns whether a packet should be sent this tick and whether
// this packet is a "restart" (active edge, sets the RTP marker bit).
func (g *silenceGate) step(nowActive bool) (send, marker bool) {
	if nowActive {
		marker = !g.wasActive
		g.wasActive = true
		g.silenceRemaining = 0
		return true, marker
	}

	if g.wasActive {
		g.silenceRemaining = silenceTailFrames
	}
	g.wasActive = false

	if g.silenceRemaining == 0 {
		return false, false
	}
	g.silenceRemaining--
	return true, false
}
