package mixer

import "testing"

func TestSilenceGateSendsFiveFramesThenStops(t *testing.T) {
	var g silenceGate

	send, marker := g.step(true)
	if !send || !marker {
		t.Fatalf("first active tick must send with marker set, got send=%v marker=%v", send, marker)
	}

	send, marker = g.step(true)
	if !send || marker {
		t.Fatalf("second consecutive active tick must not re-set marker, got send=%v marker=%v", send, marker)
	}

	var sends int
	for i := 0; i < 5; i++ {
		send, _ = g.step(false)
		if send {
			sends++
		}
	}
	if sends != silenceTailFrames {
		t.Fatalf("expected exactly %d silence-tail sends, got %d", silenceTailFrames, sends)
	}

	send, _ = g.step(false)
	if send {
		t.Fatal("sixth silent tick must not send")
	}
}

func TestSilenceGateResumeSetsMarkerAgain(t *testing.T) {
	var g silenceGate

	g.step(true)
	for i := 0; i < silenceTailFrames+1; i++ {
		g.step(false)
	}

	send, marker := g.step(true)
	if !send || !marker {
		t.Fatalf("resuming after silence must send with marker set, got send=%v marker=%v", send, marker)
	}
}
