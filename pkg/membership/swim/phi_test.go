package swim

import (
	"testing"
	"time"
)

func TestPhiNoSamples(t *testing.T) {
	d := newPhiDetector(8)
	now := time.Now()
	if got := d.phi(now); got != 0 {
		t.Fatalf("phi with no samples = %v, want 0", got)
	}
	d.heartbeat(now)
	if got := d.phi(now.Add(time.Second)); got != 0 {
		t.Fatalf("phi with one arrival = %v, want 0", got)
	}
}

func TestPhiRisesAfterSilence(t *testing.T) {
	d := newPhiDetector(32)
	now := time.Now()
	for i := 0; i < 10; i++ {
		d.heartbeat(now)
		now = now.Add(100 * time.Millisecond)
	}
	low := d.phi(now.Add(-50 * time.Millisecond))
	if low > 1 {
		t.Fatalf("phi right after a heartbeat = %v, want <= 1", low)
	}
	high := d.phi(now.Add(2 * time.Second))
	if high < 8 {
		t.Fatalf("phi after 2s of silence = %v, want >= 8", high)
	}
	if high <= low {
		t.Fatalf("phi did not rise: before=%v after=%v", low, high)
	}
}

func TestPhiWindowSlides(t *testing.T) {
	d := newPhiDetector(4)
	now := time.Now()
	// Fill the window with slow arrivals, then overwrite with fast ones.
	for i := 0; i < 5; i++ {
		d.heartbeat(now)
		now = now.Add(time.Second)
	}
	for i := 0; i < 5; i++ {
		d.heartbeat(now)
		now = now.Add(10 * time.Millisecond)
	}
	if d.samples() != 4 {
		t.Fatalf("samples = %d, want window size 4", d.samples())
	}
	// With the fast regime in the window, a one second gap is extreme.
	if got := d.phi(now.Add(time.Second)); got < 8 {
		t.Fatalf("phi after regime shift = %v, want >= 8", got)
	}
}
