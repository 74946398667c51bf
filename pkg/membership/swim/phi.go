package swim

import (
	"math"
	"sync"
	"time"
)

// phiDetector implements phi-accrual failure detection over a sliding
// window of heartbeat inter-arrival times. Suspicion is
// phi = -log10(P(elapsed)) where P is the upper tail of a normal
// distribution fitted to the window.
type phiDetector struct {
	mu      sync.Mutex
	window  []float64
	size    int
	next    int
	filled  bool
	last    time.Time
	hasLast bool
}

const (
	phiMax = 100.0
	// minStdDev guards against a degenerate fit when arrivals are
	// near-perfectly regular.
	minStdDev = 0.005
)

func newPhiDetector(windowSize int) *phiDetector {
	if windowSize <= 0 {
		windowSize = 64
	}
	return &phiDetector{window: make([]float64, windowSize), size: windowSize}
}

// heartbeat records an arrival at now.
func (d *phiDetector) heartbeat(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasLast {
		interval := now.Sub(d.last).Seconds()
		if interval > 0 {
			d.window[d.next] = interval
			d.next = (d.next + 1) % d.size
			if d.next == 0 {
				d.filled = true
			}
		}
	}
	d.last = now
	d.hasLast = true
}

// phi returns the current suspicion level. With fewer than two samples
// it returns 0, giving a freshly seen peer the benefit of the doubt.
func (d *phiDetector) phi(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.next
	if d.filled {
		n = d.size
	}
	if !d.hasLast || n < 2 {
		return 0
	}
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		sum += d.window[i]
		sumSq += d.window[i] * d.window[i]
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	stdDev := math.Sqrt(math.Max(variance, 0))
	if stdDev < minStdDev {
		stdDev = minStdDev
	}
	elapsed := now.Sub(d.last).Seconds()
	// Upper tail of N(mean, stdDev) at elapsed.
	p := 0.5 * math.Erfc((elapsed-mean)/(stdDev*math.Sqrt2))
	if p <= 0 {
		return phiMax
	}
	phi := -math.Log10(p)
	if phi > phiMax {
		return phiMax
	}
	if phi < 0 {
		return 0
	}
	return phi
}

// samples reports how many inter-arrival samples are recorded.
func (d *phiDetector) samples() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.filled {
		return d.size
	}
	return d.next
}
