package toolhost

import (
	"slices"
	"sync"
)

// defaultWindowSize is the default capacity of each tool's rolling window.
const defaultWindowSize = 100

// rollingWindow keeps the last N call latencies (in microseconds) and their
// outcomes in a ring buffer. All methods are safe for concurrent use.
type rollingWindow struct {
	mu      sync.Mutex
	samples []int64 // latency ring, µs
	failed  []bool  // outcome ring, parallel to samples
	pos     int     // next write position
	count   int     // total samples written (may exceed size)
	errors  int     // total failures written (may exceed size)
}

// windowStats is a consistent snapshot of a [rollingWindow].
type windowStats struct {
	calls     int
	errors    int
	errorRate float64
	p50       int64
	p99       int64
}

// newRollingWindow creates a rolling window with the given capacity. A size of
// 0 or less defaults to [defaultWindowSize].
func newRollingWindow(size int) *rollingWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &rollingWindow{
		samples: make([]int64, size),
		failed:  make([]bool, size),
	}
}

// Record adds one measurement, overwriting the oldest once the ring is full.
func (w *rollingWindow) Record(latencyMicros int64, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.pos] = latencyMicros
	w.failed[w.pos] = failed
	w.pos = (w.pos + 1) % len(w.samples)
	w.count++
	if failed {
		w.errors++
	}
}

// Snapshot returns the window's counters and percentiles under one lock.
func (w *rollingWindow) Snapshot() windowStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := min(w.count, len(w.samples))
	st := windowStats{calls: w.count, errors: w.errors}
	if n == 0 {
		return st
	}

	// Until the ring wraps the valid data is samples[:n]; afterwards every
	// slot is valid and order does not matter for percentiles.
	sorted := slices.Clone(w.samples[:n])
	slices.Sort(sorted)
	st.p50 = sorted[n/2]
	st.p99 = sorted[int(float64(n-1)*0.99)]

	var failedInWindow int
	for _, f := range w.failed[:n] {
		if f {
			failedInWindow++
		}
	}
	st.errorRate = float64(failedInWindow) / float64(n)
	return st
}
