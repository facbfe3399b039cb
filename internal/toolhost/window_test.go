package toolhost

import (
	"sync"
	"testing"
)

func TestRollingWindowEmpty(t *testing.T) {
	t.Parallel()
	st := newRollingWindow(10).Snapshot()
	if st.calls != 0 || st.p50 != 0 || st.p99 != 0 || st.errorRate != 0 {
		t.Errorf("empty snapshot = %+v, want zero", st)
	}
}

func TestRollingWindowDefaultSize(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(0)
	if len(w.samples) != defaultWindowSize {
		t.Errorf("size = %d, want %d", len(w.samples), defaultWindowSize)
	}
}

func TestRollingWindowPercentiles(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(100)
	for i := int64(1); i <= 100; i++ {
		w.Record(i, false)
	}
	st := w.Snapshot()
	if st.p50 != 51 {
		t.Errorf("p50 = %d, want 51", st.p50)
	}
	if st.p99 != 99 {
		t.Errorf("p99 = %d, want 99", st.p99)
	}
}

func TestRollingWindowRingEvictsOldest(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(3)
	w.Record(1000, true)
	w.Record(1, false)
	w.Record(2, false)
	w.Record(3, false)

	st := w.Snapshot()
	if st.calls != 4 || st.errors != 1 {
		t.Errorf("calls/errors = %d/%d, want 4/1", st.calls, st.errors)
	}
	// The failed 1000µs sample has been overwritten.
	if st.p99 != 3 {
		t.Errorf("p99 = %d, want 3", st.p99)
	}
	if st.errorRate != 0 {
		t.Errorf("errorRate = %v, want 0 once the failure left the window", st.errorRate)
	}
}

func TestRollingWindowErrorRate(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(10)
	for i := range 10 {
		w.Record(5, i < 3)
	}
	if got := w.Snapshot().errorRate; got != 0.3 {
		t.Errorf("errorRate = %v, want 0.3", got)
	}
}

func TestRollingWindowConcurrent(t *testing.T) {
	t.Parallel()
	w := newRollingWindow(50)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			for j := range 50 {
				w.Record(int64(j), (i+j)%5 == 0)
				_ = w.Snapshot()
			}
		})
	}
	wg.Wait()
	if st := w.Snapshot(); st.calls != 1000 || st.errors != 200 {
		t.Errorf("calls/errors = %d/%d, want 1000/200", st.calls, st.errors)
	}
}
