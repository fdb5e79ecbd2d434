package maintenance

import (
	"errors"
	"math"
	"testing"
	"time"
)

func newTestBackpressure(clk *clock) *Backpressure {
	bp := NewBackpressure(BackpressureConfig{MaxConcurrency: 8, MinConcurrency: 1, FailureThreshold: 0.25, Window: time.Minute})
	bp.now = clk.Now
	return bp
}

func wantConcurrency(t *testing.T, bp *Backpressure, want int) {
	t.Helper()
	if got := bp.Concurrency(); got != want {
		t.Fatalf("concurrency = %d, want %d", got, want)
	}
}

func wantRate(t *testing.T, bp *Backpressure, want float64) {
	t.Helper()
	if got := bp.FailureRate(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("failure rate = %v, want %v", got, want)
	}
}

func TestBackpressure_Defaults(t *testing.T) {
	bp := NewBackpressure(BackpressureConfig{})
	wantConcurrency(t, bp, 4)
	wantRate(t, bp, 0)

	bp = NewBackpressure(BackpressureConfig{MaxConcurrency: 2, MinConcurrency: 5})
	wantConcurrency(t, bp, 2)
	if bp.min != 2 {
		t.Errorf("min = %d, want it capped at max 2", bp.min)
	}
}

func TestBackpressure_HalvesOnFailures(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	bp := newTestBackpressure(clk)
	boom := errors.New("boom")

	bp.Record(nil)
	bp.Record(boom)
	bp.Record(boom)
	bp.Record(boom)
	wantRate(t, bp, 0.75)

	bp.Adjust()
	wantConcurrency(t, bp, 4)
	bp.Adjust()
	bp.Adjust()
	bp.Adjust()
	wantConcurrency(t, bp, 1)

	if !bp.ShouldPause(20) {
		t.Error("expected pause with a large backlog")
	}
	if bp.ShouldPause(8) {
		t.Error("unexpected pause with a small backlog")
	}
}

func TestBackpressure_RecoversAfterWindow(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	bp := newTestBackpressure(clk)
	bp.Record(errors.New("boom"))
	bp.Adjust()
	bp.Adjust()
	wantConcurrency(t, bp, 2)

	clk.Advance(2 * time.Minute)
	wantRate(t, bp, 0)
	bp.Record(nil)
	bp.Adjust()
	wantConcurrency(t, bp, 4)
	bp.Adjust()
	bp.Adjust()
	wantConcurrency(t, bp, 8)
	if bp.ShouldPause(100) {
		t.Error("unexpected pause after recovery")
	}
}

func TestBackpressure_ModerateFailuresGrowSlowly(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	bp := newTestBackpressure(clk)
	bp.Record(errors.New("boom"))
	bp.Adjust()
	bp.Adjust()
	wantConcurrency(t, bp, 2)

	// One failure in five sits between half the threshold and the
	// threshold.
	for range 4 {
		bp.Record(nil)
	}
	wantRate(t, bp, 0.2)
	bp.Adjust()
	wantConcurrency(t, bp, 3)

	// One in ten is at most half the threshold.
	for range 5 {
		bp.Record(nil)
	}
	bp.Adjust()
	wantConcurrency(t, bp, 4)
}
