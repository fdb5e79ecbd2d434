package maintenance

import (
	"sync"
	"sync/atomic"
	"time"
)

// Backpressure limits how many tables the daemon maintains at once. It
// watches the outcome of recent table jobs: a failure rate above the
// threshold halves concurrency, a clean window doubles it again, and a
// large backlog under a high failure rate pauses the pass entirely.
type Backpressure struct {
	max, min  int32
	threshold float64
	window    time.Duration
	now       func() time.Time

	current atomic.Int32

	mu      sync.Mutex
	results []outcome
}

type outcome struct {
	at time.Time
	ok bool
}

// BackpressureConfig bounds the controller.
type BackpressureConfig struct {
	MaxConcurrency   int           `json:"max_concurrency" yaml:"max_concurrency"`
	MinConcurrency   int           `json:"min_concurrency" yaml:"min_concurrency"`
	FailureThreshold float64       `json:"failure_threshold" yaml:"failure_threshold"`
	Window           time.Duration `json:"window" yaml:"window"`
}

// DefaultBackpressureConfig returns the defaults used by the daemon.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		MaxConcurrency:   4,
		MinConcurrency:   1,
		FailureThreshold: 0.25,
		Window:           30 * time.Minute,
	}
}

// NewBackpressure creates a controller starting at full concurrency.
func NewBackpressure(cfg BackpressureConfig) *Backpressure {
	def := DefaultBackpressureConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.MinConcurrency <= 0 {
		cfg.MinConcurrency = def.MinConcurrency
	}
	if cfg.MinConcurrency > cfg.MaxConcurrency {
		cfg.MinConcurrency = cfg.MaxConcurrency
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	bp := &Backpressure{
		max:       int32(cfg.MaxConcurrency),
		min:       int32(cfg.MinConcurrency),
		threshold: cfg.FailureThreshold,
		window:    cfg.Window,
		now:       time.Now,
	}
	bp.current.Store(bp.max)
	return bp
}

// Record notes the outcome of one table job.
func (bp *Backpressure) Record(err error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.results = append(bp.results, outcome{at: bp.now(), ok: err == nil})
}

// FailureRate returns the share of failed jobs within the window.
func (bp *Backpressure) FailureRate() float64 {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	rate, _ := bp.rateLocked()
	return rate
}

// rateLocked drops results older than the window and returns the failure
// rate and the number of results left.
func (bp *Backpressure) rateLocked() (float64, int) {
	cutoff := bp.now().Add(-bp.window)
	i := 0
	for i < len(bp.results) && bp.results[i].at.Before(cutoff) {
		i++
	}
	bp.results = bp.results[i:]
	if len(bp.results) == 0 {
		return 0, 0
	}
	failed := 0
	for _, r := range bp.results {
		if !r.ok {
			failed++
		}
	}
	return float64(failed) / float64(len(bp.results)), len(bp.results)
}

// Adjust recomputes the concurrency from the recent failure rate. The
// daemon calls it at the start of every pass.
func (bp *Backpressure) Adjust() {
	bp.mu.Lock()
	rate, n := bp.rateLocked()
	bp.mu.Unlock()

	cur := bp.current.Load()
	next := cur
	switch {
	case rate > bp.threshold:
		next = cur / 2
	case n > 0 && rate == 0:
		next = cur * 2
	case rate <= bp.threshold/2:
		next = cur + max(cur/2, 1)
	default:
		next = cur + 1
	}
	bp.current.Store(min(max(next, bp.min), bp.max))
}

// ShouldPause reports whether a pass over backlog tables should be
// skipped. A backlog that fits in one round is always processed so the
// controller keeps getting fresh outcomes to recover from.
func (bp *Backpressure) ShouldPause(backlog int) bool {
	if backlog <= int(bp.max) {
		return false
	}
	return bp.FailureRate() > bp.threshold
}

// Concurrency returns the current limit.
func (bp *Backpressure) Concurrency() int { return int(bp.current.Load()) }
