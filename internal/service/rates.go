package service

import (
	"sync"
	"time"

	"github.com/Strob0t/agentgate/internal/port/samples"
)

// DefaultServiceRate is the per-worker service rate assumed before any
// processing time has been observed.
const DefaultServiceRate = 1.0

// successPriorWeight is how many outcomes the baseline success rate counts
// for in the rolling estimate.
const successPriorWeight = 10.0

type completion struct {
	at       time.Time
	duration time.Duration
}

type outcome struct {
	at time.Time
	ok bool
}

// RateTracker estimates the arrival rate λ and the service rate μ over a
// sliding window. A remote sample fresher than the window overrides the
// local estimate for every rate it reports as positive.
type RateTracker struct {
	mu          sync.Mutex
	window      time.Duration
	arrivals    []time.Time
	completions []completion
	outcomes    []outcome
	external    *samples.Sample
	now         func() time.Time
}

// NewRateTracker creates a tracker with the given window (60s when <= 0).
func NewRateTracker(window time.Duration) *RateTracker {
	if window <= 0 {
		window = 60 * time.Second
	}
	return &RateTracker{window: window, now: time.Now}
}

// RecordArrival notes one incoming work item.
func (r *RateTracker) RecordArrival() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.arrivals = append(r.arrivals, now)
	r.prune(now)
}

// RecordProcessing notes one completed work item and its processing time.
func (r *RateTracker) RecordProcessing(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.completions = append(r.completions, completion{at: now, duration: d})
	r.prune(now)
}

// RecordOutcome notes whether one processing attempt succeeded.
func (r *RateTracker) RecordOutcome(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.outcomes = append(r.outcomes, outcome{at: now, ok: ok})
	r.prune(now)
}

// SuccessRate returns the share of successful attempts in the window,
// smoothed toward baseline so a single early failure does not zero it.
func (r *RateTracker) SuccessRate(baseline float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	var ok float64
	for _, o := range r.outcomes {
		if o.ok {
			ok++
		}
	}
	return (ok + baseline*successPriorWeight) / (float64(len(r.outcomes)) + successPriorWeight)
}

// SetExternal stores a sample from a remote source.
func (r *RateTracker) SetExternal(s samples.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.external = &s
}

// Rates returns the current λ and μ.
func (r *RateTracker) Rates() (lambda, mu float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.prune(now)

	lambda, mu = r.localArrivalRate(), r.localServiceRate()
	if ext := r.external; ext != nil && now.Sub(ext.At) < r.window {
		if ext.ArrivalRate > 0 {
			lambda = ext.ArrivalRate
		}
		if ext.ServiceRate > 0 {
			mu = ext.ServiceRate
		}
	}
	return lambda, mu
}

// AvgProcessingTime returns the mean processing time in the window, or 0
// when nothing completed.
func (r *RateTracker) AvgProcessingTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	if len(r.completions) == 0 {
		return 0
	}
	var total time.Duration
	for _, c := range r.completions {
		total += c.duration
	}
	return total / time.Duration(len(r.completions))
}

// localArrivalRate divides the arrivals by the span they cover, capped at
// the window. Fewer than two arrivals give no rate.
func (r *RateTracker) localArrivalRate() float64 {
	n := len(r.arrivals)
	if n < 2 {
		return 0
	}
	span := min(r.arrivals[n-1].Sub(r.arrivals[0]), r.window)
	if span <= 0 {
		return 0
	}
	return float64(n) / span.Seconds()
}

func (r *RateTracker) localServiceRate() float64 {
	if len(r.completions) == 0 {
		return DefaultServiceRate
	}
	var total float64
	for _, c := range r.completions {
		total += c.duration.Seconds()
	}
	avg := total / float64(len(r.completions))
	if avg <= 0 {
		return DefaultServiceRate
	}
	return 1 / avg
}

// prune must be called with r.mu held.
func (r *RateTracker) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.arrivals) && !r.arrivals[i].After(cutoff) {
		i++
	}
	r.arrivals = r.arrivals[i:]

	j := 0
	for j < len(r.completions) && !r.completions[j].at.After(cutoff) {
		j++
	}
	r.completions = r.completions[j:]

	k := 0
	for k < len(r.outcomes) && !r.outcomes[k].at.After(cutoff) {
		k++
	}
	r.outcomes = r.outcomes[k:]
}
