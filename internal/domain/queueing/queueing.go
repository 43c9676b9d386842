// Package queueing implements the M/M/c stationary queue model (Erlang C).
package queueing

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/Strob0t/agentgate/internal/domain/scaling"
)

// scanWindow bounds the recommended-worker search.
const scanWindow = 20

// MaxServers is the largest worker count the model evaluates. Erlang C is
// linear in c, so larger counts are reported as out of range.
const MaxServers = 10_000

// Metrics is the stationary state of an M/M/c queue.
// Wait and queue-length fields are +Inf when the queue is unstable.
type Metrics struct {
	ArrivalRate        float64 `json:"arrival_rate"`
	ServiceRate        float64 `json:"service_rate"`
	Workers            int     `json:"workers"`
	Utilization        float64 `json:"utilization"`
	AvgWaitTime        float64 `json:"avg_wait_time"`
	AvgSystemTime      float64 `json:"avg_system_time"`
	AvgQueueLength     float64 `json:"avg_queue_length"`
	ProbWait           float64 `json:"prob_wait"`
	Stable             bool    `json:"is_stable"`
	RecommendedWorkers int     `json:"recommended_workers"`
}

// MarshalJSON encodes infinite values as null, which encoding/json cannot represent.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type wire struct {
		ArrivalRate        float64  `json:"arrival_rate"`
		ServiceRate        float64  `json:"service_rate"`
		Workers            int      `json:"workers"`
		Utilization        *float64 `json:"utilization"`
		AvgWaitTime        *float64 `json:"avg_wait_time"`
		AvgSystemTime      *float64 `json:"avg_system_time"`
		AvgQueueLength     *float64 `json:"avg_queue_length"`
		ProbWait           float64  `json:"prob_wait"`
		Stable             bool     `json:"is_stable"`
		RecommendedWorkers int      `json:"recommended_workers"`
	}
	return json.Marshal(wire{
		ArrivalRate:        m.ArrivalRate,
		ServiceRate:        m.ServiceRate,
		Workers:            m.Workers,
		Utilization:        finite(m.Utilization),
		AvgWaitTime:        finite(m.AvgWaitTime),
		AvgSystemTime:      finite(m.AvgSystemTime),
		AvgQueueLength:     finite(m.AvgQueueLength),
		ProbWait:           m.ProbWait,
		Stable:             m.Stable,
		RecommendedWorkers: m.RecommendedWorkers,
	})
}

func isFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// Model holds the targets used for worker recommendations.
type Model struct {
	TargetLatency  time.Duration
	MaxUtilization float64
}

// NewModel returns a model with the default 1s target wait and 0.8 ceiling.
func NewModel() Model {
	return Model{TargetLatency: time.Second, MaxUtilization: 0.8}
}

// Calculate returns the M/M/c metrics for arrival rate lambda, per-worker
// service rate mu and c workers. Invalid configurations never fail; they
// yield an unstable result with a usable recommendation.
func (m Model) Calculate(lambda, mu float64, c int) Metrics {
	inf := math.Inf(1)
	if c > MaxServers || !isFinite(lambda) || !isFinite(mu) {
		rec := MaxServers
		if isFinite(lambda) && isFinite(mu) && mu > 0 {
			rec = int(min(float64(MaxServers), math.Ceil(lambda/(mu*m.maxUtilization()))))
		}
		return Metrics{
			ArrivalRate:        lambda,
			ServiceRate:        mu,
			Workers:            c,
			Utilization:        inf,
			AvgWaitTime:        inf,
			AvgSystemTime:      inf,
			AvgQueueLength:     inf,
			ProbWait:           1,
			RecommendedWorkers: max(1, rec),
		}
	}
	if c <= 0 || mu <= 0 {
		rec := 1
		if mu > 0 {
			rec = max(1, int(math.Ceil(lambda/mu))+1)
		}
		return Metrics{
			ArrivalRate:        lambda,
			ServiceRate:        mu,
			Workers:            c,
			Utilization:        inf,
			AvgWaitTime:        inf,
			AvgSystemTime:      inf,
			AvgQueueLength:     inf,
			ProbWait:           1,
			RecommendedWorkers: rec,
		}
	}

	rho := lambda / (float64(c) * mu)
	if rho >= 1 {
		return Metrics{
			ArrivalRate:        lambda,
			ServiceRate:        mu,
			Workers:            c,
			Utilization:        rho,
			AvgWaitTime:        inf,
			AvgSystemTime:      inf,
			AvgQueueLength:     inf,
			ProbWait:           1,
			RecommendedWorkers: int(math.Ceil(lambda / (mu * m.maxUtilization()))),
		}
	}

	pw := ErlangC(c, lambda/mu)
	wq := pw / (float64(c)*mu - lambda)
	return Metrics{
		ArrivalRate:        lambda,
		ServiceRate:        mu,
		Workers:            c,
		Utilization:        rho,
		AvgWaitTime:        wq,
		AvgSystemTime:      wq + 1/mu,
		AvgQueueLength:     lambda * wq,
		ProbWait:           pw,
		Stable:             true,
		RecommendedWorkers: m.recommend(lambda, mu),
	}
}

// ErlangC returns the probability that an arrival must wait in an M/M/c
// queue with offered load a = lambda/mu. The caller guarantees a < c.
//
// It evaluates a^c/c! * c/(c-a) * P0 through the Erlang B recurrence,
// which stays finite for large c where the factorial form overflows.
func ErlangC(c int, a float64) float64 {
	b := 1.0
	for k := 1; k <= c; k++ {
		b = a * b / (float64(k) + a*b)
	}
	fc := float64(c)
	return fc * b / (fc - a*(1-b))
}

// recommend scans upward from the minimum stable worker count for the first
// count meeting both the utilization ceiling and the target wait.
func (m Model) recommend(lambda, mu float64) int {
	minWorkers := max(1, int(math.Ceil(lambda/mu)))
	target := m.TargetLatency.Seconds()
	for c := minWorkers; c < minWorkers+scanWindow; c++ {
		rho := lambda / (float64(c) * mu)
		a := lambda / mu
		if rho >= 1 || a >= float64(c) {
			continue
		}
		wq := ErlangC(c, a) / (float64(c)*mu - lambda)
		if wq <= target && rho <= m.maxUtilization() {
			return c
		}
	}
	return minWorkers + 5
}

func (m Model) maxUtilization() float64 {
	if m.MaxUtilization <= 0 || m.MaxUtilization > 1 {
		return 0.8
	}
	return m.MaxUtilization
}

// Advice is a stateless scaling suggestion derived from queue metrics.
type Advice struct {
	Action scaling.Action `json:"action"`
	Target int            `json:"target"`
	Reason string         `json:"reason"`
}

// RecommendScaling compares the metrics against the model's targets.
func (m Model) RecommendScaling(mt Metrics) Advice {
	switch {
	case !mt.Stable:
		return Advice{
			Action: scaling.ActionScaleUp,
			Target: mt.RecommendedWorkers,
			Reason: fmt.Sprintf("system unstable (rho=%.2f >= 1)", mt.Utilization),
		}
	case mt.AvgWaitTime > m.TargetLatency.Seconds():
		return Advice{
			Action: scaling.ActionScaleUp,
			Target: mt.RecommendedWorkers,
			Reason: fmt.Sprintf("wait %.2fs > target %.2fs", mt.AvgWaitTime, m.TargetLatency.Seconds()),
		}
	case mt.Utilization < m.maxUtilization()*0.5 && mt.Workers > 1:
		return Advice{
			Action: scaling.ActionScaleDown,
			Target: max(1, mt.Workers-1),
			Reason: fmt.Sprintf("low utilization (%.0f%%)", mt.Utilization*100),
		}
	default:
		return Advice{
			Action: scaling.ActionNoChange,
			Target: mt.Workers,
			Reason: fmt.Sprintf("system stable (rho=%.0f%%, wq=%.2fs)", mt.Utilization*100, mt.AvgWaitTime),
		}
	}
}
