// Package samples defines the port for live load signals polled by the
// rate tracker and the scaling loop.
package samples

import (
	"context"
	"time"
)

// Sample is one reading of fleet load. Replicas is 0 when the source does
// not know the current replica count. CPUUsed and MemoryUsed are the
// agent's own usage in percent, nil when the source does not report them.
type Sample struct {
	ArrivalRate float64       `json:"arrival_rate"`
	ServiceRate float64       `json:"service_rate"`
	Latency     time.Duration `json:"latency"`
	Utilization float64       `json:"utilization"`
	Replicas    int           `json:"replicas"`
	CPUUsed     *float64      `json:"cpu_used,omitempty"`
	MemoryUsed  *float64      `json:"memory_used,omitempty"`
	At          time.Time     `json:"at"`
}

// Source supplies samples on demand.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
}
