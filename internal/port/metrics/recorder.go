// Package metrics defines the observability sink port.
package metrics

import (
	"context"
	"time"

	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/scaling"
)

// Recorder receives the side-effect measurements of the decision path.
type Recorder interface {
	RecordDecision(ctx context.Context, d *decision.ProcessingDecision)
	RecordScaling(ctx context.Context, d *scaling.Decision)
	RecordQueueDrop(ctx context.Context, priority string)
	RecordDeadlineMiss(ctx context.Context, priority string)
	RecordProcessing(ctx context.Context, eventType string, d time.Duration, ok bool)
	RecordReward(ctx context.Context, agentID string, share float64)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordDecision(context.Context, *decision.ProcessingDecision)  {}
func (Nop) RecordScaling(context.Context, *scaling.Decision)              {}
func (Nop) RecordQueueDrop(context.Context, string)                       {}
func (Nop) RecordDeadlineMiss(context.Context, string)                    {}
func (Nop) RecordProcessing(context.Context, string, time.Duration, bool) {}
func (Nop) RecordReward(context.Context, string, float64)                 {}
