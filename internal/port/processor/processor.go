// Package processor defines the port that performs the work for items the
// engine decided to process locally.
package processor

import (
	"context"

	"github.com/Strob0t/agentgate/internal/domain/event"
)

// Processor handles one work item and returns when it is done.
type Processor interface {
	Process(ctx context.Context, item event.WorkItem) error
}

// Func adapts a function to the Processor interface.
type Func func(ctx context.Context, item event.WorkItem) error

// Process calls f.
func (f Func) Process(ctx context.Context, item event.WorkItem) error {
	return f(ctx, item)
}
