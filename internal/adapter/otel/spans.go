package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentgate"

// StartDecisionSpan starts a span covering one work item from dequeue to
// the end of its action.
func StartDecisionSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "decision",
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("event.type", eventType),
		),
	)
}

// StartForwardSpan starts a span for handing an item to a peer.
func StartForwardSpan(ctx context.Context, eventID, target string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "forward",
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("forward.target", target),
		),
	)
}

// StartScalingSpan starts a span for one controller tick.
func StartScalingSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "scaling",
		trace.WithAttributes(attribute.String("agent.id", agentID)),
	)
}
