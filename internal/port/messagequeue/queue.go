// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used by agentgate.
const (
	SubjectEventIncoming       = "events.incoming"        // work items entering the fleet
	SubjectEventForward        = "events.forward"         // events.forward.{agent_id}, items handed to a peer
	SubjectEventRejected       = "events.rejected"        // backpressure notices
	SubjectEventDeadlineMissed = "events.deadline_missed" // items dequeued after their deadline
	SubjectDecisionMade        = "decisions.made"
	SubjectScalingRecommend    = "scaling.recommendation"
	SubjectAgentState          = "agents.state" // peer capacity snapshots
)

// SubjectWorkProcess prefixes the request/reply subject local workers serve
// (work.process.{agent_id}). It lies outside the stream so requests are not
// acknowledged by JetStream.
const SubjectWorkProcess = "work.process"

// ProcessSubject returns the request/reply subject serving processing for
// the given agent.
func ProcessSubject(agentID string) string {
	return SubjectWorkProcess + "." + agentID
}

// SharedSubjects are consumed through one consumer shared by every agent, so
// each message reaches exactly one of them. Every other subscription sees
// all messages.
var SharedSubjects = []string{SubjectEventIncoming}

// StreamSubjects are the subject filters captured by the JetStream stream.
var StreamSubjects = []string{"events.>", "decisions.>", "scaling.>", "agents.>"}

// ForwardSubject returns the subject a peer with the given id consumes
// forwarded work items from.
func ForwardSubject(agentID string) string {
	return SubjectEventForward + "." + agentID
}
