// Package decision defines the per-item admission outcome.
package decision

import (
	"time"

	"github.com/Strob0t/agentgate/internal/domain/event"
)

// Action is what the agent does with a work item.
type Action string

const (
	ActionProcess Action = "process"
	ActionForward Action = "forward"
	ActionReject  Action = "reject"
)

// Reason explains which branch produced a decision.
type Reason string

const (
	ReasonHighPriority   Reason = "high_priority"
	ReasonGoodCapacity   Reason = "good_capacity"
	ReasonNashOptimal    Reason = "nash_optimal"
	ReasonBetterTarget   Reason = "better_target"
	ReasonOverloaded     Reason = "overloaded"
	ReasonNoCapacity     Reason = "no_capacity"
	ReasonLowCapacity    Reason = "low_capacity"
	ReasonSystemUnstable Reason = "system_unstable"
	ReasonInvalidInput   Reason = "invalid_input"
	ReasonHopLimit       Reason = "hop_limit"
)

// ProcessingDecision is the immutable result for one work item.
type ProcessingDecision struct {
	ID                string         `json:"id"`
	Action            Action         `json:"action"`
	Reason            Reason         `json:"reason"`
	Confidence        float64        `json:"confidence"`
	EventID           string         `json:"event_id"`
	EventType         string         `json:"event_type"`
	Priority          event.Priority `json:"priority"`
	AgentID           string         `json:"agent_id"`
	AgentUtilization  float64        `json:"agent_utilization"`
	CapacityAvailable float64        `json:"capacity_available"`
	ForwardTarget     string         `json:"forward_target,omitempty"`
	BidUtility        float64        `json:"bid_utility"`
	NashPayoff        float64        `json:"nash_payoff"`
	DecisionTime      time.Duration  `json:"decision_time_ns"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Filter narrows decision log queries. Zero fields match everything.
type Filter struct {
	Action Action
	Reason Reason
	Since  time.Time
	Limit  int
}

// Matches reports whether d satisfies the filter's predicates.
func (f Filter) Matches(d *ProcessingDecision) bool {
	if f.Action != "" && d.Action != f.Action {
		return false
	}
	if f.Reason != "" && d.Reason != f.Reason {
		return false
	}
	if !f.Since.IsZero() && d.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
