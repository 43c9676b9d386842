package messagequeue

import (
	"encoding/json"
	"time"
)

// WorkItemPayload is the schema for events.incoming messages. Priority is
// an optional enum name (CRITICAL, HIGH, MEDIUM, LOW, BACKGROUND); when
// empty it is derived from Type.
type WorkItemPayload struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority string          `json:"priority,omitempty"`
	Deadline *time.Time      `json:"deadline,omitempty"`
	Reward   float64         `json:"reward,omitempty"`
}

// ForwardPayload is the schema for events.forward.{agent_id} messages. Hops
// counts the forwards the item has already taken, this one included.
type ForwardPayload struct {
	WorkItemPayload
	FromAgent  string  `json:"from_agent"`
	Hops       int     `json:"hops"`
	BidUtility float64 `json:"bid_utility"`
}

// RejectedPayload is the schema for events.rejected messages.
type RejectedPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	AgentID    string    `json:"agent_id"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	RejectedAt time.Time `json:"rejected_at"`
}

// DeadlineMissedPayload is the schema for events.deadline_missed messages.
type DeadlineMissedPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	AgentID    string    `json:"agent_id"`
	Priority   string    `json:"priority"`
	Deadline   time.Time `json:"deadline"`
	DequeuedAt time.Time `json:"dequeued_at"`
}

// DecisionPayload is the schema for decisions.made messages.
type DecisionPayload struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	Action         string    `json:"action"`
	Reason         string    `json:"reason"`
	Confidence     float64   `json:"confidence"`
	ForwardTarget  string    `json:"forward_target,omitempty"`
	DecisionTimeMS float64   `json:"decision_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// ScalingPayload is the schema for scaling.recommendation messages.
type ScalingPayload struct {
	AgentID         string    `json:"agent_id"`
	Action          string    `json:"action"`
	CurrentReplicas int       `json:"current_replicas"`
	TargetReplicas  int       `json:"target_replicas"`
	Reason          string    `json:"reason"`
	Confidence      float64   `json:"confidence"`
	Advice          string    `json:"advice,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AgentStatePayload is the schema for agents.state messages.
type AgentStatePayload struct {
	AgentID           string    `json:"agent_id"`
	CPUCapacity       float64   `json:"cpu_capacity"`
	MemoryCapacity    float64   `json:"memory_capacity"`
	CPUUsed           float64   `json:"cpu_used"`
	MemoryUsed        float64   `json:"memory_used"`
	AvgProcessingTime float64   `json:"avg_processing_time"`
	SuccessRate       float64   `json:"success_rate"`
	ProcessingCost    float64   `json:"processing_cost"`
	Specializations   []string  `json:"specializations,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

// ProcessResultPayload is the reply to a work.process request.
type ProcessResultPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
