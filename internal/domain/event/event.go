// Package event defines incoming work items and their admission priority.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/agentgate/internal/domain"
)

// Priority orders queued work. Lower values are served first.
type Priority int

const (
	PriorityCritical   Priority = 1
	PriorityHigh       Priority = 2
	PriorityMedium     Priority = 3
	PriorityLow        Priority = 4
	PriorityBackground Priority = 5
)

// Priorities lists every priority level in service order.
var Priorities = []Priority{
	PriorityCritical,
	PriorityHigh,
	PriorityMedium,
	PriorityLow,
	PriorityBackground,
}

// String returns the upper-case level name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	case PriorityBackground:
		return "BACKGROUND"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// Valid reports whether p is one of the defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// TaskPriority maps the queue priority onto the 1-10 task scale used by the
// market and equilibrium payoffs, where 10 is the most urgent.
func (p Priority) TaskPriority() int {
	switch p {
	case PriorityCritical:
		return 10
	case PriorityHigh:
		return 8
	case PriorityMedium:
		return 5
	case PriorityLow:
		return 3
	default:
		return 1
	}
}

// ParsePriority accepts a level name in any case.
func ParsePriority(s string) (Priority, error) {
	for _, p := range Priorities {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q: %w", s, domain.ErrValidation)
}

// MarshalJSON encodes the priority by name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority from its name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// rule maps event types containing any of the keywords to a priority.
type rule struct {
	keywords []string
	priority Priority
}

// typeRules are evaluated in order; the first matching rule wins.
var typeRules = []rule{
	{keywords: []string{"critical", "exploit"}, priority: PriorityCritical},
	{keywords: []string{"vuln", "alert"}, priority: PriorityHigh},
	{keywords: []string{"chat", "command"}, priority: PriorityMedium},
	{keywords: []string{"analytics", "metric"}, priority: PriorityLow},
}

// PriorityFromType derives a priority from an event type string.
func PriorityFromType(eventType string) Priority {
	for _, r := range typeRules {
		for _, kw := range r.keywords {
			if strings.Contains(eventType, kw) {
				return r.priority
			}
		}
	}
	return PriorityBackground
}

// WorkItem describes an incoming event handed to the engine.
// FromAgent and Hops are set on items that arrived as a peer forward.
type WorkItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Priority  *Priority       `json:"priority,omitempty"`
	Deadline  *time.Time      `json:"deadline,omitempty"`
	Reward    float64         `json:"reward"`
	FromAgent string          `json:"from_agent,omitempty"`
	Hops      int             `json:"hops,omitempty"`
}

// ResolvedPriority returns the explicit priority or derives one from the type.
func (w *WorkItem) ResolvedPriority() Priority {
	if w.Priority != nil && w.Priority.Valid() {
		return *w.Priority
	}
	return PriorityFromType(w.Type)
}

// Validate checks the fields a decision cannot be made without.
func (w *WorkItem) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("id is required: %w", domain.ErrValidation)
	}
	if w.Type == "" {
		return fmt.Errorf("type is required: %w", domain.ErrValidation)
	}
	if w.Reward < 0 {
		return fmt.Errorf("reward must be >= 0: %w", domain.ErrValidation)
	}
	if w.Hops < 0 {
		return fmt.Errorf("hops must be >= 0: %w", domain.ErrValidation)
	}
	return nil
}

// QueuedEvent is a work item waiting in the admission queue.
type QueuedEvent struct {
	Priority  Priority        `json:"priority"`
	Arrival   time.Time       `json:"arrival"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Deadline  time.Time       `json:"deadline,omitzero"`
	Reward    float64         `json:"reward"`
	FromAgent string          `json:"from_agent,omitempty"`
	Hops      int             `json:"hops,omitempty"`
	seq       uint64
}

// Less orders by priority, then arrival, then insertion sequence.
func (q *QueuedEvent) Less(other *QueuedEvent) bool {
	if q.Priority != other.Priority {
		return q.Priority < other.Priority
	}
	if !q.Arrival.Equal(other.Arrival) {
		return q.Arrival.Before(other.Arrival)
	}
	return q.seq < other.seq
}

// SetSequence stamps the insertion order used to break arrival-time ties.
func (q *QueuedEvent) SetSequence(seq uint64) {
	q.seq = seq
}

// HasDeadline reports whether an absolute deadline is set.
func (q *QueuedEvent) HasDeadline() bool {
	return !q.Deadline.IsZero()
}

// WorkItem converts the queued event back into a decision input.
func (q *QueuedEvent) WorkItem() WorkItem {
	p := q.Priority
	w := WorkItem{
		ID:        q.ID,
		Type:      q.Type,
		Payload:   q.Payload,
		Priority:  &p,
		Reward:    q.Reward,
		FromAgent: q.FromAgent,
		Hops:      q.Hops,
	}
	if q.HasDeadline() {
		d := q.Deadline
		w.Deadline = &d
	}
	return w
}
