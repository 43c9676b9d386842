// Package agent defines the agent capacity snapshot and the task it bids on.
package agent

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Strob0t/agentgate/internal/domain"
)

// Default resource requirement of a task, in percent of capacity.
const (
	DefaultCPURequired = 10.0
	DefaultMemRequired = 10.0
	DefaultReward      = 10.0
)

// State is a point-in-time snapshot of an agent's capacity and track record.
// CPU and memory values are percentages.
type State struct {
	ID                string   `json:"id"`
	CPUCapacity       float64  `json:"cpu_capacity"`
	MemoryCapacity    float64  `json:"memory_capacity"`
	CPUUsed           float64  `json:"cpu_used"`
	MemoryUsed        float64  `json:"memory_used"`
	AvgProcessingTime float64  `json:"avg_processing_time"` // seconds
	SuccessRate       float64  `json:"success_rate"`
	ProcessingCost    float64  `json:"processing_cost"`
	Specializations   []string `json:"specializations,omitempty"`
}

// DefaultState returns an idle agent with full capacity.
func DefaultState(id string) State {
	return State{
		ID:                id,
		CPUCapacity:       100,
		MemoryCapacity:    100,
		AvgProcessingTime: 0.1,
		SuccessRate:       0.95,
		ProcessingCost:    1.0,
	}
}

// CPUAvailable returns unused CPU, never negative.
func (s State) CPUAvailable() float64 {
	return max(0, s.CPUCapacity-s.CPUUsed)
}

// MemoryAvailable returns unused memory, never negative.
func (s State) MemoryAvailable() float64 {
	return max(0, s.MemoryCapacity-s.MemoryUsed)
}

// Utilization is the mean of CPU and memory usage ratios.
// A resource without capacity counts as fully used.
func (s State) Utilization() float64 {
	return (ratio(s.CPUUsed, s.CPUCapacity) + ratio(s.MemoryUsed, s.MemoryCapacity)) / 2
}

func ratio(used, capacity float64) float64 {
	if capacity <= 0 {
		return 1
	}
	return used / capacity
}

// CanProcess reports whether both resources have room for the requirement.
func (s State) CanProcess(cpuRequired, memRequired float64) bool {
	return s.CPUAvailable() >= cpuRequired && s.MemoryAvailable() >= memRequired
}

// Matches reports whether any specialization tag is a substring of eventType.
func (s State) Matches(eventType string) bool {
	return slices.ContainsFunc(s.Specializations, func(tag string) bool {
		return tag != "" && strings.Contains(eventType, tag)
	})
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (s State) Clone() State {
	s.Specializations = slices.Clone(s.Specializations)
	return s
}

// Validate rejects snapshots that no formula can use.
func (s State) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("agent id is required: %w", domain.ErrValidation)
	}
	if s.SuccessRate < 0 || s.SuccessRate > 1 {
		return fmt.Errorf("success_rate must be within [0,1]: %w", domain.ErrValidation)
	}
	if s.CPUCapacity < 0 || s.MemoryCapacity < 0 {
		return fmt.Errorf("capacity must be >= 0: %w", domain.ErrValidation)
	}
	return nil
}

// StateUpdate carries a partial update. Nil fields are left untouched.
type StateUpdate struct {
	CPUCapacity       *float64  `json:"cpu_capacity,omitempty"`
	MemoryCapacity    *float64  `json:"memory_capacity,omitempty"`
	CPUUsed           *float64  `json:"cpu_used,omitempty"`
	MemoryUsed        *float64  `json:"memory_used,omitempty"`
	AvgProcessingTime *float64  `json:"avg_processing_time,omitempty"`
	SuccessRate       *float64  `json:"success_rate,omitempty"`
	ProcessingCost    *float64  `json:"processing_cost,omitempty"`
	Specializations   *[]string `json:"specializations,omitempty"`
}

// Apply returns s with the non-nil fields of u applied.
func (u StateUpdate) Apply(s State) State {
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&s.CPUCapacity, u.CPUCapacity)
	set(&s.MemoryCapacity, u.MemoryCapacity)
	set(&s.CPUUsed, u.CPUUsed)
	set(&s.MemoryUsed, u.MemoryUsed)
	set(&s.AvgProcessingTime, u.AvgProcessingTime)
	set(&s.SuccessRate, u.SuccessRate)
	set(&s.ProcessingCost, u.ProcessingCost)
	if u.Specializations != nil {
		s.Specializations = slices.Clone(*u.Specializations)
	}
	return s
}

// Task is the unit of work agents bid on.
type Task struct {
	ID          string          `json:"id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"` // 1-10, 10 highest
	Deadline    *time.Time      `json:"deadline,omitempty"`
	CPURequired float64         `json:"cpu_required"`
	MemRequired float64         `json:"mem_required"`
	Reward      float64         `json:"reward"`
}

// TimeRemaining returns the seconds left until the deadline at now.
// ok is false when the task has no deadline.
func (t Task) TimeRemaining(now time.Time) (seconds float64, ok bool) {
	if t.Deadline == nil {
		return 0, false
	}
	return t.Deadline.Sub(now).Seconds(), true
}
