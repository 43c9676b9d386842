// Package scaling defines replica-count recommendations.
package scaling

import "time"

// Action is the recommended change to the replica count.
type Action string

const (
	ActionScaleUp   Action = "scale_up"
	ActionScaleDown Action = "scale_down"
	ActionNoChange  Action = "no_change"
)

// Decision is one controller tick's recommendation.
type Decision struct {
	Action          Action    `json:"action"`
	CurrentReplicas int       `json:"current_replicas"`
	TargetReplicas  int       `json:"target_replicas"`
	Reason          string    `json:"reason"`
	Error           float64   `json:"error"`
	PTerm           float64   `json:"p_term"`
	ITerm           float64   `json:"i_term"`
	DTerm           float64   `json:"d_term"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// Actionable reports whether an orchestrator should act on the decision.
func (d Decision) Actionable() bool {
	return d.Action != ActionNoChange && d.TargetReplicas != d.CurrentReplicas
}
