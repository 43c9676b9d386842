package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectEventIncoming:
		var p WorkItemPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		return requireWorkItem(subject, &p)
	case strings.HasPrefix(subject, SubjectEventForward+"."):
		var p ForwardPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		return requireWorkItem(subject, &p.WorkItemPayload)
	case subject == SubjectAgentState:
		var p AgentStatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.AgentID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errMissingAgentID)
		}
		return nil
	}

	var target any
	switch subject {
	case SubjectEventRejected:
		target = &RejectedPayload{}
	case SubjectEventDeadlineMissed:
		target = &DeadlineMissedPayload{}
	case SubjectDecisionMade:
		target = &DecisionPayload{}
	case SubjectScalingRecommend:
		target = &ScalingPayload{}
	default:
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}

var (
	errMissingID      = errors.New("id is required")
	errMissingType    = errors.New("type is required")
	errMissingAgentID = errors.New("agent_id is required")
)

func requireWorkItem(subject string, p *WorkItemPayload) error {
	if p.ID == "" {
		return fmt.Errorf("schema validation failed for %s: %w", subject, errMissingID)
	}
	if p.Type == "" {
		return fmt.Errorf("schema validation failed for %s: %w", subject, errMissingType)
	}
	return nil
}
