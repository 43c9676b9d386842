package messagequeue

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateValidWorkItem(t *testing.T) {
	data := []byte(`{"id":"e1","type":"io.x.chat.message","payload":{"text":"hi"},"priority":"HIGH","reward":12.5}`)
	if err := Validate(SubjectEventIncoming, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateWorkItemRequiresIdentity(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"missing id", `{"type":"io.x.chat.message"}`, errMissingID},
		{"missing type", `{"id":"e1"}`, errMissingType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(SubjectEventIncoming, []byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateForwardSubject(t *testing.T) {
	data := []byte(`{"id":"e1","type":"io.x.vuln.found","from_agent":"a1","bid_utility":0.4}`)
	if err := Validate(ForwardSubject("a2"), data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(ForwardSubject("a2"), []byte(`{"from_agent":"a1"}`)); err == nil {
		t.Fatal("expected error for forwarded item without id")
	}
}

func TestValidateAgentState(t *testing.T) {
	data := []byte(`{"agent_id":"a1","cpu_capacity":100,"memory_capacity":100,"cpu_used":20,"memory_used":30,"success_rate":0.9}`)
	if err := Validate(SubjectAgentState, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(SubjectAgentState, []byte(`{"cpu_used":20}`)); !errors.Is(err, errMissingAgentID) {
		t.Fatalf("expected missing agent_id error, got %v", err)
	}
}

func TestValidateOutboundSubjects(t *testing.T) {
	tests := []struct {
		subject string
		data    string
	}{
		{SubjectEventRejected, `{"event_id":"e1","event_type":"t","agent_id":"a1","reason":"no_capacity","confidence":0.9}`},
		{SubjectEventDeadlineMissed, `{"event_id":"e1","priority":"HIGH","deadline":"2026-01-01T00:00:00Z"}`},
		{SubjectDecisionMade, `{"id":"d1","action":"process","reason":"good_capacity","decision_time_ms":0.2}`},
		{SubjectScalingRecommend, `{"action":"scale_up","current_replicas":2,"target_replicas":4}`},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			if err := Validate(tt.subject, []byte(tt.data)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	data := []byte(`{"foo":"bar"}`)
	if err := Validate("unknown.subject", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	data := []byte(`{not valid json`)
	err := Validate(SubjectEventIncoming, data)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected 'invalid JSON' in error, got: %v", err)
	}
}

func TestValidateInvalidSchema(t *testing.T) {
	// Valid JSON with the wrong top-level structure.
	data := []byte(`"just a string"`)
	err := Validate(SubjectDecisionMade, data)
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected 'schema validation failed' in error, got: %v", err)
	}
}

func TestForwardSubject(t *testing.T) {
	if got := ForwardSubject("agent-7"); got != "events.forward.agent-7" {
		t.Errorf("ForwardSubject = %q", got)
	}
}
