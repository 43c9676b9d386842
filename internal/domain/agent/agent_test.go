package agent_test

import (
	"testing"
	"time"

	"github.com/Strob0t/agentgate/internal/domain/agent"
)

func TestCanProcess_FullCPU(t *testing.T) {
	s := agent.DefaultState("a1")
	s.CPUUsed = s.CPUCapacity

	for _, req := range []float64{0.001, 1, 10, 100} {
		if s.CanProcess(req, 0) {
			t.Errorf("CanProcess(%v, 0) = true with cpu fully used", req)
		}
	}
}

func TestCanProcess_Boundaries(t *testing.T) {
	s := agent.DefaultState("a1")
	s.CPUUsed = 90
	s.MemoryUsed = 50

	if !s.CanProcess(10, 10) {
		t.Error("expected exactly 10 available cpu to satisfy a 10 requirement")
	}
	if s.CanProcess(10.5, 10) {
		t.Error("expected 10.5 cpu requirement to be rejected")
	}
}

func TestAvailable_NeverNegative(t *testing.T) {
	s := agent.State{CPUCapacity: 50, CPUUsed: 80, MemoryCapacity: 50, MemoryUsed: 60}
	if s.CPUAvailable() != 0 || s.MemoryAvailable() != 0 {
		t.Fatalf("expected 0 available, got cpu=%v mem=%v", s.CPUAvailable(), s.MemoryAvailable())
	}
}

func TestUtilization(t *testing.T) {
	tests := []struct {
		name  string
		state agent.State
		want  float64
	}{
		{"idle", agent.State{CPUCapacity: 100, MemoryCapacity: 100}, 0},
		{"mixed", agent.State{CPUCapacity: 100, MemoryCapacity: 100, CPUUsed: 50, MemoryUsed: 100}, 0.75},
		{"zero capacity", agent.State{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Utilization(); got != tt.want {
				t.Errorf("Utilization() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	s := agent.State{Specializations: []string{"vuln", "exploit"}}
	if !s.Matches("io.homelab.vuln.found") {
		t.Error("expected vuln specialization to match")
	}
	if s.Matches("io.homelab.chat.message") {
		t.Error("expected no match for chat")
	}
}

func TestStateUpdateApply(t *testing.T) {
	s := agent.DefaultState("a1")
	cpu := 42.0
	tags := []string{"chat"}
	out := agent.StateUpdate{CPUUsed: &cpu, Specializations: &tags}.Apply(s)

	if out.CPUUsed != 42 {
		t.Errorf("expected cpu_used 42, got %v", out.CPUUsed)
	}
	if out.MemoryUsed != s.MemoryUsed || out.SuccessRate != s.SuccessRate {
		t.Error("expected untouched fields to be preserved")
	}
	tags[0] = "mutated"
	if out.Specializations[0] != "chat" {
		t.Error("expected specializations to be copied")
	}
}

func TestValidate(t *testing.T) {
	if err := agent.DefaultState("a1").Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (agent.State{}).Validate(); err == nil {
		t.Error("expected error for missing id")
	}
	bad := agent.DefaultState("a1")
	bad.SuccessRate = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expected error for success rate > 1")
	}
}

func TestTimeRemaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	task := agent.Task{}
	if _, ok := task.TimeRemaining(now); ok {
		t.Error("expected no deadline")
	}
	d := now.Add(1500 * time.Millisecond)
	task.Deadline = &d
	got, ok := task.TimeRemaining(now)
	if !ok || got != 1.5 {
		t.Errorf("TimeRemaining = %v, %v; want 1.5, true", got, ok)
	}
}
