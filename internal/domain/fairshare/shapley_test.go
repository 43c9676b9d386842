package fairshare_test

import (
	"errors"
	"math"
	"testing"

	"github.com/Strob0t/agentgate/internal/domain"
	"github.com/Strob0t/agentgate/internal/domain/agent"
	"github.com/Strob0t/agentgate/internal/domain/fairshare"
)

func states(ids ...string) []agent.State {
	out := make([]agent.State, len(ids))
	for i, id := range ids {
		out[i] = agent.DefaultState(id)
	}
	return out
}

func sum(m map[string]float64) float64 {
	var s float64
	for _, v := range m {
		s += v
	}
	return s
}

func TestCalculate_Empty(t *testing.T) {
	got, err := fairshare.NewCalculator(0).Calculate(nil, 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestCalculate_SingleAgentGetsAll(t *testing.T) {
	got, err := fairshare.NewCalculator(0).Calculate(states("solo"), 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["solo"] != 100 {
		t.Errorf("expected exactly 100, got %v", got["solo"])
	}
}

func TestCalculate_SumsToTotal(t *testing.T) {
	agents := states("a", "b", "c", "d", "e")
	agents[1].CPUUsed = 40
	agents[2].SuccessRate = 0.5
	agents[3].MemoryUsed = 90

	got, err := fairshare.NewCalculator(0).Calculate(agents, 250, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(sum(got)-250) > 1e-9 {
		t.Errorf("shares sum to %v, want 250", sum(got))
	}
	if got["a"] <= got["b"] {
		t.Errorf("idle agent a (%v) should earn more than loaded b (%v)", got["a"], got["b"])
	}
}

func TestCalculate_AdditiveGameIsProportional(t *testing.T) {
	// Additive contributions: Shapley value equals each member's own value.
	value := map[string]float64{"a": 1, "b": 3}
	fn := func(c []string) float64 {
		var v float64
		for _, id := range c {
			v += value[id]
		}
		return v
	}
	got, err := fairshare.NewCalculator(0).Calculate(states("a", "b"), 100, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got["a"]-25) > 1e-9 || math.Abs(got["b"]-75) > 1e-9 {
		t.Errorf("got %v, want a=25 b=75", got)
	}
}

func TestCalculate_SynergyIsSplitEvenly(t *testing.T) {
	// Only the full coalition produces value: symmetric players split evenly.
	fn := func(c []string) float64 {
		if len(c) == 3 {
			return 9
		}
		return 0
	}
	got, err := fairshare.NewCalculator(0).Calculate(states("a", "b", "c"), 30, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for id, v := range got {
		if math.Abs(v-10) > 1e-9 {
			t.Errorf("%s = %v, want 10", id, v)
		}
	}
}

func TestCalculate_NonPositiveRawSum(t *testing.T) {
	fn := func(c []string) float64 { return -float64(len(c)) }
	got, err := fairshare.NewCalculator(0).Calculate(states("a", "b"), 100, fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for id, v := range got {
		if v != 0 {
			t.Errorf("%s = %v, want 0", id, v)
		}
	}
	if len(got) != 2 {
		t.Errorf("expected entries for both agents, got %v", got)
	}
}

func TestCalculate_Ceiling(t *testing.T) {
	_, err := fairshare.NewCalculator(3).Calculate(states("a", "b", "c", "d"), 10, nil)
	if !errors.Is(err, domain.ErrTooManyAgents) {
		t.Fatalf("expected ErrTooManyAgents, got %v", err)
	}
}

func TestCalculate_DuplicateIDs(t *testing.T) {
	_, err := fairshare.NewCalculator(0).Calculate(states("a", "a"), 10, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
