package market

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Strob0t/agentgate/internal/domain"
	"github.com/Strob0t/agentgate/internal/domain/agent"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTask(id, eventType string) agent.Task {
	return agent.Task{
		ID:          id,
		EventType:   eventType,
		Priority:    5,
		CPURequired: agent.DefaultCPURequired,
		MemRequired: agent.DefaultMemRequired,
		Reward:      agent.DefaultReward,
	}
}

func TestCalculateBid_Idle(t *testing.T) {
	b := CalculateBid(agent.DefaultState("a1"), newTask("t1", "io.x.chat.message"), t0)
	if b == nil {
		t.Fatal("expected a bid")
	}
	if math.Abs(b.EstimatedTime-0.1) > 1e-12 {
		t.Errorf("estimated time = %v, want 0.1", b.EstimatedTime)
	}
	if math.Abs(b.Confidence-0.95) > 1e-12 {
		t.Errorf("confidence = %v, want 0.95", b.Confidence)
	}
	want := (10*0.95 - 0.1) / 11
	if math.Abs(b.Utility-want) > 1e-12 {
		t.Errorf("utility = %v, want %v", b.Utility, want)
	}
	if b.SpecializationMatch {
		t.Error("expected no specialization match")
	}
	if !b.Timestamp.Equal(t0) {
		t.Errorf("timestamp = %v, want %v", b.Timestamp, t0)
	}
}

func TestCalculateBid_Specialization(t *testing.T) {
	s := agent.DefaultState("a1")
	s.Specializations = []string{"chat"}
	b := CalculateBid(s, newTask("t1", "io.x.chat.message"), t0)
	if b == nil || !b.SpecializationMatch {
		t.Fatal("expected specialized bid")
	}
	if math.Abs(b.EstimatedTime-0.1/1.3) > 1e-12 {
		t.Errorf("estimated time = %v, want %v", b.EstimatedTime, 0.1/1.3)
	}
}

func TestCalculateBid_DeadlinePenalty(t *testing.T) {
	task := newTask("t1", "x")
	relaxed := t0.Add(time.Minute)
	task.Deadline = &relaxed
	onTime := CalculateBid(agent.DefaultState("a1"), task, t0)

	missed := t0.Add(-time.Second)
	task.Deadline = &missed
	late := CalculateBid(agent.DefaultState("a1"), task, t0)

	if late.Utility >= onTime.Utility {
		t.Errorf("late utility %v should be below on-time utility %v", late.Utility, onTime.Utility)
	}
	if late.Utility < 0 || late.Utility > 1 {
		t.Errorf("utility %v escaped [0,1]", late.Utility)
	}
}

func TestCalculateBid_Overloaded(t *testing.T) {
	tests := []struct {
		name string
		cpu  float64
		mem  float64
	}{
		{"cpu 95%", 95, 0},
		{"memory 95%", 0, 95},
		{"cpu full", 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := agent.DefaultState("busy")
			s.CPUUsed, s.MemoryUsed = tt.cpu, tt.mem
			if b := CalculateBid(s, newTask("t1", "x"), t0); b != nil {
				t.Errorf("expected no bid, got %+v", b)
			}
		})
	}
}

func TestAnnounce_ExcludesOverloadedAndSorts(t *testing.T) {
	m := New(0)
	m.now = func() time.Time { return t0 }

	idle := agent.DefaultState("idle")
	busy := agent.DefaultState("busy")
	busy.CPUUsed = 95
	half := agent.DefaultState("half")
	half.CPUUsed, half.MemoryUsed = 50, 50
	for _, s := range []agent.State{busy, half, idle} {
		m.Register(s)
	}

	bids := m.Announce(newTask("t1", "x"))
	if len(bids) != 2 {
		t.Fatalf("expected 2 bids, got %d", len(bids))
	}
	for _, b := range bids {
		if b.AgentID == "busy" {
			t.Fatal("overloaded agent must not bid")
		}
	}
	if bids[0].AgentID != "idle" || bids[1].AgentID != "half" {
		t.Errorf("unexpected order: %s, %s", bids[0].AgentID, bids[1].AgentID)
	}
	if bids[0].Utility < bids[1].Utility {
		t.Error("bids must be sorted by utility descending")
	}
}

func TestSortBids_TieBreaksByTimestamp(t *testing.T) {
	bids := []Bid{
		{AgentID: "late", Utility: 0.5, Timestamp: t0.Add(time.Second)},
		{AgentID: "early", Utility: 0.5, Timestamp: t0},
		{AgentID: "best", Utility: 0.9, Timestamp: t0.Add(time.Hour)},
	}
	SortBids(bids)
	got := []string{bids[0].AgentID, bids[1].AgentID, bids[2].AgentID}
	want := []string{"best", "early", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSelectWinner(t *testing.T) {
	m := New(0)
	m.Register(agent.DefaultState("a1"))
	weak := agent.DefaultState("a2")
	weak.SuccessRate = 0.5
	m.Register(weak)

	m.Announce(newTask("t1", "x"))
	if m.OpenRounds() != 1 {
		t.Fatalf("expected 1 open round, got %d", m.OpenRounds())
	}

	w, ok := m.SelectWinner("t1")
	if !ok || w.AgentID != "a1" {
		t.Fatalf("expected a1 to win, got %+v", w)
	}
	if m.OpenRounds() != 0 {
		t.Error("round should be discarded after selection")
	}

	h := m.History()
	if len(h) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(h))
	}
	for _, a := range h {
		if a.Won != (a.Bid.AgentID == "a1") {
			t.Errorf("award for %s: won=%v", a.Bid.AgentID, a.Won)
		}
	}

	if _, ok := m.SelectWinner("t1"); ok {
		t.Error("second selection for a closed round should fail")
	}
}

func TestSelectWinner_NoBids(t *testing.T) {
	m := New(0)
	busy := agent.DefaultState("busy")
	busy.CPUUsed = 100
	m.Register(busy)
	m.Announce(newTask("t1", "x"))

	if _, ok := m.SelectWinner("t1"); ok {
		t.Error("expected no winner without bids")
	}
	if len(m.History()) != 0 {
		t.Error("expected empty history")
	}
}

func TestCloseRound_AnnounceToCandidates(t *testing.T) {
	m := New(0)
	peers := []agent.State{agent.DefaultState("p1"), agent.DefaultState("p2")}
	peers[1].Specializations = []string{"chat"}

	bids := m.AnnounceTo(newTask("t1", "io.x.chat.message"), peers)
	if len(bids) != 2 || bids[0].AgentID != "p2" {
		t.Fatalf("expected specialized p2 first, got %+v", bids)
	}

	awards := m.CloseRound("t1")
	if len(awards) != 2 {
		t.Fatalf("expected 2 awards, got %d", len(awards))
	}
	if !awards[0].Won || awards[0].Bid.AgentID != "p2" || awards[1].Won {
		t.Errorf("unexpected awards %+v", awards)
	}
	if m.CloseRound("t1") != nil {
		t.Error("closing a closed round should return nil")
	}
}

func TestHistoryLimit(t *testing.T) {
	m := New(3)
	m.Register(agent.DefaultState("a1"))
	m.Register(agent.DefaultState("a2"))

	for _, id := range []string{"t1", "t2", "t3"} {
		m.Announce(newTask(id, "x"))
		m.SelectWinner(id)
	}
	h := m.History()
	if len(h) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(h))
	}
	if h[len(h)-1].Bid.TaskID != "t3" {
		t.Errorf("expected newest entry last, got %s", h[len(h)-1].Bid.TaskID)
	}
}

func TestUpdateState(t *testing.T) {
	m := New(0)
	m.Register(agent.DefaultState("a1"))

	cpu := 99.0
	s, err := m.UpdateState("a1", agent.StateUpdate{CPUUsed: &cpu})
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if s.CPUUsed != 99 {
		t.Errorf("cpu_used = %v, want 99", s.CPUUsed)
	}
	if bids := m.Announce(newTask("t1", "x")); len(bids) != 0 {
		t.Errorf("expected no bids after update, got %d", len(bids))
	}

	_, err = m.UpdateState("ghost", agent.StateUpdate{CPUUsed: &cpu})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
