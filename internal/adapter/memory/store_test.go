package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/domain/scaling"
	"github.com/Strob0t/agentgate/internal/port/database"
)

var _ database.Store = (*Store)(nil)

func TestStore_ListDecisionsNewestFirstAndFiltered(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actions := []decision.Action{decision.ActionProcess, decision.ActionForward, decision.ActionProcess, decision.ActionReject}
	for i, a := range actions {
		d := decision.ProcessingDecision{ID: fmt.Sprintf("d%d", i), Action: a, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.RecordDecision(ctx, &d); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter decision.Filter
		want   []string
	}{
		{"all", decision.Filter{}, []string{"d3", "d2", "d1", "d0"}},
		{"by action", decision.Filter{Action: decision.ActionProcess}, []string{"d2", "d0"}},
		{"since", decision.Filter{Since: base.Add(2 * time.Second)}, []string{"d3", "d2"}},
		{"limit", decision.Filter{Limit: 1}, []string{"d3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListDecisions(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, d := range got {
				ids = append(ids, d.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestStore_Capacity(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	for i := range 5 {
		r := database.ScalingRecord{Decision: scaling.Decision{TargetReplicas: i}}
		_ = s.RecordScaling(ctx, &r)
	}
	got, _ := s.ListScaling(ctx, 10)
	if len(got) != 2 || got[0].Decision.TargetReplicas != 4 || got[1].Decision.TargetReplicas != 3 {
		t.Errorf("expected the two newest records, got %+v", got)
	}

	_ = s.RecordAwards(ctx, []market.Award{{Won: true}, {}, {}})
	if len(s.Awards()) != 2 {
		t.Errorf("awards not capped: %d", len(s.Awards()))
	}
}

func TestStore_RewardSplitIsCopied(t *testing.T) {
	s := New(0)
	shares := map[string]float64{"a": 1}
	_ = s.RecordRewardSplit(context.Background(), &database.RewardSplit{TaskID: "t", Shares: shares})
	shares["a"] = 99
	if got := s.RewardSplits()[0].Shares["a"]; got != 1 {
		t.Errorf("stored share mutated to %v", got)
	}
}
