package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Strob0t/agentgate/internal/domain"
	"github.com/Strob0t/agentgate/internal/domain/agent"
	"github.com/Strob0t/agentgate/internal/domain/fairshare"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/port/broadcast"
	"github.com/Strob0t/agentgate/internal/port/database"
	"github.com/Strob0t/agentgate/internal/port/metrics"
)

// SplitRequest asks for a Shapley split of a shared reward.
type SplitRequest struct {
	TaskID      string   `json:"task_id"`
	AgentIDs    []string `json:"agent_ids"`
	TotalReward float64  `json:"total_reward"`
}

// RewardService splits rewards among agents registered in the market.
type RewardService struct {
	market  *market.Market
	calc    *fairshare.Calculator
	store   database.Store
	metrics metrics.Recorder
	hub     broadcast.Broadcaster
	now     func() time.Time
}

// NewRewardService creates a reward service.
func NewRewardService(m *market.Market, calc *fairshare.Calculator) *RewardService {
	return &RewardService{market: m, calc: calc, metrics: metrics.Nop{}, now: time.Now}
}

// SetStore attaches the audit log.
func (s *RewardService) SetStore(st database.Store) { s.store = st }

// SetMetrics attaches the metrics recorder.
func (s *RewardService) SetMetrics(r metrics.Recorder) { s.metrics = r }

// SetBroadcaster attaches the live dashboard feed.
func (s *RewardService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// Split computes each agent's share. An empty id list covers every
// registered agent.
func (s *RewardService) Split(ctx context.Context, req SplitRequest) (*database.RewardSplit, error) {
	if req.TotalReward < 0 || math.IsNaN(req.TotalReward) || math.IsInf(req.TotalReward, 0) {
		return nil, fmt.Errorf("total reward %v: %w", req.TotalReward, domain.ErrValidation)
	}

	var agents []agent.State
	if len(req.AgentIDs) == 0 {
		agents = s.market.Agents()
	} else {
		agents = make([]agent.State, 0, len(req.AgentIDs))
		for _, id := range req.AgentIDs {
			a, ok := s.market.Agent(id)
			if !ok {
				return nil, fmt.Errorf("agent %q: %w", id, domain.ErrNotFound)
			}
			agents = append(agents, a)
		}
	}

	shares, err := s.calc.Calculate(agents, req.TotalReward, fairshare.DefaultContribution(agents))
	if err != nil {
		return nil, fmt.Errorf("shapley split: %w", err)
	}

	split := &database.RewardSplit{
		TaskID:    req.TaskID,
		Total:     req.TotalReward,
		Shares:    shares,
		CreatedAt: s.now(),
	}
	for id, share := range shares {
		s.metrics.RecordReward(ctx, id, share)
	}
	if s.store != nil {
		if err := s.store.RecordRewardSplit(ctx, split); err != nil {
			slog.WarnContext(ctx, "record reward split failed", "task_id", req.TaskID, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventReward, split)
	}
	slog.InfoContext(ctx, "reward split", "task_id", req.TaskID, "agents", len(shares), "total_reward", req.TotalReward)
	return split, nil
}
