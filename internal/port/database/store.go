// Package database defines the audit log store port (interface). The log is
// write-mostly history for dashboards and offline tuning; the engine never
// reloads its state from it.
package database

import (
	"context"
	"time"

	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/domain/scaling"
)

// ScalingRecord is a persisted controller recommendation.
type ScalingRecord struct {
	AgentID  string           `json:"agent_id"`
	Decision scaling.Decision `json:"decision"`
	Advice   string           `json:"advice,omitempty"`
}

// RewardSplit is a persisted Shapley allocation.
type RewardSplit struct {
	TaskID    string             `json:"task_id"`
	Total     float64            `json:"total"`
	Shares    map[string]float64 `json:"shares"`
	CreatedAt time.Time          `json:"created_at"`
}

// Store is the port interface for the audit log.
type Store interface {
	// Decisions
	RecordDecision(ctx context.Context, d *decision.ProcessingDecision) error
	ListDecisions(ctx context.Context, f decision.Filter) ([]decision.ProcessingDecision, error)

	// Scaling recommendations
	RecordScaling(ctx context.Context, r *ScalingRecord) error
	ListScaling(ctx context.Context, limit int) ([]ScalingRecord, error)

	// Contract-Net rounds
	RecordAwards(ctx context.Context, awards []market.Award) error

	// Fair division
	RecordRewardSplit(ctx context.Context, s *RewardSplit) error
}
