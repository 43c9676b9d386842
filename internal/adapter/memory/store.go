// Package memory implements the audit log port in process. It keeps the most
// recent records up to a fixed capacity and is used when no Postgres DSN is
// configured.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/port/database"
)

// DefaultCapacity bounds each record kind when New is given none.
const DefaultCapacity = 10000

// Store is a bounded in-memory database.Store.
type Store struct {
	mu        sync.RWMutex
	capacity  int
	decisions []decision.ProcessingDecision
	scaling   []database.ScalingRecord
	awards    []market.Award
	splits    []database.RewardSplit
}

// New creates a store keeping at most capacity records of each kind.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// appendCapped appends v and drops the oldest entries beyond limit.
func appendCapped[T any](s []T, limit int, v ...T) []T {
	s = append(s, v...)
	if over := len(s) - limit; over > 0 {
		s = slices.Delete(s, 0, over)
	}
	return s
}

func (s *Store) RecordDecision(_ context.Context, d *decision.ProcessingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = appendCapped(s.decisions, s.capacity, *d)
	return nil
}

// ListDecisions returns matching decisions, newest first.
func (s *Store) ListDecisions(_ context.Context, f decision.Filter) ([]decision.ProcessingDecision, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []decision.ProcessingDecision
	for i := len(s.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		if f.Matches(&s.decisions[i]) {
			out = append(out, s.decisions[i])
		}
	}
	return out, nil
}

func (s *Store) RecordScaling(_ context.Context, r *database.ScalingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scaling = appendCapped(s.scaling, s.capacity, *r)
	return nil
}

// ListScaling returns the newest limit records, newest first.
func (s *Store) ListScaling(_ context.Context, limit int) ([]database.ScalingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(limit, len(s.scaling))
	out := make([]database.ScalingRecord, 0, n)
	for i := len(s.scaling) - 1; len(out) < n; i-- {
		out = append(out, s.scaling[i])
	}
	return out, nil
}

func (s *Store) RecordAwards(_ context.Context, awards []market.Award) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awards = appendCapped(s.awards, s.capacity, awards...)
	return nil
}

// Awards returns the stored bids, oldest first.
func (s *Store) Awards() []market.Award {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.awards)
}

func (s *Store) RecordRewardSplit(_ context.Context, r *database.RewardSplit) error {
	split := *r
	split.Shares = maps.Clone(r.Shares)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splits = appendCapped(s.splits, s.capacity, split)
	return nil
}

// RewardSplits returns the stored splits, oldest first.
func (s *Store) RewardSplits() []database.RewardSplit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.splits)
}
