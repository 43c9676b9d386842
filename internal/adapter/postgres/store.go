package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/event"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/domain/scaling"
	"github.com/Strob0t/agentgate/internal/port/database"
)

// DefaultListLimit caps list queries that do not set their own limit.
const DefaultListLimit = 100

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// nullIfEmpty returns nil for empty strings (for nullable columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func listLimit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}

// --- Decisions ---

func (s *Store) RecordDecision(ctx context.Context, d *decision.ProcessingDecision) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decisions (id, agent_id, event_id, event_type, priority, action, reason, confidence,
		   agent_utilization, capacity_available, forward_target, bid_utility, nash_payoff, decision_time_ns, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.AgentID, d.EventID, d.EventType, int16(d.Priority), string(d.Action), string(d.Reason), d.Confidence,
		d.AgentUtilization, d.CapacityAvailable, nullIfEmpty(d.ForwardTarget), d.BidUtility, d.NashPayoff,
		d.DecisionTime.Nanoseconds(), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("record decision %s: %w", d.ID, err)
	}
	return nil
}

// decisionQuery builds the filtered list query and its arguments.
func decisionQuery(f decision.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.Reason != "" {
		add("reason = $%d", string(f.Reason))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}

	var b strings.Builder
	b.WriteString(`SELECT id::text, agent_id, event_id, event_type, priority, action, reason, confidence,
		agent_utilization, capacity_available, COALESCE(forward_target, ''), bid_utility, nash_payoff, decision_time_ns, created_at
		FROM decisions`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, listLimit(f.Limit))
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))
	return b.String(), args
}

func (s *Store) ListDecisions(ctx context.Context, f decision.Filter) ([]decision.ProcessingDecision, error) {
	q, args := decisionQuery(f)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []decision.ProcessingDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecision(row scannable) (decision.ProcessingDecision, error) {
	var (
		d        decision.ProcessingDecision
		priority int16
		action   string
		reason   string
		nanos    int64
	)
	err := row.Scan(&d.ID, &d.AgentID, &d.EventID, &d.EventType, &priority, &action, &reason, &d.Confidence,
		&d.AgentUtilization, &d.CapacityAvailable, &d.ForwardTarget, &d.BidUtility, &d.NashPayoff, &nanos, &d.CreatedAt)
	if err != nil {
		return d, fmt.Errorf("scan decision: %w", err)
	}
	d.Priority = event.Priority(priority)
	d.Action = decision.Action(action)
	d.Reason = decision.Reason(reason)
	d.DecisionTime = time.Duration(nanos)
	return d, nil
}

// --- Scaling ---

func (s *Store) RecordScaling(ctx context.Context, r *database.ScalingRecord) error {
	d := &r.Decision
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scaling_decisions (agent_id, action, current_replicas, target_replicas, reason,
		   error, p_term, i_term, d_term, confidence, advice, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.AgentID, string(d.Action), d.CurrentReplicas, d.TargetReplicas, d.Reason,
		d.Error, d.PTerm, d.ITerm, d.DTerm, d.Confidence, r.Advice, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("record scaling: %w", err)
	}
	return nil
}

func (s *Store) ListScaling(ctx context.Context, limit int) ([]database.ScalingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, action, current_replicas, target_replicas, reason,
		   error, p_term, i_term, d_term, confidence, advice, created_at
		 FROM scaling_decisions ORDER BY created_at DESC, id DESC LIMIT $1`, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list scaling: %w", err)
	}
	defer rows.Close()

	var out []database.ScalingRecord
	for rows.Next() {
		var (
			r      database.ScalingRecord
			action string
		)
		d := &r.Decision
		if err := rows.Scan(&r.AgentID, &action, &d.CurrentReplicas, &d.TargetReplicas, &d.Reason,
			&d.Error, &d.PTerm, &d.ITerm, &d.DTerm, &d.Confidence, &r.Advice, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scaling: %w", err)
		}
		d.Action = scaling.Action(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Market ---

func (s *Store) RecordAwards(ctx context.Context, awards []market.Award) error {
	if len(awards) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range awards {
		b := &awards[i].Bid
		batch.Queue(
			`INSERT INTO bids (task_id, agent_id, estimated_time, estimated_cost, confidence, utility,
			   specialization_match, won, bid_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			b.TaskID, b.AgentID, b.EstimatedTime, b.EstimatedCost, b.Confidence, b.Utility,
			b.SpecializationMatch, awards[i].Won, b.Timestamp)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record awards for %s: %w", awards[0].Bid.TaskID, err)
	}
	return nil
}

func (s *Store) RecordRewardSplit(ctx context.Context, r *database.RewardSplit) error {
	shares, err := json.Marshal(r.Shares)
	if err != nil {
		return fmt.Errorf("marshal shares: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reward_splits (task_id, total, shares, created_at) VALUES ($1, $2, $3, $4)`,
		r.TaskID, r.Total, shares, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("record reward split %s: %w", r.TaskID, err)
	}
	return nil
}
