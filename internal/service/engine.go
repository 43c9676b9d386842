// Package service wires the decision engine, admission queue, autoscaler and
// reward division to the ports they report through.
package service

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/agentgate/internal/domain/agent"
	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/equilibrium"
	"github.com/Strob0t/agentgate/internal/domain/event"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/domain/queueing"
)

// EngineConfig holds the decision thresholds and task defaults.
type EngineConfig struct {
	AgentID             string
	MaxUtilization      float64
	MinUtilityThreshold float64
	CPURequired         float64
	MemRequired         float64
	DefaultReward       float64
	Workers             int
	MaxForwardHops      int // forwards an item may take before it must stay here
}

// DefaultMaxForwardHops bounds how often one item is passed between agents.
const DefaultMaxForwardHops = 3

// Snapshot is the point-in-time view a single decision is made from.
type Snapshot struct {
	Self        agent.State
	Peers       []agent.State
	ArrivalRate float64
	ServiceRate float64
}

// PeerSource lists the peers currently eligible for forwarding.
type PeerSource interface {
	Peers(ctx context.Context) []agent.State
}

// AwardSink receives the closed Contract-Net rounds of forward searches.
type AwardSink func(ctx context.Context, awards []market.Award)

// DecisionEngine chooses process, forward or reject for each work item.
// Stability is checked first, then the critical fast path, then local
// capacity, the utilization ceiling, the Nash best response and finally the
// bid-utility floor.
type DecisionEngine struct {
	mu  sync.RWMutex
	cfg EngineConfig

	model    queueing.Model
	market   *market.Market
	selector equilibrium.Selector
	rates    *RateTracker
	peers    PeerSource
	awards   AwardSink

	now func() time.Time
}

// NewDecisionEngine wires an engine. The agent identified by cfg.AgentID
// must be registered in m; peers may be nil.
func NewDecisionEngine(cfg EngineConfig, model queueing.Model, m *market.Market, sel equilibrium.Selector, rates *RateTracker, peers PeerSource) *DecisionEngine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.DefaultReward <= 0 {
		cfg.DefaultReward = agent.DefaultReward
	}
	if cfg.MaxForwardHops < 1 {
		cfg.MaxForwardHops = DefaultMaxForwardHops
	}
	return &DecisionEngine{
		cfg:      cfg,
		model:    model,
		market:   m,
		selector: sel,
		rates:    rates,
		peers:    peers,
		now:      time.Now,
	}
}

// SetAwardSink registers a callback for closed bidding rounds.
func (e *DecisionEngine) SetAwardSink(sink AwardSink) {
	e.awards = sink
}

// SetThresholds swaps the utilization ceiling and the utility floor.
func (e *DecisionEngine) SetThresholds(maxUtilization, minUtility float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.MaxUtilization = maxUtilization
	e.cfg.MinUtilityThreshold = minUtility
}

// Thresholds returns the utilization ceiling and the utility floor.
func (e *DecisionEngine) Thresholds() (maxUtilization, minUtility float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.MaxUtilization, e.cfg.MinUtilityThreshold
}

// AgentID returns the id of the agent the engine decides for.
func (e *DecisionEngine) AgentID() string { return e.cfg.AgentID }

// Market returns the Contract-Net market backing forward searches.
func (e *DecisionEngine) Market() *market.Market { return e.market }

// QueueingMetrics evaluates the stability model against the tracked rates.
func (e *DecisionEngine) QueueingMetrics() queueing.Metrics {
	lambda, mu := e.rates.Rates()
	return e.model.Calculate(lambda, mu, e.cfg.Workers)
}

// Decide records the arrival and decides item against a fresh snapshot.
func (e *DecisionEngine) Decide(ctx context.Context, item event.WorkItem) decision.ProcessingDecision {
	e.rates.RecordArrival()
	return e.DecideWith(ctx, e.Snapshot(ctx), item)
}

// Snapshot captures the current self state, peers and rates.
func (e *DecisionEngine) Snapshot(ctx context.Context) Snapshot {
	self, ok := e.market.Agent(e.cfg.AgentID)
	if !ok {
		self = agent.State{ID: e.cfg.AgentID}
	}
	var peers []agent.State
	if e.peers != nil {
		peers = e.peers.Peers(ctx)
	}
	lambda, mu := e.rates.Rates()
	return Snapshot{Self: self, Peers: peers, ArrivalRate: lambda, ServiceRate: mu}
}

// DecideWith decides item against snap. It never fails: invalid input and
// missing capacity both degrade to a reject carrying the reason.
func (e *DecisionEngine) DecideWith(ctx context.Context, snap Snapshot, item event.WorkItem) decision.ProcessingDecision {
	start := e.now()
	maxUtil, minUtility := e.Thresholds()
	prio := item.ResolvedPriority()

	b := decisionBuilder{
		d: decision.ProcessingDecision{
			ID:                uuid.NewString(),
			EventID:           item.ID,
			EventType:         item.Type,
			Priority:          prio,
			AgentID:           e.cfg.AgentID,
			CapacityAvailable: (snap.Self.CPUAvailable() + snap.Self.MemoryAvailable()) / 2,
		},
		start: start,
		now:   e.now,
	}

	if err := item.Validate(); err != nil {
		slog.WarnContext(ctx, "invalid work item", "event_id", item.ID, "error", err)
		return e.finish(ctx, b.reject(decision.ReasonInvalidInput, 1.0))
	}

	task := e.task(item, prio)

	qm := e.model.Calculate(snap.ArrivalRate, snap.ServiceRate, e.cfg.Workers)
	b.d.AgentUtilization = finiteOr(qm.Utilization, 1)
	if !qm.Stable {
		return e.finish(ctx, b.reject(decision.ReasonSystemUnstable, 0.9))
	}

	var bidUtility float64
	if bid := market.CalculateBid(snap.Self, task, start); bid != nil {
		bidUtility = bid.Utility
	}
	nash := e.selector.BestResponse(snap.Self, task, snap.Peers, start)
	b.d.BidUtility, b.d.NashPayoff = bidUtility, nash.Payoff

	canProcess := snap.Self.CanProcess(task.CPURequired, task.MemRequired)
	canForward := item.Hops < e.cfg.MaxForwardHops

	if prio == event.PriorityCritical && canProcess {
		return e.finish(ctx, b.process(decision.ReasonHighPriority, 0.95))
	}

	if !canProcess {
		if !canForward {
			return e.finish(ctx, b.reject(decision.ReasonHopLimit, 0.9))
		}
		if target, ok := e.forwardTarget(ctx, task, snap.Peers, item.FromAgent); ok {
			return e.finish(ctx, b.forward(decision.ReasonNoCapacity, 0.8, target))
		}
		return e.finish(ctx, b.reject(decision.ReasonNoCapacity, 0.9))
	}

	if canForward && qm.Utilization > maxUtil {
		if target, ok := e.forwardTarget(ctx, task, snap.Peers, item.FromAgent); ok {
			return e.finish(ctx, b.forward(decision.ReasonOverloaded, 0.75, target))
		}
	}

	switch nash.Strategy {
	case equilibrium.StrategyProcess:
		return e.finish(ctx, b.process(decision.ReasonNashOptimal, math.Min(0.9, 0.5+nash.Payoff)))
	case equilibrium.StrategyForward:
		if !canForward {
			break
		}
		if target, ok := e.forwardTarget(ctx, task, snap.Peers, item.FromAgent); ok {
			return e.finish(ctx, b.forward(decision.ReasonBetterTarget, 0.7, target))
		}
	}

	if bidUtility >= minUtility {
		return e.finish(ctx, b.process(decision.ReasonGoodCapacity, 0.6+0.3*bidUtility))
	}
	return e.finish(ctx, b.reject(decision.ReasonLowCapacity, 0.5))
}

func (e *DecisionEngine) task(item event.WorkItem, prio event.Priority) agent.Task {
	reward := item.Reward
	if reward == 0 {
		reward = e.cfg.DefaultReward
	}
	return agent.Task{
		ID:          item.ID,
		EventType:   item.Type,
		Payload:     item.Payload,
		Priority:    prio.TaskPriority(),
		Deadline:    item.Deadline,
		CPURequired: e.cfg.CPURequired,
		MemRequired: e.cfg.MemRequired,
		Reward:      reward,
	}
}

// forwardTarget runs a Contract-Net round among the peers and returns the
// winner's id. The agent that forwarded the item here never bids.
func (e *DecisionEngine) forwardTarget(ctx context.Context, task agent.Task, peers []agent.State, sender string) (string, bool) {
	candidates := make([]agent.State, 0, len(peers))
	for _, p := range peers {
		if p.ID != e.cfg.AgentID && p.ID != sender {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	e.market.AnnounceTo(task, candidates)
	awards := e.market.CloseRound(task.ID)
	if len(awards) == 0 {
		return "", false
	}
	if e.awards != nil {
		e.awards(ctx, awards)
	}
	return awards[0].Bid.AgentID, true
}

func (e *DecisionEngine) finish(ctx context.Context, d decision.ProcessingDecision) decision.ProcessingDecision {
	slog.InfoContext(ctx, "event decision",
		"agent_id", d.AgentID,
		"event_id", d.EventID,
		"event_type", d.EventType,
		"priority", d.Priority.String(),
		"decision", string(d.Action),
		"reason", string(d.Reason),
		"confidence", d.Confidence,
		"utilization", d.AgentUtilization,
		"bid_utility", d.BidUtility,
		"nash_payoff", d.NashPayoff,
		"forward_target", d.ForwardTarget,
		"decision_time_ms", float64(d.DecisionTime)/float64(time.Millisecond),
	)
	return d
}

type decisionBuilder struct {
	d     decision.ProcessingDecision
	start time.Time
	now   func() time.Time
}

func (b *decisionBuilder) seal(a decision.Action, r decision.Reason, confidence float64) decision.ProcessingDecision {
	end := b.now()
	d := b.d
	d.Action, d.Reason, d.Confidence = a, r, confidence
	d.DecisionTime = end.Sub(b.start)
	d.CreatedAt = end
	return d
}

func (b *decisionBuilder) process(r decision.Reason, confidence float64) decision.ProcessingDecision {
	return b.seal(decision.ActionProcess, r, confidence)
}

func (b *decisionBuilder) reject(r decision.Reason, confidence float64) decision.ProcessingDecision {
	return b.seal(decision.ActionReject, r, confidence)
}

func (b *decisionBuilder) forward(r decision.Reason, confidence float64, target string) decision.ProcessingDecision {
	b.d.ForwardTarget = target
	return b.seal(decision.ActionForward, r, confidence)
}

func finiteOr(v, fallback float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fallback
	}
	return v
}
