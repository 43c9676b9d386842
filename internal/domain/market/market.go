// Package market implements Contract-Net task allocation: agents bid on an
// announced task and the highest-utility bid wins.
package market

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/agentgate/internal/domain"
	"github.com/Strob0t/agentgate/internal/domain/agent"
)

const (
	specializationBonus  = 1.3
	loadSlowdown         = 0.5
	loadConfidenceDerate = 0.3
	deadlinePenalty      = 5.0

	// DefaultHistoryLimit caps the retained (bid, won) records.
	DefaultHistoryLimit = 1000
)

// Bid is an agent's offer to process a task.
type Bid struct {
	AgentID             string    `json:"agent_id"`
	TaskID              string    `json:"task_id"`
	EstimatedTime       float64   `json:"estimated_time"`
	EstimatedCost       float64   `json:"estimated_cost"`
	Confidence          float64   `json:"confidence"`
	Utility             float64   `json:"utility"`
	SpecializationMatch bool      `json:"specialization_match"`
	Timestamp           time.Time `json:"timestamp"`
}

// Award records the outcome of one bid in a closed round.
type Award struct {
	Bid Bid  `json:"bid"`
	Won bool `json:"won"`
}

// CalculateBid prices task for the agent in state s at time now.
// It returns nil when the agent lacks capacity for the task.
func CalculateBid(s agent.State, task agent.Task, now time.Time) *Bid {
	if !s.CanProcess(task.CPURequired, task.MemRequired) {
		return nil
	}

	match := s.Matches(task.EventType)
	bonus := 1.0
	if match {
		bonus = specializationBonus
	}

	u := s.Utilization()
	estTime := s.AvgProcessingTime * (1 + loadSlowdown*u) / bonus
	estCost := estTime * s.ProcessingCost
	confidence := s.SuccessRate * (1 - loadConfidenceDerate*u)

	utility := task.Reward*confidence - estCost
	if remaining, ok := task.TimeRemaining(now); ok && remaining < estTime {
		utility -= deadlinePenalty * (estTime - remaining)
	}
	utility = clamp01(utility / (task.Reward + 1))

	return &Bid{
		AgentID:             s.ID,
		TaskID:              task.ID,
		EstimatedTime:       estTime,
		EstimatedCost:       estCost,
		Confidence:          confidence,
		Utility:             utility,
		SpecializationMatch: match,
		Timestamp:           now,
	}
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

// SortBids orders bids by utility descending, earlier timestamp first on ties.
func SortBids(bids []Bid) {
	slices.SortStableFunc(bids, func(a, b Bid) int {
		if c := cmp.Compare(b.Utility, a.Utility); c != 0 {
			return c
		}
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// Market holds the registered agents, open bidding rounds and award history.
// It is safe for concurrent use.
type Market struct {
	mu           sync.Mutex
	agents       map[string]agent.State
	rounds       map[string][]Bid
	history      []Award
	historyLimit int
	now          func() time.Time
}

// New creates a market retaining at most historyLimit awards.
// A non-positive limit selects DefaultHistoryLimit.
func New(historyLimit int) *Market {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Market{
		agents:       make(map[string]agent.State),
		rounds:       make(map[string][]Bid),
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Register adds or replaces an agent's snapshot.
func (m *Market) Register(s agent.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[s.ID] = s.Clone()
}

// Unregister removes an agent. Unknown ids are ignored.
func (m *Market) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
}

// UpdateState applies a partial update to a registered agent.
func (m *Market) UpdateState(id string, u agent.StateUpdate) (agent.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.agents[id]
	if !ok {
		return agent.State{}, fmt.Errorf("agent %q: %w", id, domain.ErrNotFound)
	}
	s = u.Apply(s)
	m.agents[id] = s
	return s.Clone(), nil
}

// Agent returns a copy of the registered snapshot for id.
func (m *Market) Agent(id string) (agent.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.agents[id]
	return s.Clone(), ok
}

// Agents returns copies of all registered snapshots ordered by id.
func (m *Market) Agents() []agent.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.State, 0, len(m.agents))
	for _, id := range slices.Sorted(maps.Keys(m.agents)) {
		out = append(out, m.agents[id].Clone())
	}
	return out
}

// Announce opens a bidding round for task among all registered agents.
func (m *Market) Announce(task agent.Task) []Bid {
	return m.AnnounceTo(task, m.Agents())
}

// AnnounceTo opens a bidding round for task among the given candidates and
// returns the non-nil bids, best first. A later announcement of the same
// task id replaces the open round.
func (m *Market) AnnounceTo(task agent.Task, candidates []agent.State) []Bid {
	now := m.now()
	bids := make([]Bid, 0, len(candidates))
	for _, c := range candidates {
		if b := CalculateBid(c, task, now); b != nil {
			bids = append(bids, *b)
		}
	}
	SortBids(bids)

	m.mu.Lock()
	m.rounds[task.ID] = bids
	m.mu.Unlock()

	return slices.Clone(bids)
}

// SelectWinner closes the round for taskID and returns its best bid.
// Every bid of the round is appended to the history.
func (m *Market) SelectWinner(taskID string) (*Bid, bool) {
	awards := m.CloseRound(taskID)
	if len(awards) == 0 {
		return nil, false
	}
	winner := awards[0].Bid
	return &winner, true
}

// CloseRound closes the round for taskID and returns one award per bid,
// winner first. The awards are also appended to the history.
func (m *Market) CloseRound(taskID string) []Award {
	m.mu.Lock()
	defer m.mu.Unlock()

	bids, ok := m.rounds[taskID]
	delete(m.rounds, taskID)
	if !ok || len(bids) == 0 {
		return nil
	}

	awards := make([]Award, len(bids))
	for i, b := range bids {
		awards[i] = Award{Bid: b, Won: i == 0}
	}
	m.history = append(m.history, awards...)
	if over := len(m.history) - m.historyLimit; over > 0 {
		m.history = slices.Delete(m.history, 0, over)
	}
	return awards
}

// OpenRounds returns the number of announced tasks without a winner yet.
func (m *Market) OpenRounds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rounds)
}

// History returns a copy of the retained awards, oldest first.
func (m *Market) History() []Award {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}
