// Package equilibrium picks an agent's best response among processing,
// forwarding and rejecting a task.
package equilibrium

import (
	"math"
	"time"

	"github.com/Strob0t/agentgate/internal/domain/agent"
)

// Strategy is one of the discrete choices available to an agent.
type Strategy string

const (
	StrategyProcess Strategy = "process"
	StrategyForward Strategy = "forward"
	StrategyReject  Strategy = "reject"
)

// strategies lists the choices in tie-break order.
var strategies = []Strategy{StrategyProcess, StrategyForward, StrategyReject}

const (
	successDerate  = 0.2
	deadlineFactor = 2.0
	defaultFee     = 0.1
	defaultFwdCost = 0.5
)

// Selector computes best responses. ForwardCost is the fixed cost of handing
// a task off; FinderFee is the share of the reward the forwarder keeps.
type Selector struct {
	ForwardCost float64
	FinderFee   float64
}

// NewSelector returns a selector with the default forwarding economics.
func NewSelector() Selector {
	return Selector{ForwardCost: defaultFwdCost, FinderFee: defaultFee}
}

// Response is the chosen strategy and the payoffs that led to it.
type Response struct {
	Strategy  Strategy             `json:"strategy"`
	Payoff    float64              `json:"payoff"`
	Target    string               `json:"target,omitempty"`
	Utilities map[Strategy]float64 `json:"-"`
}

// BestResponse returns the strategy with the highest expected utility for
// self given the peers' snapshots. Ties resolve to process, then forward.
func (s Selector) BestResponse(self agent.State, task agent.Task, peers []agent.State, now time.Time) Response {
	fwd, target := s.ForwardUtility(self, task, peers)
	utilities := map[Strategy]float64{
		StrategyProcess: ProcessUtility(self, task, now),
		StrategyForward: fwd,
		StrategyReject:  0,
	}

	best := strategies[0]
	for _, st := range strategies[1:] {
		if utilities[st] > utilities[best] {
			best = st
		}
	}

	resp := Response{Strategy: best, Payoff: utilities[best], Utilities: utilities}
	if best == StrategyForward {
		resp.Target = target
	}
	return resp
}

// SuccessProbability discounts the success rate by current load.
func SuccessProbability(s agent.State) float64 {
	return s.SuccessRate * (1 - successDerate*s.Utilization())
}

// ProcessUtility is the expected payoff of processing locally, or -Inf when
// the agent lacks capacity.
func ProcessUtility(self agent.State, task agent.Task, now time.Time) float64 {
	if !self.CanProcess(task.CPURequired, task.MemRequired) {
		return math.Inf(-1)
	}
	reward := task.Reward * float64(task.Priority) / 10
	cost := self.ProcessingCost * self.AvgProcessingTime

	var penalty float64
	if remaining, ok := task.TimeRemaining(now); ok && remaining < self.AvgProcessingTime {
		penalty = deadlineFactor * (self.AvgProcessingTime - remaining)
	}
	return reward*SuccessProbability(self) - cost - penalty
}

// ForwardUtility is the best finder's-fee payoff over peers able to take the
// task, with the chosen peer id. It is -Inf when no peer qualifies.
func (s Selector) ForwardUtility(self agent.State, task agent.Task, peers []agent.State) (float64, string) {
	best, target := math.Inf(-1), ""
	fee := s.FinderFee * task.Reward
	for _, p := range peers {
		if p.ID == self.ID || !p.CanProcess(task.CPURequired, task.MemRequired) {
			continue
		}
		if u := fee*SuccessProbability(p) - s.ForwardCost; u > best {
			best, target = u, p.ID
		}
	}
	return best, target
}
