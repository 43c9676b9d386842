// Package fairshare splits a shared reward among cooperating agents by
// Shapley value.
//
// The computation enumerates 2^(n-1) coalitions per agent, so callers must
// bucket large fleets before calling Calculate. MaxAgents guards against
// accidental blow-up.
package fairshare

import (
	"fmt"
	"math/bits"

	"github.com/Strob0t/agentgate/internal/domain"
	"github.com/Strob0t/agentgate/internal/domain/agent"
)

// DefaultMaxAgents is the agent ceiling used when a Calculator has none.
const DefaultMaxAgents = 16

// ContributionFunc returns the value a coalition of agent ids produces.
type ContributionFunc func(coalition []string) float64

// Calculator computes Shapley splits.
type Calculator struct {
	MaxAgents int
}

// NewCalculator creates a calculator refusing more than maxAgents agents.
func NewCalculator(maxAgents int) *Calculator {
	if maxAgents <= 0 {
		maxAgents = DefaultMaxAgents
	}
	return &Calculator{MaxAgents: maxAgents}
}

// DefaultContribution values a coalition by the summed available capacity of
// its members weighted by success rate.
func DefaultContribution(agents []agent.State) ContributionFunc {
	byID := make(map[string]agent.State, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	return func(coalition []string) float64 {
		var total float64
		for _, id := range coalition {
			if a, ok := byID[id]; ok {
				total += (a.CPUAvailable() + a.MemoryAvailable()) / 2 * a.SuccessRate
			}
		}
		return total
	}
}

// Calculate splits totalReward among agents. A nil fn selects
// DefaultContribution. The returned shares sum to totalReward unless every
// raw Shapley value sums to <= 0, in which case all shares are zero.
func (c *Calculator) Calculate(agents []agent.State, totalReward float64, fn ContributionFunc) (map[string]float64, error) {
	n := len(agents)
	switch {
	case n == 0:
		return map[string]float64{}, nil
	case n == 1:
		return map[string]float64{agents[0].ID: totalReward}, nil
	case n > c.maxAgents():
		return nil, fmt.Errorf("shapley over %d agents (max %d): %w", n, c.maxAgents(), domain.ErrTooManyAgents)
	}
	if fn == nil {
		fn = DefaultContribution(agents)
	}

	ids := make([]string, n)
	seen := make(map[string]struct{}, n)
	for i, a := range agents {
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("duplicate agent %q: %w", a.ID, domain.ErrValidation)
		}
		seen[a.ID] = struct{}{}
		ids[i] = a.ID
	}
	weights := shapleyWeights(n)

	raw := make([]float64, n)
	others := make([]string, 0, n-1)
	coalition := make([]string, 0, n)
	for i := range ids {
		others = others[:0]
		for j, id := range ids {
			if j != i {
				others = append(others, id)
			}
		}

		// Each mask over others is one coalition excluding agent i.
		for mask := uint64(0); mask < 1<<(n-1); mask++ {
			coalition = coalition[:0]
			for j, id := range others {
				if mask&(1<<j) != 0 {
					coalition = append(coalition, id)
				}
			}
			without := fn(coalition)
			with := fn(append(coalition, ids[i]))
			raw[i] += weights[bits.OnesCount64(mask)] * (with - without)
		}
	}

	var sum float64
	for _, v := range raw {
		sum += v
	}
	out := make(map[string]float64, n)
	for i, id := range ids {
		out[id] = 0
		if sum > 0 {
			out[id] = raw[i] / sum * totalReward
		}
	}
	return out, nil
}

func (c *Calculator) maxAgents() int {
	if c == nil || c.MaxAgents <= 0 {
		return DefaultMaxAgents
	}
	return c.MaxAgents
}

// shapleyWeights returns k!(n-k-1)!/n! for k in [0, n-1], built by ratios
// so no factorial is materialized.
func shapleyWeights(n int) []float64 {
	w := make([]float64, n)
	// k=0: (n-1)!/n! = 1/n
	w[0] = 1 / float64(n)
	for k := 1; k < n; k++ {
		// w[k]/w[k-1] = k / (n-k)
		w[k] = w[k-1] * float64(k) / float64(n-k)
	}
	return w
}
