package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/agentgate/internal/domain"
	"github.com/Strob0t/agentgate/internal/domain/agent"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/port/cache"
	"github.com/Strob0t/agentgate/internal/port/messagequeue"
)

const peerKeyPrefix = "peer."

// PeerDirectory tracks the capacity snapshots peers announce and keeps the
// market's registry in step with them. A peer whose snapshot is older than
// the TTL is stale: it is dropped from the market and never offered as a
// forward target.
type PeerDirectory struct {
	selfID string
	market *market.Market
	cache  cache.Cache
	queue  messagequeue.Queue
	ttl    time.Duration

	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time
}

// NewPeerDirectory creates a directory. A zero ttl keeps peers forever.
// c may be nil, in which case freshness is tracked in memory only.
func NewPeerDirectory(selfID string, m *market.Market, c cache.Cache, ttl time.Duration) *PeerDirectory {
	return &PeerDirectory{
		selfID: selfID,
		market: m,
		cache:  c,
		ttl:    ttl,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// SetQueue attaches the message queue used to announce this agent's state.
func (d *PeerDirectory) SetQueue(q messagequeue.Queue) {
	d.queue = q
}

// Observe registers or refreshes a peer snapshot.
func (d *PeerDirectory) Observe(ctx context.Context, s *agent.State) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID == d.selfID {
		return fmt.Errorf("peer snapshot carries own id %q: %w", s.ID, domain.ErrValidation)
	}
	d.market.Register(*s)

	d.mu.Lock()
	d.seen[s.ID] = d.now()
	d.mu.Unlock()

	if d.cache != nil {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal peer %s: %w", s.ID, err)
		}
		if err := d.cache.Set(ctx, peerKeyPrefix+s.ID, data, d.ttl); err != nil {
			slog.Warn("peer cache write failed", "peer_id", s.ID, "error", err)
		}
	}
	return nil
}

// Forget removes a peer immediately.
func (d *PeerDirectory) Forget(ctx context.Context, id string) {
	d.market.Unregister(id)
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
	if d.cache != nil {
		if err := d.cache.Delete(ctx, peerKeyPrefix+id); err != nil {
			slog.Warn("peer cache delete failed", "peer_id", id, "error", err)
		}
	}
}

// Peers returns the fresh peer snapshots, excluding this agent. Stale peers
// are unregistered from the market as a side effect.
func (d *PeerDirectory) Peers(ctx context.Context) []agent.State {
	all := d.market.Agents()
	out := make([]agent.State, 0, len(all))
	for i := range all {
		if all[i].ID == d.selfID {
			continue
		}
		if !d.fresh(ctx, all[i].ID) {
			slog.Debug("peer expired", "peer_id", all[i].ID)
			d.Forget(ctx, all[i].ID)
			continue
		}
		out = append(out, all[i])
	}
	return out
}

func (d *PeerDirectory) fresh(ctx context.Context, id string) bool {
	if d.ttl <= 0 {
		return true
	}
	d.mu.Lock()
	last, ok := d.seen[id]
	d.mu.Unlock()
	if !ok || d.now().Sub(last) >= d.ttl {
		return false
	}
	if d.cache == nil {
		return true
	}
	_, found, err := d.cache.Get(ctx, peerKeyPrefix+id)
	if err != nil {
		slog.Warn("peer cache read failed", "peer_id", id, "error", err)
		return true
	}
	return found
}

// HandleState is the messagequeue.Handler for agents.state messages.
// Snapshots of this agent are ignored.
func (d *PeerDirectory) HandleState(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.AgentStatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal agent state: %w", err)
	}
	if p.AgentID == d.selfID {
		return nil
	}
	s := stateFromPayload(&p)
	return d.Observe(ctx, &s)
}

// AnnounceSelf publishes this agent's current snapshot to its peers.
func (d *PeerDirectory) AnnounceSelf(ctx context.Context) error {
	if d.queue == nil {
		return nil
	}
	self, ok := d.market.Agent(d.selfID)
	if !ok {
		return fmt.Errorf("self agent %q not registered", d.selfID)
	}
	data, err := json.Marshal(stateToPayload(&self, d.now()))
	if err != nil {
		return fmt.Errorf("marshal agent state: %w", err)
	}
	return d.queue.Publish(ctx, messagequeue.SubjectAgentState, data)
}

// Run subscribes to peer announcements and heartbeats this agent's state
// every interval until ctx is done.
func (d *PeerDirectory) Run(ctx context.Context, interval time.Duration) error {
	if d.queue == nil {
		<-ctx.Done()
		return nil
	}
	cancel, err := d.queue.Subscribe(ctx, messagequeue.SubjectAgentState, d.HandleState)
	if err != nil {
		return fmt.Errorf("subscribe agent state: %w", err)
	}
	defer cancel()

	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := d.AnnounceSelf(ctx); err != nil {
			slog.Warn("announce self failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func stateFromPayload(p *messagequeue.AgentStatePayload) agent.State {
	return agent.State{
		ID:                p.AgentID,
		CPUCapacity:       p.CPUCapacity,
		MemoryCapacity:    p.MemoryCapacity,
		CPUUsed:           p.CPUUsed,
		MemoryUsed:        p.MemoryUsed,
		AvgProcessingTime: p.AvgProcessingTime,
		SuccessRate:       p.SuccessRate,
		ProcessingCost:    p.ProcessingCost,
		Specializations:   p.Specializations,
	}
}

func stateToPayload(s *agent.State, at time.Time) messagequeue.AgentStatePayload {
	return messagequeue.AgentStatePayload{
		AgentID:           s.ID,
		CPUCapacity:       s.CPUCapacity,
		MemoryCapacity:    s.MemoryCapacity,
		CPUUsed:           s.CPUUsed,
		MemoryUsed:        s.MemoryUsed,
		AvgProcessingTime: s.AvgProcessingTime,
		SuccessRate:       s.SuccessRate,
		ProcessingCost:    s.ProcessingCost,
		Specializations:   s.Specializations,
		SentAt:            at,
	}
}
