package service

import (
	"context"
	"sync"
	"time"

	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/domain/scaling"
	"github.com/Strob0t/agentgate/internal/port/broadcast"
	"github.com/Strob0t/agentgate/internal/port/cache"
	"github.com/Strob0t/agentgate/internal/port/database"
	"github.com/Strob0t/agentgate/internal/port/messagequeue"
	"github.com/Strob0t/agentgate/internal/port/metrics"
)

// Ensure mock types implement their interfaces at compile time.
var (
	_ messagequeue.Queue    = (*mockQueue)(nil)
	_ cache.Cache           = (*mockCache)(nil)
	_ database.Store        = (*mockStore)(nil)
	_ broadcast.Broadcaster = (*mockBroadcaster)(nil)
	_ metrics.Recorder      = (*mockRecorder)(nil)
)

type published struct {
	subject string
	data    []byte
}

type mockQueue struct {
	mu         sync.Mutex
	published  []published
	handlers   map[string]messagequeue.Handler
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, published{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.published))
	for i, p := range q.published {
		out[i] = p.subject
	}
	return out
}

func (q *mockQueue) handler(subject string) messagequeue.Handler {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handlers[subject]
}

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type mockStore struct {
	mu        sync.Mutex
	decisions []decision.ProcessingDecision
	scaling   []database.ScalingRecord
	awards    []market.Award
	splits    []database.RewardSplit
}

func (s *mockStore) RecordDecision(_ context.Context, d *decision.ProcessingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, *d)
	return nil
}

func (s *mockStore) ListDecisions(_ context.Context, f decision.Filter) ([]decision.ProcessingDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []decision.ProcessingDecision
	for i := range s.decisions {
		if f.Matches(&s.decisions[i]) {
			out = append(out, s.decisions[i])
		}
	}
	return out, nil
}

func (s *mockStore) RecordScaling(_ context.Context, r *database.ScalingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scaling = append(s.scaling, *r)
	return nil
}

func (s *mockStore) ListScaling(_ context.Context, _ int) ([]database.ScalingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.ScalingRecord(nil), s.scaling...), nil
}

func (s *mockStore) RecordAwards(_ context.Context, awards []market.Award) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awards = append(s.awards, awards...)
	return nil
}

func (s *mockStore) RecordRewardSplit(_ context.Context, r *database.RewardSplit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splits = append(s.splits, *r)
	return nil
}

func (s *mockStore) decisionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions)
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *mockBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type mockRecorder struct {
	metrics.Nop
	mu        sync.Mutex
	decisions int
	scalings  int
	drops     int
	misses    int
	processed int
	rewards   map[string]float64
}

func (r *mockRecorder) RecordDecision(context.Context, *decision.ProcessingDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions++
}

func (r *mockRecorder) RecordScaling(context.Context, *scaling.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scalings++
}

func (r *mockRecorder) RecordQueueDrop(context.Context, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops++
}

func (r *mockRecorder) RecordDeadlineMiss(context.Context, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses++
}

func (r *mockRecorder) RecordProcessing(context.Context, string, time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed++
}

func (r *mockRecorder) RecordReward(_ context.Context, agentID string, share float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rewards == nil {
		r.rewards = make(map[string]float64)
	}
	r.rewards[agentID] = share
}

func (r *mockRecorder) snapshot() (decisions, scalings, drops, misses, processed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions, r.scalings, r.drops, r.misses, r.processed
}
