// Package admission provides the bounded priority queue that sits in front
// of the decision engine and applies backpressure when full.
package admission

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/agentgate/internal/domain/event"
)

// Defaults applied when Config fields are zero.
const (
	DefaultMaxSize        = 10000
	DefaultMaxWait        = 30 * time.Second
	DefaultEnqueueTimeout = 5 * time.Second
)

// DeadlineMissFunc observes an item dequeued after its deadline.
type DeadlineMissFunc func(ctx context.Context, ev event.QueuedEvent)

// Config configures a Queue.
type Config struct {
	MaxSize int
	// MaxWait becomes the deadline of items enqueued without one.
	MaxWait time.Duration
	// OnDeadlineMiss runs in its own goroutine for every late item.
	OnDeadlineMiss DeadlineMissFunc
}

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	Size           int            `json:"size"`
	MaxSize        int            `json:"max_size"`
	Enqueued       uint64         `json:"enqueued"`
	Dequeued       uint64         `json:"dequeued"`
	Dropped        uint64         `json:"dropped"`
	DeadlineMisses uint64         `json:"deadline_misses"`
	Utilization    float64        `json:"utilization"`
	ByPriority     map[string]int `json:"by_priority"`
}

// Queue is a bounded min-heap ordered by priority, arrival and insertion.
// Enqueue blocks while the queue is full; Dequeue blocks while it is empty.
// Both waits are bounded by a timeout and the caller's context.
type Queue struct {
	cfg Config

	// slots counts free capacity; items counts queued entries.
	slots *semaphore.Weighted
	items chan struct{}

	mu             sync.Mutex
	heap           eventHeap
	seq            uint64
	enqueued       uint64
	dequeued       uint64
	dropped        uint64
	deadlineMisses uint64

	now func() time.Time
}

// New creates a queue, filling zero config fields with defaults.
func New(cfg Config) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	return &Queue{
		cfg:   cfg,
		slots: semaphore.NewWeighted(int64(cfg.MaxSize)),
		items: make(chan struct{}, cfg.MaxSize),
		now:   time.Now,
	}
}

// Enqueue adds item, waiting up to timeout for space. A non-positive timeout
// fails immediately when full. It returns false and counts a drop when no
// space became available.
func (q *Queue) Enqueue(ctx context.Context, item event.WorkItem, timeout time.Duration) bool {
	if !q.acquire(ctx, timeout) {
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		slog.Warn("queue event dropped",
			"event_id", item.ID,
			"event_type", item.Type,
			"reason", "queue_full_timeout",
		)
		return false
	}

	arrival := q.now()
	ev := &event.QueuedEvent{
		Priority:  item.ResolvedPriority(),
		Arrival:   arrival,
		ID:        item.ID,
		Type:      item.Type,
		Payload:   item.Payload,
		Deadline:  arrival.Add(q.cfg.MaxWait),
		Reward:    item.Reward,
		FromAgent: item.FromAgent,
		Hops:      item.Hops,
	}
	if item.Deadline != nil {
		ev.Deadline = *item.Deadline
	}

	q.mu.Lock()
	q.seq++
	ev.SetSequence(q.seq)
	heap.Push(&q.heap, ev)
	q.enqueued++
	q.mu.Unlock()

	q.items <- struct{}{}
	return true
}

func (q *Queue) acquire(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		return q.slots.TryAcquire(1)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return q.slots.Acquire(ctx, 1) == nil
}

// Dequeue removes the highest-priority item, waiting up to timeout for one.
// A non-positive timeout waits until ctx is done. Items past their deadline
// are still returned; the deadline-miss callback observes them.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*event.QueuedEvent, bool) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-q.items:
	case <-expired:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}

	q.mu.Lock()
	ev := heap.Pop(&q.heap).(*event.QueuedEvent)
	q.dequeued++
	late := ev.HasDeadline() && q.now().After(ev.Deadline)
	if late {
		q.deadlineMisses++
	}
	q.mu.Unlock()
	q.slots.Release(1)

	if late {
		slog.Warn("queue deadline missed",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"priority", ev.Priority.String(),
			"late_ms", q.now().Sub(ev.Deadline).Milliseconds(),
		)
		if q.cfg.OnDeadlineMiss != nil {
			go q.cfg.OnDeadlineMiss(context.WithoutCancel(ctx), *ev)
		}
	}
	return ev, true
}

// Size returns the number of queued items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// SizeByPriority returns queued item counts keyed by priority.
func (q *Queue) SizeByPriority() map[event.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[event.Priority]int, len(event.Priorities))
	for _, p := range event.Priorities {
		out[p] = 0
	}
	for _, ev := range q.heap {
		out[ev.Priority]++
	}
	return out
}

// WaitTime returns the mean age of the queued items.
func (q *Queue) WaitTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return 0
	}
	now := q.now()
	var total time.Duration
	for _, ev := range q.heap {
		total += now.Sub(ev.Arrival)
	}
	return total / time.Duration(len(q.heap))
}

// Stats returns a snapshot of size and counters.
func (q *Queue) Stats() Stats {
	byPriority := q.SizeByPriority()

	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Size:           len(q.heap),
		MaxSize:        q.cfg.MaxSize,
		Enqueued:       q.enqueued,
		Dequeued:       q.dequeued,
		Dropped:        q.dropped,
		DeadlineMisses: q.deadlineMisses,
		Utilization:    float64(len(q.heap)) / float64(q.cfg.MaxSize),
		ByPriority:     make(map[string]int, len(byPriority)),
	}
	for p, n := range byPriority {
		s.ByPriority[p.String()] = n
	}
	return s
}

// eventHeap implements heap.Interface over queued events.
type eventHeap []*event.QueuedEvent

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*event.QueuedEvent)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}
