package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	agotel "github.com/Strob0t/agentgate/internal/adapter/otel"
	"github.com/Strob0t/agentgate/internal/admission"
	"github.com/Strob0t/agentgate/internal/domain/agent"
	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/event"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/logger"
	"github.com/Strob0t/agentgate/internal/port/broadcast"
	"github.com/Strob0t/agentgate/internal/port/database"
	"github.com/Strob0t/agentgate/internal/port/messagequeue"
	"github.com/Strob0t/agentgate/internal/port/metrics"
	"github.com/Strob0t/agentgate/internal/port/processor"
	"github.com/Strob0t/agentgate/internal/resilience"
)

const statsInterval = 5 * time.Second

// AdmissionConfig configures the hosting loop around the engine.
type AdmissionConfig struct {
	AgentID        string
	QueueMaxSize   int
	QueueMaxWait   time.Duration
	EnqueueTimeout time.Duration
	DequeueTimeout time.Duration
	Workers        int

	// BaselineSuccessRate anchors the rolling success rate published for
	// the own agent.
	BaselineSuccessRate float64
}

// AdmissionService feeds work items through the admission queue into the
// decision engine and carries out each decision.
type AdmissionService struct {
	cfg    AdmissionConfig
	engine *DecisionEngine
	queue  *admission.Queue
	rates  *RateTracker
	proc   processor.Processor

	mq      messagequeue.Queue
	breaker *resilience.Breaker
	store   database.Store
	metrics metrics.Recorder
	hub     broadcast.Broadcaster

	now func() time.Time
}

// NewAdmissionService creates the service and its admission queue.
func NewAdmissionService(cfg AdmissionConfig, engine *DecisionEngine, rates *RateTracker, proc processor.Processor) *AdmissionService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = time.Second
	}
	if cfg.BaselineSuccessRate <= 0 || cfg.BaselineSuccessRate > 1 {
		cfg.BaselineSuccessRate = agent.DefaultState("").SuccessRate
	}
	s := &AdmissionService{
		cfg:     cfg,
		engine:  engine,
		rates:   rates,
		proc:    proc,
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	s.queue = admission.New(admission.Config{
		MaxSize:        cfg.QueueMaxSize,
		MaxWait:        cfg.QueueMaxWait,
		OnDeadlineMiss: s.HandleDeadlineMiss,
	})
	return s
}

// SetQueue attaches the message queue for ingestion and notifications.
func (s *AdmissionService) SetQueue(q messagequeue.Queue) { s.mq = q }

// SetBreaker guards forward publications with a circuit breaker.
func (s *AdmissionService) SetBreaker(b *resilience.Breaker) { s.breaker = b }

// SetStore attaches the audit log.
func (s *AdmissionService) SetStore(st database.Store) { s.store = st }

// SetMetrics attaches the metrics recorder.
func (s *AdmissionService) SetMetrics(r metrics.Recorder) { s.metrics = r }

// SetBroadcaster attaches the live dashboard feed.
func (s *AdmissionService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// Queue returns the admission queue.
func (s *AdmissionService) Queue() *admission.Queue { return s.queue }

// Engine returns the decision engine.
func (s *AdmissionService) Engine() *DecisionEngine { return s.engine }

// Submit enqueues item, waiting up to the enqueue timeout for space. A
// dropped item is announced on events.rejected.
func (s *AdmissionService) Submit(ctx context.Context, item event.WorkItem) bool {
	if s.queue.Enqueue(ctx, item, s.cfg.EnqueueTimeout) {
		return true
	}
	prio := item.ResolvedPriority()
	s.metrics.RecordQueueDrop(ctx, prio.String())
	s.publish(ctx, messagequeue.SubjectEventRejected, messagequeue.RejectedPayload{
		EventID:    item.ID,
		EventType:  item.Type,
		AgentID:    s.cfg.AgentID,
		Reason:     "queue_full",
		Confidence: 1,
		RejectedAt: s.now(),
	})
	return false
}

// Decide runs the engine on item without queueing or acting on the result.
// The decision is still recorded.
func (s *AdmissionService) Decide(ctx context.Context, item event.WorkItem) decision.ProcessingDecision {
	ctx = logger.WithEventID(ctx, item.ID)
	ctx, span := agotel.StartDecisionSpan(ctx, item.ID, item.Type)
	defer span.End()

	d := s.engine.Decide(ctx, item)
	span.SetAttributes(
		attribute.String("decision.action", string(d.Action)),
		attribute.String("decision.reason", string(d.Reason)),
	)
	s.record(ctx, &d)
	return d
}

// HandleIncoming is the messagequeue.Handler for events.incoming and the
// agent's own forward subject.
func (s *AdmissionService) HandleIncoming(ctx context.Context, subject string, data []byte) error {
	var p messagequeue.ForwardPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal work item: %w", err)
	}
	item, err := WorkItemFromPayload(&p.WorkItemPayload)
	if err != nil {
		return err
	}
	if p.FromAgent != "" {
		item.FromAgent, item.Hops = p.FromAgent, max(p.Hops, 1)
		slog.DebugContext(ctx, "forwarded item received",
			"event_id", item.ID, "from_agent", p.FromAgent, "hops", item.Hops, "subject", subject)
	}
	s.Submit(ctx, item)
	return nil
}

// Run subscribes to the ingestion subjects and drains the queue with the
// configured number of workers until ctx is done.
func (s *AdmissionService) Run(ctx context.Context) error {
	if s.mq != nil {
		for _, subject := range []string{messagequeue.SubjectEventIncoming, messagequeue.ForwardSubject(s.cfg.AgentID)} {
			cancel, err := s.mq.Subscribe(ctx, subject, s.HandleIncoming)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			defer cancel()
		}
	}

	var wg sync.WaitGroup
	if s.hub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.streamStats(ctx)
		}()
	}
	for i := range s.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(ctx, i)
		}()
	}
	slog.Info("admission workers started", "workers", s.cfg.Workers)
	wg.Wait()
	return nil
}

func (s *AdmissionService) work(ctx context.Context, worker int) {
	for {
		ev, ok := s.queue.Dequeue(ctx, s.cfg.DequeueTimeout)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		s.Handle(ctx, ev)
		slog.Debug("work item handled", "worker", worker, "event_id", ev.ID)
	}
}

// streamStats pushes queue statistics to dashboard clients until ctx is done.
func (s *AdmissionService) streamStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.BroadcastEvent(ctx, broadcast.EventQueueStats, s.queue.Stats())
		}
	}
}

// Handle decides a dequeued item and carries the decision out.
func (s *AdmissionService) Handle(ctx context.Context, ev *event.QueuedEvent) decision.ProcessingDecision {
	item := ev.WorkItem()
	ctx = logger.WithEventID(ctx, item.ID)
	ctx, span := agotel.StartDecisionSpan(ctx, item.ID, item.Type)
	defer span.End()

	d := s.engine.Decide(ctx, item)
	span.SetAttributes(
		attribute.String("decision.action", string(d.Action)),
		attribute.String("decision.reason", string(d.Reason)),
	)
	s.record(ctx, &d)

	switch d.Action {
	case decision.ActionProcess:
		s.process(ctx, item)
	case decision.ActionForward:
		s.forward(ctx, item, &d)
	case decision.ActionReject:
		s.publish(ctx, messagequeue.SubjectEventRejected, messagequeue.RejectedPayload{
			EventID:    d.EventID,
			EventType:  d.EventType,
			AgentID:    s.cfg.AgentID,
			Reason:     string(d.Reason),
			Confidence: d.Confidence,
			RejectedAt: d.CreatedAt,
		})
	}
	return d
}

func (s *AdmissionService) process(ctx context.Context, item event.WorkItem) {
	start := s.now()
	err := s.proc.Process(ctx, item)
	elapsed := s.now().Sub(start)
	s.metrics.RecordProcessing(ctx, item.Type, elapsed, err == nil)
	s.rates.RecordOutcome(err == nil)

	rate := s.rates.SuccessRate(s.cfg.BaselineSuccessRate)
	update := agent.StateUpdate{SuccessRate: &rate}
	if err != nil {
		slog.ErrorContext(ctx, "processing failed", "event_id", item.ID, "error", err, "success_rate", rate)
	} else {
		s.rates.RecordProcessing(elapsed)
		avg := s.rates.AvgProcessingTime().Seconds()
		update.AvgProcessingTime = &avg
	}
	if _, err := s.engine.Market().UpdateState(s.cfg.AgentID, update); err != nil {
		slog.WarnContext(ctx, "update own state failed", "error", err)
	}
}

func (s *AdmissionService) forward(ctx context.Context, item event.WorkItem, d *decision.ProcessingDecision) {
	if s.mq == nil {
		slog.WarnContext(ctx, "forward decided without transport", "event_id", item.ID, "target", d.ForwardTarget)
		return
	}
	payload := messagequeue.ForwardPayload{
		WorkItemPayload: PayloadFromWorkItem(&item),
		FromAgent:       s.cfg.AgentID,
		Hops:            item.Hops + 1,
		BidUtility:      d.BidUtility,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal forward payload", "error", err)
		return
	}
	_, span := agotel.StartForwardSpan(ctx, item.ID, d.ForwardTarget)
	defer span.End()

	subject := messagequeue.ForwardSubject(d.ForwardTarget)
	send := func() error { return s.mq.Publish(ctx, subject, data) }
	if s.breaker != nil {
		err = s.breaker.Execute(send)
	} else {
		err = send()
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "forward failed", "event_id", item.ID, "target", d.ForwardTarget, "error", err)
	}
}

// HandleDeadlineMiss announces an item that left the queue after its deadline.
func (s *AdmissionService) HandleDeadlineMiss(ctx context.Context, ev event.QueuedEvent) {
	s.metrics.RecordDeadlineMiss(ctx, ev.Priority.String())
	s.publish(ctx, messagequeue.SubjectEventDeadlineMissed, messagequeue.DeadlineMissedPayload{
		EventID:    ev.ID,
		EventType:  ev.Type,
		AgentID:    s.cfg.AgentID,
		Priority:   ev.Priority.String(),
		Deadline:   ev.Deadline,
		DequeuedAt: s.now(),
	})
}

// RecordAwards persists closed bidding rounds.
func (s *AdmissionService) RecordAwards(ctx context.Context, awards []market.Award) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordAwards(ctx, awards); err != nil {
		slog.WarnContext(ctx, "record awards failed", "error", err)
	}
}

func (s *AdmissionService) record(ctx context.Context, d *decision.ProcessingDecision) {
	s.metrics.RecordDecision(ctx, d)
	if s.store != nil {
		if err := s.store.RecordDecision(ctx, d); err != nil {
			slog.WarnContext(ctx, "record decision failed", "error", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventDecision, d)
	}
	s.publish(ctx, messagequeue.SubjectDecisionMade, messagequeue.DecisionPayload{
		ID:             d.ID,
		AgentID:        d.AgentID,
		EventID:        d.EventID,
		EventType:      d.EventType,
		Action:         string(d.Action),
		Reason:         string(d.Reason),
		Confidence:     d.Confidence,
		ForwardTarget:  d.ForwardTarget,
		DecisionTimeMS: float64(d.DecisionTime) / float64(time.Millisecond),
		CreatedAt:      d.CreatedAt,
	})
}

func (s *AdmissionService) publish(ctx context.Context, subject string, payload any) {
	if s.mq == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal payload", "subject", subject, "error", err)
		return
	}
	if err := s.mq.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "publish failed", "subject", subject, "error", err)
	}
}

// WorkItemFromPayload converts a wire payload into a work item.
func WorkItemFromPayload(p *messagequeue.WorkItemPayload) (event.WorkItem, error) {
	item := event.WorkItem{
		ID:       p.ID,
		Type:     p.Type,
		Payload:  p.Payload,
		Deadline: p.Deadline,
		Reward:   p.Reward,
	}
	if p.Priority != "" {
		prio, err := event.ParsePriority(p.Priority)
		if err != nil {
			return event.WorkItem{}, err
		}
		item.Priority = &prio
	}
	return item, nil
}

// PayloadFromWorkItem converts a work item into its wire payload.
func PayloadFromWorkItem(item *event.WorkItem) messagequeue.WorkItemPayload {
	p := messagequeue.WorkItemPayload{
		ID:       item.ID,
		Type:     item.Type,
		Payload:  item.Payload,
		Deadline: item.Deadline,
		Reward:   item.Reward,
	}
	if item.Priority != nil {
		p.Priority = item.Priority.String()
	}
	return p
}
