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
	"github.com/Strob0t/agentgate/internal/domain/control"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/domain/queueing"
	"github.com/Strob0t/agentgate/internal/domain/scaling"
	"github.com/Strob0t/agentgate/internal/port/broadcast"
	"github.com/Strob0t/agentgate/internal/port/database"
	"github.com/Strob0t/agentgate/internal/port/messagequeue"
	"github.com/Strob0t/agentgate/internal/port/metrics"
	"github.com/Strob0t/agentgate/internal/port/samples"
)

// ScalerService runs the load controller on a fixed tick and publishes its
// replica recommendations.
type ScalerService struct {
	agentID string
	scaler  *control.AutoScaler
	model   queueing.Model
	source  samples.Source

	rates   *RateTracker
	market  *market.Market
	mq      messagequeue.Queue
	store   database.Store
	metrics metrics.Recorder
	hub     broadcast.Broadcaster

	mu       sync.Mutex
	replicas int
	last     *ScalingStatus
}

// ScalingStatus is the outcome of one controller run.
type ScalingStatus struct {
	Decision scaling.Decision `json:"decision"`
	Advice   queueing.Advice  `json:"advice"`
	Sample   samples.Sample   `json:"sample"`
}

// NewScalerService creates a scaler service starting from the scaler's
// minimum replica count.
func NewScalerService(agentID string, scaler *control.AutoScaler, model queueing.Model, source samples.Source) *ScalerService {
	return &ScalerService{
		agentID:  agentID,
		scaler:   scaler,
		model:    model,
		source:   source,
		metrics:  metrics.Nop{},
		replicas: max(1, scaler.Config().MinReplicas),
	}
}

// SetRateFeed forwards every polled sample into the rate tracker. Only set
// this when the source is remote.
func (s *ScalerService) SetRateFeed(r *RateTracker) { s.rates = r }

// SetMarket lets samples that report CPU or memory usage refresh the own
// agent's market entry.
func (s *ScalerService) SetMarket(m *market.Market) { s.market = m }

// SetQueue attaches the message queue for recommendations.
func (s *ScalerService) SetQueue(q messagequeue.Queue) { s.mq = q }

// SetStore attaches the audit log.
func (s *ScalerService) SetStore(st database.Store) { s.store = st }

// SetMetrics attaches the metrics recorder.
func (s *ScalerService) SetMetrics(r metrics.Recorder) { s.metrics = r }

// SetBroadcaster attaches the live dashboard feed.
func (s *ScalerService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// Scaler returns the underlying controller.
func (s *ScalerService) Scaler() *control.AutoScaler { return s.scaler }

// Replicas returns the replica count the service currently assumes.
func (s *ScalerService) Replicas() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicas
}

// Last returns the most recent controller run, if any.
func (s *ScalerService) Last() (ScalingStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return ScalingStatus{}, false
	}
	return *s.last, true
}

// Tick polls the sample source and runs the controller once. When the
// sample carries no replica count, an actionable recommendation is assumed
// to have been applied.
func (s *ScalerService) Tick(ctx context.Context) (ScalingStatus, error) {
	ctx, span := agotel.StartScalingSpan(ctx, s.agentID)
	defer span.End()

	sample, err := s.source.Sample(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ScalingStatus{}, fmt.Errorf("poll samples: %w", err)
	}
	if s.rates != nil {
		s.rates.SetExternal(sample)
	}
	s.applyUsage(ctx, sample)

	s.mu.Lock()
	if sample.Replicas > 0 {
		s.replicas = sample.Replicas
	}
	replicas := s.replicas
	s.mu.Unlock()

	st := s.run(ctx, sample, replicas)
	span.SetAttributes(
		attribute.String("scaling.action", string(st.Decision.Action)),
		attribute.Int("scaling.target_replicas", st.Decision.TargetReplicas),
	)
	if sample.Replicas == 0 && st.Decision.Actionable() {
		s.mu.Lock()
		s.replicas = st.Decision.TargetReplicas
		s.mu.Unlock()
	}
	return st, nil
}

func (s *ScalerService) applyUsage(ctx context.Context, sample samples.Sample) {
	if s.market == nil || (sample.CPUUsed == nil && sample.MemoryUsed == nil) {
		return
	}
	if _, err := s.market.UpdateState(s.agentID, agent.StateUpdate{
		CPUUsed:    sample.CPUUsed,
		MemoryUsed: sample.MemoryUsed,
	}); err != nil {
		slog.WarnContext(ctx, "apply sampled usage failed", "error", err)
	}
}

// Recommend runs the controller on caller-supplied observations.
func (s *ScalerService) Recommend(ctx context.Context, latency time.Duration, utilization float64, replicas int) ScalingStatus {
	return s.run(ctx, samples.Sample{Latency: latency, Utilization: utilization, Replicas: replicas}, replicas)
}

func (s *ScalerService) run(ctx context.Context, sample samples.Sample, replicas int) ScalingStatus {
	d := s.scaler.Recommend(sample.Latency, sample.Utilization, replicas)
	st := ScalingStatus{Decision: d, Sample: sample}
	if sample.ArrivalRate > 0 && sample.ServiceRate > 0 {
		st.Advice = s.model.RecommendScaling(s.model.Calculate(sample.ArrivalRate, sample.ServiceRate, replicas))
	}

	s.mu.Lock()
	s.last = &st
	s.mu.Unlock()

	slog.InfoContext(ctx, "scaling recommendation",
		"action", string(d.Action),
		"current_replicas", d.CurrentReplicas,
		"target_replicas", d.TargetReplicas,
		"confidence", d.Confidence,
		"reason", d.Reason,
		"advice", st.Advice.Reason,
	)
	s.record(ctx, &st)
	return st
}

func (s *ScalerService) record(ctx context.Context, st *ScalingStatus) {
	d := &st.Decision
	s.metrics.RecordScaling(ctx, d)
	if s.store != nil {
		rec := database.ScalingRecord{AgentID: s.agentID, Decision: *d, Advice: st.Advice.Reason}
		if err := s.store.RecordScaling(ctx, &rec); err != nil {
			slog.WarnContext(ctx, "record scaling failed", "error", err)
		}
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, broadcast.EventScaling, st)
	}
	if s.mq == nil || d.Action == scaling.ActionNoChange {
		return
	}

	data, err := json.Marshal(messagequeue.ScalingPayload{
		AgentID:         s.agentID,
		Action:          string(d.Action),
		CurrentReplicas: d.CurrentReplicas,
		TargetReplicas:  d.TargetReplicas,
		Reason:          d.Reason,
		Confidence:      d.Confidence,
		Advice:          st.Advice.Reason,
		CreatedAt:       d.CreatedAt,
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal scaling payload", "error", err)
		return
	}
	if err := s.mq.Publish(ctx, messagequeue.SubjectScalingRecommend, data); err != nil {
		slog.WarnContext(ctx, "publish scaling recommendation failed", "error", err)
	}
}

// Run ticks every interval until ctx is done. Poll failures are logged and
// the next tick retries.
func (s *ScalerService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.scaler.Config().SampleTime
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("scaler started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				slog.WarnContext(ctx, "scaler tick failed", "error", err)
			}
		}
	}
}

// LocalSource derives samples from the agent's own rate tracker, market
// entry and admission queue. It is used when no Prometheus is configured.
type LocalSource struct {
	selfID  string
	rates   *RateTracker
	market  *market.Market
	queue   *admission.Queue
	workers int
	now     func() time.Time
}

// NewLocalSource creates a sample source over local state for an agent
// running workers processors. queue may be nil.
func NewLocalSource(selfID string, rates *RateTracker, m *market.Market, q *admission.Queue, workers int) *LocalSource {
	return &LocalSource{selfID: selfID, rates: rates, market: m, queue: q, workers: max(1, workers), now: time.Now}
}

// Sample implements samples.Source. Utilization is the larger of the own
// resource usage and the offered load λ/(c·μ), capped at 1.
func (l *LocalSource) Sample(_ context.Context) (samples.Sample, error) {
	lambda, mu := l.rates.Rates()
	sample := samples.Sample{
		ArrivalRate: lambda,
		ServiceRate: mu,
		Latency:     l.rates.AvgProcessingTime(),
		At:          l.now(),
	}
	if l.queue != nil {
		sample.Latency += l.queue.WaitTime()
	}
	if mu > 0 {
		sample.Utilization = min(1, lambda/(float64(l.workers)*mu))
	}
	if self, ok := l.market.Agent(l.selfID); ok {
		sample.Utilization = max(sample.Utilization, self.Utilization())
	}
	return sample, nil
}
