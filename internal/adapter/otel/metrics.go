package otel

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/agentgate/internal/admission"
	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/scaling"
	portmetrics "github.com/Strob0t/agentgate/internal/port/metrics"
)

const meterName = "agentgate"

var _ portmetrics.Recorder = (*Metrics)(nil)

// Metrics holds the agentgate instruments and implements metrics.Recorder.
type Metrics struct {
	meter metric.Meter

	EventsReceived     metric.Int64Counter
	Decisions          metric.Int64Counter
	DecisionDuration   metric.Float64Histogram
	DecisionConfidence metric.Float64Histogram
	ScalingDecisions   metric.Int64Counter
	TargetReplicas     metric.Int64Gauge
	QueueDrops         metric.Int64Counter
	DeadlineMisses     metric.Int64Counter
	Processing         metric.Float64Histogram
	RewardShares       metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(meterName))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err, e error

	m.EventsReceived, e = meter.Int64Counter("agentgate.events.received",
		metric.WithDescription("Work items that reached the decision engine"))
	err = errors.Join(err, e)

	m.Decisions, e = meter.Int64Counter("agentgate.decisions",
		metric.WithDescription("Decisions by action and reason"))
	err = errors.Join(err, e)

	m.DecisionDuration, e = meter.Float64Histogram("agentgate.decision.duration",
		metric.WithDescription("Time spent deciding one item"), metric.WithUnit("s"))
	err = errors.Join(err, e)

	m.DecisionConfidence, e = meter.Float64Histogram("agentgate.decision.confidence",
		metric.WithDescription("Decision confidence"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1))
	err = errors.Join(err, e)

	m.ScalingDecisions, e = meter.Int64Counter("agentgate.scaling.decisions",
		metric.WithDescription("Controller recommendations by action"))
	err = errors.Join(err, e)

	m.TargetReplicas, e = meter.Int64Gauge("agentgate.scaling.target_replicas",
		metric.WithDescription("Most recent recommended replica count"))
	err = errors.Join(err, e)

	m.QueueDrops, e = meter.Int64Counter("agentgate.queue.drops",
		metric.WithDescription("Items dropped because the admission queue was full"))
	err = errors.Join(err, e)

	m.DeadlineMisses, e = meter.Int64Counter("agentgate.queue.deadline_misses",
		metric.WithDescription("Items dequeued after their deadline"))
	err = errors.Join(err, e)

	m.Processing, e = meter.Float64Histogram("agentgate.processing",
		metric.WithDescription("Local processing time"), metric.WithUnit("s"))
	err = errors.Join(err, e)

	m.RewardShares, e = meter.Float64Histogram("agentgate.reward.share",
		metric.WithDescription("Shapley reward shares"))
	err = errors.Join(err, e)

	if err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveQueue registers gauges reporting the admission queue's size and
// utilization on every collection.
func (m *Metrics) ObserveQueue(stats func() admission.Stats) error {
	size, err := m.meter.Int64ObservableGauge("agentgate.queue.size",
		metric.WithDescription("Items waiting in the admission queue"))
	if err != nil {
		return err
	}
	util, err := m.meter.Float64ObservableGauge("agentgate.queue.utilization",
		metric.WithDescription("Admission queue fill ratio"))
	if err != nil {
		return err
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		for p, n := range s.ByPriority {
			o.ObserveInt64(size, int64(n), metric.WithAttributes(attribute.String("priority", p)))
		}
		o.ObserveFloat64(util, s.Utilization)
		return nil
	}, size, util)
	return err
}

// ObserveUtilization registers a gauge reporting the agent's resource
// utilization.
func (m *Metrics) ObserveUtilization(agentID string, utilization func() float64) error {
	g, err := m.meter.Float64ObservableGauge("agentgate.agent.utilization",
		metric.WithDescription("Mean CPU and memory utilization of this agent"))
	if err != nil {
		return err
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(g, utilization(), metric.WithAttributes(attribute.String("agent_id", agentID)))
		return nil
	}, g)
	return err
}

func (m *Metrics) RecordDecision(ctx context.Context, d *decision.ProcessingDecision) {
	m.EventsReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("priority", d.Priority.String())))
	m.Decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(d.Action)),
		attribute.String("reason", string(d.Reason)),
	))
	m.DecisionDuration.Record(ctx, d.DecisionTime.Seconds())
	m.DecisionConfidence.Record(ctx, d.Confidence, metric.WithAttributes(attribute.String("action", string(d.Action))))
}

func (m *Metrics) RecordScaling(ctx context.Context, d *scaling.Decision) {
	m.ScalingDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(d.Action))))
	m.TargetReplicas.Record(ctx, int64(d.TargetReplicas))
}

func (m *Metrics) RecordQueueDrop(ctx context.Context, priority string) {
	m.QueueDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("priority", priority)))
}

func (m *Metrics) RecordDeadlineMiss(ctx context.Context, priority string) {
	m.DeadlineMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("priority", priority)))
}

func (m *Metrics) RecordProcessing(ctx context.Context, eventType string, d time.Duration, ok bool) {
	m.Processing.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) RecordReward(ctx context.Context, agentID string, share float64) {
	m.RewardShares.Record(ctx, share, metric.WithAttributes(attribute.String("agent_id", agentID)))
}
