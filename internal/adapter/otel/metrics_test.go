package otel

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Strob0t/agentgate/internal/admission"
	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/event"
	"github.com/Strob0t/agentgate/internal/domain/scaling"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		t.Fatalf("newMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumInt(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data is %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Recorder(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	d := &decision.ProcessingDecision{
		Action:       decision.ActionProcess,
		Reason:       decision.ReasonGoodCapacity,
		Confidence:   0.9,
		Priority:     event.PriorityHigh,
		DecisionTime: 2 * time.Millisecond,
	}
	m.RecordDecision(ctx, d)
	m.RecordDecision(ctx, d)
	m.RecordScaling(ctx, &scaling.Decision{Action: scaling.ActionScaleUp, TargetReplicas: 4})
	m.RecordQueueDrop(ctx, "LOW")
	m.RecordDeadlineMiss(ctx, "HIGH")
	m.RecordProcessing(ctx, "task", 150*time.Millisecond, true)
	m.RecordReward(ctx, "a1", 12.5)

	got := collect(t, reader)
	counters := map[string]int64{
		"agentgate.events.received":       2,
		"agentgate.decisions":             2,
		"agentgate.scaling.decisions":     1,
		"agentgate.queue.drops":           1,
		"agentgate.queue.deadline_misses": 1,
	}
	for name, want := range counters {
		md, ok := got[name]
		if !ok {
			t.Errorf("missing metric %s", name)
			continue
		}
		if v := sumInt(t, md); v != want {
			t.Errorf("%s = %d, want %d", name, v, want)
		}
	}

	gauge, ok := got["agentgate.scaling.target_replicas"].Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 4 {
		t.Errorf("target_replicas = %+v, want 4", got["agentgate.scaling.target_replicas"].Data)
	}

	hist, ok := got["agentgate.processing"].Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("processing = %+v", got["agentgate.processing"].Data)
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("processing count = %d, want 1", hist.DataPoints[0].Count)
	}
	if _, ok := got["agentgate.reward.share"]; !ok {
		t.Error("missing agentgate.reward.share")
	}
}

func TestMetrics_ObservableGauges(t *testing.T) {
	m, reader := newTestMetrics(t)

	err := m.ObserveQueue(func() admission.Stats {
		return admission.Stats{Utilization: 0.25, ByPriority: map[string]int{"HIGH": 2, "LOW": 1}}
	})
	if err != nil {
		t.Fatalf("ObserveQueue: %v", err)
	}
	if err := m.ObserveUtilization("a1", func() float64 { return 0.6 }); err != nil {
		t.Fatalf("ObserveUtilization: %v", err)
	}

	got := collect(t, reader)

	size, ok := got["agentgate.queue.size"].Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("queue.size = %T", got["agentgate.queue.size"].Data)
	}
	var total int64
	for _, dp := range size.DataPoints {
		total += dp.Value
	}
	if total != 3 || len(size.DataPoints) != 2 {
		t.Errorf("queue.size points=%d total=%d, want 2 points totalling 3", len(size.DataPoints), total)
	}

	util, ok := got["agentgate.agent.utilization"].Data.(metricdata.Gauge[float64])
	if !ok || len(util.DataPoints) != 1 || util.DataPoints[0].Value != 0.6 {
		t.Errorf("agent.utilization = %+v, want 0.6", got["agentgate.agent.utilization"].Data)
	}
}
