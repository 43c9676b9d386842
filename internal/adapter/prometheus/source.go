// Package prometheus implements samples.Source with PromQL instant queries.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/Strob0t/agentgate/internal/config"
	"github.com/Strob0t/agentgate/internal/port/samples"
	"github.com/Strob0t/agentgate/internal/resilience"
)

var _ samples.Source = (*Source)(nil)

// ErrNoData is returned when a query yields an empty result.
var ErrNoData = errors.New("prometheus: no data")

// Source polls fleet load from a Prometheus server.
type Source struct {
	api     v1.API
	cfg     config.Prometheus
	breaker *resilience.Breaker
	now     func() time.Time
}

// NewSource creates a source for the server at cfg.URL.
func NewSource(cfg config.Prometheus, breaker *resilience.Breaker) (*Source, error) {
	if cfg.URL == "" {
		return nil, errors.New("prometheus: url is required")
	}
	client, err := api.NewClient(api.Config{Address: cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	return &Source{api: v1.NewAPI(client), cfg: cfg, breaker: breaker, now: time.Now}, nil
}

// Sample runs the configured queries. Arrival and service rates are
// required; latency, utilization and replicas fall back to zero when their
// query is unset or returns nothing, CPU and memory to nil.
func (s *Source) Sample(ctx context.Context) (samples.Sample, error) {
	at := s.now()
	out := samples.Sample{At: at}

	lambda, err := s.scalar(ctx, s.cfg.ArrivalRateQuery, at)
	if err != nil {
		return samples.Sample{}, fmt.Errorf("arrival rate: %w", err)
	}
	mu, err := s.scalar(ctx, s.cfg.ServiceRateQuery, at)
	if err != nil {
		return samples.Sample{}, fmt.Errorf("service rate: %w", err)
	}
	out.ArrivalRate, out.ServiceRate = lambda, mu

	if v, ok := s.optional(ctx, "latency", s.cfg.LatencyQuery, at); ok {
		out.Latency = time.Duration(v * float64(time.Second))
	}
	if v, ok := s.optional(ctx, "utilization", s.cfg.UtilizationQuery, at); ok {
		out.Utilization = v
	}
	if v, ok := s.optional(ctx, "replicas", s.cfg.ReplicasQuery, at); ok {
		out.Replicas = int(math.Round(v))
	}
	if v, ok := s.optional(ctx, "cpu", s.cfg.CPUQuery, at); ok {
		out.CPUUsed = &v
	}
	if v, ok := s.optional(ctx, "memory", s.cfg.MemoryQuery, at); ok {
		out.MemoryUsed = &v
	}
	return out, nil
}

func (s *Source) optional(ctx context.Context, name, query string, at time.Time) (float64, bool) {
	if query == "" {
		return 0, false
	}
	v, err := s.scalar(ctx, query, at)
	if err != nil {
		if !errors.Is(err, ErrNoData) {
			slog.WarnContext(ctx, "prometheus query failed", "signal", name, "error", err)
		}
		return 0, false
	}
	return v, true
}

func (s *Source) scalar(ctx context.Context, query string, at time.Time) (float64, error) {
	if query == "" {
		return 0, ErrNoData
	}
	var val model.Value
	run := func() error {
		var (
			warnings v1.Warnings
			err      error
		)
		val, warnings, err = s.api.Query(ctx, query, at, v1.WithTimeout(s.cfg.Timeout))
		if len(warnings) > 0 {
			slog.DebugContext(ctx, "prometheus warnings", "query", query, "warnings", warnings)
		}
		return err
	}
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(run)
	} else {
		err = run()
	}
	if err != nil {
		return 0, err
	}
	return firstValue(val)
}

// firstValue reduces an instant query result to one finite number.
func firstValue(val model.Value) (float64, error) {
	var f float64
	switch v := val.(type) {
	case model.Vector:
		if len(v) == 0 {
			return 0, ErrNoData
		}
		f = float64(v[0].Value)
	case *model.Scalar:
		if v == nil {
			return 0, ErrNoData
		}
		f = float64(v.Value)
	default:
		return 0, fmt.Errorf("prometheus: unsupported result type %T", val)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNoData
	}
	return f, nil
}
