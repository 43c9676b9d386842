package prometheus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/common/model"

	"github.com/Strob0t/agentgate/internal/config"
	"github.com/Strob0t/agentgate/internal/resilience"
)

func vectorBody(v string) string {
	return fmt.Sprintf(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,%q]}]}}`, v)
}

const emptyBody = `{"status":"success","data":{"resultType":"vector","result":[]}}`

// fakePrometheus answers instant queries from a fixed table keyed by the
// PromQL expression.
func fakePrometheus(t *testing.T, answers map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			http.NotFound(w, r)
			return
		}
		body, ok := answers[r.FormValue("query")]
		if !ok {
			body = emptyBody
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(url string) config.Prometheus {
	return config.Prometheus{
		URL:              url,
		Timeout:          time.Second,
		ArrivalRateQuery: "lambda",
		ServiceRateQuery: "mu",
		LatencyQuery:     "latency",
		UtilizationQuery: "util",
		ReplicasQuery:    "replicas",
		CPUQuery:         "cpu",
		MemoryQuery:      "memory",
	}
}

func TestSource_Sample(t *testing.T) {
	srv := fakePrometheus(t, map[string]string{
		"lambda":   vectorBody("4"),
		"mu":       vectorBody("1.5"),
		"latency":  vectorBody("0.25"),
		"util":     vectorBody("0.8"),
		"replicas": vectorBody("3"),
		"cpu":      vectorBody("62.5"),
		"memory":   vectorBody("40"),
	})
	src, err := NewSource(testConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return at }

	got, err := src.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got.ArrivalRate != 4 || got.ServiceRate != 1.5 {
		t.Errorf("rates = %v/%v, want 4/1.5", got.ArrivalRate, got.ServiceRate)
	}
	if got.Latency != 250*time.Millisecond {
		t.Errorf("Latency = %v, want 250ms", got.Latency)
	}
	if got.Utilization != 0.8 || got.Replicas != 3 {
		t.Errorf("utilization/replicas = %v/%d", got.Utilization, got.Replicas)
	}
	if got.CPUUsed == nil || *got.CPUUsed != 62.5 {
		t.Errorf("CPUUsed = %v, want 62.5", got.CPUUsed)
	}
	if got.MemoryUsed == nil || *got.MemoryUsed != 40 {
		t.Errorf("MemoryUsed = %v, want 40", got.MemoryUsed)
	}
	if !got.At.Equal(at) {
		t.Errorf("At = %v, want %v", got.At, at)
	}
}

func TestSource_OptionalSignalsMissing(t *testing.T) {
	srv := fakePrometheus(t, map[string]string{
		"lambda": vectorBody("2"),
		"mu":     vectorBody("3"),
	})
	src, err := NewSource(testConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	got, err := src.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got.Latency != 0 || got.Utilization != 0 || got.Replicas != 0 {
		t.Errorf("optional signals = %+v, want zero", got)
	}
	if got.CPUUsed != nil || got.MemoryUsed != nil {
		t.Errorf("resource usage = %v/%v, want nil", got.CPUUsed, got.MemoryUsed)
	}
}

func TestSource_RequiredSignalMissing(t *testing.T) {
	srv := fakePrometheus(t, map[string]string{"mu": vectorBody("3")})
	src, err := NewSource(testConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if _, err := src.Sample(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestSource_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"status":"error","errorType":"internal","error":"boom"}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cb := resilience.NewBreaker("prometheus", 1, time.Minute)
	src, err := NewSource(testConfig(srv.URL), cb)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if _, err := src.Sample(context.Background()); err == nil {
		t.Fatal("expected error from failing server")
	}
	before := calls.Load()
	if _, err := src.Sample(context.Background()); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := calls.Load(); n != before {
		t.Errorf("server called %d more times with open circuit", n-before)
	}
}

func TestNewSource_RequiresURL(t *testing.T) {
	if _, err := NewSource(config.Prometheus{}, nil); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestFirstValue(t *testing.T) {
	tests := []struct {
		name    string
		val     model.Value
		want    float64
		wantErr bool
	}{
		{"vector", model.Vector{{Value: 7}}, 7, false},
		{"empty vector", model.Vector{}, 0, true},
		{"scalar", &model.Scalar{Value: 1.25}, 1.25, false},
		{"nan", model.Vector{{Value: model.SampleValue(math.NaN())}}, 0, true},
		{"matrix", model.Matrix{}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstValue(tt.val)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
