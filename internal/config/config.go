// Package config provides hierarchical configuration loading for agentgate.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for an agentgate process.
type Config struct {
	Server     Server     `yaml:"server"`
	Postgres   Postgres   `yaml:"postgres"`
	NATS       NATS       `yaml:"nats"`
	Logging    Logging    `yaml:"logging"`
	Breaker    Breaker    `yaml:"breaker"`
	Rate       Rate       `yaml:"rate"`
	OTEL       OTEL       `yaml:"otel"`
	Prometheus Prometheus `yaml:"prometheus"`
	Cache      Cache      `yaml:"cache"`
	Agent      Agent      `yaml:"agent"`
	Engine     Engine     `yaml:"engine"`
	Queueing   Queueing   `yaml:"queueing"`
	Queue      Queue      `yaml:"queue"`
	Scaler     Scaler     `yaml:"scaler"`
	Fairshare  Fairshare  `yaml:"fairshare"`
	Peers      Peers      `yaml:"peers"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds PostgreSQL connection configuration.
// An empty DSN keeps the decision log in memory.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables ingestion
// and forwarding over NATS; the HTTP API still accepts work.
type NATS struct {
	URL            string        `yaml:"url"`
	ProcessTimeout time.Duration `yaml:"process_timeout"` // work.process request/reply timeout
}

// Logging holds structured logging configuration.
type Logging struct {
	Level        string `yaml:"level"`
	Service      string `yaml:"service"`
	Format       string `yaml:"format"` // "json" | "console"
	Async        bool   `yaml:"async"`
	AsyncBuffer  int    `yaml:"async_buffer"`
	AsyncWorkers int    `yaml:"async_workers"`
}

// Breaker holds circuit breaker configuration for outbound calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds HTTP rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"`
	Insecure       bool          `yaml:"insecure"`
	ServiceName    string        `yaml:"service_name"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

// Prometheus holds the live sample source configuration. An empty URL falls
// back to locally tracked rates.
type Prometheus struct {
	URL              string        `yaml:"url"`
	Timeout          time.Duration `yaml:"timeout"`
	ArrivalRateQuery string        `yaml:"arrival_rate_query"`
	ServiceRateQuery string        `yaml:"service_rate_query"`
	LatencyQuery     string        `yaml:"latency_query"`
	UtilizationQuery string        `yaml:"utilization_query"`
	ReplicasQuery    string        `yaml:"replicas_query"`
	CPUQuery         string        `yaml:"cpu_query"`
	MemoryQuery      string        `yaml:"memory_query"`
}

// Cache holds the two-tier peer directory cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2Bucket    string        `yaml:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
}

// Agent describes this process's own identity and capacity.
type Agent struct {
	ID                string        `yaml:"id"`
	CPUCapacity       float64       `yaml:"cpu_capacity"`
	MemoryCapacity    float64       `yaml:"memory_capacity"`
	AvgProcessingTime time.Duration `yaml:"avg_processing_time"`
	SuccessRate       float64       `yaml:"success_rate"`
	ProcessingCost    float64       `yaml:"processing_cost"`
	Specializations   []string      `yaml:"specializations"`
}

// Engine holds decision engine thresholds.
type Engine struct {
	MaxUtilization      float64       `yaml:"max_utilization"`       // Forward above this (default: 0.85)
	MinUtilityThreshold float64       `yaml:"min_utility_threshold"` // Floor for the process fallback (default: 0.3)
	CPURequired         float64       `yaml:"cpu_required"`
	MemRequired         float64       `yaml:"mem_required"`
	DefaultReward       float64       `yaml:"default_reward"`
	RateWindow          time.Duration `yaml:"rate_window"`
	Workers             int           `yaml:"workers"` // c in the stability check (default: 1)
	ForwardCost         float64       `yaml:"forward_cost"`
	FinderFee           float64       `yaml:"finder_fee"`
	BidHistoryLimit     int           `yaml:"bid_history_limit"`
	MaxForwardHops      int           `yaml:"max_forward_hops"`
}

// Queueing holds M/M/c model targets.
type Queueing struct {
	TargetLatency  time.Duration `yaml:"target_latency"`
	MaxUtilization float64       `yaml:"max_utilization"`
}

// Queue holds admission queue configuration.
type Queue struct {
	MaxSize        int           `yaml:"max_size"`
	MaxWaitTime    time.Duration `yaml:"max_wait_time"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	DequeueTimeout time.Duration `yaml:"dequeue_timeout"`
	Workers        int           `yaml:"workers"`
}

// Scaler holds autoscaler configuration.
type Scaler struct {
	Enabled           bool          `yaml:"enabled"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	TargetLatency     time.Duration `yaml:"target_latency"`
	TargetUtilization float64       `yaml:"target_utilization"`
	MinReplicas       int           `yaml:"min_replicas"`
	MaxReplicas       int           `yaml:"max_replicas"`
	ScaleUpCooldown   time.Duration `yaml:"scale_up_cooldown"`
	ScaleDownCooldown time.Duration `yaml:"scale_down_cooldown"`
	Hysteresis        float64       `yaml:"hysteresis"`
	SampleTime        time.Duration `yaml:"sample_time"`
	AntiWindupLimit   float64       `yaml:"anti_windup_limit"`
	LatencyKp         float64       `yaml:"latency_kp"`
	LatencyKi         float64       `yaml:"latency_ki"`
	LatencyKd         float64       `yaml:"latency_kd"`
	UtilizationKp     float64       `yaml:"utilization_kp"`
	UtilizationKi     float64       `yaml:"utilization_ki"`
	UtilizationKd     float64       `yaml:"utilization_kd"`
}

// Fairshare holds reward division limits.
type Fairshare struct {
	MaxAgents int `yaml:"max_agents"`
}

// Peers holds peer directory configuration.
type Peers struct {
	TTL               time.Duration `yaml:"ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			URL:            "nats://localhost:4222",
			ProcessTimeout: 30 * time.Second,
		},
		Logging: Logging{
			Level:        "info",
			Service:      "agentgate",
			Format:       "json",
			AsyncBuffer:  10000,
			AsyncWorkers: 2,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 50,
			Burst:             200,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		OTEL: OTEL{
			Endpoint:       "localhost:4317",
			Insecure:       true,
			ServiceName:    "agentgate",
			ExportInterval: 15 * time.Second,
		},
		Prometheus: Prometheus{
			Timeout:          5 * time.Second,
			ArrivalRateQuery: `sum(rate(agentgate_events_received_total[1m]))`,
			ServiceRateQuery: `1 / (sum(rate(agentgate_processing_seconds_sum[1m])) / sum(rate(agentgate_processing_seconds_count[1m])))`,
			LatencyQuery:     `histogram_quantile(0.95, sum(rate(agentgate_processing_seconds_bucket[1m])) by (le))`,
			UtilizationQuery: `avg(agentgate_agent_utilization)`,
			ReplicasQuery:    `count(up{job="agentgate"} == 1)`,
			CPUQuery:         `100 * avg(rate(process_cpu_seconds_total{job="agentgate"}[1m]))`,
			MemoryQuery:      `100 * avg(container_memory_working_set_bytes{container="agentgate"} / container_spec_memory_limit_bytes{container="agentgate"})`,
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			L2Bucket:    "AGENTGATE_PEERS",
			L2TTL:       30 * time.Second,
		},
		Agent: Agent{
			ID:                "agent-1",
			CPUCapacity:       100,
			MemoryCapacity:    100,
			AvgProcessingTime: 100 * time.Millisecond,
			SuccessRate:       0.95,
			ProcessingCost:    1.0,
		},
		Engine: Engine{
			MaxUtilization:      0.85,
			MinUtilityThreshold: 0.3,
			CPURequired:         10,
			MemRequired:         10,
			DefaultReward:       10,
			RateWindow:          60 * time.Second,
			Workers:             1,
			ForwardCost:         0.5,
			FinderFee:           0.1,
			BidHistoryLimit:     1000,
			MaxForwardHops:      3,
		},
		Queueing: Queueing{
			TargetLatency:  time.Second,
			MaxUtilization: 0.8,
		},
		Queue: Queue{
			MaxSize:        10000,
			MaxWaitTime:    30 * time.Second,
			EnqueueTimeout: 5 * time.Second,
			DequeueTimeout: time.Second,
			Workers:        4,
		},
		Scaler: Scaler{
			Enabled:           true,
			TickInterval:      15 * time.Second,
			TargetLatency:     time.Second,
			TargetUtilization: 0.7,
			MinReplicas:       1,
			MaxReplicas:       20,
			ScaleUpCooldown:   60 * time.Second,
			ScaleDownCooldown: 300 * time.Second,
			Hysteresis:        0.1,
			SampleTime:        10 * time.Second,
			AntiWindupLimit:   50,
			LatencyKp:         2.0,
			LatencyKi:         0.1,
			LatencyKd:         0.5,
			UtilizationKp:     1.0,
			UtilizationKi:     0.05,
			UtilizationKd:     0.3,
		},
		Fairshare: Fairshare{
			MaxAgents: 16,
		},
		Peers: Peers{
			TTL:               30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
		},
	}
}
