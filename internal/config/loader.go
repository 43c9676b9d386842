package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentgate.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTGATE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTGATE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTGATE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTGATE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTGATE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTGATE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setDuration(&cfg.NATS.ProcessTimeout, "AGENTGATE_NATS_PROCESS_TIMEOUT")
	setString(&cfg.Logging.Level, "AGENTGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTGATE_LOG_SERVICE")
	setString(&cfg.Logging.Format, "AGENTGATE_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "AGENTGATE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AGENTGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTGATE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "AGENTGATE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "AGENTGATE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "AGENTGATE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "AGENTGATE_RATE_MAX_IDLE_TIME")

	// Telemetry
	setBool(&cfg.OTEL.Enabled, "AGENTGATE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "AGENTGATE_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setDuration(&cfg.OTEL.ExportInterval, "AGENTGATE_OTEL_EXPORT_INTERVAL")
	setString(&cfg.Prometheus.URL, "AGENTGATE_PROMETHEUS_URL")
	setDuration(&cfg.Prometheus.Timeout, "AGENTGATE_PROMETHEUS_TIMEOUT")
	setString(&cfg.Prometheus.CPUQuery, "AGENTGATE_PROMETHEUS_CPU_QUERY")
	setString(&cfg.Prometheus.MemoryQuery, "AGENTGATE_PROMETHEUS_MEMORY_QUERY")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "AGENTGATE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "AGENTGATE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "AGENTGATE_CACHE_L2_TTL")

	// Agent identity
	setString(&cfg.Agent.ID, "AGENTGATE_AGENT_ID")
	setFloat64(&cfg.Agent.CPUCapacity, "AGENTGATE_AGENT_CPU_CAPACITY")
	setFloat64(&cfg.Agent.MemoryCapacity, "AGENTGATE_AGENT_MEMORY_CAPACITY")
	setFloat64(&cfg.Agent.SuccessRate, "AGENTGATE_AGENT_SUCCESS_RATE")
	setFloat64(&cfg.Agent.ProcessingCost, "AGENTGATE_AGENT_PROCESSING_COST")
	setStrings(&cfg.Agent.Specializations, "AGENTGATE_AGENT_SPECIALIZATIONS")

	// Engine
	setFloat64(&cfg.Engine.MaxUtilization, "AGENTGATE_MAX_UTILIZATION")
	setFloat64(&cfg.Engine.MinUtilityThreshold, "AGENTGATE_MIN_UTILITY_THRESHOLD")
	setDuration(&cfg.Engine.RateWindow, "AGENTGATE_RATE_WINDOW")
	setInt(&cfg.Engine.Workers, "AGENTGATE_ENGINE_WORKERS")
	setInt(&cfg.Engine.MaxForwardHops, "AGENTGATE_MAX_FORWARD_HOPS")
	setDuration(&cfg.Queueing.TargetLatency, "AGENTGATE_QUEUEING_TARGET_LATENCY")
	setFloat64(&cfg.Queueing.MaxUtilization, "AGENTGATE_QUEUEING_MAX_UTILIZATION")

	// Queue
	setInt(&cfg.Queue.MaxSize, "AGENTGATE_QUEUE_MAX_SIZE")
	setDuration(&cfg.Queue.MaxWaitTime, "AGENTGATE_QUEUE_MAX_WAIT_TIME")
	setDuration(&cfg.Queue.EnqueueTimeout, "AGENTGATE_QUEUE_ENQUEUE_TIMEOUT")
	setInt(&cfg.Queue.Workers, "AGENTGATE_QUEUE_WORKERS")

	// Scaler
	setBool(&cfg.Scaler.Enabled, "AGENTGATE_SCALER_ENABLED")
	setDuration(&cfg.Scaler.TickInterval, "AGENTGATE_SCALER_TICK")
	setDuration(&cfg.Scaler.TargetLatency, "AGENTGATE_SCALER_TARGET_LATENCY")
	setFloat64(&cfg.Scaler.TargetUtilization, "AGENTGATE_SCALER_TARGET_UTILIZATION")
	setInt(&cfg.Scaler.MinReplicas, "AGENTGATE_SCALER_MIN_REPLICAS")
	setInt(&cfg.Scaler.MaxReplicas, "AGENTGATE_SCALER_MAX_REPLICAS")
	setDuration(&cfg.Scaler.ScaleUpCooldown, "AGENTGATE_SCALER_UP_COOLDOWN")
	setDuration(&cfg.Scaler.ScaleDownCooldown, "AGENTGATE_SCALER_DOWN_COOLDOWN")
	setFloat64(&cfg.Scaler.Hysteresis, "AGENTGATE_SCALER_HYSTERESIS")
	setDuration(&cfg.Scaler.SampleTime, "AGENTGATE_SCALER_SAMPLE_TIME")
	setFloat64(&cfg.Scaler.AntiWindupLimit, "AGENTGATE_SCALER_ANTI_WINDUP")

	setInt(&cfg.Fairshare.MaxAgents, "AGENTGATE_FAIRSHARE_MAX_AGENTS")
	setDuration(&cfg.Peers.TTL, "AGENTGATE_PEERS_TTL")
	setDuration(&cfg.Peers.HeartbeatInterval, "AGENTGATE_PEERS_HEARTBEAT")
}

// validate checks that required fields are set and thresholds are usable.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Agent.ID == "" {
		return errors.New("agent.id is required")
	}
	if cfg.Agent.SuccessRate < 0 || cfg.Agent.SuccessRate > 1 {
		return errors.New("agent.success_rate must be within [0,1]")
	}
	if cfg.Engine.MaxUtilization <= 0 || cfg.Engine.MaxUtilization > 1 {
		return errors.New("engine.max_utilization must be within (0,1]")
	}
	if cfg.Engine.Workers < 1 {
		return errors.New("engine.workers must be >= 1")
	}
	if cfg.Engine.MaxForwardHops < 1 {
		return errors.New("engine.max_forward_hops must be >= 1")
	}
	if cfg.Engine.RateWindow <= 0 {
		return errors.New("engine.rate_window must be > 0")
	}
	if cfg.Queueing.MaxUtilization <= 0 || cfg.Queueing.MaxUtilization > 1 {
		return errors.New("queueing.max_utilization must be within (0,1]")
	}
	if cfg.Queue.MaxSize < 1 {
		return errors.New("queue.max_size must be >= 1")
	}
	if cfg.Queue.Workers < 1 {
		return errors.New("queue.workers must be >= 1")
	}
	if cfg.Scaler.MinReplicas < 1 || cfg.Scaler.MaxReplicas < cfg.Scaler.MinReplicas {
		return errors.New("scaler replicas must satisfy 1 <= min_replicas <= max_replicas")
	}
	if cfg.Scaler.TargetLatency < 0 || cfg.Scaler.TargetUtilization < 0 {
		return errors.New("scaler targets must be >= 0")
	}
	if cfg.Scaler.Enabled && cfg.Scaler.TickInterval <= 0 {
		return errors.New("scaler.tick_interval must be > 0")
	}
	if cfg.Peers.HeartbeatInterval <= 0 {
		return errors.New("peers.heartbeat_interval must be > 0")
	}
	if cfg.Fairshare.MaxAgents < 1 {
		return errors.New("fairshare.max_agents must be >= 1")
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", cfg.Logging.Format)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStrings splits a comma-separated value, dropping empty entries.
func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
