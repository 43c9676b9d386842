// Command agentgate runs one decision agent: it admits work items, decides
// to process, forward or reject each one, and recommends replica counts.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	aghttp "github.com/Strob0t/agentgate/internal/adapter/http"
	"github.com/Strob0t/agentgate/internal/adapter/memory"
	agnats "github.com/Strob0t/agentgate/internal/adapter/nats"
	"github.com/Strob0t/agentgate/internal/adapter/natskv"
	agotel "github.com/Strob0t/agentgate/internal/adapter/otel"
	"github.com/Strob0t/agentgate/internal/adapter/postgres"
	"github.com/Strob0t/agentgate/internal/adapter/prometheus"
	"github.com/Strob0t/agentgate/internal/adapter/ristretto"
	"github.com/Strob0t/agentgate/internal/adapter/tiered"
	"github.com/Strob0t/agentgate/internal/adapter/ws"
	"github.com/Strob0t/agentgate/internal/config"
	"github.com/Strob0t/agentgate/internal/domain/agent"
	"github.com/Strob0t/agentgate/internal/domain/control"
	"github.com/Strob0t/agentgate/internal/domain/equilibrium"
	"github.com/Strob0t/agentgate/internal/domain/event"
	"github.com/Strob0t/agentgate/internal/domain/fairshare"
	"github.com/Strob0t/agentgate/internal/domain/market"
	"github.com/Strob0t/agentgate/internal/domain/queueing"
	"github.com/Strob0t/agentgate/internal/logger"
	"github.com/Strob0t/agentgate/internal/middleware"
	"github.com/Strob0t/agentgate/internal/port/cache"
	"github.com/Strob0t/agentgate/internal/port/database"
	"github.com/Strob0t/agentgate/internal/port/processor"
	"github.com/Strob0t/agentgate/internal/port/samples"
	"github.com/Strob0t/agentgate/internal/resilience"
	"github.com/Strob0t/agentgate/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "admin":
		err = runAdmin(os.Args[2:])
	case len(os.Args) > 1 && os.Args[1] == "worker":
		err = runWorker(os.Args[2:])
	default:
		err = run(os.Args[1:])
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, path)

	log, closeLog := logger.New(cfg.Logging, cfg.Agent.ID)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"config_path", path,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"nats", cfg.NATS.URL != "",
		"postgres", cfg.Postgres.DSN != "",
		"prometheus", cfg.Prometheus.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTel, err := agotel.Setup(ctx, cfg.OTEL, cfg.Agent.ID)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	meters, err := agotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	store, closeStore, err := openStore(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer closeStore()

	var queue *agnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = agnats.Connect(ctx, cfg.NATS.URL, "agentgate-"+cfg.Agent.ID)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		}()
	}

	peerCache, err := openPeerCache(ctx, cfg.Cache, queue)
	if err != nil {
		return err
	}

	// --- Domain ---

	m := market.New(cfg.Engine.BidHistoryLimit)
	m.Register(selfState(cfg.Agent))
	rates := service.NewRateTracker(cfg.Engine.RateWindow)
	model := queueing.Model{TargetLatency: cfg.Queueing.TargetLatency, MaxUtilization: cfg.Queueing.MaxUtilization}

	peers := service.NewPeerDirectory(cfg.Agent.ID, m, peerCache, cfg.Peers.TTL)
	engine := service.NewDecisionEngine(service.EngineConfig{
		AgentID:             cfg.Agent.ID,
		MaxUtilization:      cfg.Engine.MaxUtilization,
		MinUtilityThreshold: cfg.Engine.MinUtilityThreshold,
		CPURequired:         cfg.Engine.CPURequired,
		MemRequired:         cfg.Engine.MemRequired,
		DefaultReward:       cfg.Engine.DefaultReward,
		Workers:             cfg.Engine.Workers,
		MaxForwardHops:      cfg.Engine.MaxForwardHops,
	}, model, m, equilibrium.Selector{
		ForwardCost: cfg.Engine.ForwardCost,
		FinderFee:   cfg.Engine.FinderFee,
	}, rates, peers)

	var proc processor.Processor = processor.Func(logProcess)
	if queue != nil {
		proc = agnats.NewProcessor(queue, cfg.Agent.ID, cfg.NATS.ProcessTimeout)
	}

	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
	defer hub.Close()

	admission := service.NewAdmissionService(service.AdmissionConfig{
		AgentID:             cfg.Agent.ID,
		QueueMaxSize:        cfg.Queue.MaxSize,
		QueueMaxWait:        cfg.Queue.MaxWaitTime,
		EnqueueTimeout:      cfg.Queue.EnqueueTimeout,
		DequeueTimeout:      cfg.Queue.DequeueTimeout,
		Workers:             cfg.Queue.Workers,
		BaselineSuccessRate: cfg.Agent.SuccessRate,
	}, engine, rates, proc)
	admission.SetStore(store)
	admission.SetMetrics(meters)
	admission.SetBroadcaster(hub)
	admission.SetBreaker(resilience.NewBreaker("nats-forward", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	engine.SetAwardSink(admission.RecordAwards)

	autoscaler := control.NewAutoScaler(scalerConfig(cfg.Scaler))
	var source samples.Source = service.NewLocalSource(cfg.Agent.ID, rates, m, admission.Queue(), cfg.Engine.Workers)
	remote := cfg.Prometheus.URL != ""
	if remote {
		source, err = prometheus.NewSource(cfg.Prometheus,
			resilience.NewBreaker("prometheus", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
		if err != nil {
			return err
		}
	}
	scaler := service.NewScalerService(cfg.Agent.ID, autoscaler, model, source)
	if remote {
		scaler.SetRateFeed(rates)
	}
	scaler.SetMarket(m)
	scaler.SetStore(store)
	scaler.SetMetrics(meters)
	scaler.SetBroadcaster(hub)

	rewards := service.NewRewardService(m, fairshare.NewCalculator(cfg.Fairshare.MaxAgents))
	rewards.SetStore(store)
	rewards.SetMetrics(meters)
	rewards.SetBroadcaster(hub)

	if queue != nil {
		admission.SetQueue(queue)
		scaler.SetQueue(queue)
		peers.SetQueue(queue)
	}

	if err := meters.ObserveQueue(admission.Queue().Stats); err != nil {
		return fmt.Errorf("otel queue gauges: %w", err)
	}
	if err := meters.ObserveUtilization(cfg.Agent.ID, func() float64 {
		s, _ := m.Agent(cfg.Agent.ID)
		return s.Utilization()
	}); err != nil {
		return fmt.Errorf("otel utilization gauge: %w", err)
	}

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(agotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(aghttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(aghttp.SecurityHeaders)
	r.Use(aghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(limiter.Handler)

	aghttp.MountRoutes(r, &aghttp.Handlers{
		Admission: admission,
		Scaler:    scaler,
		Rewards:   rewards,
		Peers:     peers,
		Store:     store,
		Model:     model,
	}, hub.HandleWS)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Run ---

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return admission.Run(gctx) })
	g.Go(func() error { return peers.Run(gctx, cfg.Peers.HeartbeatInterval) })
	if cfg.Scaler.Enabled {
		g.Go(func() error { return scaler.Run(gctx, cfg.Scaler.TickInterval) })
	}
	g.Go(func() error {
		limiter.RunCleanup(gctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
		return nil
	})
	g.Go(func() error {
		watchReload(gctx, holder, engine, autoscaler)
		return nil
	})
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr, "agent_id", cfg.Agent.ID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// openStore connects the PostgreSQL audit log, or keeps it in memory when
// no DSN is configured.
func openStore(ctx context.Context, cfg config.Postgres) (database.Store, func(), error) {
	if cfg.DSN == "" {
		slog.Warn("postgres dsn not set, keeping decision log in memory")
		return memory.New(memory.DefaultCapacity), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if err := postgres.RunMigrations(ctx, cfg.DSN); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("postgres connected, migrations applied")
	return postgres.NewStore(pool), pool.Close, nil
}

// openPeerCache builds the peer directory cache: ristretto in front of the
// JetStream KV bucket when NATS is available, ristretto alone otherwise.
func openPeerCache(ctx context.Context, cfg config.Cache, queue *agnats.Queue) (cache.Cache, error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("peer cache l1: %w", err)
	}
	var l2 cache.Cache
	if queue != nil {
		kv, err := queue.KeyValue(ctx, cfg.L2Bucket, cfg.L2TTL)
		if err != nil {
			return nil, err
		}
		l2 = natskv.New(kv)
	}
	return tiered.New(l1, l2, cfg.L2TTL), nil
}

// originPatterns turns the dashboard origin URL into the host pattern the
// WebSocket handshake checks against.
func originPatterns(origin string) []string {
	if origin == "" {
		return nil
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return []string{u.Host}
	}
	return []string{origin}
}

func selfState(a config.Agent) agent.State {
	s := agent.DefaultState(a.ID)
	s.CPUCapacity = a.CPUCapacity
	s.MemoryCapacity = a.MemoryCapacity
	s.AvgProcessingTime = a.AvgProcessingTime.Seconds()
	s.SuccessRate = a.SuccessRate
	s.ProcessingCost = a.ProcessingCost
	s.Specializations = a.Specializations
	return s
}

func scalerConfig(s config.Scaler) control.AutoScalerConfig {
	return control.AutoScalerConfig{
		TargetLatency:     s.TargetLatency,
		TargetUtilization: s.TargetUtilization,
		MinReplicas:       s.MinReplicas,
		MaxReplicas:       s.MaxReplicas,
		ScaleUpCooldown:   s.ScaleUpCooldown,
		ScaleDownCooldown: s.ScaleDownCooldown,
		Hysteresis:        s.Hysteresis,
		SampleTime:        s.SampleTime,
		AntiWindup:        s.AntiWindupLimit,
		LatencyGains:      control.Gains{Kp: s.LatencyKp, Ki: s.LatencyKi, Kd: s.LatencyKd},
		UtilizationGains:  control.Gains{Kp: s.UtilizationKp, Ki: s.UtilizationKi, Kd: s.UtilizationKd},
	}
}

// watchReload re-reads the configuration on SIGHUP and applies the
// settings that can change at runtime: engine thresholds and PID tuning.
func watchReload(ctx context.Context, holder *config.Holder, engine *service.DecisionEngine, scaler *control.AutoScaler) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		if err := holder.Reload(); err != nil {
			slog.Error("config reload failed", "error", err)
			continue
		}
		cfg := holder.Get()
		engine.SetThresholds(cfg.Engine.MaxUtilization, cfg.Engine.MinUtilityThreshold)
		for loop, t := range tunings(cfg.Scaler) {
			if err := scaler.Tune(loop, t); err != nil {
				slog.Error("scaler retune failed", "loop", loop, "error", err)
			}
		}
		slog.Info("config reloaded",
			"max_utilization", cfg.Engine.MaxUtilization,
			"min_utility_threshold", cfg.Engine.MinUtilityThreshold,
		)
	}
}

func tunings(s config.Scaler) map[string]control.Tuning {
	latency := s.TargetLatency.Seconds()
	return map[string]control.Tuning{
		control.LoopLatency: {
			Kp: &s.LatencyKp, Ki: &s.LatencyKi, Kd: &s.LatencyKd, Setpoint: &latency,
		},
		control.LoopUtilization: {
			Kp: &s.UtilizationKp, Ki: &s.UtilizationKi, Kd: &s.UtilizationKd, Setpoint: &s.TargetUtilization,
		},
	}
}

// logProcess stands in for a worker when no NATS connection is configured.
func logProcess(ctx context.Context, item event.WorkItem) error {
	slog.InfoContext(ctx, "work item processed locally", "event_id", item.ID, "event_type", item.Type)
	return nil
}
