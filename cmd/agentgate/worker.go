package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	agnats "github.com/Strob0t/agentgate/internal/adapter/nats"
	"github.com/Strob0t/agentgate/internal/config"
	"github.com/Strob0t/agentgate/internal/logger"
	"github.com/Strob0t/agentgate/internal/port/messagequeue"
)

// runWorker answers work.process.{agent_id} requests, standing in for the
// real workload. Each item takes the agent's configured processing time.
func runWorker(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closeLog := logger.New(cfg.Logging, cfg.Agent.ID)
	defer closeLog.Close()
	slog.SetDefault(log)

	if cfg.NATS.URL == "" {
		return errors.New("worker requires a NATS url")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := agnats.Connect(ctx, cfg.NATS.URL, "agentgate-worker-"+cfg.Agent.ID)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			slog.Warn("nats close failed", "error", err)
		}
	}()

	subject := messagequeue.ProcessSubject(cfg.Agent.ID)
	cancel, err := queue.Serve(subject, workHandler(ctx, cfg.Agent.AvgProcessingTime))
	if err != nil {
		return err
	}
	defer cancel()

	slog.Info("worker ready", "subject", subject)
	<-ctx.Done()
	slog.Info("worker stopping")
	return nil
}

func workHandler(root context.Context, cost time.Duration) messagequeue.Handler {
	return func(ctx context.Context, subject string, data []byte) error {
		if err := messagequeue.Validate(subject, data); err != nil {
			return err
		}
		var item messagequeue.WorkItemPayload
		if err := json.Unmarshal(data, &item); err != nil {
			return fmt.Errorf("decode work item: %w", err)
		}

		start := time.Now()
		t := time.NewTimer(cost)
		defer t.Stop()
		select {
		case <-t.C:
		case <-root.Done():
			return root.Err()
		}
		slog.InfoContext(ctx, "work item done",
			"event_id", item.ID,
			"event_type", item.Type,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
}
