// Package logger provides structured logging setup for agentgate.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/Strob0t/agentgate/internal/config"
)

// New creates a *slog.Logger from the given Logging config. Every record
// carries "service" and "agent_id" attributes. The returned Closer flushes
// the async handler when Async is set.
func New(cfg config.Logging, agentID string) (*slog.Logger, Closer) {
	return newWithWriter(cfg, agentID, os.Stdout)
}

func newWithWriter(cfg config.Logging, agentID string, w io.Writer) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "console" {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	var closer Closer = nopCloser{}
	if cfg.Async {
		buf, workers := cfg.AsyncBuffer, cfg.AsyncWorkers
		if buf <= 0 {
			buf = 10000
		}
		if workers <= 0 {
			workers = 1
		}
		ah := NewAsyncHandler(handler, buf, workers)
		handler, closer = ah, ah
	}
	handler = &contextHandler{Handler: handler}

	l := slog.New(handler).With("service", cfg.Service)
	if agentID != "" {
		l = l.With("agent_id", agentID)
	}
	return l, closer
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
