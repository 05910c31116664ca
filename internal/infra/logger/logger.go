// Package logger builds the slog loggers used across the binary.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"formation-flying/internal/infra/config"
)

// New builds the process logger from cfg. cfg.Output may list several
// targets separated by commas; every record goes to all of them. The
// returned closer releases any files opened.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	var (
		writers []io.Writer
		closers []func() error
	)
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	for _, target := range splitTargets(cfg.Output) {
		w, c, err := openOutput(target)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("open log output %q: %w", target, err)
		}
		writers = append(writers, w)
		closers = append(closers, c)
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = io.MultiWriter(writers...)
	}
	return NewWriter(w, cfg), closeAll, nil
}

// NewWriter creates a logger writing to w with the level and format of cfg.
// cfg.Output is ignored.
func NewWriter(w io.Writer, cfg config.LoggerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: utcMillis,
	}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ForRun scopes l to one simulation run.
func ForRun(l *slog.Logger, runID, method string) *slog.Logger {
	return l.With(slog.Group("run", slog.String("id", runID), slog.String("method", method)))
}

// ForBatch scopes l to one batch of runs.
func ForBatch(l *slog.Logger, batchID string) *slog.Logger {
	return l.With(slog.String("batch", batchID))
}

// utcMillis rewrites the record time to UTC truncated to milliseconds so
// logs from parallel runs on different hosts line up.
func utcMillis(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.TimeValue(a.Value.Time().UTC().Truncate(time.Millisecond))
	}
	return a
}

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

func splitTargets(output string) []string {
	var targets []string
	for _, t := range strings.Split(output, ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return []string{"stderr"}
	}
	return targets
}

// openOutput resolves one output target.
func openOutput(target string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(target) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	case "discard", "none":
		return io.Discard, noop, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
