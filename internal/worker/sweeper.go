// Package worker runs background jobs for the API process.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/taskhub/internal/application"
)

// SweepFunc materializes every due recurrence once.
type SweepFunc func(ctx context.Context) (application.SweepReport, error)

// Sweeper runs a SweepFunc on a fixed interval. Sweeps never overlap: a tick
// that fires while a sweep is running is dropped.
type Sweeper struct {
	sweep    SweepFunc
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper constructs a Sweeper. A non-positive interval defaults to one minute.
func NewSweeper(sweep SweepFunc, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{sweep: sweep, interval: interval, logger: logger.With("worker", "recurrence_sweeper")}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s == nil || s.sweep == nil {
		return errors.New("sweeper not configured")
	}

	s.logger.InfoContext(ctx, "sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	start := time.Now()
	report, err := s.sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.ErrorContext(ctx, "sweep failed", "error", err, "error_kind", application.ErrorKind(err))
		return
	}

	occurrences := report.Tasks.Occurrences + report.Expenses.Occurrences
	failed := report.Tasks.Failed + report.Expenses.Failed
	level := slog.LevelDebug
	if occurrences > 0 || failed > 0 {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "sweep finished",
		"occurrences", occurrences,
		"failed", failed,
		"duration", time.Since(start),
	)
}
