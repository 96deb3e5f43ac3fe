// Package janitor removes pending files left behind by interrupted writes.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/storage"
)

// Sweeper deletes pending files older than a cutoff.
type Sweeper interface {
	RemoveStale(cutoff time.Time) ([]string, error)
}

var _ Sweeper = (*storage.Store)(nil)

// Janitor runs Sweep on a cron schedule.
type Janitor struct {
	sweeper Sweeper
	maxAge  time.Duration
	logger  *slog.Logger
	cron    *cron.Cron
	now     func() time.Time
}

// New parses schedule (standard five-field expression or descriptor such as
// "@every 15m") and returns a stopped janitor.
func New(sweeper Sweeper, schedule string, maxAge time.Duration, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	j := &Janitor{
		sweeper: sweeper,
		maxAge:  maxAge,
		logger:  logging.WithComponent(logger, "janitor"),
		now:     time.Now,
	}
	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started", "max_age", j.maxAge)
}

// Stop halts the schedule and waits for a running sweep, or for ctx.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		j.logger.Warn("janitor stop timed out")
	}
}

// Sweep removes stale pending files once and returns how many were deleted.
func (j *Janitor) Sweep() int {
	removed, err := j.sweeper.RemoveStale(j.now().Add(-j.maxAge))
	if err != nil {
		j.logger.Error("sweep failed", "error", err)
	}
	if len(removed) > 0 {
		j.logger.Info("removed stale partial files", "count", len(removed), "files", removed)
	}
	return len(removed)
}
