package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/movieshorts/movieshorts/internal/apperr"
	"github.com/movieshorts/movieshorts/internal/logging"
)

// SubtitlePreparer warms the caption cache for a video.
type SubtitlePreparer interface {
	Prepare(ctx context.Context, videoID string) error
}

// Runner polls for pending background jobs and executes them one at a time.
type Runner struct {
	repo         Repository
	subtitles    SubtitlePreparer
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(repo Repository, subtitles SubtitlePreparer, logger *slog.Logger) *Runner {
	return &Runner{
		repo:         repo,
		subtitles:    subtitles,
		logger:       logging.WithComponent(logger, "runner"),
		pollInterval: 5 * time.Second,
	}
}

// Start blocks until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started", "poll_interval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// processNextJob runs the oldest pending job, if any. It reports whether a
// job was picked up.
func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}

	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	logger := logging.WithJobID(r.logger, job.ID)
	logger.Info("processing job", "type", job.Type, "video_id", job.VideoID)

	switch job.Type {
	case JobTypeSubtitles:
		r.processSubtitleJob(ctx, job, logger)
	default:
		logger.Warn("unknown job type", "type", job.Type)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "unknown job type")
	}
	return true
}

func (r *Runner) processSubtitleJob(ctx context.Context, job *Job, logger *slog.Logger) {
	if r.subtitles == nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "subtitle preparation not configured")
		return
	}

	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")
	start := time.Now()

	err := r.subtitles.Prepare(ctx, job.VideoID)
	switch {
	case err == nil:
		r.repo.UpdateJobProgress(ctx, job.ID, 100)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
		logger.Info("subtitle job completed", "duration_ms", time.Since(start).Milliseconds())
	case ctx.Err() != nil:
		// interrupted by shutdown
		r.repo.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, JobStatusFailed, "cancelled")
	case errors.Is(err, apperr.ErrNotFound):
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, apperr.Message(err))
		logger.Info("no subtitles available", "video_id", job.VideoID)
	default:
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, truncateStr(fmt.Sprintf("subtitle preparation failed: %v", err), 512))
		logger.Error("subtitle job failed", "error", err)
	}
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
