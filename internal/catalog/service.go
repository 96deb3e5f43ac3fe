package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/movieshorts/movieshorts/internal/apperr"
	"github.com/movieshorts/movieshorts/internal/events"
	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/pipeline"
	"github.com/movieshorts/movieshorts/internal/storage"
)

const (
	sniffSize = 3 * 1024

	// ConfigKeyAPIToken is the config table key holding the API token.
	ConfigKeyAPIToken = "api_token"
)

type ServiceConfig struct {
	Repo      Repository
	Store     *storage.Store
	FFmpeg    pipeline.FFmpeg
	Publisher events.Publisher
	Logger    *slog.Logger

	CutMode          pipeline.CutMode
	CutTimeout       time.Duration
	ProbeTimeout     time.Duration
	PrepareSubtitles bool
}

// Service implements the upload and cut workflows over the repository and
// the artifact store.
type Service struct {
	repo      Repository
	store     *storage.Store
	ffmpeg    pipeline.FFmpeg
	publisher events.Publisher
	logger    *slog.Logger

	cutMode          pipeline.CutMode
	cutTimeout       time.Duration
	probeTimeout     time.Duration
	prepareSubtitles bool

	now   func() time.Time
	cutID func(videoID string, now time.Time) (string, error)
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:             cfg.Repo,
		store:            cfg.Store,
		ffmpeg:           cfg.FFmpeg,
		publisher:        cfg.Publisher,
		logger:           cfg.Logger,
		cutMode:          cfg.CutMode,
		cutTimeout:       cfg.CutTimeout,
		probeTimeout:     cfg.ProbeTimeout,
		prepareSubtitles: cfg.PrepareSubtitles,
		now:              time.Now,
		cutID:            NewCutID,
	}
	if s.cutMode == "" {
		s.cutMode = pipeline.ModeCopy
	}
	if s.cutTimeout <= 0 {
		s.cutTimeout = 10 * time.Minute
	}
	if s.probeTimeout <= 0 {
		s.probeTimeout = 30 * time.Second
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.publisher == nil {
		s.publisher = events.NewLogPublisher(s.logger)
	}
	return s
}

func (s *Service) CutMode() pipeline.CutMode {
	return s.cutMode
}

type UploadInput struct {
	Filename string
	// MediaType is the declared part content type, possibly empty.
	MediaType string
	Body      io.Reader
	// ClientDuration is the duration reported by the client, used only when
	// probing fails.
	ClientDuration float64
}

// Upload stores a new video. The file becomes visible under its id only after
// it is fully written, and the record is inserted after the file is in place.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*Video, error) {
	name := strings.TrimSpace(in.Filename)
	if name == "" {
		return nil, apperr.Invalid("no file selected")
	}
	ext, ok := VideoExt(name)
	if !ok {
		return nil, apperr.Invalid("unsupported file type; allowed: mp4, avi, mov, mkv, webm")
	}

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %w", apperr.Invalid("upload body could not be read"), err)
	}
	head = head[:n]
	if n == 0 {
		return nil, apperr.Invalid("uploaded file is empty")
	}

	mediaType, err := resolveMediaType(in.MediaType, head)
	if err != nil {
		return nil, err
	}

	p, err := s.store.NewPending(ext)
	if err != nil {
		return nil, err
	}
	defer p.Discard()

	pw := &pendingWriter{p: p}
	if _, err := pw.Write(head); err != nil {
		return nil, apperr.Storage(err, "failed to store upload")
	}
	if _, err := io.Copy(pw, in.Body); err != nil {
		if pw.err != nil {
			return nil, apperr.Storage(pw.err, "failed to store upload")
		}
		return nil, fmt.Errorf("%w: %w", apperr.Invalid("upload body could not be read"), err)
	}
	if err := p.Close(); err != nil {
		return nil, apperr.Storage(err, "failed to store upload")
	}

	size, err := p.Size()
	if err != nil {
		return nil, apperr.Storage(err, "failed to stat upload")
	}

	video := &Video{
		ID:           NewVideoID(ext),
		OriginalName: name,
		MediaType:    mediaType,
		Size:         size,
		Duration:     s.probeDuration(ctx, p.Path()),
		CreatedAt:    s.now(),
	}
	logger := logging.WithVideoID(s.logger, video.ID)

	if video.Duration == 0 && validSeconds(in.ClientDuration) && in.ClientDuration > 0 {
		logger.Warn("probe unavailable, using client reported duration", "duration", in.ClientDuration)
		video.Duration = in.ClientDuration
	}

	if err := p.Commit(storage.Uploads, video.ID); err != nil {
		return nil, err
	}

	if err := s.repo.CreateVideo(ctx, video); err != nil {
		if rmErr := s.store.Remove(storage.Uploads, video.ID); rmErr != nil {
			logger.Error("failed to remove orphaned upload", "error", rmErr)
		}
		return nil, apperr.Storage(err, "failed to record upload")
	}

	logger.Info("video uploaded",
		"original_name", name,
		"size", logging.HumanSize(size),
		"duration", video.Duration,
		"media_type", mediaType,
	)

	s.publish(ctx, events.Event{
		Type:       events.TypeVideoUploaded,
		ArtifactID: video.ID,
		VideoID:    video.ID,
		MediaType:  video.MediaType,
		Size:       video.Size,
		Duration:   video.Duration,
		OccurredAt: video.CreatedAt,
	})

	if s.prepareSubtitles {
		if _, err := s.EnqueueSubtitleJob(ctx, video.ID); err != nil {
			logger.Warn("failed to enqueue subtitle job", "error", err)
		}
	}

	return video, nil
}

// resolveMediaType accepts a declared video type, or sniffs the content when
// nothing useful was declared.
func resolveMediaType(declared string, head []byte) (string, error) {
	declared = strings.TrimSpace(declared)
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			declared = strings.ToLower(mt)
		}
	}

	if declared != "" && declared != "application/octet-stream" {
		if !strings.HasPrefix(declared, "video/") {
			return "", apperr.Invalid("file must be a video, got %s", declared)
		}
		return declared, nil
	}

	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return m.String(), nil
		}
	}
	return "", apperr.Invalid("file content is not a recognised video format")
}

// ApplyClientDuration records a client reported duration for a video whose
// duration could not be probed. Probed durations are never overwritten.
func (s *Service) ApplyClientDuration(ctx context.Context, id string, seconds float64) (*Video, error) {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.Duration > 0 || !validSeconds(seconds) || seconds <= 0 {
		return v, nil
	}
	if err := s.repo.UpdateVideoDuration(ctx, v.ID, seconds); err != nil {
		return nil, apperr.Storage(err, "failed to store duration")
	}
	logging.WithVideoID(s.logger, v.ID).Warn("probe unavailable, using client reported duration", "duration", seconds)
	v.Duration = seconds
	return v, nil
}

type pendingWriter struct {
	p   *storage.Pending
	err error
}

func (w *pendingWriter) Write(b []byte) (int, error) {
	n, err := w.p.Write(b)
	if err != nil {
		w.err = err
	}
	return n, err
}

// probeDuration returns 0 when the duration cannot be measured.
func (s *Service) probeDuration(ctx context.Context, path string) float64 {
	if s.ffmpeg == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	res, err := s.ffmpeg.Probe(ctx, path)
	if err != nil {
		s.logger.Warn("probe failed", "path", logging.SanitizePath(path), "error", err)
		return 0
	}
	if !validSeconds(res.Duration) || res.Duration < 0 {
		return 0
	}
	return res.Duration
}

type CutInput struct {
	VideoID string
	Start   float64
	End     float64
}

// Cut extracts [Start, End) of a stored video into a new cut artifact. The
// range is validated against the source duration before anything is written.
func (s *Service) Cut(ctx context.Context, in CutInput) (*Cut, error) {
	video, err := s.GetVideo(ctx, in.VideoID)
	if err != nil {
		return nil, err
	}
	logger := logging.WithVideoID(s.logger, video.ID)

	if !validSeconds(in.Start) || !validSeconds(in.End) {
		return nil, apperr.Invalid("startTime and endTime must be finite numbers")
	}
	if in.Start < 0 {
		return nil, apperr.Invalid("startTime must not be negative")
	}
	if in.Start >= in.End {
		return nil, apperr.Invalid("startTime must be before endTime")
	}

	srcPath, err := s.store.Path(storage.Uploads, video.ID)
	if err != nil {
		return nil, err
	}

	duration := video.Duration
	if duration <= 0 {
		duration = s.probeDuration(ctx, srcPath)
		if duration <= 0 {
			return nil, apperr.Processing(nil, "video duration could not be determined")
		}
		if err := s.repo.UpdateVideoDuration(ctx, video.ID, duration); err != nil {
			logger.Warn("failed to store probed duration", "error", err)
		}
	}
	if in.End > duration {
		return nil, apperr.Invalid("endTime %.3f exceeds video duration %.3f", in.End, duration)
	}

	ext := strings.ToLower(filepath.Ext(video.ID))
	p, err := s.store.NewPending(ext)
	if err != nil {
		return nil, err
	}
	defer p.Discard()
	// ffmpeg opens the path itself
	p.Close()

	cutCtx, cancel := context.WithTimeout(ctx, s.cutTimeout)
	defer cancel()

	start := s.now()
	err = s.ffmpeg.Cut(cutCtx, pipeline.CutRequest{
		Input:  srcPath,
		Output: p.Path(),
		Start:  in.Start,
		End:    in.End,
		Mode:   s.cutMode,
	})
	if err != nil {
		switch {
		case errors.Is(cutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			logger.Error("cut timed out", "timeout", s.cutTimeout)
			return nil, apperr.Processing(err, "cut timed out after %s", s.cutTimeout)
		case ctx.Err() != nil:
			logger.Info("cut cancelled by client")
			return nil, apperr.Processing(ctx.Err(), "cut cancelled")
		default:
			logger.Error("cut failed", "error", err)
			return nil, apperr.Processing(err, "failed to cut video")
		}
	}

	size, err := p.Size()
	if err != nil || size == 0 {
		return nil, apperr.Processing(err, "cut produced no output")
	}

	cut := &Cut{
		VideoID:   video.ID,
		Start:     in.Start,
		End:       in.End,
		Mode:      string(s.cutMode),
		MediaType: MediaTypeFor(video.ID),
		Size:      size,
		CreatedAt: s.now(),
	}

	if err := s.commitCut(p, cut, logger); err != nil {
		return nil, err
	}

	if err := s.repo.CreateCut(ctx, cut); err != nil {
		if rmErr := s.store.Remove(storage.Cuts, cut.ID); rmErr != nil {
			logger.Error("failed to remove orphaned cut", "cut_id", cut.ID, "error", rmErr)
		}
		return nil, apperr.Storage(err, "failed to record cut")
	}

	logger.Info("cut created",
		"cut_id", cut.ID,
		"start", cut.Start,
		"end", cut.End,
		"mode", cut.Mode,
		"size", logging.HumanSize(size),
		"elapsed_ms", s.now().Sub(start).Milliseconds(),
	)

	cutStart, cutEnd := cut.Start, cut.End
	s.publish(ctx, events.Event{
		Type:       events.TypeCutCreated,
		ArtifactID: cut.ID,
		VideoID:    video.ID,
		MediaType:  cut.MediaType,
		Size:       cut.Size,
		Start:      &cutStart,
		End:        &cutEnd,
		OccurredAt: cut.CreatedAt,
	})

	return cut, nil
}

const maxCutIDAttempts = 3

// commitCut names the cut and commits its pending file. A name that is
// already taken gets a fresh random suffix.
func (s *Service) commitCut(p *storage.Pending, cut *Cut, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= maxCutIDAttempts; attempt++ {
		id, idErr := s.cutID(cut.VideoID, cut.CreatedAt)
		if idErr != nil {
			return apperr.Storage(idErr, "failed to name cut")
		}
		err = p.Commit(storage.Cuts, id)
		if err == nil {
			cut.ID = id
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
		logger.Warn("cut id already taken, retrying", "cut_id", id, "attempt", attempt)
	}
	return err
}

// GetVideo returns the video with exactly this id, or a not-found error.
func (s *Service) GetVideo(ctx context.Context, id string) (*Video, error) {
	if !storage.ValidName(id) {
		return nil, apperr.NotFound("video %s not found", id)
	}
	v, err := s.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, apperr.Storage(err, "failed to load video")
	}
	if v == nil {
		return nil, apperr.NotFound("video %s not found", id)
	}
	return v, nil
}

func (s *Service) GetCut(ctx context.Context, id string) (*Cut, error) {
	if !storage.ValidName(id) {
		return nil, apperr.NotFound("cut %s not found", id)
	}
	c, err := s.repo.GetCut(ctx, id)
	if err != nil {
		return nil, apperr.Storage(err, "failed to load cut")
	}
	if c == nil {
		return nil, apperr.NotFound("cut %s not found", id)
	}
	return c, nil
}

// OpenVideo opens the stored bytes of a catalogued video.
func (s *Service) OpenVideo(ctx context.Context, id string) (*Video, *os.File, os.FileInfo, error) {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	f, info, err := s.store.Open(storage.Uploads, v.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return v, f, info, nil
}

func (s *Service) OpenCut(ctx context.Context, id string) (*Cut, *os.File, os.FileInfo, error) {
	c, err := s.GetCut(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	f, info, err := s.store.Open(storage.Cuts, c.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	return c, f, info, nil
}

// VideoPath returns the stored file path of a catalogued video.
func (s *Service) VideoPath(ctx context.Context, id string) (*Video, string, error) {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return nil, "", err
	}
	p, err := s.store.Path(storage.Uploads, v.ID)
	if err != nil {
		return nil, "", err
	}
	return v, p, nil
}

// ListVideos returns up to limit videos, newest first.
func (s *Service) ListVideos(ctx context.Context, limit int) ([]*Video, error) {
	videos, err := s.repo.ListVideos(ctx, limit)
	if err != nil {
		return nil, apperr.Storage(err, "failed to list videos")
	}
	return videos, nil
}

func (s *Service) ListCuts(ctx context.Context, videoID string) ([]*Cut, error) {
	v, err := s.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	cuts, err := s.repo.ListCutsByVideo(ctx, v.ID)
	if err != nil {
		return nil, apperr.Storage(err, "failed to list cuts")
	}
	return cuts, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, apperr.Storage(err, "failed to load job")
	}
	if j == nil {
		return nil, apperr.NotFound("job %s not found", id)
	}
	return j, nil
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	jobs, err := s.repo.ListJobs(ctx, limit)
	if err != nil {
		return nil, apperr.Storage(err, "failed to list jobs")
	}
	return jobs, nil
}

// EnqueueSubtitleJob schedules caption preparation for a video.
func (s *Service) EnqueueSubtitleJob(ctx context.Context, videoID string) (*Job, error) {
	now := s.now()
	job := &Job{
		ID:        NewID(),
		Type:      JobTypeSubtitles,
		Status:    JobStatusPending,
		VideoID:   videoID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	logging.WithJobID(s.logger, job.ID).Info("subtitle job created", "video_id", videoID)
	return job, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var err error
	if st.Videos, err = s.repo.CountVideos(ctx); err != nil {
		return nil, apperr.Storage(err, "failed to count videos")
	}
	if st.Cuts, err = s.repo.CountCuts(ctx); err != nil {
		return nil, apperr.Storage(err, "failed to count cuts")
	}
	if st.RunningJobs, err = s.repo.CountJobsByStatus(ctx, JobStatusRunning); err != nil {
		return nil, apperr.Storage(err, "failed to count jobs")
	}
	if st.PendingJobs, err = s.repo.CountJobsByStatus(ctx, JobStatusPending); err != nil {
		return nil, apperr.Storage(err, "failed to count jobs")
	}
	return &st, nil
}

// EnsureAPIToken returns the stored API token, generating one on first use.
func (s *Service) EnsureAPIToken(ctx context.Context) (string, error) {
	token, err := s.repo.GetConfig(ctx, ConfigKeyAPIToken)
	if err != nil {
		return "", fmt.Errorf("failed to read api token: %w", err)
	}
	if token != "" {
		return token, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api token: %w", err)
	}
	token = hex.EncodeToString(b)
	if err := s.repo.SetConfig(ctx, ConfigKeyAPIToken, token); err != nil {
		return "", fmt.Errorf("failed to store api token: %w", err)
	}
	s.logger.Info("generated api token", "token", logging.SanitizeToken(token))
	return token, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	// Delivery is best effort; the artifact already exists.
	if err := s.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to publish event", "type", e.Type, "artifact_id", e.ArtifactID, "error", err)
	}
}

func validSeconds(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
