package subtitle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/movieshorts/movieshorts/internal/apperr"
	"github.com/movieshorts/movieshorts/internal/catalog"
	"github.com/movieshorts/movieshorts/internal/events"
	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/pipeline"
	"github.com/movieshorts/movieshorts/internal/pipelines"
	"github.com/movieshorts/movieshorts/internal/storage"
)

// ErrNoSubtitles means no caption source exists for a video. It is a
// not-found error.
var ErrNoSubtitles = apperr.NotFound("no subtitles available for this video")

const (
	SourceCache         = "cache"
	SourceEmbedded      = "embedded"
	SourceTranscription = "transcription"
)

// Track is a caption track together with the exact SRT bytes its entries
// were parsed from.
type Track struct {
	VideoID  string
	Entries  []Entry
	SRT      []byte
	Source   string
	Language string
}

// Availability answers whether captions could be produced for a video.
type Availability struct {
	HasSubtitles  bool `json:"has_subtitles"`
	Embedded      bool `json:"embedded"`
	Transcribable bool `json:"transcribable"`
	Cached        bool `json:"cached"`
}

// Videos resolves a video id to its record and stored file.
type Videos interface {
	VideoPath(ctx context.Context, id string) (*catalog.Video, string, error)
}

// SpeechChecker reports whether speech-to-text can run.
type SpeechChecker interface {
	SpeechAvailable(ctx context.Context) bool
}

// Transcriber runs the speech-to-text pipeline.
type Transcriber interface {
	RunTranscribe(ctx context.Context, videoPath, outPath string) (pipelines.RunResult, error)
	ValidateTranscript(path string) (*pipelines.TranscriptOutput, error)
}

type ServiceConfig struct {
	Videos      Videos
	Store       *storage.Store
	FFmpeg      pipeline.FFmpeg
	Speech      SpeechChecker
	Transcriber Transcriber
	Publisher   events.Publisher
	Logger      *slog.Logger
	// ProbeTimeout bounds the ffprobe call made by Check and Extract.
	ProbeTimeout time.Duration
}

type Service struct {
	videos       Videos
	store        *storage.Store
	ffmpeg       pipeline.FFmpeg
	speech       SpeechChecker
	transcriber  Transcriber
	publisher    events.Publisher
	logger       *slog.Logger
	probeTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*videoLock
}

type videoLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		videos:       cfg.Videos,
		store:        cfg.Store,
		ffmpeg:       cfg.FFmpeg,
		speech:       cfg.Speech,
		transcriber:  cfg.Transcriber,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger,
		probeTimeout: cfg.ProbeTimeout,
		locks:        make(map[string]*videoLock),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = logging.WithComponent(s.logger, "subtitle")
	if s.publisher == nil {
		s.publisher = events.NewLogPublisher(s.logger)
	}
	if s.probeTimeout <= 0 {
		s.probeTimeout = 30 * time.Second
	}
	return s
}

func cacheName(videoID string) string {
	return catalog.BaseName(videoID) + ".srt"
}

func metaName(videoID string) string {
	return catalog.BaseName(videoID) + ".srt.json"
}

// Check reports the caption sources available for a video without
// extracting anything. A probe failure is returned as a processing error.
func (s *Service) Check(ctx context.Context, videoID string) (*Availability, error) {
	video, path, err := s.videos.VideoPath(ctx, videoID)
	if err != nil {
		return nil, err
	}

	res, err := s.probe(ctx, path)
	if err != nil {
		return nil, apperr.Processing(err, "failed to inspect video streams")
	}

	a := &Availability{
		Embedded: res.HasSubtitles(),
		Cached:   s.store.Exists(storage.Subtitles, cacheName(video.ID)),
	}
	a.Transcribable = s.transcribable(ctx, res)
	a.HasSubtitles = a.Embedded || a.Transcribable || a.Cached
	return a, nil
}

// Get returns the caption track for a video, extracting it on first use.
// Sources are tried in order: cache, embedded stream, transcription.
func (s *Service) Get(ctx context.Context, videoID string) (*Track, error) {
	video, path, err := s.videos.VideoPath(ctx, videoID)
	if err != nil {
		return nil, err
	}
	logger := logging.WithVideoID(s.logger, video.ID)

	unlock := s.lock(video.ID)
	defer unlock()

	if t, err := s.fromCache(video.ID); err != nil {
		logger.Warn("ignoring unreadable subtitle cache", "error", err)
	} else if t != nil {
		return t, nil
	}

	t, err := s.extract(ctx, video.ID, path, logger)
	if err != nil {
		return nil, err
	}

	if err := s.writeCache(t); err != nil {
		return nil, err
	}

	logger.Info("subtitles extracted",
		"source", t.Source,
		"language", t.Language,
		"entries", len(t.Entries),
		"size", logging.HumanSize(int64(len(t.SRT))),
	)
	s.publish(ctx, events.Event{
		Type:       events.TypeSubtitlesExtracted,
		ArtifactID: cacheName(video.ID),
		VideoID:    video.ID,
		MediaType:  "application/x-subrip",
		Size:       int64(len(t.SRT)),
		Source:     t.Source,
		OccurredAt: time.Now().UTC(),
	})
	return t, nil
}

// Prepare warms the cache for a video. It is run by the background job
// runner after upload.
func (s *Service) Prepare(ctx context.Context, videoID string) error {
	_, err := s.Get(ctx, videoID)
	return err
}

func (s *Service) extract(ctx context.Context, videoID, path string, logger *slog.Logger) (*Track, error) {
	res, err := s.probe(ctx, path)
	if err != nil {
		return nil, apperr.Processing(err, "failed to inspect video streams")
	}

	if res.HasSubtitles() {
		t, err := s.fromEmbedded(ctx, videoID, path)
		switch {
		case err == nil:
			t.Language = res.SubtitleLanguage
			return t, nil
		case errors.Is(err, ErrNoSubtitles):
			logger.Info("embedded subtitle stream is empty, trying transcription")
		case errors.Is(err, apperr.ErrProcessing) && s.transcribable(ctx, res):
			// bitmap streams (PGS, dvdsub) cannot be converted to SRT
			logger.Warn("embedded subtitles could not be extracted, trying transcription", "error", err)
		default:
			return nil, err
		}
	}

	if !s.transcribable(ctx, res) {
		return nil, ErrNoSubtitles
	}
	return s.fromTranscription(ctx, videoID, path, logger)
}

// transcribable reports whether speech-to-text can produce captions for a
// probed video. Check and extract both decide through it.
func (s *Service) transcribable(ctx context.Context, res *pipeline.ProbeResult) bool {
	if s.transcriber == nil || s.speech == nil || !res.HasAudio() {
		return false
	}
	return s.speech.SpeechAvailable(ctx)
}

func (s *Service) fromCache(videoID string) (*Track, error) {
	data, err := s.store.ReadFile(storage.Subtitles, cacheName(videoID))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, err
	}

	t := &Track{VideoID: videoID, Entries: entries, SRT: data, Source: SourceCache}
	if meta, err := s.readMeta(videoID); err == nil {
		t.Language = meta.Language
	}
	return t, nil
}

func (s *Service) fromEmbedded(ctx context.Context, videoID, path string) (*Track, error) {
	p, err := s.store.NewPending(".srt")
	if err != nil {
		return nil, err
	}
	defer p.Discard()
	p.Close()

	if err := s.ffmpeg.ExtractSubtitles(ctx, path, p.Path()); err != nil {
		if errors.Is(err, pipeline.ErrNoSubtitleStream) {
			return nil, ErrNoSubtitles
		}
		return nil, apperr.Processing(err, "failed to extract embedded subtitles")
	}

	raw, err := os.ReadFile(p.Path())
	if err != nil {
		return nil, apperr.Storage(err, "failed to read extracted subtitles")
	}
	return trackFrom(videoID, raw, SourceEmbedded)
}

func (s *Service) fromTranscription(ctx context.Context, videoID, path string, logger *slog.Logger) (*Track, error) {
	p, err := s.store.NewPending(".json")
	if err != nil {
		return nil, err
	}
	defer p.Discard()
	p.Close()

	logger.Info("transcribing audio")
	result, err := s.transcriber.RunTranscribe(ctx, path, p.Path())
	if err != nil {
		return nil, apperr.Processing(err, "transcription did not finish")
	}
	if !result.IsSuccess() {
		logger.Error("transcription failed", "exit_code", result.ExitCode, "stderr", result.StderrTail)
		return nil, apperr.Processing(fmt.Errorf("exit code %d", result.ExitCode), "transcription failed")
	}

	out, err := s.transcriber.ValidateTranscript(p.Path())
	if err != nil {
		return nil, apperr.Processing(err, "transcription output is invalid")
	}

	entries := FromSegments(out.Segments)
	if len(entries) == 0 {
		return nil, ErrNoSubtitles
	}
	t, err := trackFrom(videoID, Format(entries), SourceTranscription)
	if err != nil {
		return nil, err
	}
	t.Language = out.Language
	return t, nil
}

func trackFrom(videoID string, raw []byte, source string) (*Track, error) {
	data, entries, err := Normalize(raw)
	if err != nil {
		return nil, apperr.Processing(err, "subtitle data could not be parsed")
	}
	if len(entries) == 0 {
		return nil, ErrNoSubtitles
	}
	return &Track{VideoID: videoID, Entries: entries, SRT: data, Source: source}, nil
}

func (s *Service) writeCache(t *Track) error {
	if err := s.writeMeta(t); err != nil {
		s.logger.Warn("failed to write subtitle metadata", "video_id", t.VideoID, "error", err)
	}
	return s.store.WriteFile(storage.Subtitles, cacheName(t.VideoID), t.SRT)
}

func (s *Service) probe(ctx context.Context, path string) (*pipeline.ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return s.ffmpeg.Probe(ctx, path)
}

// lock serialises extraction per video.
func (s *Service) lock(videoID string) func() {
	s.mu.Lock()
	l, ok := s.locks[videoID]
	if !ok {
		l = &videoLock{}
		s.locks[videoID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, videoID)
		}
		s.mu.Unlock()
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to publish event", "type", e.Type, "video_id", e.VideoID, "error", err)
	}
}
