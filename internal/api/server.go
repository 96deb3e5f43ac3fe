package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/movieshorts/movieshorts/internal/analysis"
	"github.com/movieshorts/movieshorts/internal/catalog"
	"github.com/movieshorts/movieshorts/internal/pipeline"
	"github.com/movieshorts/movieshorts/internal/pipelines"
	"github.com/movieshorts/movieshorts/internal/playback"
	"github.com/movieshorts/movieshorts/internal/subtitle"
)

// CatalogService is the part of catalog.Service the handlers use.
type CatalogService interface {
	Upload(ctx context.Context, in catalog.UploadInput) (*catalog.Video, error)
	ApplyClientDuration(ctx context.Context, id string, seconds float64) (*catalog.Video, error)
	Cut(ctx context.Context, in catalog.CutInput) (*catalog.Cut, error)
	GetVideo(ctx context.Context, id string) (*catalog.Video, error)
	ListVideos(ctx context.Context, limit int) ([]*catalog.Video, error)
	OpenVideo(ctx context.Context, id string) (*catalog.Video, *os.File, os.FileInfo, error)
	OpenCut(ctx context.Context, id string) (*catalog.Cut, *os.File, os.FileInfo, error)
	ListCuts(ctx context.Context, videoID string) ([]*catalog.Cut, error)
	GetJob(ctx context.Context, id string) (*catalog.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*catalog.Job, error)
	Stats(ctx context.Context) (*catalog.Stats, error)
	CutMode() pipeline.CutMode
}

type SubtitleService interface {
	Check(ctx context.Context, videoID string) (*subtitle.Availability, error)
	Get(ctx context.Context, videoID string) (*subtitle.Track, error)
}

type AnalysisService interface {
	Analyze(ctx context.Context, cues []analysis.Cue) ([]analysis.Section, error)
}

// TokenStore holds the API token under catalog.ConfigKeyAPIToken.
type TokenStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr      string
	Catalog   CatalogService
	Subtitles SubtitleService
	Analysis  AnalysisService
	Playback  *playback.Server
	Tokens    TokenStore
	Runner    *catalog.Runner
	Doctor    *pipelines.CachedDoctor
	Logger    *slog.Logger
	StartTime time.Time
	Version   string
	// AnalyzerName is reported by /status.
	AnalyzerName string

	MaxUploadBytes int64
	AllowedOrigins []string
	// RequireToken protects the mutating routes with the bearer token.
	RequireToken bool
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			// uploads and cuts can take minutes
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
