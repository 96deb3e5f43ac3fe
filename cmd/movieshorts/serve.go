package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/movieshorts/movieshorts/internal/analysis"
	"github.com/movieshorts/movieshorts/internal/api"
	"github.com/movieshorts/movieshorts/internal/catalog"
	"github.com/movieshorts/movieshorts/internal/config"
	"github.com/movieshorts/movieshorts/internal/db"
	"github.com/movieshorts/movieshorts/internal/events"
	"github.com/movieshorts/movieshorts/internal/janitor"
	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/pipeline"
	"github.com/movieshorts/movieshorts/internal/pipelines"
	"github.com/movieshorts/movieshorts/internal/playback"
	"github.com/movieshorts/movieshorts/internal/storage"
	"github.com/movieshorts/movieshorts/internal/subtitle"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(out io.Writer) error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting movieshorts", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBDriver(), cfg.DatabaseURL(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	store, err := storage.New(cfg.MediaDir())
	if err != nil {
		return fmt.Errorf("failed to initialize media store: %w", err)
	}

	ffmpeg := pipeline.NewExecFFmpeg(cfg.FFmpegPath(), cfg.FFprobePath(), logger)
	if err := ffmpeg.Available(); err != nil {
		logger.Warn("media tools unavailable, probing and cutting will fail", "error", err)
	}

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	repo := catalog.NewRepository(database)
	catalogSvc := catalog.NewService(catalog.ServiceConfig{
		Repo:             repo,
		Store:            store,
		FFmpeg:           ffmpeg,
		Publisher:        publisher,
		Logger:           logger,
		CutMode:          pipeline.CutMode(cfg.CutMode()),
		CutTimeout:       cfg.CutTimeout(),
		ProbeTimeout:     cfg.ProbeTimeout(),
		PrepareSubtitles: cfg.PrepareSubtitles(),
	})

	token, err := catalogSvc.EnsureAPIToken(context.Background())
	if err != nil {
		return fmt.Errorf("failed to ensure api token: %w", err)
	}

	subCfg := subtitle.ServiceConfig{
		Videos:       catalogSvc,
		Store:        store,
		FFmpeg:       ffmpeg,
		Publisher:    publisher,
		Logger:       logger,
		ProbeTimeout: cfg.ProbeTimeout(),
	}
	doctor := setupPipelines(cfg, logger, &subCfg)
	subtitleSvc := subtitle.NewService(subCfg)

	analyzer := newAnalyzer(cfg)
	analysisSvc := analysis.NewService(analyzer, cfg.AnalyzeTimeout(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := catalog.NewRunner(repo, subtitleSvc, logger)
	go runner.Start(ctx)

	sweeper, err := janitor.New(store, cfg.JanitorSchedule(), cfg.PartialMaxAge(), logger)
	if err != nil {
		return fmt.Errorf("failed to schedule janitor: %w", err)
	}
	sweeper.Start()

	apiServer := api.NewServer(api.ServerConfig{
		Addr:           cfg.Addr(),
		Catalog:        catalogSvc,
		Subtitles:      subtitleSvc,
		Analysis:       analysisSvc,
		Playback:       playback.NewServer(logger),
		Tokens:         repo,
		Runner:         runner,
		Doctor:         doctor,
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
		AnalyzerName:   analyzer.Name(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		AllowedOrigins: cfg.AllowedOrigins(),
		RequireToken:   cfg.RequireToken(),
	})

	printBanner(out, cfg, token)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("HTTP server error", "error", serveErr)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sweeper.Stop(shutdownCtx)
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

// setupPipelines wires transcription into the subtitle service when the
// pipelines module can be started. The returned doctor is nil otherwise.
func setupPipelines(cfg config.Config, logger *slog.Logger, subCfg *subtitle.ServiceConfig) *pipelines.CachedDoctor {
	pipeCfg := pipelines.DefaultConfig(cfg.DataDir(), logger)
	pipeCfg.PythonPath = cfg.PipelinesPython()
	pipeCfg.ModuleName = cfg.PipelinesModule()
	pipeCfg.DoctorTimeout = cfg.PipelinesTimeoutDoctor()
	pipeCfg.TranscribeTimeout = cfg.PipelinesTimeoutTranscribe()

	pr, err := pipelines.NewRunner(pipeCfg)
	if err != nil {
		logger.Warn("pipeline runner unavailable, transcription disabled", "error", err)
		return nil
	}

	doctor := pipelines.NewCachedDoctor(pr, logger)
	initCtx, initCancel := context.WithTimeout(context.Background(), pipeCfg.DoctorTimeout)
	defer initCancel()
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else {
		logger.Info("pipeline capabilities detected",
			"speech", caps.HasSpeech,
			"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total),
		)
	}

	subCfg.Speech = doctor
	subCfg.Transcriber = pr
	return doctor
}

func newPublisher(cfg config.Config, logger *slog.Logger) events.Publisher {
	if cfg.AMQPURL() == "" {
		return events.NewLogPublisher(logger)
	}
	p, err := events.NewAMQPPublisher(cfg.AMQPURL(), cfg.EventsQueue(), logger)
	if err != nil {
		logger.Warn("event broker unavailable, logging events instead", "error", err)
		return events.NewLogPublisher(logger)
	}
	logger.Info("publishing artifact events", "queue", cfg.EventsQueue())
	return p
}

func newAnalyzer(cfg config.Config) analysis.Analyzer {
	if cfg.Analyzer() == "ollama" {
		return analysis.NewOllama(cfg.OllamaHost(), cfg.OllamaModel(), cfg.AnalyzeTimeout())
	}
	return analysis.NewHeuristic()
}

func printBanner(out io.Writer, cfg config.Config, token string) {
	auth := "not required"
	if cfg.RequireToken() {
		auth = token
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(out, "║  %-73s║\n", "MOVIESHORTS v"+config.Version)
	fmt.Fprintln(out, "╠═══════════════════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(out, "║  API URL:    %-61s║\n", "http://"+cfg.Addr())
	fmt.Fprintf(out, "║  API Token:  %-61s║\n", auth)
	fmt.Fprintf(out, "║  Cut mode:   %-61s║\n", cfg.CutMode())
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)
}
