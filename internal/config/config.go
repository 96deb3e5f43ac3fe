// Package config provides configuration management for the MovieShorts server.
// Configuration is loaded from environment variables with sensible defaults;
// outside production a .env file in the working directory is read first.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".movieshorts"

	DefaultDBDriver       = "sqlite"
	DefaultMaxUploadBytes = 2 * 1024 * 1024 * 1024 // 2GB
	DefaultCutMode        = "copy"
	DefaultCutTimeout     = 10 * time.Minute
	DefaultProbeTimeout   = 30 * time.Second

	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"

	DefaultPipelinesModule           = "movieshorts_pipelines"
	DefaultPipelinesTimeoutDoctor    = 30 * time.Second
	DefaultPipelinesTimeoutTranscribe = 30 * time.Minute

	DefaultAnalyzer       = "heuristic"
	DefaultOllamaHost     = "http://127.0.0.1:11434"
	DefaultOllamaModel    = "llama3.1"
	DefaultAnalyzeTimeout = 2 * time.Minute

	DefaultEventsQueue      = "movieshorts.artifacts"
	DefaultJanitorSchedule  = "@every 15m"
	DefaultPartialMaxAge    = time.Hour
	DefaultAllowedOrigins   = "http://localhost:3000"

	// Environment variable names
	EnvEnv              = "MOVIESHORTS_ENV"
	EnvHost             = "MOVIESHORTS_HOST"
	EnvPort             = "MOVIESHORTS_PORT"
	EnvLogLevel         = "MOVIESHORTS_LOG_LEVEL"
	EnvDataDir          = "MOVIESHORTS_DATA_DIR"
	EnvDBDriver         = "MOVIESHORTS_DB_DRIVER"
	EnvDatabaseURL      = "MOVIESHORTS_DATABASE_URL"
	EnvMaxUploadBytes   = "MOVIESHORTS_MAX_UPLOAD_BYTES"
	EnvCutMode          = "MOVIESHORTS_CUT_MODE"
	EnvCutTimeout       = "MOVIESHORTS_CUT_TIMEOUT"
	EnvFFmpegPath       = "FFMPEG_PATH"
	EnvFFprobePath      = "FFPROBE_PATH"
	EnvAllowedOrigins   = "MOVIESHORTS_ALLOWED_ORIGINS"
	EnvRequireToken     = "MOVIESHORTS_REQUIRE_TOKEN"
	EnvPrepareSubtitles = "MOVIESHORTS_PREPARE_SUBTITLES"

	// Pipeline environment variable names
	EnvPipelinesPython = "MOVIESHORTS_PIPELINES_PYTHON"
	EnvPipelinesModule = "MOVIESHORTS_PIPELINES_MODULE"

	// Analysis environment variable names
	EnvAnalyzer    = "MOVIESHORTS_ANALYZER"
	EnvOllamaHost  = "OLLAMA_HOST"
	EnvOllamaModel = "OLLAMA_MODEL"

	// Events and maintenance
	EnvAMQPURL         = "MOVIESHORTS_AMQP_URL"
	EnvEventsQueue     = "MOVIESHORTS_EVENTS_QUEUE"
	EnvJanitorSchedule = "MOVIESHORTS_JANITOR_SCHEDULE"
	EnvPartialMaxAge   = "MOVIESHORTS_PARTIAL_MAX_AGE"

	// Database filename
	DBFilename = "movieshorts.db"
)

// Config defines the application configuration interface
type Config interface {
	Addr() string
	Port() int
	LogLevel() string
	DataDir() string
	MediaDir() string
	DBDriver() string
	DatabaseURL() string
	MaxUploadBytes() int64
	CutMode() string
	CutTimeout() time.Duration
	ProbeTimeout() time.Duration
	FFmpegPath() string
	FFprobePath() string
	AllowedOrigins() []string
	RequireToken() bool
	PrepareSubtitles() bool
	PipelinesPython() string
	PipelinesModule() string
	PipelinesTimeoutDoctor() time.Duration
	PipelinesTimeoutTranscribe() time.Duration
	Analyzer() string
	OllamaHost() string
	OllamaModel() string
	AnalyzeTimeout() time.Duration
	AMQPURL() string
	EventsQueue() string
	JanitorSchedule() string
	PartialMaxAge() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	host             string
	port             int
	logLevel         string
	dataDir          string
	dbDriver         string
	databaseURL      string
	maxUploadBytes   int64
	cutMode          string
	cutTimeout       time.Duration
	ffmpegPath       string
	ffprobePath      string
	allowedOrigins   []string
	requireToken     bool
	prepareSubtitles bool

	pipelinesPython string
	pipelinesModule string

	analyzer    string
	ollamaHost  string
	ollamaModel string

	amqpURL         string
	eventsQueue     string
	janitorSchedule string
	partialMaxAge   time.Duration
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	if os.Getenv(EnvEnv) != "production" {
		// A missing .env is normal; real deployments inject variables directly.
		_ = godotenv.Load()
	}

	cfg := &EnvConfig{
		host:             DefaultHost,
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          defaultDataDir(),
		dbDriver:         DefaultDBDriver,
		maxUploadBytes:   DefaultMaxUploadBytes,
		cutMode:          DefaultCutMode,
		cutTimeout:       DefaultCutTimeout,
		ffmpegPath:       DefaultFFmpegPath,
		ffprobePath:      DefaultFFprobePath,
		allowedOrigins:   splitList(DefaultAllowedOrigins),
		prepareSubtitles: true,
		analyzer:         DefaultAnalyzer,
		ollamaHost:       DefaultOllamaHost,
		ollamaModel:      DefaultOllamaModel,
		eventsQueue:      DefaultEventsQueue,
		janitorSchedule:  DefaultJanitorSchedule,
		partialMaxAge:    DefaultPartialMaxAge,
	}

	if h := os.Getenv(EnvHost); h != "" {
		cfg.host = h
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if d := os.Getenv(EnvDBDriver); d != "" {
		d = strings.ToLower(d)
		if d != "sqlite" && d != "postgres" {
			return nil, fmt.Errorf("invalid %s: must be sqlite or postgres", EnvDBDriver)
		}
		cfg.dbDriver = d
	}
	cfg.databaseURL = os.Getenv(EnvDatabaseURL)
	if cfg.dbDriver == "postgres" && cfg.databaseURL == "" {
		return nil, fmt.Errorf("%s is required when %s=postgres", EnvDatabaseURL, EnvDBDriver)
	}

	if v := os.Getenv(EnvMaxUploadBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive byte count", EnvMaxUploadBytes)
		}
		cfg.maxUploadBytes = n
	}

	if m := os.Getenv(EnvCutMode); m != "" {
		m = strings.ToLower(m)
		if m != "copy" && m != "reencode" {
			return nil, fmt.Errorf("invalid %s: must be copy or reencode", EnvCutMode)
		}
		cfg.cutMode = m
	}

	var err error
	if cfg.cutTimeout, err = envDuration(EnvCutTimeout, cfg.cutTimeout); err != nil {
		return nil, err
	}
	if cfg.partialMaxAge, err = envDuration(EnvPartialMaxAge, cfg.partialMaxAge); err != nil {
		return nil, err
	}
	// a pending file younger than the slowest writer may still be in use
	if longest := max(cfg.cutTimeout, DefaultPipelinesTimeoutTranscribe); cfg.partialMaxAge <= longest {
		return nil, fmt.Errorf("invalid %s: %s must exceed the cut and transcribe timeouts (%s)",
			EnvPartialMaxAge, cfg.partialMaxAge, longest)
	}

	if p := os.Getenv(EnvFFmpegPath); p != "" {
		cfg.ffmpegPath = p
	}
	if p := os.Getenv(EnvFFprobePath); p != "" {
		cfg.ffprobePath = p
	}

	if o := os.Getenv(EnvAllowedOrigins); o != "" {
		cfg.allowedOrigins = splitList(o)
	}

	if cfg.requireToken, err = envBool(EnvRequireToken, false); err != nil {
		return nil, err
	}
	if cfg.prepareSubtitles, err = envBool(EnvPrepareSubtitles, cfg.prepareSubtitles); err != nil {
		return nil, err
	}

	cfg.pipelinesPython = os.Getenv(EnvPipelinesPython)
	if pm := os.Getenv(EnvPipelinesModule); pm != "" {
		cfg.pipelinesModule = pm
	}

	if a := os.Getenv(EnvAnalyzer); a != "" {
		a = strings.ToLower(a)
		if a != "heuristic" && a != "ollama" {
			return nil, fmt.Errorf("invalid %s: must be heuristic or ollama", EnvAnalyzer)
		}
		cfg.analyzer = a
	}
	if h := os.Getenv(EnvOllamaHost); h != "" {
		cfg.ollamaHost = strings.TrimRight(h, "/")
	}
	if m := os.Getenv(EnvOllamaModel); m != "" {
		cfg.ollamaModel = m
	}

	cfg.amqpURL = os.Getenv(EnvAMQPURL)
	if q := os.Getenv(EnvEventsQueue); q != "" {
		cfg.eventsQueue = q
	}
	if s := os.Getenv(EnvJanitorSchedule); s != "" {
		cfg.janitorSchedule = s
	}

	return cfg, nil
}

// Addr returns the HTTP listen address
func (c *EnvConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// MediaDir returns the root of the artifact store
func (c *EnvConfig) MediaDir() string {
	return filepath.Join(c.dataDir, "media")
}

func (c *EnvConfig) DBDriver() string {
	return c.dbDriver
}

// DatabaseURL returns the DSN for the configured driver. For sqlite it
// defaults to a file inside the data directory.
func (c *EnvConfig) DatabaseURL() string {
	if c.databaseURL == "" && c.dbDriver == "sqlite" {
		return filepath.Join(c.dataDir, DBFilename)
	}
	return c.databaseURL
}

func (c *EnvConfig) MaxUploadBytes() int64 {
	return c.maxUploadBytes
}

func (c *EnvConfig) CutMode() string {
	return c.cutMode
}

func (c *EnvConfig) CutTimeout() time.Duration {
	return c.cutTimeout
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return DefaultProbeTimeout
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) AllowedOrigins() []string {
	return c.allowedOrigins
}

func (c *EnvConfig) RequireToken() bool {
	return c.requireToken
}

func (c *EnvConfig) PrepareSubtitles() bool {
	return c.prepareSubtitles
}

func (c *EnvConfig) PipelinesPython() string {
	return c.pipelinesPython
}

func (c *EnvConfig) PipelinesModule() string {
	if c.pipelinesModule != "" {
		return c.pipelinesModule
	}
	return DefaultPipelinesModule
}

func (c *EnvConfig) PipelinesTimeoutDoctor() time.Duration {
	return DefaultPipelinesTimeoutDoctor
}

func (c *EnvConfig) PipelinesTimeoutTranscribe() time.Duration {
	return DefaultPipelinesTimeoutTranscribe
}

func (c *EnvConfig) Analyzer() string {
	return c.analyzer
}

func (c *EnvConfig) OllamaHost() string {
	return c.ollamaHost
}

func (c *EnvConfig) OllamaModel() string {
	return c.ollamaModel
}

func (c *EnvConfig) AnalyzeTimeout() time.Duration {
	return DefaultAnalyzeTimeout
}

// AMQPURL returns the broker URL; empty disables event publishing
func (c *EnvConfig) AMQPURL() string {
	return c.amqpURL
}

func (c *EnvConfig) EventsQueue() string {
	return c.eventsQueue
}

func (c *EnvConfig) JanitorSchedule() string {
	return c.janitorSchedule
}

func (c *EnvConfig) PartialMaxAge() time.Duration {
	return c.partialMaxAge
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return d, nil
}

func envBool(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
