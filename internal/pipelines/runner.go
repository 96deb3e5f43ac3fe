package pipelines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/movieshorts/movieshorts/internal/logging"
)

const maxStderrBytes = 8 * 1024

// Runner executes Python pipeline commands as subprocesses.
type Runner interface {
	// RunDoctor executes `python -m <module> doctor --json --out <path>` and
	// returns parsed capabilities.
	RunDoctor(ctx context.Context) (*Capabilities, error)

	// RunTranscribe executes `transcribe --video <path> --out <path>` for a
	// video file.
	RunTranscribe(ctx context.Context, videoPath, outPath string) (RunResult, error)

	// ValidateTranscript reads a transcribe output JSON and checks required
	// fields.
	ValidateTranscript(path string) (*TranscriptOutput, error)

	// ArtifactsDir returns the base directory for pipeline outputs.
	ArtifactsDir() string
}

// Config holds the runner's configuration.
type Config struct {
	PythonPath        string        // path to python binary; empty = auto-detect
	ModuleName        string        // default "movieshorts_pipelines"
	ArtifactsBase     string        // base dir for outputs, e.g. ~/.movieshorts/artifacts
	DoctorTimeout     time.Duration // timeout for doctor command
	TranscribeTimeout time.Duration // timeout for transcription
	Logger            *slog.Logger
	DebugPaths        bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(dataDir string, logger *slog.Logger) Config {
	return Config{
		PythonPath:        "", // auto-detect
		ModuleName:        "movieshorts_pipelines",
		ArtifactsBase:     filepath.Join(dataDir, "artifacts"),
		DoctorTimeout:     30 * time.Second,
		TranscribeTimeout: 30 * time.Minute,
		Logger:            logger,
		DebugPaths:        false,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg    Config
	python string // resolved python path
}

// NewRunner creates a SubprocessRunner, resolving the Python binary path.
func NewRunner(cfg Config) (*SubprocessRunner, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	cfg.Logger = logging.WithComponent(cfg.Logger, "pipelines")

	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	if err := os.MkdirAll(cfg.ArtifactsBase, 0755); err != nil {
		return nil, fmt.Errorf("cannot create artifacts dir: %w", err)
	}

	cfg.Logger.Info("pipeline runner initialised",
		"python", python,
		"module", cfg.ModuleName,
		"artifacts_dir", cfg.ArtifactsBase,
	)

	return &SubprocessRunner{cfg: cfg, python: python}, nil
}

func (r *SubprocessRunner) ArtifactsDir() string {
	return r.cfg.ArtifactsBase
}

// RunDoctor probes the installed pipelines environment.
func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	out, err := os.CreateTemp(r.cfg.ArtifactsBase, ".doctor-*.json")
	if err != nil {
		return nil, fmt.Errorf("cannot create doctor output: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	result := r.exec(ctx, outPath, "doctor", "--json", "--out", outPath)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("doctor did not finish: %w", err)
	}
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read doctor output: %w", err)
	}

	caps, err := parseCapabilities(data)
	if err != nil {
		return nil, err
	}

	r.cfg.Logger.Info("doctor probe complete",
		"speech", caps.HasSpeech,
		"deps_available", caps.Summary.Available,
		"deps_total", caps.Summary.Total,
	)

	return caps, nil
}

func parseCapabilities(data []byte) (*Capabilities, error) {
	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}

	// Derive capability flags
	caps.HasSpeech = caps.Pipelines.Transcribe ||
		(isAvailable(caps.Dependencies, "faster_whisper") && isAvailable(caps.Executables, "ffmpeg"))
	caps.ProbedAt = time.Now()
	return &caps, nil
}

// RunTranscribe runs the speech-to-text pipeline CLI.
func (r *SubprocessRunner) RunTranscribe(ctx context.Context, videoPath, outPath string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TranscribeTimeout)
	defer cancel()

	result := r.exec(ctx, outPath,
		"transcribe",
		"--video", videoPath,
		"--out", outPath,
	)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// ValidateTranscript reads a transcribe JSON output and checks required
// metadata fields and segment ranges.
func (r *SubprocessRunner) ValidateTranscript(path string) (*TranscriptOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read output file %s: %w", r.safePath(path), err)
	}
	return parseTranscript(data)
}

func parseTranscript(data []byte) (*TranscriptOutput, error) {
	var out TranscriptOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse output JSON: %w", err)
	}

	if !out.RequiredFieldsPresent() {
		missing := []string{}
		if out.SchemaVersion == "" {
			missing = append(missing, "schema_version")
		}
		if out.PipelineVersion == "" {
			missing = append(missing, "pipeline_version")
		}
		if out.ModelVersion == "" {
			missing = append(missing, "model_version")
		}
		return &out, fmt.Errorf("pipeline output missing required fields: %s", strings.Join(missing, ", "))
	}

	for i, seg := range out.Segments {
		if seg.Start < 0 || seg.End < seg.Start {
			return &out, fmt.Errorf("segment %d has invalid range %.3f-%.3f", i, seg.Start, seg.End)
		}
	}

	return &out, nil
}

// exec is the core subprocess execution helper.
func (r *SubprocessRunner) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			r.cfg.Logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmdArgs := append([]string{"-m", r.cfg.ModuleName}, args...)
	cmd := exec.CommandContext(ctx, r.python, cmdArgs...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard // CLI writes to --out file, not stdout

	r.cfg.Logger.Info("executing pipeline command",
		"command", args[0],
		"module", r.cfg.ModuleName,
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
	default:
		exitCode = -1
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		r.cfg.Logger.Warn("pipeline command failed",
			"command", args[0],
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.cfg.Logger.Info("pipeline command succeeded",
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	if masked := logging.SanitizePath(path); masked != path {
		return masked
	}
	return filepath.Base(path)
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func isAvailable(deps map[string]DepInfo, name string) bool {
	d, ok := deps[name]
	return ok && d.Available
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
