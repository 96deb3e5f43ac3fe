package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/movieshorts/movieshorts/internal/config"
	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/pipeline"
	"github.com/movieshorts/movieshorts/internal/pipelines"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check media tools and the transcription pipeline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger := logging.NewLogger(cfg.LogLevel())
		report := runDoctor(cmd.Context(), cfg, logger)
		if doctorJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		printDoctor(cmd.OutOrStdout(), report)
		if report.MediaError != "" {
			return fmt.Errorf("media tools unavailable")
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(doctorCmd)
}

type doctorReport struct {
	FFmpeg        string                  `json:"ffmpeg"`
	FFprobe       string                  `json:"ffprobe"`
	MediaError    string                  `json:"media_error,omitempty"`
	Speech        bool                    `json:"speech"`
	PipelineError string                  `json:"pipeline_error,omitempty"`
	Capabilities  *pipelines.Capabilities `json:"capabilities,omitempty"`
}

func runDoctor(ctx context.Context, cfg config.Config, logger *slog.Logger) doctorReport {
	report := doctorReport{FFmpeg: cfg.FFmpegPath(), FFprobe: cfg.FFprobePath()}

	if err := pipeline.NewExecFFmpeg(cfg.FFmpegPath(), cfg.FFprobePath(), logger).Available(); err != nil {
		report.MediaError = err.Error()
	}

	pipeCfg := pipelines.DefaultConfig(cfg.DataDir(), logger)
	pipeCfg.PythonPath = cfg.PipelinesPython()
	pipeCfg.ModuleName = cfg.PipelinesModule()
	pipeCfg.DoctorTimeout = cfg.PipelinesTimeoutDoctor()

	runner, err := pipelines.NewRunner(pipeCfg)
	if err != nil {
		report.PipelineError = err.Error()
		return report
	}
	probeCtx, cancel := context.WithTimeout(ctx, pipeCfg.DoctorTimeout)
	defer cancel()
	caps, err := pipelines.NewCachedDoctor(runner, logger).Refresh(probeCtx)
	if err != nil {
		report.PipelineError = err.Error()
		return report
	}
	report.Capabilities = caps
	report.Speech = caps.HasSpeech
	return report
}

func printDoctor(out io.Writer, r doctorReport) {
	mark := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "missing"
	}

	fmt.Fprintf(out, "media tools (%s, %s): %s\n", r.FFmpeg, r.FFprobe, mark(r.MediaError == ""))
	if r.MediaError != "" {
		fmt.Fprintf(out, "  %s\n", r.MediaError)
	}

	fmt.Fprintf(out, "speech to text: %s\n", mark(r.Speech))
	if r.PipelineError != "" {
		fmt.Fprintf(out, "  %s\n", r.PipelineError)
	}
	if r.Capabilities == nil {
		return
	}

	caps := r.Capabilities
	fmt.Fprintf(out, "  python %s, dependencies %d/%d\n", caps.Python.Version, caps.Summary.Available, caps.Summary.Total)
	names := make([]string, 0, len(caps.Dependencies))
	for name := range caps.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dep := caps.Dependencies[name]
		line := fmt.Sprintf("  - %s: %s", name, mark(dep.Available))
		if dep.Version != "" {
			line += " " + dep.Version
		}
		fmt.Fprintln(out, line)
	}
}
