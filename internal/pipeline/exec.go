package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const maxStderrBytes = 8 * 1024

// ExecFFmpeg runs the ffmpeg and ffprobe binaries as subprocesses.
type ExecFFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

func NewExecFFmpeg(ffmpegPath, ffprobePath string, logger *slog.Logger) *ExecFFmpeg {
	return &ExecFFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

// Available reports whether both binaries resolve on PATH.
func (f *ExecFFmpeg) Available() error {
	for _, bin := range []string{f.ffmpegPath, f.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found: %w", bin, err)
		}
	}
	return nil
}

func (f *ExecFFmpeg) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	out, err := f.run(ctx, f.ffprobePath,
		"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", filePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeOutput(out)
}

func (f *ExecFFmpeg) Cut(ctx context.Context, req CutRequest) error {
	args, err := cutArgs(req)
	if err != nil {
		return err
	}
	if _, err := f.run(ctx, f.ffmpegPath, args...); err != nil {
		return fmt.Errorf("ffmpeg cut failed: %w", err)
	}
	return nil
}

func (f *ExecFFmpeg) ExtractSubtitles(ctx context.Context, filePath, outputPath string) error {
	_, err := f.run(ctx, f.ffmpegPath,
		"-hide_banner", "-nostdin", "-y",
		"-i", filePath,
		"-map", "0:s:0",
		"-c:s", "srt",
		outputPath,
	)
	if err != nil {
		if strings.Contains(err.Error(), "matches no streams") {
			return ErrNoSubtitleStream
		}
		return fmt.Errorf("ffmpeg subtitle extraction failed: %w", err)
	}
	return nil
}

func cutArgs(req CutRequest) ([]string, error) {
	if req.Start < 0 || req.End <= req.Start {
		return nil, fmt.Errorf("invalid cut range %.3f-%.3f", req.Start, req.End)
	}
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", formatSeconds(req.Start),
		"-i", req.Input,
		"-t", formatSeconds(req.End - req.Start),
		"-map", "0:v?", "-map", "0:a?",
	}
	switch req.Mode {
	case ModeCopy, "":
		args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
	case ModeReencode:
		if strings.EqualFold(filepath.Ext(req.Output), ".webm") {
			args = append(args, "-c:v", "libvpx-vp9", "-crf", "32", "-b:v", "0", "-c:a", "libopus")
		} else {
			args = append(args,
				"-c:v", "libx264", "-preset", "fast", "-crf", "23",
				"-c:a", "aac",
			)
			if strings.EqualFold(filepath.Ext(req.Output), ".mp4") || strings.EqualFold(filepath.Ext(req.Output), ".mov") {
				args = append(args, "-movflags", "+faststart")
			}
		}
	default:
		return nil, fmt.Errorf("unknown cut mode %q", req.Mode)
	}
	return append(args, req.Output), nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// run executes bin and returns stdout. On failure the error carries the
// stderr tail.
func (f *ExecFFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(stderr)

	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		f.logger.Warn("media command failed",
			"bin", bin,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", stderr.Tail(512),
		)
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			return nil, fmt.Errorf("%w: %s", err, tail)
		}
		return nil, err
	}

	f.logger.Debug("media command succeeded", "bin", bin, "duration_ms", elapsed.Milliseconds())
	return stdout.Bytes(), nil
}

type probeJSON struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string            `json:"codec_type"`
		CodecName  string            `json:"codec_name"`
		Width      int               `json:"width"`
		Height     int               `json:"height"`
		RFrameRate string            `json:"r_frame_rate"`
		Duration   string            `json:"duration"`
		Tags       map[string]string `json:"tags"`
	} `json:"streams"`
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var raw probeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	res := &ProbeResult{}
	res.Duration, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	res.Bitrate, _ = strconv.ParseInt(raw.Format.BitRate, 10, 64)

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if res.Codec != "" {
				continue
			}
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseFrameRate(s.RFrameRate)
			if res.Duration == 0 {
				res.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		case "subtitle":
			if res.SubtitleStreams == 0 {
				res.SubtitleLanguage = s.Tags["language"]
			}
			res.SubtitleStreams++
		}
	}
	return res, nil
}

// parseFrameRate converts ffprobe's "num/den" notation.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		b := t.buf.Bytes()
		keep := append([]byte(nil), b[len(b)-t.limit:]...)
		t.buf.Reset()
		t.buf.Write(keep)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}

func (t *tailBuffer) Tail(n int) string {
	s := t.buf.String()
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
