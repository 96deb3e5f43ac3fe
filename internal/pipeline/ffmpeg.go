// Package pipeline is the media engine port: probing, cutting and subtitle
// stream extraction. ExecFFmpeg drives the ffmpeg and ffprobe binaries.
package pipeline

import (
	"context"
	"errors"
)

// ErrNoSubtitleStream is returned by ExtractSubtitles when the input carries
// no subtitle stream.
var ErrNoSubtitleStream = errors.New("no subtitle stream")

type CutMode string

const (
	ModeCopy     CutMode = "copy"
	ModeReencode CutMode = "reencode"
)

// KeyframeAligned reports whether cuts in this mode snap to keyframes.
func (m CutMode) KeyframeAligned() bool {
	return m == ModeCopy
}

type FFmpeg interface {
	Probe(ctx context.Context, filePath string) (*ProbeResult, error)
	Cut(ctx context.Context, req CutRequest) error
	ExtractSubtitles(ctx context.Context, filePath, outputPath string) error
}

type CutRequest struct {
	Input  string
	Output string
	Start  float64
	End    float64
	Mode   CutMode
}

type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	Codec      string
	Bitrate    int64
	FrameRate  float64
	AudioCodec string

	SubtitleStreams  int
	SubtitleLanguage string
}

func (p *ProbeResult) HasAudio() bool {
	return p.AudioCodec != ""
}

func (p *ProbeResult) HasSubtitles() bool {
	return p.SubtitleStreams > 0
}
