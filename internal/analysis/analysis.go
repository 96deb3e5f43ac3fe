// Package analysis suggests engaging cut ranges from a video's timed text.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/movieshorts/movieshorts/internal/apperr"
	"github.com/movieshorts/movieshorts/internal/logging"
)

const (
	TypeFunny       = "funny"
	TypeEmotional   = "emotional"
	TypeInformative = "informative"

	minSections = 3
	maxSections = 10
	// the original tuning: 2.5 sections per five minutes of video
	sectionsPerFiveMinutes = 2.5
)

// Section is a suggested cut range.
type Section struct {
	Type  string  `json:"type"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Cue is one timed-text record given to an analyzer.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// UnmarshalJSON accepts both the startTime/endTime shape sent by the browser
// and the start/end shape used internally.
func (c *Cue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Start     *float64 `json:"start"`
		End       *float64 `json:"end"`
		StartTime *float64 `json:"startTime"`
		EndTime   *float64 `json:"endTime"`
		Text      string   `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	start, end := raw.StartTime, raw.EndTime
	if start == nil {
		start = raw.Start
	}
	if end == nil {
		end = raw.End
	}
	if start == nil || end == nil {
		return fmt.Errorf("subtitle entry needs startTime and endTime")
	}
	c.Start, c.End, c.Text = *start, *end, raw.Text
	return nil
}

// Analyzer proposes up to count sections for the cues. Implementations may
// return unsanitised ranges.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, cues []Cue, count int) ([]Section, error)
}

// SectionCount is the number of sections requested for a video whose timed
// text ends at span seconds.
func SectionCount(span float64) int {
	n := int(span / 300 * sectionsPerFiveMinutes)
	return min(max(n, minSections), maxSections)
}

// Validate rejects cues with negative, non-finite or inverted times.
func Validate(cues []Cue) error {
	for i, c := range cues {
		if !finite(c.Start) || !finite(c.End) {
			return apperr.Invalid("subtitle %d has a non-numeric time", i)
		}
		if c.Start < 0 || c.End < 0 {
			return apperr.Invalid("subtitle %d has a negative time", i)
		}
		if c.End < c.Start {
			return apperr.Invalid("subtitle %d ends before it starts", i)
		}
	}
	return nil
}

func span(cues []Cue) float64 {
	var end float64
	for _, c := range cues {
		end = max(end, c.End)
	}
	return end
}

type Service struct {
	analyzer Analyzer
	timeout  time.Duration
	logger   *slog.Logger
}

func NewService(analyzer Analyzer, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Service{analyzer: analyzer, timeout: timeout, logger: logging.WithComponent(logger, "analysis")}
}

// Analyze validates cues and returns sanitised suggestions. Empty input
// yields an empty, non-nil slice.
func (s *Service) Analyze(ctx context.Context, cues []Cue) ([]Section, error) {
	if len(cues) == 0 {
		return []Section{}, nil
	}
	if err := Validate(cues); err != nil {
		return nil, err
	}

	total := span(cues)
	count := SectionCount(total)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.analyzer.Analyze(ctx, cues, count)
	if err != nil {
		s.logger.Error("analysis failed", "analyzer", s.analyzer.Name(), "error", err)
		return nil, apperr.Processing(err, "subtitle analysis failed")
	}

	sections := Sanitize(raw, total, count)
	s.logger.Info("subtitles analysed",
		"analyzer", s.analyzer.Name(),
		"cues", len(cues),
		"requested", count,
		"returned", len(sections),
		"dropped", len(raw)-len(sections),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return sections, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
