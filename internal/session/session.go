// Package session holds the client side state of one clipping session. Every
// transition takes a State and returns the next one; inputs are never
// modified, so a State can be kept, compared and replayed freely.
package session

import (
	"math"
	"slices"
	"strings"

	"github.com/movieshorts/movieshorts/internal/analysis"
)

// Subtitle status messages shown to the user.
const (
	StatusSubtitlesAvailable = "Subtitles available"
	StatusSubtitlesMissing   = "No embedded subtitles found. Subtitles can be generated by transcription."
	StatusSubtitlesNone      = "No subtitles can be produced for this video"
	StatusCheckFailed        = "Error checking for subtitles"
	StatusProcessing         = "Processing... This may take a few minutes for transcription."
	StatusDownloaded         = "Subtitles downloaded successfully!"
)

// Video is the session's current upload.
type Video struct {
	ID       string
	Name     string
	Duration float64
}

type Share struct {
	Open bool
	URL  string
}

type State struct {
	Video *Video
	// Cuts holds cut ids, most recent first.
	Cuts           []string
	HasSubtitles   bool
	SubtitleStatus string
	Suggestions    []analysis.Section
	Share          Share
}

// Uploaded makes v the current video. Everything tied to the previous video
// is dropped, including an open share dialog.
func Uploaded(_ State, v Video) State {
	return State{Video: &v}
}

// DurationChanged records the duration reported by the player. Non-positive or
// non-finite values and calls without a current video are ignored.
func DurationChanged(s State, seconds float64) State {
	if s.Video == nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return s
	}
	if s.Video.Duration == seconds {
		return s
	}
	v := *s.Video
	v.Duration = seconds
	s.Video = &v
	return s
}

// SubtitlesChecked applies the result of an availability check. embedded says
// whether a caption stream or cache exists; available whether any source,
// including transcription, can produce captions.
func SubtitlesChecked(s State, embedded, available bool) State {
	s.HasSubtitles = available
	switch {
	case embedded:
		s.SubtitleStatus = StatusSubtitlesAvailable
	case available:
		s.SubtitleStatus = StatusSubtitlesMissing
	default:
		s.SubtitleStatus = StatusSubtitlesNone
	}
	return s
}

// SubtitleCheckFailed leaves the session without subtitles.
func SubtitleCheckFailed(s State) State {
	s.HasSubtitles = false
	s.SubtitleStatus = StatusCheckFailed
	return s
}

func SubtitlesRequested(s State) State {
	s.SubtitleStatus = StatusProcessing
	return s
}

func SubtitlesDownloaded(s State) State {
	s.SubtitleStatus = StatusDownloaded
	return s
}

// SubtitlesFailed shows the server's error message.
func SubtitlesFailed(s State, message string) State {
	s.SubtitleStatus = "Error: " + message
	return s
}

// CutAdded puts a new cut at the head of the list.
func CutAdded(s State, cutID string) State {
	if s.Video == nil || cutID == "" {
		return s
	}
	cuts := make([]string, 0, len(s.Cuts)+1)
	cuts = append(cuts, cutID)
	s.Cuts = append(cuts, s.Cuts...)
	return s
}

// SuggestionsReceived replaces the suggestion list.
func SuggestionsReceived(s State, sections []analysis.Section) State {
	if s.Video == nil {
		return s
	}
	s.Suggestions = slices.Clone(sections)
	if s.Suggestions == nil {
		s.Suggestions = []analysis.Section{}
	}
	return s
}

// Suggestion returns the i-th suggestion, to be applied through the cut path.
func (s State) Suggestion(i int) (analysis.Section, bool) {
	if i < 0 || i >= len(s.Suggestions) {
		return analysis.Section{}, false
	}
	return s.Suggestions[i], true
}

// OpenShare opens the share dialog for a cut served under baseURL.
func OpenShare(s State, baseURL, cutID string) State {
	if !slices.Contains(s.Cuts, cutID) {
		return s
	}
	s.Share = Share{Open: true, URL: strings.TrimRight(baseURL, "/") + "/cuts/" + cutID}
	return s
}

func CloseShare(s State) State {
	s.Share = Share{}
	return s
}
