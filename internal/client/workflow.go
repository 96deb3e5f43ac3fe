package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/session"
)

// Range is a requested cut in seconds.
type Range struct {
	Start float64
	End   float64
}

type ClipOptions struct {
	VideoPath string
	Ranges    []Range
	// Suggest runs analysis on the video's subtitles.
	Suggest bool
	// ApplySuggestions cuts the first n suggestions.
	ApplySuggestions int
	// OutDir, when set, receives every cut and the subtitle file.
	OutDir string
}

// Clip runs the upload, check, cut and suggest workflow, returning the
// session state after every step that completed. A failed cut or a missing
// subtitle track stops only the steps that depend on it.
func (c *Client) Clip(ctx context.Context, opts ClipOptions) (session.State, error) {
	var s session.State

	up, err := c.Upload(ctx, opts.VideoPath)
	if err != nil {
		return s, fmt.Errorf("upload: %w", err)
	}
	s = session.Uploaded(s, session.Video{ID: up.Filename, Name: up.OriginalName, Duration: up.Duration})

	avail, err := c.CheckSubtitles(ctx, up.Filename)
	if err != nil {
		c.logger.Warn("subtitle check failed", "video_id", up.Filename, "error", err)
		s = session.SubtitleCheckFailed(s)
	} else {
		s = session.SubtitlesChecked(s, avail.Embedded || avail.Cached, avail.HasSubtitles)
	}

	var errs []error
	for _, r := range opts.Ranges {
		if s, err = c.cut(ctx, s, r); err != nil {
			errs = append(errs, err)
		}
	}

	if opts.Suggest && s.HasSubtitles {
		s = c.suggest(ctx, s)
		for i := 0; i < opts.ApplySuggestions; i++ {
			sec, ok := s.Suggestion(i)
			if !ok {
				break
			}
			if s, err = c.cut(ctx, s, Range{Start: sec.Start, End: sec.End}); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if opts.OutDir != "" {
		if err := c.saveOutputs(ctx, &s, opts.OutDir); err != nil {
			errs = append(errs, err)
		}
	}

	return s, errors.Join(errs...)
}

func (c *Client) cut(ctx context.Context, s session.State, r Range) (session.State, error) {
	resp, err := c.Cut(ctx, s.Video.ID, r.Start, r.End)
	if err != nil {
		return s, fmt.Errorf("cut %.3f-%.3f: %w", r.Start, r.End, err)
	}
	return session.CutAdded(s, resp.CutFilename), nil
}

func (c *Client) suggest(ctx context.Context, s session.State) session.State {
	s = session.SubtitlesRequested(s)
	subs, err := c.GetSubtitles(ctx, s.Video.ID)
	if err != nil {
		return session.SubtitlesFailed(s, errorMessage(err))
	}

	sections, err := c.Analyze(ctx, subs.Subtitles)
	if err != nil {
		c.logger.Warn("analysis failed", "video_id", s.Video.ID, "error", err)
		return session.SubtitlesFailed(s, errorMessage(err))
	}
	return session.SuggestionsReceived(s, sections)
}

func (c *Client) saveOutputs(ctx context.Context, s *session.State, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var errs []error
	for _, id := range s.Cuts {
		if err := c.saveFile(dir, id, func(f *os.File) (string, error) { return c.DownloadCut(ctx, id, f) }); err != nil {
			errs = append(errs, err)
		}
	}

	if s.HasSubtitles {
		*s = session.SubtitlesRequested(*s)
		err := c.saveFile(dir, s.Video.ID+".srt", func(f *os.File) (string, error) { return c.DownloadSubtitles(ctx, s.Video.ID, f) })
		if err != nil {
			*s = session.SubtitlesFailed(*s, errorMessage(err))
			var apiErr *APIError
			if !errors.As(err, &apiErr) || !apiErr.IsNotFound() {
				errs = append(errs, err)
			}
		} else {
			*s = session.SubtitlesDownloaded(*s)
		}
	}
	return errors.Join(errs...)
}

// saveFile downloads into a temporary file and renames it to the server's
// suggested name, or to fallback.
func (c *Client) saveFile(dir, fallback string, fetch func(*os.File) (string, error)) error {
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	name, err := fetch(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", fallback, err)
	}

	if name == "" || name == "." || name == string(filepath.Separator) {
		name = fallback
	}
	dest := filepath.Join(dir, filepath.Base(name))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	c.logger.Info("saved", "path", logging.SanitizePath(dest))
	return nil
}

func errorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
