package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/movieshorts/movieshorts/internal/export"
	"github.com/movieshorts/movieshorts/internal/logging"
)

// Artifact is an opened stored file ready to be served.
type Artifact struct {
	Name      string
	MediaType string
	Content   io.ReadSeeker
	Info      os.FileInfo
	// Download, when set, is sent as the attachment filename.
	Download string
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{logger: logging.WithComponent(logger, "playback")}
}

// Serve writes the artifact, honouring a single byte range. Multi-range and
// malformed Range headers get the full body; a range past the end gets 416.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, a Artifact) error {
	size := a.Info.Size()
	contentType := a.MediaType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	h.Set("Last-Modified", a.Info.ModTime().UTC().Format(http.TimeFormat))
	if a.Download != "" {
		h.Set("Content-Disposition", export.ContentDisposition(a.Download))
	}

	rng, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", UnsatisfiedRange(size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		s.logger.Debug("ignoring range header", "name", a.Name, "range", r.Header.Get("Range"), "reason", err)
		rng = nil
	}

	if rng == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err := io.Copy(w, a.Content)
		return err
	}

	if _, err := a.Content.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	h.Set("Content-Length", strconv.FormatInt(rng.ContentLength(), 10))
	h.Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	_, err = io.CopyN(w, a.Content, rng.ContentLength())
	return err
}
