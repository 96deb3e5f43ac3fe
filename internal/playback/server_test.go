package playback

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/movieshorts/movieshorts/internal/logging"
)

func openArtifact(t *testing.T, content string) Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	info, _ := f.Stat()
	return Artifact{Name: "clip.mp4", MediaType: "video/mp4", Content: f, Info: info}
}

func TestServe(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		rangeHeader string
		wantStatus  int
		wantBody    string
		wantRange   string
		wantLength  string
	}{
		{"full body", http.MethodGet, "", http.StatusOK, "0123456789", "", "10"},
		{"single range", http.MethodGet, "bytes=2-5", http.StatusPartialContent, "2345", "bytes 2-5/10", "4"},
		{"suffix range", http.MethodGet, "bytes=-3", http.StatusPartialContent, "789", "bytes 7-9/10", "3"},
		{"open range", http.MethodGet, "bytes=8-", http.StatusPartialContent, "89", "bytes 8-9/10", "2"},
		{"unsatisfiable", http.MethodGet, "bytes=10-", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10", ""},
		{"malformed ignored", http.MethodGet, "bytes=x-y", http.StatusOK, "0123456789", "", "10"},
		{"multi range served whole", http.MethodGet, "bytes=0-1,4-5", http.StatusOK, "0123456789", "", "10"},
		{"head", http.MethodHead, "", http.StatusOK, "", "", "10"},
	}

	srv := NewServer(logging.Discard())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := openArtifact(t, "0123456789")
			req := httptest.NewRequest(tt.method, "/uploads/clip.mp4", nil)
			if tt.rangeHeader != "" {
				req.Header.Set("Range", tt.rangeHeader)
			}
			rec := httptest.NewRecorder()

			if err := srv.Serve(rec, req, a); err != nil {
				t.Fatalf("Serve() error = %v", err)
			}

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusRequestedRangeNotSatisfiable && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("Content-Range"); got != tt.wantRange {
				t.Errorf("Content-Range = %q, want %q", got, tt.wantRange)
			}
			if tt.wantLength != "" && rec.Header().Get("Content-Length") != tt.wantLength {
				t.Errorf("Content-Length = %q, want %q", rec.Header().Get("Content-Length"), tt.wantLength)
			}
			if rec.Header().Get("Accept-Ranges") != "bytes" {
				t.Error("missing Accept-Ranges: bytes")
			}
		})
	}
}

func TestServe_MediaTypeAndDownload(t *testing.T) {
	a := openArtifact(t, "abc")
	a.MediaType = "video/webm"
	a.Download = "My Clip.webm"

	rec := httptest.NewRecorder()
	if err := NewServer(nil).Serve(rec, httptest.NewRequest(http.MethodGet, "/cuts/x", nil), a); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/webm" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="My Clip.webm"` {
		t.Errorf("Content-Disposition = %q", got)
	}
}
