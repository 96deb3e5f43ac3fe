package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/movieshorts/movieshorts/internal/analysis"
	"github.com/movieshorts/movieshorts/internal/catalog"
	"github.com/movieshorts/movieshorts/internal/db"
	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/pipeline"
	"github.com/movieshorts/movieshorts/internal/pipelines"
	"github.com/movieshorts/movieshorts/internal/playback"
	"github.com/movieshorts/movieshorts/internal/storage"
	"github.com/movieshorts/movieshorts/internal/subtitle"
)

var mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2avc1mp41")

type fakeFFmpeg struct {
	mu       sync.Mutex
	duration float64
	probeErr error
	// srt, when set, is reported as an embedded subtitle stream.
	srt string
}

func (f *fakeFFmpeg) Probe(ctx context.Context, path string) (*pipeline.ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	res := &pipeline.ProbeResult{Duration: f.duration, AudioCodec: "aac"}
	if f.srt != "" {
		res.SubtitleStreams = 1
		res.SubtitleLanguage = "eng"
	}
	return res, nil
}

func (f *fakeFFmpeg) Cut(ctx context.Context, req pipeline.CutRequest) error {
	return os.WriteFile(req.Output, []byte("cut bytes"), 0644)
}

func (f *fakeFFmpeg) ExtractSubtitles(ctx context.Context, in, out string) error {
	f.mu.Lock()
	srt := f.srt
	f.mu.Unlock()
	if srt == "" {
		return pipeline.ErrNoSubtitleStream
	}
	return os.WriteFile(out, []byte(srt), 0644)
}

type fakeDoctorRunner struct {
	caps *pipelines.Capabilities
	err  error
}

func (f *fakeDoctorRunner) RunDoctor(ctx context.Context) (*pipelines.Capabilities, error) {
	return f.caps, f.err
}

func (f *fakeDoctorRunner) RunTranscribe(ctx context.Context, videoPath, outPath string) (pipelines.RunResult, error) {
	return pipelines.RunResult{ExitCode: 1}, nil
}

func (f *fakeDoctorRunner) ValidateTranscript(path string) (*pipelines.TranscriptOutput, error) {
	return nil, os.ErrNotExist
}

func (f *fakeDoctorRunner) ArtifactsDir() string { return "" }

type testEnv struct {
	repo    *catalog.SQLRepository
	store   *storage.Store
	ffmpeg  *fakeFFmpeg
	catalog *catalog.Service
	cfg     ServerConfig
	router  http.Handler
}

func newTestEnv(t *testing.T, opts ...func(*ServerConfig)) *testEnv {
	t.Helper()

	database, err := db.New(db.DriverSQLite, filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	repo := catalog.NewRepository(database)

	store, err := storage.New(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}

	logger := logging.Discard()
	ff := &fakeFFmpeg{duration: 20}

	svc := catalog.NewService(catalog.ServiceConfig{
		Repo:    repo,
		Store:   store,
		FFmpeg:  ff,
		Logger:  logger,
		CutMode: pipeline.ModeCopy,
	})
	subs := subtitle.NewService(subtitle.ServiceConfig{
		Videos: svc,
		Store:  store,
		FFmpeg: ff,
		Logger: logger,
	})

	cfg := ServerConfig{
		Catalog:        svc,
		Subtitles:      subs,
		Analysis:       analysis.NewService(analysis.NewHeuristic(), time.Minute, logger),
		Playback:       playback.NewServer(logger),
		Tokens:         repo,
		Logger:         logger,
		StartTime:      time.Now(),
		Version:        "test",
		AnalyzerName:   "heuristic",
		MaxUploadBytes: 1 << 20,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testEnv{
		repo:    repo,
		store:   store,
		ffmpeg:  ff,
		catalog: svc,
		cfg:     cfg,
		router:  NewRouter(cfg),
	}
}

type formPart struct {
	field       string
	filename    string
	contentType string
	body        []byte
}

func fileBody(size int) []byte {
	return append(append([]byte{}, mp4Header...), make([]byte, size)...)
}

func multipartRequest(t *testing.T, parts ...formPart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		if p.filename != "" {
			h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		} else {
			h.Set("Content-Disposition", `form-data; name="`+p.field+`"`)
		}
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart() error = %v", err)
		}
		w.Write(p.body)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

// upload posts a small mp4 and returns the stored video id.
func (e *testEnv) upload(t *testing.T, name string) string {
	t.Helper()
	rr := e.do(multipartRequest(t, formPart{field: "video", filename: name, contentType: "video/mp4", body: fileBody(4096)}))
	if rr.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp UploadResponse
	decodeBody(t, rr, &resp)
	return resp.Filename
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	decodeBody(t, rr, &resp)
	return resp
}
