package catalog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/movieshorts/movieshorts/internal/db"
	"github.com/movieshorts/movieshorts/internal/events"
	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/pipeline"
	"github.com/movieshorts/movieshorts/internal/storage"
)

// mp4Header is the start of an ISO BMFF file, enough for content sniffing.
var mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2avc1mp41")

type fakeFFmpeg struct {
	mu       sync.Mutex
	duration float64
	probeErr error
	cutErr   error
	cuts     []pipeline.CutRequest
	cutFn    func(ctx context.Context, req pipeline.CutRequest) error
}

func (f *fakeFFmpeg) Probe(ctx context.Context, filePath string) (*pipeline.ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return &pipeline.ProbeResult{Duration: f.duration}, nil
}

func (f *fakeFFmpeg) Cut(ctx context.Context, req pipeline.CutRequest) error {
	f.mu.Lock()
	f.cuts = append(f.cuts, req)
	fn, cutErr := f.cutFn, f.cutErr
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if cutErr != nil {
		// simulate a partial write before failure
		os.WriteFile(req.Output, []byte("partial"), 0644)
		return cutErr
	}
	return os.WriteFile(req.Output, []byte("cut bytes"), 0644)
}

func (f *fakeFFmpeg) ExtractSubtitles(ctx context.Context, filePath, outputPath string) error {
	return pipeline.ErrNoSubtitleStream
}

func (f *fakeFFmpeg) cutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cuts)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	db        *db.DB
	repo      *SQLRepository
	store     *storage.Store
	ffmpeg    *fakeFFmpeg
	publisher *recordingPublisher
	svc       *Service
}

func setupTestDB(t *testing.T) (*db.DB, *SQLRepository) {
	t.Helper()
	database, err := db.New(db.DriverSQLite, filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, NewRepository(database)
}

func newTestEnv(t *testing.T, duration float64) *testEnv {
	t.Helper()
	database, repo := setupTestDB(t)

	store, err := storage.New(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}

	env := &testEnv{
		db:        database,
		repo:      repo,
		store:     store,
		ffmpeg:    &fakeFFmpeg{duration: duration},
		publisher: &recordingPublisher{},
	}
	env.svc = NewService(ServiceConfig{
		Repo:      repo,
		Store:     store,
		FFmpeg:    env.ffmpeg,
		Publisher: env.publisher,
		Logger:    logging.Discard(),
		CutMode:   pipeline.ModeCopy,
	})
	return env
}

func (e *testEnv) upload(t *testing.T, name string) *Video {
	t.Helper()
	v, err := e.svc.Upload(context.Background(), UploadInput{
		Filename:  name,
		MediaType: "video/mp4",
		Body:      bytes.NewReader(append(append([]byte{}, mp4Header...), make([]byte, 4096)...)),
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	return v
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	return len(entries)
}
