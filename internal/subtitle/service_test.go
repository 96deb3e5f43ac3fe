package subtitle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/movieshorts/movieshorts/internal/apperr"
	"github.com/movieshorts/movieshorts/internal/catalog"
	"github.com/movieshorts/movieshorts/internal/events"
	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/pipeline"
	"github.com/movieshorts/movieshorts/internal/pipelines"
	"github.com/movieshorts/movieshorts/internal/storage"
)

const embeddedSRT = "1\r\n00:00:01,000 --> 00:00:02,000\r\nFrom the stream\r\n\r\n2\r\n00:00:03,000 --> 00:00:04,500\r\nSecond\r\n"

type fakeVideos struct {
	store *storage.Store
}

func (f *fakeVideos) VideoPath(ctx context.Context, id string) (*catalog.Video, string, error) {
	if !f.store.Exists(storage.Uploads, id) {
		return nil, "", apperr.NotFound("video %s not found", id)
	}
	p, _ := f.store.Path(storage.Uploads, id)
	return &catalog.Video{ID: id, OriginalName: "Clip.mp4"}, p, nil
}

type fakeFFmpeg struct {
	probe      *pipeline.ProbeResult
	probeErr   error
	extractErr error
	srt        string
	extracts   atomic.Int32
}

func (f *fakeFFmpeg) Probe(ctx context.Context, path string) (*pipeline.ProbeResult, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.probe, nil
}

func (f *fakeFFmpeg) Cut(ctx context.Context, req pipeline.CutRequest) error {
	return errors.New("not used")
}

func (f *fakeFFmpeg) ExtractSubtitles(ctx context.Context, in, out string) error {
	f.extracts.Add(1)
	if f.extractErr != nil {
		return f.extractErr
	}
	return os.WriteFile(out, []byte(f.srt), 0644)
}

type fakeSpeech bool

func (f fakeSpeech) SpeechAvailable(ctx context.Context) bool { return bool(f) }

type fakeTranscriber struct {
	result pipelines.RunResult
	runErr error
	out    *pipelines.TranscriptOutput
	valErr error
	runs   atomic.Int32
}

func (f *fakeTranscriber) RunTranscribe(ctx context.Context, videoPath, outPath string) (pipelines.RunResult, error) {
	f.runs.Add(1)
	return f.result, f.runErr
}

func (f *fakeTranscriber) ValidateTranscript(path string) (*pipelines.TranscriptOutput, error) {
	return f.out, f.valErr
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type subtitleEnv struct {
	store       *storage.Store
	ffmpeg      *fakeFFmpeg
	transcriber *fakeTranscriber
	publisher   *recordingPublisher
	svc         *Service
}

func newSubtitleEnv(t *testing.T, speech bool) *subtitleEnv {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	if err := store.WriteFile(storage.Uploads, "vid.mp4", []byte("video")); err != nil {
		t.Fatal(err)
	}

	env := &subtitleEnv{
		store:  store,
		ffmpeg: &fakeFFmpeg{probe: &pipeline.ProbeResult{Duration: 20, AudioCodec: "aac"}},
		transcriber: &fakeTranscriber{
			out: &pipelines.TranscriptOutput{
				Language: "en",
				Segments: []pipelines.TranscriptSegment{
					{Start: 0.5, End: 1.75, Text: "Hello there"},
					{Start: 2, End: 3, Text: "General"},
				},
			},
		},
		publisher: &recordingPublisher{},
	}
	env.svc = NewService(ServiceConfig{
		Videos:      &fakeVideos{store: store},
		Store:       store,
		FFmpeg:      env.ffmpeg,
		Speech:      fakeSpeech(speech),
		Transcriber: env.transcriber,
		Publisher:   env.publisher,
		Logger:      logging.Discard(),
	})
	return env
}

func (e *subtitleEnv) withEmbedded(lang string) {
	e.ffmpeg.probe.SubtitleStreams = 1
	e.ffmpeg.probe.SubtitleLanguage = lang
	e.ffmpeg.srt = embeddedSRT
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		embedded bool
		speech   bool
		silent   bool
		want     Availability
	}{
		{"nothing", false, false, false, Availability{}},
		{"embedded only", true, false, false, Availability{HasSubtitles: true, Embedded: true}},
		{"speech only", false, true, false, Availability{HasSubtitles: true, Transcribable: true}},
		{"both", true, true, false, Availability{HasSubtitles: true, Embedded: true, Transcribable: true}},
		{"no audio", false, true, true, Availability{}},
		{"embedded without audio", true, true, true, Availability{HasSubtitles: true, Embedded: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newSubtitleEnv(t, tt.speech)
			if tt.embedded {
				env.withEmbedded("eng")
			}
			if tt.silent {
				env.ffmpeg.probe.AudioCodec = ""
			}
			got, err := env.svc.Check(context.Background(), "vid.mp4")
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if *got != tt.want {
				t.Errorf("Check() = %+v, want %+v", *got, tt.want)
			}
			if env.ffmpeg.extracts.Load() != 0 || env.transcriber.runs.Load() != 0 {
				t.Error("Check() must not extract")
			}
		})
	}
}

func TestCheck_ProbeFailureIsNotMasked(t *testing.T) {
	env := newSubtitleEnv(t, true)
	env.ffmpeg.probeErr = errors.New("ffprobe: invalid data")

	_, err := env.svc.Check(context.Background(), "vid.mp4")
	if !errors.Is(err, apperr.ErrProcessing) {
		t.Fatalf("Check() error = %v, want processing failure", err)
	}
}

func TestCheck_UnknownVideo(t *testing.T) {
	env := newSubtitleEnv(t, true)
	if _, err := env.svc.Check(context.Background(), "nope.mp4"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Check() error = %v, want not found", err)
	}
}

func TestGet_Embedded(t *testing.T) {
	env := newSubtitleEnv(t, true)
	env.withEmbedded("eng")

	track, err := env.svc.Get(context.Background(), "vid.mp4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if track.Source != SourceEmbedded || track.Language != "eng" {
		t.Errorf("track source/lang = %s/%s", track.Source, track.Language)
	}
	if len(track.Entries) != 2 || track.Entries[0].Text != "From the stream" {
		t.Errorf("entries = %+v", track.Entries)
	}
	if env.transcriber.runs.Load() != 0 {
		t.Error("transcriber should not run when a stream exists")
	}

	cached, err := env.store.ReadFile(storage.Subtitles, "vid.srt")
	if err != nil {
		t.Fatalf("cache not written: %v", err)
	}
	if string(cached) != string(track.SRT) {
		t.Error("cached file differs from served bytes")
	}
	if len(env.publisher.events) != 1 || env.publisher.events[0].Type != events.TypeSubtitlesExtracted {
		t.Errorf("events = %+v", env.publisher.events)
	}
	assertNoPending(t, env.store)
}

func TestGet_CacheHit(t *testing.T) {
	env := newSubtitleEnv(t, true)
	env.withEmbedded("eng")
	ctx := context.Background()

	first, err := env.svc.Get(ctx, "vid.mp4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	second, err := env.svc.Get(ctx, "vid.mp4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if second.Source != SourceCache || second.Language != "eng" {
		t.Errorf("second track source/lang = %s/%s", second.Source, second.Language)
	}
	if string(first.SRT) != string(second.SRT) || len(first.Entries) != len(second.Entries) {
		t.Error("cached track differs from the extracted one")
	}
	if n := env.ffmpeg.extracts.Load(); n != 1 {
		t.Errorf("extracts = %d, want 1", n)
	}

	avail, _ := env.svc.Check(ctx, "vid.mp4")
	if !avail.Cached {
		t.Error("Check() should report the cache")
	}
}

func TestGet_FallsBackToTranscription(t *testing.T) {
	env := newSubtitleEnv(t, true)
	env.ffmpeg.probe.SubtitleStreams = 1
	env.ffmpeg.extractErr = pipeline.ErrNoSubtitleStream

	track, err := env.svc.Get(context.Background(), "vid.mp4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if track.Source != SourceTranscription || track.Language != "en" {
		t.Errorf("track source/lang = %s/%s", track.Source, track.Language)
	}
	want := "1\n00:00:00,500 --> 00:00:01,750\nHello there\n\n2\n00:00:02,000 --> 00:00:03,000\nGeneral\n\n"
	if string(track.SRT) != want {
		t.Errorf("SRT = %q, want %q", track.SRT, want)
	}
	assertNoPending(t, env.store)
}

func TestGet_BitmapStreamFallsBackToTranscription(t *testing.T) {
	env := newSubtitleEnv(t, true)
	env.withEmbedded("eng")
	env.ffmpeg.extractErr = errors.New("Subtitle encoding currently only possible from text to text or bitmap to bitmap")

	track, err := env.svc.Get(context.Background(), "vid.mp4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if track.Source != SourceTranscription || len(track.Entries) != 2 {
		t.Errorf("track = %s with %d entries", track.Source, len(track.Entries))
	}
	if env.ffmpeg.extracts.Load() != 1 || env.transcriber.runs.Load() != 1 {
		t.Errorf("extracts = %d, transcriptions = %d", env.ffmpeg.extracts.Load(), env.transcriber.runs.Load())
	}
	if !env.store.Exists(storage.Subtitles, "vid.srt") {
		t.Error("transcribed track was not cached")
	}
	assertNoPending(t, env.store)
}

// A video reported as having no subtitles must yield ErrNoSubtitles on Get,
// and one reported as having them must yield a track.
func TestCheck_AgreesWithGet(t *testing.T) {
	tests := []struct {
		name   string
		speech bool
		setup  func(e *subtitleEnv)
	}{
		{"silent with speech", true, func(e *subtitleEnv) { e.ffmpeg.probe.AudioCodec = "" }},
		{"speech", true, func(e *subtitleEnv) {}},
		{"no speech", false, func(e *subtitleEnv) {}},
		{"embedded", false, func(e *subtitleEnv) { e.withEmbedded("eng") }},
		{"bitmap stream with speech", true, func(e *subtitleEnv) {
			e.withEmbedded("eng")
			e.ffmpeg.extractErr = errors.New("bitmap to text")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newSubtitleEnv(t, tt.speech)
			tt.setup(env)
			ctx := context.Background()

			avail, err := env.svc.Check(ctx, "vid.mp4")
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			track, err := env.svc.Get(ctx, "vid.mp4")
			if avail.HasSubtitles && (err != nil || track == nil) {
				t.Errorf("Check() = %+v but Get() error = %v", *avail, err)
			}
			if !avail.HasSubtitles && !errors.Is(err, ErrNoSubtitles) {
				t.Errorf("Check() = %+v but Get() error = %v, want ErrNoSubtitles", *avail, err)
			}
		})
	}
}

func TestGet_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		speech  bool
		setup   func(e *subtitleEnv)
		wantErr error
	}{
		{"no source", false, func(e *subtitleEnv) {}, ErrNoSubtitles},
		{"no audio", true, func(e *subtitleEnv) { e.ffmpeg.probe.AudioCodec = "" }, ErrNoSubtitles},
		{"empty transcript", true, func(e *subtitleEnv) { e.transcriber.out.Segments = nil }, ErrNoSubtitles},
		{"transcriber exit code", true, func(e *subtitleEnv) { e.transcriber.result.ExitCode = 2 }, apperr.ErrProcessing},
		{"transcriber timeout", true, func(e *subtitleEnv) { e.transcriber.runErr = context.DeadlineExceeded }, apperr.ErrProcessing},
		{"invalid transcript", true, func(e *subtitleEnv) { e.transcriber.valErr = errors.New("missing fields") }, apperr.ErrProcessing},
		{"extract failure without speech", false, func(e *subtitleEnv) {
			e.withEmbedded("")
			e.ffmpeg.extractErr = errors.New("exit status 1")
		}, apperr.ErrProcessing},
		{"extract failure without audio", true, func(e *subtitleEnv) {
			e.withEmbedded("")
			e.ffmpeg.probe.AudioCodec = ""
			e.ffmpeg.extractErr = errors.New("exit status 1")
		}, apperr.ErrProcessing},
		{"extract and transcription failure", true, func(e *subtitleEnv) {
			e.withEmbedded("")
			e.ffmpeg.extractErr = errors.New("exit status 1")
			e.transcriber.result.ExitCode = 1
		}, apperr.ErrProcessing},
		{"probe failure", true, func(e *subtitleEnv) { e.ffmpeg.probeErr = errors.New("boom") }, apperr.ErrProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newSubtitleEnv(t, tt.speech)
			tt.setup(env)

			_, err := env.svc.Get(context.Background(), "vid.mp4")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Get() error = %v, want %v", err, tt.wantErr)
			}
			if errors.Is(tt.wantErr, apperr.ErrProcessing) && errors.Is(err, ErrNoSubtitles) {
				t.Error("backend failure must be distinct from no subtitles")
			}
			if env.store.Exists(storage.Subtitles, "vid.srt") {
				t.Error("failed extraction must not write the cache")
			}
			assertNoPending(t, env.store)
		})
	}
}

func TestErrNoSubtitlesIsNotFound(t *testing.T) {
	if !errors.Is(ErrNoSubtitles, apperr.ErrNotFound) {
		t.Fatal("ErrNoSubtitles should classify as not found")
	}
}

func TestGet_ConcurrentCallsExtractOnce(t *testing.T) {
	env := newSubtitleEnv(t, false)
	env.withEmbedded("eng")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Get(context.Background(), "vid.mp4")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Get() #%d error = %v", i, err)
		}
	}
	if n := env.ffmpeg.extracts.Load(); n != 1 {
		t.Errorf("extracts = %d, want 1", n)
	}
}

func TestPrepare(t *testing.T) {
	env := newSubtitleEnv(t, false)
	if err := env.svc.Prepare(context.Background(), "vid.mp4"); !errors.Is(err, ErrNoSubtitles) {
		t.Fatalf("Prepare() error = %v, want ErrNoSubtitles", err)
	}
	env.withEmbedded("")
	if err := env.svc.Prepare(context.Background(), "vid.mp4"); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !env.store.Exists(storage.Subtitles, "vid.srt") {
		t.Error("Prepare() should fill the cache")
	}
}

func assertNoPending(t *testing.T, store *storage.Store) {
	t.Helper()
	entries, err := os.ReadDir(store.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir has %d leftover files", len(entries))
	}
}
