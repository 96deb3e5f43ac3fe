package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/movieshorts/movieshorts/internal/analysis"
	"github.com/movieshorts/movieshorts/internal/apperr"
	"github.com/movieshorts/movieshorts/internal/catalog"
	"github.com/movieshorts/movieshorts/internal/export"
	"github.com/movieshorts/movieshorts/internal/playback"
)

const (
	maxJSONBody     = 1 << 20
	maxAnalyzeBody  = 16 << 20
	maxDurationPart = 64
	maxFrameRate    = 240
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))

	r.Group(func(r chi.Router) {
		if cfg.RequireToken && cfg.Tokens != nil {
			r.Use(AuthMiddleware(cfg.Tokens, cfg.Logger))
		}

		r.Post("/upload", uploadHandler(cfg))
		r.Post("/cut", cutHandler(cfg))
		r.Post("/analyze-subtitles", analyzeHandler(cfg))
		r.Post("/jobs/pause", runnerHandler(cfg, true))
		r.Post("/jobs/resume", runnerHandler(cfg, false))
	})

	r.Get("/check-subtitles/{id}", checkSubtitlesHandler(cfg))
	r.Get("/extract-subtitles/{id}", extractSubtitlesHandler(cfg))
	r.Get("/get-subtitles/{id}", getSubtitlesHandler(cfg))

	r.Get("/uploads/{id}", serveVideoHandler(cfg))
	r.Head("/uploads/{id}", serveVideoHandler(cfg))
	r.Get("/cuts/{id}", serveCutHandler(cfg))
	r.Head("/cuts/{id}", serveCutHandler(cfg))
	r.Get("/videos", listVideosHandler(cfg))
	r.Get("/videos/{id}/cuts", listCutsHandler(cfg))
	r.Get("/videos/{id}/edl", edlHandler(cfg))

	r.Get("/jobs", listJobsHandler(cfg))
	r.Get("/jobs/{id}", getJobHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		stats, err := cfg.Catalog.Stats(ctx)
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		jobs, _ := cfg.Catalog.ListJobs(ctx, 10)

		state := "idle"
		if stats.RunningJobs > 0 {
			state = "processing"
		}
		var runner *RunnerResponse
		if cfg.Runner != nil {
			runner = runnerState(cfg.Runner)
			if runner.Paused {
				state = "paused"
			}
		}

		lastError := ""
		for _, j := range jobs {
			if j.Status == catalog.JobStatusFailed {
				lastError = j.Error
				break
			}
		}

		resp := StatusResponse{
			State:        state,
			LastError:    lastError,
			VideosCount:  stats.Videos,
			CutsCount:    stats.Cuts,
			JobsRunning:  stats.RunningJobs,
			JobsPending:  stats.PendingJobs,
			CutMode:      string(cfg.Catalog.CutMode()),
			Analyzer:     cfg.AnalyzerName,
			RequireToken: cfg.RequireToken,
			Runner:       runner,
		}

		// Peek never starts a doctor probe.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Pipelines = &PipelineStatusResponse{
					HasSpeech:   caps.HasSpeech,
					LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
					DepsAvail:   caps.Summary.Available,
					DepsTotal:   caps.Summary.Total,
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

// uploadHandler streams the "video" part of a multipart body straight into
// the store. A "duration" field is the client's own measurement, used only
// when the server cannot probe the file.
func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
		}

		mr, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "request must be multipart/form-data", CodeInvalidInput)
			return
		}

		var (
			video          *catalog.Video
			clientDuration float64
		)
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				writeServiceError(w, r, cfg.Logger, fmt.Errorf("%w: %w", apperr.Invalid("malformed multipart body"), err))
				return
			}

			switch part.FormName() {
			case "video":
				if video != nil {
					break
				}
				video, err = cfg.Catalog.Upload(ctx, catalog.UploadInput{
					Filename:       part.FileName(),
					MediaType:      part.Header.Get("Content-Type"),
					Body:           part,
					ClientDuration: clientDuration,
				})
				if err != nil {
					part.Close()
					writeServiceError(w, r, cfg.Logger, err)
					return
				}
			case "duration":
				clientDuration = readDuration(part)
			}
			part.Close()
		}

		if video == nil {
			WriteError(w, http.StatusBadRequest, "no video file in request", CodeInvalidInput)
			return
		}

		if video.Duration == 0 && clientDuration > 0 {
			if video, err = cfg.Catalog.ApplyClientDuration(ctx, video.ID, clientDuration); err != nil {
				writeServiceError(w, r, cfg.Logger, err)
				return
			}
		}

		WriteJSON(w, http.StatusOK, UploadResponse{
			Filename:     video.ID,
			OriginalName: video.OriginalName,
			Duration:     video.Duration,
			MediaType:    video.MediaType,
			Size:         video.Size,
			URL:          uploadURL(video.ID),
		})
	}
}

// readDuration returns 0 for anything that is not a positive finite number.
func readDuration(part io.Reader) float64 {
	b, err := io.ReadAll(io.LimitReader(part, maxDurationPart))
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil || math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0
	}
	return d
}

func cutHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CutRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeInvalidInput)
			return
		}
		if req.Filename == "" {
			WriteError(w, http.StatusBadRequest, "filename is required", CodeInvalidInput)
			return
		}
		if req.StartTime == nil || req.EndTime == nil {
			WriteError(w, http.StatusBadRequest, "startTime and endTime are required", CodeInvalidInput)
			return
		}

		cut, err := cfg.Catalog.Cut(r.Context(), catalog.CutInput{
			VideoID: req.Filename,
			Start:   *req.StartTime,
			End:     *req.EndTime,
		})
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}

		mode := cfg.Catalog.CutMode()
		WriteJSON(w, http.StatusOK, CutResponse{
			Message:         "video cut successfully",
			CutFilename:     cut.ID,
			URL:             cutURL(cut.ID),
			Mode:            cut.Mode,
			KeyframeAligned: mode.KeyframeAligned(),
			Start:           cut.Start,
			End:             cut.End,
			Size:            cut.Size,
		})
	}
}

func checkSubtitlesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		avail, err := cfg.Subtitles.Check(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, avail)
	}
}

func extractSubtitlesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		track, err := cfg.Subtitles.Get(ctx, chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		video, err := cfg.Catalog.GetVideo(ctx, track.VideoID)
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}

		name := export.DownloadName(video.OriginalName, catalog.BaseName(video.ID), ".srt")
		w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
		w.Header().Set("Content-Disposition", export.ContentDisposition(name))
		w.Header().Set("Content-Length", strconv.Itoa(len(track.SRT)))
		w.WriteHeader(http.StatusOK)
		w.Write(track.SRT)
	}
}

func getSubtitlesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		track, err := cfg.Subtitles.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, SubtitlesResponse{
			Subtitles: track.Entries,
			Source:    track.Source,
			Language:  track.Language,
		})
	}
}

func analyzeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnalyzeRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxAnalyzeBody)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", CodeInvalidInput)
			return
		}

		raw := bytes.TrimSpace(req.Subtitles)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			WriteError(w, http.StatusBadRequest, "subtitles is required", CodeInvalidInput)
			return
		}
		if raw[0] != '[' {
			WriteError(w, http.StatusBadRequest, "subtitles must be an array", CodeInvalidInput)
			return
		}

		var cues []analysis.Cue
		if err := json.Unmarshal(raw, &cues); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid subtitle entry: "+err.Error(), CodeInvalidInput)
			return
		}

		sections, err := cfg.Analysis.Analyze(r.Context(), cues)
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		if sections == nil {
			sections = []analysis.Section{}
		}
		WriteJSON(w, http.StatusOK, AnalyzeResponse{Sections: sections})
	}
}

func serveVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, f, info, err := cfg.Catalog.OpenVideo(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		defer f.Close()

		a := playback.Artifact{Name: video.ID, MediaType: video.MediaType, Content: f, Info: info}
		if wantsDownload(r) {
			a.Download = export.DownloadName(video.OriginalName, catalog.BaseName(video.ID), filepath.Ext(video.ID))
		}
		serveArtifact(cfg, w, r, a)
	}
}

func serveCutHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cut, f, info, err := cfg.Catalog.OpenCut(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		defer f.Close()

		a := playback.Artifact{Name: cut.ID, MediaType: cut.MediaType, Content: f, Info: info}
		if wantsDownload(r) {
			a.Download = cut.ID
		}
		serveArtifact(cfg, w, r, a)
	}
}

func wantsDownload(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("download"))
	return err == nil && v
}

func serveArtifact(cfg ServerConfig, w http.ResponseWriter, r *http.Request, a playback.Artifact) {
	if err := cfg.Playback.Serve(w, r, a); err != nil {
		// headers are already sent
		requestID, _ := r.Context().Value(RequestIDKey).(string)
		cfg.Logger.Warn("artifact transfer interrupted", "name", a.Name, "error", err, "request_id", requestID)
	}
}

func listCutsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		video, err := cfg.Catalog.GetVideo(ctx, id)
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		cuts, err := cfg.Catalog.ListCuts(ctx, video.ID)
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}

		resp := VideoCutsResponse{
			Video: VideoToResponse(video),
			Cuts:  make([]CutSummaryResponse, len(cuts)),
		}
		for i, c := range cuts {
			resp.Cuts[i] = CutToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// edlHandler exports a video's cuts as a CMX3600 edit decision list.
func edlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		fps := float64(export.DefaultFrameRate)
		if v := r.URL.Query().Get("fps"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(parsed) || parsed <= 0 || parsed > maxFrameRate {
				WriteError(w, http.StatusBadRequest, "fps must be a positive number", CodeInvalidInput)
				return
			}
			fps = parsed
		}

		video, err := cfg.Catalog.GetVideo(ctx, chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		cuts, err := cfg.Catalog.ListCuts(ctx, video.ID)
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		if len(cuts) == 0 {
			WriteError(w, http.StatusNotFound, "video has no cuts", CodeNotFound)
			return
		}

		title := catalog.BaseName(video.OriginalName)
		edl := export.GenerateEDL(export.ClipsFromCuts(video, cuts), title, fps)

		name := export.DownloadName(video.OriginalName, catalog.BaseName(video.ID), ".edl")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", export.ContentDisposition(name))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, edl)
	}
}

// listLimit reads ?limit=, defaulting to 50 and capped at 500.
func listLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 50, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, 500), true
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := listLimit(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer", CodeInvalidInput)
			return
		}

		videos, err := cfg.Catalog.ListVideos(r.Context(), limit)
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := listLimit(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer", CodeInvalidInput)
			return
		}

		jobs, err := cfg.Catalog.ListJobs(r.Context(), limit)
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Catalog.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

// runnerHandler pauses or resumes background subtitle preparation. A job
// already running finishes.
func runnerHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusNotFound, "job runner is not enabled", CodeNotFound)
			return
		}
		if pause {
			cfg.Runner.Pause()
		} else {
			cfg.Runner.Resume()
		}
		WriteJSON(w, http.StatusOK, runnerState(cfg.Runner))
	}
}

func runnerState(runner *catalog.Runner) *RunnerResponse {
	return &RunnerResponse{Running: runner.IsRunning(), Paused: runner.IsPaused()}
}
