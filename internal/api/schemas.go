package api

import (
	"encoding/json"
	"time"

	"github.com/movieshorts/movieshorts/internal/analysis"
	"github.com/movieshorts/movieshorts/internal/catalog"
	"github.com/movieshorts/movieshorts/internal/subtitle"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State        string                  `json:"state"`
	LastError    string                  `json:"last_error,omitempty"`
	VideosCount  int                     `json:"videos_count"`
	CutsCount    int                     `json:"cuts_count"`
	JobsRunning  int                     `json:"jobs_running"`
	JobsPending  int                     `json:"jobs_pending"`
	CutMode      string                  `json:"cut_mode"`
	Analyzer     string                  `json:"analyzer,omitempty"`
	RequireToken bool                    `json:"require_token"`
	Runner       *RunnerResponse         `json:"runner,omitempty"`
	Pipelines    *PipelineStatusResponse `json:"pipelines,omitempty"`
}

type RunnerResponse struct {
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
}

type PipelineStatusResponse struct {
	HasSpeech   bool   `json:"has_speech"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
	DepsAvail   int    `json:"deps_available"`
	DepsTotal   int    `json:"deps_total"`
}

type UploadResponse struct {
	Filename     string  `json:"filename"`
	OriginalName string  `json:"original_name"`
	Duration     float64 `json:"duration"`
	MediaType    string  `json:"media_type"`
	Size         int64   `json:"size"`
	URL          string  `json:"url"`
}

// CutRequest uses pointers so that a missing field is distinguishable from 0.
type CutRequest struct {
	Filename  string   `json:"filename"`
	StartTime *float64 `json:"startTime"`
	EndTime   *float64 `json:"endTime"`
}

type CutResponse struct {
	Message         string  `json:"message"`
	CutFilename     string  `json:"cut_filename"`
	URL             string  `json:"url"`
	Mode            string  `json:"mode"`
	KeyframeAligned bool    `json:"keyframe_aligned"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	Size            int64   `json:"size"`
}

type SubtitlesResponse struct {
	Subtitles []subtitle.Entry `json:"subtitles"`
	Source    string           `json:"source"`
	Language  string           `json:"language,omitempty"`
}

// AnalyzeRequest keeps subtitles raw so that a missing or non-array value
// can be rejected before decoding the cues.
type AnalyzeRequest struct {
	Subtitles json.RawMessage `json:"subtitles"`
}

type AnalyzeResponse struct {
	Sections []analysis.Section `json:"sections"`
}

type VideoResponse struct {
	ID           string  `json:"id"`
	OriginalName string  `json:"original_name"`
	MediaType    string  `json:"media_type"`
	Size         int64   `json:"size"`
	Duration     float64 `json:"duration"`
	CreatedAt    string  `json:"created_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type CutSummaryResponse struct {
	ID        string  `json:"id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Duration  float64 `json:"duration"`
	Mode      string  `json:"mode"`
	MediaType string  `json:"media_type"`
	Size      int64   `json:"size"`
	URL       string  `json:"url"`
	CreatedAt string  `json:"created_at"`
}

type VideoCutsResponse struct {
	Video VideoResponse        `json:"video"`
	Cuts  []CutSummaryResponse `json:"cuts"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	VideoID   string `json:"video_id,omitempty"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(v *catalog.Video) VideoResponse {
	return VideoResponse{
		ID:           v.ID,
		OriginalName: v.OriginalName,
		MediaType:    v.MediaType,
		Size:         v.Size,
		Duration:     v.Duration,
		CreatedAt:    v.CreatedAt.Format(time.RFC3339),
	}
}

func CutToResponse(c *catalog.Cut) CutSummaryResponse {
	return CutSummaryResponse{
		ID:        c.ID,
		Start:     c.Start,
		End:       c.End,
		Duration:  c.Duration(),
		Mode:      c.Mode,
		MediaType: c.MediaType,
		Size:      c.Size,
		URL:       cutURL(c.ID),
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		VideoID:   j.VideoID,
		Progress:  j.Progress,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func uploadURL(id string) string { return "/uploads/" + id }
func cutURL(id string) string    { return "/cuts/" + id }
