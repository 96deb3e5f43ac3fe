package catalog

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Video struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	MediaType    string    `json:"media_type"`
	Size         int64     `json:"size"`
	Duration     float64   `json:"duration"`
	CreatedAt    time.Time `json:"created_at"`
}

type Cut struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"video_id"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Mode      string    `json:"mode"`
	MediaType string    `json:"media_type"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Cut) Duration() float64 {
	return c.End - c.Start
}

const (
	JobTypeSubtitles = "subtitles"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	VideoID   string    `json:"video_id,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Stats struct {
	Videos      int `json:"videos"`
	Cuts        int `json:"cuts"`
	RunningJobs int `json:"running_jobs"`
	PendingJobs int `json:"pending_jobs"`
}

// VideoExtensions maps accepted upload extensions to the media type served
// for them.
var VideoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
}

// VideoExt returns the lower-cased extension of filename if it is accepted.
func VideoExt(filename string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := VideoExtensions[ext]
	return ext, ok
}

// MediaTypeFor returns the media type for an artifact name by extension.
func MediaTypeFor(name string) string {
	if mt, ok := VideoExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}

func NewID() string {
	return uuid.NewString()
}

// NewVideoID returns a fresh storage identifier keeping the upload extension.
func NewVideoID(ext string) string {
	return uuid.NewString() + strings.ToLower(ext)
}

// NewCutID returns cut-<unix millis>-<6 hex>-<video id>. The random part keeps
// ids distinct when two cuts of one video land in the same millisecond.
func NewCutID(videoID string, now time.Time) (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random cut suffix: %w", err)
	}
	return fmt.Sprintf("cut-%d-%s-%s", now.UnixMilli(), hex.EncodeToString(b), videoID), nil
}

// BaseName strips the extension from an artifact or file name.
func BaseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
