// Package events publishes artifact lifecycle notifications so that other
// services can react to new uploads, cuts and caption tracks.
package events

import (
	"context"
	"time"
)

const (
	TypeVideoUploaded      = "video.uploaded"
	TypeCutCreated         = "cut.created"
	TypeSubtitlesExtracted = "subtitles.extracted"
)

type Event struct {
	Type       string    `json:"type"`
	ArtifactID string    `json:"artifact_id"`
	VideoID    string    `json:"video_id"`
	MediaType  string    `json:"media_type,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Duration   float64   `json:"duration,omitempty"`
	Start      *float64  `json:"start,omitempty"`
	End        *float64  `json:"end,omitempty"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
