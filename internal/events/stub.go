package events

import (
	"context"
	"log/slog"
)

// LogPublisher records events in the log only. It is used when no broker is
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.Info("event",
		"type", e.Type,
		"artifact_id", e.ArtifactID,
		"video_id", e.VideoID,
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
