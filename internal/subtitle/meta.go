package subtitle

import (
	"encoding/json"

	"github.com/movieshorts/movieshorts/internal/storage"
)

// trackMeta is stored next to the cached SRT file.
type trackMeta struct {
	Source   string `json:"source"`
	Language string `json:"language,omitempty"`
	Entries  int    `json:"entries"`
}

func (s *Service) writeMeta(t *Track) error {
	data, err := json.Marshal(trackMeta{Source: t.Source, Language: t.Language, Entries: len(t.Entries)})
	if err != nil {
		return err
	}
	return s.store.WriteFile(storage.Subtitles, metaName(t.VideoID), data)
}

func (s *Service) readMeta(videoID string) (*trackMeta, error) {
	data, err := s.store.ReadFile(storage.Subtitles, metaName(videoID))
	if err != nil {
		return nil, err
	}
	var m trackMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
