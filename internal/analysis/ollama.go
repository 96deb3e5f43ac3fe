package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama asks a local Ollama model for sections through /api/generate.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *Ollama) Name() string { return "ollama" }

const promptTemplate = `You are a Shorts editor. Below are subtitles from a video as JSON with start and end times in seconds.
Find %d engaging sections that each last 60 to 70 seconds (sections may cross subtitle boundaries).
Each section must be funny, emotional or informative.

Respond with a JSON array only, no markdown and no other text, in this exact shape:
[{"start": <seconds>, "end": <seconds>, "type": "funny|emotional|informative"}]

Subtitles:
%s
`

func (o *Ollama) Analyze(ctx context.Context, cues []Cue, count int) ([]Section, error) {
	subs, err := json.MarshalIndent(cues, "", "  ")
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"model":  o.model,
		"prompt": fmt.Sprintf(promptTemplate, count, subs),
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0.7,
			"top_p":       0.8,
			"num_ctx":     8192,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama status %d (check that model %q is pulled): %s", resp.StatusCode, o.model, strings.TrimSpace(string(body)))
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return parseSections(out.Response)
}

// parseSections reads the model output. Besides a bare array it accepts a
// single object or an object wrapping the array, which models in JSON mode
// tend to produce.
func parseSections(text string) ([]Section, error) {
	text = stripFences(text)
	if text == "" {
		return nil, fmt.Errorf("ollama returned an empty response")
	}

	var arr []Section
	if err := json.Unmarshal([]byte(text), &arr); err == nil {
		return arr, nil
	}

	var wrapper struct {
		Sections []Section `json:"sections"`
		Clips    []Section `json:"clips"`
		Segments []Section `json:"segments"`
	}
	if err := json.Unmarshal([]byte(text), &wrapper); err == nil {
		switch {
		case len(wrapper.Sections) > 0:
			return wrapper.Sections, nil
		case len(wrapper.Clips) > 0:
			return wrapper.Clips, nil
		case len(wrapper.Segments) > 0:
			return wrapper.Segments, nil
		}
	}

	var single Section
	if err := json.Unmarshal([]byte(text), &single); err == nil && single.End > single.Start {
		return []Section{single}, nil
	}

	return nil, fmt.Errorf("ollama response is not a section list: %.200s", text)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
