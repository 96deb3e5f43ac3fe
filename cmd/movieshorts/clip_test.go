package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/movieshorts/movieshorts/internal/analysis"
	"github.com/movieshorts/movieshorts/internal/client"
	"github.com/movieshorts/movieshorts/internal/session"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		value   string
		want    client.Range
		wantErr bool
	}{
		{"5:12", client.Range{Start: 5, End: 12}, false},
		{"0:0.5", client.Range{Start: 0, End: 0.5}, false},
		{" 1.25 : 3 ", client.Range{Start: 1.25, End: 3}, false},
		{"12", client.Range{}, true},
		{"a:3", client.Range{}, true},
		{"3:b", client.Range{}, true},
		{"5:5", client.Range{}, true},
		{"9:2", client.Range{}, true},
		{"-1:2", client.Range{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseRange(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRange(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseRange(%q) = %+v, want %+v", tt.value, got, tt.want)
			}
		})
	}
}

func TestPrintSession(t *testing.T) {
	s := session.Uploaded(session.State{}, session.Video{ID: "v1.mp4", Name: "trip.mp4", Duration: 20})
	s = session.CutAdded(s, "cut-1-v1.mp4")
	s = session.SubtitlesChecked(s, true, true)
	s = session.SuggestionsReceived(s, []analysis.Section{{Type: "funny", Start: 1, End: 9}})

	var buf bytes.Buffer
	printSession(&buf, "http://127.0.0.1:8787", s)
	out := buf.String()

	for _, want := range []string{"v1.mp4 (trip.mp4, 20.0s)", session.StatusSubtitlesAvailable, "funny", "http://127.0.0.1:8787/cuts/cut-1-v1.mp4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printSession(&buf, "http://x", session.State{})
	if buf.Len() != 0 {
		t.Errorf("empty session printed %q", buf.String())
	}
}
