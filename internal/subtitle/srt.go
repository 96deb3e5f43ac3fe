// Package subtitle handles caption tracks: the SRT codec, timed-text records
// and the service that finds, extracts and caches a video's captions.
package subtitle

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/movieshorts/movieshorts/internal/pipelines"
)

// Entry is one timed-text record. Times are seconds from the start of the
// video.
type Entry struct {
	ID    int     `json:"id"`
	Start float64 `json:"startTime"`
	End   float64 `json:"endTime"`
	Text  string  `json:"text"`
}

const timingArrow = "-->"

// Parse decodes SRT data. It accepts a UTF-8 byte order mark, CRLF line
// endings and multi-line cue text, which is joined with "\n". Cues without
// a valid timing line are skipped; an entirely unparsable non-empty input is
// an error.
func Parse(data []byte) ([]Entry, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var entries []Entry
	var bad int
	for _, block := range splitBlocks(text) {
		e, ok := parseBlock(block)
		if !ok {
			bad++
			continue
		}
		entries = append(entries, e)
	}

	if len(entries) == 0 && bad > 0 {
		return nil, fmt.Errorf("no valid subtitle cues in %d blocks", bad)
	}
	return entries, nil
}

func splitBlocks(text string) [][]string {
	var blocks [][]string
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

func parseBlock(lines []string) (Entry, bool) {
	var e Entry
	i := 0
	if !strings.Contains(lines[0], timingArrow) {
		id, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			return e, false
		}
		e.ID = id
		i = 1
	}
	if i >= len(lines) {
		return e, false
	}

	start, end, ok := parseTiming(lines[i])
	if !ok {
		return e, false
	}
	e.Start, e.End = start, end

	text := make([]string, 0, len(lines)-i-1)
	for _, l := range lines[i+1:] {
		text = append(text, strings.TrimRight(l, " \t"))
	}
	e.Text = strings.Join(text, "\n")
	return e, true
}

func parseTiming(line string) (float64, float64, bool) {
	left, right, found := strings.Cut(line, timingArrow)
	if !found {
		return 0, 0, false
	}
	// position hints may follow the end time
	if f := strings.Fields(right); len(f) > 0 {
		right = f[0]
	}
	start, ok1 := parseTimestamp(strings.TrimSpace(left))
	end, ok2 := parseTimestamp(strings.TrimSpace(right))
	if !ok1 || !ok2 || end < start {
		return 0, 0, false
	}
	return start, end, true
}

// parseTimestamp reads HH:MM:SS,mmm. A '.' separator is also accepted.
func parseTimestamp(s string) (float64, bool) {
	s = strings.Replace(s, ".", ",", 1)
	hms, msPart, found := strings.Cut(s, ",")
	if !found {
		return 0, false
	}
	parts := strings.Split(hms, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.Atoi(parts[2])
	ms, err4 := strconv.Atoi(msPart)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return 0, false
	}
	if h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 || ms < 0 || len(msPart) > 3 {
		return 0, false
	}
	// "5" after the comma means 500 ms
	for i := len(msPart); i < 3; i++ {
		ms *= 10
	}
	total := int64(h)*3600000 + int64(m)*60000 + int64(sec)*1000 + int64(ms)
	return float64(total) / 1000, true
}

// Format encodes entries as SRT, numbering them from 1 in the given order.
// Times are rounded to the millisecond.
func Format(entries []Entry) []byte {
	var b bytes.Buffer
	for i, e := range entries {
		fmt.Fprintf(&b, "%d\n%s %s %s\n%s\n\n",
			i+1, formatTimestamp(e.Start), timingArrow, formatTimestamp(e.End), cleanText(e.Text))
	}
	return b.Bytes()
}

// cleanText drops blank lines, which would end the cue early.
func cleanText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func formatTimestamp(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	ms := int64(math.Round(sec * 1000))
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Normalize re-encodes SRT data into the canonical form served to clients,
// so that the file and its parsed records agree exactly.
func Normalize(data []byte) ([]byte, []Entry, error) {
	entries, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	kept := entries[:0]
	for _, e := range entries {
		if strings.TrimSpace(e.Text) != "" {
			kept = append(kept, e)
		}
	}
	canonical := Format(kept)
	out, err := Parse(canonical)
	if err != nil {
		return nil, nil, err
	}
	return canonical, out, nil
}

// FromSegments converts transcription segments into entries, dropping
// segments without text.
func FromSegments(segs []pipelines.TranscriptSegment) []Entry {
	entries := make([]Entry, 0, len(segs))
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" || s.End < s.Start {
			continue
		}
		entries = append(entries, Entry{ID: len(entries) + 1, Start: s.Start, End: s.End, Text: text})
	}
	return entries
}
