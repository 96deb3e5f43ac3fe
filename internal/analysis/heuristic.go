package analysis

import (
	"context"
	"slices"
	"strings"
	"unicode"
)

const (
	minWindow = 60.0
	maxWindow = 70.0
)

var keywords = map[string][]string{
	TypeFunny: {
		"laugh", "laughing", "haha", "lol", "funny", "joke", "joking", "hilarious",
		"ridiculous", "silly", "crazy", "weird", "kidding", "awkward", "oops",
	},
	TypeEmotional: {
		"love", "cry", "crying", "tears", "sad", "heart", "miss", "sorry", "afraid",
		"scared", "beautiful", "proud", "hope", "lost", "thank", "family", "forever",
	},
	TypeInformative: {
		"how", "why", "because", "important", "learn", "tip", "step", "actually",
		"fact", "remember", "means", "example", "first", "key", "secret", "explain",
	},
}

// categoryOrder breaks score ties.
var categoryOrder = []string{TypeInformative, TypeFunny, TypeEmotional}

// Heuristic scores fixed-length windows of timed text by keyword hits. It
// is deterministic and needs no external service.
type Heuristic struct {
	lookup map[string]string
}

func NewHeuristic() *Heuristic {
	lookup := make(map[string]string)
	for cat, words := range keywords {
		for _, w := range words {
			lookup[w] = cat
		}
	}
	return &Heuristic{lookup: lookup}
}

func (h *Heuristic) Name() string { return "heuristic" }

type window struct {
	section Section
	score   float64
}

func (h *Heuristic) Analyze(ctx context.Context, cues []Cue, count int) ([]Section, error) {
	if len(cues) == 0 {
		return nil, nil
	}
	ordered := slices.Clone(cues)
	slices.SortStableFunc(ordered, func(a, b Cue) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	total := span(ordered)
	windows := h.windows(ordered, total)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// highest score first, earlier window on ties
	ranked := slices.Clone(windows)
	slices.SortStableFunc(ranked, func(a, b window) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	if len(ranked) > count {
		ranked = ranked[:count]
	}

	out := make([]Section, 0, len(ranked))
	for _, w := range ranked {
		out = append(out, w.section)
	}
	slices.SortFunc(out, func(a, b Section) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return out, nil
}

// windows groups consecutive cues into runs of at most maxWindow seconds,
// stretching short runs to minWindow within the span. A timeline no longer
// than maxWindow is a single window.
func (h *Heuristic) windows(cues []Cue, total float64) []window {
	if total <= maxWindow {
		return []window{h.score(cues, 0, total)}
	}

	var out []window
	for i := 0; i < len(cues); {
		start := cues[i].Start
		j := i
		end := cues[i].End
		for j+1 < len(cues) && cues[j+1].End-start <= maxWindow {
			j++
			end = max(end, cues[j].End)
		}
		end = min(max(end, start+minWindow), start+maxWindow, total)
		if end-start < minWindow {
			start = max(end-minWindow, 0)
		}
		out = append(out, h.score(cues[i:j+1], start, end))
		i = j + 1
	}
	return out
}

func (h *Heuristic) score(cues []Cue, start, end float64) window {
	hits := make(map[string]int)
	var words, total int
	for _, c := range cues {
		for _, tok := range tokenize(c.Text) {
			words++
			if cat, ok := h.lookup[tok]; ok {
				hits[cat]++
				total++
			}
		}
		total += strings.Count(c.Text, "!")
	}

	best := TypeInformative
	for _, cat := range categoryOrder {
		if hits[cat] > hits[best] {
			best = cat
		}
	}
	return window{
		section: Section{Type: best, Start: start, End: end},
		score:   float64(total) + float64(words)/1000,
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
