package analysis

import (
	"slices"
	"strings"
)

// Sanitize clamps sections to [0, span], drops empty or inverted ranges,
// normalises the type label and orders the result by start. At most limit
// sections are kept when limit is positive.
func Sanitize(sections []Section, span float64, limit int) []Section {
	out := make([]Section, 0, len(sections))
	for _, s := range sections {
		if !finite(s.Start) || !finite(s.End) {
			continue
		}
		s.Start = min(max(s.Start, 0), span)
		s.End = min(max(s.End, 0), span)
		if s.End <= s.Start {
			continue
		}
		s.Type = normalizeType(s.Type)
		out = append(out, s)
	}

	slices.SortStableFunc(out, func(a, b Section) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case strings.HasPrefix(t, TypeFunny):
		return TypeFunny
	case strings.HasPrefix(t, TypeEmotional):
		return TypeEmotional
	default:
		return TypeInformative
	}
}
