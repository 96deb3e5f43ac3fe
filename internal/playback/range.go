// Package playback serves stored artifacts over HTTP with single byte-range
// support, so browsers can seek in videos without downloading them whole.
package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
	// ErrMultipleRanges is returned for multi-range requests, which are
	// answered with the whole body.
	ErrMultipleRanges = errors.New("multiple ranges not supported")
)

// Range is an inclusive byte range.
type Range struct {
	Start int64
	End   int64
}

func (r Range) ContentLength() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// UnsatisfiedRange is the Content-Range value sent with a 416.
func UnsatisfiedRange(total int64) string {
	return fmt.Sprintf("bytes */%d", total)
}

// ParseRange parses a Range header against a body of size bytes. An empty
// header yields (nil, nil).
func ParseRange(header string, size int64) (*Range, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	unit, rangeSet, ok := strings.Cut(header, "=")
	if !ok || strings.TrimSpace(unit) != "bytes" {
		return nil, ErrInvalidRange
	}
	if strings.Contains(rangeSet, ",") {
		return nil, ErrMultipleRanges
	}

	first, last, ok := strings.Cut(strings.TrimSpace(rangeSet), "-")
	if !ok {
		return nil, ErrInvalidRange
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	var start, end int64
	if first == "" {
		suffix, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suffix <= 0 {
			return nil, ErrInvalidRange
		}
		if size == 0 {
			return nil, ErrUnsatisfiable
		}
		start = max(size-suffix, 0)
		end = size - 1
	} else {
		var err error
		start, err = strconv.ParseInt(first, 10, 64)
		if err != nil || start < 0 {
			return nil, ErrInvalidRange
		}
		end = size - 1
		if last != "" {
			end, err = strconv.ParseInt(last, 10, 64)
			if err != nil || end < start {
				return nil, ErrInvalidRange
			}
		}
	}

	if start >= size {
		return nil, ErrUnsatisfiable
	}
	end = min(end, size-1)

	return &Range{Start: start, End: end}, nil
}
