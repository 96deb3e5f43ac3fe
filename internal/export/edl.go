package export

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/movieshorts/movieshorts/internal/catalog"
)

// DefaultFrameRate is used when the caller gives no usable rate.
const DefaultFrameRate = 30.0

// GenerateEDL renders clips as a CMX3600 edit decision list. Record times
// are laid end to end in clip order.
func GenerateEDL(clips []Clip, title string, frameRate float64) string {
	if frameRate <= 0 || math.IsNaN(frameRate) || math.IsInf(frameRate, 0) {
		frameRate = DefaultFrameRate
	}
	tc := newTimecoder(frameRate)

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if tc.drop > 0 {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	recordOffsetMs := 0
	for i, clip := range clips {
		durationMs := clip.endMs() - clip.startMs()
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, reelName(i), "AA/V",
				tc.format(clip.startMs()), tc.format(clip.endMs()),
				tc.format(recordOffsetMs), tc.format(recordOffsetMs+durationMs)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.Name),
			fmt.Sprintf("* SOURCE FILE:  %s", clip.Source),
		)
		recordOffsetMs += durationMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// ClipsFromCuts lists a video's cuts in the order they were made, named
// after the video's original file.
func ClipsFromCuts(video *catalog.Video, cuts []*catalog.Cut) []Clip {
	ordered := slices.Clone(cuts)
	slices.SortStableFunc(ordered, func(a, b *catalog.Cut) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	base := SanitizeName(catalog.BaseName(video.OriginalName), 48)
	if base == "" {
		base = catalog.BaseName(video.ID)
	}

	clips := make([]Clip, 0, len(ordered))
	for i, c := range ordered {
		clips = append(clips, Clip{
			Name:   fmt.Sprintf("%s cut %d", base, i+1),
			Source: video.OriginalName,
			Start:  c.Start,
			End:    c.End,
		})
	}
	return clips
}

// reelName numbers reels so that each event has its own source.
func reelName(i int) string {
	return fmt.Sprintf("AX%03d", i+1)
}

func secondsToMs(s float64) int {
	if s < 0 || math.IsNaN(s) {
		return 0
	}
	return int(math.Round(s * 1000))
}

type timecoder struct {
	rate    float64
	nominal int
	drop    int
}

func newTimecoder(rate float64) timecoder {
	tc := timecoder{rate: rate, nominal: int(math.Round(rate))}
	if tc.nominal <= 0 {
		tc.nominal = int(DefaultFrameRate)
	}
	// 29.97 drops 2 frame numbers a minute, 59.94 drops 4
	if math.Abs(rate-29.97) < 0.01 || math.Abs(rate-59.94) < 0.01 {
		tc.drop = tc.nominal / 15
	}
	return tc
}

func (tc timecoder) format(ms int) string {
	frames := int(math.Round(float64(ms) * tc.rate / 1000.0))
	sep := ":"
	if tc.drop > 0 {
		frames = tc.dropFrameNumber(frames)
		sep = ";"
	}

	ff := frames % tc.nominal
	totalSeconds := frames / tc.nominal
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, sep, ff)
}

// dropFrameNumber converts an elapsed frame count to the frame number shown
// in drop-frame timecode. Numbers are skipped at the start of every minute
// except each tenth.
func (tc timecoder) dropFrameNumber(frames int) int {
	perMinute := tc.nominal*60 - tc.drop
	perTenMinutes := tc.nominal*600 - tc.drop*9

	tens := frames / perTenMinutes
	rem := frames % perTenMinutes
	skipped := tc.drop * 9 * tens
	if rem > tc.drop {
		skipped += tc.drop * ((rem - tc.drop) / perMinute)
	}
	return frames + skipped
}
