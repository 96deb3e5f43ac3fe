package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/movieshorts/movieshorts/internal/client"
	"github.com/movieshorts/movieshorts/internal/logging"
	"github.com/movieshorts/movieshorts/internal/session"
)

var (
	clipServer  string
	clipToken   string
	clipRanges  []string
	clipSuggest bool
	clipApply   int
	clipOut     string
)

var clipCmd = &cobra.Command{
	Use:   "clip <video>",
	Short: "Upload a video, cut ranges and download the results",
	Long: `Upload a video to a running server, cut each --range from it and
optionally ask for suggested sections based on its subtitles.

Ranges are written as start:end in seconds, e.g. --range 12.5:30`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ranges := make([]client.Range, 0, len(clipRanges))
		for _, value := range clipRanges {
			r, err := parseRange(value)
			if err != nil {
				return err
			}
			ranges = append(ranges, r)
		}

		token := clipToken
		if token == "" {
			token = os.Getenv("MOVIESHORTS_TOKEN")
		}

		c := client.New(clipServer, token, logging.NewLogger("warn"))
		s, err := c.Clip(cmd.Context(), client.ClipOptions{
			VideoPath:        args[0],
			Ranges:           ranges,
			Suggest:          clipSuggest || clipApply > 0,
			ApplySuggestions: clipApply,
			OutDir:           clipOut,
		})
		printSession(cmd.OutOrStdout(), c.BaseURL(), s)
		return err
	},
}

func init() {
	clipCmd.Flags().StringVar(&clipServer, "server", "http://127.0.0.1:8787", "server base URL")
	clipCmd.Flags().StringVar(&clipToken, "token", "", "API token (default $MOVIESHORTS_TOKEN)")
	clipCmd.Flags().StringArrayVar(&clipRanges, "range", nil, "cut range as start:end seconds, repeatable")
	clipCmd.Flags().BoolVar(&clipSuggest, "suggest", false, "ask for suggested sections")
	clipCmd.Flags().IntVar(&clipApply, "apply", 0, "cut the first N suggested sections")
	clipCmd.Flags().StringVar(&clipOut, "out", "", "directory to download cuts and subtitles into")
	rootCmd.AddCommand(clipCmd)
}

// parseRange reads "start:end" in seconds.
func parseRange(value string) (client.Range, error) {
	startStr, endStr, ok := strings.Cut(value, ":")
	if !ok {
		return client.Range{}, fmt.Errorf("invalid range %q: want start:end", value)
	}
	start, err := strconv.ParseFloat(strings.TrimSpace(startStr), 64)
	if err != nil {
		return client.Range{}, fmt.Errorf("invalid range start %q: %w", startStr, err)
	}
	end, err := strconv.ParseFloat(strings.TrimSpace(endStr), 64)
	if err != nil {
		return client.Range{}, fmt.Errorf("invalid range end %q: %w", endStr, err)
	}
	if start < 0 || end <= start {
		return client.Range{}, fmt.Errorf("invalid range %q: start must be before end", value)
	}
	return client.Range{Start: start, End: end}, nil
}

func printSession(out io.Writer, baseURL string, s session.State) {
	if s.Video == nil {
		return
	}
	fmt.Fprintf(out, "video:     %s (%s, %.1fs)\n", s.Video.ID, s.Video.Name, s.Video.Duration)
	if s.SubtitleStatus != "" {
		fmt.Fprintf(out, "subtitles: %s\n", s.SubtitleStatus)
	}
	for i, sec := range s.Suggestions {
		fmt.Fprintf(out, "suggest %d: %-12s %7.1f - %7.1f\n", i+1, sec.Type, sec.Start, sec.End)
	}
	for _, id := range s.Cuts {
		fmt.Fprintf(out, "cut:       %s\n", session.OpenShare(s, baseURL, id).Share.URL)
	}
}
