package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/movieshorts/movieshorts/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "movieshorts",
	Short:         "Upload videos, cut short clips and extract subtitles",
	Version:       fmt.Sprintf("%s (commit %s, built %s)", config.Version, config.GitCommit, config.BuildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
