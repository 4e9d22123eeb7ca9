package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/labsync/agent/internal/labslog"
	"github.com/labsync/agent/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "labsync",
	Short:   "labsync - lab-instrument file sync agent",
	Version: "v1.0.0",
	Long:    "labsync watches an instrument's output directory and reliably uploads new and changed files to the ingestion server.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "labsync: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to client config JSON (default: <executable dir>/client_config.json)")
}

// loadConfig resolves the config document and a ready logger, used by every
// subcommand that touches the queue, watcher, or uploader.
func loadConfig() (config.Config, *logrus.Entry, error) {
	exeDir := config.ExecutableDir()
	path := configPath
	if path == "" {
		path = filepath.Join(exeDir, "client_config.json")
	}

	cfg, err := config.Load(path, exeDir)
	if err != nil {
		// Defaults are already in cfg; log and continue per spec.md §7.
		fmt.Fprintf(os.Stderr, "labsync: warning: %v\n", err)
	}

	logger, logErr := labslog.New(cfg.LogPath)
	entry := logrus.NewEntry(logger)
	if logErr != nil {
		entry.WithError(logErr).Warn("⚠️ could not open log file, logging to stdout only")
	}
	return cfg, entry, nil
}
