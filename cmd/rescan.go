package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/labsync/agent/pkg/rescan"
	"github.com/labsync/agent/pkg/taskqueue"
	"github.com/labsync/agent/pkg/uploader"
)

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Walk the watch root, compare every file against the server, and enqueue anything that differs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := taskqueue.Open(cfg.DBPath, taskqueue.Options{Log: log})
		if err != nil {
			return err
		}
		defer store.Close()

		client := uploader.New(cfg.ServerBaseURL(), cfg.AuthToken, cfg.InstrumentAlias, uploader.Options{Log: log})
		scanner := rescan.New(cfg.WatchDir, store, client, log)

		result, err := scanner.Run(context.Background())
		if err != nil {
			return err
		}
		log.Infof("🔍 rescan done: scanned=%d enqueued=%d skipped=%d", result.Scanned, result.Enqueued, result.Skipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rescanCmd)
}
