package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/labsync/agent/pkg/diagnostics"
	"github.com/labsync/agent/pkg/taskqueue"
	"github.com/labsync/agent/pkg/uploader"
)

var doctorOutputPath string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Dump a point-in-time diagnostic snapshot (queue depth, recent audits, server reachability) as YAML",
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
		snapshot := diagnostics.Gather(context.Background(), cfg.WatchDir, store, client)

		encoded, err := yaml.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshal diagnostics: %w", err)
		}

		if doctorOutputPath == "" {
			_, err = os.Stdout.Write(encoded)
			return err
		}
		return os.WriteFile(doctorOutputPath, encoded, 0o644)
	},
}

func init() {
	doctorCmd.Flags().StringVarP(&doctorOutputPath, "output", "o", "", "write the YAML snapshot to a file instead of stdout")
	rootCmd.AddCommand(doctorCmd)
}
