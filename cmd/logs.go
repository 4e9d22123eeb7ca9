package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"
)

var logsOpenFlag bool

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the agent's log file, or open it in the OS default app with --open",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		if logsOpenFlag {
			if err := open.Run(cfg.LogPath); err != nil {
				return fmt.Errorf("failed to open log file %s: %w", cfg.LogPath, err)
			}
			return nil
		}

		f, err := os.Open(cfg.LogPath)
		if err != nil {
			return fmt.Errorf("no log file yet at %s: %w", cfg.LogPath, err)
		}
		defer f.Close()
		_, err = io.Copy(os.Stdout, f)
		return err
	},
}

func init() {
	logsCmd.Flags().BoolVar(&logsOpenFlag, "open", false, "open the log file in the OS default app instead of printing it")
	rootCmd.AddCommand(logsCmd)
}
