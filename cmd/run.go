package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/labsync/agent/pkg/agent"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the sync agent (watcher, debouncer, and worker) in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		log.Infof("🚀 labsync starting: watching %s, server %s, instrument %s", cfg.WatchDir, cfg.ServerBaseURL(), cfg.InstrumentAlias)

		a, err := agent.New(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			log.Info("🛑 interrupt received")
			cancel()
		}()

		return a.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
