package cmd

import (
	"log"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/labsync/agent/pkg/mcpstatus"
	"github.com/labsync/agent/pkg/taskqueue"
	"github.com/labsync/agent/pkg/uploader"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run a read-only MCP server exposing queue depth, recent audits, and per-file sync status",
	Long: `Run a Model Context Protocol (MCP) server over stdio exposing labsync's queue state as tools.
Lets an operator's LLM tooling ask "why hasn't file X synced" without shelling into the workstation.

Tools exposed:
- queue_depth: PENDING/RETRY task counts
- recent_audits: most recently queued audit events
- check_file_status: queue and server status for one watch-root-relative path

Example MCP client configuration:
{
  "mcpServers": {
    "labsync": {
      "command": "/path/to/labsync",
      "args": ["mcp"]
    }
  }
}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logEntry, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := taskqueue.Open(cfg.DBPath, taskqueue.Options{Log: logEntry})
		if err != nil {
			return err
		}
		defer store.Close()

		client := uploader.New(cfg.ServerBaseURL(), cfg.AuthToken, cfg.InstrumentAlias, uploader.Options{Log: logEntry})

		s := server.NewMCPServer(
			"labsync",
			rootCmd.Version,
			server.WithToolCapabilities(false),
			server.WithInstructions("Read-only status tools for the labsync file-sync agent. Use queue_depth first to see whether the agent is backed up."),
		)

		if err := mcpstatus.RegisterAll(s, mcpstatus.Config{WatchRoot: cfg.WatchDir, Store: store, Client: client}); err != nil {
			log.Fatalf("failed to register MCP tools: %v", err)
		}

		return server.ServeStdio(s)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
