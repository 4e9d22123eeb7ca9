// Package mcpstatus exposes the agent's queue and audit state as read-only
// MCP tools, so an operator's LLM tooling can ask "why hasn't file X
// synced" without shelling into the workstation. It never mutates the
// queue.
package mcpstatus

import (
	"context"
	"encoding/json"
	"fmt"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/labsync/agent/pkg/diagnostics"
	"github.com/labsync/agent/pkg/taskqueue"
	"github.com/labsync/agent/pkg/uploader"
)

// Config bundles what the status tools need to read current agent state.
type Config struct {
	WatchRoot string
	Store     *taskqueue.Store
	Client    *uploader.Client
}

// RegisterAll registers the three read-only status tools with s.
func RegisterAll(s *server.MCPServer, config Config) error {
	queueDepthTool := gomcp.NewTool("queue_depth",
		gomcp.WithDescription(`Report how many sync tasks are PENDING vs RETRY right now. Response: {pending,retry}. Use this first to check whether the agent is backed up or caught up.`),
	)
	s.AddTool(queueDepthTool, QueueDepthTool(config))

	recentAuditsTool := gomcp.NewTool("recent_audits",
		gomcp.WithDescription(`List the most recent file-change audit events still queued for delivery, newest first. Response: {audits:[{event,path,timestamp}]}.`),
		gomcp.WithNumber("limit", gomcp.Description("Maximum number of audit records to return (default 10)"), gomcp.Min(1)),
	)
	s.AddTool(recentAuditsTool, RecentAuditsTool(config))

	checkFileStatusTool := gomcp.NewTool("check_file_status",
		gomcp.WithDescription(`Look up whether a specific watch-root-relative file has a pending or retrying sync task, and ask the server directly whether its copy matches. Response: {path,queued,retryCount,serverStatus}.`),
		gomcp.WithString("path", gomcp.Required(), gomcp.Description("File path relative to the watch root, e.g. \"runs/2026-07-30/result.csv\"")),
	)
	s.AddTool(checkFileStatusTool, CheckFileStatusTool(config))

	return nil
}

// QueueDepthTool reports PENDING/RETRY counts.
func QueueDepthTool(config Config) func(context.Context, gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	return func(ctx context.Context, request gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		depth, err := diagnostics.QueueDepthFromDB(ctx, config.Store.DB())
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Error reading queue depth: %s", err)), nil
		}
		encoded, err := json.Marshal(depth)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Error marshaling response: %s", err)), nil
		}
		return gomcp.NewToolResultText(string(encoded)), nil
	}
}

// RecentAuditsTool lists queued audit events.
func RecentAuditsTool(config Config) func(context.Context, gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	return func(ctx context.Context, request gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args := request.GetArguments()
		limit := 10
		if v, ok := args["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}

		audits, err := diagnostics.RecentAuditsFromDB(ctx, config.Store.DB(), limit)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Error reading recent audits: %s", err)), nil
		}
		encoded, err := json.Marshal(struct {
			Audits []diagnostics.AuditRecord `json:"audits"`
		}{Audits: audits})
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Error marshaling response: %s", err)), nil
		}
		return gomcp.NewToolResultText(string(encoded)), nil
	}
}

// fileStatusResponse is the JSON shape returned by check_file_status.
type fileStatusResponse struct {
	Path          string `json:"path"`
	Queued        bool   `json:"queued"`
	RetryCount    int    `json:"retryCount,omitempty"`
	ServerStatus  string `json:"serverStatus,omitempty"`
}

// CheckFileStatusTool looks up one path's queue and server status.
func CheckFileStatusTool(config Config) func(context.Context, gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	return func(ctx context.Context, request gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args := request.GetArguments()
		path, ok := args["path"].(string)
		if !ok || path == "" {
			return gomcp.NewToolResultError("path parameter is required"), nil
		}

		resp := fileStatusResponse{Path: path}

		row := config.Store.DB().QueryRowContext(ctx,
			`SELECT retry_count FROM tasks WHERE rel_path = ? AND action = ? ORDER BY created_at DESC LIMIT 1`,
			path, taskqueue.ActionUpload)
		var retryCount int
		if err := row.Scan(&retryCount); err == nil {
			resp.Queued = true
			resp.RetryCount = retryCount
		}

		status, ok := config.Client.CheckIntegrity(ctx, path, "")
		if ok {
			resp.ServerStatus = status.Status
		} else {
			resp.ServerStatus = "UNKNOWN"
		}

		encoded, err := json.Marshal(resp)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Error marshaling response: %s", err)), nil
		}
		return gomcp.NewToolResultText(string(encoded)), nil
	}
}
