// Package diagnostics gathers a point-in-time snapshot of agent health for
// `labsync doctor`: queue depth by status, recent audit activity, and
// server reachability. Kept independent of cmd/ so it's testable without a
// cobra harness.
package diagnostics

import (
	"context"
	"database/sql"
	"time"

	"github.com/labsync/agent/pkg/taskqueue"
	"github.com/labsync/agent/pkg/uploader"
)

// QueueDepth counts tasks by status.
type QueueDepth struct {
	Pending int `yaml:"pending"`
	Retry   int `yaml:"retry"`
}

// AuditRecord is a trimmed view of a pending AUDIT task, for the "recent
// audit events" section of the doctor dump.
type AuditRecord struct {
	Event     string `yaml:"event"`
	Path      string `yaml:"path"`
	Timestamp string `yaml:"timestamp"`
}

// Snapshot is the full point-in-time report rendered as YAML by
// `labsync doctor`.
type Snapshot struct {
	WatchRoot         string        `yaml:"watch_root"`
	QueueDepth        QueueDepth    `yaml:"queue_depth"`
	RecentAudits      []AuditRecord `yaml:"recent_audits"`
	ServerReachable   bool          `yaml:"server_reachable"`
	ServerCheckError  string        `yaml:"server_check_error,omitempty"`
}

// QueueDepthFromDB counts PENDING and RETRY rows directly against the
// store's database handle. taskqueue.Store doesn't expose row counts
// itself (the worker never needs them), so diagnostics reads the same
// table read-only rather than growing the store's public surface for one
// reporting command.
func QueueDepthFromDB(ctx context.Context, db *sql.DB) (QueueDepth, error) {
	var depth QueueDepth
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = ?`, taskqueue.StatusPending)
	if err := row.Scan(&depth.Pending); err != nil {
		return QueueDepth{}, err
	}
	row = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = ?`, taskqueue.StatusRetry)
	if err := row.Scan(&depth.Retry); err != nil {
		return QueueDepth{}, err
	}
	return depth, nil
}

// RecentAuditsFromDB returns up to limit pending AUDIT tasks, newest first.
func RecentAuditsFromDB(ctx context.Context, db *sql.DB, limit int) ([]AuditRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT extra FROM tasks WHERE action = ? ORDER BY created_at DESC LIMIT ?`,
		taskqueue.ActionAudit, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		extra, err := taskqueue.DecodeExtra(taskqueue.ActionAudit, []byte(raw))
		if err != nil {
			continue
		}
		audit, ok := extra.(taskqueue.AuditExtra)
		if !ok {
			continue
		}
		records = append(records, AuditRecord{Event: audit.Event, Path: audit.Path, Timestamp: audit.Timestamp})
	}
	return records, rows.Err()
}

// CheckServerReachable makes a lightweight integrity check against a path
// that should never legitimately exist, just to exercise the connection.
// The server is expected to answer 200 with an UNKNOWN/MISMATCH status for
// any path it doesn't recognize; a failed call (transport error, non-2xx)
// means it's unreachable or misbehaving.
func CheckServerReachable(ctx context.Context, client *uploader.Client) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, ok := client.CheckIntegrity(ctx, "__labsync_doctor_probe__", "0")
	if !ok {
		return false, nil
	}
	return true, nil
}

// Gather assembles a full Snapshot.
func Gather(ctx context.Context, watchRoot string, store *taskqueue.Store, client *uploader.Client) Snapshot {
	snap := Snapshot{WatchRoot: watchRoot}

	if depth, err := QueueDepthFromDB(ctx, store.DB()); err == nil {
		snap.QueueDepth = depth
	}
	if audits, err := RecentAuditsFromDB(ctx, store.DB(), 10); err == nil {
		snap.RecentAudits = audits
	}

	reachable, _ := CheckServerReachable(ctx, client)
	snap.ServerReachable = reachable
	return snap
}
