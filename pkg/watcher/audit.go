package watcher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/labsync/agent/pkg/fsutil"
	"github.com/labsync/agent/pkg/taskqueue"
)

// audit enqueues an AUDIT task recording a raw filesystem event,
// independent of whatever content-sync task it may also have produced.
// oldPath is only meaningful for MOVED events.
func (w *Watcher) audit(event, path, oldPath string) {
	rel, err := fsutil.RelPath(w.root, path)
	if err != nil {
		return
	}
	var oldRel string
	if oldPath != "" {
		if r, err := fsutil.RelPath(w.root, oldPath); err == nil {
			oldRel = r
		}
	}

	extra := taskqueue.AuditExtra{
		ID:        uuid.NewString(),
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		MachineID: w.machineID,
		Event:     event,
		Path:      rel,
		OldPath:   oldRel,
	}
	if _, err := w.queue.Add(context.Background(), taskqueue.ActionAudit, "", "", extra); err != nil && err != taskqueue.ErrDuplicate {
		w.log.WithError(err).Error("❌ failed to enqueue AUDIT task")
	}
}
