// Package worker implements the single-consumer loop (C6) that dequeues
// due tasks and dispatches them to the uploader.
package worker

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/labsync/agent/pkg/taskqueue"
	"github.com/labsync/agent/pkg/uploader"
)

// Defaults match start_sync_worker's idle poll and failure throttle.
const (
	DefaultIdleSleep = 1 * time.Second
	DefaultFailSleep = 3 * time.Second
)

// Queue is the subset of *taskqueue.Store the worker needs.
type Queue interface {
	TakeDue(ctx context.Context) (taskqueue.Task, bool, error)
	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64) error
	FailConflict(ctx context.Context, id int64) error
}

// Uploader is the subset of *uploader.Client the worker needs.
type Uploader interface {
	SendAudit(ctx context.Context, extra taskqueue.AuditExtra) bool
	SendOperation(ctx context.Context, action taskqueue.Action, relPath string, extra any) bool
	UploadFileChunked(ctx context.Context, localPath, relPath, md5 string, mtime float64, progress uploader.ProgressFunc) uploader.UploadOutcome
}

// Worker is the single background sync loop.
type Worker struct {
	queue     Queue
	client    Uploader
	log       *logrus.Entry
	idleSleep time.Duration
	failSleep time.Duration
}

// New constructs a Worker.
func New(queue Queue, client Uploader, log *logrus.Entry) *Worker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Worker{
		queue:     queue,
		client:    client,
		log:       log,
		idleSleep: DefaultIdleSleep,
		failSleep: DefaultFailSleep,
	}
}

// Run drives the worker loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("🚀 sync worker started")
	for {
		if ctx.Err() != nil {
			return
		}

		task, ok, err := w.queue.TakeDue(ctx)
		if err != nil {
			w.log.WithError(err).Error("❌ failed to read next task")
			if !sleepCtx(ctx, w.idleSleep) {
				return
			}
			continue
		}
		if !ok {
			if !sleepCtx(ctx, w.idleSleep) {
				return
			}
			continue
		}

		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task taskqueue.Task) {
	extra, err := taskqueue.DecodeExtra(task.Action, task.Extra)
	if err != nil {
		w.log.WithError(err).Errorf("❌ dropping task %d with unrecognized payload", task.ID)
		_ = w.queue.Fail(ctx, task.ID)
		sleepCtx(ctx, w.failSleep)
		return
	}

	success, conflict := w.dispatch(ctx, task, extra)

	switch {
	case success:
		if err := w.queue.Complete(ctx, task.ID); err != nil {
			w.log.WithError(err).Error("❌ failed to mark task complete")
		}
		w.log.Infof("✅ done: %s %s", task.Action, task.RelPath)
	case conflict:
		// Terminal-ish: don't hot-loop on a conflict the server will keep
		// rejecting. See taskqueue.ConflictRetryDelay.
		if err := w.queue.FailConflict(ctx, task.ID); err != nil {
			w.log.WithError(err).Error("❌ failed to schedule conflict retry")
		}
		sleepCtx(ctx, w.failSleep)
	default:
		if err := w.queue.Fail(ctx, task.ID); err != nil {
			w.log.WithError(err).Error("❌ failed to record task failure")
		}
		sleepCtx(ctx, w.failSleep)
	}
}

func (w *Worker) dispatch(ctx context.Context, task taskqueue.Task, extra any) (success, conflict bool) {
	switch task.Action {
	case taskqueue.ActionUpload:
		if _, err := os.Stat(task.LocalPath); err != nil {
			// The file vanished before we got to it; a DELETE task should
			// already be queued for it, so this upload is simply moot.
			if cErr := w.queue.Complete(ctx, task.ID); cErr != nil {
				w.log.WithError(cErr).Error("❌ failed to complete vanished-file upload")
			}
			return true, false
		}
		uploadExtra, _ := extra.(taskqueue.UploadExtra)
		outcome := w.client.UploadFileChunked(ctx, task.LocalPath, task.RelPath, uploadExtra.MD5, uploadExtra.MTime, w.progressReporter(task.RelPath))
		if !outcome.Success && outcome.Conflict {
			w.log.Errorf("❌ integrity conflict: %s (server copy exists and differs)", task.RelPath)
			return false, true
		}
		if !outcome.Success {
			w.log.Errorf("❌ upload failed code=%d: %s", outcome.Status, task.RelPath)
		}
		return outcome.Success, false

	case taskqueue.ActionAudit:
		auditExtra, _ := extra.(taskqueue.AuditExtra)
		return w.client.SendAudit(ctx, auditExtra), false

	case taskqueue.ActionMkdir, taskqueue.ActionDelete, taskqueue.ActionRename:
		return w.client.SendOperation(ctx, task.Action, task.RelPath, extra), false

	default:
		w.log.Errorf("❌ unhandled action %s for task %d", task.Action, task.ID)
		return false, false
	}
}

// progressReporter reports at 0%, 100%, and roughly every 20% in between —
// never per-chunk on large files, per spec.md §4.6.
func (w *Worker) progressReporter(relPath string) uploader.ProgressFunc {
	return func(done, total int) {
		if total == 0 {
			return
		}
		step := total / 5
		if total < 5 || done == total || (step > 0 && done%step == 0) {
			percent := float64(done) / float64(total) * 100
			w.log.Infof("    ⏳ progress: %.0f%% (%d/%d) %s", percent, done, total, relPath)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
