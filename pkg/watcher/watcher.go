// Package watcher subscribes recursively to the watch root via fsnotify and
// classifies raw OS events into task-store operations and audit records
// (C4), per the event table in spec.md §4.4.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/labsync/agent/pkg/fsutil"
	"github.com/labsync/agent/pkg/taskqueue"
)

// renameCorrelateWindow bounds how long we wait for the Create half of a
// rename before giving up and treating the Remove/Rename half as a delete.
// fsnotify (unlike watchdog) never hands us a single combined move event,
// so a short correlation window is how we reconstruct one.
const renameCorrelateWindow = 300 * time.Millisecond

// Enqueuer is the subset of *taskqueue.Store the watcher needs. Modeled as
// an interface so tests can substitute an in-memory fake.
type Enqueuer interface {
	Add(ctx context.Context, action taskqueue.Action, localPath, relPath string, extra any) (int64, error)
}

// Toucher is the subset of *debounce.Scanner the watcher needs.
type Toucher interface {
	Touch(path string)
}

// Watcher owns the fsnotify subscription and turns its events into queue
// operations.
type Watcher struct {
	root      string
	machineID string
	queue     Enqueuer
	debouncer Toucher
	log       *logrus.Entry

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	dirs    map[string]struct{} // currently-watched directories, for is-dir lookups on Remove
	pending []pendingRename
}

type pendingRename struct {
	oldPath string
	timer   *time.Timer
}

// New constructs a Watcher rooted at root. Call Start to begin the
// recursive subscription.
func New(root, machineID string, queue Enqueuer, debouncer Toucher, log *logrus.Entry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Watcher{
		root:      root,
		machineID: machineID,
		queue:     queue,
		debouncer: debouncer,
		log:       log,
		fsw:       fsw,
		dirs:      make(map[string]struct{}),
	}, nil
}

// Start walks root, registers a watch on every non-ignored directory, and
// begins processing events on a dedicated goroutine. It returns once the
// initial walk completes; event processing continues until ctx is done or
// Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && fsutil.ShouldIgnore(d.Name()) {
			return filepath.SkipDir
		}
		return w.addDir(path)
	}); err != nil {
		return err
	}

	go w.run(ctx)
	return nil
}

func (w *Watcher) addDir(path string) error {
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	w.mu.Lock()
	w.dirs[path] = struct{}{}
	w.mu.Unlock()
	return nil
}

func (w *Watcher) removeDir(path string) {
	w.mu.Lock()
	delete(w.dirs, path)
	w.mu.Unlock()
	_ = w.fsw.Remove(path)
}

func (w *Watcher) isWatchedDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.dirs[path]
	return ok
}

// Close stops the fsnotify subscription.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("⚠️ watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)

	switch {
	case ev.Has(fsnotify.Rename):
		w.onRenameHalf(ev.Name)

	case ev.Has(fsnotify.Create):
		if matched := w.matchRenameHalf(ev.Name); matched != "" {
			w.onMoved(matched, ev.Name)
			return
		}
		w.onCreated(ev.Name, name)

	case ev.Has(fsnotify.Write):
		w.onModified(ev.Name)

	case ev.Has(fsnotify.Remove):
		w.onRemoved(ev.Name)

	case ev.Has(fsnotify.Chmod):
		// Metadata-only changes never affect file content; nothing to sync.
	}
}

func (w *Watcher) onRenameHalf(oldPath string) {
	timer := time.AfterFunc(renameCorrelateWindow, func() {
		w.flushRenameTimeout(oldPath)
	})
	w.mu.Lock()
	w.pending = append(w.pending, pendingRename{oldPath: oldPath, timer: timer})
	w.mu.Unlock()
}

// matchRenameHalf pops the oldest pending rename half, if any, to pair with
// a just-seen Create event. Returns "" when there is nothing to correlate.
func (w *Watcher) matchRenameHalf(newPath string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return ""
	}
	p := w.pending[0]
	w.pending = w.pending[1:]
	p.timer.Stop()
	return p.oldPath
}

func (w *Watcher) flushRenameTimeout(oldPath string) {
	w.mu.Lock()
	for i, p := range w.pending {
		if p.oldPath == oldPath {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			break
		}
	}
	w.mu.Unlock()
	// No Create arrived to pair with: the path left the watch tree. Treat
	// like any other delete.
	w.onRemoved(oldPath)
}

func (w *Watcher) onCreated(path, name string) {
	if fsutil.ShouldIgnore(name) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		// Vanished between event and stat; nothing stable to report.
		return
	}
	if info.IsDir() {
		rel, relErr := fsutil.RelPath(w.root, path)
		if relErr != nil {
			return
		}
		_ = w.addDir(path)
		if _, err := w.queue.Add(context.Background(), taskqueue.ActionMkdir, "", rel, struct{}{}); err != nil && err != taskqueue.ErrDuplicate {
			w.log.WithError(err).Error("❌ failed to enqueue MKDIR task")
		}
		return
	}

	if fsutil.IsPlaceholder(name) {
		if info.Size() == 0 {
			return
		}
	}
	w.debouncer.Touch(path)
	w.audit("CREATED", path, "")
}

func (w *Watcher) onModified(path string) {
	name := filepath.Base(path)
	if fsutil.ShouldIgnore(name) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	w.debouncer.Touch(path)
}

func (w *Watcher) onMoved(srcPath, dstPath string) {
	srcName, dstName := filepath.Base(srcPath), filepath.Base(dstPath)
	srcIgnored, dstIgnored := fsutil.ShouldIgnore(srcName), fsutil.ShouldIgnore(dstName)

	switch {
	case srcIgnored && dstIgnored:
		return
	case srcIgnored && !dstIgnored:
		// The visible name only appears at the destination: nothing was
		// tracking the ignored source, so there's no rename to record. Just
		// touch the destination if it's a file; directories get no task.
		if info, err := os.Stat(dstPath); err == nil && !info.IsDir() {
			w.debouncer.Touch(dstPath)
		}
		return
	}

	oldRel, oldErr := fsutil.RelPath(w.root, srcPath)
	newRel, newErr := fsutil.RelPath(w.root, dstPath)
	if oldErr != nil || newErr != nil {
		return
	}

	if info, err := os.Stat(dstPath); err == nil && info.IsDir() {
		w.removeDir(srcPath)
		_ = w.addDir(dstPath)
	}

	if _, err := w.queue.Add(context.Background(), taskqueue.ActionRename, "", oldRel, taskqueue.RenameExtra{NewPath: newRel}); err != nil && err != taskqueue.ErrDuplicate {
		w.log.WithError(err).Error("❌ failed to enqueue RENAME task")
	}
	w.audit("MOVED", dstPath, srcPath)
}

func (w *Watcher) onRemoved(path string) {
	name := filepath.Base(path)
	if fsutil.ShouldIgnore(name) {
		return
	}
	rel, err := fsutil.RelPath(w.root, path)
	if err != nil {
		return
	}
	isDir := w.isWatchedDir(path)
	if isDir {
		w.removeDir(path)
	}

	if _, err := w.queue.Add(context.Background(), taskqueue.ActionDelete, "", rel, taskqueue.DeleteExtra{IsDir: isDir}); err != nil && err != taskqueue.ErrDuplicate {
		w.log.WithError(err).Error("❌ failed to enqueue DELETE task")
	}
	w.audit("DELETED", path, "")
}
