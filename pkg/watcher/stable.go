package watcher

import (
	"context"
	"os"
	"strings"

	"github.com/labsync/agent/pkg/fsutil"
	"github.com/labsync/agent/pkg/taskqueue"
)

// ProcessStableFile implements the stable-handler policy from spec.md
// §4.3: re-check existence and non-directory-ness, probe for an exclusive
// writer, fingerprint the content, and enqueue an UPLOAD task. It is meant
// to be driven by a debounce.Scanner's Stable() channel, run on the
// scanner's own goroutine (not the fsnotify event goroutine), matching
// where process_stable_file runs in the Python source.
func (w *Watcher) ProcessStableFile(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	rel, err := fsutil.RelPath(w.root, path)
	if err != nil {
		return
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		if isSharingViolation(err) {
			// The writer is still holding the file open; wait for the next
			// stable window instead of uploading a partial write.
			w.debouncer.Touch(path)
			return
		}
		return
	}
	f.Close()

	md5sum, ok := fsutil.Fingerprint(path)
	if !ok {
		return
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9

	if _, err := w.queue.Add(context.Background(), taskqueue.ActionUpload, path, rel, taskqueue.UploadExtra{MD5: md5sum, MTime: mtime}); err != nil && err != taskqueue.ErrDuplicate {
		w.log.WithError(err).Error("❌ failed to enqueue UPLOAD task")
	}
}

// isSharingViolation reports whether err looks like another process still
// holds the file open for writing. Per the open question in spec.md §9,
// an exclusive-open probe only reliably detects this on Windows; on POSIX
// systems append-mode opens almost always succeed regardless of other
// writers, so this check is best-effort.
func isSharingViolation(err error) bool {
	if os.IsPermission(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sharing violation") || strings.Contains(msg, "used by another process")
}
