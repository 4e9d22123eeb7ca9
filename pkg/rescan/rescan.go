// Package rescan implements the full-tree sweep (C7): walk the watch root,
// ask the server which files differ from what it already has, and enqueue
// UPLOAD tasks for anything that doesn't match. It reconciles state the
// debouncer's in-memory pending-file map loses on restart.
package rescan

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/labsync/agent/pkg/fsutil"
	"github.com/labsync/agent/pkg/taskqueue"
	"github.com/labsync/agent/pkg/uploader"
)

// Checker is the subset of *uploader.Client a rescan needs.
type Checker interface {
	CheckIntegrity(ctx context.Context, relPath, md5 string) (uploader.IntegrityStatus, bool)
}

// Enqueuer is the subset of *taskqueue.Store a rescan needs.
type Enqueuer interface {
	Add(ctx context.Context, action taskqueue.Action, localPath, relPath string, extra any) (int64, error)
}

// StatusMatch is the value CheckIntegrity returns when the server's copy
// already matches the local file; anything else (including a failed call,
// surfaced as ok=false) is treated as needing a re-upload.
const StatusMatch = "MATCH"

// Scanner walks a root directory and reconciles it against the server.
type Scanner struct {
	root    string
	queue   Enqueuer
	checker Checker
	log     *logrus.Entry
}

// New constructs a Scanner.
func New(root string, queue Enqueuer, checker Checker, log *logrus.Entry) *Scanner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scanner{root: root, queue: queue, checker: checker, log: log}
}

// Result tallies what a Run pass found.
type Result struct {
	Scanned  int
	Enqueued int
	Skipped  int
}

// Run walks the tree to completion, enqueueing an UPLOAD task for every
// file whose server-side integrity check doesn't come back MATCH.
func (s *Scanner) Run(ctx context.Context) (Result, error) {
	var result Result

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.log.WithError(err).Warnf("⚠️ skipping %s during rescan", path)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != s.root && fsutil.ShouldIgnore(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if fsutil.ShouldIgnore(name) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() == 0 && fsutil.IsPlaceholder(name) {
			s.log.Debugf("⏭️ skipping placeholder %s", path)
			return nil
		}

		result.Scanned++

		rel, err := fsutil.RelPath(s.root, path)
		if err != nil {
			return nil
		}
		md5sum, ok := fsutil.Fingerprint(path)
		if !ok {
			s.log.Warnf("⚠️ could not fingerprint %s, skipping", path)
			return nil
		}

		status, ok := s.checker.CheckIntegrity(ctx, rel, md5sum)
		if ok && status.Status == StatusMatch {
			result.Skipped++
			return nil
		}

		mtime := float64(info.ModTime().UnixNano()) / 1e9
		if _, err := s.queue.Add(ctx, taskqueue.ActionUpload, path, rel, taskqueue.UploadExtra{MD5: md5sum, MTime: mtime}); err != nil && err != taskqueue.ErrDuplicate {
			s.log.WithError(err).Errorf("❌ failed to enqueue rescan upload for %s", rel)
			return nil
		}
		result.Enqueued++
		return nil
	})
	if err != nil {
		return result, err
	}

	s.log.Infof("🔍 rescan complete: scanned=%d enqueued=%d skipped=%d", result.Scanned, result.Enqueued, result.Skipped)
	return result, nil
}
