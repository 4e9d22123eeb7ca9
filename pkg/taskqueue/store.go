// Package taskqueue implements the durable, single-writer task queue (C2):
// a SQLite-backed store for pending UPLOAD/MKDIR/DELETE/RENAME/AUDIT work,
// with exponential-backoff retry. Modeled on the teacher's
// pkg/embeddings/sqlite store (Open + EnsureSchema over database/sql), but
// serving the sync-task domain instead of a vector index.
package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

// DefaultMaxRetryDelay clamps the exponential backoff so retry_count does
// not grow the wait past a week, per the open question in spec.md §9.
const DefaultMaxRetryDelay = time.Hour

// Store is the durable task queue. All accesses are serialized through mu:
// the store is a single-writer system (one watcher producer, one worker
// consumer), so a single mutex is simpler and sufficient, matching
// core/database.py's threading.Lock.
type Store struct {
	mu            sync.Mutex
	db            *sql.DB
	log           *logrus.Entry
	maxRetryDelay time.Duration
}

// Options configures a Store beyond its file path.
type Options struct {
	MaxRetryDelay time.Duration
	Log           *logrus.Entry
}

// Open opens (or creates) the task queue database at path, running schema
// migrations as needed.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("taskqueue: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("taskqueue: create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: open %s: %w", path, err)
	}
	// The store has exactly one writer goroutine in practice, but SQLite
	// still serializes at the connection-pool level; cap it to be explicit.
	db.SetMaxOpenConns(1)

	maxRetryDelay := opts.MaxRetryDelay
	if maxRetryDelay <= 0 {
		maxRetryDelay = DefaultMaxRetryDelay
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Store{db: db, log: log, maxRetryDelay: maxRetryDelay}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			action         TEXT NOT NULL,
			local_path     TEXT NOT NULL DEFAULT '',
			rel_path       TEXT NOT NULL DEFAULT '',
			extra          TEXT NOT NULL DEFAULT '{}',
			status         INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL,
			next_retry_at  INTEGER NOT NULL,
			retry_count    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_next_retry ON tasks (status, next_retry_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("taskqueue: schema migration failed: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for read-only reporting callers (e.g.
// pkg/diagnostics) that need ad-hoc aggregate queries the store's own API
// doesn't provide. Callers must not write through it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ErrDuplicate is returned by Add when an UPLOAD task for the same
// local_path is already PENDING and the insert is skipped.
var ErrDuplicate = errors.New("taskqueue: duplicate upload, not enqueued")

// Add inserts a new PENDING task. For ActionUpload, if a PENDING row with
// the same LocalPath already exists, the insert is skipped and ErrDuplicate
// is returned — actions other than UPLOAD never deduplicate.
func (s *Store) Add(ctx context.Context, action Action, localPath, relPath string, extra any) (int64, error) {
	payload, err := marshalExtra(extra)
	if err != nil {
		return 0, fmt.Errorf("taskqueue: marshal extra: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if action == ActionUpload {
		var existing int64
		row := s.db.QueryRowContext(ctx,
			`SELECT id FROM tasks WHERE local_path = ? AND status = ? AND action = ?`,
			localPath, StatusPending, ActionUpload)
		switch err := row.Scan(&existing); {
		case err == nil:
			return 0, ErrDuplicate
		case errors.Is(err, sql.ErrNoRows):
			// fall through to insert
		default:
			s.log.WithError(err).Error("⚠️ dedup check failed for upload task")
			return 0, err
		}
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (action, local_path, rel_path, extra, status, created_at, next_retry_at, retry_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		string(action), localPath, relPath, string(payload), StatusPending, now, now)
	if err != nil {
		s.log.WithError(err).Error("❌ task insert failed")
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.log.Infof("📥 [enqueued] %s: %s", action, relPath)
	return id, nil
}

// TakeDue returns the single oldest task eligible for dequeue
// (status in {PENDING, RETRY} and next_retry_at <= now), without mutating
// it. ok is false when no task is currently due.
func (s *Store) TakeDue(ctx context.Context) (task Task, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, action, local_path, rel_path, extra, status, created_at, next_retry_at, retry_count
		 FROM tasks
		 WHERE status IN (?, ?) AND next_retry_at <= ?
		 ORDER BY created_at ASC LIMIT 1`,
		StatusPending, StatusRetry, time.Now().Unix())

	var (
		action                        string
		extra                         string
		status                        int
		createdAt, nextRetryAt, retry int64
	)
	switch scanErr := row.Scan(&task.ID, &action, &task.LocalPath, &task.RelPath, &extra, &status, &createdAt, &nextRetryAt, &retry); {
	case scanErr == nil:
		task.Action = Action(action)
		task.Extra = json.RawMessage(extra)
		task.Status = Status(status)
		task.CreatedAt = time.Unix(createdAt, 0)
		task.NextRetryAt = time.Unix(nextRetryAt, 0)
		task.RetryCount = int(retry)
		return task, true, nil
	case errors.Is(scanErr, sql.ErrNoRows):
		return Task{}, false, nil
	default:
		return Task{}, false, scanErr
	}
}

// Complete deletes a task row. A missing row is logged, not treated as an
// error — the worker may race a concurrent cleanup, and the end state
// (row absent) is what the caller wanted anyway.
func (s *Store) Complete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		s.log.WithError(err).Error("❌ failed to delete completed task")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.log.Warnf("⚠️ attempted to complete task %d but it no longer exists", id)
	}
	return nil
}

// Fail schedules a task for retry with exponential backoff: wait =
// 2^retry_count seconds, clamped at maxRetryDelay, then retry_count++.
func (s *Store) Fail(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var retryCount int
	row := s.db.QueryRowContext(ctx, `SELECT retry_count FROM tasks WHERE id = ?`, id)
	if err := row.Scan(&retryCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	wait := backoffDelay(retryCount, s.maxRetryDelay)
	nextRetryAt := time.Now().Add(wait)

	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, retry_count = retry_count + 1, next_retry_at = ? WHERE id = ?`,
		StatusRetry, nextRetryAt.Unix(), id)
	if err != nil {
		s.log.WithError(err).Error("❌ failed to record retry backoff")
		return err
	}
	s.log.Warnf("❌ task %d failed, retrying in %s", id, wait)
	return nil
}

// ConflictRetryDelay is the fixed retry delay applied when the server
// rejects an UPLOAD with a 409 integrity conflict. Per the open question
// in spec.md §9, ordinary exponential backoff either retries forever at a
// moderate cadence or (once clamped) hot-loops at the cap; a conflict
// instead needs a human to look at it, so it gets a long fixed delay that
// keeps the task visible to `labsync queue inspect` without hammering the
// server meanwhile.
const ConflictRetryDelay = time.Hour

// FailConflict schedules a task for retry after ConflictRetryDelay,
// bypassing the normal exponential backoff curve. Used by the worker when
// the server responds 409 to an upload.
func (s *Store) FailConflict(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := time.Now().Add(ConflictRetryDelay)
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, retry_count = retry_count + 1, next_retry_at = ? WHERE id = ?`,
		StatusRetry, next.Unix(), id)
	if err != nil {
		s.log.WithError(err).Error("❌ failed to record conflict backoff")
	}
	return err
}

// backoffDelay computes 2^retryCount seconds, clamped to max.
func backoffDelay(retryCount int, max time.Duration) time.Duration {
	if retryCount > 62 { // avoid overflowing the 1<<n shift
		return max
	}
	delay := time.Duration(1<<uint(retryCount)) * time.Second
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}
