package rescan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/labsync/agent/pkg/taskqueue"
	"github.com/labsync/agent/pkg/uploader"
)

type fakeChecker struct {
	statuses map[string]uploader.IntegrityStatus // rel path -> status
	unknown  map[string]bool                     // rel path -> force ok=false
}

func (c *fakeChecker) CheckIntegrity(ctx context.Context, relPath, md5 string) (uploader.IntegrityStatus, bool) {
	if c.unknown[relPath] {
		return uploader.IntegrityStatus{}, false
	}
	if s, ok := c.statuses[relPath]; ok {
		return s, true
	}
	return uploader.IntegrityStatus{Status: "MISMATCH"}, true
}

type fakeEnqueuer struct {
	added []string // rel paths enqueued
}

func (e *fakeEnqueuer) Add(ctx context.Context, action taskqueue.Action, localPath, relPath string, extra any) (int64, error) {
	e.added = append(e.added, relPath)
	return 1, nil
}

func TestRunEnqueuesMismatchedFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644)

	checker := &fakeChecker{statuses: map[string]uploader.IntegrityStatus{
		"a.txt": {Status: "MATCH"},
		"b.txt": {Status: "MISMATCH"},
	}}
	enq := &fakeEnqueuer{}

	s := New(dir, enq, checker, nil)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Scanned != 2 || result.Skipped != 1 || result.Enqueued != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(enq.added) != 1 || enq.added[0] != "b.txt" {
		t.Fatalf("expected only b.txt enqueued, got %v", enq.added)
	}
}

func TestRunTreatsTransportFailureAsNeedsUpload(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644)

	checker := &fakeChecker{unknown: map[string]bool{"a.txt": true}}
	enq := &fakeEnqueuer{}

	s := New(dir, enq, checker, nil)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Enqueued != 1 {
		t.Fatalf("expected UNKNOWN status to be treated as needing upload, got %+v", result)
	}
}

func TestRunSkipsIgnoredAndPlaceholderFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "untitled.txt"), nil, 0o644)

	checker := &fakeChecker{statuses: map[string]uploader.IntegrityStatus{}}
	enq := &fakeEnqueuer{}

	s := New(dir, enq, checker, nil)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Scanned != 1 {
		t.Fatalf("expected only keep.txt scanned, got %+v", result)
	}
	if len(enq.added) != 1 || enq.added[0] != "keep.txt" {
		t.Fatalf("expected only keep.txt enqueued, got %v", enq.added)
	}
}

func TestRunPrunesIgnoredSubdirectories(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("x"), 0o644)
	hidden := filepath.Join(dir, ".git")
	os.Mkdir(hidden, 0o755)
	os.WriteFile(filepath.Join(hidden, "config"), []byte("x"), 0o644)

	checker := &fakeChecker{statuses: map[string]uploader.IntegrityStatus{}}
	enq := &fakeEnqueuer{}

	s := New(dir, enq, checker, nil)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Scanned != 1 {
		t.Fatalf("expected the ignored subdirectory to be pruned entirely, got %+v", result)
	}
	for _, rel := range enq.added {
		if rel != "keep.txt" {
			t.Fatalf("expected nothing from the ignored subdirectory to be enqueued, got %v", enq.added)
		}
	}
}

func TestRunSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	os.Mkdir(sub, 0o755)
	os.WriteFile(filepath.Join(sub, "c.txt"), []byte("c"), 0o644)

	checker := &fakeChecker{statuses: map[string]uploader.IntegrityStatus{}}
	enq := &fakeEnqueuer{}

	s := New(dir, enq, checker, nil)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Scanned != 1 || len(enq.added) != 1 || enq.added[0] != "nested/c.txt" {
		t.Fatalf("expected nested file scanned via its relative path, got %+v added=%v", result, enq.added)
	}
}
