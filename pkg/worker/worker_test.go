package worker

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/labsync/agent/pkg/taskqueue"
	"github.com/labsync/agent/pkg/uploader"
)

type fakeTask struct {
	id     int64
	action taskqueue.Action
	path   string
}

type fakeQueue struct {
	mu        sync.Mutex
	due       []taskqueue.Task
	completed []int64
	failed    []int64
	conflicts []int64
}

func (q *fakeQueue) TakeDue(ctx context.Context) (taskqueue.Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.due) == 0 {
		return taskqueue.Task{}, false, nil
	}
	t := q.due[0]
	q.due = q.due[1:]
	return t, true, nil
}

func (q *fakeQueue) Complete(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, id)
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, id)
	return nil
}

func (q *fakeQueue) FailConflict(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.conflicts = append(q.conflicts, id)
	return nil
}

type fakeUploader struct {
	uploadOutcome uploader.UploadOutcome
	auditOK       bool
	operationOK   bool
	lastAction    taskqueue.Action
}

func (u *fakeUploader) SendAudit(ctx context.Context, extra taskqueue.AuditExtra) bool {
	return u.auditOK
}

func (u *fakeUploader) SendOperation(ctx context.Context, action taskqueue.Action, relPath string, extra any) bool {
	u.lastAction = action
	return u.operationOK
}

func (u *fakeUploader) UploadFileChunked(ctx context.Context, localPath, relPath, md5 string, mtime float64, progress uploader.ProgressFunc) uploader.UploadOutcome {
	if progress != nil {
		progress(1, 1)
	}
	return u.uploadOutcome
}

func rawExtra(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func newWorker(q *fakeQueue, u *fakeUploader) *Worker {
	w := New(q, u, nil)
	w.idleSleep = time.Millisecond
	w.failSleep = time.Millisecond
	return w
}

func TestProcessUploadSuccessCompletesTask(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/a.txt"
	if err := writeFile(path); err != nil {
		t.Fatal(err)
	}

	q := &fakeQueue{}
	u := &fakeUploader{uploadOutcome: uploader.UploadOutcome{Success: true}}
	w := newWorker(q, u)

	task := taskqueue.Task{ID: 1, Action: taskqueue.ActionUpload, LocalPath: path, RelPath: "a.txt", Extra: rawExtra(t, taskqueue.UploadExtra{MD5: "x"})}
	w.process(context.Background(), task)

	if len(q.completed) != 1 || q.completed[0] != 1 {
		t.Fatalf("expected task 1 completed, got %+v", q.completed)
	}
}

func TestProcessUploadVanishedFileCompletesWithoutCallingUploader(t *testing.T) {
	q := &fakeQueue{}
	u := &fakeUploader{}
	w := newWorker(q, u)

	task := taskqueue.Task{ID: 2, Action: taskqueue.ActionUpload, LocalPath: "/nonexistent/path/gone.txt", RelPath: "gone.txt", Extra: rawExtra(t, taskqueue.UploadExtra{})}
	w.process(context.Background(), task)

	if len(q.completed) != 1 || q.completed[0] != 2 {
		t.Fatalf("expected vanished-file upload to complete silently, got completed=%+v failed=%+v", q.completed, q.failed)
	}
}

func TestProcessUploadConflictCallsFailConflict(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/a.txt"
	if err := writeFile(path); err != nil {
		t.Fatal(err)
	}

	q := &fakeQueue{}
	u := &fakeUploader{uploadOutcome: uploader.UploadOutcome{Success: false, Status: 409, Conflict: true}}
	w := newWorker(q, u)

	task := taskqueue.Task{ID: 3, Action: taskqueue.ActionUpload, LocalPath: path, RelPath: "a.txt", Extra: rawExtra(t, taskqueue.UploadExtra{})}
	w.process(context.Background(), task)

	if len(q.conflicts) != 1 || q.conflicts[0] != 3 {
		t.Fatalf("expected task 3 to hit FailConflict, got %+v", q.conflicts)
	}
	if len(q.failed) != 0 {
		t.Fatalf("conflict should not also call Fail, got %+v", q.failed)
	}
}

func TestProcessUploadOtherFailureCallsFail(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/a.txt"
	if err := writeFile(path); err != nil {
		t.Fatal(err)
	}

	q := &fakeQueue{}
	u := &fakeUploader{uploadOutcome: uploader.UploadOutcome{Success: false, Status: 500}}
	w := newWorker(q, u)

	task := taskqueue.Task{ID: 4, Action: taskqueue.ActionUpload, LocalPath: path, RelPath: "a.txt", Extra: rawExtra(t, taskqueue.UploadExtra{})}
	w.process(context.Background(), task)

	if len(q.failed) != 1 || q.failed[0] != 4 {
		t.Fatalf("expected task 4 to call Fail, got %+v", q.failed)
	}
}

func TestProcessAuditDispatchesToSendAudit(t *testing.T) {
	q := &fakeQueue{}
	u := &fakeUploader{auditOK: true}
	w := newWorker(q, u)

	task := taskqueue.Task{ID: 5, Action: taskqueue.ActionAudit, Extra: rawExtra(t, taskqueue.AuditExtra{Event: "CREATED"})}
	w.process(context.Background(), task)

	if len(q.completed) != 1 || q.completed[0] != 5 {
		t.Fatalf("expected audit task completed, got %+v", q.completed)
	}
}

func TestProcessRenameDispatchesToSendOperation(t *testing.T) {
	q := &fakeQueue{}
	u := &fakeUploader{operationOK: true}
	w := newWorker(q, u)

	task := taskqueue.Task{ID: 6, Action: taskqueue.ActionRename, RelPath: "b.txt", Extra: rawExtra(t, taskqueue.RenameExtra{NewPath: "b.txt"})}
	w.process(context.Background(), task)

	if u.lastAction != taskqueue.ActionRename {
		t.Fatalf("expected SendOperation called with RENAME, got %s", u.lastAction)
	}
	if len(q.completed) != 1 {
		t.Fatalf("expected rename task completed, got %+v", q.completed)
	}
}

func TestProcessUnknownExtraPayloadFails(t *testing.T) {
	q := &fakeQueue{}
	u := &fakeUploader{}
	w := newWorker(q, u)

	task := taskqueue.Task{ID: 7, Action: "NOPE", Extra: json.RawMessage(`{}`)}
	w.process(context.Background(), task)

	if len(q.failed) != 1 || q.failed[0] != 7 {
		t.Fatalf("expected unrecognized action to call Fail, got %+v", q.failed)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	q := &fakeQueue{}
	u := &fakeUploader{}
	w := newWorker(q, u)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0o644)
}
