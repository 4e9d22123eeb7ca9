package uploader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/labsync/agent/pkg/taskqueue"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-token", "bench-1", Options{})
}

func TestUploadFileChunkedColdUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	var chunkCalls int32
	var mergeCalls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upload/check":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"chunks":[]}`))
		case "/upload/chunk":
			atomic.AddInt32(&chunkCalls, 1)
			w.WriteHeader(http.StatusOK)
		case "/upload/merge":
			atomic.AddInt32(&mergeCalls, 1)
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	outcome := client.UploadFileChunked(context.Background(), path, "a.txt", "deadbeef", 0, nil)
	if !outcome.Success {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if atomic.LoadInt32(&chunkCalls) != 1 {
		t.Errorf("expected exactly one chunk upload, got %d", chunkCalls)
	}
	if atomic.LoadInt32(&mergeCalls) != 1 {
		t.Errorf("expected exactly one merge call, got %d", mergeCalls)
	}
}

func TestUploadFileChunkedResumesFromProbe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	data := make([]byte, ChunkSize*2+10) // 3 chunks, last partial
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	var uploadedIndices []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upload/check":
			w.Write([]byte(`{"chunks":[0,1]}`))
		case "/upload/chunk":
			r.ParseMultipartForm(1 << 20)
			uploadedIndices = append(uploadedIndices, r.FormValue("chunk_index"))
			w.WriteHeader(http.StatusOK)
		case "/upload/merge":
			w.WriteHeader(http.StatusOK)
		}
	}))

	outcome := client.UploadFileChunked(context.Background(), path, "big.bin", "cafebabe", 0, nil)
	if !outcome.Success {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if len(uploadedIndices) != 1 || uploadedIndices[0] != "2" {
		t.Fatalf("expected only chunk 2 to upload, got %v", uploadedIndices)
	}
}

func TestUploadFileChunkedZeroByteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	var chunkCalls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upload/check":
			w.Write([]byte(`{"chunks":[]}`))
		case "/upload/chunk":
			atomic.AddInt32(&chunkCalls, 1)
		case "/upload/merge":
			w.WriteHeader(http.StatusOK)
		}
	}))

	outcome := client.UploadFileChunked(context.Background(), path, "empty.txt", "d41d8cd98f00b204e9800998ecf8427e", 0, nil)
	if !outcome.Success {
		t.Fatalf("expected success for zero-byte file, got %+v", outcome)
	}
	if chunkCalls != 0 {
		t.Errorf("expected zero chunk uploads for an empty file, got %d", chunkCalls)
	}
}

func TestUploadFileChunkedConflict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("x"), 0o644)

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upload/check":
			w.Write([]byte(`{"chunks":[]}`))
		case "/upload/chunk":
			w.WriteHeader(http.StatusOK)
		case "/upload/merge":
			w.WriteHeader(http.StatusConflict)
		}
	}))

	outcome := client.UploadFileChunked(context.Background(), path, "a.txt", "x", 0, nil)
	if outcome.Success || !outcome.Conflict {
		t.Fatalf("expected a non-retryable conflict, got %+v", outcome)
	}
}

func TestSendAuditSuccess(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audit" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	ok := client.SendAudit(context.Background(), taskqueue.AuditExtra{Event: "CREATED", Path: "a.txt"})
	if !ok {
		t.Fatal("expected SendAudit to succeed on 2xx")
	}
}

func TestCheckIntegrityParsesStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "MISMATCH"})
	}))

	status, ok := client.CheckIntegrity(context.Background(), "a.txt", "md5")
	if !ok || status.Status != "MISMATCH" {
		t.Fatalf("unexpected result: ok=%v status=%+v", ok, status)
	}
}

func TestCheckIntegrityTransportFailureIsUnknown(t *testing.T) {
	client := New("http://127.0.0.1:0", "token", "bench-1", Options{MaxRetries: 1})
	_, ok := client.CheckIntegrity(context.Background(), "a.txt", "md5")
	if ok {
		t.Fatal("expected ok=false when the server is unreachable")
	}
}
