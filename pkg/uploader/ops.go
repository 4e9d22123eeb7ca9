package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/labsync/agent/pkg/taskqueue"
)

// SendAudit posts an audit record. Fire-and-forget: success iff 2xx.
func (c *Client) SendAudit(ctx context.Context, extra taskqueue.AuditExtra) bool {
	res := c.do(ctx, requestSpec{
		method: "POST",
		path:   "/audit",
		body:   jsonBody(extra),
	})
	return res.OK
}

// SendOperation posts a MKDIR/DELETE/RENAME operation.
func (c *Client) SendOperation(ctx context.Context, action taskqueue.Action, relPath string, extra any) bool {
	payload := map[string]any{
		"action":     string(action),
		"path":       relPath,
		"machine_id": c.machineID,
	}
	mergeExtra(payload, extra)
	res := c.do(ctx, requestSpec{
		method: "POST",
		path:   "/operate",
		body:   jsonBody(payload),
	})
	return res.OK
}

// IntegrityStatus is the server's verdict from /check_integrity.
type IntegrityStatus struct {
	Status string `json:"status"`
}

// CheckIntegrity asks the server whether its copy of a file still matches.
// Returns ok=false when the request failed outright (transport error or
// non-2xx) — the caller (rescan) treats that the same as UNKNOWN per
// spec.md §4.7.
func (c *Client) CheckIntegrity(ctx context.Context, relPath, md5 string) (IntegrityStatus, bool) {
	payload := map[string]any{
		"relative_path": relPath,
		"md5":           md5,
		"machine_id":    c.machineID,
	}
	res := c.do(ctx, requestSpec{
		method: "POST",
		path:   "/check_integrity",
		body:   jsonBody(payload),
	})
	if !res.OK {
		return IntegrityStatus{}, false
	}
	var status IntegrityStatus
	if err := json.Unmarshal(res.Body, &status); err != nil {
		return IntegrityStatus{}, false
	}
	return status, true
}

// UploadOutcome is the terminal result of a chunked upload attempt.
type UploadOutcome struct {
	Success bool
	Status  int
	Conflict bool // true when the server responded 409 (integrity conflict)
}

// ProgressFunc reports upload progress; see spec.md §4.6 for the
// report-at-0%/100%/~20%-steps policy the worker applies around calls to
// this callback.
type ProgressFunc func(done, total int)

// UploadFileChunked runs the probe/compute/transmit/merge protocol from
// spec.md §4.5. It never panics; all failures surface through the
// returned UploadOutcome.
func (c *Client) UploadFileChunked(ctx context.Context, localPath, relPath, md5 string, mtime float64, progress ProgressFunc) UploadOutcome {
	info, err := os.Stat(localPath)
	if err != nil {
		return UploadOutcome{Success: false, Status: 500}
	}
	fileSize := info.Size()
	totalChunks := int((fileSize + ChunkSize - 1) / ChunkSize)
	if fileSize == 0 {
		totalChunks = 0
	}

	already := c.checkServerChunks(ctx, md5)

	f, err := os.Open(localPath)
	if err != nil {
		return UploadOutcome{Success: false, Status: 500}
	}
	defer f.Close()

	for i := 0; i < totalChunks; i++ {
		if already[i] {
			if progress != nil {
				progress(i+1, totalChunks)
			}
			continue
		}
		if _, err := f.Seek(int64(i)*ChunkSize, 0); err != nil {
			return UploadOutcome{Success: false, Status: 400}
		}
		buf := make([]byte, ChunkSize)
		n, readErr := f.Read(buf)
		if readErr != nil && n == 0 {
			return UploadOutcome{Success: false, Status: 400}
		}

		if outcome, ok := c.uploadSingleChunk(ctx, buf[:n], i, totalChunks, md5, relPath); !ok {
			return outcome
		}
		if progress != nil {
			progress(i+1, totalChunks)
		}
	}

	return c.mergeChunks(ctx, relPath, md5, mtime)
}

func (c *Client) checkServerChunks(ctx context.Context, md5 string) map[int]bool {
	res := c.do(ctx, requestSpec{
		method: "POST",
		path:   "/upload/check",
		body:   jsonBody(map[string]any{"md5": md5}),
	})
	set := make(map[int]bool)
	if !res.OK {
		return set // transport error: resume from zero, per spec.md §4.5 step 1
	}
	var parsed struct {
		Chunks []int `json:"chunks"`
	}
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return set
	}
	for _, idx := range parsed.Chunks {
		set[idx] = true
	}
	return set
}

func (c *Client) uploadSingleChunk(ctx context.Context, chunk []byte, index, total int, md5, relPath string) (UploadOutcome, bool) {
	fields := map[string]string{
		"chunk_index":   fmt.Sprint(index),
		"total_chunks":  fmt.Sprint(total),
		"md5":           md5,
		"relative_path": relPath,
		"machine_id":    c.machineID,
	}
	res := c.do(ctx, requestSpec{
		method:  "POST",
		path:    "/upload/chunk",
		timeout: ChunkUploadTimeout,
		body:    multipartBody(fields, "file", "chunk", chunk),
	})
	if res.OK {
		return UploadOutcome{}, true
	}
	// Abort immediately; the next attempt's probe will rediscover what the
	// server already has and resume from there (spec.md §4.5 step 3).
	return UploadOutcome{Success: false, Status: 400, Conflict: res.Status == 409}, false
}

func (c *Client) mergeChunks(ctx context.Context, relPath, md5 string, mtime float64) UploadOutcome {
	payload := map[string]any{
		"relative_path": relPath,
		"md5":           md5,
		"mtime":         mtime,
		"machine_id":    c.machineID,
	}
	res := c.do(ctx, requestSpec{
		method:  "POST",
		path:    "/upload/merge",
		timeout: MergeTimeout,
		body:    jsonBody(payload),
	})
	if res.OK {
		return UploadOutcome{Success: true, Status: res.Status}
	}
	if res.Status == 409 {
		return UploadOutcome{Success: false, Status: 409, Conflict: true}
	}
	return UploadOutcome{Success: false, Status: 500}
}

func mergeExtra(dst map[string]any, extra any) {
	b, err := json.Marshal(extra)
	if err != nil {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return
	}
	for k, v := range fields {
		dst[k] = v
	}
}
