// Package uploader implements the pooled HTTP session and the chunked,
// resumable upload protocol (C5). Every exported operation is safe to call
// from the worker's single goroutine and never panics or returns an error
// the worker must unwrap — transport failures are normalized into Result.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Defaults mirror core/api.py's Session + HTTPAdapter(Retry) configuration.
const (
	DefaultTimeout      = 10 * time.Second
	ChunkUploadTimeout  = 60 * time.Second
	MergeTimeout        = 30 * time.Second
	DefaultMaxRetries   = 3
	ChunkSize           = 4 << 20 // 4 MiB, matching the S3 multipart minimum.
)

// retryableStatus mirrors urllib3's status_forcelist in the Python source.
var retryableStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Result is the structured outcome of an HTTP call, replacing the Python
// source's (success, response) pair that lost the "409 vs network down"
// distinction (DESIGN NOTES §9). Callers branch on Status when OK is
// false and TransportErr is nil to recognize a server-rejected request
// such as a 409 integrity conflict.
type Result struct {
	OK           bool
	Status       int
	Body         []byte
	TransportErr error
}

// Client is the pooled HTTP session: bearer auth, automatic retry on
// transient 5xx/transport failures, per-call timeout overrides.
type Client struct {
	baseURL    string
	authToken  string
	machineID  string
	maxRetries int
	httpClient *http.Client
	log        *logrus.Entry
}

// Options configures a Client.
type Options struct {
	MaxRetries int
	HTTPClient *http.Client
	Log        *logrus.Entry
}

// New constructs a Client bound to baseURL (e.g. "http://host:5000/api").
func New(baseURL, authToken, machineID string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		machineID:  machineID,
		maxRetries: maxRetries,
		httpClient: httpClient,
		log:        log,
	}
}

// requestSpec describes one HTTP call before retry wrapping.
type requestSpec struct {
	method  string
	path    string
	timeout time.Duration
	body    func() (io.Reader, string, error) // returns body reader + content-type
}

// do executes spec with the client's retry policy: transport errors and
// {500,502,503,504} responses are retried up to maxRetries with backoff
// factor 1 (exponential, base 1s), matching urllib3's Retry(backoff_factor=1).
// Every other outcome — including 409 — is returned immediately so the
// caller can classify it precisely.
func (c *Client) do(ctx context.Context, spec requestSpec) Result {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxInterval = 30 * time.Second

	result, err := backoff.Retry(ctx, func() (Result, error) {
		return c.attempt(ctx, spec)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(c.maxRetries+1)))
	if err == nil {
		return result
	}

	// backoff.Retry only returns an error when every attempt failed (or a
	// Permanent error short-circuited it). A resultError carries the exact
	// server response the caller should classify (e.g. 409); anything else
	// is a transport failure that never got a response at all.
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		if re, ok := pe.Err.(*resultError); ok {
			return re.result
		}
		return Result{OK: false, TransportErr: pe.Err}
	}
	return Result{OK: false, TransportErr: err}
}

func (c *Client) attempt(ctx context.Context, spec requestSpec) (Result, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if spec.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, spec.timeout)
		defer cancel()
	}

	var body io.Reader
	contentType := "application/json"
	if spec.body != nil {
		b, ct, err := spec.body()
		if err != nil {
			return Result{}, backoff.Permanent(err)
		}
		body = b
		contentType = ct
	}

	req, err := http.NewRequestWithContext(reqCtx, spec.method, c.baseURL+spec.path, body)
	if err != nil {
		return Result{}, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failure: retryable.
		return Result{OK: false, TransportErr: err}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{OK: true, Status: resp.StatusCode, Body: respBody}, nil
	}

	result := Result{OK: false, Status: resp.StatusCode, Body: respBody}
	if retryableStatus[resp.StatusCode] {
		return result, fmt.Errorf("uploader: retryable status %d from %s", resp.StatusCode, spec.path)
	}
	// Non-retryable status (e.g. 409, 404, 400): stop retrying immediately.
	return result, backoff.Permanent(&resultError{result: result})
}

// resultError lets a Permanent error carry the exact Result the caller
// should see, instead of losing it behind a generic error string.
type resultError struct{ result Result }

func (e *resultError) Error() string {
	return fmt.Sprintf("uploader: non-retryable status %d", e.result.Status)
}

func jsonBody(v any) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

func multipartBody(fields map[string]string, fileField, filename string, chunk []byte) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, v := range fields {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
		part, err := w.CreateFormFile(fileField, filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(chunk); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}
}
