package installer

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
)

// maxAttempts bounds retries on transient network errors and 5xx responses,
// per spec.md §4.3.
const maxAttempts = 5

// defaultDownloadConcurrency is the process-wide cap on simultaneous
// downloads every loader client shares, per spec.md §4.3.
const defaultDownloadConcurrency = 4

// requestTimeout and downloadTimeout are the per-call upper bounds spec.md
// §5 places on network operations.
const (
	requestTimeout  = 30 * time.Second
	downloadTimeout = 10 * time.Minute
)

// SharedTransport is the one HTTP stack every loader installer client is
// built on: a shared connection pool, retry/backoff, and a download
// concurrency semaphore. Constructed once per process and threaded through
// each loader client's constructor, per the "no global singletons" design
// note.
type SharedTransport struct {
	httpClient *http.Client
	downloads  *semaphore.Weighted
}

// NewSharedTransport builds a transport with maxConcurrentDownloads (0 uses
// the spec default of 4).
func NewSharedTransport(maxConcurrentDownloads int) *SharedTransport {
	if maxConcurrentDownloads <= 0 {
		maxConcurrentDownloads = defaultDownloadConcurrency
	}
	return &SharedTransport{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: maxConcurrentDownloads * 2,
			},
		},
		downloads: semaphore.NewWeighted(int64(maxConcurrentDownloads)),
	}
}

// Get issues a retried GET and returns the response body. Callers must
// close it. Used for small JSON/metadata documents, not bulk downloads.
func (t *SharedTransport) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := t.doWithRetry(ctx, url, requestTimeout)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Download streams url to destPath under the shared download semaphore,
// invoking progress as bytes arrive. destPath's parent directory must
// already exist.
func (t *SharedTransport) Download(ctx context.Context, url, destPath string, progress ProgressFunc) error {
	if err := t.downloads.Acquire(ctx, 1); err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrTimeout, "waiting for a download slot", err)
	}
	defer t.downloads.Release(1)

	resp, err := t.doWithRetry(ctx, url, downloadTimeout)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, fmt.Sprintf("creating %s", destPath), err)
	}
	defer out.Close()

	total := resp.ContentLength
	var done int64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return ctlerrors.Wrap(ctlerrors.ErrIO, "writing download", werr)
			}
			done += int64(n)
			if progress != nil {
				if total > 0 {
					progress(float64(done)/float64(total), destPath)
				} else {
					progress(0, destPath)
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return ctlerrors.Wrap(ctlerrors.ErrTransientNetwork, "reading download body", rerr)
		}
	}
	if progress != nil {
		progress(1, destPath)
	}
	return nil
}

// doWithRetry performs a GET with exponential backoff and jitter on 5xx and
// connection errors, and explicit Retry-After handling on 429, up to
// maxAttempts total tries.
func (t *SharedTransport) doWithRetry(ctx context.Context, url string, timeout time.Duration) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "building request", err)
		}

		resp, err := t.httpClient.Do(req)
		if err != nil {
			cancel()
			lastErr = ctlerrors.Wrap(ctlerrors.ErrTransientNetwork, fmt.Sprintf("GET %s", url), err)
			if attempt == maxAttempts {
				return nil, lastErr
			}
			t.sleepBackoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := retryAfterDelay(resp.Header.Get("Retry-After"), attempt)
			resp.Body.Close()
			cancel()
			lastErr = &ctlerrors.RateLimitedError{RetryAfter: delay}
			if attempt == maxAttempts {
				return nil, lastErr
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			cancel()
			lastErr = ctlerrors.Wrap(ctlerrors.ErrTransientNetwork, fmt.Sprintf("GET %s: status %s", url, resp.Status), nil)
			if attempt == maxAttempts {
				return nil, lastErr
			}
			t.sleepBackoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			cancel()
			return nil, ctlerrors.Wrap(ctlerrors.ErrNotFound, fmt.Sprintf("GET %s", url), nil)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			cancel()
			return nil, ctlerrors.Wrap(ctlerrors.ErrProtocol, fmt.Sprintf("GET %s: status %s", url, resp.Status), nil)
		}

		// The caller owns resp.Body and reads it after this function
		// returns, so reqCtx must stay alive until then; wrap the body so
		// closing it also releases the per-request context.
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return nil, lastErr
}

func (t *SharedTransport) sleepBackoff(ctx context.Context, attempt int) {
	base := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	select {
	case <-ctx.Done():
	case <-time.After(base + jitter):
	}
}

// retryAfterDelay parses an integer Retry-After header: a value above 1000
// is taken as milliseconds (the form some catalog APIs send), anything
// smaller as the standard delay-seconds. Any other form, including an
// HTTP-date, is not parsed and falls back to an exponential estimate.
func retryAfterDelay(header string, attempt int) time.Duration {
	if header != "" {
		if ms, err := strconv.Atoi(header); err == nil {
			if ms > 1000 {
				return time.Duration(ms) * time.Millisecond
			}
			return time.Duration(ms) * time.Second
		}
	}
	return time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
}

var _ Downloader = (*SharedTransport)(nil)

// cancelOnClose releases a request's context.CancelFunc when its body is
// closed, so a successful doWithRetry call doesn't leak the per-attempt
// context until its timeout fires on its own.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
