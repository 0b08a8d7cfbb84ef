package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/stagehand/internal/logger"
	stagehanderrors "github.com/alexisbeaulieu97/stagehand/pkg/errors"
)

const (
	// DefaultChunkSize is the read size used when streaming a body.
	DefaultChunkSize = 32 * 1024
	// PartialSuffix is appended to the destination to form the default partial path.
	PartialSuffix = ".download"
)

// Phase is the lifecycle position of a Task.
type Phase string

const (
	PhaseNotStarted   Phase = "not_started"
	PhaseResuming     Phase = "resuming"
	PhaseTransferring Phase = "transferring"
	PhaseVerifying    Phase = "verifying"
	PhaseComplete     Phase = "complete"
	PhaseFailed       Phase = "failed"
)

// Task describes one artifact transfer. The Client owns it for the duration of Fetch.
type Task struct {
	URL              string
	DestinationPath  string
	PartialPath      string
	ResumeOffset     int64
	TotalSize        int64
	ExpectedChecksum string
	Phase            Phase
}

// ProgressFunc receives the bytes on disk and the expected total (0 when unknown) after every chunk.
type ProgressFunc func(downloaded, total int64)

// Client streams artifacts over HTTP, resuming partial downloads with range requests.
// It never retries on its own.
type Client struct {
	http      *http.Client
	chunkSize int
	log       *logger.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithChunkSize sets the streaming chunk size.
func WithChunkSize(size int) Option {
	return func(cl *Client) {
		if size > 0 {
			cl.chunkSize = size
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *logger.Logger) Option {
	return func(cl *Client) {
		cl.log = log
	}
}

// New constructs a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 0, Transport: &http.Transport{Proxy: http.ProxyFromEnvironment, ResponseHeaderTimeout: 30 * time.Second}},
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads task.URL to task.DestinationPath, resuming from task.PartialPath when it exists.
// Transport failures return *errors.NetworkError and keep the partial file. A digest mismatch deletes
// the partial file and returns *errors.ChecksumMismatchError.
func (c *Client) Fetch(ctx context.Context, task *Task, onProgress ProgressFunc) error {
	if task == nil || task.URL == "" || task.DestinationPath == "" {
		return fmt.Errorf("transfer task requires url and destination")
	}
	if task.PartialPath == "" {
		task.PartialPath = task.DestinationPath + PartialSuffix
	}
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}
	task.Phase = PhaseNotStarted

	if err := os.MkdirAll(filepath.Dir(task.PartialPath), 0o755); err != nil {
		return c.fail(task, fmt.Errorf("create download directory: %w", err))
	}

	task.ResumeOffset = 0
	if info, err := os.Stat(task.PartialPath); err == nil {
		task.ResumeOffset = info.Size()
	}
	if task.ResumeOffset > 0 {
		task.Phase = PhaseResuming
	}

	log := c.log.WithFields(map[string]any{"url": task.URL, "offset": task.ResumeOffset})
	log.Debug("starting transfer")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return c.fail(task, err)
	}
	if task.ResumeOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", task.ResumeOffset))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(task, stagehanderrors.NewNetworkError(task.URL, 0, err))
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != task.ResumeOffset {
			// the partial file cannot be continued from here; start over next time
			_ = os.Remove(task.PartialPath)
			task.ResumeOffset = 0
			return c.fail(task, stagehanderrors.NewNetworkError(task.URL, 0,
				fmt.Errorf("server resumed at unexpected range %q", resp.Header.Get("Content-Range"))))
		}
		task.TotalSize = total
	case http.StatusOK:
		if task.ResumeOffset > 0 {
			log.Info("server ignored range request, restarting transfer")
		}
		task.ResumeOffset = 0
		task.TotalSize = max(resp.ContentLength, 0)
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	case http.StatusRequestedRangeNotSatisfiable:
		_, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if ok && task.ResumeOffset > 0 && total == task.ResumeOffset {
			task.TotalSize = total
			onProgress(total, total)
			return c.finish(ctx, task)
		}
		// partial is longer than the remote artifact; start over next time
		_ = os.Remove(task.PartialPath)
		return c.fail(task, stagehanderrors.NewNetworkError(task.URL, resp.StatusCode, nil))
	default:
		return c.fail(task, stagehanderrors.NewNetworkError(task.URL, resp.StatusCode, nil))
	}

	file, err := os.OpenFile(task.PartialPath, flags, 0o644)
	if err != nil {
		return c.fail(task, fmt.Errorf("open partial file: %w", err))
	}

	task.Phase = PhaseTransferring
	downloaded, copyErr := c.stream(file, resp.Body, task.ResumeOffset, task.TotalSize, onProgress)
	closeErr := file.Close()

	if copyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.fail(task, fmt.Errorf("transfer cancelled: %w", ctxErr))
		}
		return c.fail(task, stagehanderrors.NewNetworkError(task.URL, 0, copyErr))
	}
	if closeErr != nil {
		return c.fail(task, fmt.Errorf("close partial file: %w", closeErr))
	}
	if task.TotalSize > 0 && downloaded != task.TotalSize {
		return c.fail(task, stagehanderrors.NewNetworkError(task.URL, 0,
			fmt.Errorf("received %d of %d bytes: %w", downloaded, task.TotalSize, io.ErrUnexpectedEOF)))
	}
	if task.TotalSize == 0 {
		task.TotalSize = downloaded
	}

	return c.finish(ctx, task)
}

func (c *Client) stream(dst io.Writer, src io.Reader, offset, total int64, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, c.chunkSize)
	downloaded := offset
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return downloaded, err
			}
			downloaded += int64(n)
			onProgress(downloaded, total)
		}
		if errors.Is(readErr, io.EOF) {
			return downloaded, nil
		}
		if readErr != nil {
			return downloaded, readErr
		}
	}
}

func (c *Client) finish(ctx context.Context, task *Task) error {
	if err := ctx.Err(); err != nil {
		return c.fail(task, fmt.Errorf("transfer cancelled: %w", err))
	}

	task.Phase = PhaseVerifying
	if task.ExpectedChecksum != "" {
		want, err := ParseChecksum(task.ExpectedChecksum)
		if err != nil {
			return c.fail(task, err)
		}
		got, err := FileChecksum(task.PartialPath, want.Algorithm)
		if err != nil {
			return c.fail(task, fmt.Errorf("hash partial file: %w", err))
		}
		if got.Digest != want.Digest {
			_ = os.Remove(task.PartialPath)
			task.ResumeOffset = 0
			return c.fail(task, stagehanderrors.NewChecksumMismatchError(task.DestinationPath, want.String(), got.String()))
		}
	}

	if err := os.Rename(task.PartialPath, task.DestinationPath); err != nil {
		return c.fail(task, fmt.Errorf("move download into place: %w", err))
	}
	task.Phase = PhaseComplete
	c.log.WithFields(map[string]any{"path": task.DestinationPath, "bytes": task.TotalSize}).Info("transfer complete")
	return nil
}

func (c *Client) fail(task *Task, err error) error {
	task.Phase = PhaseFailed
	c.log.WithFields(map[string]any{"url": task.URL}).Error(err, "transfer failed")
	return err
}

// parseContentRange reads "bytes start-end/total" or "bytes */total".
func parseContentRange(header string) (start, total int64, ok bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !found {
		return 0, 0, false
	}
	rng, size, found := strings.Cut(spec, "/")
	if !found {
		return 0, 0, false
	}
	total, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		total = 0
	}
	if rng == "*" {
		return 0, total, err == nil
	}
	first, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}
	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, total, true
}
