package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	stagehanderrors "github.com/alexisbeaulieu97/stagehand/pkg/errors"
)

func artifact(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func sha256Of(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

type rangeRecorder struct {
	mu     sync.Mutex
	ranges []string
}

func (r *rangeRecorder) add(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranges = append(r.ranges, v)
}

func (r *rangeRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ranges...)
}

func serveContent(data []byte, rec *rangeRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rec != nil {
			rec.add(r.Header.Get("Range"))
		}
		http.ServeContent(w, r, "bundle.tar.gz", time.Time{}, bytes.NewReader(data))
	}
}

func newTask(t *testing.T, url string) *Task {
	t.Helper()
	return &Task{URL: url, DestinationPath: filepath.Join(t.TempDir(), "bundle.tar.gz")}
}

func TestFetchCompleteDownload(t *testing.T) {
	t.Parallel()

	data := artifact(100_000)
	srv := httptest.NewServer(serveContent(data, nil))
	defer srv.Close()

	task := newTask(t, srv.URL)
	task.ExpectedChecksum = sha256Of(data)

	var last int64
	var calls int
	client := New(WithChunkSize(4096))
	err := client.Fetch(context.Background(), task, func(downloaded, total int64) {
		require.GreaterOrEqual(t, downloaded, last)
		require.Equal(t, int64(len(data)), total)
		last = downloaded
		calls++
	})
	require.NoError(t, err)

	got, err := os.ReadFile(task.DestinationPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.NoFileExists(t, task.PartialPath)
	require.Equal(t, PhaseComplete, task.Phase)
	require.Equal(t, int64(len(data)), last)
	require.Greater(t, calls, 1)
	require.Equal(t, task.DestinationPath+PartialSuffix, task.PartialPath)
}

func TestFetchResumesFromPartialFile(t *testing.T) {
	t.Parallel()

	data := artifact(10_000)
	rec := &rangeRecorder{}
	srv := httptest.NewServer(serveContent(data, rec))
	defer srv.Close()

	task := newTask(t, srv.URL)
	task.ExpectedChecksum = sha256Of(data)
	require.NoError(t, os.WriteFile(task.DestinationPath+PartialSuffix, data[:4000], 0o644))

	var first int64 = -1
	err := New().Fetch(context.Background(), task, func(downloaded, _ int64) {
		if first < 0 {
			first = downloaded
		}
	})
	require.NoError(t, err)

	require.Equal(t, []string{"bytes=4000-"}, rec.all())
	require.Equal(t, int64(4000), task.ResumeOffset)
	require.Greater(t, first, int64(4000))

	got, err := os.ReadFile(task.DestinationPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFetchRestartsWhenServerIgnoresRange(t *testing.T) {
	t.Parallel()

	data := artifact(5_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	task := newTask(t, srv.URL)
	task.ExpectedChecksum = sha256Of(data)
	require.NoError(t, os.WriteFile(task.DestinationPath+PartialSuffix, []byte("stale bytes"), 0o644))

	require.NoError(t, New().Fetch(context.Background(), task, nil))
	require.Equal(t, int64(0), task.ResumeOffset)

	got, err := os.ReadFile(task.DestinationPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFetchTreatsUnsatisfiableRangeAsComplete(t *testing.T) {
	t.Parallel()

	data := artifact(2_048)
	srv := httptest.NewServer(serveContent(data, nil))
	defer srv.Close()

	task := newTask(t, srv.URL)
	task.ExpectedChecksum = sha256Of(data)
	require.NoError(t, os.WriteFile(task.DestinationPath+PartialSuffix, data, 0o644))

	require.NoError(t, New().Fetch(context.Background(), task, nil))

	got, err := os.ReadFile(task.DestinationPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFetchChecksumMismatchRemovesPartial(t *testing.T) {
	t.Parallel()

	data := artifact(3_000)
	srv := httptest.NewServer(serveContent(data, nil))
	defer srv.Close()

	task := newTask(t, srv.URL)
	task.ExpectedChecksum = sha256Of(data)

	corrupted := append([]byte(nil), data[:1000]...)
	corrupted[10] ^= 0xFF
	require.NoError(t, os.WriteFile(task.DestinationPath+PartialSuffix, corrupted, 0o644))

	err := New().Fetch(context.Background(), task, nil)

	var mismatch *stagehanderrors.ChecksumMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, PhaseFailed, task.Phase)
	require.NoFileExists(t, task.DestinationPath)
	require.NoFileExists(t, task.PartialPath)

	// the next attempt starts from zero and succeeds
	require.NoError(t, New().Fetch(context.Background(), task, nil))
	require.FileExists(t, task.DestinationPath)
}

func TestFetchTruncatedThenResumed(t *testing.T) {
	t.Parallel()

	data := artifact(1000)
	var requests atomic.Int32
	rec := &rangeRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Content-Length", "1000")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data[:500])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			return
		}
		serveContent(data, rec)(w, r)
	}))
	defer srv.Close()

	task := newTask(t, srv.URL)
	task.ExpectedChecksum = sha256Of(data)
	client := New(WithChunkSize(128))

	err := client.Fetch(context.Background(), task, nil)
	var netErr *stagehanderrors.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Retryable())

	info, statErr := os.Stat(task.PartialPath)
	require.NoError(t, statErr)
	require.Equal(t, int64(500), info.Size())
	require.NoFileExists(t, task.DestinationPath)

	require.NoError(t, client.Fetch(context.Background(), task, nil))
	require.Equal(t, []string{"bytes=500-"}, rec.all())

	got, err := os.ReadFile(task.DestinationPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFetchUnexpectedStatusIsNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	task := newTask(t, srv.URL)
	err := New().Fetch(context.Background(), task, nil)

	var netErr *stagehanderrors.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, http.StatusNotFound, netErr.StatusCode)
	require.True(t, netErr.Retryable())
	require.NoFileExists(t, task.DestinationPath)
}

func TestFetchConnectionRefusedIsNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := New().Fetch(context.Background(), newTask(t, url), nil)

	var netErr *stagehanderrors.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Retryable())
}

func TestFetchRequiresURLAndDestination(t *testing.T) {
	t.Parallel()

	require.Error(t, New().Fetch(context.Background(), &Task{URL: "http://x"}, nil))
	require.Error(t, New().Fetch(context.Background(), nil, nil))
}

func TestParseContentRange(t *testing.T) {
	t.Parallel()

	start, total, ok := parseContentRange("bytes 500-999/1000")
	require.True(t, ok)
	require.Equal(t, int64(500), start)
	require.Equal(t, int64(1000), total)

	_, total, ok = parseContentRange("bytes */2048")
	require.True(t, ok)
	require.Equal(t, int64(2048), total)

	_, _, ok = parseContentRange("items 1-2/3")
	require.False(t, ok)
}

func TestFetchMisalignedResumeDropsPartial(t *testing.T) {
	t.Parallel()

	data := artifact(1000)
	rec := &rangeRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.Header.Get("Range"))
		if r.Header.Get("Range") != "" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(data)-1, len(data)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(data)
			return
		}
		http.ServeContent(w, r, "bundle.tar.gz", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	task := newTask(t, srv.URL)
	task.ExpectedChecksum = sha256Of(data)
	partial := task.DestinationPath + ".download"
	require.NoError(t, os.WriteFile(partial, data[:300], 0o644))

	err := New().Fetch(context.Background(), task, nil)
	var netErr *stagehanderrors.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Retryable())
	require.NoFileExists(t, partial)
	require.Zero(t, task.ResumeOffset)

	retry := newTask(t, srv.URL)
	retry.DestinationPath = task.DestinationPath
	retry.ExpectedChecksum = task.ExpectedChecksum
	require.NoError(t, New().Fetch(context.Background(), retry, nil))

	got, err := os.ReadFile(task.DestinationPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, []string{"bytes=300-", ""}, rec.all())
}
