package downloader_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/mjai_downloader/internal/downloader"
	"github.com/italolelis/mjai_downloader/internal/layout"
	"github.com/italolelis/mjai_downloader/internal/remote"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func body(k layout.Key) string {
	return fmt.Sprintf(`{"type":"start_kyoku","match":%d,"round":%d}`+"\n", k.Match, k.Round)
}

func newPool(t *testing.T, opts downloader.Options) *downloader.Pool {
	t.Helper()

	client := remote.NewClient(remote.DefaultOptions())
	t.Cleanup(client.Close)

	return downloader.NewPool(client, opts, nil)
}

func readArtifact(t *testing.T, path string) string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	return string(data)
}

func TestRun_StoresCompressedArtifacts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var k layout.Key
		if _, err := fmt.Sscanf(r.URL.Path, "/%d/%d_0_mjai.json", &k.Match, &k.Round); err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, body(k))
	}))
	defer ts.Close()

	dir := t.TempDir()
	tasks := layout.Tasks(ts.URL, dir, 12, 1, 4)

	results := newPool(t, downloader.Options{MaxConcurrency: 2, RetryLimit: 3}).Run(context.Background(), tasks)
	require.Len(t, results, len(tasks))

	for _, r := range results {
		assert.True(t, r.Success, r.Message)
		assert.Equal(t, "downloaded: "+r.Task.Artifact(), r.Message)
		assert.NoFileExists(t, r.Task.Destination)
		assert.Equal(t, body(r.Task.Key), readArtifact(t, r.Task.Artifact()))
		assert.Equal(t, int64(len(body(r.Task.Key))), r.Bytes)
	}
}

func TestRun_RetriesThenReportsFailure(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	dir := t.TempDir()
	tasks := layout.Tasks(ts.URL, dir, 1, 1, 1)

	results := newPool(t, downloader.Options{RetryLimit: 4, RetryDelay: time.Millisecond}).Run(context.Background(), tasks)
	require.Len(t, results, 1)

	r := results[0]
	assert.False(t, r.Success)
	assert.Error(t, r.Err)
	assert.True(t, strings.HasPrefix(r.Message, "download failed "+tasks[0].URL))
	assert.Contains(t, r.Message, "502")
	assert.Equal(t, int32(4), hits.Load())
	assert.NoFileExists(t, tasks[0].Destination)
	assert.NoFileExists(t, tasks[0].Artifact())
}

func TestRun_RecoversWithinRetryBudget(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "payload")
	}))
	defer ts.Close()

	tasks := layout.Tasks(ts.URL, t.TempDir(), 2, 5, 5)

	results := newPool(t, downloader.Options{RetryLimit: 3, RetryDelay: time.Millisecond}).Run(context.Background(), tasks)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Message)
	assert.Equal(t, "payload", readArtifact(t, tasks[0].Artifact()))
	assert.NoFileExists(t, tasks[0].Destination)
}

func TestRun_FilesystemErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "payload")
	}))
	defer ts.Close()

	dir := t.TempDir()
	// A regular file where the match directory should be.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3"), []byte("x"), 0o644))

	tasks := layout.Tasks(ts.URL, dir, 3, 1, 1)

	results := newPool(t, downloader.Options{RetryLimit: 3, RetryDelay: time.Millisecond}).Run(context.Background(), tasks)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Message, "failed to create target directory")
	assert.Equal(t, int32(1), hits.Load())
}

func TestRun_RespectsMaxConcurrency(t *testing.T) {
	const limit = 3

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()

		_, _ = io.WriteString(w, "{}")
	}))
	defer ts.Close()

	tasks := layout.Tasks(ts.URL, t.TempDir(), 1, 1, 20)

	results := newPool(t, downloader.Options{MaxConcurrency: limit, RetryLimit: 1}).Run(context.Background(), tasks)
	require.Len(t, results, 20)

	for _, r := range results {
		assert.True(t, r.Success, r.Message)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, limit)
	assert.GreaterOrEqual(t, peak, 1)
}

func TestRun_EmptyBatch(t *testing.T) {
	results := newPool(t, downloader.Options{}).Run(context.Background(), nil)
	assert.Empty(t, results)
}
