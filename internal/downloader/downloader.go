// Package downloader runs a batch of round downloads through a bounded pool of
// workers. Every task produces exactly one Result; failures are reported, never
// returned as errors or panics.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/mjai_downloader/internal/archive"
	"github.com/italolelis/mjai_downloader/internal/downloader/progress"
	"github.com/italolelis/mjai_downloader/internal/layout"
	"github.com/italolelis/mjai_downloader/internal/logctx"
	"github.com/italolelis/mjai_downloader/internal/remote"
	"github.com/italolelis/mjai_downloader/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Options configures the pool.
type Options struct {
	// MaxConcurrency bounds the number of tasks in flight.
	// Default: 5
	MaxConcurrency int

	// RetryLimit is the number of fetch attempts per task.
	// Default: 3
	RetryLimit int

	// RetryDelay is the fixed pause between attempts. Zero retries immediately.
	RetryDelay time.Duration

	// ProgressInterval is how many bytes are read between debug progress logs.
	// Default: 1MiB
	ProgressInterval int64
}

// Result is the outcome of one task.
type Result struct {
	Task    layout.Task
	Success bool
	Message string
	Err     error
	Bytes   int64 // uncompressed body size
}

// Pool downloads tasks concurrently.
type Pool struct {
	store     remote.Store
	opts      Options
	telemetry *telemetry.Telemetry
}

// NewPool creates a pool fetching from store. tel may be nil.
func NewPool(store remote.Store, opts Options, tel *telemetry.Telemetry) *Pool {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 5
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 1 << 20
	}

	return &Pool{store: store, opts: opts, telemetry: tel}
}

// Run downloads every task with at most MaxConcurrency in flight and returns
// one result per task in completion order.
func (p *Pool) Run(ctx context.Context, tasks []layout.Task) []Result {
	results := make(chan Result, len(tasks))

	var g errgroup.Group
	g.SetLimit(p.opts.MaxConcurrency)

	for _, task := range tasks {
		g.Go(func() error {
			results <- p.Download(ctx, task)

			return nil
		})
	}

	_ = g.Wait()
	close(results)

	out := make([]Result, 0, len(tasks))
	for r := range results {
		out = append(out, r)
	}

	return out
}

// Download fetches a single task, retrying transport failures and non-success
// statuses, then stores it compressed at task.Artifact().
func (p *Pool) Download(ctx context.Context, task layout.Task) Result {
	logger := logctx.LoggerFromContext(ctx).With("match", task.Key.Match, "round", task.Key.Round)

	var size int64

	err := p.telemetry.InstrumentDownload(ctx, &size, func(ctx context.Context) error {
		data, err := backoff.Retry(ctx, func() ([]byte, error) {
			return p.fetch(ctx, task, logger)
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(p.opts.RetryDelay)),
			backoff.WithMaxTries(uint(p.opts.RetryLimit)),
			backoff.WithNotify(func(err error, next time.Duration) {
				logger.Debug("download attempt failed", "url", task.URL, "retry_in", next, "err", err)
			}),
		)
		if err != nil {
			return err
		}

		size = int64(len(data))

		return p.persist(task, data, logger)
	})
	if err != nil {
		logger.Error("failed to download round", "url", task.URL, "err", err)

		return Result{
			Task:    task,
			Message: fmt.Sprintf("download failed %s: %v", task.URL, err),
			Err:     err,
		}
	}

	logger.Info("downloaded and saved round", "artifact", task.Artifact(), "size", humanize.Bytes(uint64(size)))

	return Result{
		Task:    task,
		Success: true,
		Message: "downloaded: " + task.Artifact(),
		Bytes:   size,
	}
}

// fetch performs one attempt and returns the whole body.
func (p *Pool) fetch(ctx context.Context, task layout.Task, logger *slog.Logger) ([]byte, error) {
	resp, err := p.store.Fetch(ctx, task.URL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	pr := progress.NewReader(resp.Body, resp.Size, p.opts.ProgressInterval, func(read, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"url", task.URL,
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "url", task.URL, "downloaded", humanize.Bytes(uint64(read)))
		}
	})

	data, err := io.ReadAll(pr)
	if err != nil {
		return nil, &remote.NetworkError{Operation: "fetch", URL: task.URL, Err: err}
	}

	return data, nil
}

// persist writes the raw body to task.Destination, compresses it next to
// itself and removes the raw file. Filesystem errors are not retried.
func (p *Pool) persist(task layout.Task, data []byte, logger *slog.Logger) (err error) {
	if err := ensureTargetDir(task.Destination, logger); err != nil {
		return err
	}

	defer func() {
		rerr := os.Remove(task.Destination)
		if rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
			err = fmt.Errorf("failed to remove uncompressed log: %w", rerr)
		}
	}()

	if err := os.WriteFile(task.Destination, data, filePerm); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}

	if err := archive.CompressFile(task.Destination, task.Artifact()); err != nil {
		return fmt.Errorf("failed to compress log: %w", err)
	}

	return nil
}

// ensureTargetDir creates the parent directory of targetPath. Concurrent calls
// for the same directory are harmless.
func ensureTargetDir(targetPath string, logger *slog.Logger) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		logger.Error("failed to create target directory", "dir", dir, "err", err)

		return fmt.Errorf("failed to create target directory: %w", err)
	}

	return nil
}
