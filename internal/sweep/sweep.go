// Package sweep drives a download sweep over a range of matches: it bounds the
// range, gates each match with an existence probe, hands the match's rounds to
// the fetch pool and finally rebuilds the on-disk index.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/mjai_downloader/internal/bounds"
	"github.com/italolelis/mjai_downloader/internal/downloader"
	"github.com/italolelis/mjai_downloader/internal/index"
	"github.com/italolelis/mjai_downloader/internal/layout"
	"github.com/italolelis/mjai_downloader/internal/logctx"
	"github.com/italolelis/mjai_downloader/internal/remote"
	"github.com/italolelis/mjai_downloader/internal/storage"
	"github.com/italolelis/mjai_downloader/internal/telemetry"
)

// IndeterminatePolicy decides what happens to a match whose existence could
// not be confirmed either way.
type IndeterminatePolicy string

const (
	// PolicySkip treats an inconclusive probe like a missing match.
	PolicySkip IndeterminatePolicy = "skip"
	// PolicyFetch schedules the match's rounds anyway.
	PolicyFetch IndeterminatePolicy = "fetch"
)

// ParsePolicy validates a policy name. The empty string selects PolicySkip.
func ParsePolicy(s string) (IndeterminatePolicy, error) {
	switch IndeterminatePolicy(s) {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyFetch:
		return PolicyFetch, nil
	}

	return "", fmt.Errorf("unknown indeterminate policy %q", s)
}

// Range selects matches and rounds. A zero EndMatch is discovered from the
// store; a zero EndRound comes from the round counter of each match.
type Range struct {
	StartMatch int
	EndMatch   int
	StartRound int
	EndRound   int
}

func (r Range) normalized() Range {
	if r.StartMatch < 1 {
		r.StartMatch = 1
	}
	if r.StartRound < 1 {
		r.StartRound = 1
	}

	return r
}

// Fetcher runs a batch of tasks; *downloader.Pool implements it.
type Fetcher interface {
	Run(ctx context.Context, tasks []layout.Task) []downloader.Result
}

// Options configures an Orchestrator.
type Options struct {
	BaseURL string
	SaveDir string

	// MatchStep is the expansion step used to discover the last match.
	MatchStep int

	// Throttle is the pause after every match.
	Throttle time.Duration

	// SkipExisting drops rounds already present in the save directory.
	SkipExisting bool

	OnIndeterminate IndeterminatePolicy
}

// Summary is the session view of a sweep. It is reporting only; Catalog,
// rebuilt from disk at the end, is what is actually stored.
type Summary struct {
	SweepID        string
	StartMatch     int
	EndMatch       int
	Downloaded     int
	Total          int
	AlreadyStored  int
	MatchesVisited int
	MatchesSkipped int
	Failures       []downloader.Result
	Catalog        index.Catalog
	Duration       time.Duration
}

// Message is a one-line human summary of the sweep.
func (s Summary) Message() string {
	return fmt.Sprintf("sweep %s: matches %d-%d, %d/%d rounds downloaded, %d failed, %d matches skipped, index holds %d matches",
		s.SweepID, s.StartMatch, s.EndMatch, s.Downloaded, s.Total, len(s.Failures), s.MatchesSkipped, len(s.Catalog))
}

// Orchestrator runs sweeps. It is sequential across matches; parallelism lives
// in the Fetcher.
type Orchestrator struct {
	prober    bounds.Prober
	pool      Fetcher
	rounds    bounds.RoundCounter
	journal   storage.SweepJournal
	telemetry *telemetry.Telemetry
	opts      Options
}

// New creates an orchestrator. journal and tel may be nil.
func New(prober bounds.Prober, pool Fetcher, rounds bounds.RoundCounter, journal storage.SweepJournal, tel *telemetry.Telemetry, opts Options) *Orchestrator {
	if journal == nil {
		journal = storage.NopJournal{}
	}
	if opts.OnIndeterminate == "" {
		opts.OnIndeterminate = PolicySkip
	}

	return &Orchestrator{
		prober:    prober,
		pool:      pool,
		rounds:    rounds,
		journal:   journal,
		telemetry: tel,
		opts:      opts,
	}
}

// Run sweeps r. Task and match failures never stop the sweep. The index is
// rebuilt at the end in every case, including cancellation; the returned error
// reports a failed rebuild or the cancellation itself.
func (o *Orchestrator) Run(ctx context.Context, r Range) (Summary, error) {
	r = r.normalized()

	summary := Summary{SweepID: uuid.NewString(), StartMatch: r.StartMatch}
	ctx = logctx.With(ctx, "sweep_id", summary.SweepID)
	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	if r.EndMatch == 0 {
		logger.Info("discovering last match")

		r.EndMatch = bounds.MaxMatch(ctx, o.prober, o.opts.BaseURL, o.opts.MatchStep)

		logger.Info("last match discovered", "end_match", r.EndMatch)
	}

	summary.EndMatch = r.EndMatch

	// Bookkeeping must survive a cancelled sweep.
	bookCtx := context.WithoutCancel(ctx)

	if err := o.journal.StartSweep(bookCtx, storage.SweepRecord{
		ID:         summary.SweepID,
		StartedAt:  start,
		StartMatch: r.StartMatch,
		EndMatch:   r.EndMatch,
	}); err != nil {
		logger.Warn("failed to journal sweep start", "err", err)
	}

	logger.Info("starting sweep",
		"start_match", r.StartMatch,
		"end_match", r.EndMatch,
		"start_round", r.StartRound,
		"end_round", r.EndRound,
		"save_dir", o.opts.SaveDir,
	)

	var inventory index.Catalog
	if o.opts.SkipExisting {
		var err error

		inventory, err = index.Inventory(ctx, o.opts.SaveDir)
		if err != nil {
			logger.Warn("failed to read existing inventory, downloading everything", "err", err)
		} else {
			logger.Info("existing inventory loaded", "matches", len(inventory), "rounds", inventory.Rounds())
		}
	}

	for match := r.StartMatch; match <= r.EndMatch; match++ {
		if ctx.Err() != nil {
			logger.Warn("sweep interrupted", "next_match", match)
			break
		}

		o.runMatch(ctx, match, r, inventory, &summary)
		sleep(ctx, o.opts.Throttle)
	}

	summary.Duration = time.Since(start)

	logger.Info("sweep finished",
		"downloaded", summary.Downloaded,
		"total", summary.Total,
		"failed", len(summary.Failures),
		"already_stored", summary.AlreadyStored,
		"matches_skipped", summary.MatchesSkipped,
		"duration", summary.Duration.String(),
	)

	o.finishJournal(bookCtx, summary, ctx.Err() != nil)

	catalog, err := index.Rebuild(bookCtx, o.opts.SaveDir)
	if err != nil {
		o.telemetry.RecordIndexRebuild(bookCtx, "error", 0)
		return summary, fmt.Errorf("rebuild index: %w", err)
	}

	o.telemetry.RecordIndexRebuild(bookCtx, "success", catalog.Rounds())
	summary.Catalog = catalog

	return summary, ctx.Err()
}

func (o *Orchestrator) runMatch(ctx context.Context, match int, r Range, inventory index.Catalog, summary *Summary) {
	ctx = logctx.With(ctx, "match", match)
	logger := logctx.LoggerFromContext(ctx)

	summary.MatchesVisited++

	gate := o.prober.Probe(ctx, layout.URL(o.opts.BaseURL, layout.Key{Match: match, Round: 1}))
	o.telemetry.RecordProbe(ctx, gate.String())

	switch gate {
	case remote.NotFound:
		logger.Info("match not found, skipping")
		summary.MatchesSkipped++
		o.telemetry.RecordMatch(ctx, "absent")

		return
	case remote.Indeterminate:
		if o.opts.OnIndeterminate != PolicyFetch {
			logger.Warn("match existence could not be confirmed, skipping")
			summary.MatchesSkipped++
			o.telemetry.RecordMatch(ctx, "indeterminate")

			return
		}

		logger.Warn("match existence could not be confirmed, fetching anyway")
	}

	last := r.EndRound
	if last == 0 {
		last = o.rounds.Rounds(ctx, match)
		logger.Debug("round count determined", "rounds", last)
	}

	tasks := layout.Tasks(o.opts.BaseURL, o.opts.SaveDir, match, r.StartRound, last)

	if inventory != nil {
		pending := tasks[:0]
		for _, task := range tasks {
			if inventory.Has(task.Key) {
				summary.AlreadyStored++
				continue
			}

			pending = append(pending, task)
		}

		tasks = pending
	}

	if len(tasks) == 0 {
		logger.Info("nothing to download for match")
		o.telemetry.RecordMatch(ctx, "complete")

		return
	}

	results := o.pool.Run(ctx, tasks)

	ok := 0
	for _, res := range results {
		if res.Success {
			ok++
			continue
		}

		summary.Failures = append(summary.Failures, res)
	}

	summary.Downloaded += ok
	summary.Total += len(tasks)

	logger.Info("match finished", "downloaded", ok, "total", len(tasks))
	o.telemetry.RecordMatch(ctx, "downloaded")
}

func (o *Orchestrator) finishJournal(ctx context.Context, summary Summary, aborted bool) {
	logger := logctx.LoggerFromContext(ctx)

	failures := make([]storage.TaskFailure, 0, len(summary.Failures))
	for _, f := range summary.Failures {
		failures = append(failures, storage.TaskFailure{
			Match:   f.Task.Key.Match,
			Round:   f.Task.Key.Round,
			URL:     f.Task.URL,
			Message: f.Message,
		})
	}

	if err := o.journal.RecordFailures(ctx, summary.SweepID, failures); err != nil {
		logger.Warn("failed to journal task failures", "err", err)
	}

	status := storage.StatusCompleted
	if aborted {
		status = storage.StatusAborted
	}

	if err := o.journal.FinishSweep(ctx, storage.SweepRecord{
		ID:         summary.SweepID,
		FinishedAt: time.Now(),
		EndMatch:   summary.EndMatch,
		Downloaded: summary.Downloaded,
		Total:      summary.Total,
		Status:     status,
	}); err != nil {
		logger.Warn("failed to journal sweep end", "err", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
