package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/italolelis/mjai_downloader/internal/logctx"
)

// ProbeResult is the outcome of an existence check.
type ProbeResult int

const (
	// Indeterminate means every attempt failed without a 200 or a 404.
	Indeterminate ProbeResult = iota
	Exists
	NotFound
)

func (r ProbeResult) String() string {
	switch r {
	case Exists:
		return "exists"
	case NotFound:
		return "not_found"
	default:
		return "indeterminate"
	}
}

// Prober answers "does this resource exist?" with a bounded number of HEAD
// attempts. Network failures are followed by a fixed delay; an unexpected
// status is retried at once.
type Prober struct {
	store    Store
	attempts int
	delay    time.Duration
}

// NewProber creates a prober. attempts lower than 1 are raised to 1.
func NewProber(store Store, attempts int, delay time.Duration) *Prober {
	if attempts < 1 {
		attempts = 1
	}

	return &Prober{store: store, attempts: attempts, delay: delay}
}

// Probe checks url. A 200 or a 404 ends the check immediately; any other
// outcome uses up one attempt. When the attempts run out, or ctx is done, the
// result is Indeterminate.
func (p *Prober) Probe(ctx context.Context, url string) ProbeResult {
	logger := logctx.LoggerFromContext(ctx)
	b := &probeBackOff{delay: p.delay}

	result, err := backoff.Retry(ctx, func() (ProbeResult, error) {
		status, err := p.store.Head(ctx, url)
		b.networkFailure = err != nil
		if err != nil {
			return Indeterminate, err
		}

		switch status {
		case http.StatusOK:
			return Exists, nil
		case http.StatusNotFound:
			return NotFound, nil
		}

		return Indeterminate, &StatusError{Operation: "head", URL: url, StatusCode: status}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("probe attempt failed", "url", url, "retry_in", next, "err", err)
		}),
	)
	if err != nil {
		logger.Warn("probe inconclusive", "url", url, "attempts", p.attempts, "err", err)

		return Indeterminate
	}

	return result
}

// probeBackOff waits delay after a network failure and nothing after a
// response with an unexpected status.
type probeBackOff struct {
	delay          time.Duration
	networkFailure bool
}

func (b *probeBackOff) NextBackOff() time.Duration {
	if b.networkFailure {
		return b.delay
	}

	return 0
}

func (b *probeBackOff) Reset() {}
