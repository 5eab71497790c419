// Package bounds finds the largest existing key on an axis of the remote store
// (match IDs, or round numbers within a match) without an index to list it.
package bounds

import (
	"context"

	"github.com/italolelis/mjai_downloader/internal/layout"
	"github.com/italolelis/mjai_downloader/internal/logctx"
	"github.com/italolelis/mjai_downloader/internal/remote"
)

// DefaultStep is how far the expansion phase jumps ahead on every hit.
const DefaultStep = 100

// KeyProbe reports whether key exists on the axis being searched.
type KeyProbe func(ctx context.Context, key int) remote.ProbeResult

// Prober is satisfied by *remote.Prober.
type Prober interface {
	Probe(ctx context.Context, url string) remote.ProbeResult
}

// FindUpperBound returns the largest key in [1, ∞) for which probe reports
// Exists, or 0 when key 1 does not exist. It assumes existence is monotonic:
// once a key is missing, every larger key is missing too. Only Exists counts
// as present; NotFound and Indeterminate both end a run.
func FindUpperBound(ctx context.Context, probe KeyProbe, step int) int {
	if step < 1 {
		step = DefaultStep
	}

	logger := logctx.LoggerFromContext(ctx)

	low, high := 1, 1
	for probe(ctx, high) == remote.Exists {
		low = high
		high += step
	}

	logger.Debug("upper bound bracketed", "low", low, "high", high)

	best := 0
	for low <= high {
		mid := low + (high-low)/2

		if probe(ctx, mid) == remote.Exists {
			best = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	return best
}

// MatchProbe checks a match by probing its first round.
func MatchProbe(p Prober, baseURL string) KeyProbe {
	return func(ctx context.Context, match int) remote.ProbeResult {
		return p.Probe(ctx, layout.URL(baseURL, layout.Key{Match: match, Round: 1}))
	}
}

// RoundProbe checks rounds of a single match.
func RoundProbe(p Prober, baseURL string, match int) KeyProbe {
	return func(ctx context.Context, round int) remote.ProbeResult {
		return p.Probe(ctx, layout.URL(baseURL, layout.Key{Match: match, Round: round}))
	}
}

// MaxMatch discovers the highest match ID available in the store.
func MaxMatch(ctx context.Context, p Prober, baseURL string, step int) int {
	return FindUpperBound(ctx, MatchProbe(p, baseURL), step)
}
