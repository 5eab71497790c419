package sweep

import (
	"context"
	"fmt"
	"io"

	"github.com/italolelis/mjai_downloader/internal/bounds"
	"github.com/italolelis/mjai_downloader/internal/index"
	"github.com/italolelis/mjai_downloader/internal/logctx"
)

// Coverage compares what the store offers for a match with what is on disk,
// within the requested round range.
type Coverage struct {
	Match  int
	Rounds int
	Stored int
}

// Complete reports whether every available round is stored.
func (c Coverage) Complete() bool {
	return c.Stored >= c.Rounds
}

func (c Coverage) String() string {
	status := "✓"
	switch {
	case c.Rounds == 0:
		status = "absent"
	case !c.Complete():
		status = fmt.Sprintf("%d/%d", c.Stored, c.Rounds)
	}

	return fmt.Sprintf("match %d: %d rounds [%s]", c.Match, c.Rounds, status)
}

// Check reports per-match availability against the save directory without
// downloading anything. Each line is also written to w when it is non-nil.
func (o *Orchestrator) Check(ctx context.Context, r Range, w io.Writer) ([]Coverage, error) {
	r = r.normalized()
	logger := logctx.LoggerFromContext(ctx)

	if r.EndMatch == 0 {
		r.EndMatch = bounds.MaxMatch(ctx, o.prober, o.opts.BaseURL, o.opts.MatchStep)
		logger.Info("last match discovered", "end_match", r.EndMatch)
	}

	inventory, err := index.Inventory(ctx, o.opts.SaveDir)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	var report []Coverage

	for match := r.StartMatch; match <= r.EndMatch; match++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		last := r.EndRound
		if last == 0 {
			last = o.rounds.Rounds(ctx, match)
		}

		c := Coverage{Match: match, Rounds: max(0, last-r.StartRound+1)}
		for _, round := range inventory[match].Rounds {
			if round >= r.StartRound && round <= last {
				c.Stored++
			}
		}

		report = append(report, c)

		if w != nil {
			if _, err := fmt.Fprintln(w, c.String()); err != nil {
				return report, err
			}
		}
	}

	return report, nil
}
