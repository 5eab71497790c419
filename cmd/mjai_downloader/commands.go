package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/mjai_downloader/internal/archive"
	"github.com/italolelis/mjai_downloader/internal/cleanup"
	"github.com/italolelis/mjai_downloader/internal/config"
	"github.com/italolelis/mjai_downloader/internal/index"
	"github.com/urfave/cli/v2"
)

func listGames(ctx context.Context, w io.Writer, saveDir string) error {
	catalog, err := index.Inventory(ctx, saveDir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", saveDir, err)
	}

	if len(catalog) == 0 {
		_, err := fmt.Fprintf(w, "no games stored in %s\n", saveDir)
		return err
	}

	for _, id := range catalog.MatchIDs() {
		rec := catalog[id]
		if _, err := fmt.Fprintf(w, "match %d: %d rounds (%d-%d)\n", id, rec.TotalRounds, rec.MinRound, rec.MaxRound); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(w, "%s matches, %s rounds\n",
		humanize.Comma(int64(len(catalog))), humanize.Comma(int64(catalog.Rounds())))

	return err
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "archive",
		Usage:     "compress JSON logs into YYYY/MM/DD buckets",
		ArgsUsage: "<input-dir> <output-dir>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("archive needs an input and an output directory", 2)
			}

			stats, err := archive.ArchiveByDate(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(c.App.Writer, "total: %d, processed: %d, skipped: %d, failed: %d\n",
				stats.Total, stats.Processed, stats.Skipped, stats.Failed)

			return err
		},
	}
}

func purgeCommand(cfg **config.Config) *cli.Command {
	return &cli.Command{
		Name:      "purge",
		Usage:     "delete logs of games with a disconnected player",
		ArgsUsage: "[dir]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "marker", Value: cleanup.DisconnectMarker, Usage: "text identifying a disconnect"},
			&cli.BoolFlag{Name: "dry-run", Usage: "only list the files that would be deleted"},
		},
		Action: func(c *cli.Context) error {
			dir := (*cfg).SaveDir
			if c.NArg() > 0 {
				dir = c.Args().First()
			}

			report, err := cleanup.PurgeDisconnected(c.Context, dir, c.String("marker"), c.Bool("dry-run"))
			if err != nil {
				return err
			}

			for _, path := range report.Removed {
				if _, err := fmt.Fprintln(c.App.Writer, path); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func historyCommand(cfg **config.Config) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "show recent sweeps recorded in the journal",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 10, Usage: "number of sweeps to show"},
			&cli.StringFlag{Name: "failures", Usage: "list the failed rounds of a sweep id"},
		},
		Action: func(c *cli.Context) error {
			if (*cfg).JournalPath == "" {
				return errors.New("no journal configured, set MJAI_JOURNAL_PATH")
			}

			journal, closeJournal, err := openJournal((*cfg).JournalPath)
			if err != nil {
				return err
			}
			defer closeJournal()

			w := c.App.Writer

			if id := c.String("failures"); id != "" {
				failures, err := journal.Failures(c.Context, id)
				if err != nil {
					return err
				}

				for _, f := range failures {
					if _, err := fmt.Fprintf(w, "%d/%d %s: %s\n", f.Match, f.Round, f.URL, f.Message); err != nil {
						return err
					}
				}

				return nil
			}

			sweeps, err := journal.RecentSweeps(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}

			for _, s := range sweeps {
				finished := "running"
				if !s.FinishedAt.IsZero() {
					finished = humanize.RelTime(s.FinishedAt, time.Now(), "ago", "from now")
				}

				if _, err := fmt.Fprintf(w, "%s  matches %d-%d  %d/%d rounds  %s (%s)\n",
					s.ID, s.StartMatch, s.EndMatch, s.Downloaded, s.Total, s.Status, finished); err != nil {
					return err
				}
			}

			return nil
		},
	}
}
