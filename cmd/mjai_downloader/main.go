package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/mjai_downloader/internal/bounds"
	"github.com/italolelis/mjai_downloader/internal/config"
	"github.com/italolelis/mjai_downloader/internal/downloader"
	"github.com/italolelis/mjai_downloader/internal/logctx"
	"github.com/italolelis/mjai_downloader/internal/notifier"
	"github.com/italolelis/mjai_downloader/internal/remote"
	"github.com/italolelis/mjai_downloader/internal/storage"
	"github.com/italolelis/mjai_downloader/internal/storage/sqlite"
	"github.com/italolelis/mjai_downloader/internal/sweep"
	"github.com/italolelis/mjai_downloader/internal/telemetry"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var cfg *config.Config

	return &cli.App{
		Name:    "mjai_downloader",
		Usage:   "mirror mjai game logs from a remote store",
		Version: version,
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "start", Value: 1, Usage: "first match to download"},
			&cli.IntFlag{Name: "end", Usage: "last match to download, 0 discovers it"},
			&cli.IntFlag{Name: "start-round", Value: 1, Usage: "first round of every match"},
			&cli.IntFlag{Name: "end-round", Usage: "last round of every match, 0 discovers it"},
			&cli.StringFlag{Name: "save-dir", Usage: "directory receiving the logs"},
			&cli.IntFlag{Name: "threads", Usage: "concurrent downloads"},
			&cli.BoolFlag{Name: "check-only", Usage: "report coverage without downloading"},
			&cli.BoolFlag{Name: "skip-existing", Usage: "do not download rounds already stored"},
			&cli.BoolFlag{Name: "list-games", Usage: "list stored matches and exit"},
			&cli.StringFlag{Name: "config", Usage: "YAML configuration file"},
		},
		Before: func(c *cli.Context) error {
			var err error

			cfg, err = loadConfig(c)
			if err != nil {
				return err
			}

			logger := slog.New(logctx.NewTraceHandler(
				slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
			))
			slog.SetDefault(logger)

			c.Context = logctx.WithLogger(c.Context, logger)

			return nil
		},
		Action: func(c *cli.Context) error {
			if c.Bool("list-games") {
				return listGames(c.Context, c.App.Writer, cfg.SaveDir)
			}

			r := sweep.Range{
				StartMatch: c.Int("start"),
				EndMatch:   c.Int("end"),
				StartRound: c.Int("start-round"),
				EndRound:   c.Int("end-round"),
			}

			return run(c.Context, c.App.Writer, cfg, r, c.Bool("check-only"), c.Bool("skip-existing"))
		},
		Commands: []*cli.Command{
			archiveCommand(),
			purgeCommand(&cfg),
			historyCommand(&cfg),
		},
	}
}

// loadConfig applies defaults, the environment, the optional file and finally
// the flags, in that order.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	if path := c.String("config"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if c.IsSet("save-dir") {
		cfg.SaveDir = c.String("save-dir")
	}
	if c.IsSet("threads") {
		cfg.MaxConcurrency = c.Int("threads")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func run(ctx context.Context, w io.Writer, cfg *config.Config, r sweep.Range, checkOnly, skipExisting bool) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("mjai downloader starting...",
		"version", version,
		"log_level", cfg.LogLevel,
		"base_url", cfg.BaseURL,
		"save_dir", cfg.SaveDir,
	)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    "mjai_downloader",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInterval:   cfg.OTLPInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if cfg.TelemetryEnabled && cfg.MetricsAddr != "" {
		stopServer := startMetricsServer(ctx, cfg.MetricsAddr, tel)
		defer stopServer()
	}

	// =========================================================================
	// Start Journal
	journal, closeJournal, err := openJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer closeJournal()

	// =========================================================================
	// Start Remote Store
	client := remote.NewClient(remote.Options{
		UserAgent:           cfg.UserAgent,
		ProbeTimeout:        cfg.ProbeTimeout,
		FetchTimeout:        cfg.FetchTimeout,
		MaxIdleConnsPerHost: cfg.MaxConcurrency,
	})
	defer client.Close()

	store := remote.NewInstrumentedStore(client, tel)
	prober := remote.NewProber(store, cfg.ProbeAttemptLimit(), cfg.ProbeDelay)

	rounds, err := bounds.NewRoundCounter(cfg.RoundStrategy, prober, cfg.BaseURL, cfg.RangeStep, cfg.ConstantRounds)
	if err != nil {
		return err
	}

	policy, err := sweep.ParsePolicy(cfg.IndeterminatePolicy)
	if err != nil {
		return err
	}

	pool := downloader.NewPool(store, downloader.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		RetryLimit:     cfg.RetryLimit,
		RetryDelay:     cfg.FetchDelay,
	}, tel)

	orchestrator := sweep.New(prober, pool, rounds, journal, tel, sweep.Options{
		BaseURL:         cfg.BaseURL,
		SaveDir:         cfg.SaveDir,
		MatchStep:       cfg.RangeStep,
		Throttle:        cfg.MatchThrottle,
		SkipExisting:    skipExisting,
		OnIndeterminate: policy,
	})

	if checkOnly {
		_, err := orchestrator.Check(ctx, r, w)
		return err
	}

	// =========================================================================
	// Start Sweep
	summary, err := orchestrator.Run(ctx, r)

	notify(ctx, cfg, summary, err)

	if errors.Is(err, context.Canceled) {
		logger.Info("sweep interrupted, index rebuilt", "matches", len(summary.Catalog))
		return nil
	}

	return err
}

func startMetricsServer(ctx context.Context, addr string, tel *telemetry.Telemetry) func() {
	logger := logctx.LoggerFromContext(ctx)
	server := telemetry.NewServer(ctx, addr, tel)

	go func() {
		logger.Info("Initializing metrics endpoint", "host", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the metrics server", "err", err)

			_ = server.Close()
		}
	}
}

func openJournal(path string) (storage.SweepJournal, func(), error) {
	if path == "" {
		return storage.NopJournal{}, func() {}, nil
	}

	db, err := sqlite.InitDB(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return sqlite.NewJournalRepository(db), func() { _ = db.Close() }, nil
}

func notify(ctx context.Context, cfg *config.Config, summary sweep.Summary, runErr error) {
	if cfg.DiscordWebhookURL == "" {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)

	content := "✅ " + summary.Message()
	if runErr != nil || len(summary.Failures) > 0 {
		content = "❌ " + summary.Message()
	}

	if err := notif.Notify(context.WithoutCancel(ctx), content); err != nil {
		logger.Error("failed to send notification", "sweep_id", summary.SweepID, "err", err)
	}
}
