package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/mjai_downloader/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://storage.googleapis.com/mjlog/games", cfg.BaseURL)
	assert.Equal(t, "mjai_data", cfg.SaveDir)
	assert.Equal(t, 5, cfg.MaxConcurrency)
	assert.Equal(t, 3, cfg.RetryLimit)
	assert.Equal(t, 3, cfg.ProbeAttemptLimit())
	assert.Equal(t, 2*time.Second, cfg.FetchDelay)
	assert.Equal(t, time.Second, cfg.ProbeDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.MatchThrottle)
	assert.Equal(t, 100, cfg.RangeStep)
	assert.Equal(t, "search", cfg.RoundStrategy)
	assert.Equal(t, "skip", cfg.IndeterminatePolicy)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("MJAI_SAVE_DIR", "/data/logs")
	t.Setenv("MJAI_MAX_CONCURRENCY", "12")
	t.Setenv("MJAI_MATCH_THROTTLE", "0s")
	t.Setenv("MJAI_ROUND_STRATEGY", "constant")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/data/logs", cfg.SaveDir)
	assert.Equal(t, 12, cfg.MaxConcurrency)
	assert.Zero(t, cfg.MatchThrottle)
	assert.Equal(t, "constant", cfg.RoundStrategy)
}

func TestProbeAttemptLimit(t *testing.T) {
	t.Setenv("MJAI_RETRY_LIMIT", "5")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ProbeAttemptLimit(), "probes share the retry limit by default")

	t.Setenv("MJAI_PROBE_ATTEMPTS", "2")

	cfg, err = config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.ProbeAttemptLimit())
	assert.Equal(t, 5, cfg.RetryLimit)
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	t.Setenv("MJAI_MAX_CONCURRENCY", "many")

	_, err := config.LoadConfig()
	require.Error(t, err)
}

func TestApplyFile_OverridesEnv(t *testing.T) {
	t.Setenv("MJAI_SAVE_DIR", "/from/env")
	t.Setenv("MJAI_RETRY_LIMIT", "7")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
save_dir: /from/file
fetch_retry_delay: 250ms
indeterminate_policy: fetch
`), 0o644))

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyFile(path))

	assert.Equal(t, "/from/file", cfg.SaveDir)
	assert.Equal(t, 250*time.Millisecond, cfg.FetchDelay)
	assert.Equal(t, "fetch", cfg.IndeterminatePolicy)
	assert.Equal(t, 7, cfg.RetryLimit, "keys absent from the file keep their value")
}

func TestApplyFile_Errors(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	require.Error(t, cfg.ApplyFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("save_dri: typo\n"), 0o644))
	require.Error(t, cfg.ApplyFile(path))

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	require.NoError(t, cfg.ApplyFile(empty))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"relative base url", func(c *config.Config) { c.BaseURL = "games" }},
		{"empty save dir", func(c *config.Config) { c.SaveDir = "" }},
		{"no workers", func(c *config.Config) { c.MaxConcurrency = 0 }},
		{"no retries", func(c *config.Config) { c.RetryLimit = 0 }},
		{"negative probe attempts", func(c *config.Config) { c.ProbeAttempts = -1 }},
		{"zero step", func(c *config.Config) { c.RangeStep = 0 }},
		{"unknown strategy", func(c *config.Config) { c.RoundStrategy = "guess" }},
		{"constant without rounds", func(c *config.Config) { c.RoundStrategy = "constant"; c.ConstantRounds = 0 }},
		{"unknown policy", func(c *config.Config) { c.IndeterminatePolicy = "maybe" }},
		{"negative delay", func(c *config.Config) { c.FetchDelay = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadConfig()
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := &config.Config{LogLevel: "debug"}
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	cfg.LogLevel = "bogus"
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}
