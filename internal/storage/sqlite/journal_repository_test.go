package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/mjai_downloader/internal/storage"
	"github.com/italolelis/mjai_downloader/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *sqlite.JournalRepository {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.NewJournalRepository(db)
}

func TestJournal_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.StartSweep(ctx, storage.SweepRecord{ID: "a", StartedAt: started, StartMatch: 1, EndMatch: 10}))

	sweeps, err := repo.RecentSweeps(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	assert.Equal(t, storage.StatusRunning, sweeps[0].Status)
	assert.True(t, sweeps[0].FinishedAt.IsZero())

	require.NoError(t, repo.RecordFailures(ctx, "a", []storage.TaskFailure{
		{Match: 2, Round: 3, URL: "http://h/2/3_0_mjai.json", Message: "download failed"},
		{Match: 1, Round: 7, URL: "http://h/1/7_0_mjai.json", Message: "download failed"},
	}))

	require.NoError(t, repo.FinishSweep(ctx, storage.SweepRecord{
		ID:         "a",
		FinishedAt: started.Add(time.Minute),
		EndMatch:   10,
		Downloaded: 8,
		Total:      10,
		Status:     storage.StatusCompleted,
	}))

	sweeps, err = repo.RecentSweeps(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	assert.Equal(t, storage.SweepRecord{
		ID:         "a",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		StartMatch: 1,
		EndMatch:   10,
		Downloaded: 8,
		Total:      10,
		Status:     storage.StatusCompleted,
	}, sweeps[0])

	failures, err := repo.Failures(ctx, "a")
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, 1, failures[0].Match)
	assert.Equal(t, 7, failures[0].Round)
}

func TestJournal_RecentSweepsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.StartSweep(ctx, storage.SweepRecord{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour), StartMatch: 1}))
	}

	sweeps, err := repo.RecentSweeps(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sweeps, 2)
	assert.Equal(t, "new", sweeps[0].ID)
	assert.Equal(t, "mid", sweeps[1].ID)
}

func TestJournal_FinishUnknownSweep(t *testing.T) {
	err := newRepo(t).FinishSweep(context.Background(), storage.SweepRecord{ID: "missing", Status: storage.StatusCompleted})
	assert.Error(t, err)
}
