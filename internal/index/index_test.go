package index_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/italolelis/mjai_downloader/internal/index"
	"github.com/italolelis/mjai_downloader/internal/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, parts ...string) {
	t.Helper()

	path := filepath.Join(parts...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestInventory(t *testing.T) {
	dir := t.TempDir()

	touch(t, dir, "1", "1_0_mjai.json.gz")
	touch(t, dir, "1", "2_0_mjai.json.gz")
	touch(t, dir, "1", "10_0_mjai.json.gz")
	touch(t, dir, "1", "notes.txt")
	touch(t, dir, "2", "3_0_mjai.json")
	touch(t, dir, "2", "3_0_mjai.json.gz")
	touch(t, dir, "abc", "1_0_mjai.json.gz")
	touch(t, dir, "4", "1_0_mjai.json")
	touch(t, dir, "7", "readme.md")
	touch(t, dir, "stray.json")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "9"), 0o755))

	catalog, err := index.Inventory(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, catalog.MatchIDs())
	assert.Equal(t, index.GameRecord{
		MatchID:     1,
		TotalRounds: 3,
		MinRound:    1,
		MaxRound:    10,
		Rounds:      []int{1, 2, 10},
		Directory:   "1",
	}, catalog[1])
	assert.Equal(t, []int{3}, catalog[2].Rounds)
	assert.True(t, catalog.Has(layout.Key{Match: 1, Round: 10}))
	assert.False(t, catalog.Has(layout.Key{Match: 1, Round: 3}))
	assert.False(t, catalog.Has(layout.Key{Match: 5, Round: 1}))
	assert.False(t, catalog.Has(layout.Key{Match: 4, Round: 1}), "a raw log without its artifact is not stored")
	assert.Equal(t, 4, catalog.Rounds())
}

func TestInventory_MissingDirectory(t *testing.T) {
	catalog, err := index.Inventory(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, catalog)
}

func TestRebuild_WritesIndex(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "2", "1_0_mjai.json.gz")
	touch(t, dir, "10", "2_0_mjai.json.gz")
	touch(t, dir, "10", "1_0_mjai.json.gz")

	_, err := index.Rebuild(context.Background(), dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, layout.IndexFile))
	require.NoError(t, err)

	want := `{
  "2": {
    "total_rounds": 1,
    "min_round": 1,
    "max_round": 1,
    "rounds": [
      1
    ],
    "directory": "2"
  },
  "10": {
    "total_rounds": 2,
    "min_round": 1,
    "max_round": 2,
    "rounds": [
      1,
      2
    ],
    "directory": "10"
  }
}`
	assert.Equal(t, want, string(data))

	loaded, err := index.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, loaded[10].Rounds)
	assert.Equal(t, 10, loaded[10].MatchID)
}

func TestRebuild_Idempotent(t *testing.T) {
	dir := t.TempDir()
	for _, m := range []string{"3", "1", "22", "5"} {
		touch(t, dir, m, "1_0_mjai.json.gz")
		touch(t, dir, m, "4_0_mjai.json.gz")
	}

	_, err := index.Rebuild(context.Background(), dir)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(dir, layout.IndexFile))
	require.NoError(t, err)

	_, err = index.Rebuild(context.Background(), dir)
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(dir, layout.IndexFile))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRebuild_DropsRecordsNoLongerOnDisk(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "1", "1_0_mjai.json.gz")
	touch(t, dir, "2", "1_0_mjai.json.gz")

	_, err := index.Rebuild(context.Background(), dir)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "2")))

	catalog, err := index.Rebuild(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, catalog.MatchIDs())

	loaded, err := index.Load(dir)
	require.NoError(t, err)
	assert.NotContains(t, loaded, 2)
}

func TestRebuild_EmptyTree(t *testing.T) {
	dir := t.TempDir()

	catalog, err := index.Rebuild(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, catalog)

	data, err := os.ReadFile(filepath.Join(dir, layout.IndexFile))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestCatalog_UnmarshalRejectsBadKeys(t *testing.T) {
	var c index.Catalog
	assert.Error(t, c.UnmarshalJSON([]byte(`{"abc": {"total_rounds": 1}}`)))
}
