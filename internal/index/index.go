// Package index derives the catalog of stored rounds from the save directory
// and persists it as index.json. The catalog is always rebuilt from what is on
// disk, so it recovers on its own from interrupted or failed sweeps.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"

	"github.com/italolelis/mjai_downloader/internal/layout"
	"github.com/italolelis/mjai_downloader/internal/logctx"
)

const filePerm = 0o644

// GameRecord describes the rounds stored for one match.
type GameRecord struct {
	MatchID     int    `json:"-"`
	TotalRounds int    `json:"total_rounds"`
	MinRound    int    `json:"min_round"`
	MaxRound    int    `json:"max_round"`
	Rounds      []int  `json:"rounds"`
	Directory   string `json:"directory"`
}

// Has reports whether round is stored.
func (r GameRecord) Has(round int) bool {
	_, found := slices.BinarySearch(r.Rounds, round)
	return found
}

// Catalog maps match IDs to their record.
type Catalog map[int]GameRecord

// MatchIDs returns the catalogued match IDs in ascending order.
func (c Catalog) MatchIDs() []int {
	ids := make([]int, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	return ids
}

// Rounds returns the number of rounds across every match.
func (c Catalog) Rounds() int {
	n := 0
	for _, rec := range c {
		n += rec.TotalRounds
	}

	return n
}

// Has reports whether the round identified by k is stored.
func (c Catalog) Has(k layout.Key) bool {
	rec, ok := c[k.Match]
	return ok && rec.Has(k.Round)
}

// MarshalJSON writes the catalog as an object keyed by match ID, in ascending
// numeric order so equal catalogs always serialize to equal bytes.
func (c Catalog) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, id := range c.MatchIDs() {
		if i > 0 {
			buf.WriteByte(',')
		}

		rec, err := json.Marshal(c[id])
		if err != nil {
			return nil, fmt.Errorf("marshal match %d: %w", id, err)
		}

		buf.WriteString(strconv.Quote(strconv.Itoa(id)))
		buf.WriteByte(':')
		buf.Write(rec)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a catalog written by MarshalJSON.
func (c *Catalog) UnmarshalJSON(data []byte) error {
	var raw map[string]GameRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Catalog, len(raw))

	for key, rec := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid match id %q: %w", key, err)
		}

		rec.MatchID = id
		out[id] = rec
	}

	*c = out

	return nil
}

// Inventory scans dir and returns what is stored without writing anything. A
// missing directory yields an empty catalog.
func Inventory(ctx context.Context, dir string) (Catalog, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Catalog{}, nil
		}

		return nil, fmt.Errorf("read save directory: %w", err)
	}

	catalog := make(Catalog)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		match, err := strconv.Atoi(entry.Name())
		if err != nil {
			logger.Debug("skipping non match directory", "dir", entry.Name())
			continue
		}

		rounds, err := scanRounds(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		if len(rounds) == 0 {
			continue
		}

		catalog[match] = GameRecord{
			MatchID:     match,
			TotalRounds: len(rounds),
			MinRound:    rounds[0],
			MaxRound:    rounds[len(rounds)-1],
			Rounds:      rounds,
			Directory:   entry.Name(),
		}
	}

	return catalog, nil
}

// scanRounds returns the sorted round numbers whose compressed artifact is
// present in a match directory. Raw logs are transient and never count.
func scanRounds(dir string) ([]int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read match directory: %w", err)
	}

	var rounds []int

	for _, f := range files {
		if f.IsDir() {
			continue
		}

		if round, ok := layout.ParseRound(f.Name()); ok {
			rounds = append(rounds, round)
		}
	}

	slices.Sort(rounds)

	return slices.Compact(rounds), nil
}

// Rebuild rescans dir and replaces dir/index.json with the result.
func Rebuild(ctx context.Context, dir string) (Catalog, error) {
	catalog, err := Inventory(ctx, dir)
	if err != nil {
		return nil, err
	}

	if err := Write(dir, catalog); err != nil {
		return nil, err
	}

	logctx.LoggerFromContext(ctx).Info("index rebuilt",
		"path", filepath.Join(dir, layout.IndexFile),
		"matches", len(catalog),
		"rounds", catalog.Rounds(),
	)

	return catalog, nil
}

// Write stores catalog as dir/index.json with two-space indentation. The file
// is replaced as a whole through a rename, never merged or partially written.
func Write(dir string, catalog Catalog) error {
	if catalog == nil {
		catalog = Catalog{}
	}

	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create save directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+layout.IndexFile+".*")
	if err != nil {
		return fmt.Errorf("create temporary index: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		return fmt.Errorf("chmod index: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, layout.IndexFile)); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}

	return nil
}

// Load reads dir/index.json.
func Load(dir string) (Catalog, error) {
	data, err := os.ReadFile(filepath.Join(dir, layout.IndexFile))
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	return catalog, nil
}
