package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/mjai_downloader/internal/logctx"
)

const dirPerm = 0o755

// Stats summarises an archival run.
type Stats struct {
	Total     int
	Processed int
	Skipped   int
	Failed    int
}

// DatePath returns the YYYY/MM/DD bucket for a log named after the day it was
// played, e.g. "2019070419gm-00a9-0000-557e4086.json" → 2019/07/04. ok is
// false when the name does not start with a valid date.
func DatePath(name string) (dir string, ok bool) {
	if len(name) < 8 {
		return "", false
	}

	day, err := time.Parse("20060102", name[:8])
	if err != nil {
		return "", false
	}

	return filepath.Join(day.Format("2006"), day.Format("01"), day.Format("02")), true
}

// ArchiveByDate walks in and compresses every .json file into
// out/YYYY/MM/DD/<name>.json.gz. Files that are not JSON or carry no date are
// skipped; per-file failures are counted and do not stop the walk.
func ArchiveByDate(ctx context.Context, in, out string) (Stats, error) {
	logger := logctx.LoggerFromContext(ctx)

	var stats Stats

	err := filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			return nil
		}

		stats.Total++

		if !strings.EqualFold(filepath.Ext(d.Name()), ".json") {
			logger.Debug("skipping non json file", "file", path)
			stats.Skipped++

			return nil
		}

		bucket, ok := DatePath(d.Name())
		if !ok {
			logger.Warn("no date in file name, skipping", "file", path)
			stats.Skipped++

			return nil
		}

		dir := filepath.Join(out, bucket)
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			logger.Error("failed to create archive directory", "dir", dir, "err", err)
			stats.Failed++

			return nil
		}

		dst := filepath.Join(dir, d.Name()+".gz")
		if err := CompressFile(path, dst); err != nil {
			logger.Error("failed to archive file", "file", path, "err", err)
			stats.Failed++

			return nil
		}

		logger.Info("archived file", "file", path, "artifact", dst)
		stats.Processed++

		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk %s: %w", in, err)
	}

	return stats, nil
}
