// Package cleanup removes logs that should not be kept, such as games in
// which a player disconnected.
package cleanup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/mjai_downloader/internal/layout"
	"github.com/italolelis/mjai_downloader/internal/logctx"
	"github.com/klauspost/compress/gzip"
)

// DisconnectMarker is the event that appears in a log when a player left the table.
const DisconnectMarker = "BYE"

// Report lists what a purge matched.
type Report struct {
	Scanned    int
	Removed    []string
	Unreadable int
}

// PurgeDisconnected walks dir and deletes every file containing marker.
// Compressed artifacts are inspected after decompression. Files that cannot be
// read are left alone. With dryRun nothing is deleted but Removed still lists
// the matches.
func PurgeDisconnected(ctx context.Context, dir, marker string, dryRun bool) (Report, error) {
	logger := logctx.LoggerFromContext(ctx)

	if marker == "" {
		marker = DisconnectMarker
	}

	var report Report

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() || d.Name() == layout.IndexFile {
			return nil
		}

		report.Scanned++

		found, err := contains(path, []byte(marker))
		if err != nil {
			logger.Warn("Failed to read file", "file", path, "err", err)
			report.Unreadable++

			return nil
		}

		if !found {
			return nil
		}

		report.Removed = append(report.Removed, path)

		if dryRun {
			logger.Info("Would delete disconnected game", "file", path)
			return nil
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete disconnected game", "file", path, "err", err)
			return fmt.Errorf("remove %s: %w", path, err)
		}

		logger.Info("Deleted disconnected game", "file", path)

		return nil
	})

	return report, err
}

func contains(path string, marker []byte) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var r io.Reader = f

	if strings.HasSuffix(path, layout.ArtifactExt) {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return false, err
		}
		defer zr.Close()

		r = zr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return false, err
	}

	return bytes.Contains(data, marker), nil
}
