package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/mjai_downloader/internal/storage"
)

// JournalRepository implements storage.SweepJournal on SQLite.
type JournalRepository struct {
	db *sql.DB
}

func NewJournalRepository(db *sql.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

func (r *JournalRepository) StartSweep(ctx context.Context, rec storage.SweepRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sweeps (id, started_at, start_match, end_match, status) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UTC().Format(time.RFC3339), rec.StartMatch, rec.EndMatch, storage.StatusRunning,
	)

	return err
}

// RecordFailures stores failures in one transaction.
func (r *JournalRepository) RecordFailures(ctx context.Context, sweepID string, failures []storage.TaskFailure) error {
	if len(failures) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO task_failures (sweep_id, match_id, round_id, url, message) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range failures {
		if _, err := stmt.ExecContext(ctx, sweepID, f.Match, f.Round, f.URL, f.Message); err != nil {
			return fmt.Errorf("insert failure %d/%d: %w", f.Match, f.Round, err)
		}
	}

	return tx.Commit()
}

// FinishSweep stores the final counters and status of a sweep.
func (r *JournalRepository) FinishSweep(ctx context.Context, rec storage.SweepRecord) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sweeps SET finished_at = ?, end_match = ?, downloaded = ?, total = ?, status = ? WHERE id = ?`,
		rec.FinishedAt.UTC().Format(time.RFC3339), rec.EndMatch, rec.Downloaded, rec.Total, rec.Status, rec.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("sweep %s not found", rec.ID)
	}

	return nil
}

// RecentSweeps returns up to limit sweeps, newest first.
func (r *JournalRepository) RecentSweeps(ctx context.Context, limit int) ([]storage.SweepRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, start_match, end_match, downloaded, total, status
		FROM sweeps
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sweeps []storage.SweepRecord

	for rows.Next() {
		var (
			rec      storage.SweepRecord
			started  string
			finished sql.NullString
		)

		if err := rows.Scan(&rec.ID, &started, &finished, &rec.StartMatch, &rec.EndMatch, &rec.Downloaded, &rec.Total, &rec.Status); err != nil {
			return nil, err
		}

		rec.StartedAt, err = time.Parse(time.RFC3339, started)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}

		if finished.Valid {
			rec.FinishedAt, err = time.Parse(time.RFC3339, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
		}

		sweeps = append(sweeps, rec)
	}

	return sweeps, rows.Err()
}

// Failures returns the failures recorded for a sweep.
func (r *JournalRepository) Failures(ctx context.Context, sweepID string) ([]storage.TaskFailure, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT match_id, round_id, url, message FROM task_failures WHERE sweep_id = ? ORDER BY match_id, round_id`, sweepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []storage.TaskFailure

	for rows.Next() {
		var f storage.TaskFailure
		if err := rows.Scan(&f.Match, &f.Round, &f.URL, &f.Message); err != nil {
			return nil, err
		}

		failures = append(failures, f)
	}

	return failures, rows.Err()
}
