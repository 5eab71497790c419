package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the journal database at path and creates its tables if needed.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// A single connection keeps SQLite from returning "database is locked"
	// when the sweep and its deferred bookkeeping overlap.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS sweeps (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		start_match INTEGER NOT NULL,
		end_match INTEGER NOT NULL,
		downloaded INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running'
	);
	CREATE TABLE IF NOT EXISTS task_failures (
		id INTEGER PRIMARY KEY,
		sweep_id TEXT NOT NULL REFERENCES sweeps(id),
		match_id INTEGER NOT NULL,
		round_id INTEGER NOT NULL,
		url TEXT NOT NULL,
		message TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal tables: %w", err)
	}

	return db, nil
}
