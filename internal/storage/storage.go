// Package storage records the history of sweeps. The journal is reporting
// only: what is actually stored is always derived from the save directory by
// package index.
package storage

import (
	"context"
	"time"
)

// Sweep statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// SweepRecord is one row of the journal.
type SweepRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	StartMatch int
	EndMatch   int
	Downloaded int
	Total      int
	Status     string
}

// TaskFailure is a task that exhausted its retries during a sweep.
type TaskFailure struct {
	Match   int
	Round   int
	URL     string
	Message string
}

// SweepJournal persists sweep summaries.
type SweepJournal interface {
	StartSweep(ctx context.Context, rec SweepRecord) error
	RecordFailures(ctx context.Context, sweepID string, failures []TaskFailure) error
	FinishSweep(ctx context.Context, rec SweepRecord) error
	RecentSweeps(ctx context.Context, limit int) ([]SweepRecord, error)
	Failures(ctx context.Context, sweepID string) ([]TaskFailure, error)
}

// NopJournal discards everything. It is used when no journal path is configured.
type NopJournal struct{}

func (NopJournal) StartSweep(context.Context, SweepRecord) error { return nil }
func (NopJournal) RecordFailures(context.Context, string, []TaskFailure) error { return nil }
func (NopJournal) FinishSweep(context.Context, SweepRecord) error { return nil }
func (NopJournal) RecentSweeps(context.Context, int) ([]SweepRecord, error) { return nil, nil }
func (NopJournal) Failures(context.Context, string) ([]TaskFailure, error) { return nil, nil }
