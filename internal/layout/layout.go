// Package layout defines how match/round logs are addressed remotely and where
// they are stored locally.
package layout

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// LogSuffix is the fixed part of every round log name: {round}_0_mjai.json.
	LogSuffix = "_0_mjai.json"

	// ArtifactExt is appended to the log name once it has been compressed.
	ArtifactExt = ".gz"

	// IndexFile is the catalog written at the root of the save directory.
	IndexFile = "index.json"
)

// Key identifies a single round log.
type Key struct {
	Match int
	Round int
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.Match, k.Round)
}

// Task is one unit of work for the fetch pool. It is consumed exactly once.
type Task struct {
	Key         Key
	URL         string
	Destination string // uncompressed path; the artifact lives at Destination+ArtifactExt
}

// Artifact returns the path of the compressed file produced for the task.
func (t Task) Artifact() string {
	return t.Destination + ArtifactExt
}

// FileName returns the remote and local base name of a round log.
func FileName(round int) string {
	return strconv.Itoa(round) + LogSuffix
}

// URL builds base/{match}/{round}_0_mjai.json.
func URL(baseURL string, k Key) string {
	return strings.TrimRight(baseURL, "/") + "/" + strconv.Itoa(k.Match) + "/" + FileName(k.Round)
}

// MatchDir is the directory holding every round of a match.
func MatchDir(saveDir string, match int) string {
	return filepath.Join(saveDir, strconv.Itoa(match))
}

// Destination is the uncompressed local path for a round log.
func Destination(saveDir string, k Key) string {
	return filepath.Join(MatchDir(saveDir, k.Match), FileName(k.Round))
}

// NewTask builds the task for k.
func NewTask(baseURL, saveDir string, k Key) Task {
	return Task{
		Key:         k,
		URL:         URL(baseURL, k),
		Destination: Destination(saveDir, k),
	}
}

// Tasks builds the tasks for rounds [first, last] of match. An empty slice is
// returned when last < first.
func Tasks(baseURL, saveDir string, match, first, last int) []Task {
	if last < first {
		return nil
	}

	tasks := make([]Task, 0, last-first+1)
	for round := first; round <= last; round++ {
		tasks = append(tasks, NewTask(baseURL, saveDir, Key{Match: match, Round: round}))
	}

	return tasks
}

// ParseRound extracts the round number from a stored artifact name such as
// "12_0_mjai.json.gz". ok is false for any other name, including the raw
// "12_0_mjai.json" a crashed download may leave behind.
func ParseRound(name string) (round int, ok bool) {
	if !strings.HasSuffix(name, LogSuffix+ArtifactExt) {
		return 0, false
	}

	head, _, found := strings.Cut(name, "_")
	if !found {
		return 0, false
	}

	round, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}

	return round, true
}
