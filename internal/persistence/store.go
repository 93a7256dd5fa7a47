// Package persistence stores run snapshots so run state survives engine
// restarts and stays queryable after a run finishes.
package persistence

import (
	"errors"

	"github.com/braidflow/braid/pkg/api"
)

// ErrRunNotFound is returned when a run snapshot is not in the store.
var ErrRunNotFound = errors.New("run not found")

// RunSnapshot is the unit of persistence: the latest committed transition
// record of one run, plus enough metadata to filter on.
type RunSnapshot struct {
	RunID    string
	Workflow string
	Status   api.RunStatus
	Record   api.TransitionRecord
}

// RunFilter selects snapshots from the store. Zero values mean
// "no filter" for that field.
type RunFilter struct {
	Workflow string
	Status   api.RunStatus
}

// SnapshotStore persists the latest snapshot per run. SaveRun is an
// upsert; the engine calls it on every committed mutation, so
// implementations should favor cheap writes.
type SnapshotStore interface {
	SaveRun(snap *RunSnapshot) error
	GetRun(runID string) (*RunSnapshot, error)
	ListRuns(filter RunFilter) ([]*RunSnapshot, error)
}
