// Package store persists the authoritative task records of the backend.
package store

import (
	"context"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
)

// TaskStore persists canonical tasks. Implementations MUST be safe for
// concurrent use and durable across restarts.
type TaskStore interface {
	// CreateTask stores a new task; an existing id is a conflict.
	CreateTask(ctx context.Context, task *core.Task) error
	// PatchTask applies p to the stored task and returns the result.
	PatchTask(ctx context.Context, id string, p core.Patch, at time.Time) (*core.Task, error)
	DeleteTask(ctx context.Context, id string, at time.Time) error
	GetTask(ctx context.Context, id string) (*core.Task, error)
	// ListByOwner returns the owner's tasks sorted newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*core.Task, error)

	Close() error
}

type SnapshotWriter interface {
	// FlushSnapshot makes everything written so far durable and compacts
	// whatever the implementation keeps on the side.
	FlushSnapshot(ctx context.Context) error
}

// Store is what the backend needs from a storage mode.
type Store interface {
	TaskStore
	SnapshotWriter
}

const (
	ModeMemory = "memory"
	ModeBolt   = "bbolt"
	ModeSQLite = "sqlite"
)

func filterOwner(tasks []*core.Task, ownerID string) []*core.Task {
	res := make([]*core.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.OwnerID == ownerID {
			res = append(res, t.CloneTask())
		}
	}
	core.SortTasks(res)
	return res
}
