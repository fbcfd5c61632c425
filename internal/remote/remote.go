// Package remote defines the push-based task store the sync engine talks
// to, plus the reference backend service and its HTTP/websocket client.
package remote

import (
	"context"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
)

// Snapshot is one full result of an owner's task query, newest first.
// A snapshot with Err set is the last one on its channel.
type Snapshot struct {
	Tasks []*core.Task
	Err   error
}

// Created is what the store hands back for a confirmed create.
type Created struct {
	ID        string
	CreatedAt time.Time
}

type Store interface {
	// Subscribe streams snapshots of ownerID's tasks until ctx is done.
	// The channel is closed when the subscription ends.
	Subscribe(ctx context.Context, ownerID string) (<-chan Snapshot, error)
	Create(ctx context.Context, rec core.Record) (Created, error)
	Update(ctx context.Context, id string, p core.Patch) error
	Delete(ctx context.Context, id string) error
}
