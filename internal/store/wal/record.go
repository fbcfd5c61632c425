package wal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
)

type EventType int

const (
	EventTaskCreated EventType = iota
	EventTaskPatched
	EventTaskDeleted
)

func (t EventType) String() string {
	switch t {
	case EventTaskCreated:
		return "task_created"
	case EventTaskPatched:
		return "task_patched"
	case EventTaskDeleted:
		return "task_deleted"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

type TaskCreatedPayload struct {
	Task *core.Task `json:"task"`
}

type TaskPatchedPayload struct {
	Patch core.Patch `json:"patch"`
}

// TaskDeletedPayload is empty, the event's TaskID is enough.
type TaskDeletedPayload struct{}

const CurrentVersion = 1

type Event struct {
	Version int       `json:"version"`
	TaskID  string    `json:"task_id"`
	Type    EventType `json:"type"`

	CreatedAt time.Time `json:"created_at"`

	Payload json.RawMessage `json:"payload"`
}

// NewEvent encodes payload into a versioned event.
func NewEvent(taskID string, typ EventType, when time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("wal: encode %v payload: %w", typ, err)
	}
	return Event{
		Version:   CurrentVersion,
		TaskID:    taskID,
		Type:      typ,
		CreatedAt: when,
		Payload:   data,
	}, nil
}

// Decode unmarshals the payload into dst.
func (ev Event) Decode(dst any) error {
	if err := json.Unmarshal(ev.Payload, dst); err != nil {
		return fmt.Errorf("wal: decoding %v: %w", ev.Type, err)
	}
	return nil
}
