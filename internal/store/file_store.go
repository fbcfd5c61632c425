package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/store/snapshot"
	"github.com/mauzec/taskpulse/internal/store/wal"
)

// FileTaskStore keeps tasks in memory, logs every change to a WAL and
// periodically folds the WAL into a JSON snapshot.
type FileTaskStore struct {
	tasks map[string]*core.Task

	snapshotPath string
	walPath      string

	log wal.AppendOnlyLog
	mu  sync.RWMutex
}

// NewFileTaskStore restores state from the latest snapshot plus the WAL.
func NewFileTaskStore(ctx context.Context, snapshotPath, walPath string) (*FileTaskStore, error) {
	tasks, err := restore(ctx, snapshotPath, walPath)
	if err != nil {
		return nil, err
	}
	log, err := wal.NewFileLog(walPath)
	if err != nil {
		return nil, err
	}
	return &FileTaskStore{
		snapshotPath: snapshotPath,
		walPath:      walPath,
		tasks:        tasks,
		log:          log,
	}, nil
}

// Close closes wal log.
func (st *FileTaskStore) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.log == nil {
		return nil
	}
	err := st.log.Close()
	st.log = nil
	return err
}

func (st *FileTaskStore) CreateTask(ctx context.Context, task *core.Task) error {
	const op = "store.FileTaskStore.CreateTask"
	if task == nil {
		return errors.New("store: required task")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.tasks[task.ID]; ok {
		return core.NewTaskConflictError(task.ID, op)
	}
	ev, err := wal.NewEvent(task.ID, wal.EventTaskCreated, task.CreatedAt, wal.TaskCreatedPayload{Task: task})
	if err != nil {
		return err
	}
	if err := st.flushAppend(ctx, ev); err != nil {
		return err
	}

	st.tasks[task.ID] = task.CloneTask()
	return nil
}

func (st *FileTaskStore) PatchTask(ctx context.Context, id string, p core.Patch, at time.Time) (*core.Task, error) {
	const op = "store.FileTaskStore.PatchTask"

	st.mu.Lock()
	defer st.mu.Unlock()

	t, ok := st.tasks[id]
	if !ok {
		return nil, core.NewTaskNotFoundError(id, op)
	}
	ev, err := wal.NewEvent(id, wal.EventTaskPatched, at, wal.TaskPatchedPayload{Patch: p})
	if err != nil {
		return nil, err
	}
	if err := st.flushAppend(ctx, ev); err != nil {
		return nil, err
	}

	t.Apply(p)
	return t.CloneTask(), nil
}

func (st *FileTaskStore) DeleteTask(ctx context.Context, id string, at time.Time) error {
	const op = "store.FileTaskStore.DeleteTask"

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.tasks[id]; !ok {
		return core.NewTaskNotFoundError(id, op)
	}
	ev, err := wal.NewEvent(id, wal.EventTaskDeleted, at, wal.TaskDeletedPayload{})
	if err != nil {
		return err
	}
	if err := st.flushAppend(ctx, ev); err != nil {
		return err
	}
	delete(st.tasks, id)
	return nil
}

func (st *FileTaskStore) GetTask(ctx context.Context, id string) (*core.Task, error) {
	const op = "store.FileTaskStore.GetTask"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	t, ok := st.tasks[id]
	if !ok {
		return nil, core.NewTaskNotFoundError(id, op)
	}
	return t.CloneTask(), nil
}

func (st *FileTaskStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.mu.RLock()
	all := make([]*core.Task, 0, len(st.tasks))
	for _, t := range st.tasks {
		all = append(all, t)
	}
	res := filterOwner(all, ownerID)
	st.mu.RUnlock()
	return res, nil
}

// FlushSnapshot writes every task to a new snapshot and starts a fresh WAL.
// The folded WAL is kept under old/.
func (st *FileTaskStore) FlushSnapshot(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.log == nil {
		return errors.New("store: wal log not initialized")
	}

	tasks := make([]*core.Task, 0, len(st.tasks))
	for _, t := range st.tasks {
		tasks = append(tasks, t.CloneTask())
	}
	core.SortTasks(tasks)

	ss := &snapshot.Snapshot{
		CreatedAt: time.Now().UTC(),
		Version:   snapshot.CurrentVersion,
		Tasks:     tasks,
	}

	if err := st.log.Flush(ctx); err != nil {
		return err
	}
	if err := snapshot.Write(ctx, st.snapshotPath, ss); err != nil {
		return err
	}
	return st.rotateLog()
}

func (st *FileTaskStore) flushAppend(ctx context.Context, evs ...wal.Event) error {
	if st.log == nil {
		return errors.New("store: wal log not initialized")
	}
	if err := st.log.Append(ctx, evs...); err != nil {
		return err
	}
	return st.log.Flush(ctx)
}

func (st *FileTaskStore) rotateLog() error {
	if err := st.log.Close(); err != nil {
		return fmt.Errorf("store: close wal: %w", err)
	}
	st.log = nil

	oldDir := filepath.Join(filepath.Dir(st.walPath), "old")
	if err := os.MkdirAll(oldDir, 0o755); err != nil {
		return fmt.Errorf("store: cant create old wal dir: %w", err)
	}
	oldPath := filepath.Join(oldDir,
		fmt.Sprintf("wal-%s.log", time.Now().UTC().Format("20060102T150405.000000000Z")),
	)
	if err := os.Rename(st.walPath, oldPath); err != nil {
		return fmt.Errorf("store: cant rename wal to old: %w", err)
	}

	nl, err := wal.NewFileLog(st.walPath)
	if err != nil {
		return fmt.Errorf("store: cant create new wal log: %w", err)
	}
	st.log = nl
	return nil
}

func restore(ctx context.Context, snapshotPath, walPath string) (map[string]*core.Task, error) {
	tasks := make(map[string]*core.Task)

	ss, err := snapshot.Read(ctx, snapshotPath)
	if err != nil {
		return nil, err
	}
	if ss != nil {
		for _, t := range ss.Tasks {
			tasks[t.ID] = t.CloneTask()
		}
	}

	err = wal.Replay(ctx, walPath, func(ev wal.Event) error {
		return applyEvent(tasks, ev)
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func applyEvent(tasks map[string]*core.Task, ev wal.Event) error {
	switch ev.Type {
	case wal.EventTaskCreated:
		p := wal.TaskCreatedPayload{}
		if err := ev.Decode(&p); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if p.Task == nil {
			return nil
		}
		tasks[p.Task.ID] = p.Task.CloneTask()
	case wal.EventTaskPatched:
		p := wal.TaskPatchedPayload{}
		if err := ev.Decode(&p); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if t := tasks[ev.TaskID]; t != nil {
			t.Apply(p.Patch)
		}
	case wal.EventTaskDeleted:
		delete(tasks, ev.TaskID)
	default:
		return fmt.Errorf("store: got uncaught event %v", ev.Type)
	}
	return nil
}
