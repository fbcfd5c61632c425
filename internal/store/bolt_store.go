package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
	bolt "go.etcd.io/bbolt"
)

type BoltTaskStore struct {
	db *bolt.DB
}

const boltTasksBucket = "taskpulse-tasks"

var errBucketMiss = errors.New("store: bucket miss")

func NewBoltTaskStore(path string) (*BoltTaskStore, error) {
	if path == "" {
		return nil, errors.New("store: required bolt path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600,
		&bolt.Options{Timeout: time.Second},
	)
	if err != nil {
		return nil, fmt.Errorf("store: opening bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists([]byte(boltTasksBucket))
		return berr
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: cant init bucket: %w", err)
	}

	return &BoltTaskStore{db: db}, nil
}

func (s *BoltTaskStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateTask stores a new task.
func (s *BoltTaskStore) CreateTask(ctx context.Context, task *core.Task) error {
	const op = "store.BoltTaskStore.CreateTask"
	if s.db == nil {
		return errors.New("store: bolt not init")
	} else if task == nil {
		return errors.New("store: required task")
	} else if err := ctx.Err(); err != nil {
		return err
	}

	p, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("store: cant marshal task: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltTasksBucket))
		if b == nil {
			return errBucketMiss
		}
		if b.Get([]byte(task.ID)) != nil {
			return core.NewTaskConflictError(task.ID, op)
		}
		return b.Put([]byte(task.ID), p)
	})
}

// PatchTask reads, patches and rewrites the task inside one bolt
// transaction.
func (s *BoltTaskStore) PatchTask(ctx context.Context, id string, p core.Patch, _ time.Time) (*core.Task, error) {
	const op = "store.BoltTaskStore.PatchTask"
	if s.db == nil {
		return nil, errors.New("store: bolt not init")
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	var patched *core.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltTasksBucket))
		if bucket == nil {
			return errBucketMiss
		}
		value := bucket.Get([]byte(id))
		if value == nil {
			return core.NewTaskNotFoundError(id, op)
		}
		t := &core.Task{}
		if err := json.Unmarshal(value, t); err != nil {
			return fmt.Errorf("store: cant unmarshal task: %w", err)
		}
		t.Apply(p)
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("store: cant marshal task: %w", err)
		}
		patched = t
		return bucket.Put([]byte(id), raw)
	})
	if err != nil {
		return nil, err
	}
	return patched, nil
}

func (s *BoltTaskStore) DeleteTask(ctx context.Context, id string, _ time.Time) error {
	const op = "store.BoltTaskStore.DeleteTask"
	if s.db == nil {
		return errors.New("store: bolt not init")
	} else if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltTasksBucket))
		if bucket == nil {
			return errBucketMiss
		}
		if bucket.Get([]byte(id)) == nil {
			return core.NewTaskNotFoundError(id, op)
		}
		return bucket.Delete([]byte(id))
	})
}

func (s *BoltTaskStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Task, error) {
	ts, err := s.listTasks(ctx)
	if err != nil {
		return nil, err
	}
	return filterOwner(ts, ownerID), nil
}

func (s *BoltTaskStore) listTasks(ctx context.Context) ([]*core.Task, error) {
	if s.db == nil {
		return nil, errors.New("store: bolt not init")
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	ts := make([]*core.Task, 0)
	if err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltTasksBucket))
		if bucket == nil {
			return errBucketMiss
		}
		return bucket.ForEach(func(_, v []byte) error {
			t := &core.Task{}
			if err := json.Unmarshal(v, t); err != nil {
				return fmt.Errorf("store: cant unmarshal task: %w", err)
			}
			ts = append(ts, t)
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return ts, nil
}

// FlushSnapshot only syncs; bolt commits are already durable.
func (s *BoltTaskStore) FlushSnapshot(ctx context.Context) error {
	if s.db == nil {
		return errors.New("store: bolt not init")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Sync()
}

func (s *BoltTaskStore) GetTask(ctx context.Context, id string) (*core.Task, error) {
	const op = "store.BoltTaskStore.GetTask"
	if s.db == nil {
		return nil, errors.New("store: why u call me if im nil?")
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	var task *core.Task
	if err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltTasksBucket))
		if bucket == nil {
			return errBucketMiss
		}
		value := bucket.Get([]byte(id))
		if value == nil {
			return nil
		}
		res := &core.Task{}
		if err := json.Unmarshal(value, res); err != nil {
			return fmt.Errorf("store: cant unmarshal task: %w", err)
		}
		task = res
		return nil
	}); err != nil {
		return nil, err
	}
	if task == nil {
		return nil, core.NewTaskNotFoundError(id, op)
	}
	return task, nil
}
