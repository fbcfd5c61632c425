// Package cache holds the in-memory task list rendered by the client.
package cache

import (
	"sync"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
)

// Fields are the values a remote confirmation may carry for a task.
// Zero values are ignored.
type Fields struct {
	CreatedAt time.Time
}

// TaskCache is an id-keyed set of tasks always read newest first.
// Entries are stored and returned as clones.
type TaskCache struct {
	tasks map[string]*core.Task
	mu    sync.RWMutex
}

func New() *TaskCache {
	return &TaskCache{tasks: make(map[string]*core.Task)}
}

// Upsert inserts the task or replaces the fields of the existing entry.
func (c *TaskCache) Upsert(task *core.Task) {
	if task == nil || task.ID == "" {
		return
	}
	c.mu.Lock()
	c.tasks[task.ID] = task.CloneTask()
	c.mu.Unlock()
}

// Remove deletes the entry. Missing ids are ignored.
func (c *TaskCache) Remove(id string) {
	c.mu.Lock()
	delete(c.tasks, id)
	c.mu.Unlock()
}

// Update runs fn on the live entry. It returns false when id is absent.
func (c *TaskCache) Update(id string, fn func(t *core.Task)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return false
	}
	fn(t)
	t.ID = id
	return true
}

// ReplaceID moves the entry at oldID to newID and merges canonical fields.
// When newID is already present (the snapshot got there first) the two rows
// collapse into the canonical one. Returns false when neither id exists.
func (c *TaskCache) ReplaceID(oldID, newID string, canonical Fields) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, hasOld := c.tasks[oldID]
	cur, hasNew := c.tasks[newID]
	switch {
	case !hasOld && !hasNew:
		return false
	case hasNew:
		// canonical row wins, only fill what it lacks
		if hasOld && oldID != newID {
			if cur.Text == "" {
				cur.Text = old.Text
			}
			if cur.OwnerID == "" {
				cur.OwnerID = old.OwnerID
			}
			if cur.CreatedAt.IsZero() {
				cur.CreatedAt = old.CreatedAt
			}
			delete(c.tasks, oldID)
		}
		if !canonical.CreatedAt.IsZero() {
			cur.CreatedAt = canonical.CreatedAt
		}
		return true
	default:
		delete(c.tasks, oldID)
		old.ID = newID
		if !canonical.CreatedAt.IsZero() {
			old.CreatedAt = canonical.CreatedAt
		}
		c.tasks[newID] = old
		return true
	}
}

// ReplaceAll swaps the content for tasks. Current entries for which keep
// returns true survive even when tasks does not mention them.
func (c *TaskCache) ReplaceAll(tasks []*core.Task, keep func(id string) bool) {
	next := make(map[string]*core.Task, len(tasks))

	c.mu.Lock()
	defer c.mu.Unlock()
	if keep != nil {
		for id, t := range c.tasks {
			if keep(id) {
				next[id] = t
			}
		}
	}
	for _, t := range tasks {
		if t == nil || t.ID == "" {
			continue
		}
		next[t.ID] = t.CloneTask()
	}
	c.tasks = next
}

// Get returns a copy of the entry.
func (c *TaskCache) Get(id string) (*core.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	if !ok {
		return nil, false
	}
	return t.CloneTask(), true
}

func (c *TaskCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}

// List returns copies of all tasks, newest first.
func (c *TaskCache) List() []*core.Task {
	c.mu.RLock()
	res := make([]*core.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		res = append(res, t.CloneTask())
	}
	c.mu.RUnlock()

	core.SortTasks(res)
	return res
}

func (c *TaskCache) Clear() {
	c.mu.Lock()
	c.tasks = make(map[string]*core.Task)
	c.mu.Unlock()
}
