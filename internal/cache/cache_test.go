package cache

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC)

func task(id string, minute int) *core.Task {
	return core.NewTask(id, "simon", "task "+id, base.Add(time.Duration(minute)*time.Minute), nil)
}

func ids(tasks []*core.Task) []string {
	res := make([]string, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, t.ID)
	}
	return res
}

func TestUpsertReplacesInPlace(t *testing.T) {
	c := New()
	c.Upsert(task("a", 1))
	c.Upsert(task("b", 2))

	changed := task("a", 1)
	changed.Completed = true
	c.Upsert(changed)

	require.Equal(t, 2, c.Len())
	got, ok := c.Get("a")
	require.True(t, ok)
	require.True(t, got.Completed)
	require.Equal(t, []string{"b", "a"}, ids(c.List()))

	// stored entries are not aliased with the caller's pointer
	changed.Text = "mutated"
	got, _ = c.Get("a")
	require.Equal(t, "task a", got.Text)
}

func TestRemoveIsIdempotent(t *testing.T) {
	c := New()
	c.Upsert(task("a", 1))
	c.Remove("a")
	c.Remove("a")
	c.Remove("never")
	require.Zero(t, c.Len())
}

func TestReplaceIDPromotes(t *testing.T) {
	c := New()
	c.Upsert(task("local-1", 5))
	c.Upsert(task("other", 1))

	server := base.Add(10 * time.Minute)
	require.True(t, c.ReplaceID("local-1", "srv1", Fields{CreatedAt: server}))

	_, ok := c.Get("local-1")
	require.False(t, ok)
	got, ok := c.Get("srv1")
	require.True(t, ok)
	require.Equal(t, "task local-1", got.Text)
	require.True(t, got.CreatedAt.Equal(server))
	require.Equal(t, []string{"srv1", "other"}, ids(c.List()))
}

func TestReplaceIDMergesWithSnapshotRow(t *testing.T) {
	c := New()
	c.Upsert(task("local-1", 5))

	canonical := task("srv1", 6)
	canonical.Text = "server text"
	canonical.Completed = true
	c.Upsert(canonical)

	require.True(t, c.ReplaceID("local-1", "srv1", Fields{}))
	require.Equal(t, 1, c.Len())

	got, ok := c.Get("srv1")
	require.True(t, ok)
	require.Equal(t, "server text", got.Text)
	require.True(t, got.Completed)
	require.True(t, got.CreatedAt.Equal(canonical.CreatedAt))
}

func TestReplaceIDMissing(t *testing.T) {
	c := New()
	require.False(t, c.ReplaceID("local-1", "srv1", Fields{}))
	require.Zero(t, c.Len())

	// already promoted by an earlier call
	c.Upsert(task("srv1", 1))
	require.True(t, c.ReplaceID("local-1", "srv1", Fields{}))
	require.Equal(t, 1, c.Len())
}

func TestReplaceAllKeepsPreserved(t *testing.T) {
	c := New()
	c.Upsert(task("local-1", 9))
	c.Upsert(task("gone", 1))
	c.Upsert(task("stays", 2))

	fresh := task("stays", 2)
	fresh.Text = "renamed"
	c.ReplaceAll([]*core.Task{fresh, task("new", 3)}, func(id string) bool {
		return id == "local-1"
	})

	require.Equal(t, []string{"local-1", "new", "stays"}, ids(c.List()))
	got, _ := c.Get("stays")
	require.Equal(t, "renamed", got.Text)
}

func TestUpdateTouchesLiveEntry(t *testing.T) {
	c := New()
	c.Upsert(task("a", 1))
	require.True(t, c.Update("a", func(t *core.Task) { t.Completed = true }))
	require.False(t, c.Update("b", func(t *core.Task) { t.Completed = true }))

	got, _ := c.Get("a")
	require.True(t, got.Completed)
}

// Random upsert/replaceID/remove sequences never produce duplicate ids and
// always list in order.
func TestRandomSequencesKeepInvariants(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	c := New()
	for step := range 2000 {
		id := fmt.Sprintf("t%d", rnd.Intn(20))
		switch rnd.Intn(4) {
		case 0, 1:
			c.Upsert(task(id, rnd.Intn(50)))
		case 2:
			newID := fmt.Sprintf("t%d", rnd.Intn(20))
			c.ReplaceID(id, newID, Fields{CreatedAt: base.Add(time.Duration(step) * time.Second)})
		case 3:
			c.Remove(id)
		}

		list := c.List()
		require.True(t, slices.IsSortedFunc(list, core.CompareTasks), "step %d", step)
		seen := make(map[string]bool, len(list))
		for _, it := range list {
			require.False(t, seen[it.ID], "duplicate %s at step %d", it.ID, step)
			seen[it.ID] = true
		}
		require.Equal(t, c.Len(), len(list))
	}
}
