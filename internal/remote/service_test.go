package remote

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/store"
	"github.com/stretchr/testify/require"
)

type stubIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (g *stubIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) == 0 {
		return "", errors.New("no ids")
	}
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id, nil
}

type stubClock struct {
	mu   sync.Mutex
	curr time.Time
	step time.Duration
}

func newStubClock(start time.Time, step time.Duration) *stubClock {
	return &stubClock{curr: start, step: step}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.curr
	c.curr = c.curr.Add(c.step)
	return t
}

var testStart = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, ids ...string) (*Service, store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewFileTaskStore(context.Background(),
		filepath.Join(dir, "snapshot.json"), filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, &stubIDGen{ids: ids}, newStubClock(testStart, time.Minute).Now, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, st
}

func recv(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "snapshot channel closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
		return Snapshot{}
	}
}

func TestService_CreateAssignsServerFields(t *testing.T) {
	svc, st := newTestService(t, "srv1")
	ctx := context.Background()

	created, err := svc.Create(ctx, core.Record{
		Text:      "  Buy milk ",
		OwnerID:   "simon",
		CreatedAt: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
		DueDate:   "2025-11-01",
	})
	require.NoError(t, err)
	require.Equal(t, "srv1", created.ID)
	require.True(t, testStart.Equal(created.CreatedAt), "server clock wins over client createdAt")

	stored, err := st.GetTask(ctx, "srv1")
	require.NoError(t, err)
	require.Equal(t, "Buy milk", stored.Text)
	require.False(t, stored.Completed)
	require.Equal(t, "2025-11-01", core.FormatDueDate(stored.DueDate))
}

func TestService_Validation(t *testing.T) {
	svc, _ := newTestService(t, "srv1")
	ctx := context.Background()

	_, err := svc.Create(ctx, core.Record{Text: "   ", OwnerID: "simon"})
	require.Equal(t, core.ErrorCodeValidation, core.CodeOf(err))

	_, err = svc.Create(ctx, core.Record{Text: "Buy milk"})
	require.Equal(t, core.ErrorCodeValidation, core.CodeOf(err))

	_, err = svc.Create(ctx, core.Record{Text: "Buy milk", OwnerID: "simon", DueDate: "someday"})
	require.Equal(t, core.ErrorCodeValidation, core.CodeOf(err))

	err = svc.Update(ctx, "srv1", core.Patch{Text: core.StringPtr(" ")})
	require.Equal(t, core.ErrorCodeValidation, core.CodeOf(err))

	err = svc.Update(ctx, "missing", core.Patch{Completed: core.BoolPtr(true)})
	require.Equal(t, core.ErrorCodeNotFound, core.CodeOf(err))

	err = svc.Delete(ctx, "missing")
	require.Equal(t, core.ErrorCodeNotFound, core.CodeOf(err))

	_, err = svc.Subscribe(ctx, "")
	require.Equal(t, core.ErrorCodeValidation, core.CodeOf(err))
}

func TestService_SubscribeFanOut(t *testing.T) {
	svc, _ := newTestService(t, "srv1", "srv2", "srv3")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Create(ctx, core.Record{Text: "Existing", OwnerID: "simon"})
	require.NoError(t, err)

	simon, err := svc.Subscribe(ctx, "simon")
	require.NoError(t, err)
	alvin, err := svc.Subscribe(ctx, "alvin")
	require.NoError(t, err)

	first := recv(t, simon)
	require.Len(t, first.Tasks, 1)
	require.Empty(t, recv(t, alvin).Tasks)

	_, err = svc.Create(ctx, core.Record{Text: "Newer", OwnerID: "simon"})
	require.NoError(t, err)

	snap := recv(t, simon)
	require.Len(t, snap.Tasks, 2)
	require.Equal(t, "srv2", snap.Tasks[0].ID, "newest first")
	require.True(t, slices.IsSortedFunc(snap.Tasks, core.CompareTasks))

	require.NoError(t, svc.Update(ctx, "srv1", core.Patch{Completed: core.BoolPtr(true)}))
	snap = recv(t, simon)
	require.True(t, snap.Tasks[1].Completed)

	require.NoError(t, svc.Delete(ctx, "srv2"))
	snap = recv(t, simon)
	require.Len(t, snap.Tasks, 1)

	select {
	case snap := <-alvin:
		t.Fatalf("alvin got someone else's snapshot: %+v", snap)
	default:
	}
}

func TestService_SlowSubscriberSeesLatest(t *testing.T) {
	svc, _ := newTestService(t, "srv1", "srv2", "srv3")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := svc.Subscribe(ctx, "simon")
	require.NoError(t, err)

	for range 3 {
		_, err := svc.Create(ctx, core.Record{Text: "task", OwnerID: "simon"})
		require.NoError(t, err)
	}

	// unread snapshots are replaced, so at most one is ever waiting
	var last Snapshot
	require.Eventually(t, func() bool {
		select {
		case last = <-ch:
		default:
		}
		return len(last.Tasks) == 3
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, ch)
}

// gatedStore holds ListByOwner calls once armed, until gate is closed.
type gatedStore struct {
	store.Store
	armed bool
	gate  chan struct{}
}

func (g *gatedStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Task, error) {
	if g.armed {
		<-g.gate
	}
	return g.Store.ListByOwner(ctx, ownerID)
}

func TestService_CreateReturnsBeforeSnapshot(t *testing.T) {
	_, st := newTestService(t)
	gated := &gatedStore{Store: st, gate: make(chan struct{})}
	svc, err := NewService(gated, &stubIDGen{ids: []string{"srv1"}}, newStubClock(testStart, time.Minute).Now, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := svc.Subscribe(ctx, "simon")
	require.NoError(t, err)
	require.Empty(t, recv(t, ch).Tasks)

	gated.armed = true
	created, err := svc.Create(ctx, core.Record{Text: "Buy milk", OwnerID: "simon"})
	require.NoError(t, err)
	require.Equal(t, "srv1", created.ID)
	require.Empty(t, ch, "snapshot pushed before Create returned")

	close(gated.gate)
	snap := recv(t, ch)
	require.Len(t, snap.Tasks, 1)
	require.Equal(t, "srv1", snap.Tasks[0].ID)

	svc.Close()
	_, ok := <-ch
	require.False(t, ok)
}

func TestService_UnsubscribeOnCancel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := svc.Subscribe(ctx, "simon")
	require.NoError(t, err)
	require.Equal(t, 1, svc.Subscribers("simon"))
	recv(t, ch)

	cancel()
	require.Eventually(t, func() bool {
		return svc.Subscribers("simon") == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok)
}

func TestService_CloseEndsSubscriptions(t *testing.T) {
	svc, _ := newTestService(t)
	ch, err := svc.Subscribe(context.Background(), "simon")
	require.NoError(t, err)
	recv(t, ch)

	svc.Close()
	_, ok := <-ch
	require.False(t, ok)

	_, err = svc.Subscribe(context.Background(), "simon")
	require.Error(t, err)
}

func TestNewService_RequiresDeps(t *testing.T) {
	_, err := NewService(nil, &stubIDGen{}, nil, nil)
	require.Equal(t, core.ErrorCodeInternal, core.CodeOf(err))
}
