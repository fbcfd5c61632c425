package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/remote"
	"github.com/stretchr/testify/require"
)

type callKind string

const (
	callCreate callKind = "create"
	callUpdate callKind = "update"
	callDelete callKind = "delete"
)

// call is one blocked remote mutation. The test decides how it ends.
type call struct {
	kind  callKind
	id    string
	rec   core.Record
	patch core.Patch
	reply chan callResult
}

type callResult struct {
	created remote.Created
	err     error
}

func (c *call) succeed(created remote.Created) { c.reply <- callResult{created: created} }
func (c *call) ok()                            { c.reply <- callResult{} }
func (c *call) fail(err error)                 { c.reply <- callResult{err: err} }

// fakeRemote blocks every mutation until the test answers it and lets the
// test push snapshots to live subscriptions.
type fakeRemote struct {
	calls chan *call

	mu           sync.Mutex
	backlog      []*call
	subs         map[string]chan remote.Snapshot
	subscribes   int
	subscribeErr error
}

var _ remote.Store = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		calls: make(chan *call, 64),
		subs:  make(map[string]chan remote.Snapshot),
	}
}

func (f *fakeRemote) Subscribe(ctx context.Context, ownerID string) (<-chan remote.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	ch := make(chan remote.Snapshot, 16)
	f.subs[ownerID] = ch
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.subs[ownerID] == ch {
			delete(f.subs, ownerID)
		}
		close(ch)
	}()
	return ch, nil
}

func (f *fakeRemote) Create(ctx context.Context, rec core.Record) (remote.Created, error) {
	res, err := f.wait(ctx, &call{kind: callCreate, rec: rec})
	return res.created, err
}

func (f *fakeRemote) Update(ctx context.Context, id string, p core.Patch) error {
	_, err := f.wait(ctx, &call{kind: callUpdate, id: id, patch: p})
	return err
}

func (f *fakeRemote) Delete(ctx context.Context, id string) error {
	_, err := f.wait(ctx, &call{kind: callDelete, id: id})
	return err
}

func (f *fakeRemote) wait(ctx context.Context, c *call) (callResult, error) {
	c.reply = make(chan callResult, 1)
	f.calls <- c
	select {
	case res := <-c.reply:
		return res, res.err
	case <-ctx.Done():
		return callResult{}, ctx.Err()
	}
}

// nextCall returns the oldest call of kind. Calls are issued from several
// workers, so calls of other kinds seen meanwhile are kept for later.
func (f *fakeRemote) nextCall(t *testing.T, kind callKind) *call {
	t.Helper()
	f.mu.Lock()
	for i, c := range f.backlog {
		if c.kind == kind {
			f.backlog = append(f.backlog[:i], f.backlog[i+1:]...)
			f.mu.Unlock()
			return c
		}
	}
	f.mu.Unlock()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case c := <-f.calls:
			if c.kind == kind {
				return c
			}
			f.mu.Lock()
			f.backlog = append(f.backlog, c)
			f.mu.Unlock()
		case <-timeout:
			t.Fatalf("no %s call issued", kind)
			return nil
		}
	}
}

func (f *fakeRemote) noCall(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	backlog := len(f.backlog)
	f.mu.Unlock()
	require.Zero(t, backlog, "unanswered calls left")
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected %s call", c.kind)
	case <-time.After(50 * time.Millisecond):
	}
}

// push waits for ownerID to be subscribed and sends snap.
func (f *fakeRemote) push(t *testing.T, ownerID string, snap remote.Snapshot) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		ch, ok := f.subs[ownerID]
		if !ok {
			return false
		}
		ch <- snap
		return true
	}, 2*time.Second, 5*time.Millisecond, "owner %s never subscribed", ownerID)
}

func (f *fakeRemote) pushTasks(t *testing.T, ownerID string, tasks ...*core.Task) {
	t.Helper()
	f.push(t, ownerID, remote.Snapshot{Tasks: tasks})
}

func (f *fakeRemote) subscribed(ownerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[ownerID]
	return ok
}
