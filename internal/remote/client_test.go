package remote_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mauzec/taskpulse/internal/api"
	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/remote"
	"github.com/mauzec/taskpulse/internal/store"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newBackend(t *testing.T) (*remote.Client, *remote.Service, *httptest.Server) {
	t.Helper()
	st, err := store.NewBoltTaskStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := remote.NewService(st, remote.NewRandomIDGenerator(""), nil, nil)
	require.NoError(t, err)

	srv, err := api.NewServer(&api.ServerOptions{TaskService: svc})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		svc.Close()
		ts.Close()
	})

	client, err := remote.NewClient(ts.URL, ts.Client(), nil)
	require.NoError(t, err)
	return client, svc, ts
}

func nextSnapshot(t *testing.T, ch <-chan remote.Snapshot) remote.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return remote.Snapshot{}
	}
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()
	client, _, _ := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, "simon")
	require.NoError(t, err)
	require.Empty(t, nextSnapshot(t, sub).Tasks)

	created, err := client.Create(ctx, core.Record{Text: "Buy milk", OwnerID: "simon", DueDate: "2025-11-01"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	snap := nextSnapshot(t, sub)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Tasks, 1)
	require.Equal(t, created.ID, snap.Tasks[0].ID)
	require.Equal(t, "2025-11-01", core.FormatDueDate(snap.Tasks[0].DueDate))

	require.NoError(t, client.Update(ctx, created.ID, core.Patch{
		Completed:  core.BoolPtr(true),
		HasDueDate: true,
	}))
	snap = nextSnapshot(t, sub)
	require.True(t, snap.Tasks[0].Completed)
	require.Nil(t, snap.Tasks[0].DueDate)

	list, err := client.List(ctx, "simon")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, client.Delete(ctx, created.ID))
	snap = nextSnapshot(t, sub)
	require.Empty(t, snap.Tasks)
}

func TestClient_ErrorCodesSurvive(t *testing.T) {
	t.Parallel()
	client, _, _ := newBackend(t)
	ctx := context.Background()

	err := client.Delete(ctx, "missing")
	require.Equal(t, core.ErrorCodeNotFound, core.CodeOf(err))

	err = client.Update(ctx, "missing", core.Patch{Completed: core.BoolPtr(true)})
	require.Equal(t, core.ErrorCodeNotFound, core.CodeOf(err))

	_, err = client.Create(ctx, core.Record{Text: "  ", OwnerID: "simon"})
	require.Equal(t, core.ErrorCodeValidation, core.CodeOf(err))
}

func TestClient_NetworkFailure(t *testing.T) {
	t.Parallel()
	client, _, ts := newBackend(t)
	ts.Close()

	_, err := client.Create(context.Background(), core.Record{Text: "Buy milk", OwnerID: "simon"})
	require.Equal(t, core.ErrorCodeNetwork, core.CodeOf(err))

	appErr, ok := core.AsAppError(err)
	require.True(t, ok)
	require.True(t, appErr.Retryable)
}

func TestClient_SubscriptionEndsWithListenerError(t *testing.T) {
	t.Parallel()
	client, svc, _ := newBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, "simon")
	require.NoError(t, err)
	nextSnapshot(t, sub)

	// server going away breaks the stream
	svc.Close()

	snap := nextSnapshot(t, sub)
	require.Equal(t, core.ErrorCodeListener, core.CodeOf(snap.Err))

	_, ok := <-sub
	require.False(t, ok)
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := remote.NewClient("ftp://example.com", nil, nil)
	require.Error(t, err)
}
