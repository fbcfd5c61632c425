package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/remote"
	"github.com/stretchr/testify/require"
)

type mockTaskService struct {
	LastRecord  core.Record
	LastPatchID string
	LastPatch   core.Patch
	LastOwner   string

	CreateF    func(ctx context.Context, rec core.Record) (remote.Created, error)
	UpdateF    func(ctx context.Context, id string, p core.Patch) error
	DeleteF    func(ctx context.Context, id string) error
	ListF      func(ctx context.Context, ownerID string) ([]*core.Task, error)
	SubscribeF func(ctx context.Context, ownerID string) (<-chan remote.Snapshot, error)
}

func (m *mockTaskService) Create(ctx context.Context, rec core.Record) (remote.Created, error) {
	m.LastRecord = rec
	return m.CreateF(ctx, rec)
}
func (m *mockTaskService) Update(ctx context.Context, id string, p core.Patch) error {
	m.LastPatchID, m.LastPatch = id, p
	return m.UpdateF(ctx, id, p)
}
func (m *mockTaskService) Delete(ctx context.Context, id string) error {
	return m.DeleteF(ctx, id)
}
func (m *mockTaskService) List(ctx context.Context, ownerID string) ([]*core.Task, error) {
	m.LastOwner = ownerID
	return m.ListF(ctx, ownerID)
}
func (m *mockTaskService) Subscribe(ctx context.Context, ownerID string) (<-chan remote.Snapshot, error) {
	m.LastOwner = ownerID
	return m.SubscribeF(ctx, ownerID)
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestRouter(t *testing.T, svc *mockTaskService) http.Handler {
	t.Helper()
	srv, err := NewServer(&ServerOptions{TaskService: svc})
	require.NoError(t, err)
	return srv.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateTaskAPI(t *testing.T) {
	t.Parallel()
	createdAt := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockTaskService{
		CreateF: func(ctx context.Context, rec core.Record) (remote.Created, error) {
			return remote.Created{ID: "srv1", CreatedAt: createdAt}, nil
		},
	}
	r := newTestRouter(t, svc)

	rec := doJSON(t, r, http.MethodPost, "/v1/tasks", `{"text":"Buy milk","ownerId":"simon","dueDate":"2025-11-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	resp := CreatedResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "srv1", resp.ID)
	require.True(t, createdAt.Equal(resp.CreatedAt))
	require.Equal(t, "Buy milk", svc.LastRecord.Text)
	require.Equal(t, "simon", svc.LastRecord.OwnerID)
	require.Equal(t, "2025-11-01", svc.LastRecord.DueDate)
}

func TestCreateTaskAPI_BadRequest(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t, &mockTaskService{})

	rec := doJSON(t, r, http.MethodPost, "/v1/tasks", `{"ownerId":"simon"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := ErrorResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, core.ErrorCodeValidation, resp.Code)
}

func TestPatchTaskAPI(t *testing.T) {
	t.Parallel()
	svc := &mockTaskService{
		UpdateF: func(ctx context.Context, id string, p core.Patch) error { return nil },
	}
	r := newTestRouter(t, svc)

	rec := doJSON(t, r, http.MethodPatch, "/v1/tasks/srv1", `{"completed":true,"clearDueDate":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "srv1", svc.LastPatchID)
	require.NotNil(t, svc.LastPatch.Completed)
	require.True(t, *svc.LastPatch.Completed)
	require.True(t, svc.LastPatch.HasDueDate)
	require.Nil(t, svc.LastPatch.DueDate)
	require.Nil(t, svc.LastPatch.Text)

	rec = doJSON(t, r, http.MethodPatch, "/v1/tasks/srv1", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPatch, "/v1/tasks/srv1", `{"dueDate":"not a date"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteTaskAPI_NotFound(t *testing.T) {
	t.Parallel()
	svc := &mockTaskService{
		DeleteF: func(ctx context.Context, id string) error {
			return core.NewTaskNotFoundError(id, "test")
		},
	}
	r := newTestRouter(t, svc)

	rec := doJSON(t, r, http.MethodDelete, "/v1/tasks/gone", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	resp := ErrorResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, core.ErrorCodeNotFound, resp.Code)
}

func TestListTasksAPI(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	svc := &mockTaskService{
		ListF: func(ctx context.Context, ownerID string) ([]*core.Task, error) {
			return []*core.Task{
				core.NewTask("b", ownerID, "Walk dog", now, nil),
				core.NewTask("a", ownerID, "Buy milk", now.Add(-time.Hour), nil),
			}, nil
		},
	}
	r := newTestRouter(t, svc)

	rec := doJSON(t, r, http.MethodGet, "/v1/tasks", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/v1/tasks?owner=simon", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := TasksListResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 2)
	require.Equal(t, "b", resp.Tasks[0].ID)
	require.Equal(t, "simon", svc.LastOwner)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("X-Owner-ID", "alvin")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alvin", svc.LastOwner)
}

func TestSubscribeAPI(t *testing.T) {
	t.Parallel()
	snaps := make(chan remote.Snapshot, 2)
	svc := &mockTaskService{
		SubscribeF: func(ctx context.Context, ownerID string) (<-chan remote.Snapshot, error) {
			return snaps, nil
		},
	}
	ts := httptest.NewServer(newTestRouter(t, svc))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/subscribe?owner=simon", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	snaps <- remote.Snapshot{Tasks: []*core.Task{core.NewTask("srv1", "simon", "Buy milk", time.Now().UTC(), nil)}}

	frame := SnapshotFrame{}
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	require.Len(t, frame.Tasks, 1)
	require.Equal(t, "srv1", frame.Tasks[0].ID)

	close(snaps)
	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
