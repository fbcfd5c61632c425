package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/mauzec/taskpulse/internal/core"
	"go.uber.org/zap"
)

// Client talks to the backend HTTP API and its websocket subscription.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

var _ Store = (*Client)(nil)

func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: bad base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: u.String(), http: httpClient, logger: logger}, nil
}

func (c *Client) Create(ctx context.Context, rec core.Record) (Created, error) {
	const op = "remote.Client.Create"
	req := CreateTaskRequest{
		Text:      rec.Text,
		OwnerID:   rec.OwnerID,
		Completed: rec.Completed,
		DueDate:   rec.DueDate,
	}
	resp := CreatedResponse{}
	if err := c.do(ctx, op, http.MethodPost, "/v1/tasks", req, &resp); err != nil {
		return Created{}, err
	}
	return Created{ID: resp.ID, CreatedAt: resp.CreatedAt}, nil
}

func (c *Client) Update(ctx context.Context, id string, p core.Patch) error {
	const op = "remote.Client.Update"
	return c.do(ctx, op, http.MethodPatch, "/v1/tasks/"+url.PathEscape(id), NewPatchTaskRequest(p), nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	const op = "remote.Client.Delete"
	return c.do(ctx, op, http.MethodDelete, "/v1/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) List(ctx context.Context, ownerID string) ([]*core.Task, error) {
	const op = "remote.Client.List"
	resp := TasksListResponse{}
	if err := c.do(ctx, op, http.MethodGet, "/v1/tasks?owner="+url.QueryEscape(ownerID), nil, &resp); err != nil {
		return nil, err
	}
	return dtosToTasks(resp.Tasks)
}

// Subscribe opens the websocket stream. A broken connection ends the
// stream with a listener error; ctx cancellation ends it silently.
func (c *Client) Subscribe(ctx context.Context, ownerID string) (<-chan Snapshot, error) {
	const op = "remote.Client.Subscribe"

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/subscribe?owner=" + url.QueryEscape(ownerID)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return nil, core.NewNetworkError("subscribe dial", err, op)
	}
	conn.SetReadLimit(4 << 20)

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		for {
			frame := SnapshotFrame{}
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Debug("subscription read failed",
					zap.String("owner_id", ownerID),
					zap.Error(err),
				)
				sendSnapshot(ctx, out, Snapshot{Err: core.NewListenerError(err, op)})
				return
			}
			if frame.Error != "" {
				sendSnapshot(ctx, out, Snapshot{Err: core.NewListenerError(errors.New(frame.Error), op)})
				return
			}
			tasks, err := dtosToTasks(frame.Tasks)
			if err != nil {
				sendSnapshot(ctx, out, Snapshot{Err: core.NewListenerError(err, op)})
				return
			}
			if !sendSnapshot(ctx, out, Snapshot{Tasks: tasks}) {
				return
			}
		}
	}()
	return out, nil
}

func sendSnapshot(ctx context.Context, out chan<- Snapshot, snap Snapshot) bool {
	select {
	case out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body, dst any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return internalError(op, "encode request", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return internalError(op, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return core.NewNetworkError("request failed", err, op)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp, op)
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return core.NewNetworkError("decode response", err, op)
	}
	return nil
}

// decodeError turns an error body back into an AppError. Codes the server
// did not send become network failures.
func decodeError(resp *http.Response, op string) error {
	eb := ErrorResponse{}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
		return core.NewNetworkError(
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil, op,
		)
	}

	msg := eb.Error
	if eb.Details != "" {
		msg = eb.Details
	}
	switch eb.Code {
	case core.ErrorCodeValidation, core.ErrorCodeNotFound, core.ErrorCodeConflict, core.ErrorCodeUnauthenticated:
		return core.NewAppErrorBuilder(eb.Code).
			Message(msg).
			Oper(op).
			Meta("status", fmt.Sprint(resp.StatusCode)).
			SafeToShow(true).
			Build()
	default:
		return core.NewNetworkError(msg, nil, op).
			WithMeta("status", fmt.Sprint(resp.StatusCode))
	}
}

func dtosToTasks(dtos []*TaskDTO) ([]*core.Task, error) {
	res := make([]*core.Task, 0, len(dtos))
	for _, d := range dtos {
		if d == nil {
			continue
		}
		t, err := d.ToTask()
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}
