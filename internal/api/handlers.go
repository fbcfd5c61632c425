package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/remote"
	"go.uber.org/zap"
)

type taskService interface {
	Create(ctx context.Context, rec core.Record) (remote.Created, error)
	Update(ctx context.Context, id string, p core.Patch) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, ownerID string) ([]*core.Task, error)
	Subscribe(ctx context.Context, ownerID string) (<-chan remote.Snapshot, error)
}

type handler struct {
	tasks  taskService
	logger *zap.Logger
}

const (
	handlerTimeout = 2 * time.Minute
	frameTimeout   = 10 * time.Second
)

func NewHandler(ts taskService, logger *zap.Logger) *handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &handler{tasks: ts, logger: logger}
}

func (h *handler) createTask(c *gin.Context) {
	req := CreateTaskRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequestResponse(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	created, err := h.tasks.Create(ctx, req.Record())
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	SetTaskID(c, created.ID)
	h.logger.Info("created task",
		zap.String("request_id", GetRequestID(c)),
		zap.String("task_id", created.ID),
		zap.String("owner_id", req.OwnerID),
	)
	c.JSON(http.StatusCreated, CreatedResponse{ID: created.ID, CreatedAt: created.CreatedAt})
}

func (h *handler) patchTask(c *gin.Context) {
	id := c.Param("id")
	SetTaskID(c, id)

	req := PatchTaskRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequestResponse(c, err)
		return
	}
	p, err := req.Patch()
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	if p.IsEmpty() {
		h.badRequestResponse(c, errors.New("empty patch"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	if err := h.tasks.Update(ctx, id, p); err != nil {
		h.errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) deleteTask(c *gin.Context) {
	id := c.Param("id")
	SetTaskID(c, id)

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	if err := h.tasks.Delete(ctx, id); err != nil {
		h.errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listTasks(c *gin.Context) {
	owner := GetOwnerID(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer cancel()

	tasks, err := h.tasks.List(ctx, owner)
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTasksListResponse(tasks))
}

// subscribe upgrades to a websocket and writes one SnapshotFrame per
// snapshot until either side goes away.
func (h *handler) subscribe(c *gin.Context) {
	owner := GetOwnerID(c)

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws accept failed",
			zap.String("request_id", GetRequestID(c)),
			zap.Error(err),
		)
		return
	}
	defer conn.CloseNow()

	// the client never sends; CloseRead cancels ctx once it disconnects
	ctx := conn.CloseRead(c.Request.Context())

	snaps, err := h.tasks.Subscribe(ctx, owner)
	if err != nil {
		writeCtx, cancel := context.WithTimeout(ctx, frameTimeout)
		defer cancel()
		_ = wsjson.Write(writeCtx, conn, NewSnapshotFrame(remote.Snapshot{Err: err}))
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	h.logger.Info("subscriber attached",
		zap.String("request_id", GetRequestID(c)),
		zap.String("owner_id", owner),
	)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snap, ok := <-snaps:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutdown")
				return
			}
			if err := h.writeFrame(ctx, conn, snap); err != nil {
				h.logger.Debug("ws write failed",
					zap.String("owner_id", owner),
					zap.Error(err),
				)
				return
			}
			if snap.Err != nil {
				conn.Close(websocket.StatusInternalError, "subscription failed")
				return
			}
		}
	}
}

func (h *handler) writeFrame(ctx context.Context, conn *websocket.Conn, snap remote.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, NewSnapshotFrame(snap))
}

func (h *handler) badRequestResponse(c *gin.Context, err error) {
	if c != nil && err != nil {
		c.Error(err) //nolint:errcheck
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:   "bad request",
		Code:    core.ErrorCodeValidation,
		Details: err.Error(),
	})
}

func (h *handler) errorResponse(c *gin.Context, err error) {
	if c != nil && err != nil {
		c.Error(err) //nolint:errcheck
	}
	if err == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
		})
		return
	}

	if appErr, ok := core.AsAppError(err); ok {
		h.logger.Warn("handler error",
			zap.String("request_id", GetRequestID(c)),
			zap.String("task_id", GetTaskID(c)),
			zap.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(appErr.HTTPStatus(), NewErrorResponse(appErr))
		return
	}

	h.logger.Error("handler unknown error",
		zap.String("request_id", GetRequestID(c)),
		zap.String("task_id", GetTaskID(c)),
		zap.String("error", err.Error()),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error: "internal server error",
	})
}
