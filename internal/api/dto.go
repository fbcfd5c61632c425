package api

import (
	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/remote"
)

// Request and response bodies are shared with remote.Client.
type (
	CreateTaskRequest = remote.CreateTaskRequest
	PatchTaskRequest  = remote.PatchTaskRequest
	CreatedResponse   = remote.CreatedResponse
	TasksListResponse = remote.TasksListResponse
	SnapshotFrame     = remote.SnapshotFrame
	ErrorResponse     = remote.ErrorResponse
)

func NewTasksListResponse(tasks []*core.Task) *TasksListResponse {
	return &TasksListResponse{Tasks: remote.NewTaskDTOs(tasks)}
}

func NewSnapshotFrame(snap remote.Snapshot) *SnapshotFrame {
	if snap.Err != nil {
		msg := "subscription failed"
		if appErr, ok := core.AsAppError(snap.Err); ok {
			msg = appErr.PublicMessage()
		}
		return &SnapshotFrame{Tasks: []*remote.TaskDTO{}, Error: msg}
	}
	return &SnapshotFrame{Tasks: remote.NewTaskDTOs(snap.Tasks)}
}

func NewErrorResponse(appErr *core.AppError) *ErrorResponse {
	resp := &ErrorResponse{
		Error: appErr.PublicMessage(),
		Code:  appErr.Code,
	}
	if appErr.SafeToShow {
		switch {
		case appErr.Err != nil:
			resp.Details = appErr.Err.Error()
		case appErr.Message != "":
			resp.Details = appErr.Message
		}
	}
	return resp
}
