package remote

import (
	"time"

	"github.com/mauzec/taskpulse/internal/core"
)

// TaskDTO is a task as it travels over HTTP and websocket frames.
type TaskDTO struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	DueDate   string    `json:"dueDate,omitempty"`
}

type CreateTaskRequest struct {
	Text      string `json:"text" binding:"required"`
	OwnerID   string `json:"ownerId" binding:"required"`
	Completed bool   `json:"completed"`
	DueDate   string `json:"dueDate,omitempty"`
}

// PatchTaskRequest mirrors core.Patch. ClearDueDate wins over DueDate.
type PatchTaskRequest struct {
	Text         *string `json:"text,omitempty"`
	Completed    *bool   `json:"completed,omitempty"`
	DueDate      *string `json:"dueDate,omitempty"`
	ClearDueDate bool    `json:"clearDueDate,omitempty"`
}

type CreatedResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type TasksListResponse struct {
	Tasks []*TaskDTO `json:"tasks"`
}

// SnapshotFrame is one websocket message of a subscription.
type SnapshotFrame struct {
	Tasks []*TaskDTO `json:"tasks"`
	Error string     `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    core.ErrorCode `json:"code"`
	Details string         `json:"details,omitempty"`
}

func NewTaskDTO(t *core.Task) *TaskDTO {
	if t == nil {
		return nil
	}
	return &TaskDTO{
		ID:        t.ID,
		Text:      t.Text,
		Completed: t.Completed,
		OwnerID:   t.OwnerID,
		CreatedAt: t.CreatedAt,
		DueDate:   core.FormatDueDate(t.DueDate),
	}
}

func NewTaskDTOs(tasks []*core.Task) []*TaskDTO {
	res := make([]*TaskDTO, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			continue
		}
		res = append(res, NewTaskDTO(t))
	}
	return res
}

func (d *TaskDTO) ToTask() (*core.Task, error) {
	due, err := core.ParseDueDate(d.DueDate)
	if err != nil {
		return nil, err
	}
	t := core.NewTask(d.ID, d.OwnerID, d.Text, d.CreatedAt, due)
	t.Completed = d.Completed
	return t, nil
}

func (r CreateTaskRequest) Record() core.Record {
	return core.Record{
		Text:      r.Text,
		Completed: r.Completed,
		OwnerID:   r.OwnerID,
		DueDate:   r.DueDate,
	}
}

func NewPatchTaskRequest(p core.Patch) PatchTaskRequest {
	req := PatchTaskRequest{
		Text:      p.Text,
		Completed: p.Completed,
	}
	if p.HasDueDate {
		if p.DueDate == nil {
			req.ClearDueDate = true
		} else {
			d := core.FormatDueDate(p.DueDate)
			req.DueDate = &d
		}
	}
	return req
}

func (r PatchTaskRequest) Patch() (core.Patch, error) {
	p := core.Patch{
		Text:      r.Text,
		Completed: r.Completed,
	}
	switch {
	case r.ClearDueDate:
		p.HasDueDate = true
	case r.DueDate != nil:
		due, err := core.ParseDueDate(*r.DueDate)
		if err != nil {
			return core.Patch{}, err
		}
		p.HasDueDate = true
		p.DueDate = due
	}
	return p, nil
}
