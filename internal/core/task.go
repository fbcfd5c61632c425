package core

import (
	"slices"
	"strings"
	"time"
)

// DueDateLayout is the wire format of a due date.
const DueDateLayout = "2006-01-02"

// Task is a single entry of a user's todo list.
type Task struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Completed bool       `json:"completed"`
	OwnerID   string     `json:"ownerId"`
	CreatedAt time.Time  `json:"createdAt"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
}

func NewTask(id, ownerID, text string, createdAt time.Time, due *time.Time) *Task {
	return &Task{
		ID:        id,
		Text:      text,
		OwnerID:   ownerID,
		CreatedAt: createdAt,
		DueDate:   copyTime(due),
	}
}

func (t *Task) CloneTask() *Task {
	if t == nil {
		return nil
	}
	ct := *t
	ct.DueDate = copyTime(t.DueDate)
	return &ct
}

func CloneTasks(tasks []*Task) []*Task {
	if len(tasks) == 0 {
		return nil
	}

	res := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, t.CloneTask())
	}
	return res
}

// Apply writes every field present in p onto the task.
func (t *Task) Apply(p Patch) {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.HasDueDate {
		t.DueDate = copyTime(p.DueDate)
	}
}

// Record returns the wire shape of the task, without id.
func (t *Task) Record() Record {
	return Record{
		Text:      t.Text,
		Completed: t.Completed,
		OwnerID:   t.OwnerID,
		CreatedAt: t.CreatedAt,
		DueDate:   FormatDueDate(t.DueDate),
	}
}

// CompareTasks orders tasks newest first, ties broken by id.
func CompareTasks(a, b *Task) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortTasks sorts tasks in-place, newest first.
func SortTasks(tasks []*Task) {
	slices.SortStableFunc(tasks, CompareTasks)
}

// NormalizeText trims the text and rejects it if nothing is left.
func NormalizeText(text, op string) (string, *AppError) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", NewValidationError("task text is empty", op)
	}
	return trimmed, nil
}

// Record is the remote store representation of a task.
type Record struct {
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	// DueDate is a DueDateLayout date or empty.
	DueDate string `json:"dueDate,omitempty"`
}

func (r Record) ToTask(id string) (*Task, error) {
	due, err := ParseDueDate(r.DueDate)
	if err != nil {
		return nil, err
	}
	return &Task{
		ID:        id,
		Text:      r.Text,
		Completed: r.Completed,
		OwnerID:   r.OwnerID,
		CreatedAt: r.CreatedAt,
		DueDate:   due,
	}, nil
}

// Patch is a partial update. Nil fields are left untouched; HasDueDate with a
// nil DueDate clears the due date.
type Patch struct {
	Text       *string    `json:"text,omitempty"`
	Completed  *bool      `json:"completed,omitempty"`
	HasDueDate bool       `json:"hasDueDate,omitempty"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p.Text == nil && p.Completed == nil && !p.HasDueDate
}

func ParseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if d, err := time.Parse(DueDateLayout, s); err == nil {
		return &d, nil
	}
	// full timestamps are accepted and truncated to the date
	d, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, NewValidationError("bad due date "+s, "core.ParseDueDate")
	}
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return &d, nil
}

func FormatDueDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(DueDateLayout)
}

func TimePtr(t time.Time) *time.Time {
	return &t
}

func StringPtr(s string) *string {
	return &s
}

func BoolPtr(b bool) *bool {
	return &b
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	nt := *t
	return &nt
}
