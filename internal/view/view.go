// Package view derives what the task list shows from the cached tasks.
// Everything here is a pure function of its input.
package view

import (
	"strings"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
)

type Filter string

const (
	FilterAll       Filter = "All"
	FilterActive    Filter = "Active"
	FilterCompleted Filter = "Completed"
)

var Filters = []Filter{FilterAll, FilterActive, FilterCompleted}

// ParseFilter accepts a filter name in any case.
func ParseFilter(s string) (Filter, error) {
	for _, f := range Filters {
		if strings.EqualFold(strings.TrimSpace(s), string(f)) {
			return f, nil
		}
	}
	return "", core.NewValidationError("unknown filter "+s, "view.ParseFilter")
}

type EmptyKind string

const (
	EmptyAllCaughtUp EmptyKind = "all caught up"
	EmptyKeepGoing   EmptyKind = "keep going"
	EmptyGetStarted  EmptyKind = "get started"
)

// EmptyState is the message shown when the filtered list has no rows.
type EmptyState struct {
	Kind     EmptyKind
	Title    string
	Subtitle string
}

var emptyStates = map[EmptyKind]EmptyState{
	EmptyAllCaughtUp: {Kind: EmptyAllCaughtUp, Title: "All done!", Subtitle: "Enjoy your break"},
	EmptyKeepGoing:   {Kind: EmptyKeepGoing, Title: "Keep going!", Subtitle: "Finish tasks to see them here"},
	EmptyGetStarted:  {Kind: EmptyGetStarted, Title: "Let's get productive", Subtitle: "Add your first task"},
}

type Counts struct {
	Total     int
	Active    int
	Completed int
}

// View is one rendering of the list.
type View struct {
	Filter Filter
	Tasks  []*core.Task
	Empty  EmptyState
	Counts Counts
}

// IsEmpty reports whether the empty state should be rendered.
func (v View) IsEmpty() bool {
	return len(v.Tasks) == 0
}

// Project filters tasks, keeping their order, and picks the empty state.
// An unknown filter behaves like FilterAll.
func Project(tasks []*core.Task, filter Filter) View {
	counts := Count(tasks)
	visible := make([]*core.Task, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			continue
		}
		switch filter {
		case FilterActive:
			if t.Completed {
				continue
			}
		case FilterCompleted:
			if !t.Completed {
				continue
			}
		}
		visible = append(visible, t)
	}
	return View{
		Filter: filter,
		Tasks:  visible,
		Empty:  emptyState(filter, counts),
		Counts: counts,
	}
}

func Count(tasks []*core.Task) Counts {
	c := Counts{}
	for _, t := range tasks {
		if t == nil {
			continue
		}
		c.Total++
		if t.Completed {
			c.Completed++
		} else {
			c.Active++
		}
	}
	return c
}

func emptyState(filter Filter, c Counts) EmptyState {
	switch {
	case filter == FilterActive && c.Completed > 0:
		return emptyStates[EmptyAllCaughtUp]
	case filter == FilterCompleted && c.Active > 0:
		return emptyStates[EmptyKeepGoing]
	}
	return emptyStates[EmptyGetStarted]
}

// Greeting is the header line for the local hour of now.
func Greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Good morning"
	case h < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}
