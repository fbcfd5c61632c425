package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/mauzec/taskpulse/internal/core"
)

// Kind is the user intent behind a mutation.
type Kind int

const (
	KindAdd Kind = iota
	KindUpdate
	KindToggleComplete
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindUpdate:
		return "update"
	case KindToggleComplete:
		return "toggle_complete"
	case KindDelete:
		return "delete"
	}
	return "unknown"
}

// Outcome is where a mutation ended up.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeConfirmed
	OutcomeRolledBack
	// OutcomeAbandoned means the session ended or the engine closed before
	// the remote call settled. Local state was discarded with the session.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRolledBack:
		return "rolled_back"
	case OutcomeAbandoned:
		return "abandoned"
	}
	return "unknown"
}

var (
	ErrClosed       = errors.New("engine: closed")
	ErrNotStarted   = errors.New("engine: not started")
	ErrSessionEnded = errors.New("engine: session ended before the mutation settled")
)

// Pending tracks one accepted mutation until it is confirmed or rolled back.
type Pending struct {
	kind   Kind
	taskID string

	done chan struct{}

	mu      sync.Mutex
	outcome Outcome
	err     error
	finalID string
}

func newPending(kind Kind, taskID string) *Pending {
	return &Pending{
		kind:    kind,
		taskID:  taskID,
		done:    make(chan struct{}),
		finalID: taskID,
	}
}

func (p *Pending) Kind() Kind { return p.kind }

// TaskID is the id the mutation was accepted for. For Add it is the
// provisional id.
func (p *Pending) TaskID() string { return p.taskID }

// ID is the id the task ends up with: the canonical id once an Add is
// confirmed, TaskID otherwise.
func (p *Pending) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalID
}

// Done is closed once the mutation settles.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err is nil until Done is closed, and nil after a confirmation.
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pending) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// Wait blocks until the mutation settles or ctx is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pending) resolve(outcome Outcome, finalID string, err error) {
	p.mu.Lock()
	if p.outcome != OutcomePending {
		p.mu.Unlock()
		return
	}
	p.outcome = outcome
	p.err = err
	if finalID != "" {
		p.finalID = finalID
	}
	p.mu.Unlock()
	close(p.done)
}

// pendingMutation is the loop-owned side of a Pending: what was applied
// optimistically and what a rollback restores.
type pendingMutation struct {
	seq    uint64
	epoch  uint64
	kind   Kind
	target string

	// Add
	text string
	// Update and ToggleComplete: patch re-applied over incoming snapshots,
	// prior restored on failure.
	patch core.Patch
	prior core.Patch
	// Delete
	removed *core.Task

	handle *Pending
}
