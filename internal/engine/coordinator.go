package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/mauzec/taskpulse/internal/cache"
	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/remote"
	"github.com/mauzec/taskpulse/internal/worker"
	"go.uber.org/zap"
)

// Confirmer is asked before a task is deleted. Returning false cancels
// the delete.
type Confirmer func(task *core.Task) bool

// Add inserts a task under a provisional id and creates it remotely. The
// returned error is synchronous (validation, not signed in); remote
// failures arrive through the Pending and a notice.
func (e *Engine) Add(ctx context.Context, text string, due *time.Time) (*Pending, error) {
	const op = "engine.Engine.Add"

	trimmed, vErr := core.NormalizeText(text, op)
	if vErr != nil {
		return nil, vErr
	}

	var (
		p   *Pending
		err error
	)
	doErr := e.do(ctx, func() {
		owner, ok := e.Owner()
		if !ok {
			err = core.NewUnauthenticatedError(op)
			return
		}

		id := e.ids.next()
		task := core.NewTask(id, owner, trimmed, e.now().UTC(), due)
		e.cache.Upsert(task)

		m := e.track(KindAdd, id)
		m.text = trimmed
		p = m.handle

		rec := task.Record()
		e.submit(m, func(ctx context.Context) error {
			created, err := e.remote.Create(ctx, rec)
			e.post(func() { e.settleAdd(m, created, err) })
			return err
		})
		e.notify()
	})
	if doErr != nil {
		return nil, doErr
	}
	return p, err
}

// ToggleComplete flips the completed flag.
func (e *Engine) ToggleComplete(ctx context.Context, id string) (*Pending, error) {
	const op = "engine.Engine.ToggleComplete"

	var (
		p   *Pending
		err error
	)
	doErr := e.do(ctx, func() {
		if _, ok := e.Owner(); !ok {
			err = core.NewUnauthenticatedError(op)
			return
		}
		id := e.resolveID(id)
		cur, ok := e.cache.Get(id)
		if !ok {
			err = core.NewTaskNotFoundError(id, op)
			return
		}

		next := !cur.Completed
		m := e.track(KindToggleComplete, id)
		m.patch = core.Patch{Completed: core.BoolPtr(next)}
		m.prior = core.Patch{Completed: core.BoolPtr(cur.Completed)}
		p = m.handle

		e.cache.Update(id, func(t *core.Task) { t.Apply(m.patch) })
		e.submitUpdate(m)
		e.notify()
	})
	if doErr != nil {
		return nil, doErr
	}
	return p, err
}

// Update replaces text and due date. A nil due clears it.
func (e *Engine) Update(ctx context.Context, id, text string, due *time.Time) (*Pending, error) {
	const op = "engine.Engine.Update"

	trimmed, vErr := core.NormalizeText(text, op)
	if vErr != nil {
		return nil, vErr
	}

	var (
		p   *Pending
		err error
	)
	doErr := e.do(ctx, func() {
		if _, ok := e.Owner(); !ok {
			err = core.NewUnauthenticatedError(op)
			return
		}
		id := e.resolveID(id)
		cur, ok := e.cache.Get(id)
		if !ok {
			err = core.NewTaskNotFoundError(id, op)
			return
		}

		m := e.track(KindUpdate, id)
		m.patch = core.Patch{Text: core.StringPtr(trimmed), HasDueDate: true, DueDate: due}
		m.prior = core.Patch{Text: core.StringPtr(cur.Text), HasDueDate: true, DueDate: cur.DueDate}
		p = m.handle

		e.cache.Update(id, func(t *core.Task) { t.Apply(m.patch) })
		e.submitUpdate(m)
		e.notify()
	})
	if doErr != nil {
		return nil, doErr
	}
	return p, err
}

// Delete asks confirm first; a declined delete returns nil, nil and
// changes nothing. A nil confirm counts as already confirmed.
func (e *Engine) Delete(ctx context.Context, id string, confirm Confirmer) (*Pending, error) {
	const op = "engine.Engine.Delete"

	var (
		cur *core.Task
		p   *Pending
		err error
	)
	doErr := e.do(ctx, func() {
		if _, ok := e.Owner(); !ok {
			err = core.NewUnauthenticatedError(op)
			return
		}
		var ok bool
		if cur, ok = e.cache.Get(e.resolveID(id)); !ok {
			err = core.NewTaskNotFoundError(id, op)
		}
	})
	if doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}
	// confirm may block on the user, keep it off the loop
	if confirm != nil && !confirm(cur) {
		return nil, nil
	}

	doErr = e.do(ctx, func() {
		id := e.resolveID(id)
		removed, ok := e.cache.Get(id)
		if !ok {
			err = core.NewTaskNotFoundError(id, op)
			return
		}

		m := e.track(KindDelete, id)
		m.removed = removed
		p = m.handle

		e.cache.Remove(id)
		e.submit(m, func(ctx context.Context) error {
			err := e.remote.Delete(ctx, id)
			e.post(func() { e.settleDelete(m, err) })
			return err
		})
		e.notify()
	})
	if doErr != nil {
		return nil, doErr
	}
	return p, err
}

func (e *Engine) track(kind Kind, target string) *pendingMutation {
	e.seq++
	m := &pendingMutation{
		seq:    e.seq,
		epoch:  e.epoch,
		kind:   kind,
		target: target,
		handle: newPending(kind, target),
	}
	e.pending = append(e.pending, m)
	return m
}

// untrack reports false when m no longer belongs to the live session.
func (e *Engine) untrack(m *pendingMutation) bool {
	if m.epoch != e.epoch {
		return false
	}
	for i, cur := range e.pending {
		if cur == m {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (e *Engine) submitUpdate(m *pendingMutation) {
	id, patch := m.target, m.patch
	e.submit(m, func(ctx context.Context) error {
		err := e.remote.Update(ctx, id, patch)
		e.post(func() { e.settleUpdate(m, err) })
		return err
	})
}

// submit hands the remote call to the pool. When the pool refuses it the
// mutation fails right away, on this same loop turn.
func (e *Engine) submit(m *pendingMutation, run func(ctx context.Context) error) {
	job := worker.Job{
		MutationID: strconv.FormatUint(m.seq, 10),
		Kind:       m.kind.String(),
		TaskID:     m.target,
		Run:        run,
	}
	if err := e.pool.Submit(e.ctx, job); err != nil {
		netErr := core.NewNetworkError("remote call not issued", err, "engine.Engine.submit")
		switch m.kind {
		case KindAdd:
			e.settleAdd(m, remote.Created{}, netErr)
		case KindDelete:
			e.settleDelete(m, netErr)
		default:
			e.settleUpdate(m, netErr)
		}
	}
}

func (e *Engine) settleAdd(m *pendingMutation, created remote.Created, err error) {
	if !e.untrack(m) {
		return
	}
	defer e.notify()

	if err != nil {
		e.cache.Remove(m.target)
		e.fail(m, err)
		return
	}

	e.cache.ReplaceID(m.target, created.ID, cache.Fields{CreatedAt: created.CreatedAt})
	e.aliasMu.Lock()
	e.aliases[m.target] = created.ID
	e.aliasMu.Unlock()
	// later mutations accepted against the provisional id follow it
	for _, other := range e.pending {
		if other.target == m.target {
			other.target = created.ID
		}
	}
	e.logger.Debug("add confirmed",
		zap.String("task_id", created.ID),
		zap.String("provisional_id", m.target),
	)
	m.handle.resolve(OutcomeConfirmed, created.ID, nil)
}

func (e *Engine) settleUpdate(m *pendingMutation, err error) {
	if !e.untrack(m) {
		return
	}
	defer e.notify()

	if err != nil {
		// prior goes onto whatever the entry looks like now
		e.cache.Update(e.resolveID(m.target), func(t *core.Task) { t.Apply(m.prior) })
		e.fail(m, err)
		return
	}
	m.handle.resolve(OutcomeConfirmed, "", nil)
}

func (e *Engine) settleDelete(m *pendingMutation, err error) {
	if !e.untrack(m) {
		return
	}
	defer e.notify()

	if core.CodeOf(err) == core.ErrorCodeNotFound && !IsProvisional(m.removed.ID) {
		// gone remotely counts as deleted. A provisional id was never known
		// remotely, so its NotFound is a real failure.
		e.logger.Debug("delete target already gone", zap.String("task_id", m.target))
		m.handle.resolve(OutcomeConfirmed, "", nil)
		return
	}
	if err != nil {
		restored := m.removed.CloneTask()
		restored.ID = e.resolveID(restored.ID)
		e.cache.Upsert(restored)
		e.fail(m, err)
		return
	}
	m.handle.resolve(OutcomeConfirmed, "", nil)
}

func (e *Engine) fail(m *pendingMutation, err error) {
	err = asRemoteError(err, "engine.Engine."+m.kind.String())
	if e.ctx.Err() != nil {
		m.handle.resolve(OutcomeAbandoned, "", ErrClosed)
		return
	}

	e.logger.Warn("mutation rolled back",
		zap.String("kind", m.kind.String()),
		zap.String("task_id", m.target),
		zap.Error(err),
	)
	e.pushNotice(Notice{
		Kind:   noticeKindFor(m.kind),
		TaskID: m.target,
		Text:   m.text,
		Err:    err,
	})
	m.handle.resolve(OutcomeRolledBack, "", err)
}

// asRemoteError keeps AppErrors the remote sent and turns anything else
// into a network failure.
func asRemoteError(err error, op string) error {
	if _, ok := core.AsAppError(err); ok {
		return err
	}
	return core.NewNetworkError("remote call failed", err, op)
}
