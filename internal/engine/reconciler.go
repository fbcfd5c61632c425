package engine

import (
	"context"
	"errors"

	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/remote"
	"go.uber.org/zap"
)

var errSubscriptionClosed = errors.New("engine: subscription closed by remote")

// subscribe starts the snapshot stream for owner. Everything it delivers
// is tagged with epoch and ignored once the session moved on.
func (e *Engine) subscribe(owner string, epoch uint64) {
	ctx, cancel := context.WithCancel(e.ctx)
	e.subCancel = cancel

	go func() {
		defer cancel()

		ch, err := e.remote.Subscribe(ctx, owner)
		if err != nil {
			if ctx.Err() == nil {
				e.post(func() { e.listenerFailure(epoch, err) })
			}
			return
		}
		for snap := range ch {
			if !e.post(func() { e.applySnapshot(epoch, snap) }) {
				return
			}
			if snap.Err != nil {
				return
			}
		}
		if ctx.Err() == nil {
			e.post(func() { e.listenerFailure(epoch, errSubscriptionClosed) })
		}
	}()
}

func (e *Engine) applySnapshot(epoch uint64, snap remote.Snapshot) {
	if epoch != e.epoch {
		return
	}
	if snap.Err != nil {
		e.listenerFailure(epoch, snap.Err)
		return
	}

	e.reconcile(snap.Tasks)

	e.statusMu.Lock()
	e.loading = false
	e.statusMu.Unlock()
	e.notify()
}

// reconcile makes the cache match a snapshot while keeping in-flight work
// visible:
//   - provisional tasks of unsettled adds stay even though the remote
//     does not know them yet;
//   - tasks with an unsettled delete stay gone;
//   - unsettled update and toggle patches are applied again over the
//     incoming fields.
func (e *Engine) reconcile(tasks []*core.Task) {
	owner, _ := e.Owner()

	adds := make(map[string]bool)
	deletes := make(map[string]bool)
	patches := make(map[string][]core.Patch)
	for _, m := range e.pending {
		switch m.kind {
		case KindAdd:
			adds[m.target] = true
		case KindDelete:
			deletes[m.target] = true
		case KindUpdate, KindToggleComplete:
			// e.pending is in accept order
			patches[m.target] = append(patches[m.target], m.patch)
		}
	}

	incoming := make([]*core.Task, 0, len(tasks))
	for _, t := range tasks {
		if t == nil || t.ID == "" {
			continue
		}
		if t.OwnerID != owner {
			e.logger.Warn("snapshot task of another owner dropped",
				zap.String("task_id", t.ID),
				zap.String("owner_id", t.OwnerID),
			)
			continue
		}
		if deletes[t.ID] {
			continue
		}
		t = t.CloneTask()
		for _, p := range patches[t.ID] {
			t.Apply(p)
		}
		incoming = append(incoming, t)
	}

	e.cache.ReplaceAll(incoming, func(id string) bool { return adds[id] })
	e.logger.Debug("snapshot applied",
		zap.Int("incoming", len(tasks)),
		zap.Int("visible", e.cache.Len()),
		zap.Int("pending", len(e.pending)),
	)
}

// listenerFailure is reported once per subscription. There is no retry;
// the cache keeps its last state.
func (e *Engine) listenerFailure(epoch uint64, err error) {
	if epoch != e.epoch || e.listenerFailed {
		return
	}
	e.listenerFailed = true

	if core.CodeOf(err) != core.ErrorCodeListener {
		err = core.NewListenerError(err, "engine.Engine.subscribe")
	}
	e.logger.Warn("subscription failed", zap.Error(err))

	e.statusMu.Lock()
	e.loading = false
	e.statusMu.Unlock()

	e.pushNotice(Notice{Kind: NoticeListenerFailed, Err: err})
	e.notify()
}
