// Package engine keeps the signed-in user's task list in sync with a
// remote.Store. Mutations are applied to the local cache at once and
// confirmed or rolled back when the remote answers; snapshots pushed by
// the remote are merged in without clobbering mutations still in flight.
//
// All state is owned by a single loop goroutine. User intents, remote
// completions, snapshots and session changes are posted to it as closures
// and run one at a time.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mauzec/taskpulse/internal/cache"
	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/remote"
	"github.com/mauzec/taskpulse/internal/session"
	"github.com/mauzec/taskpulse/internal/view"
	"github.com/mauzec/taskpulse/internal/worker"
	"go.uber.org/zap"
)

// SessionSource is the auth state the engine follows.
type SessionSource interface {
	Current() (string, bool)
	OnChange(fn session.Listener) func()
}

type Options struct {
	// Workers bounds the number of concurrent remote calls.
	Workers   int `validate:"min=1,max=256"`
	QueueSize int `validate:"min=1"`
	// NoticeBuffer is how many unread notices are kept before new ones
	// are dropped.
	NoticeBuffer int `validate:"min=1"`

	Logger *zap.Logger      `validate:"-"`
	Now    func() time.Time `validate:"-"`
}

func DefaultOptions() Options {
	return Options{
		Workers:      4,
		QueueSize:    64,
		NoticeBuffer: 32,
	}
}

func (o *Options) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		return fmt.Errorf("engine: bad options: %w", err)
	}
	return nil
}

type Engine struct {
	remote  remote.Store
	session SessionSource
	pool    *worker.Pool
	cache   *cache.TaskCache
	ids     *provisionalIDs
	now     func() time.Time
	logger  *zap.Logger

	events   chan func()
	quit     chan struct{}
	loopDone chan struct{}

	notices chan Notice
	changed chan struct{}

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	startOnce   sync.Once
	closeOnce   sync.Once
	started     chan struct{}

	// readable from any goroutine
	statusMu sync.RWMutex
	owner    string
	loading  bool

	// written on the loop only; Task reads it from outside
	aliasMu sync.RWMutex
	aliases map[string]string

	// loop-owned
	epoch          uint64
	seq            uint64
	pending        []*pendingMutation
	subCancel      context.CancelFunc
	listenerFailed bool
}

func New(rs remote.Store, sess SessionSource, opts Options) (*Engine, error) {
	const op = "engine.New"
	if rs == nil {
		return nil, core.NewInternalError("remote store required", nil, op)
	}
	if sess == nil {
		return nil, core.NewInternalError("session required", nil, op)
	}
	if err := opts.Validate(); err != nil {
		return nil, core.NewInternalError("options", err, op)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.Named("engine")

	pool, err := worker.NewPool(opts.Workers, worker.RunJob, opts.QueueSize, logger.Named("remote"))
	if err != nil {
		return nil, core.NewInternalError("worker pool", err, op)
	}

	return &Engine{
		remote:   rs,
		session:  sess,
		pool:     pool,
		cache:    cache.New(),
		ids:      newProvisionalIDs(),
		now:      opts.Now,
		logger:   logger,
		events:   make(chan func(), 64),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		notices:  make(chan Notice, opts.NoticeBuffer),
		changed:  make(chan struct{}, 1),
		started:  make(chan struct{}),
		aliases:  make(map[string]string),
	}, nil
}

// Start runs the loop and follows the session. Remote calls and the
// subscription live until ctx is done or Close is called.
func (e *Engine) Start(ctx context.Context) error {
	e.startOnce.Do(func() {
		e.ctx, e.cancel = context.WithCancel(ctx)
		_ = e.pool.Start(e.ctx)
		go e.run()
		e.unsubscribe = e.session.OnChange(e.onSessionChange)
		close(e.started)
	})
	if owner, ok := e.session.Current(); ok {
		return e.do(ctx, func() { e.switchOwner(owner) })
	}
	return nil
}

// Close drops the subscription, abandons unsettled mutations and waits for
// in-flight remote calls to return.
func (e *Engine) Close() {
	select {
	case <-e.started:
	default:
		return
	}
	e.closeOnce.Do(func() {
		e.unsubscribe()
		_ = e.do(context.Background(), func() { e.endSession(ErrClosed) })
		e.cancel()
		e.pool.Stop()
		close(e.quit)
		<-e.loopDone
		e.logger.Debug("engine closed")
	})
}

// Owner returns the owner whose tasks are shown.
func (e *Engine) Owner() (string, bool) {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.owner, e.owner != ""
}

// Loading is true after sign-in until the first snapshot or a listener
// failure.
func (e *Engine) Loading() bool {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.loading
}

// Tasks returns the current list, newest first.
func (e *Engine) Tasks() []*core.Task {
	return e.cache.List()
}

// Task looks id up, following a provisional id to the task it became
// once its Add was confirmed.
func (e *Engine) Task(id string) (*core.Task, bool) {
	e.aliasMu.RLock()
	id = e.resolveID(id)
	e.aliasMu.RUnlock()
	return e.cache.Get(id)
}

func (e *Engine) View(filter view.Filter) view.View {
	return view.Project(e.cache.List(), filter)
}

// Notices delivers failures that happened after the caller got control
// back. Unread notices beyond the buffer are dropped.
func (e *Engine) Notices() <-chan Notice {
	return e.notices
}

// Changed receives a value whenever the visible state may have changed.
// Signals coalesce.
func (e *Engine) Changed() <-chan struct{} {
	return e.changed
}

func (e *Engine) run() {
	defer close(e.loopDone)
	for {
		select {
		case fn := <-e.events:
			fn()
		case <-e.quit:
			return
		}
	}
}

// post queues fn on the loop. It returns false once the loop is gone.
func (e *Engine) post(fn func()) bool {
	select {
	case e.events <- fn:
		return true
	case <-e.loopDone:
		return false
	}
}

// do runs fn on the loop and waits for it. ctx only bounds the wait for a
// free slot; once queued, fn always runs before do returns.
func (e *Engine) do(ctx context.Context, fn func()) error {
	select {
	case <-e.started:
	default:
		return ErrNotStarted
	}

	ran := make(chan struct{})
	select {
	case e.events <- func() { defer close(ran); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.loopDone:
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-e.loopDone:
		return ErrClosed
	}
}

func (e *Engine) onSessionChange(ch session.Change) {
	err := e.do(context.Background(), func() { e.switchOwner(ch.OwnerID) })
	if err != nil {
		e.logger.Debug("session change ignored", zap.Error(err))
	}
}

// switchOwner tears down everything of the previous owner and, when
// someone is signed in, starts a new subscription.
func (e *Engine) switchOwner(owner string) {
	e.statusMu.RLock()
	same := owner == e.owner
	e.statusMu.RUnlock()
	if same {
		return
	}

	e.endSession(ErrSessionEnded)

	e.statusMu.Lock()
	e.owner = owner
	e.loading = owner != ""
	e.statusMu.Unlock()

	e.logger.Info("session changed", zap.String("owner_id", owner))
	if owner != "" {
		e.subscribe(owner, e.epoch)
	}
	e.notify()
}

// endSession bumps the epoch so late completions and snapshots are dropped,
// abandons every pending mutation and clears the cache.
func (e *Engine) endSession(reason error) {
	e.epoch++
	if e.subCancel != nil {
		e.subCancel()
		e.subCancel = nil
	}
	for _, m := range e.pending {
		m.handle.resolve(OutcomeAbandoned, "", reason)
	}
	e.pending = nil
	e.aliasMu.Lock()
	e.aliases = make(map[string]string)
	e.aliasMu.Unlock()
	e.listenerFailed = false
	e.cache.Clear()

	e.statusMu.Lock()
	e.loading = false
	e.statusMu.Unlock()
	e.notify()
}

func (e *Engine) notify() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

func (e *Engine) pushNotice(n Notice) {
	select {
	case e.notices <- n:
	default:
		e.logger.Warn("notice dropped",
			zap.Int("kind", int(n.Kind)),
			zap.String("task_id", n.TaskID),
		)
	}
}

// resolveID follows a provisional id to its canonical one once the Add
// was confirmed.
func (e *Engine) resolveID(id string) string {
	if canonical, ok := e.aliases[id]; ok {
		return canonical
	}
	return id
}
