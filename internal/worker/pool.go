package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Job is one remote call issued for a pending mutation.
type Job struct {
	MutationID string
	Kind       string
	TaskID     string

	Run func(ctx context.Context) error
}

// Handler handles jobs.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a func to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// RunJob is a Handler calling job.Run.
var RunJob = HandlerFunc(func(ctx context.Context, job Job) error {
	if job.Run == nil {
		return errors.New("worker: job without run func")
	}
	return job.Run(ctx)
})

var ErrPoolClosed = errors.New("worker: pool closed")
var ErrPoolFull = errors.New("worker: queue full")

// ErrPoolNotStarted says the pool should be started before work
var ErrPoolNotStarted = errors.New("worker: pool not started")

// Pool runs jobs with bounded concurrency.
type Pool struct {
	handler Handler
	workers int
	jobs    chan Job
	logger  *zap.Logger

	started atomic.Bool
	closed  atomic.Bool

	stopOnce sync.Once
	wg       sync.WaitGroup
	done     chan struct{}
}

func NewPool(workers int, handler Handler, queueSize int, logger *zap.Logger) (*Pool, error) {
	if workers <= 0 {
		return nil, errors.New("worker: workers number cant be <= 0")
	}
	if handler == nil {
		return nil, errors.New("worker: required handler")
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		handler: handler,
		workers: workers,
		jobs:    make(chan Job, queueSize),
		logger:  logger,

		done: make(chan struct{}),
	}, nil
}

// Start launches the workers. ctx is handed to every job.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		// its started
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for range p.workers {
		p.wg.Add(1)
		go p.run(ctx)
	}
	return nil
}

// Stop refuses new jobs and waits for queued ones to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		close(p.jobs)
		p.wg.Wait()
	})
}

func (p *Pool) Submit(ctx context.Context, job Job) (err error) {
	if !p.started.Load() {
		return ErrPoolNotStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p.closed.Load() {
		return ErrPoolClosed
	}
	defer func() {
		r := recover()
		if r != nil {
			switch v := r.(type) {
			case string:
				if strings.Contains(v, "closed chan") {
					err = ErrPoolClosed
					return
				}
			case error:
				if strings.Contains(v.Error(), "closed chan") {
					err = ErrPoolClosed
					return
				}
			}
			panic(r)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	case p.jobs <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.handler.Handle(ctx, job); err != nil {
			p.logger.Debug("job failed",
				zap.String("mutation_id", job.MutationID),
				zap.String("kind", job.Kind),
				zap.String("task_id", job.TaskID),
				zap.Error(err),
			)
		}
	}
}
