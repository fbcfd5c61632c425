package remote

import (
	"context"
	"sync"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/store"
	"go.uber.org/zap"
)

// Service is the authoritative task store. It assigns canonical ids and
// server timestamps, persists through a store.Store and pushes a fresh
// snapshot to every subscriber of an owner after each write.
type Service struct {
	store store.Store
	idGen IDGenerator
	now   func() time.Time

	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool

	// serializes list+push so subscribers never see an older list last
	pubMu sync.Mutex
	pubWG sync.WaitGroup
}

type subscriber struct {
	ch chan Snapshot
}

var _ Store = (*Service)(nil)

func NewService(
	st store.Store,
	idGen IDGenerator,
	now func() time.Time,
	logger *zap.Logger,
) (*Service, error) {
	const op = "remote.NewService"
	if st == nil {
		return nil, core.NewAppErrorBuilder(core.ErrorCodeInternal).
			Message("task store required").
			SafeToShow(false).
			Oper(op).
			Build()
	}
	if idGen == nil {
		return nil, core.NewAppErrorBuilder(core.ErrorCodeInternal).
			Message("id gen required").
			SafeToShow(false).
			Oper(op).
			Build()
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		idGen:  idGen,
		now:    now,
		logger: logger,
		subs:   make(map[string]map[*subscriber]struct{}),
	}, nil
}

// Create stores rec under a new id. CreatedAt is always the server time.
func (s *Service) Create(ctx context.Context, rec core.Record) (Created, error) {
	const op = "remote.Service.Create"

	if err := ctx.Err(); err != nil {
		return Created{}, internalError(op, "ctx error", err)
	}
	if rec.OwnerID == "" {
		return Created{}, validationError(op, "owner id required")
	}
	text, vErr := core.NormalizeText(rec.Text, op)
	if vErr != nil {
		return Created{}, vErr
	}
	rec.Text = text

	id, err := s.idGen.NewID()
	if err != nil {
		return Created{}, internalError(op, "gen id error", err)
	}
	rec.CreatedAt = s.now().UTC()

	t, err := rec.ToTask(id)
	if err != nil {
		return Created{}, tryAsAppError(err, op)
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return Created{}, tryAsAppError(err, op)
	}

	s.logger.Debug("task created",
		zap.String("task_id", id),
		zap.String("owner_id", rec.OwnerID),
	)
	s.publishAfter(ctx, rec.OwnerID)
	return Created{ID: id, CreatedAt: t.CreatedAt}, nil
}

func (s *Service) Update(ctx context.Context, id string, p core.Patch) error {
	const op = "remote.Service.Update"

	if err := ctx.Err(); err != nil {
		return internalError(op, "ctx error", err)
	}
	if p.Text != nil {
		text, vErr := core.NormalizeText(*p.Text, op)
		if vErr != nil {
			return vErr
		}
		p.Text = &text
	}

	t, err := s.store.PatchTask(ctx, id, p, s.now().UTC())
	if err != nil {
		return tryAsAppError(err, op)
	}
	s.publishAfter(ctx, t.OwnerID)
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	const op = "remote.Service.Delete"

	if err := ctx.Err(); err != nil {
		return internalError(op, "ctx error", err)
	}
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return tryAsAppError(err, op)
	}
	if err := s.store.DeleteTask(ctx, id, s.now().UTC()); err != nil {
		return tryAsAppError(err, op)
	}
	s.publishAfter(ctx, t.OwnerID)
	return nil
}

// List returns the owner's tasks newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]*core.Task, error) {
	const op = "remote.Service.List"
	if ownerID == "" {
		return nil, validationError(op, "owner id required")
	}
	ts, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, tryAsAppError(err, op)
	}
	return ts, nil
}

// Subscribe sends the current list right away and then one snapshot per
// change. A slow reader only ever sees the latest snapshot.
func (s *Service) Subscribe(ctx context.Context, ownerID string) (<-chan Snapshot, error) {
	const op = "remote.Service.Subscribe"
	if ownerID == "" {
		return nil, validationError(op, "owner id required")
	}

	sub := &subscriber{ch: make(chan Snapshot, 1)}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	tasks, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, tryAsAppError(err, op)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, internalError(op, "service closed", nil)
	}
	owned := s.subs[ownerID]
	if owned == nil {
		owned = make(map[*subscriber]struct{})
		s.subs[ownerID] = owned
	}
	owned[sub] = struct{}{}
	sub.push(Snapshot{Tasks: tasks})
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.unsubscribe(ownerID, sub)
	}()
	return sub.ch, nil
}

// Subscribers reports how many live subscriptions ownerID has.
func (s *Service) Subscribers(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[ownerID])
}

func (s *Service) FlushSnapshot(ctx context.Context) error {
	const op = "remote.Service.FlushSnapshot"

	if err := ctx.Err(); err != nil {
		return internalError(op, "ctx error", err)
	}
	if err := s.store.FlushSnapshot(ctx); err != nil {
		return internalError(op, "flush snapshot", err)
	}
	return nil
}

// Close ends every subscription and waits for queued publishes. The
// underlying store stays open.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for owner, owned := range s.subs {
		for sub := range owned {
			close(sub.ch)
		}
		delete(s.subs, owner)
	}
	s.mu.Unlock()
	s.pubWG.Wait()
}

func (s *Service) unsubscribe(ownerID string, sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned, ok := s.subs[ownerID]
	if !ok {
		return
	}
	if _, ok := owned[sub]; !ok {
		return
	}
	delete(owned, sub)
	if len(owned) == 0 {
		delete(s.subs, ownerID)
	}
	close(sub.ch)
}

// publishAfter pushes the owner's list off the writer's goroutine. The
// write returns without waiting for the push.
func (s *Service) publishAfter(ctx context.Context, ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.subs[ownerID]) == 0 {
		return
	}
	s.pubWG.Add(1)
	go func() {
		defer s.pubWG.Done()
		s.publish(context.WithoutCancel(ctx), ownerID)
	}()
}

func (s *Service) publish(ctx context.Context, ownerID string) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	n := len(s.subs[ownerID])
	s.mu.Unlock()
	if n == 0 {
		return
	}

	tasks, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		s.logger.Warn("list for publish failed",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[ownerID] {
		sub.push(Snapshot{Tasks: core.CloneTasks(tasks)})
	}
}

// push replaces whatever snapshot is still unread. Callers hold Service.mu,
// so there is a single sender per channel at a time.
func (sub *subscriber) push(snap Snapshot) {
	select {
	case <-sub.ch:
	default:
	}
	sub.ch <- snap
}

func tryAsAppError(err error, op string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := core.AsAppError(err); ok {
		return appErr.WithOper(op)
	}
	return internalError(op, "unexpected error", err)
}

func validationError(op, msg string) error {
	return core.NewAppErrorBuilder(core.ErrorCodeValidation).
		Message(msg).
		SafeToShow(true).
		Oper(op).
		Build()
}

func internalError(op, msg string, err error) error {
	return core.NewAppErrorBuilder(core.ErrorCodeInternal).
		Message(msg).
		Err(err).
		SafeToShow(false).
		Oper(op).
		Build()
}
