package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mauzec/taskpulse/internal/api"
	"github.com/mauzec/taskpulse/internal/config"
	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/remote"
	"github.com/mauzec/taskpulse/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	configAppName = "server"
	configExt     = "env"
	configDir     = "config"
)

func newLogger(dataDir string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logPath := filepath.Join(dataDir, "server_log.log")
	cfg.OutputPaths = []string{"stdout", logPath}
	cfg.ErrorOutputPaths = []string{"stderr", logPath}
	return cfg.Build()
}

func main() {
	cfg, err := config.LoadServerConfig(configAppName, configExt, configDir)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "cant read config: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "cant create data dir %s: %v\n", cfg.DataDir, err)
		os.Exit(1)
	}

	zapLogger, err := newLogger(cfg.DataDir)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "cant init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()
	logger := zapLogger.Named("server")
	logger.Info("running server",
		zap.Int("pid", os.Getpid()),
		zap.String("storage_mode", cfg.StorageMode),
	)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reopenCh := make(chan os.Signal, 1)
	signal.Notify(reopenCh, syscall.SIGHUP)
	defer signal.Stop(reopenCh)

	h := &holder{}
	compLogger := logger.Named("comp")
	c, err := newAppComponent(ctx, cfg, compLogger)
	if err != nil {
		logger.Fatal("cant create app component", zap.Error(err))
	}
	h.set(c)

	srv, err := api.NewServer(&api.ServerOptions{
		TaskService: &serviceProxy{holder: h},
		Logger:      logger,
		Addr:        cfg.ServerAddr,
	})
	if err != nil {
		logger.Fatal("cant create api server", zap.Error(err))
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.ServerAddr))
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			break loop
		case <-reopenCh:
			if err := reopenComponent(ctx, h, cfg, compLogger); err != nil {
				logger.Error("reopen failed", zap.Error(err))
			}
		case err := <-errCh:
			logger.Error("server failed", zap.Error(err))
			break loop
		}
	}

	comp := h.take()
	if comp != nil {
		// live websocket handlers return once their channel closes
		comp.svc.Close()
	}
	offCtx, offCanc := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer offCanc()
	if err := srv.Shutdown(offCtx); err != nil {
		logger.Error("cant shutdown server", zap.Error(err))
	}
	if comp != nil {
		comp.shutdown(cfg.SnapshotTimeout, compLogger)
	}
	logger.Info("shutdown done")
}

// appComponent is one opened store with the service on top of it. SIGHUP
// swaps it for a fresh one without stopping the http server.
type appComponent struct {
	svc   *remote.Service
	store store.Store

	snapStop chan struct{}
	snapWG   sync.WaitGroup
}

func newAppComponent(ctx context.Context, cfg *config.ServerConfig, logger *zap.Logger) (*appComponent, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := remote.NewService(
		st,
		remote.NewRandomIDGenerator(cfg.IDPrefix),
		time.Now,
		logger.Named("service"),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	c := &appComponent{svc: svc, store: st, snapStop: make(chan struct{})}
	c.snapWG.Add(1)
	go func() {
		defer c.snapWG.Done()
		ticker := time.NewTicker(cfg.SnapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logger.Info("starting period snapshotting")
				c.flushSnapshot(cfg.SnapshotTimeout, logger)
				logger.Info("period snapshotting done")
			case <-c.snapStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return c, nil
}

func openStore(ctx context.Context, cfg *config.ServerConfig) (store.Store, error) {
	switch strings.ToLower(cfg.StorageMode) {
	case store.ModeMemory:
		return store.NewFileTaskStore(ctx,
			filepath.Join(cfg.DataDir, "snap.json"),
			filepath.Join(cfg.DataDir, "wal.log"),
		)
	case store.ModeBolt:
		return store.NewBoltTaskStore(filepath.Join(cfg.DataDir, "tasks.db"))
	case store.ModeSQLite:
		return store.NewSQLiteTaskStore(ctx, filepath.Join(cfg.DataDir, "tasks.sqlite"))
	}
	return nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
}

func (c *appComponent) flushSnapshot(timeout time.Duration, logger *zap.Logger) {
	fCtx, fCanc := context.WithTimeout(context.Background(), timeout)
	defer fCanc()
	if err := c.svc.FlushSnapshot(fCtx); err != nil {
		logger.Error("cant flush snapshot", zap.Error(err))
	}
}

// shutdown ends subscriptions, stops the ticker, flushes and closes the store.
func (c *appComponent) shutdown(snapTimeout time.Duration, logger *zap.Logger) {
	c.svc.Close()
	close(c.snapStop)
	c.snapWG.Wait()
	c.flushSnapshot(snapTimeout, logger)
	if err := c.store.Close(); err != nil {
		logger.Error("cant close store", zap.Error(err))
	}
}

type holder struct {
	mu   sync.RWMutex
	comp *appComponent
}

func (h *holder) set(c *appComponent) {
	h.mu.Lock()
	h.comp = c
	h.mu.Unlock()
}

// take removes the component so later requests fail fast.
func (h *holder) take() *appComponent {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.comp
	h.comp = nil
	return c
}

func (h *holder) withService(f func(*remote.Service) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.comp == nil {
		return core.NewAppErrorBuilder(core.ErrorCodeNetwork).
			Message("service not available").
			Oper("main.holder.withService").
			Retryable(true).
			Build()
	}
	return f(h.comp.svc)
}

type serviceProxy struct {
	holder *holder
}

func (p *serviceProxy) Create(ctx context.Context, rec core.Record) (remote.Created, error) {
	var res remote.Created
	err := p.holder.withService(func(s *remote.Service) error {
		var thisErr error
		res, thisErr = s.Create(ctx, rec)
		return thisErr
	})
	return res, err
}

func (p *serviceProxy) Update(ctx context.Context, id string, patch core.Patch) error {
	return p.holder.withService(func(s *remote.Service) error {
		return s.Update(ctx, id, patch)
	})
}

func (p *serviceProxy) Delete(ctx context.Context, id string) error {
	return p.holder.withService(func(s *remote.Service) error {
		return s.Delete(ctx, id)
	})
}

func (p *serviceProxy) List(ctx context.Context, ownerID string) ([]*core.Task, error) {
	var res []*core.Task
	err := p.holder.withService(func(s *remote.Service) error {
		var thisErr error
		res, thisErr = s.List(ctx, ownerID)
		return thisErr
	})
	return res, err
}

func (p *serviceProxy) Subscribe(ctx context.Context, ownerID string) (<-chan remote.Snapshot, error) {
	var res <-chan remote.Snapshot
	err := p.holder.withService(func(s *remote.Service) error {
		var thisErr error
		res, thisErr = s.Subscribe(ctx, ownerID)
		return thisErr
	})
	return res, err
}

// reopenComponent closes the current store and opens it again from disk.
// Subscribers are dropped and have to subscribe again.
func reopenComponent(ctx context.Context, h *holder, cfg *config.ServerConfig, logger *zap.Logger) error {
	logger.Info("reopen required")
	h.mu.Lock()
	defer h.mu.Unlock()

	last := h.comp
	if last == nil {
		return errors.New("component not init while reopen")
	}
	last.shutdown(cfg.SnapshotTimeout, logger)
	h.comp = nil

	newer, err := newAppComponent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	h.comp = newer
	logger.Info("reopen done")
	return nil
}
