package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mauzec/taskpulse/internal/config"
	"github.com/mauzec/taskpulse/internal/engine"
	"github.com/mauzec/taskpulse/internal/remote"
	"github.com/mauzec/taskpulse/internal/session"
	"github.com/mauzec/taskpulse/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Version = "dev"

const (
	configAppName = "client"
	configExt     = "env"
)

func main() {
	var configDir string

	rootCmd := &cobra.Command{
		Use:     "taskpulse",
		Short:   "Keep a todo list in sync with a taskpulse server",
		Version: Version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClientConfig(configAppName, configExt, configDir)
			if err != nil {
				return fmt.Errorf("cant read config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
	rootCmd.Flags().StringVarP(&configDir, "config-dir", "c", "config", "directory holding client.env")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger writes to a file only; stdout belongs to the shell.
func newLogger(cfg *config.ClientConfig) (*zap.Logger, error) {
	if cfg.LogFile == "" {
		return zap.NewNop(), nil
	}
	zcfg := zap.NewProductionConfig()
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logPath := filepath.Join(cfg.DataDir, cfg.LogFile)
	zcfg.OutputPaths = []string{logPath}
	zcfg.ErrorOutputPaths = []string{logPath}
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.ClientConfig) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("cant create data dir: %w", err)
	}
	zapLogger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("cant init logger: %w", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()
	logger := zapLogger.Named("client")

	rs, closeRemote, err := openRemote(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRemote()

	sess := session.New()
	opts := engine.DefaultOptions()
	opts.Workers = cfg.Workers
	opts.QueueSize = cfg.QueueSize
	opts.Logger = logger
	eng, err := engine.New(rs, sess, opts)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Close()

	sh := newShell(eng, sess, os.Stdin, os.Stdout)
	if cfg.OwnerID != "" {
		sh.login(cfg.OwnerID)
	}
	return sh.run(ctx)
}

// openRemote returns the remote the engine talks to and a func releasing
// it. In local mode the backend runs in-process over a file store.
func openRemote(ctx context.Context, cfg *config.ClientConfig, logger *zap.Logger) (remote.Store, func(), error) {
	if cfg.RemoteMode == "http" {
		client, err := remote.NewClient(cfg.ServerURL, &http.Client{Timeout: cfg.RequestTimeout}, logger.Named("http"))
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}

	st, err := store.NewFileTaskStore(ctx,
		filepath.Join(cfg.DataDir, "snap.json"),
		filepath.Join(cfg.DataDir, "wal.log"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("cant open local store: %w", err)
	}
	svc, err := remote.NewService(st, remote.NewRandomIDGenerator(""), time.Now, logger.Named("local"))
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	release := func() {
		svc.Close()
		fCtx, fCanc := context.WithTimeout(context.Background(), 10*time.Second)
		defer fCanc()
		if err := svc.FlushSnapshot(fCtx); err != nil {
			logger.Error("cant flush snapshot", zap.Error(err))
		}
		if err := st.Close(); err != nil {
			logger.Error("cant close store", zap.Error(err))
		}
	}
	return svc, release, nil
}
