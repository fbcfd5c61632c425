package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var ErrNoTaskService = errors.New("task service is required")

// Subscriptions hold the connection open, so only the header read is
// bounded; handlers bound their own work.
const readHeaderTimeout = 10 * time.Second

type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
}

type ServerOptions struct {
	TaskService taskService
	Logger      *zap.Logger
	Addr        string
}

func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.TaskService == nil {
		return nil, ErrNoTaskService
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	router := gin.New()
	router.Use(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
	)
	setupRouter(router, NewHandler(opts.TaskService, logger))

	return &Server{
		router: router,
		httpSrv: &http.Server{
			Addr:              opts.Addr,
			Handler:           router,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Run blocks until Shutdown; it then returns http.ErrServerClosed.
func (s *Server) Run() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown does not wait for hijacked websocket connections; end
// subscriptions first so their handlers return.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) Router() http.Handler {
	return s.router
}

func setupRouter(router *gin.Engine, h *handler) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.POST("/tasks", h.createTask)
	v1.PATCH("/tasks/:id", h.patchTask)
	v1.DELETE("/tasks/:id", h.deleteTask)

	owned := v1.Group("", OwnerMiddleware())
	owned.GET("/tasks", h.listTasks)
	owned.GET("/subscribe", h.subscribe)
}
