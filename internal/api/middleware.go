package api

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mauzec/taskpulse/internal/core"
	"go.uber.org/zap"
)

const (
	requestIDKey = "request_id"
	taskIDKey    = "task_id"
	ownerIDKey   = "owner_id"

	requestIDHeader = "X-Request-ID"
	ownerIDHeader   = "X-Owner-ID"
)

// RequestIDMiddleware echoes the caller's X-Request-ID or assigns a new one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDKey, reqID)
		c.Header(requestIDHeader, reqID)
		c.Next()
	}
}

// OwnerMiddleware scopes owner-wide routes. The owner comes from the owner
// query param or the X-Owner-ID header; requests without one are rejected.
func OwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.Query("owner"))
		if owner == "" {
			owner = strings.TrimSpace(c.GetHeader(ownerIDHeader))
		}
		if owner == "" {
			err := core.NewValidationError("owner is required", "api.OwnerMiddleware")
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusBadRequest, NewErrorResponse(err))
			return
		}
		c.Set(ownerIDKey, owner)
		c.Next()
	}
}

// LoggingMiddleware writes one line per request. Subscriptions are logged
// when the stream ends, so their latency is the stream lifetime.
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(requestIDKey)),
		}
		if id := GetTaskID(c); id != "" {
			fields = append(fields, zap.String("task_id", id))
		}
		if owner := GetOwnerID(c); owner != "" {
			fields = append(fields, zap.String("owner_id", owner))
		}
		if len(c.Errors) != 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		case c.FullPath() == "/healthz":
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("panic caught",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
				zap.String("request_id", GetRequestID(c)),
			)
			appErr := core.NewInternalError("panic", nil, "api.RecoveryMiddleware")
			c.AbortWithStatusJSON(appErr.HTTPStatus(), NewErrorResponse(appErr))
		}()
		c.Next()
	}
}

func SetTaskID(c *gin.Context, taskID string) {
	c.Set(taskIDKey, taskID)
}

func GetTaskID(c *gin.Context) string {
	return c.GetString(taskIDKey)
}

// GetOwnerID is set by OwnerMiddleware.
func GetOwnerID(c *gin.Context) string {
	return c.GetString(ownerIDKey)
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
