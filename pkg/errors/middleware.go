package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"actionit/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Gin context keys set by the logging and request id middleware
const (
	ContextLoggerKey    = "logger"
	ContextRequestIDKey = "requestID"
)

// Envelope is the JSON body of every error response. The chat client decodes
// the same shape when the service rejects a save or clear.
type Envelope struct {
	Error EnvelopeError `json:"error"`
}

type EnvelopeError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func requestLogger(c *gin.Context) *logger.Logger {
	if l, ok := c.Get(ContextLoggerKey); ok {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.GetGlobal()
}

func writeError(c *gin.Context, appErr *AppError) {
	c.AbortWithStatusJSON(appErr.StatusCode, Envelope{Error: EnvelopeError{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		RequestID: c.GetString(ContextRequestIDKey),
	}})
}

// ErrorHandler renders the last error a handler attached with c.Error.
// Handlers that already wrote a body are only logged.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}
		appErr := FromError(last.Err)

		log := requestLogger(c)
		fields := []any{
			"route", c.FullPath(),
			"status_code", appErr.StatusCode,
			"error_code", appErr.Code,
		}
		if appErr.StatusCode >= http.StatusInternalServerError {
			log.LogError(last.Err, appErr.Message, fields...)
		} else {
			log.Warn(appErr.Message, fields...)
		}

		if !c.Writer.Written() {
			writeError(c, appErr)
		}
	}
}

// RecoveryWithLogger turns a handler panic into a SERVER_ERROR response.
// The stack is only returned to the caller in debug mode.
func RecoveryWithLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			stack := string(debug.Stack())
			requestLogger(c).Error("Panic recovered",
				"panic", r,
				"route", c.FullPath(),
				"stack", stack,
			)

			appErr := NewInternalServerError("SERVER_ERROR", "The server encountered an unexpected error")
			if gin.Mode() == gin.DebugMode {
				appErr.Details = fmt.Sprintf("panic: %v\n%s", r, stack)
			}
			writeError(c, appErr)
		}()

		c.Next()
	}
}
