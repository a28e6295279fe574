package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Probe endpoints are hit every few seconds and only logged on failure
var quietPrefixes = []string{"/health", "/metrics"}

// Middleware scopes a logger to the request and logs the outcome once the
// handler chain returns. It expects the request id middleware to run first.
func Middleware(base *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqLogger := base.WithRequestID(c.GetString("requestID"))
		if conversationID := c.Param("id"); conversationID != "" {
			reqLogger = reqLogger.WithConversationID(conversationID)
		}
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(IntoContext(c.Request.Context(), reqLogger))

		c.Next()

		// Auth runs per route group, so the user is only known afterwards.
		if userID := c.GetString("userID"); userID != "" {
			reqLogger = reqLogger.WithUserID(userID)
		}

		status := c.Writer.Status()
		if status < http.StatusBadRequest && quiet(c.Request.URL.Path) {
			return
		}

		fields := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"bytes", c.Writer.Size(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			reqLogger.Error("request failed", fields...)
		case status >= http.StatusBadRequest:
			reqLogger.Warn("request rejected", fields...)
		default:
			reqLogger.Info("request completed", fields...)
		}
	}
}

func quiet(path string) bool {
	for _, p := range quietPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
