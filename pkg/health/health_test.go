package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"actionit/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticalComponentDrivesHealth(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Minute)

	dbErr := errors.New("connection refused")
	c.RegisterDatabaseCheck(func(context.Context) error { return dbErr })
	c.RegisterCacheCheck("redis", func(context.Context) error { return errors.New("timeout") })

	var seen []bool
	c.OnChange(func(healthy bool) { seen = append(seen, healthy) })

	c.RunChecks(context.Background())
	assert.False(t, c.IsSystemHealthy())
	assert.Equal(t, StatusDegraded, c.GetStatus()["redis"].Status)

	dbErr = nil
	c.RunChecks(context.Background())
	assert.True(t, c.IsSystemHealthy(), "degraded non-critical components keep the system healthy")
	assert.Equal(t, []bool{false, true}, seen)
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewChecker(logger.Discard(), time.Minute)
	c.RegisterDatabaseCheck(func(context.Context) error { return errors.New("down") })

	r := gin.New()
	r.GET("/health", c.Handler())

	c.RunChecks(context.Background())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"database"`)
}
