package router

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"actionit/backend/pkg/config"
	"actionit/backend/pkg/di"
	"actionit/backend/pkg/jwt"
	"actionit/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Load()
	cfg.Redis.Enabled = false
	cfg.Cache.Enabled = true
	cfg.Security.AllowedOrigins = []string{"https://app.example"}
	cfg.Security.RateLimit = 1000
	cfg.Security.RateLimitBurst = 1000
	cfg.Observability.MetricsEnabled = true
	cfg.OpenAPI.SchemaPath = ""
	cfg.JWT.Secret = "router-secret"

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	container, err := di.New(context.Background(), cfg, db, logger.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	r := New(container)
	r.SetupRoutes()
	t.Cleanup(r.Close)
	return r
}

func TestHealthRoute(t *testing.T) {
	r := newTestRouter(t)
	r.Container.Health.RunChecks(context.Background())

	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsRoute(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/conversations/c1/messages", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/conversations/c1/messages", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestConversationRoutesRequireAuth(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/c1/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := r.Container.JWTService.GenerateToken("u1", jwt.RoleUser)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/c1/messages",
		strings.NewReader(`{"content":"Hi","sender":"user","id":"client-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestWebSocketRouteRequiresAuth(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?conversationId=c1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRuntimeReport(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health/runtime", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"backend":"memory"`)
	assert.Contains(t, w.Body.String(), `"websocket_clients":0`)
}
