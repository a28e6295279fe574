package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "actionit/backend/pkg/errors"
	"actionit/backend/pkg/jwt"
	"actionit/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthEngine(t *testing.T) (*gin.Engine, *jwt.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := jwt.NewService("rbac-secret", 0, "test")

	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	auth := JWTAuthMiddleware(svc, logger.Discard())
	r.DELETE("/conversations/:id/messages", auth, RequirePermission(jwt.PermMessagesDelete), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.UserID)
	})
	r.GET("/ws", auth, func(c *gin.Context) { c.String(http.StatusOK, c.GetString("userID")) })
	return r, svc
}

func TestJWTAuthMiddleware(t *testing.T) {
	r, svc := newAuthEngine(t)
	token, err := svc.GenerateToken("u1", jwt.RoleUser)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/conversations/c1/messages", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRequirePermissionForbidsAssistantClear(t *testing.T) {
	r, svc := newAuthEngine(t)
	token, err := svc.GenerateToken("bot", jwt.RoleAssistant)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "may not delete messages")
}

func TestQueryTokenOnlyForUpgrades(t *testing.T) {
	r, svc := newAuthEngine(t)
	token, err := svc.GenerateToken("u1", jwt.RoleUser)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())
}
