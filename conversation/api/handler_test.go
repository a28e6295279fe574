package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"actionit/backend/conversation/models"
	"actionit/backend/conversation/repository"
	"actionit/backend/conversation/service"
	apperrors "actionit/backend/pkg/errors"
	"actionit/backend/pkg/jwt"
	"actionit/backend/pkg/logger"
	"actionit/backend/pkg/middleware"
	"actionit/backend/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testServer struct {
	engine *gin.Engine
	jwt    *jwt.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	repo := repository.NewGormMessageRepository(db)
	require.NoError(t, repo.AutoMigrate())

	svc := service.NewMessageService(repo, nil, nil, logger.Discard())
	jwtSvc := jwt.NewService("test-secret", time.Hour, "")

	v, err := validator.NewOpenAPIValidatorFromData(OpenAPISchema)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(apperrors.ErrorHandler())
	engine.Use(v.Middleware())
	RegisterRoutesV1(engine.Group("/api/v1"), NewMessageHandler(svc), middleware.JWTAuthMiddleware(jwtSvc, logger.Discard()))

	return &testServer{engine: engine, jwt: jwtSvc}
}

func (s *testServer) do(t *testing.T, role jwt.Role, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := s.jwt.GenerateToken("user-1", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestCreateAndListMessages(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, jwt.RoleUser, http.MethodPost, "/api/v1/conversations/c1/messages",
		map[string]string{"id": "client-1", "content": "Hi", "sender": "user"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "client-1", created.ClientID)
	assert.Equal(t, "c1", created.ConversationID)
	assert.Equal(t, models.StatusSent, created.Status)

	w = s.do(t, jwt.RoleUser, http.MethodGet, "/api/v1/conversations/c1/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list listMessagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, created.ID, list.Messages[0].ID)

	w = s.do(t, jwt.RoleUser, http.MethodGet, "/api/v1/messages/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateMessageRejectsSchemaViolations(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, jwt.RoleUser, http.MethodPost, "/api/v1/conversations/c1/messages",
		map[string]string{"content": "Hi", "sender": "robot"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeValidation)
}

func TestDeleteConversationMessages(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 2; i++ {
		w := s.do(t, jwt.RoleUser, http.MethodPost, "/api/v1/conversations/c1/messages",
			map[string]string{"content": fmt.Sprint("m", i), "sender": "user"})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := s.do(t, jwt.RoleUser, http.MethodDelete, "/api/v1/conversations/c1/messages", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Deleted-Count"))

	w = s.do(t, jwt.RoleUser, http.MethodGet, "/api/v1/conversations/c1/messages", nil)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestAuthAndPermissions(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "", http.MethodGet, "/api/v1/conversations/c1/messages", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, jwt.RoleAssistant, http.MethodDelete, "/api/v1/conversations/c1/messages", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, jwt.RoleUser, http.MethodGet, "/api/v1/messages/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
