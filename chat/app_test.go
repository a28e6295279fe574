package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"actionit/backend/chat/notify"
	"actionit/backend/chat/operations"
	"actionit/backend/chat/querycache"
	"actionit/backend/conversation/models"
	"actionit/backend/pkg/config"
	"actionit/backend/pkg/jwt"
	"actionit/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Backend.BaseURL = baseURL
	cfg.Backend.UserID = "user-1"
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.Issuer = "actionit"
	return cfg
}

func TestNewMintsTokenAndSaves(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Message{
			ID:             "srv-1",
			ClientID:       body["id"],
			ConversationID: "conv-1",
			Content:        body["content"],
			Sender:         models.Sender(body["sender"]),
			Status:         models.StatusSent,
		})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	app, err := New(cfg, logger.Discard())
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.Assistant)

	app.Ops.SetActiveConversation("conv-1")
	msg, err := app.Ops.Send(context.Background(), "hello", models.SenderUser)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)
	assert.True(t, app.Cache.Stale(querycache.MessagesKey("conv-1")))

	require.True(t, strings.HasPrefix(auth, "Bearer "))
	claims, err := jwt.NewService(cfg.JWT.Secret, 0, cfg.JWT.Issuer).ValidateToken(strings.TrimPrefix(auth, "Bearer "))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, jwt.RoleUser, claims.Role)
}

func TestNotificationsReachSubscribers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"VALIDATION_ERROR","message":"content is required"}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Backend.Token = "static-token"
	app, err := New(cfg, logger.Discard())
	require.NoError(t, err)
	defer app.Close()

	rec := &notify.Recorder{}
	app.OnNotification(rec.Handle)

	_, err = app.Ops.SaveMessage(context.Background(), "x", models.SenderUser, operations.WithConversationID("conv-1"))
	require.Error(t, err)
	assert.Equal(t, 1, rec.Destructive())
	assert.Equal(t, operations.DescSaveFailed, rec.All()[0].Description)
}

func TestNewRejectsMisconfiguredAssistant(t *testing.T) {
	cfg := testConfig("http://localhost:0")
	cfg.Assistant.Enabled = true

	_, err := New(cfg, nil)
	require.Error(t, err)
}
