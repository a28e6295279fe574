package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"actionit/backend/conversation/models"
	"actionit/backend/pkg/config"
	"actionit/backend/pkg/logger"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversation struct {
	mu        sync.Mutex
	history   []models.Message
	streaming map[string]*models.Message
	completed []string
	failed    []string
	appendErr error
}

func newFakeConversation(history ...models.Message) *fakeConversation {
	return &fakeConversation{history: history, streaming: make(map[string]*models.Message)}
}

func (f *fakeConversation) Messages() []models.Message { return f.history }

func (f *fakeConversation) BeginStream(sender models.Sender) models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &models.Message{ID: fmt.Sprintf("s%d", len(f.streaming)+1), Sender: sender, Status: models.StatusStreaming}
	f.streaming[m.ID] = m
	return *m
}

func (f *fakeConversation) AppendStream(id, delta string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.streaming[id].Content += delta
	return nil
}

func (f *fakeConversation) CompleteStream(_ context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	m := *f.streaming[id]
	m.Status = models.StatusComplete
	return &m, nil
}

func (f *fakeConversation) FailStream(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
}

func sseServer(t *testing.T, chunks []string, status int, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"id":     "chatcmpl-1",
				"object": "chat.completion.chunk",
				"model":  "test-model",
				"choices": []map[string]any{
					{"index": 0, "delta": map[string]string{"content": c}},
				},
			})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAssistant(t *testing.T, baseURL string) *Assistant {
	t.Helper()
	cfg := &config.Config{}
	cfg.Assistant.Enabled = true
	cfg.Assistant.APIKey = "test-key"
	cfg.Assistant.BaseURL = baseURL + "/v1"
	cfg.Assistant.Model = "test-model"
	cfg.Assistant.MaxTokens = 64
	cfg.Assistant.SystemPrompt = "be brief"

	a, err := New(cfg, logger.Discard())
	require.NoError(t, err)
	return a
}

func TestReplyStreamsIntoConversation(t *testing.T) {
	var seen openai.ChatCompletionRequest
	srv := sseServer(t, []string{"Hel", "lo", " there"}, http.StatusOK, &seen)
	a := newTestAssistant(t, srv.URL)

	conv := newFakeConversation(
		models.Message{Sender: models.SenderUser, Content: "hi", Status: models.StatusSent},
		models.Message{Sender: models.SenderUser, Content: "lost", Status: models.StatusError},
	)

	msg, err := a.Reply(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", msg.Content)
	assert.Equal(t, models.StatusComplete, msg.Status)
	assert.Equal(t, []string{"s1"}, conv.completed)
	assert.Empty(t, conv.failed)

	assert.True(t, seen.Stream)
	assert.Equal(t, "test-model", seen.Model)
	require.Len(t, seen.Messages, 2, "system prompt plus the one delivered message")
	assert.Equal(t, openai.ChatMessageRoleSystem, seen.Messages[0].Role)
	assert.Equal(t, "hi", seen.Messages[1].Content)
}

func TestReplyUpstreamFailure(t *testing.T) {
	srv := sseServer(t, nil, http.StatusInternalServerError, nil)
	a := newTestAssistant(t, srv.URL)
	conv := newFakeConversation()

	_, err := a.Reply(context.Background(), conv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting completion stream")
	assert.Empty(t, conv.streaming, "no message begun")
}

func TestReplyEmptyStreamFails(t *testing.T) {
	srv := sseServer(t, nil, http.StatusOK, nil)
	a := newTestAssistant(t, srv.URL)
	conv := newFakeConversation()

	_, err := a.Reply(context.Background(), conv)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, []string{"s1"}, conv.failed)
}

func TestReplyStopsWhenStreamTargetIsGone(t *testing.T) {
	srv := sseServer(t, []string{"Hel", "lo"}, http.StatusOK, nil)
	a := newTestAssistant(t, srv.URL)
	conv := newFakeConversation()
	gone := errors.New("unknown message")
	conv.appendErr = gone

	msg, err := a.Reply(context.Background(), conv)
	assert.Nil(t, msg)
	require.ErrorIs(t, err, gone)
	assert.Contains(t, err.Error(), "appending to stream")
	assert.Empty(t, conv.completed)
}

func TestNewRequiresConfiguration(t *testing.T) {
	cfg := &config.Config{}
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, ErrDisabled)

	cfg.Assistant.Enabled = true
	_, err = New(cfg, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "API key"))
}
