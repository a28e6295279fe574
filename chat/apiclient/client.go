// Package apiclient talks to the conversation service on behalf of the
// chat pipeline. Every failure surfaces as a *errors.PersistenceError.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"actionit/backend/conversation/models"
	apperrors "actionit/backend/pkg/errors"
	"actionit/backend/pkg/logger"
	"actionit/backend/pkg/middleware"
	"actionit/backend/pkg/resilience"
	"actionit/backend/shared/observability"

	"github.com/google/uuid"
)

// ErrMissingConversation is the cause reported when no conversation id was given
var ErrMissingConversation = errors.New("conversation id is required")

type Options struct {
	BaseURL string
	// Token is sent as a bearer token on every request
	Token            string
	Timeout          time.Duration
	FailureThreshold uint
	RetryTimeout     time.Duration
	HTTPClient       *http.Client
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

func New(opts Options, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig("conversation-backend")
	if opts.FailureThreshold > 0 {
		breakerCfg.FailureThreshold = opts.FailureThreshold
	}
	if opts.RetryTimeout > 0 {
		breakerCfg.RetryTimeout = opts.RetryTimeout
	}
	breakerCfg.OnStateChange = func(name string, _, to resilience.CircuitBreakerState) {
		observability.RecordBreakerState(name, string(to))
	}
	// Rejections by the backend say nothing about its availability.
	breakerCfg.IsFailure = func(err error) bool {
		var perr *apperrors.PersistenceError
		if errors.As(err, &perr) {
			return perr.Temporary()
		}
		return true
	}

	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		breaker: resilience.NewCircuitBreaker(breakerCfg, log),
		log:     log.WithComponent("apiclient"),
	}
}

type sendRequest struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	Sender  string `json:"sender"`
}

type listResponse struct {
	Messages []models.Message `json:"messages"`
	Count    int              `json:"count"`
}

// SendMessage persists one message and returns the canonical record.
// messageID is optional; when set the backend stores it as the client id.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, sender models.Sender, messageID string) (models.Message, error) {
	if conversationID == "" {
		return models.Message{}, apperrors.NewPersistenceError(apperrors.OpSendMessage, "", string(sender), 0, apperrors.CodeValidation, ErrMissingConversation)
	}

	var out models.Message
	err := c.do(ctx, call{
		op:             apperrors.OpSendMessage,
		conversationID: conversationID,
		sender:         string(sender),
		method:         http.MethodPost,
		path:           messagesPath(conversationID),
		body:           sendRequest{ID: messageID, Content: content, Sender: string(sender)},
		out:            &out,
	})
	if err != nil {
		return models.Message{}, err
	}
	if out.ID == "" {
		return models.Message{}, apperrors.NewPersistenceError(apperrors.OpSendMessage, conversationID, string(sender),
			http.StatusOK, apperrors.CodeBackendMalformed, errors.New("response carries no message id"))
	}
	if out.ConversationID == "" {
		out.ConversationID = conversationID
	}
	out.IsOptimistic = false
	return out, nil
}

// DeleteConversationMessages removes every message of the conversation.
// The backend deletes in one transaction, so failure means nothing was removed.
func (c *Client) DeleteConversationMessages(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return apperrors.NewPersistenceError(apperrors.OpDeleteMessages, "", "", 0, apperrors.CodeValidation, ErrMissingConversation)
	}
	return c.do(ctx, call{
		op:             apperrors.OpDeleteMessages,
		conversationID: conversationID,
		method:         http.MethodDelete,
		path:           messagesPath(conversationID),
	})
}

// ListMessages returns the canonical message list of the conversation
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if conversationID == "" {
		return nil, apperrors.NewPersistenceError(apperrors.OpListMessages, "", "", 0, apperrors.CodeValidation, ErrMissingConversation)
	}
	var out listResponse
	err := c.do(ctx, call{
		op:             apperrors.OpListMessages,
		conversationID: conversationID,
		method:         http.MethodGet,
		path:           messagesPath(conversationID),
		out:            &out,
	})
	if err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []models.Message{}
	}
	return out.Messages, nil
}

// BreakerState reports the circuit breaker guarding the backend
func (c *Client) BreakerState() resilience.CircuitBreakerState {
	return c.breaker.GetState()
}

func (c *Client) BreakerStats() resilience.Stats {
	return c.breaker.Stats()
}

func messagesPath(conversationID string) string {
	return "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
}

type call struct {
	op             string
	conversationID string
	sender         string
	method         string
	path           string
	body           any
	out            any
}

func (c *Client) do(ctx context.Context, cl call) error {
	fail := func(status int, code string, err error) *apperrors.PersistenceError {
		return apperrors.NewPersistenceError(cl.op, cl.conversationID, cl.sender, status, code, err)
	}
	requestID := middleware.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var body io.Reader
		if cl.body != nil {
			data, err := json.Marshal(cl.body)
			if err != nil {
				return fail(0, apperrors.CodeInternal, fmt.Errorf("encode request: %w", err))
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
		if err != nil {
			return fail(0, apperrors.CodeInternal, fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set(middleware.RequestIDHeader, requestID)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fail(0, apperrors.CodeBackendNetwork, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fail(resp.StatusCode, apperrors.CodeBackendRejected, decodeBackendError(resp))
		}

		if cl.out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
			return fail(resp.StatusCode, apperrors.CodeBackendMalformed, fmt.Errorf("decode response: %w", err))
		}
		return nil
	})

	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fail(0, apperrors.CodeBackendNetwork, err)
	}
	if err != nil {
		c.log.Debug("Backend call failed",
			"op", cl.op,
			"conversation_id", cl.conversationID,
			"request_id", requestID,
			"error", err,
		)
	}
	return err
}

// decodeBackendError extracts the error envelope written by the service
func decodeBackendError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var env apperrors.Envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		if env.Error.RequestID != "" {
			return fmt.Errorf("backend %s: %s (request %s)", env.Error.Code, env.Error.Message, env.Error.RequestID)
		}
		return fmt.Errorf("backend %s: %s", env.Error.Code, env.Error.Message)
	}
	if len(raw) > 0 {
		return fmt.Errorf("backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return fmt.Errorf("backend status %d", resp.StatusCode)
}
