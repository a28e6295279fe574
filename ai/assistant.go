// Package ai streams assistant replies into the local conversation.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"actionit/backend/conversation/models"
	"actionit/backend/pkg/config"
	"actionit/backend/pkg/logger"
	"actionit/backend/shared/observability"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrDisabled      = errors.New("assistant is disabled")
	ErrEmptyResponse = errors.New("assistant returned no content")
)

// Conversation is the part of the message façade a streamed reply writes into
type Conversation interface {
	Messages() []models.Message
	BeginStream(sender models.Sender) models.Message
	AppendStream(id, delta string) error
	CompleteStream(ctx context.Context, id string) (*models.Message, error)
	FailStream(id string)
}

type Assistant struct {
	api          *openai.Client
	model        string
	maxTokens    int
	systemPrompt string
	log          *logger.Logger
	tracer       trace.Tracer
}

// New builds an assistant from the Assistant section of cfg
func New(cfg *config.Config, log *logger.Logger) (*Assistant, error) {
	if !cfg.Assistant.Enabled {
		return nil, ErrDisabled
	}
	if cfg.Assistant.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if log == nil {
		log = logger.Discard()
	}

	apiCfg := openai.DefaultConfig(cfg.Assistant.APIKey)
	if cfg.Assistant.BaseURL != "" {
		apiCfg.BaseURL = cfg.Assistant.BaseURL
	}

	return &Assistant{
		api:          openai.NewClientWithConfig(apiCfg),
		model:        cfg.Assistant.Model,
		maxTokens:    cfg.Assistant.MaxTokens,
		systemPrompt: cfg.Assistant.SystemPrompt,
		log:          log.WithComponent("assistant"),
		tracer:       observability.Tracer("ai/assistant"),
	}, nil
}

// Reply streams a completion for the current local sequence into conv. The
// streamed message is persisted once the stream ends and marked failed if
// the stream breaks.
func (a *Assistant) Reply(ctx context.Context, conv Conversation) (*models.Message, error) {
	ctx, span := a.tracer.Start(ctx, "Assistant.Reply", trace.WithAttributes(
		attribute.String("assistant.model", a.model),
	))
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Stream:    true,
		Messages:  a.buildMessages(conv.Messages()),
	}

	stream, err := a.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream not started")
		a.log.LogError(err, "Failed to start assistant stream", "model", a.model)
		return nil, fmt.Errorf("error starting completion stream: %w", err)
	}
	defer stream.Close()

	msg := conv.BeginStream(models.SenderAssistant)
	received := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			conv.FailStream(msg.ID)
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream broken")
			a.log.LogError(err, "Assistant stream broken", "message_id", msg.ID, "chunks", received)
			return nil, fmt.Errorf("error reading completion stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := conv.AppendStream(msg.ID, resp.Choices[0].Delta.Content); err != nil {
			// The message left the stream (cleared or finished elsewhere).
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream target gone")
			a.log.LogError(err, "Assistant stream lost its message", "message_id", msg.ID, "chunks", received)
			return nil, fmt.Errorf("error appending to stream: %w", err)
		}
		received++
	}

	if received == 0 {
		conv.FailStream(msg.ID)
		span.SetStatus(codes.Error, ErrEmptyResponse.Error())
		return nil, ErrEmptyResponse
	}

	a.log.Debug("Assistant stream finished", "message_id", msg.ID, "chunks", received)
	return conv.CompleteStream(ctx, msg.ID)
}

// buildMessages maps the local sequence onto chat roles. Failed and
// in-flight entries are left out.
func (a *Assistant) buildMessages(history []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if strings.TrimSpace(a.systemPrompt) != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.systemPrompt,
		})
	}

	for _, m := range history {
		if m.Status == models.StatusError || m.Status == models.StatusStreaming {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch m.Sender {
		case models.SenderAssistant:
			role = openai.ChatMessageRoleAssistant
		case models.SenderSystem:
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
