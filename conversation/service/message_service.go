package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"actionit/backend/conversation/models"
	"actionit/backend/conversation/repository"
	"actionit/backend/conversation/ws"
	apperrors "actionit/backend/pkg/errors"
	"actionit/backend/pkg/logger"
	"actionit/backend/shared/observability"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EventPublisher receives conversation change events
type EventPublisher interface {
	Publish(event ws.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(ws.Event) {}

// CreateMessageInput carries a send request from the API layer
type CreateMessageInput struct {
	ConversationID string        `validate:"required,max=64"`
	Content        string        `validate:"required,max=32768"`
	Sender         models.Sender `validate:"required,oneof=user assistant system"`
	// MessageID is the client-generated id; it is stored as ClientID and
	// makes repeated sends of the same message idempotent.
	MessageID string `validate:"omitempty,max=64"`
}

var fieldMessages = map[string]string{
	"ConversationID": "conversation id is required",
	"Content":        "content is required and at most 32KB",
	"Sender":         "sender must be one of user, assistant, system",
	"MessageID":      "message id is too long",
}

func (in CreateMessageInput) validate() error {
	if strings.TrimSpace(in.ConversationID) == "" {
		return validationError(fieldMessages["ConversationID"])
	}
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return validationError(fieldMessages[verrs[0].Field()])
	}
	return validationError(err.Error())
}

type MessageService struct {
	repo   repository.MessageRepository
	cache  ListCache
	events EventPublisher
	log    *logger.Logger
	now    func() time.Time
}

func NewMessageService(repo repository.MessageRepository, cache ListCache, events EventPublisher, log *logger.Logger) *MessageService {
	if cache == nil {
		cache = NoopListCache{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &MessageService{
		repo:   repo,
		cache:  cache,
		events: events,
		log:    log.WithComponent("message_service"),
		now:    time.Now,
	}
}

func validationError(message string) *apperrors.AppError {
	return apperrors.NewBadRequestError(apperrors.CodeValidation, message)
}

func (s *MessageService) CreateMessage(ctx context.Context, in CreateMessageInput) (*models.Message, error) {
	ctx, span := observability.Tracer("conversation/service").Start(ctx, "MessageService.CreateMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", in.ConversationID),
		attribute.String("message.sender", string(in.Sender)),
	)

	if err := in.validate(); err != nil {
		return nil, err
	}

	log := s.log.WithConversationID(in.ConversationID)

	if in.MessageID != "" {
		existing, err := s.repo.GetByClientID(ctx, in.ConversationID, in.MessageID)
		if err == nil {
			log.Debug("Duplicate send, returning stored message", "client_id", in.MessageID, "message_id", existing.ID)
			return existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, s.fail(span, err, "Failed to look up message by client id")
		}
	}

	if err := s.repo.EnsureConversation(ctx, in.ConversationID); err != nil {
		return nil, s.fail(span, err, "Failed to ensure conversation")
	}

	now := s.now().UTC()
	message := &models.Message{
		ID:             uuid.NewString(),
		ClientID:       in.MessageID,
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		Content:        in.Content,
		Timestamp:      now,
		Status:         models.StatusSent,
		CreatedAt:      now,
	}
	if err := s.repo.Create(ctx, message); err != nil {
		observability.MessageSaveFailures.WithLabelValues("backend").Inc()
		return nil, s.fail(span, err, "Failed to create message")
	}

	s.cache.Invalidate(ctx, in.ConversationID)
	s.events.Publish(ws.Event{Type: ws.EventMessageCreated, ConversationID: in.ConversationID, Message: message})
	observability.MessagesSaved.WithLabelValues("backend").Inc()

	log.Info("Message created", "message_id", message.ID, "sender", string(message.Sender))
	return message, nil
}

// ListMessages returns the conversation's messages, served from the list
// cache when it holds a fresh copy.
func (s *MessageService) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, validationError("conversation id is required")
	}

	if cached, ok := s.cache.Get(ctx, conversationID); ok {
		return cached, nil
	}
	version, cacheable := s.cache.Version(ctx, conversationID)

	observability.CacheFetches.WithLabelValues("backend_list").Inc()
	messages, err := s.repo.GetByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperrors.NewInternalServerError(apperrors.CodeInternal, "Failed to load messages")
	}
	if messages == nil {
		messages = []models.Message{}
	}

	if cacheable {
		s.cache.Set(ctx, conversationID, version, messages)
	}
	return messages, nil
}

// ListMessagesPage bypasses the list cache and reads one page
func (s *MessageService) ListMessagesPage(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, validationError("conversation id is required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	messages, err := s.repo.GetByConversationPaginated(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, apperrors.NewInternalServerError(apperrors.CodeInternal, "Failed to load messages")
	}
	return messages, nil
}

func (s *MessageService) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	message, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFoundError(apperrors.CodeNotFound, "Message not found")
	}
	if err != nil {
		return nil, apperrors.NewInternalServerError(apperrors.CodeInternal, "Failed to load message")
	}
	return message, nil
}

// DeleteConversationMessages removes all messages of a conversation
func (s *MessageService) DeleteConversationMessages(ctx context.Context, conversationID string) (int64, error) {
	ctx, span := observability.Tracer("conversation/service").Start(ctx, "MessageService.DeleteConversationMessages")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	if strings.TrimSpace(conversationID) == "" {
		return 0, validationError("conversation id is required")
	}

	deleted, err := s.repo.DeleteByConversation(ctx, conversationID)
	if err != nil {
		observability.MessagesCleared.WithLabelValues("backend", "error").Inc()
		return 0, s.fail(span, err, "Failed to delete messages")
	}

	s.cache.Invalidate(ctx, conversationID)
	s.events.Publish(ws.Event{Type: ws.EventMessagesCleared, ConversationID: conversationID})
	observability.MessagesCleared.WithLabelValues("backend", "ok").Inc()

	s.log.WithConversationID(conversationID).Info("Conversation cleared", "deleted", deleted)
	return deleted, nil
}

// fail records err on the span and hides it behind a generic internal error
func (s *MessageService) fail(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.log.Error(msg, "error", err)
	return apperrors.NewInternalServerError(apperrors.CodeInternal, msg)
}
