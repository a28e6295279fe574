// Package operations is the single entry point UI code uses to change the
// conversation: it applies optimistic local state, persists through the
// backend, invalidates cached queries and reports failures as notifications.
package operations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"actionit/backend/chat/notify"
	"actionit/backend/chat/querycache"
	"actionit/backend/chat/store"
	"actionit/backend/conversation/models"
	"actionit/backend/pkg/logger"
	"actionit/backend/shared/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// User-facing notification texts. Backend error text is never shown.
const (
	TitleError         = "Error"
	TitleCleared       = "Messages cleared"
	DescSaveFailed     = "Failed to save message"
	DescClearFailed    = "Failed to clear messages"
	DescClearSucceeded = "All messages in this conversation have been deleted."
)

// ErrUnknownMessage is returned for ids not present in the local sequence
var ErrUnknownMessage = errors.New("message not found in local sequence")

// Backend persists messages
type Backend interface {
	SendMessage(ctx context.Context, conversationID, content string, sender models.Sender, messageID string) (models.Message, error)
	DeleteConversationMessages(ctx context.Context, conversationID string) error
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// QueryCache is the shared query cache the façade invalidates after mutations
type QueryCache interface {
	Invalidate(key querycache.Key)
	Get(ctx context.Context, key querycache.Key, fetch querycache.FetchFunc) (any, error)
}

type Operations struct {
	backend  Backend
	store    *store.Store
	cache    QueryCache
	notifier notify.Notifier
	log      *logger.Logger
	tracer   trace.Tracer

	mu     sync.RWMutex
	active string

	now   func() time.Time
	newID func() string
}

func New(backend Backend, st *store.Store, cache QueryCache, notifier notify.Notifier, log *logger.Logger) *Operations {
	if log == nil {
		log = logger.Discard()
	}
	return &Operations{
		backend:  backend,
		store:    st,
		cache:    cache,
		notifier: notifier,
		log:      log.WithComponent("operations"),
		tracer:   observability.Tracer("chat/operations"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

type saveOptions struct {
	messageID      string
	conversationID string
}

type Option func(*saveOptions)

// WithMessageID passes the client-generated id through to the backend. The
// local entry stored under that id is reconciled with the canonical record.
func WithMessageID(id string) Option {
	return func(o *saveOptions) { o.messageID = id }
}

// WithConversationID targets a conversation other than the active one
func WithConversationID(id string) Option {
	return func(o *saveOptions) { o.conversationID = id }
}

func collect(opts []Option) saveOptions {
	var so saveOptions
	for _, opt := range opts {
		opt(&so)
	}
	return so
}

// SetActiveConversation switches the active conversation. Switching evicts
// the local sequence.
func (o *Operations) SetActiveConversation(id string) {
	o.mu.Lock()
	changed := o.active != id
	o.active = id
	o.mu.Unlock()

	if changed {
		o.store.Clear()
		o.log.Debug("Active conversation changed", "conversation_id", id)
	}
}

func (o *Operations) ActiveConversation() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active
}

// resolve picks the explicit conversation over the active one
func (o *Operations) resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return o.ActiveConversation()
}

// AddLocalMessage appends msg to the local sequence. A missing id or
// timestamp is filled in.
func (o *Operations) AddLocalMessage(msg models.Message) models.Message {
	if msg.ID == "" {
		msg.ID = o.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = o.now().UTC()
	}
	return o.store.AddLocal(msg)
}

// SaveMessage persists one message. It returns (nil, nil) when there is no
// conversation to save into. On failure it emits one destructive
// notification and returns the cause; the local sequence is left as it was.
func (o *Operations) SaveMessage(ctx context.Context, content string, sender models.Sender, opts ...Option) (*models.Message, error) {
	so := collect(opts)
	conversationID := o.resolve(so.conversationID)
	if conversationID == "" {
		o.log.Debug("No conversation to save into, skipping")
		return nil, nil
	}

	ctx, span := o.tracer.Start(ctx, "Operations.SaveMessage", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("message.sender", string(sender)),
	))
	defer span.End()

	saved, err := o.backend.SendMessage(ctx, conversationID, content, sender, so.messageID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, DescSaveFailed)
		observability.MessageSaveFailures.WithLabelValues("client").Inc()

		o.log.LogError(err, "Failed to save message",
			"conversation_id", conversationID,
			"sender", string(sender),
			"client_id", so.messageID,
		)
		o.notifier.Publish(notify.Notification{
			Title:       TitleError,
			Description: DescSaveFailed,
			Variant:     notify.VariantDestructive,
		})
		return nil, err
	}

	o.cache.Invalidate(querycache.MessagesKey(conversationID))
	observability.MessagesSaved.WithLabelValues("client").Inc()

	if so.messageID != "" {
		o.reconcile(so.messageID, saved)
	}
	return &saved, nil
}

// reconcile swaps the optimistic entry known under clientID for the
// canonical record.
func (o *Operations) reconcile(clientID string, canonical models.Message) {
	local, ok := o.store.FindByClientID(clientID)
	if !ok {
		return
	}
	canonical.IsOptimistic = false
	if canonical.ClientID == "" {
		canonical.ClientID = clientID
	}
	canonical.RetryCount = local.RetryCount
	if local.Status == models.StatusStreaming || local.Status == models.StatusComplete {
		canonical.Status = models.StatusComplete
	}
	o.store.Replace(local.ID, canonical)
}

// ClearMessages deletes every message of the conversation. Success empties
// the local sequence, failure leaves it untouched. Both outcomes are
// reported as notifications.
func (o *Operations) ClearMessages(ctx context.Context, opts ...Option) error {
	so := collect(opts)
	conversationID := o.resolve(so.conversationID)
	if conversationID == "" {
		o.log.Debug("No conversation to clear, skipping")
		return nil
	}

	ctx, span := o.tracer.Start(ctx, "Operations.ClearMessages", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
	))
	defer span.End()

	if err := o.backend.DeleteConversationMessages(ctx, conversationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, DescClearFailed)
		observability.MessagesCleared.WithLabelValues("client", "error").Inc()

		o.log.LogError(err, "Failed to clear messages", "conversation_id", conversationID)
		o.notifier.Publish(notify.Notification{
			Title:       TitleError,
			Description: DescClearFailed,
			Variant:     notify.VariantDestructive,
		})
		return err
	}

	active := o.ActiveConversation()
	if active == "" || active == conversationID {
		o.store.Clear()
	} else {
		o.dropConversation(conversationID)
	}
	o.cache.Invalidate(querycache.MessagesKey(conversationID))
	observability.MessagesCleared.WithLabelValues("client", "ok").Inc()

	o.notifier.Publish(notify.Notification{
		Title:       TitleCleared,
		Description: DescClearSucceeded,
		Variant:     notify.VariantDefault,
	})
	return nil
}

// dropConversation removes local entries of a conversation that is not active
func (o *Operations) dropConversation(conversationID string) {
	for _, m := range o.store.Snapshot() {
		if m.ConversationID == conversationID {
			o.store.Remove(m.ID)
		}
	}
}

// Send adds an optimistic user message and persists it. On failure the
// local entry is marked error and stays in place for a later Resubmit.
func (o *Operations) Send(ctx context.Context, content string, sender models.Sender) (*models.Message, error) {
	conversationID := o.ActiveConversation()
	if conversationID == "" {
		return nil, nil
	}

	id := o.newID()
	o.AddLocalMessage(models.Message{
		ID:             id,
		ClientID:       id,
		Content:        content,
		Sender:         sender,
		ConversationID: conversationID,
		Status:         models.StatusSending,
		IsOptimistic:   true,
	})

	saved, err := o.SaveMessage(ctx, content, sender, WithMessageID(id), WithConversationID(conversationID))
	if err != nil {
		o.markFailed(id)
		return nil, err
	}
	return saved, nil
}

// Resubmit retries a failed message. Retries only ever happen here, at the
// caller's request.
func (o *Operations) Resubmit(ctx context.Context, id string) (*models.Message, error) {
	local, ok := o.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	next, err := local.Resubmit()
	if err != nil {
		return nil, err
	}
	o.store.Replace(id, next)

	saved, err := o.SaveMessage(ctx, next.Content, next.Sender,
		WithMessageID(next.ReconciliationKey()),
		WithConversationID(next.ConversationID),
	)
	if err != nil {
		o.markFailed(id)
		return nil, err
	}
	if saved == nil {
		o.markFailed(id)
	}
	return saved, nil
}

func (o *Operations) markFailed(id string) {
	local, ok := o.store.Get(id)
	if !ok {
		return
	}
	next, err := local.Transition(models.StatusError)
	if err != nil {
		o.log.Debug("Message cannot be marked failed", "message_id", id, "status", string(local.Status))
		return
	}
	o.store.Replace(id, next)
}

// BeginStream adds an empty streaming message for an incremental reply
func (o *Operations) BeginStream(sender models.Sender) models.Message {
	id := o.newID()
	return o.AddLocalMessage(models.Message{
		ID:             id,
		ClientID:       id,
		Sender:         sender,
		ConversationID: o.ActiveConversation(),
		Status:         models.StatusStreaming,
		IsOptimistic:   true,
	})
}

// AppendStream appends delta to a streaming message
func (o *Operations) AppendStream(id, delta string) error {
	local, ok := o.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if local.Status != models.StatusStreaming {
		return fmt.Errorf("%w: message %s is %s", models.ErrInvalidTransition, id, local.Status)
	}
	local.Content += delta
	o.store.Replace(id, local)
	return nil
}

// CompleteStream persists a finished streaming message and marks it
// complete, or error when persistence fails.
func (o *Operations) CompleteStream(ctx context.Context, id string) (*models.Message, error) {
	local, ok := o.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if local.Status != models.StatusStreaming {
		return nil, fmt.Errorf("%w: message %s is %s", models.ErrInvalidTransition, id, local.Status)
	}

	saved, err := o.SaveMessage(ctx, local.Content, local.Sender,
		WithMessageID(local.ReconciliationKey()),
		WithConversationID(local.ConversationID),
	)
	if err != nil {
		o.markFailed(id)
		return nil, err
	}
	if saved == nil {
		// Nowhere to persist; the reply still finished locally.
		done, _ := local.Transition(models.StatusComplete)
		done.IsOptimistic = false
		o.store.Replace(id, done)
		return &done, nil
	}
	saved.Status = models.StatusComplete
	return saved, nil
}

// FailStream marks a streaming message as failed
func (o *Operations) FailStream(id string) {
	o.markFailed(id)
}

// Messages returns the local sequence
func (o *Operations) Messages() []models.Message {
	return o.store.Snapshot()
}

// Subscribe delivers the local sequence after every change
func (o *Operations) Subscribe() (<-chan []models.Message, func()) {
	return o.store.Subscribe()
}

// History reads the active conversation through the query cache, refetching
// from the backend only when the cached list was invalidated.
func (o *Operations) History(ctx context.Context) ([]models.Message, error) {
	conversationID := o.ActiveConversation()
	if conversationID == "" {
		return nil, nil
	}

	v, err := o.cache.Get(ctx, querycache.MessagesKey(conversationID), func(ctx context.Context) (any, error) {
		return o.backend.ListMessages(ctx, conversationID)
	})
	if err != nil {
		o.log.LogError(err, "Failed to load history", "conversation_id", conversationID)
		return nil, err
	}

	cached, _ := v.([]models.Message)
	out := make([]models.Message, len(cached))
	copy(out, cached)
	return out, nil
}
