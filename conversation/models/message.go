package models

import (
	"errors"
	"fmt"
	"time"
)

// Sender identifies who authored a message
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
	SenderSystem    Sender = "system"
)

// Valid reports whether s is a known sender
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAssistant, SenderSystem:
		return true
	}
	return false
}

// ParseSender converts a raw string into a Sender
func ParseSender(raw string) (Sender, error) {
	s := Sender(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown sender %q", raw)
	}
	return s, nil
}

// Status tracks the lifecycle of an in-flight or streamed message
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusError     Status = "error"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
)

// ErrInvalidTransition is returned when a status change is not allowed
var ErrInvalidTransition = errors.New("invalid message status transition")

var transitions = map[Status][]Status{
	StatusSending:   {StatusSent, StatusError},
	StatusStreaming: {StatusComplete, StatusError},
}

// CanTransition reports whether a message may move from one status to another.
// error -> sending is only reachable through Resubmit.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Message represents one turn in a conversation
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey;size:64"`
	ClientID       string    `json:"clientId,omitempty" gorm:"index;size:64"`
	ConversationID string    `json:"conversationId" gorm:"index;size:64"`
	Sender         Sender    `json:"sender" gorm:"size:16"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp" gorm:"index"`
	Status         Status    `json:"status" gorm:"size:16"`
	IsOptimistic   bool      `json:"isOptimistic" gorm:"-"`
	RetryCount     int       `json:"retryCount" gorm:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Transition returns a copy of m moved to status to
func (m Message) Transition(to Status) (Message, error) {
	if !CanTransition(m.Status, to) {
		return m, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, to)
	}
	m.Status = to
	return m, nil
}

// Resubmit moves a failed message back to sending and counts the attempt
func (m Message) Resubmit() (Message, error) {
	if m.Status != StatusError {
		return m, fmt.Errorf("%w: only failed messages can be resubmitted, got %s", ErrInvalidTransition, m.Status)
	}
	m.Status = StatusSending
	m.RetryCount++
	return m, nil
}

// Pending reports whether the message still waits for the backend
func (m Message) Pending() bool {
	return m.IsOptimistic && (m.Status == StatusSending || m.Status == StatusStreaming)
}

// ReconciliationKey is the id used to match an optimistic entry with its
// server-confirmed record.
func (m Message) ReconciliationKey() string {
	if m.ClientID != "" {
		return m.ClientID
	}
	return m.ID
}

// Conversation is the owning unit of grouping for messages
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
