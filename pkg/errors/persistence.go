package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// Persistence operations reported in PersistenceError.Op
const (
	OpSendMessage    = "send_message"
	OpDeleteMessages = "delete_messages"
	OpListMessages   = "list_messages"
)

// PersistenceError is returned by the chat API client when the backend
// create/list/delete call fails. It carries enough context for the caller
// to build a user-facing message without exposing the backend text.
type PersistenceError struct {
	Op             string
	ConversationID string
	Sender         string
	StatusCode     int
	Code           string
	Err            error
}

// Error implements the error interface
func (e *PersistenceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Op)
	if e.ConversationID != "" {
		fmt.Fprintf(&b, " conversation=%s", e.ConversationID)
	}
	if e.Sender != "" {
		fmt.Fprintf(&b, " sender=%s", e.Sender)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes the underlying cause
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same call could succeed
func (e *PersistenceError) Temporary() bool {
	if e.Code == CodeBackendNetwork {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// NewPersistenceError builds a PersistenceError for op
func NewPersistenceError(op, conversationID, sender string, statusCode int, code string, err error) *PersistenceError {
	return &PersistenceError{
		Op:             op,
		ConversationID: conversationID,
		Sender:         sender,
		StatusCode:     statusCode,
		Code:           code,
		Err:            err,
	}
}

// IsPersistence reports whether err is (or wraps) a PersistenceError
func IsPersistence(err error) bool {
	var perr *PersistenceError
	return As(err, &perr)
}
