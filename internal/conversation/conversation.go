// Package conversation persists chat threads and their messages.
//
// A conversation is bound to one document and one owner. Messages carry
// client-supplied UUIDs so that retried requests are idempotent: inserting
// the same message twice is a no-op, detected by the caller through the
// inserted count of AppendMessages.
package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrDuplicateMessage indicates a message ID that was already persisted.
	ErrDuplicateMessage = errors.New("duplicate message")
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a chat thread over one document.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	DocumentID   uuid.UUID `json:"documentId"`
	OwnerID      uuid.UUID `json:"-"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Message is one turn in a conversation.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SequenceNumber int32     `json:"sequenceNumber"`
	CreatedAt      time.Time `json:"createdAt"`
}
