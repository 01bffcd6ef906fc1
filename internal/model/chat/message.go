package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one the store accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Attachment is a binary payload carried with a message, base64-encoded for
// transport. Immutable once attached.
type Attachment struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Message is one turn in a session. Text grows in place while an assistant
// message is streaming; Thought collects reasoning spans separated out of the
// same stream.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Text        string       `json:"text"`
	Thought     string       `json:"thought,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	Streaming   bool         `json:"streaming,omitempty"`
}

// NewUserMessage builds a user turn with a fresh id.
func NewUserMessage(text string, attachments []Attachment) Message {
	return Message{
		ID:          uuid.NewString(),
		Role:        RoleUser,
		Text:        text,
		Attachments: append([]Attachment(nil), attachments...),
		CreatedAt:   time.Now().UTC(),
	}
}

// NewPlaceholder builds the empty assistant message appended before the first
// fragment arrives, so consumers have an immediate anchor.
func NewPlaceholder() Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		CreatedAt: time.Now().UTC(),
		Streaming: true,
	}
}

// MessagePatch carries a partial update applied to an existing message.
// Nil fields are left untouched.
type MessagePatch struct {
	Text      *string
	Thought   *string
	Streaming *bool
}
