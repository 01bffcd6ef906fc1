package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is assigned to sessions until the first user message names them.
const DefaultTitle = "New Chat"

const titleRuneLimit = 30

// Session is one conversation thread: an ordered list of messages plus
// metadata. LastModified is bumped on every mutation and drives the
// most-recent-first ordering of the session list.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	LastModified time.Time `json:"lastModified"`
}

// NewSession provisions an empty session with a fresh id.
func NewSession() Session {
	return Session{
		ID:           uuid.NewString(),
		Title:        DefaultTitle,
		Messages:     []Message{},
		LastModified: time.Now().UTC(),
	}
}

// DeriveTitle produces a session title from the first user message: a bounded
// prefix with an ellipsis marker when truncated. Empty text (an
// attachment-only turn) falls back to a generic label.
func DeriveTitle(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "Image Attachment"
	}
	runes := []rune(trimmed)
	if len(runes) <= titleRuneLimit {
		return trimmed
	}
	return string(runes[:titleRuneLimit]) + "..."
}
