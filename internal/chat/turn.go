package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session's conversation history.
// Immutable once appended to the store.
type Turn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is a derived view of a session: the set of turns sharing a
// session_id, reduced to the id and its last activity.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	LastAt    time.Time `json:"last_at"`
}

// Feedback is a user rating of a chat interaction.
type Feedback struct {
	ID           int64     `json:"id"`
	Message      string    `json:"message"`
	UserFeedback string    `json:"user_feedback,omitempty"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"timestamp"`
}

// ErrEmptyMessage marks a message that is empty after sanitization.
// Surfaced to clients as a 400, never retried.
var ErrEmptyMessage = errors.New("message cannot be empty")

// MaxMessageLength bounds inbound message size in characters.
const MaxMessageLength = 4000

// Sanitize trims the input, caps it at MaxMessageLength runes, and strips
// control characters other than newline, carriage return, and tab.
func Sanitize(input string) string {
	if input == "" {
		return ""
	}

	trimmed := strings.TrimSpace(input)
	runes := []rune(trimmed)
	if len(runes) > MaxMessageLength {
		runes = runes[:MaxMessageLength]
	}

	var b strings.Builder
	b.Grow(len(runes))
	for _, r := range runes {
		if r >= 0x20 || r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EnsureSessionID returns the caller-supplied session id, or a fresh opaque
// id when none was given. Pure: no store or network involved.
func EnsureSessionID(sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return uuid.New().String()
}
