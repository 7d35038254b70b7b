package store

import (
	"context"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
)

// DataStore is the persistence interface consumed by the chat service and
// the API. Concrete implementations are *Store (pgx-backed) and
// *MemoryStore (in-process, used for tests and credential-free runs).
type DataStore interface {
	// Conversation turns.
	AppendTurn(ctx context.Context, t chat.Turn) (chat.Turn, error)
	RecentContext(ctx context.Context, sessionID string, maxPairs int) ([]chat.Turn, error)
	// ListHistory returns the most recent turns, newest-first; an empty
	// sessionID spans all sessions.
	ListHistory(ctx context.Context, sessionID string, limit int) ([]chat.Turn, error)
	ListSessions(ctx context.Context) ([]chat.SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID string) (int64, error)

	// Chatbot configuration.
	LatestConfig(ctx context.Context) (*chat.ConfigRecord, error)
	SaveConfig(ctx context.Context, name string, settings chat.ConfigSettings) (*chat.ConfigRecord, error)

	// User feedback.
	InsertFeedback(ctx context.Context, f chat.Feedback) (chat.Feedback, error)
	ListFeedback(ctx context.Context, limit int) ([]chat.Feedback, error)

	// Knowledge file metadata.
	ListKnowledgeFiles(ctx context.Context) ([]knowledge.FileRecord, error)
	GetKnowledgeFileBySHA(ctx context.Context, sha256 string) (*knowledge.FileRecord, error)
	InsertKnowledgeFile(ctx context.Context, f knowledge.FileRecord) (knowledge.FileRecord, error)
	DeleteKnowledgeFile(ctx context.Context, id int64) (*knowledge.FileRecord, error)

	Close()
}
