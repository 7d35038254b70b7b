package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
)

// MemoryStore is a mutex-guarded in-process DataStore. It backs tests and
// runs without a DATABASE_URL; nothing survives a restart.
type MemoryStore struct {
	mu sync.Mutex

	turns      []chat.Turn
	configs    []chat.ConfigRecord
	feedback   []chat.Feedback
	files      []knowledge.FileRecord
	nextTurnID int64
	nextConfID int64
	nextFbID   int64
	nextFileID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Close() {}

func (m *MemoryStore) AppendTurn(_ context.Context, t chat.Turn) (chat.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTurnID++
	t.ID = m.nextTurnID
	t.CreatedAt = time.Now().UTC()
	m.turns = append(m.turns, t)
	return t, nil
}

func (m *MemoryStore) RecentContext(_ context.Context, sessionID string, maxPairs int) ([]chat.Turn, error) {
	if maxPairs <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var all []chat.Turn
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			all = append(all, t)
		}
	}
	if n := maxPairs * 2; len(all) > n {
		all = all[len(all)-n:]
	}
	return append([]chat.Turn(nil), all...), nil
}

func (m *MemoryStore) ListHistory(_ context.Context, sessionID string, limit int) ([]chat.Turn, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []chat.Turn
	for _, t := range m.turns {
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		matched = append(matched, t)
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	// Newest first.
	out := make([]chat.Turn, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		out = append(out, matched[i])
	}
	return out, nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]chat.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := make(map[string]time.Time)
	for _, t := range m.turns {
		if t.CreatedAt.After(last[t.SessionID]) {
			last[t.SessionID] = t.CreatedAt
		}
	}

	out := make([]chat.SessionSummary, 0, len(last))
	for id, at := range last {
		out = append(out, chat.SessionSummary{SessionID: id, LastAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAt.Equal(out[j].LastAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].LastAt.After(out[j].LastAt)
	})
	return out, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		kept    []chat.Turn
		deleted int64
	)
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	m.turns = kept
	return deleted, nil
}

func (m *MemoryStore) LatestConfig(_ context.Context) (*chat.ConfigRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.configs) == 0 {
		return nil, nil
	}
	rec := m.configs[len(m.configs)-1]
	return &rec, nil
}

func (m *MemoryStore) SaveConfig(_ context.Context, name string, settings chat.ConfigSettings) (*chat.ConfigRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextConfID++
	rec := chat.ConfigRecord{
		ID:        m.nextConfID,
		Name:      name,
		Settings:  settings,
		UpdatedAt: time.Now().UTC(),
	}
	m.configs = append(m.configs, rec)
	return &rec, nil
}

func (m *MemoryStore) InsertFeedback(_ context.Context, f chat.Feedback) (chat.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextFbID++
	f.ID = m.nextFbID
	f.CreatedAt = time.Now().UTC()
	m.feedback = append(m.feedback, f)
	return f, nil
}

func (m *MemoryStore) ListFeedback(_ context.Context, limit int) ([]chat.Feedback, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []chat.Feedback
	for i := len(m.feedback) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.feedback[i])
	}
	return out, nil
}

func (m *MemoryStore) ListKnowledgeFiles(_ context.Context) ([]knowledge.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]knowledge.FileRecord(nil), m.files...), nil
}

func (m *MemoryStore) GetKnowledgeFileBySHA(_ context.Context, sha256 string) (*knowledge.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.files {
		if f.SHA256 == sha256 {
			rec := f
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) InsertKnowledgeFile(_ context.Context, f knowledge.FileRecord) (knowledge.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextFileID++
	f.ID = m.nextFileID
	f.CreatedAt = time.Now().UTC()
	m.files = append(m.files, f)
	return f, nil
}

func (m *MemoryStore) DeleteKnowledgeFile(_ context.Context, id int64) (*knowledge.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, f := range m.files {
		if f.ID == id {
			rec := f
			m.files = append(m.files[:i], m.files[i+1:]...)
			return &rec, nil
		}
	}
	return nil, nil
}
