// Package testutil provides test doubles shared across packages.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore
// for testing, with per-method error injection and call counters.
type MockStore struct {
	mu sync.Mutex

	Turns    []chat.Turn
	Configs  []chat.ConfigRecord
	Feedback []chat.Feedback
	Files    []knowledge.FileRecord

	AppendTurnErr    error
	FailAppendAfter  int // fail AppendTurn calls after this many successes
	RecentContextErr error
	ListHistoryErr   error
	LatestConfigErr  error
	SaveConfigErr    error
	InsertFileErr    error

	AppendTurnCalls    int
	RecentContextCalls int
	LatestConfigCalls  int

	nextID int64
}

func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) Close() {}

func (m *MockStore) AppendTurn(_ context.Context, t chat.Turn) (chat.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendTurnCalls++
	if m.AppendTurnErr != nil {
		return chat.Turn{}, m.AppendTurnErr
	}
	if m.FailAppendAfter > 0 && m.AppendTurnCalls > m.FailAppendAfter {
		return chat.Turn{}, errors.New("append turn: store unavailable")
	}
	m.nextID++
	t.ID = m.nextID
	t.CreatedAt = time.Now().UTC()
	m.Turns = append(m.Turns, t)
	return t, nil
}

func (m *MockStore) RecentContext(_ context.Context, sessionID string, maxPairs int) ([]chat.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecentContextCalls++
	if m.RecentContextErr != nil {
		return nil, m.RecentContextErr
	}
	var out []chat.Turn
	for _, t := range m.Turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	if n := maxPairs * 2; len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (m *MockStore) ListHistory(_ context.Context, sessionID string, limit int) ([]chat.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListHistoryErr != nil {
		return nil, m.ListHistoryErr
	}
	var matched []chat.Turn
	for _, t := range m.Turns {
		if sessionID != "" && t.SessionID != sessionID {
			continue
		}
		matched = append(matched, t)
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]chat.Turn, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		out = append(out, matched[i])
	}
	return out, nil
}

func (m *MockStore) ListSessions(_ context.Context) ([]chat.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := make(map[string]time.Time)
	var order []string
	for _, t := range m.Turns {
		if _, ok := last[t.SessionID]; !ok {
			order = append(order, t.SessionID)
		}
		if t.CreatedAt.After(last[t.SessionID]) {
			last[t.SessionID] = t.CreatedAt
		}
	}
	var out []chat.SessionSummary
	for _, id := range order {
		out = append(out, chat.SessionSummary{SessionID: id, LastAt: last[id]})
	}
	return out, nil
}

func (m *MockStore) DeleteSession(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		kept    []chat.Turn
		deleted int64
	)
	for _, t := range m.Turns {
		if t.SessionID == sessionID {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	m.Turns = kept
	return deleted, nil
}

func (m *MockStore) LatestConfig(_ context.Context) (*chat.ConfigRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LatestConfigCalls++
	if m.LatestConfigErr != nil {
		return nil, m.LatestConfigErr
	}
	if len(m.Configs) == 0 {
		return nil, nil
	}
	rec := m.Configs[len(m.Configs)-1]
	return &rec, nil
}

func (m *MockStore) SaveConfig(_ context.Context, name string, settings chat.ConfigSettings) (*chat.ConfigRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveConfigErr != nil {
		return nil, m.SaveConfigErr
	}
	m.nextID++
	rec := chat.ConfigRecord{ID: m.nextID, Name: name, Settings: settings, UpdatedAt: time.Now().UTC()}
	m.Configs = append(m.Configs, rec)
	return &rec, nil
}

func (m *MockStore) InsertFeedback(_ context.Context, f chat.Feedback) (chat.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	f.ID = m.nextID
	f.CreatedAt = time.Now().UTC()
	m.Feedback = append(m.Feedback, f)
	return f, nil
}

func (m *MockStore) ListFeedback(_ context.Context, limit int) ([]chat.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Feedback
	for i := len(m.Feedback) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.Feedback[i])
	}
	return out, nil
}

func (m *MockStore) ListKnowledgeFiles(_ context.Context) ([]knowledge.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]knowledge.FileRecord(nil), m.Files...), nil
}

func (m *MockStore) GetKnowledgeFileBySHA(_ context.Context, sha256 string) (*knowledge.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Files {
		if f.SHA256 == sha256 {
			rec := f
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *MockStore) InsertKnowledgeFile(_ context.Context, f knowledge.FileRecord) (knowledge.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertFileErr != nil {
		return knowledge.FileRecord{}, m.InsertFileErr
	}
	m.nextID++
	f.ID = m.nextID
	f.CreatedAt = time.Now().UTC()
	m.Files = append(m.Files, f)
	return f, nil
}

func (m *MockStore) DeleteKnowledgeFile(_ context.Context, id int64) (*knowledge.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.Files {
		if f.ID == id {
			rec := f
			m.Files = append(m.Files[:i], m.Files[i+1:]...)
			return &rec, nil
		}
	}
	return nil, nil
}
