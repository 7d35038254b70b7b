// Package store persists conversation turns, chatbot configuration,
// feedback, and knowledge-file metadata in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
)

// Schema is applied at startup. Idempotent by construction.
const Schema = `
CREATE TABLE IF NOT EXISTS chat_turns (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	user_id     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chat_turns_session ON chat_turns (session_id, id);

CREATE TABLE IF NOT EXISTS chatbot_config (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	config_json JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feedback (
	id            BIGSERIAL PRIMARY KEY,
	message       TEXT NOT NULL,
	user_feedback TEXT NOT NULL,
	comment       TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS knowledge_files (
	id           BIGSERIAL PRIMARY KEY,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size         BIGINT NOT NULL,
	sha256       TEXT NOT NULL UNIQUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) AppendTurn(ctx context.Context, t chat.Turn) (chat.Turn, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_turns (session_id, role, content, user_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		t.SessionID, string(t.Role), t.Content, t.UserID,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return chat.Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	return t, nil
}

// RecentContext returns the most recent maxPairs*2 turns of a session in
// chronological order.
func (s *Store) RecentContext(ctx context.Context, sessionID string, maxPairs int) ([]chat.Turn, error) {
	if maxPairs <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, user_id, created_at
		 FROM chat_turns
		 WHERE session_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		sessionID, maxPairs*2,
	)
	if err != nil {
		return nil, fmt.Errorf("query context: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *Store) ListHistory(ctx context.Context, sessionID string, limit int) ([]chat.Turn, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, session_id, role, content, user_id, created_at
		 FROM chat_turns
		 ORDER BY id DESC
		 LIMIT $1`
	args := []any{limit}
	if sessionID != "" {
		query = `SELECT id, session_id, role, content, user_id, created_at
		 FROM chat_turns
		 WHERE session_id = $1
		 ORDER BY id DESC
		 LIMIT $2`
		args = []any{sessionID, limit}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

func (s *Store) ListSessions(ctx context.Context) ([]chat.SessionSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, max(created_at) AS last_at
		 FROM chat_turns
		 GROUP BY session_id
		 ORDER BY last_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []chat.SessionSummary
	for rows.Next() {
		var sum chat.SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.LastAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteSession removes every turn of a session and reports how many rows
// went away.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chat_turns WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) LatestConfig(ctx context.Context) (*chat.ConfigRecord, error) {
	var (
		rec chat.ConfigRecord
		raw []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, config_json, updated_at
		 FROM chatbot_config
		 ORDER BY updated_at DESC, id DESC
		 LIMIT 1`,
	).Scan(&rec.ID, &rec.Name, &raw, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.Settings); err != nil {
		return nil, fmt.Errorf("decode config settings: %w", err)
	}
	return &rec, nil
}

func (s *Store) SaveConfig(ctx context.Context, name string, settings chat.ConfigSettings) (*chat.ConfigRecord, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encode config settings: %w", err)
	}

	rec := chat.ConfigRecord{Name: name, Settings: settings}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO chatbot_config (name, config_json)
		 VALUES ($1, $2)
		 RETURNING id, updated_at`,
		name, raw,
	).Scan(&rec.ID, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert config: %w", err)
	}
	return &rec, nil
}

func (s *Store) InsertFeedback(ctx context.Context, f chat.Feedback) (chat.Feedback, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO feedback (message, user_feedback, comment)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		f.Message, f.UserFeedback, f.Comment,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return chat.Feedback{}, fmt.Errorf("insert feedback: %w", err)
	}
	return f, nil
}

func (s *Store) ListFeedback(ctx context.Context, limit int) ([]chat.Feedback, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, message, user_feedback, comment, created_at
		 FROM feedback
		 ORDER BY id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []chat.Feedback
	for rows.Next() {
		var f chat.Feedback
		if err := rows.Scan(&f.ID, &f.Message, &f.UserFeedback, &f.Comment, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) ListKnowledgeFiles(ctx context.Context) ([]knowledge.FileRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, content_type, size, sha256, created_at
		 FROM knowledge_files
		 ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query knowledge files: %w", err)
	}
	defer rows.Close()

	var out []knowledge.FileRecord
	for rows.Next() {
		var f knowledge.FileRecord
		if err := rows.Scan(&f.ID, &f.Filename, &f.ContentType, &f.Size, &f.SHA256, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) GetKnowledgeFileBySHA(ctx context.Context, sha256 string) (*knowledge.FileRecord, error) {
	var f knowledge.FileRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, filename, content_type, size, sha256, created_at
		 FROM knowledge_files
		 WHERE sha256 = $1`,
		sha256,
	).Scan(&f.ID, &f.Filename, &f.ContentType, &f.Size, &f.SHA256, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query knowledge file: %w", err)
	}
	return &f, nil
}

func (s *Store) InsertKnowledgeFile(ctx context.Context, f knowledge.FileRecord) (knowledge.FileRecord, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO knowledge_files (filename, content_type, size, sha256)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		f.Filename, f.ContentType, f.Size, f.SHA256,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return knowledge.FileRecord{}, fmt.Errorf("insert knowledge file: %w", err)
	}
	return f, nil
}

// DeleteKnowledgeFile removes the metadata row and returns it so the caller
// can clean up the stored blob. Returns nil when the id does not exist.
func (s *Store) DeleteKnowledgeFile(ctx context.Context, id int64) (*knowledge.FileRecord, error) {
	var f knowledge.FileRecord
	err := s.pool.QueryRow(ctx,
		`DELETE FROM knowledge_files
		 WHERE id = $1
		 RETURNING id, filename, content_type, size, sha256, created_at`,
		id,
	).Scan(&f.ID, &f.Filename, &f.ContentType, &f.Size, &f.SHA256, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete knowledge file: %w", err)
	}
	return &f, nil
}

func scanTurns(rows pgx.Rows) ([]chat.Turn, error) {
	var out []chat.Turn
	for rows.Next() {
		var (
			t    chat.Turn
			role string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &t.UserID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = chat.Role(role)
		out = append(out, t)
	}
	return out, rows.Err()
}
