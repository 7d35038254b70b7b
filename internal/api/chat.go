package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
	"github.com/Alroma79/data-flywheel-chatbot/internal/llm"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Stream    bool   `json:"stream"`
}

// chatResponse carries knowledge_sources only when retrieval found
// something; an empty search leaves the key off the wire entirely.
type chatResponse struct {
	Reply     string      `json:"reply"`
	SessionID string      `json:"session_id"`
	Sources   []sourceRef `json:"knowledge_sources,omitempty"`
}

// sourceRef cites one knowledge source, with the relevance score rounded to
// two decimals for the wire.
type sourceRef struct {
	Filename       string  `json:"filename"`
	FileID         int64   `json:"file_id"`
	RelevanceScore float64 `json:"relevance_score"`
}

// streamFrame is one SSE data envelope. Reply is cumulative so a client can
// render each frame as the full text so far, and every frame repeats the
// knowledge sources so clients may join a stream mid-way.
type streamFrame struct {
	Reply     string      `json:"reply,omitempty"`
	SessionID string      `json:"session_id"`
	Sources   []sourceRef `json:"knowledge_sources,omitempty"`
	Error     string      `json:"error,omitempty"`
	Details   string      `json:"details,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	svcReq := chat.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	}

	if req.Stream {
		s.streamChat(w, r, svcReq)
		return
	}

	resp, err := s.service.Chat(r.Context(), svcReq)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:     resp.Reply,
		SessionID: resp.SessionID,
		Sources:   sourceRefs(resp.Sources),
	})
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req chat.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	// Pipeline errors before the first token still map to plain statuses.
	session, err := s.service.ChatStream(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sources := sourceRefs(session.Sources)
	var acc strings.Builder

	for ev := range session.Events {
		switch ev.Kind {
		case llm.EventToken:
			acc.WriteString(ev.Token)
			writeSSE(w, flusher, streamFrame{
				Reply:     acc.String(),
				SessionID: session.SessionID,
				Sources:   sources,
			})
		case llm.EventCompleted:
			// A reply can complete without token frames, e.g. when the
			// upstream buffers. Emit the full text so the client never
			// finishes short; otherwise the stream just ends.
			if acc.String() != ev.Reply.Content {
				writeSSE(w, flusher, streamFrame{
					Reply:     ev.Reply.Content,
					SessionID: session.SessionID,
					Sources:   sources,
				})
			}
			return
		case llm.EventFailed:
			frame := streamFrame{
				SessionID: session.SessionID,
				Error:     "generation failed",
			}
			if s.debug && ev.Err != nil {
				frame.Details = ev.Err.Error()
			}
			writeSSE(w, flusher, frame)
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, frame streamFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to encode stream frame", "error", err)
		return
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	// session_id is optional; without it the history spans all sessions.
	sessionID := r.URL.Query().Get("session_id")

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	turns, err := s.store.ListHistory(r.Context(), sessionID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if turns == nil {
		turns = []chat.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []chat.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	deleted, err := s.store.DeleteSession(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if deleted == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sessionID,
		"deleted_turns": deleted,
	})
}

func sourceRefs(snippets []knowledge.Snippet) []sourceRef {
	if len(snippets) == 0 {
		return nil
	}
	refs := make([]sourceRef, 0, len(snippets))
	for _, sn := range snippets {
		refs = append(refs, sourceRef{
			Filename:       sn.Filename,
			FileID:         sn.FileID,
			RelevanceScore: math.Round(sn.Score*100) / 100,
		})
	}
	return refs
}
