// Package api exposes the chat pipeline over HTTP: chat (buffered and
// streaming), history and session management, configuration, feedback, and
// knowledge file administration.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
	"github.com/Alroma79/data-flywheel-chatbot/internal/ingest"
	"github.com/Alroma79/data-flywheel-chatbot/internal/llm"
	"github.com/Alroma79/data-flywheel-chatbot/internal/store"
)

// Health reporters are optional background components that expose a gauge.
type BufferReporter interface {
	BufferLen() int
}

type Server struct {
	store    store.DataStore
	service  *chat.Service
	ingestor *ingest.Ingestor
	feed     BufferReporter
	router   chi.Router
	port     int
	appToken string
	debug    bool
}

type Options struct {
	Port     int
	AppToken string
	Debug    bool
	Feed     BufferReporter
}

func NewServer(s store.DataStore, svc *chat.Service, ing *ingest.Ingestor, opts Options) *Server {
	srv := &Server{
		store:    s,
		service:  svc,
		ingestor: ing,
		feed:     opts.Feed,
		port:     opts.Port,
		appToken: opts.AppToken,
		debug:    opts.Debug,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)

		r.Post("/chat", srv.handleChat)
		r.Get("/sessions", srv.handleListSessions)
		r.Delete("/sessions/{sessionID}", srv.handleDeleteSession)

		r.Get("/config", srv.handleGetConfig)
		r.Post("/config", srv.handleSaveConfig)

		r.Post("/feedback", srv.handlePostFeedback)
		r.Get("/feedback", srv.handleListFeedback)

		r.Post("/knowledge/files", srv.handleUploadFile)
		r.Get("/knowledge/files", srv.handleListFiles)
		r.Delete("/knowledge/files/{fileID}", srv.handleDeleteFile)

		r.Group(func(r chi.Router) {
			r.Use(srv.requireToken)
			r.Get("/chat-history", srv.handleChatHistory)
		})
	})

	srv.router = r
	return srv
}

// Handler returns the HTTP handler, for serving and for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "flywheel",
	}
	if s.feed != nil {
		body["feed_buffer"] = s.feed.BufferLen()
	}
	writeJSON(w, http.StatusOK, body)
}

// requireToken enforces bearer auth when an app token is configured. With
// no token configured the route is open, which keeps local development
// credential-free.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.appToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.appToken)) != 1 {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid or missing token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError maps pipeline errors onto status codes. Internal detail is
// only exposed in debug mode.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message must not be empty"})
	case errors.Is(err, llm.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "upstream rejected credentials"})
	case errors.Is(err, llm.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "upstream rate limit exceeded"})
	case errors.Is(err, ingest.ErrUnsupported):
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "unsupported file format"})
	case errors.Is(err, ingest.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file exceeds maximum size"})
	case errors.Is(err, ingest.ErrEmptyFile):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is empty"})
	default:
		slog.Error("request failed", "error", err)
		body := map[string]string{"error": "internal error"}
		if s.debug {
			body["details"] = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
