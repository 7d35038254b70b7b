package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
)

type configRequest struct {
	Name     string              `json:"name"`
	Settings chat.ConfigSettings `json:"config_json"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.LatestConfig(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no configuration found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if req.Settings.SystemPrompt == nil || strings.TrimSpace(*req.Settings.SystemPrompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "config_json.system_prompt is required"})
		return
	}
	if req.Settings.Model == nil || strings.TrimSpace(*req.Settings.Model) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "config_json.model is required"})
		return
	}
	if req.Settings.Temperature == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "config_json.temperature is required"})
		return
	}
	if *req.Settings.Temperature < 0 || *req.Settings.Temperature > 2 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "config_json.temperature must be between 0 and 2"})
		return
	}

	rec, err := s.store.SaveConfig(r.Context(), req.Name, req.Settings)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type feedbackRequest struct {
	Message      string `json:"message"`
	UserFeedback string `json:"user_feedback"`
	Comment      string `json:"comment"`
}

func (s *Server) handlePostFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	if strings.TrimSpace(req.UserFeedback) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_feedback is required"})
		return
	}

	f, err := s.store.InsertFeedback(r.Context(), chat.Feedback{
		Message:      req.Message,
		UserFeedback: req.UserFeedback,
		Comment:      req.Comment,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	items, err := s.store.ListFeedback(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if items == nil {
		items = []chat.Feedback{}
	}
	writeJSON(w, http.StatusOK, items)
}
