package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Alroma79/data-flywheel-chatbot/internal/ingest"
	"github.com/Alroma79/data-flywheel-chatbot/internal/knowledge"
)

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	// One extra MiB so an oversized upload is detected by the size check
	// instead of a parse failure.
	r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(ingest.MaxFileSize); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file field is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, err)
		return
	}

	contentType := header.Header.Get("Content-Type")
	res, err := s.ingestor.Add(r.Context(), header.Filename, contentType, data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"file":      res.File,
		"duplicate": res.Duplicate,
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.store.ListKnowledgeFiles(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if files == nil {
		files = []knowledge.FileRecord{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "fileID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file id"})
		return
	}

	rec, err := s.ingestor.Remove(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
