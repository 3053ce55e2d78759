package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
)

// HealthHandler handles GET /v1/sys/health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": "1.0.0",
	})
}

// AuditLogHandler handles GET /v1/projects/{projectID}/audit-log
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.authorize(r, projectID, models.ActionRead, models.SubjectAuditLogs); err != nil {
		writeAppError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	filter := storage.AuditFilter{
		ProjectID: projectID,
		Path:      r.URL.Query().Get("path"),
		Limit:     limit,
		Offset:    offset,
	}
	if sq := r.URL.Query().Get("since"); sq != "" {
		since, err := time.Parse(time.RFC3339, sq)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &since
	}

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
