package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// CommitListHandler handles GET /v1/projects/{projectID}/environments/{env}/commits
func (s *Server) CommitListHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	commits, err := s.secrets.ListCommits(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "env"), r.URL.Query().Get("path"),
		limit, offset)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

// CommitGetHandler handles GET /v1/projects/{projectID}/commits/{commitID}
func (s *Server) CommitGetHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	detail, err := s.secrets.GetCommit(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "commitID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CommitStateHandler handles GET /v1/projects/{projectID}/commits/{commitID}/state
func (s *Server) CommitStateHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	state, err := s.secrets.FolderStateAt(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "commitID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": state})
}

// CommitCompareHandler handles GET /v1/projects/{projectID}/commits/compare
func (s *Server) CommitCompareHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to commit ids are required")
		return
	}

	diff, err := s.secrets.CompareCommits(r.Context(), *actor, chi.URLParam(r, "projectID"), from, to)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": diff})
}

// CommitRevertHandler handles POST /v1/projects/{projectID}/commits/{commitID}/revert
func (s *Server) CommitRevertHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	c, err := s.secrets.RevertCommit(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "commitID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"commit": c})
}

// CheckpointListHandler handles GET /v1/projects/{projectID}/environments/{env}/checkpoints
func (s *Server) CheckpointListHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	cps, err := s.secrets.ListCheckpoints(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "env"), r.URL.Query().Get("path"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": cps})
}

// CheckpointCreateHandler handles POST /v1/projects/{projectID}/environments/{env}/checkpoints
func (s *Server) CheckpointCreateHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	cp, err := s.secrets.CreateCheckpoint(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "env"), r.URL.Query().Get("path"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"checkpoint": cp})
}
