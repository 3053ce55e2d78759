package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ProjectCreateHandler handles POST /v1/projects
func (s *Server) ProjectCreateHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())

	var req struct {
		Name         string   `json:"name"`
		OrgID        string   `json:"orgId"`
		Environments []string `json:"environments"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrgID == "" {
		req.OrgID = actor.OrgID
	}

	p, err := s.secrets.CreateProject(r.Context(), *actor, req.Name, req.OrgID, req.Environments)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": p})
}

// ProjectListHandler handles GET /v1/projects
func (s *Server) ProjectListHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	orgID := r.URL.Query().Get("orgId")
	if orgID == "" {
		orgID = actor.OrgID
	}

	projects, err := s.secrets.ListProjects(r.Context(), *actor, orgID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// ProjectGetHandler handles GET /v1/projects/{projectID}
func (s *Server) ProjectGetHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	p, err := s.secrets.GetProject(r.Context(), *actor, chi.URLParam(r, "projectID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": p})
}

// ProjectDeleteHandler handles DELETE /v1/projects/{projectID}
func (s *Server) ProjectDeleteHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	if err := s.secrets.DeleteProject(r.Context(), *actor, chi.URLParam(r, "projectID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProjectInitializeHandler handles POST /v1/projects/{projectID}/initialize
func (s *Server) ProjectInitializeHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	if err := s.secrets.InitializeProject(r.Context(), *actor, chi.URLParam(r, "projectID")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"initialized": true})
}

// EnvironmentListHandler handles GET /v1/projects/{projectID}/environments
func (s *Server) EnvironmentListHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	envs, err := s.secrets.ListEnvironments(r.Context(), *actor, chi.URLParam(r, "projectID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"environments": envs})
}
