package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// FolderCreateHandler handles POST /v1/projects/{projectID}/environments/{env}/folders
func (s *Server) FolderCreateHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	projectID := chi.URLParam(r, "projectID")
	env := chi.URLParam(r, "env")

	var req struct {
		ParentPath string `json:"parentPath"`
		Name       string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	f, err := s.secrets.CreateFolder(r.Context(), *actor, projectID, env, req.ParentPath, req.Name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"folder": f})
}

// FolderListHandler handles GET /v1/projects/{projectID}/environments/{env}/folders
func (s *Server) FolderListHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	folders, err := s.secrets.ListFolders(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "env"), r.URL.Query().Get("path"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

// FolderRenameHandler handles PATCH /v1/projects/{projectID}/environments/{env}/folders
func (s *Server) FolderRenameHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())

	var req struct {
		Path    string `json:"path"`
		NewName string `json:"newName"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	f, err := s.secrets.RenameFolder(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "env"), req.Path, req.NewName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folder": f})
}

// FolderDeleteHandler handles DELETE /v1/projects/{projectID}/environments/{env}/folders
func (s *Server) FolderDeleteHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	err := s.secrets.DeleteFolder(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "env"), r.URL.Query().Get("path"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
