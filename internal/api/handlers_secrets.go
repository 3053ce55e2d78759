package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// SecretSetHandler handles POST /v1/projects/{projectID}/environments/{env}/secrets/{key}
func (s *Server) SecretSetHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())

	var req struct {
		Path  string `json:"path"`
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	v, err := s.secrets.SetSecret(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "env"), req.Path,
		chi.URLParam(r, "key"), req.Value)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secret": v})
}

// SecretGetHandler handles GET /v1/projects/{projectID}/environments/{env}/secrets/{key}
//
// ?version=N reads a historical version; the default is the current one.
func (s *Server) SecretGetHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	projectID := chi.URLParam(r, "projectID")
	env := chi.URLParam(r, "env")
	path := r.URL.Query().Get("path")
	key := chi.URLParam(r, "key")

	if vq := r.URL.Query().Get("version"); vq != "" {
		version, err := strconv.Atoi(vq)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid version")
			return
		}
		v, err := s.secrets.GetSecretVersion(r.Context(), *actor, projectID, env, path, key, version)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"secret": v})
		return
	}

	v, err := s.secrets.GetSecret(r.Context(), *actor, projectID, env, path, key)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secret": v})
}

// SecretListHandler handles GET /v1/projects/{projectID}/environments/{env}/secrets
func (s *Server) SecretListHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	values, err := s.secrets.ListSecrets(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "env"), r.URL.Query().Get("path"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": values})
}

// SecretDeleteHandler handles DELETE /v1/projects/{projectID}/environments/{env}/secrets/{key}
func (s *Server) SecretDeleteHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFromCtx(r.Context())
	err := s.secrets.DeleteSecret(r.Context(), *actor,
		chi.URLParam(r, "projectID"), chi.URLParam(r, "env"), r.URL.Query().Get("path"),
		chi.URLParam(r, "key"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
