package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/secretplane/internal/auth"
	"github.com/org/secretplane/pkg/models"
)

// TokenCreateHandler handles POST /v1/projects/{projectID}/tokens
//
// The plaintext token appears in this response and nowhere else.
func (s *Server) TokenCreateHandler(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.authorize(r, projectID, models.ActionCreate, models.SubjectServiceTokens); err != nil {
		writeAppError(w, err)
		return
	}

	var req struct {
		Name       string             `json:"name"`
		Kind       models.TokenKind   `json:"kind"`
		Role       models.Role        `json:"role"`
		TrustedIPs []models.TrustedIP `json:"trustedIps"`
		TTLSeconds int64              `json:"ttlSeconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = models.TokenKindScoped
	}

	actor := actorFromCtx(r.Context())
	token, plaintext, err := s.tokens.CreateToken(r.Context(), auth.CreateTokenInput{
		Name:       req.Name,
		Kind:       req.Kind,
		ProjectID:  projectID,
		OrgID:      actor.OrgID,
		Role:       req.Role,
		TrustedIPs: req.TrustedIPs,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     token,
		"plaintext": plaintext,
	})
}

// TokenListHandler handles GET /v1/projects/{projectID}/tokens
func (s *Server) TokenListHandler(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.authorize(r, projectID, models.ActionRead, models.SubjectServiceTokens); err != nil {
		writeAppError(w, err)
		return
	}
	tokens, err := s.tokens.ListTokens(r.Context(), projectID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

// TokenRevokeHandler handles DELETE /v1/projects/{projectID}/tokens/{tokenID}
func (s *Server) TokenRevokeHandler(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.authorize(r, projectID, models.ActionDelete, models.SubjectServiceTokens); err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.tokens.RevokeToken(r.Context(), chi.URLParam(r, "tokenID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
