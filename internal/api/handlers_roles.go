package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/org/secretplane/internal/permission"
	"github.com/org/secretplane/pkg/models"
)

// authorize resolves the actor's project permission and runs the gate.
func (s *Server) authorize(r *http.Request, projectID string, action models.Action, subject models.Subject) error {
	actor := actorFromCtx(r.Context())
	perm, err := s.resolver.GetProjectPermission(r.Context(), *actor, projectID)
	if err != nil {
		return err
	}
	return permission.Check(perm, action, subject, models.SubjectFields{})
}

// RoleCreateHandler handles POST /v1/projects/{projectID}/roles
func (s *Server) RoleCreateHandler(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.authorize(r, projectID, models.ActionCreate, models.SubjectRole); err != nil {
		writeAppError(w, err)
		return
	}

	var req struct {
		Slug        string        `json:"slug"`
		Name        string        `json:"name"`
		Permissions []models.Rule `json:"permissions"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Slug == "" || len(req.Permissions) == 0 {
		writeError(w, http.StatusBadRequest, "slug and permissions are required")
		return
	}

	actor := actorFromCtx(r.Context())
	now := time.Now().UTC()
	role := &models.CustomRole{
		ID:          uuid.NewString(),
		Slug:        req.Slug,
		Name:        req.Name,
		ProjectID:   projectID,
		OrgID:       actor.OrgID,
		Permissions: req.Permissions,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateCustomRole(r.Context(), role); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"role": role})
}

// RoleListHandler handles GET /v1/projects/{projectID}/roles
func (s *Server) RoleListHandler(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.authorize(r, projectID, models.ActionRead, models.SubjectRole); err != nil {
		writeAppError(w, err)
		return
	}
	roles, err := s.store.ListCustomRoles(r.Context(), projectID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// RoleUpdateHandler handles PUT /v1/projects/{projectID}/roles/{roleID}
func (s *Server) RoleUpdateHandler(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.authorize(r, projectID, models.ActionEdit, models.SubjectRole); err != nil {
		writeAppError(w, err)
		return
	}

	role, err := s.store.GetCustomRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if role.ProjectID != projectID {
		writeError(w, http.StatusNotFound, "role not found in project")
		return
	}

	var req struct {
		Name        string        `json:"name"`
		Permissions []models.Rule `json:"permissions"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != "" {
		role.Name = req.Name
	}
	if len(req.Permissions) > 0 {
		role.Permissions = req.Permissions
	}
	role.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateCustomRole(r.Context(), role); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role})
}

// RoleDeleteHandler handles DELETE /v1/projects/{projectID}/roles/{roleID}
func (s *Server) RoleDeleteHandler(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.authorize(r, projectID, models.ActionDelete, models.SubjectRole); err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.store.DeleteCustomRole(r.Context(), chi.URLParam(r, "roleID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MembershipCreateHandler handles POST /v1/projects/{projectID}/memberships
func (s *Server) MembershipCreateHandler(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := s.authorize(r, projectID, models.ActionCreate, models.SubjectMember); err != nil {
		writeAppError(w, err)
		return
	}

	var req struct {
		ActorType models.ActorType `json:"actorType"`
		ActorID   string           `json:"actorId"`
		Role      models.Role      `json:"role"`
		RoleSlug  string           `json:"roleSlug"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actorId is required")
		return
	}
	if req.ActorType == "" {
		req.ActorType = models.ActorUser
	}

	m := &models.Membership{
		ID:        uuid.NewString(),
		ActorType: req.ActorType,
		ActorID:   req.ActorID,
		ProjectID: projectID,
		OrgID:     actorFromCtx(r.Context()).OrgID,
		Role:      req.Role,
		CreatedAt: time.Now().UTC(),
	}
	if req.Role == models.RoleCustom {
		if req.RoleSlug == "" {
			writeError(w, http.StatusBadRequest, "roleSlug is required for custom roles")
			return
		}
		role, err := s.store.GetCustomRoleBySlug(r.Context(), projectID, req.RoleSlug)
		if err != nil {
			writeAppError(w, err)
			return
		}
		m.CustomRoleID = &role.ID
	}

	if err := s.store.CreateMembership(r.Context(), m); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"membership": m})
}
