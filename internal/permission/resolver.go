package permission

import (
	"context"

	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/pkg/models"
)

// MembershipStore is the minimal interface the Resolver needs from storage.
type MembershipStore interface {
	GetProjectMembership(ctx context.Context, actorType models.ActorType, actorID, projectID string) (*models.Membership, error)
	GetOrgMembership(ctx context.Context, actorType models.ActorType, actorID, orgID string) (*models.Membership, error)
	GetCustomRole(ctx context.Context, id string) (*models.CustomRole, error)
}

// Resolver turns an actor plus a scope into an evaluable Permission. Every
// check re-resolves from the persisted membership, so role changes take
// effect on the next request; there is no decision cache to go stale.
type Resolver struct {
	store MembershipStore
}

// NewResolver creates a Resolver backed by the given storage.
func NewResolver(store MembershipStore) *Resolver {
	return &Resolver{store: store}
}

// GetProjectPermission resolves the actor's permission within a project.
// Resolution never partially succeeds: the result is exactly one permission
// object or an Unauthorized error.
func (r *Resolver) GetProjectPermission(ctx context.Context, actor models.Actor, projectID string) (*Permission, error) {
	switch actor.Type {
	case models.ActorUser:
		m, err := r.store.GetProjectMembership(ctx, actor.Type, actor.ID, projectID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return nil, apperr.Unauthorized("user %s has no membership in project %s", actor.ID, projectID)
			}
			return nil, err
		}
		return r.rolePermission(ctx, m, projectScope)

	case models.ActorService:
		// Legacy tokens predate RBAC: bound to one workspace, fixed grants.
		if actor.ProjectID != projectID {
			return nil, apperr.Unauthorized("service token is not bound to project %s", projectID)
		}
		return ServiceTokenPermission(), nil

	case models.ActorServiceV3, models.ActorIdentity:
		if err := CheckAgainstBlocklist(actor.IPAddress, actor.TrustedIPs); err != nil {
			return nil, err
		}
		m, err := r.store.GetProjectMembership(ctx, actor.Type, actor.ID, projectID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return nil, apperr.Unauthorized("%s %s has no membership in project %s", actor.Type, actor.ID, projectID)
			}
			return nil, err
		}
		return r.rolePermission(ctx, m, projectScope)

	default:
		return nil, apperr.Unauthorized("unknown actor type %q", actor.Type)
	}
}

// GetOrgPermission resolves the actor's permission within an organization.
// Service-token actors have no org-level grants.
func (r *Resolver) GetOrgPermission(ctx context.Context, actor models.Actor, orgID string) (*Permission, error) {
	switch actor.Type {
	case models.ActorUser, models.ActorIdentity:
		if actor.Type == models.ActorIdentity {
			if err := CheckAgainstBlocklist(actor.IPAddress, actor.TrustedIPs); err != nil {
				return nil, err
			}
		}
		m, err := r.store.GetOrgMembership(ctx, actor.Type, actor.ID, orgID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return nil, apperr.Unauthorized("%s %s has no membership in org %s", actor.Type, actor.ID, orgID)
			}
			return nil, err
		}
		return r.rolePermission(ctx, m, orgScope)
	default:
		return nil, apperr.Unauthorized("actor type %q cannot hold org permissions", actor.Type)
	}
}

type scopeKind int

const (
	projectScope scopeKind = iota
	orgScope
)

// rolePermission maps a membership row to a permission object. Built-in
// roles resolve to the shared prebuilt rule sets in O(1); custom roles are
// deserialized into a fresh permission scoped to this request, since their
// rules vary per role.
func (r *Resolver) rolePermission(ctx context.Context, m *models.Membership, kind scopeKind) (*Permission, error) {
	switch m.Role {
	case models.RoleAdmin:
		if kind == orgScope {
			return AdminOrgPermission(), nil
		}
		return AdminProjectPermission(), nil
	case models.RoleMember:
		if kind == orgScope {
			return MemberOrgPermission(), nil
		}
		return MemberProjectPermission(), nil
	case models.RoleViewer:
		if kind == orgScope {
			return nil, apperr.Unauthorized("role viewer is not valid at org scope")
		}
		return ViewerProjectPermission(), nil
	case models.RoleCustom:
		if m.CustomRoleID == nil {
			return nil, apperr.Unauthorized("membership has custom role but no role reference")
		}
		role, err := r.store.GetCustomRole(ctx, *m.CustomRoleID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return nil, apperr.Unauthorized("custom role %s not found", *m.CustomRoleID)
			}
			return nil, err
		}
		return NewPermission(role.Permissions), nil
	default:
		return nil, apperr.Unauthorized("unknown role %q", m.Role)
	}
}
