package permission

import (
	"context"
	"testing"

	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockMembershipStore is a minimal in-memory MembershipStore for testing.
type mockMembershipStore struct {
	projectMemberships map[string]*models.Membership // actorID+projectID
	orgMemberships     map[string]*models.Membership
	customRoles        map[string]*models.CustomRole
}

func newMockMembershipStore() *mockMembershipStore {
	return &mockMembershipStore{
		projectMemberships: map[string]*models.Membership{},
		orgMemberships:     map[string]*models.Membership{},
		customRoles:        map[string]*models.CustomRole{},
	}
}

func (m *mockMembershipStore) GetProjectMembership(_ context.Context, _ models.ActorType, actorID, projectID string) (*models.Membership, error) {
	if mem, ok := m.projectMemberships[actorID+"/"+projectID]; ok {
		return mem, nil
	}
	return nil, apperr.NotFound("membership not found")
}

func (m *mockMembershipStore) GetOrgMembership(_ context.Context, _ models.ActorType, actorID, orgID string) (*models.Membership, error) {
	if mem, ok := m.orgMemberships[actorID+"/"+orgID]; ok {
		return mem, nil
	}
	return nil, apperr.NotFound("membership not found")
}

func (m *mockMembershipStore) GetCustomRole(_ context.Context, id string) (*models.CustomRole, error) {
	if role, ok := m.customRoles[id]; ok {
		return role, nil
	}
	return nil, apperr.NotFound("custom role not found")
}

func (m *mockMembershipStore) addProjectMember(actorID, projectID string, role models.Role, customRoleID *string) {
	m.projectMemberships[actorID+"/"+projectID] = &models.Membership{
		ActorType: models.ActorUser, ActorID: actorID, ProjectID: projectID,
		Role: role, CustomRoleID: customRoleID,
	}
}

func TestResolveUserWithoutMembership(t *testing.T) {
	r := NewResolver(newMockMembershipStore())
	_, err := r.GetProjectPermission(context.Background(), models.Actor{Type: models.ActorUser, ID: "u1"}, "p1")
	require.Error(t, err)
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestResolveBuiltinRoles(t *testing.T) {
	store := newMockMembershipStore()
	store.addProjectMember("u1", "p1", models.RoleAdmin, nil)
	store.addProjectMember("u2", "p1", models.RoleMember, nil)
	store.addProjectMember("u3", "p1", models.RoleViewer, nil)
	r := NewResolver(store)
	ctx := context.Background()

	admin, err := r.GetProjectPermission(ctx, models.Actor{Type: models.ActorUser, ID: "u1"}, "p1")
	require.NoError(t, err)
	assert.True(t, admin.Can(models.ActionDelete, models.SubjectRole, models.SubjectFields{}))

	member, err := r.GetProjectPermission(ctx, models.Actor{Type: models.ActorUser, ID: "u2"}, "p1")
	require.NoError(t, err)
	assert.True(t, member.Can(models.ActionCreate, models.SubjectSecrets, models.SubjectFields{}))
	assert.False(t, member.Can(models.ActionDelete, models.SubjectRole, models.SubjectFields{}))

	viewer, err := r.GetProjectPermission(ctx, models.Actor{Type: models.ActorUser, ID: "u3"}, "p1")
	require.NoError(t, err)
	assert.True(t, viewer.Can(models.ActionRead, models.SubjectSecrets, models.SubjectFields{}))
	assert.False(t, viewer.Can(models.ActionCreate, models.SubjectSecrets, models.SubjectFields{}))
}

// Two users holding the same built-in role resolve to permissions granting
// identical action/subject sets; built-ins are role-keyed, not actor-keyed.
func TestRoleEquivalence(t *testing.T) {
	store := newMockMembershipStore()
	store.addProjectMember("u1", "p1", models.RoleMember, nil)
	store.addProjectMember("u2", "p1", models.RoleMember, nil)
	r := NewResolver(store)
	ctx := context.Background()

	p1, err := r.GetProjectPermission(ctx, models.Actor{Type: models.ActorUser, ID: "u1"}, "p1")
	require.NoError(t, err)
	p2, err := r.GetProjectPermission(ctx, models.Actor{Type: models.ActorUser, ID: "u2"}, "p1")
	require.NoError(t, err)

	subjects := []models.Subject{
		models.SubjectSecrets, models.SubjectSecretFolders, models.SubjectCommits,
		models.SubjectRole, models.SubjectMember, models.SubjectServiceTokens,
	}
	actions := []models.Action{models.ActionRead, models.ActionCreate, models.ActionEdit, models.ActionDelete}
	for _, sub := range subjects {
		for _, act := range actions {
			assert.Equal(t,
				p1.Can(act, sub, models.SubjectFields{}),
				p2.Can(act, sub, models.SubjectFields{}),
				"divergent grant for %s %s", act, sub)
		}
	}
}

func TestResolveCustomRole(t *testing.T) {
	store := newMockMembershipStore()
	roleID := "cr1"
	store.customRoles[roleID] = &models.CustomRole{
		ID:   roleID,
		Slug: "prod-reader",
		Permissions: []models.Rule{
			{
				Action:  models.ActionRead,
				Subject: models.SubjectSecrets,
				Conditions: map[string]models.Condition{
					"secretPath": {Glob: "/prod/*"},
				},
			},
		},
	}
	store.addProjectMember("u1", "p1", models.RoleCustom, &roleID)
	r := NewResolver(store)

	perm, err := r.GetProjectPermission(context.Background(), models.Actor{Type: models.ActorUser, ID: "u1"}, "p1")
	require.NoError(t, err)
	assert.True(t, perm.Can(models.ActionRead, models.SubjectSecrets, models.SubjectFields{SecretPath: "/prod/db", Environment: "x"}))
	assert.False(t, perm.Can(models.ActionRead, models.SubjectSecrets, models.SubjectFields{SecretPath: "/dev/db"}))
}

func TestResolveCustomRoleMissing(t *testing.T) {
	store := newMockMembershipStore()
	roleID := "ghost"
	store.addProjectMember("u1", "p1", models.RoleCustom, &roleID)
	r := NewResolver(store)

	_, err := r.GetProjectPermission(context.Background(), models.Actor{Type: models.ActorUser, ID: "u1"}, "p1")
	require.Error(t, err)
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestResolveLegacyServiceToken(t *testing.T) {
	r := NewResolver(newMockMembershipStore())
	ctx := context.Background()

	// Bound workspace matches: fixed viewer-equivalent grants, no RBAC lookup.
	perm, err := r.GetProjectPermission(ctx, models.Actor{Type: models.ActorService, ID: "st1", ProjectID: "p1"}, "p1")
	require.NoError(t, err)
	assert.True(t, perm.Can(models.ActionRead, models.SubjectSecrets, models.SubjectFields{}))
	assert.False(t, perm.Can(models.ActionCreate, models.SubjectSecrets, models.SubjectFields{}))

	// Bound workspace differs from the requested scope.
	_, err = r.GetProjectPermission(ctx, models.Actor{Type: models.ActorService, ID: "st1", ProjectID: "p1"}, "p2")
	require.Error(t, err)
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestResolveScopedTokenTrustedIP(t *testing.T) {
	store := newMockMembershipStore()
	store.projectMemberships["st1/p1"] = &models.Membership{
		ActorType: models.ActorServiceV3, ActorID: "st1", ProjectID: "p1", Role: models.RoleMember,
	}
	r := NewResolver(store)
	ctx := context.Background()
	prefix := 24
	trusted := []models.TrustedIP{{IPAddress: "10.0.0.0", Type: models.IPv4, Prefix: &prefix}}

	perm, err := r.GetProjectPermission(ctx, models.Actor{
		Type: models.ActorServiceV3, ID: "st1", IPAddress: "10.0.0.5", TrustedIPs: trusted,
	}, "p1")
	require.NoError(t, err)
	assert.True(t, perm.Can(models.ActionRead, models.SubjectSecrets, models.SubjectFields{}))

	_, err = r.GetProjectPermission(ctx, models.Actor{
		Type: models.ActorServiceV3, ID: "st1", IPAddress: "10.0.1.5", TrustedIPs: trusted,
	}, "p1")
	require.Error(t, err)
	assert.True(t, apperr.IsUnauthorized(err))
}
