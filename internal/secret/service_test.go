package secret

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/internal/commit"
	"github.com/org/secretplane/internal/crypto"
	"github.com/org/secretplane/internal/permission"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	orgAdmin = models.Actor{Type: models.ActorUser, ID: "u-admin", Name: "alice"}
	viewer   = models.Actor{Type: models.ActorUser, ID: "u-viewer", Name: "bob"}
)

func newTestEnv(t *testing.T) (*Service, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	root, err := crypto.GenerateRootKey()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(root)
	require.NoError(t, err)
	commits := commit.NewService(mem, commit.Config{CheckpointWindow: 5}, zerolog.Nop())
	svc := NewService(mem, permission.NewResolver(mem), sealer, commits, zerolog.Nop())

	require.NoError(t, mem.CreateMembership(context.Background(), &models.Membership{
		ID: uuid.NewString(), ActorType: orgAdmin.Type, ActorID: orgAdmin.ID,
		OrgID: "o1", Role: models.RoleAdmin, CreatedAt: time.Now().UTC(),
	}))
	return svc, mem
}

func newTestProject(t *testing.T, svc *Service, mem *storage.Memory) *models.Project {
	t.Helper()
	p, err := svc.CreateProject(context.Background(), orgAdmin, "backend", "o1", nil)
	require.NoError(t, err)
	require.NoError(t, mem.CreateMembership(context.Background(), &models.Membership{
		ID: uuid.NewString(), ActorType: viewer.Type, ActorID: viewer.ID,
		ProjectID: p.ID, OrgID: "o1", Role: models.RoleViewer, CreatedAt: time.Now().UTC(),
	}))
	return p
}

func TestCreateProject(t *testing.T) {
	svc, mem := newTestEnv(t)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, orgAdmin, "backend", "o1", nil)
	require.NoError(t, err)

	envs, err := mem.ListProjectEnvironments(ctx, p.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, DefaultEnvironments, envs)

	// Each environment's root folder exists with a baseline commit.
	for _, env := range envs {
		root, err := mem.GetRootFolder(ctx, p.ID, env)
		require.NoError(t, err)
		c, err := mem.LatestFolderCommit(ctx, root.ID)
		require.NoError(t, err)
		require.NotNil(t, c, "no baseline commit for %s", env)
	}

	// The creator is a project admin.
	m, err := mem.GetProjectMembership(ctx, orgAdmin.Type, orgAdmin.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, m.Role)
}

func TestCreateProjectRequiresOrgMembership(t *testing.T) {
	svc, _ := newTestEnv(t)
	outsider := models.Actor{Type: models.ActorUser, ID: "u-nobody"}
	_, err := svc.CreateProject(context.Background(), outsider, "x", "o1", nil)
	assert.True(t, apperr.IsUnauthorized(err))
}

// A viewer can read secrets but any mutation is rejected by the gate.
func TestViewerCannotMutate(t *testing.T) {
	svc, mem := newTestEnv(t)
	ctx := context.Background()
	p := newTestProject(t, svc, mem)

	_, err := svc.SetSecret(ctx, viewer, p.ID, "dev", "/", "DB_URL", "postgres://x")
	assert.True(t, apperr.IsForbidden(err))

	_, err = svc.CreateFolder(ctx, viewer, p.ID, "dev", "/", "api")
	assert.True(t, apperr.IsForbidden(err))

	err = svc.DeleteProject(ctx, viewer, p.ID)
	assert.True(t, apperr.IsForbidden(err))
}

func TestSecretRoundTrip(t *testing.T) {
	svc, mem := newTestEnv(t)
	ctx := context.Background()
	p := newTestProject(t, svc, mem)

	v, err := svc.SetSecret(ctx, orgAdmin, p.ID, "dev", "/", "DB_URL", "postgres://one")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)

	// Values are sealed at rest.
	versions, err := mem.LatestSecretVersionsByFolder(ctx, mustRoot(t, mem, p.ID, "dev").ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.NotContains(t, string(versions[0].EncryptedValue), "postgres://one")

	got, err := svc.GetSecret(ctx, viewer, p.ID, "dev", "/", "DB_URL")
	require.NoError(t, err)
	assert.Equal(t, "postgres://one", got.Value)

	// Update bumps the version.
	v2, err := svc.SetSecret(ctx, orgAdmin, p.ID, "dev", "/", "DB_URL", "postgres://two")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	old, err := svc.GetSecretVersion(ctx, viewer, p.ID, "dev", "/", "DB_URL", 1)
	require.NoError(t, err)
	assert.Equal(t, "postgres://one", old.Value)

	require.NoError(t, svc.DeleteSecret(ctx, orgAdmin, p.ID, "dev", "/", "DB_URL"))
	_, err = svc.GetSecret(ctx, viewer, p.ID, "dev", "/", "DB_URL")
	assert.True(t, apperr.IsNotFound(err))
}

// Every mutation lands in the folder's commit log alongside its writes.
func TestMutationsRecordCommits(t *testing.T) {
	svc, mem := newTestEnv(t)
	ctx := context.Background()
	p := newTestProject(t, svc, mem)
	root := mustRoot(t, mem, p.ID, "dev")

	baseline, err := mem.LatestFolderCommit(ctx, root.ID)
	require.NoError(t, err)

	_, err = svc.SetSecret(ctx, orgAdmin, p.ID, "dev", "/", "TOKEN", "t1")
	require.NoError(t, err)

	c, err := mem.LatestFolderCommit(ctx, root.ID)
	require.NoError(t, err)
	assert.Greater(t, c.CommitID, baseline.CommitID)
	assert.Equal(t, "secret TOKEN created", c.Message)

	changes, err := mem.ListCommitChanges(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeAdd, changes[0].ChangeType)
	assert.Equal(t, "TOKEN", changes[0].SecretKey)
}

func TestFolderLifecycle(t *testing.T) {
	svc, mem := newTestEnv(t)
	ctx := context.Background()
	p := newTestProject(t, svc, mem)

	api, err := svc.CreateFolder(ctx, orgAdmin, p.ID, "dev", "/", "api")
	require.NoError(t, err)

	_, err = svc.CreateFolder(ctx, orgAdmin, p.ID, "dev", "/api", "auth")
	require.NoError(t, err)

	// Secrets resolve through nested paths.
	_, err = svc.SetSecret(ctx, orgAdmin, p.ID, "dev", "/api/auth", "JWT_KEY", "k")
	require.NoError(t, err)
	got, err := svc.GetSecret(ctx, viewer, p.ID, "dev", "/api/auth", "JWT_KEY")
	require.NoError(t, err)
	assert.Equal(t, "k", got.Value)

	// Duplicate sibling names are rejected.
	_, err = svc.CreateFolder(ctx, orgAdmin, p.ID, "dev", "/", "api")
	assert.True(t, apperr.IsBadRequest(err))

	renamed, err := svc.RenameFolder(ctx, orgAdmin, p.ID, "dev", "/api", "services")
	require.NoError(t, err)
	assert.Equal(t, 2, renamed.Version)
	assert.Equal(t, api.ID, renamed.ID)

	_, err = svc.GetSecret(ctx, viewer, p.ID, "dev", "/services/auth", "JWT_KEY")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteFolder(ctx, orgAdmin, p.ID, "dev", "/services/auth"))
	_, err = svc.GetSecret(ctx, viewer, p.ID, "dev", "/services/auth", "JWT_KEY")
	assert.True(t, apperr.IsNotFound(err))
}

func TestRootFolderProtected(t *testing.T) {
	svc, mem := newTestEnv(t)
	ctx := context.Background()
	p := newTestProject(t, svc, mem)

	err := svc.DeleteFolder(ctx, orgAdmin, p.ID, "dev", "/")
	assert.True(t, apperr.IsBadRequest(err))
	_, err = svc.RenameFolder(ctx, orgAdmin, p.ID, "dev", "/", "other")
	assert.True(t, apperr.IsBadRequest(err))
}

func TestCommitHistoryAndRevert(t *testing.T) {
	svc, mem := newTestEnv(t)
	ctx := context.Background()
	p := newTestProject(t, svc, mem)

	_, err := svc.SetSecret(ctx, orgAdmin, p.ID, "dev", "/", "A", "one")
	require.NoError(t, err)
	_, err = svc.SetSecret(ctx, orgAdmin, p.ID, "dev", "/", "A", "two")
	require.NoError(t, err)

	commits, err := svc.ListCommits(ctx, viewer, p.ID, "dev", "/", 10, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(commits), 3) // baseline + two writes
	assert.Equal(t, "secret A updated", commits[0].Message)

	detail, err := svc.GetCommit(ctx, viewer, p.ID, commits[0].ID)
	require.NoError(t, err)
	require.Len(t, detail.Changes, 1)
	assert.Equal(t, "A", detail.Changes[0].SecretKey)

	// Viewers cannot roll back.
	_, err = svc.RevertCommit(ctx, viewer, p.ID, commits[0].ID)
	assert.True(t, apperr.IsForbidden(err))

	revert, err := svc.RevertCommit(ctx, orgAdmin, p.ID, commits[0].ID)
	require.NoError(t, err)

	state, err := svc.FolderStateAt(ctx, viewer, p.ID, revert.ID)
	require.NoError(t, err)
	require.Len(t, state, 1)
	assert.Equal(t, 1, state[0].Version, "revert restores A to version 1")
}

func TestCompareCommits(t *testing.T) {
	svc, mem := newTestEnv(t)
	ctx := context.Background()
	p := newTestProject(t, svc, mem)

	_, err := svc.SetSecret(ctx, orgAdmin, p.ID, "dev", "/", "A", "one")
	require.NoError(t, err)
	root := mustRoot(t, mem, p.ID, "dev")
	from, err := mem.LatestFolderCommit(ctx, root.ID)
	require.NoError(t, err)

	_, err = svc.SetSecret(ctx, orgAdmin, p.ID, "dev", "/", "B", "x")
	require.NoError(t, err)
	to, err := mem.LatestFolderCommit(ctx, root.ID)
	require.NoError(t, err)

	diff, err := svc.CompareCommits(ctx, viewer, p.ID, from.ID, to.ID)
	require.NoError(t, err)
	require.Len(t, diff, 1)
	assert.Equal(t, models.ChangeCreate, diff[0].ChangeType)
}

func TestCommitHiddenAcrossProjects(t *testing.T) {
	svc, mem := newTestEnv(t)
	ctx := context.Background()
	p := newTestProject(t, svc, mem)
	other, err := svc.CreateProject(ctx, orgAdmin, "other", "o1", nil)
	require.NoError(t, err)

	_, err = svc.SetSecret(ctx, orgAdmin, p.ID, "dev", "/", "A", "one")
	require.NoError(t, err)
	root := mustRoot(t, mem, p.ID, "dev")
	c, err := mem.LatestFolderCommit(ctx, root.ID)
	require.NoError(t, err)

	// Naming the wrong project does not leak another project's history.
	_, err = svc.GetCommit(ctx, orgAdmin, other.ID, c.ID)
	assert.True(t, apperr.IsForbidden(err))
}

func TestForcedCheckpoint(t *testing.T) {
	svc, mem := newTestEnv(t)
	ctx := context.Background()
	p := newTestProject(t, svc, mem)

	_, err := svc.SetSecret(ctx, orgAdmin, p.ID, "dev", "/", "A", "one")
	require.NoError(t, err)

	cp, err := svc.CreateCheckpoint(ctx, orgAdmin, p.ID, "dev", "/")
	require.NoError(t, err)
	require.NotNil(t, cp)

	cps, err := svc.ListCheckpoints(ctx, viewer, p.ID, "dev", "/")
	require.NoError(t, err)
	assert.NotEmpty(t, cps)
}

func mustRoot(t *testing.T, mem *storage.Memory, projectID, env string) *models.Folder {
	t.Helper()
	root, err := mem.GetRootFolder(context.Background(), projectID, env)
	require.NoError(t, err)
	return root
}
