package commit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, window int64) (*Service, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	svc := NewService(mem, Config{CheckpointWindow: window, TreeCheckpointWindow: 1000}, zerolog.Nop())
	return svc, mem
}

func seedFolder(t *testing.T, mem *storage.Memory, projectID, folderID string) *models.Folder {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.CreateProject(ctx, &models.Project{
		ID: projectID, Name: projectID, OrgID: "org1", CreatedAt: time.Now().UTC(),
	}))
	f := &models.Folder{
		ID: folderID, ProjectID: projectID, Environment: "dev", Name: "root",
		Version: 1, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.CreateFolder(ctx, f))
	return f
}

func seedSecret(t *testing.T, mem *storage.Memory, folderID, key string, version int) *models.SecretVersion {
	t.Helper()
	ctx := context.Background()
	s, err := mem.GetSecretByKey(ctx, folderID, key)
	if apperr.IsNotFound(err) {
		s = &models.Secret{
			ID: uuid.NewString(), FolderID: folderID, Key: key, Version: version,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
		require.NoError(t, mem.CreateSecret(ctx, s))
	} else {
		require.NoError(t, err)
		s.Version = version
		require.NoError(t, mem.UpdateSecret(ctx, s))
	}
	sv := &models.SecretVersion{
		ID: uuid.NewString(), SecretID: s.ID, FolderID: folderID,
		Version: version, Key: key, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.CreateSecretVersion(ctx, sv))
	return sv
}

func addChange(versionID string) Change {
	return Change{Type: models.ChangeAdd, SecretVersionID: &versionID}
}

var testActor = models.Actor{Type: models.ActorUser, ID: "u1", Name: "tester"}

// A first commit on a fresh folder records the commit and its change but no
// checkpoint: with no baseline there is nothing to measure the window
// against.
func TestFirstCommitCreatesNoCheckpoint(t *testing.T) {
	svc, mem := newTestService(t, 5)
	seedFolder(t, mem, "p1", "f1")
	sv := seedSecret(t, mem, "f1", "DB_URL", 1)
	ctx := context.Background()

	c, err := svc.CreateCommit(ctx, "f1", testActor, "init", []Change{addChange(sv.ID)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.CommitID)

	changes, err := mem.ListCommitChanges(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, sv.ID, *changes[0].SecretVersionID)

	cps, err := mem.ListFolderCheckpoints(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestCommitIDsStrictlyIncrease(t *testing.T) {
	svc, mem := newTestService(t, 100)
	seedFolder(t, mem, "p1", "f1")
	ctx := context.Background()

	var last int64
	for i := 1; i <= 8; i++ {
		sv := seedSecret(t, mem, "f1", "KEY", i)
		c, err := svc.CreateCommit(ctx, "f1", testActor, fmt.Sprintf("change %d", i), []Change{addChange(sv.ID)})
		require.NoError(t, err)
		assert.Greater(t, c.CommitID, last, "commit sequence must strictly increase")
		last = c.CommitID
	}
}

func TestCreateCommitUnknownFolder(t *testing.T) {
	svc, _ := newTestService(t, 5)
	_, err := svc.CreateCommit(context.Background(), "ghost", testActor, "", nil)
	assert.True(t, apperr.IsNotFound(err))
}

func TestCreateCommitRejectsMalformedChange(t *testing.T) {
	svc, mem := newTestService(t, 5)
	seedFolder(t, mem, "p1", "f1")

	_, err := svc.CreateCommit(context.Background(), "f1", testActor, "", []Change{
		{Type: models.ChangeAdd}, // neither version id set
	})
	assert.True(t, apperr.IsBadRequest(err))
}

func TestAddCommitChange(t *testing.T) {
	svc, mem := newTestService(t, 5)
	seedFolder(t, mem, "p1", "f1")
	sv := seedSecret(t, mem, "f1", "A", 1)
	ctx := context.Background()

	c, err := svc.CreateCommit(ctx, "f1", testActor, "", []Change{addChange(sv.ID)})
	require.NoError(t, err)

	sv2 := seedSecret(t, mem, "f1", "B", 1)
	_, err = svc.AddCommitChange(ctx, c.ID, addChange(sv2.ID))
	require.NoError(t, err)
	changes, err := mem.ListCommitChanges(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, changes, 2)

	_, err = svc.AddCommitChange(ctx, "ghost", addChange(sv2.ID))
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.AddCommitChange(ctx, c.ID, Change{Type: models.ChangeAdd})
	assert.True(t, apperr.IsBadRequest(err))
}

// Checkpoint window behavior: with a window of 5 and a checkpoint baseline,
// four further commits leave checkpointing a no-op; the fifth triggers a new
// checkpoint referencing the newest commit.
func TestCheckpointWindow(t *testing.T) {
	svc, mem := newTestService(t, 5)
	seedFolder(t, mem, "p1", "f1")
	ctx := context.Background()

	sv := seedSecret(t, mem, "f1", "KEY", 1)
	first, err := svc.CreateCommit(ctx, "f1", testActor, "init", []Change{addChange(sv.ID)})
	require.NoError(t, err)

	cp, err := svc.CreateFolderCheckpoint(ctx, "f1", &first.ID, true)
	require.NoError(t, err)
	require.NotNil(t, cp)

	// Four commits: still inside the window.
	for i := 2; i <= 5; i++ {
		sv := seedSecret(t, mem, "f1", "KEY", i)
		_, err := svc.CreateCommit(ctx, "f1", testActor, "", []Change{addChange(sv.ID)})
		require.NoError(t, err)
	}
	skipped, err := svc.CreateFolderCheckpoint(ctx, "f1", nil, false)
	require.NoError(t, err)
	assert.Nil(t, skipped, "checkpoint inside the window must be skipped")

	cps, err := mem.ListFolderCheckpoints(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, cps, 1)

	// Fifth commit past the baseline: the opportunistic checkpoint fires.
	sv6 := seedSecret(t, mem, "f1", "KEY", 6)
	c6, err := svc.CreateCommit(ctx, "f1", testActor, "", []Change{addChange(sv6.ID)})
	require.NoError(t, err)

	cps, err = mem.ListFolderCheckpoints(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, c6.ID, cps[0].FolderCommitID, "new checkpoint must reference the newest commit")
}

// Repeated non-forced checkpoint calls without intervening commits never
// create more than one checkpoint.
func TestCheckpointIdempotentSkip(t *testing.T) {
	svc, mem := newTestService(t, 5)
	seedFolder(t, mem, "p1", "f1")
	ctx := context.Background()

	sv := seedSecret(t, mem, "f1", "KEY", 1)
	c, err := svc.CreateCommit(ctx, "f1", testActor, "", []Change{addChange(sv.ID)})
	require.NoError(t, err)
	_, err = svc.CreateFolderCheckpoint(ctx, "f1", &c.ID, true)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		cp, err := svc.CreateFolderCheckpoint(ctx, "f1", nil, false)
		require.NoError(t, err)
		assert.Nil(t, cp)
	}
	cps, err := mem.ListFolderCheckpoints(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, cps, 1)
}

func TestCheckpointForceWithoutCommits(t *testing.T) {
	svc, mem := newTestService(t, 5)
	seedFolder(t, mem, "p1", "f1")

	_, err := svc.CreateFolderCheckpoint(context.Background(), "f1", nil, true)
	assert.True(t, apperr.IsBadRequest(err), "forced checkpoint with no commits has no target")
}

func TestCheckpointGathersDirectResources(t *testing.T) {
	svc, mem := newTestService(t, 5)
	seedFolder(t, mem, "p1", "f1")
	ctx := context.Background()

	// Two secrets directly in f1, one child folder with a version.
	seedSecret(t, mem, "f1", "A", 1)
	svA2 := seedSecret(t, mem, "f1", "A", 2)
	svB := seedSecret(t, mem, "f1", "B", 1)
	parentID := "f1"
	child := &models.Folder{
		ID: "f2", ProjectID: "p1", Environment: "dev", ParentID: &parentID,
		Name: "api", Version: 1, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.CreateFolder(ctx, child))
	fv := &models.FolderVersion{
		ID: uuid.NewString(), FolderID: "f2", Version: 1, Name: "api", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.CreateFolderVersion(ctx, fv))

	c, err := svc.CreateCommit(ctx, "f1", testActor, "", []Change{addChange(svB.ID)})
	require.NoError(t, err)
	cp, err := svc.CreateFolderCheckpoint(ctx, "f1", &c.ID, true)
	require.NoError(t, err)
	require.NotNil(t, cp)

	resources, err := mem.ListCheckpointResources(ctx, cp.ID)
	require.NoError(t, err)
	require.Len(t, resources, 3)

	var secretVersionIDs, folderVersionIDs []string
	for _, r := range resources {
		if r.SecretVersionID != nil {
			secretVersionIDs = append(secretVersionIDs, *r.SecretVersionID)
		}
		if r.FolderVersionID != nil {
			folderVersionIDs = append(folderVersionIDs, *r.FolderVersionID)
		}
	}
	assert.ElementsMatch(t, []string{svA2.ID, svB.ID}, secretVersionIDs, "latest secret versions only")
	assert.Equal(t, []string{fv.ID}, folderVersionIDs)
}

// FindNearestCheckpoint returns the checkpoint with the highest commit
// sequence not exceeding the target's, and never one from the future.
func TestFindNearestCheckpoint(t *testing.T) {
	svc, mem := newTestService(t, 100)
	seedFolder(t, mem, "p1", "f1")
	ctx := context.Background()

	var commits []*models.FolderCommit
	for i := 1; i <= 6; i++ {
		sv := seedSecret(t, mem, "f1", "KEY", i)
		c, err := svc.CreateCommit(ctx, "f1", testActor, "", []Change{addChange(sv.ID)})
		require.NoError(t, err)
		commits = append(commits, c)
	}
	cpAt2, err := svc.CreateFolderCheckpoint(ctx, "f1", &commits[1].ID, true)
	require.NoError(t, err)
	cpAt5, err := svc.CreateFolderCheckpoint(ctx, "f1", &commits[4].ID, true)
	require.NoError(t, err)

	// Target before any checkpoint.
	got, err := svc.FindNearestCheckpoint(ctx, commits[0].ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Target between the two checkpoints resolves to the earlier one.
	got, err = svc.FindNearestCheckpoint(ctx, commits[3].ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cpAt2.ID, got.ID)

	// Target at and after the later checkpoint resolves to it.
	for _, c := range commits[4:] {
		got, err = svc.FindNearestCheckpoint(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, cpAt5.ID, got.ID)

		seq, err := mem.CheckpointCommitSeq(ctx, got.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, seq, c.CommitID)
	}
}

func TestFindNearestCheckpointUnknownCommit(t *testing.T) {
	svc, _ := newTestService(t, 5)
	got, err := svc.FindNearestCheckpoint(context.Background(), "ghost")
	require.NoError(t, err, "unknown commit is not an error")
	assert.Nil(t, got)
}

func TestListCommitsNewestFirst(t *testing.T) {
	svc, mem := newTestService(t, 100)
	seedFolder(t, mem, "p1", "f1")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		sv := seedSecret(t, mem, "f1", "KEY", i)
		_, err := svc.CreateCommit(ctx, "f1", testActor, "", []Change{addChange(sv.ID)})
		require.NoError(t, err)
	}
	got, err := svc.ListCommits(ctx, "f1", 3, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(5), got[0].CommitID)
	assert.Equal(t, int64(3), got[2].CommitID)

	got, err = svc.ListCommits(ctx, "f1", 3, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].CommitID)
}
