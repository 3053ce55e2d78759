package storage

import (
	"context"
	"time"

	"github.com/org/secretplane/pkg/models"
)

// Store defines the persistence interface for SecretPlane.
//
// Conventions: Get* methods return a NotFound application error when the row
// does not exist. Latest*/Nearest* methods return (nil, nil) when nothing
// qualifies, since "no row yet" is an ordinary state there, not a fault.
// Storage failures are wrapped as DatabaseError with the failing operation's
// name.
type Store interface {
	// Transaction runs fn against a transaction-scoped Store. All writes made
	// through that Store commit together or not at all. Returning an error
	// from fn rolls back and returns the same error.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context, orgID string) ([]models.Project, error)
	ListProjectEnvironments(ctx context.Context, projectID string) ([]string, error)
	DeleteProject(ctx context.Context, id string) error

	// Folders
	CreateFolder(ctx context.Context, f *models.Folder) error
	GetFolder(ctx context.Context, id string) (*models.Folder, error)
	UpdateFolder(ctx context.Context, f *models.Folder) error
	DeleteFolder(ctx context.Context, id string) error
	ListFoldersByParent(ctx context.Context, parentID string) ([]models.Folder, error)
	ListFoldersByEnv(ctx context.Context, projectID, environment string) ([]models.Folder, error)
	GetRootFolder(ctx context.Context, projectID, environment string) (*models.Folder, error)
	CreateFolderVersion(ctx context.Context, v *models.FolderVersion) error
	GetFolderVersion(ctx context.Context, id string) (*models.FolderVersion, error)
	LatestFolderVersions(ctx context.Context, folderIDs []string) (map[string]*models.FolderVersion, error)

	// Secrets
	CreateSecret(ctx context.Context, s *models.Secret) error
	GetSecret(ctx context.Context, id string) (*models.Secret, error)
	GetSecretByKey(ctx context.Context, folderID, key string) (*models.Secret, error)
	UpdateSecret(ctx context.Context, s *models.Secret) error
	DeleteSecret(ctx context.Context, id string) error
	ListSecretsByFolder(ctx context.Context, folderID string) ([]models.Secret, error)
	CreateSecretVersion(ctx context.Context, v *models.SecretVersion) error
	GetSecretVersion(ctx context.Context, id string) (*models.SecretVersion, error)
	GetSecretVersionByNumber(ctx context.Context, secretID string, version int) (*models.SecretVersion, error)
	LatestSecretVersionsByFolder(ctx context.Context, folderID string) ([]models.SecretVersion, error)

	// Folder commits
	CreateFolderCommit(ctx context.Context, c *models.FolderCommit) error
	InsertCommitChanges(ctx context.Context, changes []models.FolderCommitChange) error
	GetFolderCommit(ctx context.Context, id string) (*models.FolderCommit, error)
	GetFolderCommitBySeq(ctx context.Context, folderID string, seq int64) (*models.FolderCommit, error)
	LatestFolderCommit(ctx context.Context, folderID string) (*models.FolderCommit, error)
	LatestEnvCommit(ctx context.Context, projectID, environment string) (*models.FolderCommit, error)
	CountCommitsSince(ctx context.Context, folderID string, afterSeq int64) (int64, error)
	CountEnvCommitsSince(ctx context.Context, projectID, environment string, afterSeq int64) (int64, error)
	ListFolderCommits(ctx context.Context, folderID string, limit, offset int) ([]models.FolderCommit, error)
	ListCommitsBetween(ctx context.Context, folderID string, afterSeq, throughSeq int64) ([]models.FolderCommit, error)
	ListCommitChanges(ctx context.Context, folderCommitID string) ([]models.CommitChangeDetail, error)

	// Folder checkpoints
	CreateFolderCheckpoint(ctx context.Context, c *models.FolderCheckpoint) error
	InsertCheckpointResources(ctx context.Context, resources []models.FolderCheckpointResource) error
	LatestFolderCheckpoint(ctx context.Context, folderID string) (*models.FolderCheckpoint, error)
	NearestCheckpoint(ctx context.Context, folderID string, maxSeq int64) (*models.FolderCheckpoint, error)
	ListCheckpointResources(ctx context.Context, checkpointID string) ([]models.CheckpointResourceDetail, error)
	ListFolderCheckpoints(ctx context.Context, folderID string) ([]models.FolderCheckpoint, error)
	CheckpointCommitSeq(ctx context.Context, checkpointID string) (int64, error)

	// Folder tree checkpoints
	CreateFolderTreeCheckpoint(ctx context.Context, c *models.FolderTreeCheckpoint) error
	InsertTreeCheckpointResources(ctx context.Context, resources []models.FolderTreeCheckpointResource) error
	LatestTreeCheckpoint(ctx context.Context, projectID, environment string) (*models.FolderTreeCheckpoint, error)
	NearestTreeCheckpoint(ctx context.Context, projectID, environment string, maxSeq int64) (*models.FolderTreeCheckpoint, error)
	ListTreeCheckpointResources(ctx context.Context, treeCheckpointID string) ([]models.FolderTreeCheckpointResource, error)

	// Memberships and roles
	GetProjectMembership(ctx context.Context, actorType models.ActorType, actorID, projectID string) (*models.Membership, error)
	GetOrgMembership(ctx context.Context, actorType models.ActorType, actorID, orgID string) (*models.Membership, error)
	CreateMembership(ctx context.Context, m *models.Membership) error
	DeleteMembership(ctx context.Context, id string) error
	GetCustomRole(ctx context.Context, id string) (*models.CustomRole, error)
	GetCustomRoleBySlug(ctx context.Context, projectID, slug string) (*models.CustomRole, error)
	CreateCustomRole(ctx context.Context, r *models.CustomRole) error
	UpdateCustomRole(ctx context.Context, r *models.CustomRole) error
	DeleteCustomRole(ctx context.Context, id string) error
	ListCustomRoles(ctx context.Context, projectID string) ([]models.CustomRole, error)

	// Service tokens
	CreateServiceToken(ctx context.Context, t *models.ServiceToken, tokenHash string) error
	GetServiceTokenByHash(ctx context.Context, tokenHash string) (*models.ServiceToken, error)
	GetServiceToken(ctx context.Context, id string) (*models.ServiceToken, error)
	ListServiceTokens(ctx context.Context, projectID string) ([]models.ServiceToken, error)
	RevokeServiceToken(ctx context.Context, id string) error
	TouchServiceToken(ctx context.Context, id string, usedAt time.Time) error

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Metrics helpers
	CountSecrets(ctx context.Context) (int64, error)
	CountCommits(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	ProjectID string
	Path      string
	Since     *time.Time
	Limit     int
	Offset    int
}
