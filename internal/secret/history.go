package secret

import (
	"context"

	"github.com/org/secretplane/internal/permission"
	"github.com/org/secretplane/pkg/models"
)

// CommitDetail is a commit joined with its recorded changes.
type CommitDetail struct {
	Commit  models.FolderCommit         `json:"commit"`
	Changes []models.CommitChangeDetail `json:"changes"`
}

// ListCommits returns a folder's commit history, newest first.
func (s *Service) ListCommits(ctx context.Context, actor models.Actor, projectID, environment, path string, limit, offset int) ([]models.FolderCommit, error) {
	folder, err := s.authorizeHistory(ctx, actor, projectID, environment, path, models.ActionRead, models.SubjectCommits)
	if err != nil {
		return nil, err
	}
	return s.commits.ListCommits(ctx, folder.ID, limit, offset)
}

// GetCommit returns one commit with its changes.
func (s *Service) GetCommit(ctx context.Context, actor models.Actor, projectID, commitID string) (*CommitDetail, error) {
	c, changes, err := s.commits.GetCommit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeCommit(ctx, actor, projectID, c, models.ActionRead, models.SubjectCommits); err != nil {
		return nil, err
	}
	return &CommitDetail{Commit: *c, Changes: changes}, nil
}

// FolderStateAt reconstructs the folder's full resource state as of a commit.
func (s *Service) FolderStateAt(ctx context.Context, actor models.Actor, projectID, commitID string) ([]models.ResourceState, error) {
	c, _, err := s.commits.GetCommit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeCommit(ctx, actor, projectID, c, models.ActionRead, models.SubjectCommits); err != nil {
		return nil, err
	}
	state, err := s.commits.ReconstructFolderState(ctx, commitID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ResourceState, 0, len(state))
	for _, r := range state {
		out = append(out, r)
	}
	return out, nil
}

// CompareCommits diffs the folder state between two commits.
func (s *Service) CompareCommits(ctx context.Context, actor models.Actor, projectID, fromCommitID, toCommitID string) ([]models.ResourceChange, error) {
	c, _, err := s.commits.GetCommit(ctx, fromCommitID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeCommit(ctx, actor, projectID, c, models.ActionRead, models.SubjectCommits); err != nil {
		return nil, err
	}
	return s.commits.CompareFolderStates(ctx, fromCommitID, toCommitID)
}

// RevertCommit records a new commit that undoes the named one.
func (s *Service) RevertCommit(ctx context.Context, actor models.Actor, projectID, commitID string) (*models.FolderCommit, error) {
	c, _, err := s.commits.GetCommit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeCommit(ctx, actor, projectID, c, models.ActionCreate, models.SubjectSecretRollback); err != nil {
		return nil, err
	}
	return s.commits.RevertCommit(ctx, commitID, actor)
}

// ListCheckpoints returns a folder's checkpoints, newest first.
func (s *Service) ListCheckpoints(ctx context.Context, actor models.Actor, projectID, environment, path string) ([]models.FolderCheckpoint, error) {
	folder, err := s.authorizeHistory(ctx, actor, projectID, environment, path, models.ActionRead, models.SubjectCommits)
	if err != nil {
		return nil, err
	}
	return s.commits.ListCheckpoints(ctx, folder.ID)
}

// CreateCheckpoint forces a checkpoint at the folder's latest commit.
func (s *Service) CreateCheckpoint(ctx context.Context, actor models.Actor, projectID, environment, path string) (*models.FolderCheckpoint, error) {
	folder, err := s.authorizeHistory(ctx, actor, projectID, environment, path, models.ActionCreate, models.SubjectCommits)
	if err != nil {
		return nil, err
	}
	return s.commits.CreateFolderCheckpoint(ctx, folder.ID, nil, true)
}

// authorizeHistory resolves a folder path and gates the history operation
// with the folder's environment and path as the rule's instance fields.
func (s *Service) authorizeHistory(ctx context.Context, actor models.Actor, projectID, environment, path string, action models.Action, subject models.Subject) (*models.Folder, error) {
	path = NormalizePath(path)
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	fields := models.SubjectFields{Environment: environment, SecretPath: path}
	if err := permission.Check(perm, action, subject, fields); err != nil {
		return nil, err
	}
	return resolveFolder(ctx, s.store, projectID, environment, path)
}

// authorizeCommit gates an operation on an already-loaded commit, verifying
// the commit belongs to the named project before resolving permissions.
func (s *Service) authorizeCommit(ctx context.Context, actor models.Actor, projectID string, c *models.FolderCommit, action models.Action, subject models.Subject) error {
	if c.ProjectID != projectID {
		return permission.Check(nil, action, subject, models.SubjectFields{})
	}
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return err
	}
	fields := models.SubjectFields{Environment: c.Environment}
	return permission.Check(perm, action, subject, fields)
}
