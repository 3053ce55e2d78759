package commit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
)

// CreateTreeCheckpoint snapshots, for one project environment, every
// folder's latest commit. Unless forced it applies the tree checkpoint
// window the same way folder checkpoints apply theirs. A nil result with a
// nil error means the call was skipped.
func (s *Service) CreateTreeCheckpoint(ctx context.Context, projectID, environment string, force bool) (*models.FolderTreeCheckpoint, error) {
	var out *models.FolderTreeCheckpoint
	err := s.store.Transaction(ctx, func(tx storage.Store) error {
		tc, err := s.createTreeCheckpoint(ctx, tx, projectID, environment, force)
		if err != nil {
			return err
		}
		out = tc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) createTreeCheckpoint(ctx context.Context, tx storage.Store, projectID, environment string, force bool) (*models.FolderTreeCheckpoint, error) {
	head, err := tx.LatestEnvCommit(ctx, projectID, environment)
	if err != nil {
		return nil, err
	}
	if head == nil {
		if !force {
			return nil, nil
		}
		return nil, apperr.BadRequest("environment %s of project %s has no commits to checkpoint", environment, projectID)
	}

	if !force {
		latest, err := tx.LatestTreeCheckpoint(ctx, projectID, environment)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, nil
		}
		ref, err := tx.GetFolderCommit(ctx, latest.FolderCommitID)
		if err != nil {
			return nil, err
		}
		since, err := tx.CountEnvCommitsSince(ctx, projectID, environment, ref.CommitID)
		if err != nil {
			return nil, err
		}
		if since < s.cfg.TreeCheckpointWindow {
			return nil, nil
		}
	}

	folders, err := tx.ListFoldersByEnv(ctx, projectID, environment)
	if err != nil {
		return nil, err
	}

	tc := &models.FolderTreeCheckpoint{
		ID:             uuid.NewString(),
		FolderCommitID: head.ID,
		ProjectID:      projectID,
		Environment:    environment,
		CreatedAt:      time.Now().UTC(),
	}
	if err := tx.CreateFolderTreeCheckpoint(ctx, tc); err != nil {
		return nil, err
	}

	var rows []models.FolderTreeCheckpointResource
	for _, f := range folders {
		fc, err := tx.LatestFolderCommit(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		if fc == nil {
			continue
		}
		rows = append(rows, models.FolderTreeCheckpointResource{
			ID:                     uuid.NewString(),
			FolderTreeCheckpointID: tc.ID,
			FolderID:               f.ID,
			FolderCommitID:         fc.ID,
		})
	}
	if err := tx.InsertTreeCheckpointResources(ctx, rows); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("project_id", projectID).
		Str("environment", environment).
		Int("folders", len(rows)).
		Bool("forced", force).
		Msg("tree checkpoint created")
	return tc, nil
}

// FindNearestTreeCheckpoint returns the environment's tree checkpoint whose
// commit has the highest sequence not exceeding the target commit's, or
// (nil, nil) when the commit is unknown or none qualifies.
func (s *Service) FindNearestTreeCheckpoint(ctx context.Context, folderCommitID string) (*models.FolderTreeCheckpoint, error) {
	c, err := s.store.GetFolderCommit(ctx, folderCommitID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return s.store.NearestTreeCheckpoint(ctx, c.ProjectID, c.Environment, c.CommitID)
}
