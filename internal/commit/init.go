package commit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
)

// InitializeFolder backfills history for a folder with pre-existing data: it
// records one commit synthesizing an add change for every current resource,
// then force-checkpoints at that commit so the folder has a baseline.
func (s *Service) InitializeFolder(ctx context.Context, folderID string, actor models.Actor) (*models.FolderCommit, error) {
	var out *models.FolderCommit
	err := s.store.Transaction(ctx, func(tx storage.Store) error {
		c, err := s.initializeFolder(ctx, tx, folderID, actor)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) initializeFolder(ctx context.Context, tx storage.Store, folderID string, actor models.Actor) (*models.FolderCommit, error) {
	folder, err := tx.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	changes, err := s.synthesizeAddChanges(ctx, tx, folder)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &models.FolderCommit{
		ID:          uuid.NewString(),
		FolderID:    folder.ID,
		ProjectID:   folder.ProjectID,
		Environment: folder.Environment,
		ActorType:   actor.Type,
		ActorMetadata: map[string]string{
			"id":   actor.ID,
			"name": actor.Name,
		},
		Message:   "folder initialization",
		CreatedAt: now,
	}
	if err := tx.CreateFolderCommit(ctx, c); err != nil {
		return nil, err
	}

	rows := make([]models.FolderCommitChange, 0, len(changes))
	for _, ch := range changes {
		rows = append(rows, models.FolderCommitChange{
			ID:              uuid.NewString(),
			FolderCommitID:  c.ID,
			ChangeType:      models.ChangeAdd,
			SecretVersionID: ch.SecretVersionID,
			FolderVersionID: ch.FolderVersionID,
			CreatedAt:       now,
		})
	}
	if err := tx.InsertCommitChanges(ctx, rows); err != nil {
		return nil, err
	}

	if _, err := s.createCheckpoint(ctx, tx, folder.ID, &c.ID, true); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("folder_id", folder.ID).
		Int64("commit_id", c.CommitID).
		Int("resources", len(rows)).
		Msg("folder history initialized")
	return c, nil
}

// synthesizeAddChanges builds add changes for every current resource of the
// folder. Child folders that predate version tracking get a version row
// created on the spot, which is why parents must initialize before children.
func (s *Service) synthesizeAddChanges(ctx context.Context, tx storage.Store, folder *models.Folder) ([]Change, error) {
	children, err := tx.ListFoldersByParent(ctx, folder.ID)
	if err != nil {
		return nil, err
	}
	childIDs := make([]string, 0, len(children))
	for _, f := range children {
		childIDs = append(childIDs, f.ID)
	}
	folderVersions, err := tx.LatestFolderVersions(ctx, childIDs)
	if err != nil {
		return nil, err
	}

	var changes []Change
	for _, child := range children {
		fv, ok := folderVersions[child.ID]
		if !ok {
			fv = &models.FolderVersion{
				ID:        uuid.NewString(),
				FolderID:  child.ID,
				Version:   child.Version,
				Name:      child.Name,
				CreatedAt: time.Now().UTC(),
			}
			if err := tx.CreateFolderVersion(ctx, fv); err != nil {
				return nil, err
			}
		}
		id := fv.ID
		changes = append(changes, Change{Type: models.ChangeAdd, FolderVersionID: &id})
	}

	secretVersions, err := tx.LatestSecretVersionsByFolder(ctx, folder.ID)
	if err != nil {
		return nil, err
	}
	for i := range secretVersions {
		id := secretVersions[i].ID
		changes = append(changes, Change{Type: models.ChangeAdd, SecretVersionID: &id})
	}
	return changes, nil
}

// InitializeProject backfills history for every folder of every environment
// in the project, parents before children, then force-checkpoints each
// environment's tree.
func (s *Service) InitializeProject(ctx context.Context, projectID string, actor models.Actor) error {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	envs, err := s.store.ListProjectEnvironments(ctx, projectID)
	if err != nil {
		return err
	}

	for _, env := range envs {
		err := s.store.Transaction(ctx, func(tx storage.Store) error {
			folders, err := tx.ListFoldersByEnv(ctx, projectID, env)
			if err != nil {
				return err
			}
			for _, f := range SortFoldersByHierarchy(folders) {
				if _, err := s.initializeFolder(ctx, tx, f.ID, actor); err != nil {
					return err
				}
			}
			_, err = s.createTreeCheckpoint(ctx, tx, projectID, env, true)
			return err
		})
		if err != nil {
			return err
		}
	}
	s.log.Info().Str("project_id", projectID).Int("environments", len(envs)).Msg("project history initialized")
	return nil
}
