package secret

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/internal/commit"
	"github.com/org/secretplane/internal/permission"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
)

// NormalizePath canonicalizes a folder path: leading slash, no trailing
// slash, "/" for the root.
func NormalizePath(path string) string {
	path = "/" + strings.Trim(path, "/")
	return path
}

// splitPath returns the path's segments; the root path has none.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// resolveFolder walks a path from an environment's root folder, one segment
// per level.
func resolveFolder(ctx context.Context, st storage.Store, projectID, environment, path string) (*models.Folder, error) {
	current, err := st.GetRootFolder(ctx, projectID, environment)
	if err != nil {
		return nil, err
	}
	for _, segment := range splitPath(path) {
		children, err := st.ListFoldersByParent(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		var next *models.Folder
		for i := range children {
			if children[i].Name == segment {
				next = &children[i]
				break
			}
		}
		if next == nil {
			return nil, apperr.NotFound("folder %s in environment %s", NormalizePath(path), environment)
		}
		current = next
	}
	return current, nil
}

func validFolderName(name string) bool {
	if name == "" || name == RootFolderName {
		return false
	}
	return !strings.ContainsAny(name, "/ ")
}

// CreateFolder creates a folder under parentPath and records the addition as
// a commit on the parent.
func (s *Service) CreateFolder(ctx context.Context, actor models.Actor, projectID, environment, parentPath, name string) (*models.Folder, error) {
	parentPath = NormalizePath(parentPath)
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	fields := models.SubjectFields{Environment: environment, SecretPath: parentPath}
	if err := permission.Check(perm, models.ActionCreate, models.SubjectSecretFolders, fields); err != nil {
		return nil, err
	}
	if !validFolderName(name) {
		return nil, apperr.BadRequest("invalid folder name %q", name)
	}

	now := time.Now().UTC()
	var folder *models.Folder
	err = s.store.Transaction(ctx, func(tx storage.Store) error {
		parent, err := resolveFolder(ctx, tx, projectID, environment, parentPath)
		if err != nil {
			return err
		}
		siblings, err := tx.ListFoldersByParent(ctx, parent.ID)
		if err != nil {
			return err
		}
		for _, sib := range siblings {
			if sib.Name == name {
				return apperr.BadRequest("folder %q already exists under %s", name, parentPath)
			}
		}
		folder = &models.Folder{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			Environment: environment,
			ParentID:    &parent.ID,
			Name:        name,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateFolder(ctx, folder); err != nil {
			return err
		}
		version := &models.FolderVersion{
			ID:        uuid.NewString(),
			FolderID:  folder.ID,
			Version:   1,
			Name:      name,
			CreatedAt: now,
		}
		if err := tx.CreateFolderVersion(ctx, version); err != nil {
			return err
		}
		_, err = s.commits.WithStore(tx).CreateCommit(ctx, parent.ID, actor,
			"folder "+name+" created",
			[]commit.Change{{Type: models.ChangeAdd, FolderVersionID: &version.ID}})
		return err
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// ListFolders lists the folders directly under a path.
func (s *Service) ListFolders(ctx context.Context, actor models.Actor, projectID, environment, path string) ([]models.Folder, error) {
	path = NormalizePath(path)
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	fields := models.SubjectFields{Environment: environment, SecretPath: path}
	if err := permission.Check(perm, models.ActionRead, models.SubjectSecretFolders, fields); err != nil {
		return nil, err
	}
	folder, err := resolveFolder(ctx, s.store, projectID, environment, path)
	if err != nil {
		return nil, err
	}
	return s.store.ListFoldersByParent(ctx, folder.ID)
}

// RenameFolder renames a folder, bumping its version and recording an update
// commit on the parent.
func (s *Service) RenameFolder(ctx context.Context, actor models.Actor, projectID, environment, path, newName string) (*models.Folder, error) {
	path = NormalizePath(path)
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	fields := models.SubjectFields{Environment: environment, SecretPath: path}
	if err := permission.Check(perm, models.ActionEdit, models.SubjectSecretFolders, fields); err != nil {
		return nil, err
	}
	if !validFolderName(newName) {
		return nil, apperr.BadRequest("invalid folder name %q", newName)
	}

	now := time.Now().UTC()
	var folder *models.Folder
	err = s.store.Transaction(ctx, func(tx storage.Store) error {
		f, err := resolveFolder(ctx, tx, projectID, environment, path)
		if err != nil {
			return err
		}
		if f.ParentID == nil {
			return apperr.BadRequest("root folder cannot be renamed")
		}
		oldName := f.Name
		f.Name = newName
		f.Version++
		f.UpdatedAt = now
		if err := tx.UpdateFolder(ctx, f); err != nil {
			return err
		}
		version := &models.FolderVersion{
			ID:        uuid.NewString(),
			FolderID:  f.ID,
			Version:   f.Version,
			Name:      newName,
			CreatedAt: now,
		}
		if err := tx.CreateFolderVersion(ctx, version); err != nil {
			return err
		}
		folder = f
		_, err = s.commits.WithStore(tx).CreateCommit(ctx, *f.ParentID, actor,
			"folder "+oldName+" renamed to "+newName,
			[]commit.Change{{Type: models.ChangeUpdate, FolderVersionID: &version.ID, IsUpdate: true}})
		return err
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// DeleteFolder deletes a folder and records the removal as a commit on the
// parent. The folder's version rows survive for history replay.
func (s *Service) DeleteFolder(ctx context.Context, actor models.Actor, projectID, environment, path string) error {
	path = NormalizePath(path)
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return err
	}
	fields := models.SubjectFields{Environment: environment, SecretPath: path}
	if err := permission.Check(perm, models.ActionDelete, models.SubjectSecretFolders, fields); err != nil {
		return err
	}

	return s.store.Transaction(ctx, func(tx storage.Store) error {
		f, err := resolveFolder(ctx, tx, projectID, environment, path)
		if err != nil {
			return err
		}
		if f.ParentID == nil {
			return apperr.BadRequest("root folder cannot be deleted")
		}
		versions, err := tx.LatestFolderVersions(ctx, []string{f.ID})
		if err != nil {
			return err
		}
		version, ok := versions[f.ID]
		if !ok {
			return apperr.NotFound("folder version for %s", f.ID)
		}
		if _, err := s.commits.WithStore(tx).CreateCommit(ctx, *f.ParentID, actor,
			"folder "+f.Name+" deleted",
			[]commit.Change{{Type: models.ChangeDelete, FolderVersionID: &version.ID}}); err != nil {
			return err
		}
		return tx.DeleteFolder(ctx, f.ID)
	})
}
