// Package secret implements the project, folder and secret operations.
// Every operation authorizes through the permission gate before touching
// state, and every mutation records a folder commit in the same transaction
// as its writes, so history can never diverge from the data it describes.
package secret

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/internal/commit"
	"github.com/org/secretplane/internal/crypto"
	"github.com/org/secretplane/internal/permission"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
	"github.com/rs/zerolog"
)

// DefaultEnvironments are the environments a new project starts with when
// none are requested.
var DefaultEnvironments = []string{"dev", "staging", "prod"}

// RootFolderName is the fixed name of each environment's root folder.
const RootFolderName = "root"

// Service is the application layer over projects, folders and secrets.
type Service struct {
	store    storage.Store
	resolver *permission.Resolver
	sealer   *crypto.Sealer
	commits  *commit.Service
	log      zerolog.Logger
}

// NewService creates a Service.
func NewService(store storage.Store, resolver *permission.Resolver, sealer *crypto.Sealer, commits *commit.Service, log zerolog.Logger) *Service {
	return &Service{store: store, resolver: resolver, sealer: sealer, commits: commits, log: log}
}

// CreateProject creates a project with a root folder per environment, makes
// the creating actor a project admin, and records a baseline commit for each
// root folder.
func (s *Service) CreateProject(ctx context.Context, actor models.Actor, name, orgID string, environments []string) (*models.Project, error) {
	perm, err := s.resolver.GetOrgPermission(ctx, actor, orgID)
	if err != nil {
		return nil, err
	}
	if err := permission.Check(perm, models.ActionCreate, models.SubjectProject, models.SubjectFields{}); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, apperr.BadRequest("project name is required")
	}
	if len(environments) == 0 {
		environments = DefaultEnvironments
	}

	now := time.Now().UTC()
	p := &models.Project{
		ID:        uuid.NewString(),
		Name:      name,
		OrgID:     orgID,
		CreatedAt: now,
	}
	err = s.store.Transaction(ctx, func(tx storage.Store) error {
		if err := tx.CreateProject(ctx, p); err != nil {
			return err
		}
		if err := tx.CreateMembership(ctx, &models.Membership{
			ID:        uuid.NewString(),
			ActorType: actor.Type,
			ActorID:   actor.ID,
			ProjectID: p.ID,
			OrgID:     orgID,
			Role:      models.RoleAdmin,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		commits := s.commits.WithStore(tx)
		for _, env := range environments {
			root := &models.Folder{
				ID:          uuid.NewString(),
				ProjectID:   p.ID,
				Environment: env,
				Name:        RootFolderName,
				Version:     1,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.CreateFolder(ctx, root); err != nil {
				return err
			}
			if err := tx.CreateFolderVersion(ctx, &models.FolderVersion{
				ID:        uuid.NewString(),
				FolderID:  root.ID,
				Version:   1,
				Name:      root.Name,
				CreatedAt: now,
			}); err != nil {
				return err
			}
			if _, err := commits.CreateCommit(ctx, root.ID, actor, "root folder created", nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("project_id", p.ID).Str("name", name).Msg("project created")
	return p, nil
}

// GetProject returns a project the actor is a member of. Membership itself
// is the authorization; there is no finer-grained read gate on the project
// record.
func (s *Service) GetProject(ctx context.Context, actor models.Actor, projectID string) (*models.Project, error) {
	if _, err := s.resolver.GetProjectPermission(ctx, actor, projectID); err != nil {
		return nil, err
	}
	return s.store.GetProject(ctx, projectID)
}

// ListProjects lists an organization's projects.
func (s *Service) ListProjects(ctx context.Context, actor models.Actor, orgID string) ([]models.Project, error) {
	if _, err := s.resolver.GetOrgPermission(ctx, actor, orgID); err != nil {
		return nil, err
	}
	return s.store.ListProjects(ctx, orgID)
}

// ListEnvironments lists a project's environments.
func (s *Service) ListEnvironments(ctx context.Context, actor models.Actor, projectID string) ([]string, error) {
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if err := permission.Check(perm, models.ActionRead, models.SubjectEnvironments, models.SubjectFields{}); err != nil {
		return nil, err
	}
	return s.store.ListProjectEnvironments(ctx, projectID)
}

// DeleteProject deletes a project and everything under it.
func (s *Service) DeleteProject(ctx context.Context, actor models.Actor, projectID string) error {
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return err
	}
	if err := permission.Check(perm, models.ActionDelete, models.SubjectProject, models.SubjectFields{}); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.log.Info().Str("project_id", projectID).Msg("project deleted")
	return nil
}

// InitializeProject backfills commit history for a project created before
// history tracking, or repairs a project missing its baselines. Runs as the
// platform itself; the caller must hold project admin.
func (s *Service) InitializeProject(ctx context.Context, actor models.Actor, projectID string) error {
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return err
	}
	if err := permission.Check(perm, models.ActionEdit, models.SubjectProject, models.SubjectFields{}); err != nil {
		return err
	}
	return s.commits.InitializeProject(ctx, projectID, models.Actor{
		Type: models.ActorPlatform,
		ID:   "platform",
		Name: "platform",
	})
}
