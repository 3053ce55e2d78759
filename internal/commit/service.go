// Package commit implements the folder commit log: an append-only record of
// secret and folder changes per folder, with sparse checkpoints that bound
// the cost of reconstructing any historical state.
package commit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
	"github.com/rs/zerolog"
)

// DefaultCheckpointWindow is the minimum number of commits between automatic
// folder checkpoints when no window is configured.
const DefaultCheckpointWindow = 10

// DefaultTreeCheckpointWindow is the per-environment analogue for tree
// checkpoints.
const DefaultTreeCheckpointWindow = 50

// Config holds the commit engine's tunables.
type Config struct {
	CheckpointWindow     int64
	TreeCheckpointWindow int64
}

// Service coordinates commits, checkpoints and history reconstruction.
type Service struct {
	store storage.Store
	cfg   Config
	log   zerolog.Logger
}

// NewService creates a Service. Zero window values fall back to defaults.
func NewService(store storage.Store, cfg Config, log zerolog.Logger) *Service {
	if cfg.CheckpointWindow <= 0 {
		cfg.CheckpointWindow = DefaultCheckpointWindow
	}
	if cfg.TreeCheckpointWindow <= 0 {
		cfg.TreeCheckpointWindow = DefaultTreeCheckpointWindow
	}
	return &Service{store: store, cfg: cfg, log: log}
}

// WithStore returns a copy of the service bound to the given store. Callers
// holding an open transaction use it to record commits atomically with their
// own writes; Transaction on a transaction-scoped store joins the open
// transaction instead of starting a new one.
func (s *Service) WithStore(store storage.Store) *Service {
	c := *s
	c.store = store
	return &c
}

// Change is one resource change to record in a commit. Exactly one of
// SecretVersionID and FolderVersionID must be set.
type Change struct {
	Type            models.ChangeType
	SecretVersionID *string
	FolderVersionID *string
	IsUpdate        bool
}

func validateChange(ch Change) error {
	set := 0
	if ch.SecretVersionID != nil && *ch.SecretVersionID != "" {
		set++
	}
	if ch.FolderVersionID != nil && *ch.FolderVersionID != "" {
		set++
	}
	if set != 1 {
		return apperr.BadRequest("commit change must reference exactly one secret version or folder version")
	}
	switch ch.Type {
	case models.ChangeAdd, models.ChangeUpdate, models.ChangeDelete:
	default:
		return apperr.BadRequest("unknown change type %q", ch.Type)
	}
	return nil
}

// CreateCommit records one commit with its changes in a single transaction,
// then opportunistically checkpoints the folder and its environment.
func (s *Service) CreateCommit(ctx context.Context, folderID string, actor models.Actor, message string, changes []Change) (*models.FolderCommit, error) {
	var out *models.FolderCommit
	err := s.store.Transaction(ctx, func(tx storage.Store) error {
		c, err := s.createCommit(ctx, tx, folderID, actor, message, changes)
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

// createCommit is the transaction-scoped body of CreateCommit, shared with
// initialization and revert which run it inside their own transactions.
func (s *Service) createCommit(ctx context.Context, tx storage.Store, folderID string, actor models.Actor, message string, changes []Change) (*models.FolderCommit, error) {
	folder, err := tx.GetFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for _, ch := range changes {
		if err := validateChange(ch); err != nil {
			return nil, err
		}
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
		Message:   message,
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
			ChangeType:      ch.Type,
			SecretVersionID: ch.SecretVersionID,
			FolderVersionID: ch.FolderVersionID,
			IsUpdate:        ch.IsUpdate,
			CreatedAt:       now,
		})
	}
	if err := tx.InsertCommitChanges(ctx, rows); err != nil {
		return nil, err
	}

	// Opportunistic checkpoints ride in the same transaction: a checkpoint
	// without its resources must never be observable.
	if _, err := s.createCheckpoint(ctx, tx, folder.ID, &c.ID, false); err != nil {
		return nil, err
	}
	if _, err := s.createTreeCheckpoint(ctx, tx, folder.ProjectID, folder.Environment, false); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("folder_id", folder.ID).
		Int64("commit_id", c.CommitID).
		Int("changes", len(changes)).
		Msg("commit recorded")
	return c, nil
}

// AddCommitChange appends one change to an existing commit.
func (s *Service) AddCommitChange(ctx context.Context, folderCommitID string, change Change) (*models.FolderCommitChange, error) {
	if err := validateChange(change); err != nil {
		return nil, err
	}
	if _, err := s.store.GetFolderCommit(ctx, folderCommitID); err != nil {
		return nil, err
	}
	row := models.FolderCommitChange{
		ID:              uuid.NewString(),
		FolderCommitID:  folderCommitID,
		ChangeType:      change.Type,
		SecretVersionID: change.SecretVersionID,
		FolderVersionID: change.FolderVersionID,
		IsUpdate:        change.IsUpdate,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.InsertCommitChanges(ctx, []models.FolderCommitChange{row}); err != nil {
		return nil, err
	}
	return &row, nil
}

// CreateFolderCheckpoint snapshots the folder's current resource set at a
// reference commit. Unless force is set, it is a no-op while fewer than
// CheckpointWindow commits have landed since the previous checkpoint, and a
// no-op for folders that have never been checkpointed. A nil checkpoint with
// a nil error means the call was skipped.
func (s *Service) CreateFolderCheckpoint(ctx context.Context, folderID string, commitID *string, force bool) (*models.FolderCheckpoint, error) {
	var out *models.FolderCheckpoint
	err := s.store.Transaction(ctx, func(tx storage.Store) error {
		cp, err := s.createCheckpoint(ctx, tx, folderID, commitID, force)
		if err != nil {
			return err
		}
		out = cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) createCheckpoint(ctx context.Context, tx storage.Store, folderID string, commitID *string, force bool) (*models.FolderCheckpoint, error) {
	latest, err := tx.LatestFolderCheckpoint(ctx, folderID)
	if err != nil {
		return nil, err
	}

	// Resolve the commit the checkpoint is taken at: the explicit target, or
	// the folder's newest commit.
	var refCommit *models.FolderCommit
	if commitID != nil {
		refCommit, err = tx.GetFolderCommit(ctx, *commitID)
		if err != nil {
			return nil, err
		}
		if refCommit.FolderID != folderID {
			return nil, apperr.BadRequest("commit %s does not belong to folder %s", *commitID, folderID)
		}
	} else {
		refCommit, err = tx.LatestFolderCommit(ctx, folderID)
		if err != nil {
			return nil, err
		}
		if refCommit == nil {
			if !force {
				return nil, nil
			}
			return nil, apperr.BadRequest("folder %s has no commits to checkpoint", folderID)
		}
	}

	if !force {
		if latest == nil {
			return nil, nil
		}
		lastSeq, err := tx.CheckpointCommitSeq(ctx, latest.ID)
		if err != nil {
			return nil, err
		}
		since, err := tx.CountCommitsSince(ctx, folderID, lastSeq)
		if err != nil {
			return nil, err
		}
		if since < s.cfg.CheckpointWindow {
			return nil, nil
		}
	}

	resources, err := s.gatherFolderResources(ctx, tx, folderID)
	if err != nil {
		return nil, err
	}

	cp := &models.FolderCheckpoint{
		ID:             uuid.NewString(),
		FolderCommitID: refCommit.ID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := tx.CreateFolderCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	rows := make([]models.FolderCheckpointResource, 0, len(resources))
	for _, r := range resources {
		r.FolderCheckpointID = cp.ID
		rows = append(rows, r)
	}
	if err := tx.InsertCheckpointResources(ctx, rows); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("folder_id", folderID).
		Int64("commit_id", refCommit.CommitID).
		Int("resources", len(rows)).
		Bool("forced", force).
		Msg("folder checkpoint created")
	return cp, nil
}

// gatherFolderResources materializes the folder's current resource set: the
// latest folder version of every direct child folder plus the latest secret
// version of every secret directly in the folder. Direct children only; the
// subtree is covered because every folder is checkpointed independently.
func (s *Service) gatherFolderResources(ctx context.Context, tx storage.Store, folderID string) ([]models.FolderCheckpointResource, error) {
	children, err := tx.ListFoldersByParent(ctx, folderID)
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
	secretVersions, err := tx.LatestSecretVersionsByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	var out []models.FolderCheckpointResource
	for _, f := range children {
		fv, ok := folderVersions[f.ID]
		if !ok {
			continue
		}
		id := fv.ID
		out = append(out, models.FolderCheckpointResource{
			ID:              uuid.NewString(),
			FolderVersionID: &id,
		})
	}
	for i := range secretVersions {
		id := secretVersions[i].ID
		out = append(out, models.FolderCheckpointResource{
			ID:              uuid.NewString(),
			SecretVersionID: &id,
		})
	}
	return out, nil
}

// FindNearestCheckpoint returns the checkpoint whose commit has the highest
// sequence number not exceeding the target commit's, within the same folder.
// An unknown commit yields (nil, nil): the caller decides whether that is an
// error.
func (s *Service) FindNearestCheckpoint(ctx context.Context, folderCommitID string) (*models.FolderCheckpoint, error) {
	c, err := s.store.GetFolderCommit(ctx, folderCommitID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return s.store.NearestCheckpoint(ctx, c.FolderID, c.CommitID)
}

// ListCommits returns the folder's commits newest-first.
func (s *Service) ListCommits(ctx context.Context, folderID string, limit, offset int) ([]models.FolderCommit, error) {
	if _, err := s.store.GetFolder(ctx, folderID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListFolderCommits(ctx, folderID, limit, offset)
}

// GetCommit returns one commit with its changes.
func (s *Service) GetCommit(ctx context.Context, folderCommitID string) (*models.FolderCommit, []models.CommitChangeDetail, error) {
	c, err := s.store.GetFolderCommit(ctx, folderCommitID)
	if err != nil {
		return nil, nil, err
	}
	changes, err := s.store.ListCommitChanges(ctx, c.ID)
	if err != nil {
		return nil, nil, err
	}
	return c, changes, nil
}

// LatestCommit returns the folder's newest commit, or nil when it has none.
func (s *Service) LatestCommit(ctx context.Context, folderID string) (*models.FolderCommit, error) {
	if _, err := s.store.GetFolder(ctx, folderID); err != nil {
		return nil, err
	}
	return s.store.LatestFolderCommit(ctx, folderID)
}

// ListCheckpoints returns the folder's checkpoints newest-first.
func (s *Service) ListCheckpoints(ctx context.Context, folderID string) ([]models.FolderCheckpoint, error) {
	if _, err := s.store.GetFolder(ctx, folderID); err != nil {
		return nil, err
	}
	return s.store.ListFolderCheckpoints(ctx, folderID)
}
