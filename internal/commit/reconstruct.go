package commit

import (
	"context"
	"fmt"

	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
)

// State keys are stable per resource, not per version, so replay overwrites
// in place as versions supersede each other.
func secretKey(secretID string) string { return "secret-" + secretID }
func folderKey(folderID string) string { return "folder-" + folderID }

// ReconstructFolderState returns the folder's live resource set as of the
// given commit: the nearest checkpoint at or before it, with every later
// commit up to and including it replayed on top.
func (s *Service) ReconstructFolderState(ctx context.Context, folderCommitID string) (map[string]models.ResourceState, error) {
	c, err := s.store.GetFolderCommit(ctx, folderCommitID)
	if err != nil {
		return nil, err
	}
	return s.reconstructAt(ctx, s.store, c.FolderID, c.CommitID)
}

func (s *Service) reconstructAt(ctx context.Context, tx storage.Store, folderID string, throughSeq int64) (map[string]models.ResourceState, error) {
	state := map[string]models.ResourceState{}
	var afterSeq int64

	cp, err := tx.NearestCheckpoint(ctx, folderID, throughSeq)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		resources, err := tx.ListCheckpointResources(ctx, cp.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range resources {
			applyResource(state, resourceStateOf(r))
		}
		afterSeq, err = tx.CheckpointCommitSeq(ctx, cp.ID)
		if err != nil {
			return nil, err
		}
	}

	commits, err := tx.ListCommitsBetween(ctx, folderID, afterSeq, throughSeq)
	if err != nil {
		return nil, err
	}
	for _, c := range commits {
		changes, err := tx.ListCommitChanges(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		for _, ch := range changes {
			applyChange(state, ch)
		}
	}
	return state, nil
}

func resourceStateOf(r models.CheckpointResourceDetail) models.ResourceState {
	if r.SecretVersionID != nil {
		return models.ResourceState{
			Type:      models.ResourceSecret,
			ID:        r.SecretID,
			VersionID: *r.SecretVersionID,
			Name:      r.SecretKey,
			Version:   r.SecretVersion,
		}
	}
	return models.ResourceState{
		Type:      models.ResourceFolder,
		ID:        r.FolderID,
		VersionID: *r.FolderVersionID,
		Name:      r.FolderName,
		Version:   r.FolderVersion,
	}
}

func applyResource(state map[string]models.ResourceState, rs models.ResourceState) {
	if rs.Type == models.ResourceSecret {
		state[secretKey(rs.ID)] = rs
	} else {
		state[folderKey(rs.ID)] = rs
	}
}

func applyChange(state map[string]models.ResourceState, ch models.CommitChangeDetail) {
	var key string
	var rs models.ResourceState
	if ch.SecretVersionID != nil {
		key = secretKey(ch.SecretID)
		rs = models.ResourceState{
			Type:      models.ResourceSecret,
			ID:        ch.SecretID,
			VersionID: *ch.SecretVersionID,
			Name:      ch.SecretKey,
			Version:   ch.SecretVersion,
		}
	} else {
		key = folderKey(ch.FolderID)
		rs = models.ResourceState{
			Type:      models.ResourceFolder,
			ID:        ch.FolderID,
			VersionID: *ch.FolderVersionID,
			Name:      ch.FolderName,
			Version:   ch.FolderVersion,
		}
	}
	switch ch.ChangeType {
	case models.ChangeAdd, models.ChangeUpdate:
		state[key] = rs
	case models.ChangeDelete:
		delete(state, key)
	}
}

// CompareFolderStates diffs the folder's state at two commits, returning the
// changes that transform the first state into the second.
func (s *Service) CompareFolderStates(ctx context.Context, fromCommitID, toCommitID string) ([]models.ResourceChange, error) {
	from, err := s.ReconstructFolderState(ctx, fromCommitID)
	if err != nil {
		return nil, err
	}
	to, err := s.ReconstructFolderState(ctx, toCommitID)
	if err != nil {
		return nil, err
	}
	return diffStates(from, to), nil
}

func diffStates(from, to map[string]models.ResourceState) []models.ResourceChange {
	var out []models.ResourceChange
	for key, rs := range to {
		prev, ok := from[key]
		if !ok {
			out = append(out, models.ResourceChange{
				Type: rs.Type, ID: rs.ID, VersionID: rs.VersionID,
				ChangeType: models.ChangeCreate, Name: rs.Name, Version: rs.Version,
			})
			continue
		}
		if prev.VersionID != rs.VersionID {
			out = append(out, models.ResourceChange{
				Type: rs.Type, ID: rs.ID, VersionID: rs.VersionID,
				ChangeType: models.ChangeUpdate, Name: rs.Name,
				Version: rs.Version, FromVersion: prev.Version,
			})
		}
	}
	for key, rs := range from {
		if _, ok := to[key]; !ok {
			out = append(out, models.ResourceChange{
				Type: rs.Type, ID: rs.ID, VersionID: rs.VersionID,
				ChangeType: models.ChangeDelete, Name: rs.Name, Version: rs.Version,
			})
		}
	}
	return out
}

// RevertCommit undoes one commit by recording its inverse as a new commit.
// History stays append-only: the reverted commit remains in the log and the
// revert itself is an ordinary commit that can in turn be reverted.
func (s *Service) RevertCommit(ctx context.Context, folderCommitID string, actor models.Actor) (*models.FolderCommit, error) {
	var out *models.FolderCommit
	err := s.store.Transaction(ctx, func(tx storage.Store) error {
		target, err := tx.GetFolderCommit(ctx, folderCommitID)
		if err != nil {
			return err
		}
		before, err := s.reconstructAt(ctx, tx, target.FolderID, target.CommitID-1)
		if err != nil {
			return err
		}
		at, err := s.reconstructAt(ctx, tx, target.FolderID, target.CommitID)
		if err != nil {
			return err
		}

		// The inverse is whatever transforms the post-commit state back into
		// the pre-commit state.
		inverse := diffStates(at, before)
		changes := make([]Change, 0, len(inverse))
		for _, rc := range inverse {
			ch := Change{}
			switch rc.ChangeType {
			case models.ChangeCreate:
				ch.Type = models.ChangeAdd
			case models.ChangeUpdate:
				ch.Type = models.ChangeUpdate
				ch.IsUpdate = true
			case models.ChangeDelete:
				ch.Type = models.ChangeDelete
			}
			versionID := rc.VersionID
			if rc.Type == models.ResourceSecret {
				ch.SecretVersionID = &versionID
			} else {
				ch.FolderVersionID = &versionID
			}
			changes = append(changes, ch)
		}

		c, err := s.createCommit(ctx, tx, target.FolderID, actor,
			fmt.Sprintf("revert of commit %d", target.CommitID), changes)
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
