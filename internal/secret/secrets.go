package secret

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/internal/commit"
	"github.com/org/secretplane/internal/permission"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
)

// Value is a decrypted secret as served to callers.
type Value struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetSecret creates or updates a secret at path. The value is sealed under
// the project key before it touches storage, and the write is recorded as a
// commit on the owning folder.
func (s *Service) SetSecret(ctx context.Context, actor models.Actor, projectID, environment, path, key, value string) (*Value, error) {
	path = NormalizePath(path)
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	fields := models.SubjectFields{Environment: environment, SecretPath: path}
	if key == "" {
		return nil, apperr.BadRequest("secret key is required")
	}

	ciphertext, nonce, err := s.sealer.Seal(projectID, []byte(value))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var out *Value
	err = s.store.Transaction(ctx, func(tx storage.Store) error {
		folder, err := resolveFolder(ctx, tx, projectID, environment, path)
		if err != nil {
			return err
		}

		existing, err := tx.GetSecretByKey(ctx, folder.ID, key)
		if err != nil && !apperr.IsNotFound(err) {
			return err
		}

		action := models.ActionCreate
		if existing != nil {
			action = models.ActionEdit
		}
		if err := permission.Check(perm, action, models.SubjectSecrets, fields); err != nil {
			return err
		}

		var sec *models.Secret
		changeType := models.ChangeAdd
		message := "secret " + key + " created"
		if existing != nil {
			existing.Version++
			existing.UpdatedAt = now
			if err := tx.UpdateSecret(ctx, existing); err != nil {
				return err
			}
			sec = existing
			changeType = models.ChangeUpdate
			message = "secret " + key + " updated"
		} else {
			sec = &models.Secret{
				ID:        uuid.NewString(),
				FolderID:  folder.ID,
				Key:       key,
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.CreateSecret(ctx, sec); err != nil {
				return err
			}
		}

		version := &models.SecretVersion{
			ID:             uuid.NewString(),
			SecretID:       sec.ID,
			FolderID:       folder.ID,
			Version:        sec.Version,
			Key:            key,
			EncryptedValue: ciphertext,
			Nonce:          nonce,
			ActorType:      actor.Type,
			ActorID:        actor.ID,
			CreatedAt:      now,
		}
		if err := tx.CreateSecretVersion(ctx, version); err != nil {
			return err
		}

		_, err = s.commits.WithStore(tx).CreateCommit(ctx, folder.ID, actor, message,
			[]commit.Change{{
				Type:            changeType,
				SecretVersionID: &version.ID,
				IsUpdate:        changeType == models.ChangeUpdate,
			}})
		if err != nil {
			return err
		}
		out = &Value{ID: sec.ID, Key: key, Value: value, Version: sec.Version, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSecret returns the decrypted current value of a secret.
func (s *Service) GetSecret(ctx context.Context, actor models.Actor, projectID, environment, path, key string) (*Value, error) {
	path = NormalizePath(path)
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	fields := models.SubjectFields{Environment: environment, SecretPath: path}
	if err := permission.Check(perm, models.ActionRead, models.SubjectSecrets, fields); err != nil {
		return nil, err
	}

	folder, err := resolveFolder(ctx, s.store, projectID, environment, path)
	if err != nil {
		return nil, err
	}
	sec, err := s.store.GetSecretByKey(ctx, folder.ID, key)
	if err != nil {
		return nil, err
	}
	version, err := s.latestVersionOf(ctx, folder.ID, sec.ID)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.sealer.Open(projectID, version.EncryptedValue, version.Nonce)
	if err != nil {
		return nil, err
	}
	return &Value{
		ID:        sec.ID,
		Key:       sec.Key,
		Value:     string(plaintext),
		Version:   sec.Version,
		UpdatedAt: sec.UpdatedAt,
	}, nil
}

// ListSecrets returns the decrypted secrets directly under a path.
func (s *Service) ListSecrets(ctx context.Context, actor models.Actor, projectID, environment, path string) ([]Value, error) {
	path = NormalizePath(path)
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	fields := models.SubjectFields{Environment: environment, SecretPath: path}
	if err := permission.Check(perm, models.ActionRead, models.SubjectSecrets, fields); err != nil {
		return nil, err
	}

	folder, err := resolveFolder(ctx, s.store, projectID, environment, path)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.LatestSecretVersionsByFolder(ctx, folder.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, len(versions))
	for _, v := range versions {
		plaintext, err := s.sealer.Open(projectID, v.EncryptedValue, v.Nonce)
		if err != nil {
			return nil, err
		}
		out = append(out, Value{
			ID:        v.SecretID,
			Key:       v.Key,
			Value:     string(plaintext),
			Version:   v.Version,
			UpdatedAt: v.CreatedAt,
		})
	}
	return out, nil
}

// GetSecretVersion returns the decrypted value of a specific secret version.
func (s *Service) GetSecretVersion(ctx context.Context, actor models.Actor, projectID, environment, path, key string, version int) (*Value, error) {
	path = NormalizePath(path)
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	fields := models.SubjectFields{Environment: environment, SecretPath: path}
	if err := permission.Check(perm, models.ActionRead, models.SubjectSecrets, fields); err != nil {
		return nil, err
	}

	folder, err := resolveFolder(ctx, s.store, projectID, environment, path)
	if err != nil {
		return nil, err
	}
	sec, err := s.store.GetSecretByKey(ctx, folder.ID, key)
	if err != nil {
		return nil, err
	}
	sv, err := s.store.GetSecretVersionByNumber(ctx, sec.ID, version)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.sealer.Open(projectID, sv.EncryptedValue, sv.Nonce)
	if err != nil {
		return nil, err
	}
	return &Value{ID: sec.ID, Key: sec.Key, Value: string(plaintext), Version: sv.Version, UpdatedAt: sv.CreatedAt}, nil
}

// DeleteSecret deletes a secret, recording the removal as a commit. The
// secret's version rows survive for history replay.
func (s *Service) DeleteSecret(ctx context.Context, actor models.Actor, projectID, environment, path, key string) error {
	path = NormalizePath(path)
	perm, err := s.resolver.GetProjectPermission(ctx, actor, projectID)
	if err != nil {
		return err
	}
	fields := models.SubjectFields{Environment: environment, SecretPath: path}
	if err := permission.Check(perm, models.ActionDelete, models.SubjectSecrets, fields); err != nil {
		return err
	}

	return s.store.Transaction(ctx, func(tx storage.Store) error {
		folder, err := resolveFolder(ctx, tx, projectID, environment, path)
		if err != nil {
			return err
		}
		sec, err := tx.GetSecretByKey(ctx, folder.ID, key)
		if err != nil {
			return err
		}
		version, err := s.latestVersionInStore(ctx, tx, folder.ID, sec.ID)
		if err != nil {
			return err
		}
		if _, err := s.commits.WithStore(tx).CreateCommit(ctx, folder.ID, actor,
			"secret "+key+" deleted",
			[]commit.Change{{Type: models.ChangeDelete, SecretVersionID: &version.ID}}); err != nil {
			return err
		}
		return tx.DeleteSecret(ctx, sec.ID)
	})
}

func (s *Service) latestVersionOf(ctx context.Context, folderID, secretID string) (*models.SecretVersion, error) {
	return s.latestVersionInStore(ctx, s.store, folderID, secretID)
}

func (s *Service) latestVersionInStore(ctx context.Context, st storage.Store, folderID, secretID string) (*models.SecretVersion, error) {
	versions, err := st.LatestSecretVersionsByFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].SecretID == secretID {
			return &versions[i], nil
		}
	}
	return nil, apperr.NotFound("version for secret %s", secretID)
}
