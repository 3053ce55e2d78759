package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/pkg/models"
)

// Commit, checkpoint and tree checkpoint queries. The commit sequence number
// (commit_id) comes from a global BIGSERIAL, so within any folder it strictly
// increases with insertion order even though values are not contiguous.

// --- Folder commits ---

// CreateFolderCommit inserts the commit and fills in its database-assigned
// sequence number.
func (p *Postgres) CreateFolderCommit(ctx context.Context, c *models.FolderCommit) error {
	metaJSON, err := json.Marshal(c.ActorMetadata)
	if err != nil {
		return apperr.Database("encoding actor metadata", err)
	}
	err = p.q.QueryRow(ctx,
		`INSERT INTO folder_commits (id, folder_id, project_id, environment, actor_type, actor_metadata, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING commit_id`,
		c.ID, c.FolderID, c.ProjectID, c.Environment, c.ActorType, metaJSON, c.Message, c.CreatedAt,
	).Scan(&c.CommitID)
	if err != nil {
		return apperr.Database("creating folder commit", err)
	}
	return nil
}

func (p *Postgres) InsertCommitChanges(ctx context.Context, changes []models.FolderCommitChange) error {
	for i := range changes {
		ch := &changes[i]
		_, err := p.q.Exec(ctx,
			`INSERT INTO folder_commit_changes (id, folder_commit_id, change_type, secret_version_id, folder_version_id, is_update, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ch.ID, ch.FolderCommitID, ch.ChangeType, ch.SecretVersionID, ch.FolderVersionID,
			ch.IsUpdate, ch.CreatedAt,
		)
		if err != nil {
			return apperr.Database("inserting commit change", err)
		}
	}
	return nil
}

const folderCommitColumns = `id, commit_id, folder_id, project_id, environment, actor_type, actor_metadata, message, created_at`

func (p *Postgres) GetFolderCommit(ctx context.Context, id string) (*models.FolderCommit, error) {
	row := p.q.QueryRow(ctx,
		`SELECT `+folderCommitColumns+` FROM folder_commits WHERE id = $1`, id,
	)
	c, err := scanFolderCommit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("commit %s not found", id)
		}
		return nil, apperr.Database("fetching folder commit", err)
	}
	return c, nil
}

func (p *Postgres) GetFolderCommitBySeq(ctx context.Context, folderID string, seq int64) (*models.FolderCommit, error) {
	row := p.q.QueryRow(ctx,
		`SELECT `+folderCommitColumns+` FROM folder_commits WHERE folder_id = $1 AND commit_id = $2`,
		folderID, seq,
	)
	c, err := scanFolderCommit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("commit %d not found in folder %s", seq, folderID)
		}
		return nil, apperr.Database("fetching folder commit", err)
	}
	return c, nil
}

// LatestFolderCommit returns the folder's highest-sequence commit, or
// (nil, nil) when the folder has no history yet.
func (p *Postgres) LatestFolderCommit(ctx context.Context, folderID string) (*models.FolderCommit, error) {
	row := p.q.QueryRow(ctx,
		`SELECT `+folderCommitColumns+`
		 FROM folder_commits WHERE folder_id = $1
		 ORDER BY commit_id DESC LIMIT 1`,
		folderID,
	)
	c, err := scanFolderCommit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Database("fetching latest folder commit", err)
	}
	return c, nil
}

// LatestEnvCommit returns the highest-sequence commit across every folder of
// the environment, or (nil, nil) when none exist.
func (p *Postgres) LatestEnvCommit(ctx context.Context, projectID, environment string) (*models.FolderCommit, error) {
	row := p.q.QueryRow(ctx,
		`SELECT `+folderCommitColumns+`
		 FROM folder_commits WHERE project_id = $1 AND environment = $2
		 ORDER BY commit_id DESC LIMIT 1`,
		projectID, environment,
	)
	c, err := scanFolderCommit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Database("fetching latest environment commit", err)
	}
	return c, nil
}

func scanFolderCommit(row pgx.Row) (*models.FolderCommit, error) {
	var c models.FolderCommit
	var metaJSON []byte
	err := row.Scan(&c.ID, &c.CommitID, &c.FolderID, &c.ProjectID, &c.Environment,
		&c.ActorType, &metaJSON, &c.Message, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &c.ActorMetadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (p *Postgres) CountCommitsSince(ctx context.Context, folderID string, afterSeq int64) (int64, error) {
	var count int64
	err := p.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM folder_commits WHERE folder_id = $1 AND commit_id > $2`,
		folderID, afterSeq,
	).Scan(&count)
	if err != nil {
		return 0, apperr.Database("counting commits since checkpoint", err)
	}
	return count, nil
}

func (p *Postgres) CountEnvCommitsSince(ctx context.Context, projectID, environment string, afterSeq int64) (int64, error) {
	var count int64
	err := p.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM folder_commits
		 WHERE project_id = $1 AND environment = $2 AND commit_id > $3`,
		projectID, environment, afterSeq,
	).Scan(&count)
	if err != nil {
		return 0, apperr.Database("counting environment commits", err)
	}
	return count, nil
}

// ListFolderCommits returns the folder's commits newest-first.
func (p *Postgres) ListFolderCommits(ctx context.Context, folderID string, limit, offset int) ([]models.FolderCommit, error) {
	rows, err := p.q.Query(ctx,
		`SELECT `+folderCommitColumns+`
		 FROM folder_commits WHERE folder_id = $1
		 ORDER BY commit_id DESC LIMIT $2 OFFSET $3`,
		folderID, limit, offset,
	)
	if err != nil {
		return nil, apperr.Database("listing folder commits", err)
	}
	return collectFolderCommits(rows)
}

// ListCommitsBetween returns the folder's commits with afterSeq < commit_id
// <= throughSeq, oldest first, in replay order.
func (p *Postgres) ListCommitsBetween(ctx context.Context, folderID string, afterSeq, throughSeq int64) ([]models.FolderCommit, error) {
	rows, err := p.q.Query(ctx,
		`SELECT `+folderCommitColumns+`
		 FROM folder_commits
		 WHERE folder_id = $1 AND commit_id > $2 AND commit_id <= $3
		 ORDER BY commit_id ASC`,
		folderID, afterSeq, throughSeq,
	)
	if err != nil {
		return nil, apperr.Database("listing commits between", err)
	}
	return collectFolderCommits(rows)
}

func collectFolderCommits(rows pgx.Rows) ([]models.FolderCommit, error) {
	defer rows.Close()
	var out []models.FolderCommit
	for rows.Next() {
		var c models.FolderCommit
		var metaJSON []byte
		if err := rows.Scan(&c.ID, &c.CommitID, &c.FolderID, &c.ProjectID, &c.Environment,
			&c.ActorType, &metaJSON, &c.Message, &c.CreatedAt); err != nil {
			return nil, apperr.Database("scanning folder commit", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &c.ActorMetadata); err != nil {
				return nil, apperr.Database("decoding actor metadata", err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing folder commits", err)
	}
	return out, nil
}

// ListCommitChanges returns the commit's changes joined with the identity of
// the secret or folder version each change points at. Version rows may have
// been garbage collected after a resource's deletion, hence the outer joins
// and COALESCE defaults.
func (p *Postgres) ListCommitChanges(ctx context.Context, folderCommitID string) ([]models.CommitChangeDetail, error) {
	rows, err := p.q.Query(ctx,
		`SELECT ch.id, ch.folder_commit_id, ch.change_type, ch.secret_version_id, ch.folder_version_id,
		        ch.is_update, ch.created_at,
		        COALESCE(sv.secret_id, ''), COALESCE(sv.key, ''), COALESCE(sv.version, 0),
		        COALESCE(fv.folder_id, ''), COALESCE(fv.name, ''), COALESCE(fv.version, 0)
		 FROM folder_commit_changes ch
		 LEFT JOIN secret_versions sv ON sv.id = ch.secret_version_id
		 LEFT JOIN folder_versions fv ON fv.id = ch.folder_version_id
		 WHERE ch.folder_commit_id = $1
		 ORDER BY ch.created_at, ch.id`,
		folderCommitID,
	)
	if err != nil {
		return nil, apperr.Database("listing commit changes", err)
	}
	defer rows.Close()
	var out []models.CommitChangeDetail
	for rows.Next() {
		var d models.CommitChangeDetail
		if err := rows.Scan(&d.ID, &d.FolderCommitID, &d.ChangeType, &d.SecretVersionID,
			&d.FolderVersionID, &d.IsUpdate, &d.CreatedAt,
			&d.SecretID, &d.SecretKey, &d.SecretVersion,
			&d.FolderID, &d.FolderName, &d.FolderVersion); err != nil {
			return nil, apperr.Database("scanning commit change", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing commit changes", err)
	}
	return out, nil
}

// --- Folder checkpoints ---

func (p *Postgres) CreateFolderCheckpoint(ctx context.Context, c *models.FolderCheckpoint) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO folder_checkpoints (id, folder_commit_id, created_at) VALUES ($1, $2, $3)`,
		c.ID, c.FolderCommitID, c.CreatedAt,
	)
	if err != nil {
		return apperr.Database("creating folder checkpoint", err)
	}
	return nil
}

func (p *Postgres) InsertCheckpointResources(ctx context.Context, resources []models.FolderCheckpointResource) error {
	for i := range resources {
		r := &resources[i]
		_, err := p.q.Exec(ctx,
			`INSERT INTO folder_checkpoint_resources (id, folder_checkpoint_id, secret_version_id, folder_version_id)
			 VALUES ($1, $2, $3, $4)`,
			r.ID, r.FolderCheckpointID, r.SecretVersionID, r.FolderVersionID,
		)
		if err != nil {
			return apperr.Database("inserting checkpoint resource", err)
		}
	}
	return nil
}

// LatestFolderCheckpoint returns the folder's most recent checkpoint by
// commit sequence, or (nil, nil) when the folder has none.
func (p *Postgres) LatestFolderCheckpoint(ctx context.Context, folderID string) (*models.FolderCheckpoint, error) {
	row := p.q.QueryRow(ctx,
		`SELECT cp.id, cp.folder_commit_id, cp.created_at
		 FROM folder_checkpoints cp
		 JOIN folder_commits fc ON fc.id = cp.folder_commit_id
		 WHERE fc.folder_id = $1
		 ORDER BY fc.commit_id DESC LIMIT 1`,
		folderID,
	)
	return scanCheckpoint(row, "fetching latest folder checkpoint")
}

// NearestCheckpoint returns the folder checkpoint with the highest commit
// sequence not exceeding maxSeq, or (nil, nil) when no checkpoint qualifies.
func (p *Postgres) NearestCheckpoint(ctx context.Context, folderID string, maxSeq int64) (*models.FolderCheckpoint, error) {
	row := p.q.QueryRow(ctx,
		`SELECT cp.id, cp.folder_commit_id, cp.created_at
		 FROM folder_checkpoints cp
		 JOIN folder_commits fc ON fc.id = cp.folder_commit_id
		 WHERE fc.folder_id = $1 AND fc.commit_id <= $2
		 ORDER BY fc.commit_id DESC LIMIT 1`,
		folderID, maxSeq,
	)
	return scanCheckpoint(row, "fetching nearest checkpoint")
}

func scanCheckpoint(row pgx.Row, op string) (*models.FolderCheckpoint, error) {
	var c models.FolderCheckpoint
	err := row.Scan(&c.ID, &c.FolderCommitID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Database(op, err)
	}
	return &c, nil
}

func (p *Postgres) ListFolderCheckpoints(ctx context.Context, folderID string) ([]models.FolderCheckpoint, error) {
	rows, err := p.q.Query(ctx,
		`SELECT cp.id, cp.folder_commit_id, cp.created_at
		 FROM folder_checkpoints cp
		 JOIN folder_commits fc ON fc.id = cp.folder_commit_id
		 WHERE fc.folder_id = $1
		 ORDER BY fc.commit_id DESC`,
		folderID,
	)
	if err != nil {
		return nil, apperr.Database("listing folder checkpoints", err)
	}
	defer rows.Close()
	var out []models.FolderCheckpoint
	for rows.Next() {
		var c models.FolderCheckpoint
		if err := rows.Scan(&c.ID, &c.FolderCommitID, &c.CreatedAt); err != nil {
			return nil, apperr.Database("scanning folder checkpoint", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing folder checkpoints", err)
	}
	return out, nil
}

// CheckpointCommitSeq returns the commit sequence the checkpoint was taken at.
func (p *Postgres) CheckpointCommitSeq(ctx context.Context, checkpointID string) (int64, error) {
	var seq int64
	err := p.q.QueryRow(ctx,
		`SELECT fc.commit_id
		 FROM folder_checkpoints cp
		 JOIN folder_commits fc ON fc.id = cp.folder_commit_id
		 WHERE cp.id = $1`,
		checkpointID,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFound("checkpoint %s not found", checkpointID)
		}
		return 0, apperr.Database("fetching checkpoint commit sequence", err)
	}
	return seq, nil
}

// ListCheckpointResources returns the checkpoint's materialized resource set
// joined with each referenced version's identity.
func (p *Postgres) ListCheckpointResources(ctx context.Context, checkpointID string) ([]models.CheckpointResourceDetail, error) {
	rows, err := p.q.Query(ctx,
		`SELECT r.id, r.folder_checkpoint_id, r.secret_version_id, r.folder_version_id,
		        COALESCE(sv.secret_id, ''), COALESCE(sv.key, ''), COALESCE(sv.version, 0),
		        COALESCE(fv.folder_id, ''), COALESCE(fv.name, ''), COALESCE(fv.version, 0)
		 FROM folder_checkpoint_resources r
		 LEFT JOIN secret_versions sv ON sv.id = r.secret_version_id
		 LEFT JOIN folder_versions fv ON fv.id = r.folder_version_id
		 WHERE r.folder_checkpoint_id = $1`,
		checkpointID,
	)
	if err != nil {
		return nil, apperr.Database("listing checkpoint resources", err)
	}
	defer rows.Close()
	var out []models.CheckpointResourceDetail
	for rows.Next() {
		var d models.CheckpointResourceDetail
		if err := rows.Scan(&d.ID, &d.FolderCheckpointID, &d.SecretVersionID, &d.FolderVersionID,
			&d.SecretID, &d.SecretKey, &d.SecretVersion,
			&d.FolderID, &d.FolderName, &d.FolderVersion); err != nil {
			return nil, apperr.Database("scanning checkpoint resource", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing checkpoint resources", err)
	}
	return out, nil
}

// --- Folder tree checkpoints ---

func (p *Postgres) CreateFolderTreeCheckpoint(ctx context.Context, c *models.FolderTreeCheckpoint) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO folder_tree_checkpoints (id, folder_commit_id, project_id, environment, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.FolderCommitID, c.ProjectID, c.Environment, c.CreatedAt,
	)
	if err != nil {
		return apperr.Database("creating tree checkpoint", err)
	}
	return nil
}

func (p *Postgres) InsertTreeCheckpointResources(ctx context.Context, resources []models.FolderTreeCheckpointResource) error {
	for i := range resources {
		r := &resources[i]
		_, err := p.q.Exec(ctx,
			`INSERT INTO folder_tree_checkpoint_resources (id, folder_tree_checkpoint_id, folder_id, folder_commit_id)
			 VALUES ($1, $2, $3, $4)`,
			r.ID, r.FolderTreeCheckpointID, r.FolderID, r.FolderCommitID,
		)
		if err != nil {
			return apperr.Database("inserting tree checkpoint resource", err)
		}
	}
	return nil
}

func (p *Postgres) LatestTreeCheckpoint(ctx context.Context, projectID, environment string) (*models.FolderTreeCheckpoint, error) {
	row := p.q.QueryRow(ctx,
		`SELECT tc.id, tc.folder_commit_id, tc.project_id, tc.environment, tc.created_at
		 FROM folder_tree_checkpoints tc
		 JOIN folder_commits fc ON fc.id = tc.folder_commit_id
		 WHERE tc.project_id = $1 AND tc.environment = $2
		 ORDER BY fc.commit_id DESC LIMIT 1`,
		projectID, environment,
	)
	return scanTreeCheckpoint(row, "fetching latest tree checkpoint")
}

func (p *Postgres) NearestTreeCheckpoint(ctx context.Context, projectID, environment string, maxSeq int64) (*models.FolderTreeCheckpoint, error) {
	row := p.q.QueryRow(ctx,
		`SELECT tc.id, tc.folder_commit_id, tc.project_id, tc.environment, tc.created_at
		 FROM folder_tree_checkpoints tc
		 JOIN folder_commits fc ON fc.id = tc.folder_commit_id
		 WHERE tc.project_id = $1 AND tc.environment = $2 AND fc.commit_id <= $3
		 ORDER BY fc.commit_id DESC LIMIT 1`,
		projectID, environment, maxSeq,
	)
	return scanTreeCheckpoint(row, "fetching nearest tree checkpoint")
}

func scanTreeCheckpoint(row pgx.Row, op string) (*models.FolderTreeCheckpoint, error) {
	var c models.FolderTreeCheckpoint
	err := row.Scan(&c.ID, &c.FolderCommitID, &c.ProjectID, &c.Environment, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Database(op, err)
	}
	return &c, nil
}

func (p *Postgres) ListTreeCheckpointResources(ctx context.Context, treeCheckpointID string) ([]models.FolderTreeCheckpointResource, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, folder_tree_checkpoint_id, folder_id, folder_commit_id
		 FROM folder_tree_checkpoint_resources
		 WHERE folder_tree_checkpoint_id = $1`,
		treeCheckpointID,
	)
	if err != nil {
		return nil, apperr.Database("listing tree checkpoint resources", err)
	}
	defer rows.Close()
	var out []models.FolderTreeCheckpointResource
	for rows.Next() {
		var r models.FolderTreeCheckpointResource
		if err := rows.Scan(&r.ID, &r.FolderTreeCheckpointID, &r.FolderID, &r.FolderCommitID); err != nil {
			return nil, apperr.Database("scanning tree checkpoint resource", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing tree checkpoint resources", err)
	}
	return out, nil
}
