package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/pkg/models"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same query methods serve both pooled and transactional stores.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ Store = (*Postgres)(nil)

// NewPostgres opens a pgxpool connection and returns a ready store.
func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Postgres{pool: pool, q: pool}, nil
}

func (p *Postgres) Close() {
	if !p.inTx {
		p.pool.Close()
	}
}

// Transaction runs fn against a transaction-scoped store. Calling it on a
// store that is already transactional reuses the open transaction.
func (p *Postgres) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if p.inTx {
		return fn(p)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return apperr.Database("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&Postgres{pool: p.pool, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Database("commit transaction", err)
	}
	return nil
}

// --- Projects ---

func (p *Postgres) CreateProject(ctx context.Context, proj *models.Project) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO projects (id, name, org_id, created_at) VALUES ($1, $2, $3, $4)`,
		proj.ID, proj.Name, proj.OrgID, proj.CreatedAt,
	)
	if err != nil {
		return apperr.Database("creating project", err)
	}
	return nil
}

func (p *Postgres) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var proj models.Project
	err := p.q.QueryRow(ctx,
		`SELECT id, name, org_id, created_at FROM projects WHERE id = $1`, id,
	).Scan(&proj.ID, &proj.Name, &proj.OrgID, &proj.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("project %s not found", id)
		}
		return nil, apperr.Database("fetching project", err)
	}
	return &proj, nil
}

func (p *Postgres) ListProjects(ctx context.Context, orgID string) ([]models.Project, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, name, org_id, created_at FROM projects WHERE org_id = $1 ORDER BY created_at`, orgID,
	)
	if err != nil {
		return nil, apperr.Database("listing projects", err)
	}
	defer rows.Close()
	var out []models.Project
	for rows.Next() {
		var proj models.Project
		if err := rows.Scan(&proj.ID, &proj.Name, &proj.OrgID, &proj.CreatedAt); err != nil {
			return nil, apperr.Database("scanning project", err)
		}
		out = append(out, proj)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing projects", err)
	}
	return out, nil
}

// ListProjectEnvironments returns the distinct environments that have at
// least one folder in the project.
func (p *Postgres) ListProjectEnvironments(ctx context.Context, projectID string) ([]string, error) {
	rows, err := p.q.Query(ctx,
		`SELECT DISTINCT environment FROM folders WHERE project_id = $1 ORDER BY environment`, projectID,
	)
	if err != nil {
		return nil, apperr.Database("listing project environments", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var env string
		if err := rows.Scan(&env); err != nil {
			return nil, apperr.Database("scanning environment", err)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing project environments", err)
	}
	return out, nil
}

// DeleteProject removes the project row; folders, commits, checkpoints,
// memberships and tokens cascade at the schema level.
func (p *Postgres) DeleteProject(ctx context.Context, id string) error {
	tag, err := p.q.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return apperr.Database("deleting project", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("project %s not found", id)
	}
	return nil
}

// --- Folders ---

func (p *Postgres) CreateFolder(ctx context.Context, f *models.Folder) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO folders (id, project_id, environment, parent_id, name, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.ProjectID, f.Environment, f.ParentID, f.Name, f.Version, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return apperr.Database("creating folder", err)
	}
	return nil
}

func (p *Postgres) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	row := p.q.QueryRow(ctx,
		`SELECT id, project_id, environment, parent_id, name, version, created_at, updated_at
		 FROM folders WHERE id = $1`, id,
	)
	f, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("folder %s not found", id)
		}
		return nil, apperr.Database("fetching folder", err)
	}
	return f, nil
}

func (p *Postgres) GetRootFolder(ctx context.Context, projectID, environment string) (*models.Folder, error) {
	row := p.q.QueryRow(ctx,
		`SELECT id, project_id, environment, parent_id, name, version, created_at, updated_at
		 FROM folders WHERE project_id = $1 AND environment = $2 AND parent_id IS NULL`,
		projectID, environment,
	)
	f, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("no root folder for project %s environment %s", projectID, environment)
		}
		return nil, apperr.Database("fetching root folder", err)
	}
	return f, nil
}

func scanFolder(row pgx.Row) (*models.Folder, error) {
	var f models.Folder
	err := row.Scan(&f.ID, &f.ProjectID, &f.Environment, &f.ParentID, &f.Name, &f.Version,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (p *Postgres) UpdateFolder(ctx context.Context, f *models.Folder) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE folders SET name = $2, version = $3, updated_at = NOW() WHERE id = $1`,
		f.ID, f.Name, f.Version,
	)
	if err != nil {
		return apperr.Database("updating folder", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("folder %s not found", f.ID)
	}
	return nil
}

func (p *Postgres) DeleteFolder(ctx context.Context, id string) error {
	tag, err := p.q.Exec(ctx, `DELETE FROM folders WHERE id = $1`, id)
	if err != nil {
		return apperr.Database("deleting folder", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("folder %s not found", id)
	}
	return nil
}

func (p *Postgres) ListFoldersByParent(ctx context.Context, parentID string) ([]models.Folder, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, project_id, environment, parent_id, name, version, created_at, updated_at
		 FROM folders WHERE parent_id = $1 ORDER BY name`, parentID,
	)
	if err != nil {
		return nil, apperr.Database("listing folders by parent", err)
	}
	return collectFolders(rows)
}

func (p *Postgres) ListFoldersByEnv(ctx context.Context, projectID, environment string) ([]models.Folder, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, project_id, environment, parent_id, name, version, created_at, updated_at
		 FROM folders WHERE project_id = $1 AND environment = $2 ORDER BY created_at`,
		projectID, environment,
	)
	if err != nil {
		return nil, apperr.Database("listing folders by environment", err)
	}
	return collectFolders(rows)
}

func collectFolders(rows pgx.Rows) ([]models.Folder, error) {
	defer rows.Close()
	var out []models.Folder
	for rows.Next() {
		var f models.Folder
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Environment, &f.ParentID, &f.Name, &f.Version,
			&f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, apperr.Database("scanning folder", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing folders", err)
	}
	return out, nil
}

func (p *Postgres) CreateFolderVersion(ctx context.Context, v *models.FolderVersion) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO folder_versions (id, folder_id, version, name, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.FolderID, v.Version, v.Name, v.Description, v.CreatedAt,
	)
	if err != nil {
		return apperr.Database("creating folder version", err)
	}
	return nil
}

func (p *Postgres) GetFolderVersion(ctx context.Context, id string) (*models.FolderVersion, error) {
	var v models.FolderVersion
	err := p.q.QueryRow(ctx,
		`SELECT id, folder_id, version, name, description, created_at FROM folder_versions WHERE id = $1`, id,
	).Scan(&v.ID, &v.FolderID, &v.Version, &v.Name, &v.Description, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("folder version %s not found", id)
		}
		return nil, apperr.Database("fetching folder version", err)
	}
	return &v, nil
}

// LatestFolderVersions returns the highest-numbered version of each listed
// folder, keyed by folder ID. Folders with no versions are absent from the map.
func (p *Postgres) LatestFolderVersions(ctx context.Context, folderIDs []string) (map[string]*models.FolderVersion, error) {
	if len(folderIDs) == 0 {
		return map[string]*models.FolderVersion{}, nil
	}
	rows, err := p.q.Query(ctx,
		`SELECT DISTINCT ON (folder_id) id, folder_id, version, name, description, created_at
		 FROM folder_versions
		 WHERE folder_id = ANY($1)
		 ORDER BY folder_id, version DESC`,
		folderIDs,
	)
	if err != nil {
		return nil, apperr.Database("fetching latest folder versions", err)
	}
	defer rows.Close()
	out := make(map[string]*models.FolderVersion, len(folderIDs))
	for rows.Next() {
		var v models.FolderVersion
		if err := rows.Scan(&v.ID, &v.FolderID, &v.Version, &v.Name, &v.Description, &v.CreatedAt); err != nil {
			return nil, apperr.Database("scanning folder version", err)
		}
		out[v.FolderID] = &v
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("fetching latest folder versions", err)
	}
	return out, nil
}

// --- Secrets ---

func (p *Postgres) CreateSecret(ctx context.Context, s *models.Secret) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO secrets (id, folder_id, key, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.FolderID, s.Key, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return apperr.Database("creating secret", err)
	}
	return nil
}

func (p *Postgres) GetSecret(ctx context.Context, id string) (*models.Secret, error) {
	var s models.Secret
	err := p.q.QueryRow(ctx,
		`SELECT id, folder_id, key, version, created_at, updated_at FROM secrets WHERE id = $1`, id,
	).Scan(&s.ID, &s.FolderID, &s.Key, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("secret %s not found", id)
		}
		return nil, apperr.Database("fetching secret", err)
	}
	return &s, nil
}

func (p *Postgres) GetSecretByKey(ctx context.Context, folderID, key string) (*models.Secret, error) {
	var s models.Secret
	err := p.q.QueryRow(ctx,
		`SELECT id, folder_id, key, version, created_at, updated_at
		 FROM secrets WHERE folder_id = $1 AND key = $2`, folderID, key,
	).Scan(&s.ID, &s.FolderID, &s.Key, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("secret %s not found in folder %s", key, folderID)
		}
		return nil, apperr.Database("fetching secret by key", err)
	}
	return &s, nil
}

func (p *Postgres) UpdateSecret(ctx context.Context, s *models.Secret) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE secrets SET key = $2, version = $3, updated_at = NOW() WHERE id = $1`,
		s.ID, s.Key, s.Version,
	)
	if err != nil {
		return apperr.Database("updating secret", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("secret %s not found", s.ID)
	}
	return nil
}

func (p *Postgres) DeleteSecret(ctx context.Context, id string) error {
	tag, err := p.q.Exec(ctx, `DELETE FROM secrets WHERE id = $1`, id)
	if err != nil {
		return apperr.Database("deleting secret", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("secret %s not found", id)
	}
	return nil
}

func (p *Postgres) ListSecretsByFolder(ctx context.Context, folderID string) ([]models.Secret, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, folder_id, key, version, created_at, updated_at
		 FROM secrets WHERE folder_id = $1 ORDER BY key`, folderID,
	)
	if err != nil {
		return nil, apperr.Database("listing secrets", err)
	}
	defer rows.Close()
	var out []models.Secret
	for rows.Next() {
		var s models.Secret
		if err := rows.Scan(&s.ID, &s.FolderID, &s.Key, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, apperr.Database("scanning secret", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing secrets", err)
	}
	return out, nil
}

func (p *Postgres) CreateSecretVersion(ctx context.Context, v *models.SecretVersion) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO secret_versions (id, secret_id, folder_id, version, key, encrypted_value, nonce, actor_type, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.SecretID, v.FolderID, v.Version, v.Key, v.EncryptedValue, v.Nonce,
		v.ActorType, v.ActorID, v.CreatedAt,
	)
	if err != nil {
		return apperr.Database("creating secret version", err)
	}
	return nil
}

func (p *Postgres) GetSecretVersion(ctx context.Context, id string) (*models.SecretVersion, error) {
	var v models.SecretVersion
	err := p.q.QueryRow(ctx,
		`SELECT id, secret_id, folder_id, version, key, encrypted_value, nonce, actor_type, actor_id, created_at
		 FROM secret_versions WHERE id = $1`, id,
	).Scan(&v.ID, &v.SecretID, &v.FolderID, &v.Version, &v.Key, &v.EncryptedValue, &v.Nonce,
		&v.ActorType, &v.ActorID, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("secret version %s not found", id)
		}
		return nil, apperr.Database("fetching secret version", err)
	}
	return &v, nil
}

func (p *Postgres) GetSecretVersionByNumber(ctx context.Context, secretID string, version int) (*models.SecretVersion, error) {
	var v models.SecretVersion
	err := p.q.QueryRow(ctx,
		`SELECT id, secret_id, folder_id, version, key, encrypted_value, nonce, actor_type, actor_id, created_at
		 FROM secret_versions WHERE secret_id = $1 AND version = $2`, secretID, version,
	).Scan(&v.ID, &v.SecretID, &v.FolderID, &v.Version, &v.Key, &v.EncryptedValue, &v.Nonce,
		&v.ActorType, &v.ActorID, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("version %d of secret %s not found", version, secretID)
		}
		return nil, apperr.Database("fetching secret version", err)
	}
	return &v, nil
}

// LatestSecretVersionsByFolder returns, for each live secret in the folder,
// its highest-numbered version.
func (p *Postgres) LatestSecretVersionsByFolder(ctx context.Context, folderID string) ([]models.SecretVersion, error) {
	rows, err := p.q.Query(ctx,
		`SELECT DISTINCT ON (sv.secret_id)
		        sv.id, sv.secret_id, sv.folder_id, sv.version, sv.key, sv.encrypted_value, sv.nonce,
		        sv.actor_type, sv.actor_id, sv.created_at
		 FROM secret_versions sv
		 JOIN secrets s ON s.id = sv.secret_id
		 WHERE s.folder_id = $1
		 ORDER BY sv.secret_id, sv.version DESC`,
		folderID,
	)
	if err != nil {
		return nil, apperr.Database("fetching latest secret versions", err)
	}
	defer rows.Close()
	var out []models.SecretVersion
	for rows.Next() {
		var v models.SecretVersion
		if err := rows.Scan(&v.ID, &v.SecretID, &v.FolderID, &v.Version, &v.Key, &v.EncryptedValue,
			&v.Nonce, &v.ActorType, &v.ActorID, &v.CreatedAt); err != nil {
			return nil, apperr.Database("scanning secret version", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("fetching latest secret versions", err)
	}
	return out, nil
}

// --- Memberships and roles ---

func (p *Postgres) GetProjectMembership(ctx context.Context, actorType models.ActorType, actorID, projectID string) (*models.Membership, error) {
	row := p.q.QueryRow(ctx,
		`SELECT id, actor_type, actor_id, COALESCE(project_id, ''), org_id, role, custom_role_id, created_at
		 FROM memberships WHERE actor_type = $1 AND actor_id = $2 AND project_id = $3`,
		actorType, actorID, projectID,
	)
	return scanMembership(row, "fetching project membership")
}

func (p *Postgres) GetOrgMembership(ctx context.Context, actorType models.ActorType, actorID, orgID string) (*models.Membership, error) {
	row := p.q.QueryRow(ctx,
		`SELECT id, actor_type, actor_id, COALESCE(project_id, ''), org_id, role, custom_role_id, created_at
		 FROM memberships WHERE actor_type = $1 AND actor_id = $2 AND org_id = $3 AND project_id IS NULL`,
		actorType, actorID, orgID,
	)
	return scanMembership(row, "fetching org membership")
}

func scanMembership(row pgx.Row, op string) (*models.Membership, error) {
	var m models.Membership
	err := row.Scan(&m.ID, &m.ActorType, &m.ActorID, &m.ProjectID, &m.OrgID, &m.Role,
		&m.CustomRoleID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("membership not found")
		}
		return nil, apperr.Database(op, err)
	}
	return &m, nil
}

func (p *Postgres) CreateMembership(ctx context.Context, m *models.Membership) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO memberships (id, actor_type, actor_id, project_id, org_id, role, custom_role_id, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`,
		m.ID, m.ActorType, m.ActorID, m.ProjectID, m.OrgID, m.Role, m.CustomRoleID, m.CreatedAt,
	)
	if err != nil {
		return apperr.Database("creating membership", err)
	}
	return nil
}

func (p *Postgres) DeleteMembership(ctx context.Context, id string) error {
	tag, err := p.q.Exec(ctx, `DELETE FROM memberships WHERE id = $1`, id)
	if err != nil {
		return apperr.Database("deleting membership", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("membership %s not found", id)
	}
	return nil
}

func (p *Postgres) GetCustomRole(ctx context.Context, id string) (*models.CustomRole, error) {
	row := p.q.QueryRow(ctx,
		`SELECT id, slug, name, COALESCE(project_id, ''), org_id, permissions, created_at, updated_at
		 FROM custom_roles WHERE id = $1`, id,
	)
	return scanCustomRole(row)
}

func (p *Postgres) GetCustomRoleBySlug(ctx context.Context, projectID, slug string) (*models.CustomRole, error) {
	row := p.q.QueryRow(ctx,
		`SELECT id, slug, name, COALESCE(project_id, ''), org_id, permissions, created_at, updated_at
		 FROM custom_roles WHERE project_id = $1 AND slug = $2`, projectID, slug,
	)
	return scanCustomRole(row)
}

func scanCustomRole(row pgx.Row) (*models.CustomRole, error) {
	var r models.CustomRole
	var permsJSON []byte
	err := row.Scan(&r.ID, &r.Slug, &r.Name, &r.ProjectID, &r.OrgID, &permsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("custom role not found")
		}
		return nil, apperr.Database("fetching custom role", err)
	}
	if err := json.Unmarshal(permsJSON, &r.Permissions); err != nil {
		return nil, apperr.Database("decoding custom role permissions", err)
	}
	return &r, nil
}

func (p *Postgres) CreateCustomRole(ctx context.Context, r *models.CustomRole) error {
	permsJSON, err := json.Marshal(r.Permissions)
	if err != nil {
		return apperr.Database("encoding custom role permissions", err)
	}
	_, err = p.q.Exec(ctx,
		`INSERT INTO custom_roles (id, slug, name, project_id, org_id, permissions, created_at, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`,
		r.ID, r.Slug, r.Name, r.ProjectID, r.OrgID, permsJSON, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return apperr.Database("creating custom role", err)
	}
	return nil
}

func (p *Postgres) UpdateCustomRole(ctx context.Context, r *models.CustomRole) error {
	permsJSON, err := json.Marshal(r.Permissions)
	if err != nil {
		return apperr.Database("encoding custom role permissions", err)
	}
	tag, err := p.q.Exec(ctx,
		`UPDATE custom_roles SET slug = $2, name = $3, permissions = $4, updated_at = NOW() WHERE id = $1`,
		r.ID, r.Slug, r.Name, permsJSON,
	)
	if err != nil {
		return apperr.Database("updating custom role", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("custom role %s not found", r.ID)
	}
	return nil
}

func (p *Postgres) DeleteCustomRole(ctx context.Context, id string) error {
	tag, err := p.q.Exec(ctx, `DELETE FROM custom_roles WHERE id = $1`, id)
	if err != nil {
		return apperr.Database("deleting custom role", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("custom role %s not found", id)
	}
	return nil
}

func (p *Postgres) ListCustomRoles(ctx context.Context, projectID string) ([]models.CustomRole, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, slug, name, COALESCE(project_id, ''), org_id, permissions, created_at, updated_at
		 FROM custom_roles WHERE project_id = $1 ORDER BY slug`, projectID,
	)
	if err != nil {
		return nil, apperr.Database("listing custom roles", err)
	}
	defer rows.Close()
	var out []models.CustomRole
	for rows.Next() {
		var r models.CustomRole
		var permsJSON []byte
		if err := rows.Scan(&r.ID, &r.Slug, &r.Name, &r.ProjectID, &r.OrgID, &permsJSON,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, apperr.Database("scanning custom role", err)
		}
		if err := json.Unmarshal(permsJSON, &r.Permissions); err != nil {
			return nil, apperr.Database("decoding custom role permissions", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing custom roles", err)
	}
	return out, nil
}

// --- Service tokens ---

func (p *Postgres) CreateServiceToken(ctx context.Context, t *models.ServiceToken, tokenHash string) error {
	trustedJSON, err := json.Marshal(t.TrustedIPs)
	if err != nil {
		return apperr.Database("encoding trusted ips", err)
	}
	_, err = p.q.Exec(ctx,
		`INSERT INTO service_tokens (id, token_hash, name, kind, project_id, org_id, role, custom_role_id, trusted_ips, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, tokenHash, t.Name, t.Kind, t.ProjectID, t.OrgID, t.Role, t.CustomRoleID,
		trustedJSON, t.CreatedAt, nullableTime(t.ExpiresAt),
	)
	if err != nil {
		return apperr.Database("creating service token", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *Postgres) GetServiceTokenByHash(ctx context.Context, tokenHash string) (*models.ServiceToken, error) {
	row := p.q.QueryRow(ctx,
		`SELECT id, name, kind, project_id, org_id, role, custom_role_id, trusted_ips, created_at, expires_at, last_used_at, revoked_at
		 FROM service_tokens WHERE token_hash = $1`, tokenHash,
	)
	return scanServiceToken(row)
}

func (p *Postgres) GetServiceToken(ctx context.Context, id string) (*models.ServiceToken, error) {
	row := p.q.QueryRow(ctx,
		`SELECT id, name, kind, project_id, org_id, role, custom_role_id, trusted_ips, created_at, expires_at, last_used_at, revoked_at
		 FROM service_tokens WHERE id = $1`, id,
	)
	return scanServiceToken(row)
}

func scanServiceToken(row pgx.Row) (*models.ServiceToken, error) {
	var t models.ServiceToken
	var trustedJSON []byte
	var expiresAt *time.Time
	err := row.Scan(&t.ID, &t.Name, &t.Kind, &t.ProjectID, &t.OrgID, &t.Role, &t.CustomRoleID,
		&trustedJSON, &t.CreatedAt, &expiresAt, &t.LastUsedAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("service token not found")
		}
		return nil, apperr.Database("fetching service token", err)
	}
	if expiresAt != nil {
		t.ExpiresAt = *expiresAt
	}
	if err := json.Unmarshal(trustedJSON, &t.TrustedIPs); err != nil {
		return nil, apperr.Database("decoding trusted ips", err)
	}
	return &t, nil
}

func (p *Postgres) ListServiceTokens(ctx context.Context, projectID string) ([]models.ServiceToken, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, name, kind, project_id, org_id, role, custom_role_id, trusted_ips, created_at, expires_at, last_used_at, revoked_at
		 FROM service_tokens WHERE project_id = $1 ORDER BY created_at`, projectID,
	)
	if err != nil {
		return nil, apperr.Database("listing service tokens", err)
	}
	defer rows.Close()
	var out []models.ServiceToken
	for rows.Next() {
		var t models.ServiceToken
		var trustedJSON []byte
		var expiresAt *time.Time
		if err := rows.Scan(&t.ID, &t.Name, &t.Kind, &t.ProjectID, &t.OrgID, &t.Role, &t.CustomRoleID,
			&trustedJSON, &t.CreatedAt, &expiresAt, &t.LastUsedAt, &t.RevokedAt); err != nil {
			return nil, apperr.Database("scanning service token", err)
		}
		if expiresAt != nil {
			t.ExpiresAt = *expiresAt
		}
		if err := json.Unmarshal(trustedJSON, &t.TrustedIPs); err != nil {
			return nil, apperr.Database("decoding trusted ips", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("listing service tokens", err)
	}
	return out, nil
}

func (p *Postgres) RevokeServiceToken(ctx context.Context, id string) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE service_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id,
	)
	if err != nil {
		return apperr.Database("revoking service token", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("service token %s not found or already revoked", id)
	}
	return nil
}

func (p *Postgres) TouchServiceToken(ctx context.Context, id string, usedAt time.Time) error {
	_, err := p.q.Exec(ctx,
		`UPDATE service_tokens SET last_used_at = $2 WHERE id = $1`, id, usedAt,
	)
	if err != nil {
		return apperr.Database("touching service token", err)
	}
	return nil
}

// --- Audit ---

func (p *Postgres) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}
	_, err = p.q.Exec(ctx,
		`INSERT INTO audit_log (request_id, timestamp, actor_type, actor_id, project_id, operation, path, status, response_code, response_time_ms, client_ip, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.RequestID, entry.Timestamp, entry.ActorType, entry.ActorID, entry.ProjectID,
		entry.Operation, entry.Path, entry.Status, entry.ResponseCode, entry.ResponseTimeMs,
		entry.ClientIP, metaJSON,
	)
	if err != nil {
		return apperr.Database("writing audit entry", err)
	}
	return nil
}

func (p *Postgres) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, request_id, timestamp, actor_type, actor_id, project_id, operation, path, status, response_code, response_time_ms, client_ip, metadata FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.ProjectID != "" {
		fmt.Fprintf(&query, ` AND project_id = $%d`, n)
		args = append(args, filter.ProjectID)
		n++
	}
	if filter.Path != "" {
		fmt.Fprintf(&query, ` AND path LIKE $%d`, n)
		args = append(args, filter.Path+"%")
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.q.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, apperr.Database("querying audit log", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.ActorType, &e.ActorID, &e.ProjectID,
			&e.Operation, &e.Path, &e.Status, &e.ResponseCode, &e.ResponseTimeMs, &e.ClientIP, &metaJSON); err != nil {
			return nil, apperr.Database("scanning audit entry", err)
		}
		json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("querying audit log", err)
	}
	return entries, nil
}

// --- Metrics ---

func (p *Postgres) CountSecrets(ctx context.Context) (int64, error) {
	var count int64
	err := p.q.QueryRow(ctx, `SELECT COUNT(*) FROM secrets`).Scan(&count)
	if err != nil {
		return 0, apperr.Database("counting secrets", err)
	}
	return count, nil
}

func (p *Postgres) CountCommits(ctx context.Context) (int64, error) {
	var count int64
	err := p.q.QueryRow(ctx, `SELECT COUNT(*) FROM folder_commits`).Scan(&count)
	if err != nil {
		return 0, apperr.Database("counting commits", err)
	}
	return count, nil
}
