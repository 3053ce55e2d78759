package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/pkg/models"
)

// Memory is an in-memory Store for tests and local development. It honors
// the interface's lookup and ordering semantics (including commit sequence
// assignment) but provides no transactional rollback: Transaction simply
// runs fn against the same store.
type Memory struct {
	mu  sync.Mutex
	seq int64

	projects        map[string]*models.Project
	folders         map[string]*models.Folder
	folderVersions  map[string]*models.FolderVersion
	secrets         map[string]*models.Secret
	secretVersions  map[string]*models.SecretVersion
	commits         map[string]*models.FolderCommit
	commitChanges   map[string][]models.FolderCommitChange
	checkpoints     map[string]*models.FolderCheckpoint
	checkpointRes   map[string][]models.FolderCheckpointResource
	treeCheckpoints map[string]*models.FolderTreeCheckpoint
	treeCkptRes     map[string][]models.FolderTreeCheckpointResource
	memberships     map[string]*models.Membership
	customRoles     map[string]*models.CustomRole
	serviceTokens   map[string]*models.ServiceToken
	tokenHashes     map[string]string
	audit           []*models.AuditEntry
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects:        map[string]*models.Project{},
		folders:         map[string]*models.Folder{},
		folderVersions:  map[string]*models.FolderVersion{},
		secrets:         map[string]*models.Secret{},
		secretVersions:  map[string]*models.SecretVersion{},
		commits:         map[string]*models.FolderCommit{},
		commitChanges:   map[string][]models.FolderCommitChange{},
		checkpoints:     map[string]*models.FolderCheckpoint{},
		checkpointRes:   map[string][]models.FolderCheckpointResource{},
		treeCheckpoints: map[string]*models.FolderTreeCheckpoint{},
		treeCkptRes:     map[string][]models.FolderTreeCheckpointResource{},
		memberships:     map[string]*models.Membership{},
		customRoles:     map[string]*models.CustomRole{},
		serviceTokens:   map[string]*models.ServiceToken{},
		tokenHashes:     map[string]string{},
	}
}

func (m *Memory) Close() {}

func (m *Memory) Transaction(_ context.Context, fn func(tx Store) error) error {
	return fn(m)
}

// --- Projects ---

func (m *Memory) CreateProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *Memory) GetProject(_ context.Context, id string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, apperr.NotFound("project %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListProjects(_ context.Context, orgID string) ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Project
	for _, p := range m.projects {
		if p.OrgID == orgID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListProjectEnvironments(_ context.Context, projectID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, f := range m.folders {
		if f.ProjectID == projectID {
			seen[f.Environment] = true
		}
	}
	out := make([]string, 0, len(seen))
	for env := range seen {
		out = append(out, env)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return apperr.NotFound("project %s not found", id)
	}
	delete(m.projects, id)
	for fid, f := range m.folders {
		if f.ProjectID == id {
			delete(m.folders, fid)
		}
	}
	for cid, c := range m.commits {
		if c.ProjectID == id {
			delete(m.commits, cid)
			delete(m.commitChanges, cid)
		}
	}
	for cpid, cp := range m.checkpoints {
		if _, ok := m.commits[cp.FolderCommitID]; !ok {
			delete(m.checkpoints, cpid)
			delete(m.checkpointRes, cpid)
		}
	}
	for tcid, tc := range m.treeCheckpoints {
		if tc.ProjectID == id {
			delete(m.treeCheckpoints, tcid)
			delete(m.treeCkptRes, tcid)
		}
	}
	for mid, mem := range m.memberships {
		if mem.ProjectID == id {
			delete(m.memberships, mid)
		}
	}
	for tid, t := range m.serviceTokens {
		if t.ProjectID == id {
			delete(m.serviceTokens, tid)
		}
	}
	return nil
}

// --- Folders ---

func (m *Memory) CreateFolder(_ context.Context, f *models.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.folders[f.ID] = &cp
	return nil
}

func (m *Memory) GetFolder(_ context.Context, id string) (*models.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		return nil, apperr.NotFound("folder %s not found", id)
	}
	cp := *f
	return &cp, nil
}

func (m *Memory) GetRootFolder(_ context.Context, projectID, environment string) (*models.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.folders {
		if f.ProjectID == projectID && f.Environment == environment && f.ParentID == nil {
			cp := *f
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("no root folder for project %s environment %s", projectID, environment)
}

func (m *Memory) UpdateFolder(_ context.Context, f *models.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.folders[f.ID]
	if !ok {
		return apperr.NotFound("folder %s not found", f.ID)
	}
	cur.Name = f.Name
	cur.Version = f.Version
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteFolder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[id]; !ok {
		return apperr.NotFound("folder %s not found", id)
	}
	delete(m.folders, id)
	return nil
}

func (m *Memory) ListFoldersByParent(_ context.Context, parentID string) ([]models.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Folder
	for _, f := range m.folders {
		if f.ParentID != nil && *f.ParentID == parentID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListFoldersByEnv(_ context.Context, projectID, environment string) ([]models.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Folder
	for _, f := range m.folders {
		if f.ProjectID == projectID && f.Environment == environment {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateFolderVersion(_ context.Context, v *models.FolderVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.folderVersions[v.ID] = &cp
	return nil
}

func (m *Memory) GetFolderVersion(_ context.Context, id string) (*models.FolderVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.folderVersions[id]
	if !ok {
		return nil, apperr.NotFound("folder version %s not found", id)
	}
	cp := *v
	return &cp, nil
}

func (m *Memory) LatestFolderVersions(_ context.Context, folderIDs []string) (map[string]*models.FolderVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range folderIDs {
		want[id] = true
	}
	out := map[string]*models.FolderVersion{}
	for _, v := range m.folderVersions {
		if !want[v.FolderID] {
			continue
		}
		if cur, ok := out[v.FolderID]; !ok || v.Version > cur.Version {
			cp := *v
			out[v.FolderID] = &cp
		}
	}
	return out, nil
}

// --- Secrets ---

func (m *Memory) CreateSecret(_ context.Context, s *models.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.secrets[s.ID] = &cp
	return nil
}

func (m *Memory) GetSecret(_ context.Context, id string) (*models.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[id]
	if !ok {
		return nil, apperr.NotFound("secret %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) GetSecretByKey(_ context.Context, folderID, key string) (*models.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.secrets {
		if s.FolderID == folderID && s.Key == key {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("secret %s not found in folder %s", key, folderID)
}

func (m *Memory) UpdateSecret(_ context.Context, s *models.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.secrets[s.ID]
	if !ok {
		return apperr.NotFound("secret %s not found", s.ID)
	}
	cur.Key = s.Key
	cur.Version = s.Version
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteSecret(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[id]; !ok {
		return apperr.NotFound("secret %s not found", id)
	}
	delete(m.secrets, id)
	return nil
}

func (m *Memory) ListSecretsByFolder(_ context.Context, folderID string) ([]models.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Secret
	for _, s := range m.secrets {
		if s.FolderID == folderID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) CreateSecretVersion(_ context.Context, v *models.SecretVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.secretVersions[v.ID] = &cp
	return nil
}

func (m *Memory) GetSecretVersion(_ context.Context, id string) (*models.SecretVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.secretVersions[id]
	if !ok {
		return nil, apperr.NotFound("secret version %s not found", id)
	}
	cp := *v
	return &cp, nil
}

func (m *Memory) GetSecretVersionByNumber(_ context.Context, secretID string, version int) (*models.SecretVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.secretVersions {
		if v.SecretID == secretID && v.Version == version {
			cp := *v
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("version %d of secret %s not found", version, secretID)
}

func (m *Memory) LatestSecretVersionsByFolder(_ context.Context, folderID string) ([]models.SecretVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := map[string]*models.SecretVersion{}
	for _, v := range m.secretVersions {
		s, live := m.secrets[v.SecretID]
		if !live || s.FolderID != folderID {
			continue
		}
		if cur, ok := latest[v.SecretID]; !ok || v.Version > cur.Version {
			latest[v.SecretID] = v
		}
	}
	var out []models.SecretVersion
	for _, v := range latest {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// --- Folder commits ---

func (m *Memory) CreateFolderCommit(_ context.Context, c *models.FolderCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	c.CommitID = m.seq
	cp := *c
	m.commits[c.ID] = &cp
	return nil
}

func (m *Memory) InsertCommitChanges(_ context.Context, changes []models.FolderCommitChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range changes {
		m.commitChanges[ch.FolderCommitID] = append(m.commitChanges[ch.FolderCommitID], ch)
	}
	return nil
}

func (m *Memory) GetFolderCommit(_ context.Context, id string) (*models.FolderCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[id]
	if !ok {
		return nil, apperr.NotFound("commit %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) GetFolderCommitBySeq(_ context.Context, folderID string, seq int64) (*models.FolderCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commits {
		if c.FolderID == folderID && c.CommitID == seq {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("commit %d not found in folder %s", seq, folderID)
}

func (m *Memory) commitsOf(folderID string) []*models.FolderCommit {
	var out []*models.FolderCommit
	for _, c := range m.commits {
		if c.FolderID == folderID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommitID < out[j].CommitID })
	return out
}

func (m *Memory) LatestFolderCommit(_ context.Context, folderID string) (*models.FolderCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.commitsOf(folderID)
	if len(all) == 0 {
		return nil, nil
	}
	cp := *all[len(all)-1]
	return &cp, nil
}

func (m *Memory) LatestEnvCommit(_ context.Context, projectID, environment string) (*models.FolderCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.FolderCommit
	for _, c := range m.commits {
		if c.ProjectID == projectID && c.Environment == environment {
			if best == nil || c.CommitID > best.CommitID {
				best = c
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *Memory) CountCommitsSince(_ context.Context, folderID string, afterSeq int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.commits {
		if c.FolderID == folderID && c.CommitID > afterSeq {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountEnvCommitsSince(_ context.Context, projectID, environment string, afterSeq int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.commits {
		if c.ProjectID == projectID && c.Environment == environment && c.CommitID > afterSeq {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListFolderCommits(_ context.Context, folderID string, limit, offset int) ([]models.FolderCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.commitsOf(folderID)
	// Newest first.
	var out []models.FolderCommit
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, *all[i])
	}
	return out, nil
}

func (m *Memory) ListCommitsBetween(_ context.Context, folderID string, afterSeq, throughSeq int64) ([]models.FolderCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.FolderCommit
	for _, c := range m.commitsOf(folderID) {
		if c.CommitID > afterSeq && c.CommitID <= throughSeq {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *Memory) ListCommitChanges(_ context.Context, folderCommitID string) ([]models.CommitChangeDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommitChangeDetail
	for _, ch := range m.commitChanges[folderCommitID] {
		d := models.CommitChangeDetail{FolderCommitChange: ch}
		m.fillVersionDetail(&d.SecretID, &d.SecretKey, &d.SecretVersion,
			&d.FolderID, &d.FolderName, &d.FolderVersion, ch.SecretVersionID, ch.FolderVersionID)
		out = append(out, d)
	}
	return out, nil
}

func (m *Memory) fillVersionDetail(secretID *string, secretKey *string, secretVersion *int,
	folderID *string, folderName *string, folderVersion *int, svID, fvID *string) {
	if svID != nil {
		if sv, ok := m.secretVersions[*svID]; ok {
			*secretID = sv.SecretID
			*secretKey = sv.Key
			*secretVersion = sv.Version
		}
	}
	if fvID != nil {
		if fv, ok := m.folderVersions[*fvID]; ok {
			*folderID = fv.FolderID
			*folderName = fv.Name
			*folderVersion = fv.Version
		}
	}
}

// --- Folder checkpoints ---

func (m *Memory) CreateFolderCheckpoint(_ context.Context, c *models.FolderCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.checkpoints[c.ID] = &cp
	return nil
}

func (m *Memory) InsertCheckpointResources(_ context.Context, resources []models.FolderCheckpointResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range resources {
		m.checkpointRes[r.FolderCheckpointID] = append(m.checkpointRes[r.FolderCheckpointID], r)
	}
	return nil
}

func (m *Memory) checkpointSeq(cp *models.FolderCheckpoint) (string, int64) {
	c, ok := m.commits[cp.FolderCommitID]
	if !ok {
		return "", 0
	}
	return c.FolderID, c.CommitID
}

func (m *Memory) LatestFolderCheckpoint(_ context.Context, folderID string) (*models.FolderCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.FolderCheckpoint
	var bestSeq int64
	for _, cp := range m.checkpoints {
		fid, seq := m.checkpointSeq(cp)
		if fid == folderID && (best == nil || seq > bestSeq) {
			best, bestSeq = cp, seq
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (m *Memory) NearestCheckpoint(_ context.Context, folderID string, maxSeq int64) (*models.FolderCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.FolderCheckpoint
	var bestSeq int64
	for _, cp := range m.checkpoints {
		fid, seq := m.checkpointSeq(cp)
		if fid == folderID && seq <= maxSeq && (best == nil || seq > bestSeq) {
			best, bestSeq = cp, seq
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (m *Memory) ListCheckpointResources(_ context.Context, checkpointID string) ([]models.CheckpointResourceDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CheckpointResourceDetail
	for _, r := range m.checkpointRes[checkpointID] {
		d := models.CheckpointResourceDetail{FolderCheckpointResource: r}
		m.fillVersionDetail(&d.SecretID, &d.SecretKey, &d.SecretVersion,
			&d.FolderID, &d.FolderName, &d.FolderVersion, r.SecretVersionID, r.FolderVersionID)
		out = append(out, d)
	}
	return out, nil
}

func (m *Memory) ListFolderCheckpoints(_ context.Context, folderID string) ([]models.FolderCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type pair struct {
		cp  *models.FolderCheckpoint
		seq int64
	}
	var pairs []pair
	for _, cp := range m.checkpoints {
		fid, seq := m.checkpointSeq(cp)
		if fid == folderID {
			pairs = append(pairs, pair{cp, seq})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].seq > pairs[j].seq })
	out := make([]models.FolderCheckpoint, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, *p.cp)
	}
	return out, nil
}

func (m *Memory) CheckpointCommitSeq(_ context.Context, checkpointID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[checkpointID]
	if !ok {
		return 0, apperr.NotFound("checkpoint %s not found", checkpointID)
	}
	_, seq := m.checkpointSeq(cp)
	return seq, nil
}

// --- Folder tree checkpoints ---

func (m *Memory) CreateFolderTreeCheckpoint(_ context.Context, c *models.FolderTreeCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.treeCheckpoints[c.ID] = &cp
	return nil
}

func (m *Memory) InsertTreeCheckpointResources(_ context.Context, resources []models.FolderTreeCheckpointResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range resources {
		m.treeCkptRes[r.FolderTreeCheckpointID] = append(m.treeCkptRes[r.FolderTreeCheckpointID], r)
	}
	return nil
}

func (m *Memory) treeCheckpointSeq(tc *models.FolderTreeCheckpoint) int64 {
	if c, ok := m.commits[tc.FolderCommitID]; ok {
		return c.CommitID
	}
	return 0
}

func (m *Memory) LatestTreeCheckpoint(_ context.Context, projectID, environment string) (*models.FolderTreeCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.FolderTreeCheckpoint
	for _, tc := range m.treeCheckpoints {
		if tc.ProjectID == projectID && tc.Environment == environment {
			if best == nil || m.treeCheckpointSeq(tc) > m.treeCheckpointSeq(best) {
				best = tc
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (m *Memory) NearestTreeCheckpoint(_ context.Context, projectID, environment string, maxSeq int64) (*models.FolderTreeCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.FolderTreeCheckpoint
	for _, tc := range m.treeCheckpoints {
		if tc.ProjectID != projectID || tc.Environment != environment {
			continue
		}
		seq := m.treeCheckpointSeq(tc)
		if seq <= maxSeq && (best == nil || seq > m.treeCheckpointSeq(best)) {
			best = tc
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (m *Memory) ListTreeCheckpointResources(_ context.Context, treeCheckpointID string) ([]models.FolderTreeCheckpointResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.FolderTreeCheckpointResource(nil), m.treeCkptRes[treeCheckpointID]...), nil
}

// --- Memberships and roles ---

func (m *Memory) GetProjectMembership(_ context.Context, actorType models.ActorType, actorID, projectID string) (*models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.memberships {
		if mem.ActorType == actorType && mem.ActorID == actorID && mem.ProjectID == projectID {
			cp := *mem
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("membership not found")
}

func (m *Memory) GetOrgMembership(_ context.Context, actorType models.ActorType, actorID, orgID string) (*models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.memberships {
		if mem.ActorType == actorType && mem.ActorID == actorID && mem.OrgID == orgID && mem.ProjectID == "" {
			cp := *mem
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("membership not found")
}

func (m *Memory) CreateMembership(_ context.Context, mem *models.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mem
	m.memberships[mem.ID] = &cp
	return nil
}

func (m *Memory) DeleteMembership(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.memberships[id]; !ok {
		return apperr.NotFound("membership %s not found", id)
	}
	delete(m.memberships, id)
	return nil
}

func (m *Memory) GetCustomRole(_ context.Context, id string) (*models.CustomRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.customRoles[id]
	if !ok {
		return nil, apperr.NotFound("custom role not found")
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) GetCustomRoleBySlug(_ context.Context, projectID, slug string) (*models.CustomRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.customRoles {
		if r.ProjectID == projectID && r.Slug == slug {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("custom role not found")
}

func (m *Memory) CreateCustomRole(_ context.Context, r *models.CustomRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.customRoles[r.ID] = &cp
	return nil
}

func (m *Memory) UpdateCustomRole(_ context.Context, r *models.CustomRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customRoles[r.ID]; !ok {
		return apperr.NotFound("custom role %s not found", r.ID)
	}
	cp := *r
	cp.UpdatedAt = time.Now().UTC()
	m.customRoles[r.ID] = &cp
	return nil
}

func (m *Memory) DeleteCustomRole(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customRoles[id]; !ok {
		return apperr.NotFound("custom role %s not found", id)
	}
	delete(m.customRoles, id)
	return nil
}

func (m *Memory) ListCustomRoles(_ context.Context, projectID string) ([]models.CustomRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CustomRole
	for _, r := range m.customRoles {
		if r.ProjectID == projectID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// --- Service tokens ---

func (m *Memory) CreateServiceToken(_ context.Context, t *models.ServiceToken, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.serviceTokens[t.ID] = &cp
	m.tokenHashes[tokenHash] = t.ID
	return nil
}

func (m *Memory) GetServiceTokenByHash(_ context.Context, tokenHash string) (*models.ServiceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokenHashes[tokenHash]
	if !ok {
		return nil, apperr.NotFound("service token not found")
	}
	cp := *m.serviceTokens[id]
	return &cp, nil
}

func (m *Memory) GetServiceToken(_ context.Context, id string) (*models.ServiceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.serviceTokens[id]
	if !ok {
		return nil, apperr.NotFound("service token not found")
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ListServiceTokens(_ context.Context, projectID string) ([]models.ServiceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ServiceToken
	for _, t := range m.serviceTokens {
		if t.ProjectID == projectID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) RevokeServiceToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.serviceTokens[id]
	if !ok || t.RevokedAt != nil {
		return apperr.NotFound("service token %s not found or already revoked", id)
	}
	now := time.Now().UTC()
	t.RevokedAt = &now
	return nil
}

func (m *Memory) TouchServiceToken(_ context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.serviceTokens[id]; ok {
		t.LastUsedAt = &usedAt
	}
	return nil
}

// --- Audit ---

func (m *Memory) WriteAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	cp.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *Memory) QueryAuditLog(_ context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.ProjectID != "" && e.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Path != "" && !strings.HasPrefix(e.Path, filter.Path) {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Metrics ---

func (m *Memory) CountSecrets(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.secrets)), nil
}

func (m *Memory) CountCommits(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.commits)), nil
}
