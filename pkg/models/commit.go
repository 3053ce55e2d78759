package models

import "time"

// ChangeType classifies one recorded change inside a commit.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
	// ChangeCreate appears only in computed diffs, never in stored changes.
	ChangeCreate ChangeType = "create"
)

// FolderCommit is one atomic, ordered record of changes to a folder's
// contents. CommitID is a monotonic sequence: within a folder it strictly
// increases with insertion order (gaps are tolerated, ordering is not).
type FolderCommit struct {
	ID            string
	CommitID      int64
	FolderID      string
	ProjectID     string
	Environment   string
	ActorType     ActorType
	ActorMetadata map[string]string
	Message       string
	CreatedAt     time.Time
}

// FolderCommitChange records one resource change owned by a commit.
// Exactly one of SecretVersionID and FolderVersionID is set.
type FolderCommitChange struct {
	ID              string
	FolderCommitID  string
	ChangeType      ChangeType
	SecretVersionID *string
	FolderVersionID *string
	IsUpdate        bool
	CreatedAt       time.Time
}

// FolderCheckpoint marks that a full resource snapshot exists as of the
// referenced commit. Checkpoints are sparse: one every checkpoint-window
// commits, not one per commit.
type FolderCheckpoint struct {
	ID             string
	FolderCommitID string
	CreatedAt      time.Time
}

// FolderCheckpointResource is one entry of a checkpoint's materialized
// resource set: the latest version of a live secret or sub-folder at the
// checkpoint's commit.
type FolderCheckpointResource struct {
	ID                 string
	FolderCheckpointID string
	SecretVersionID    *string
	FolderVersionID    *string
}

// FolderTreeCheckpoint is the environment-wide analogue of a folder
// checkpoint: a snapshot of every folder's latest commit, used to
// reconstruct project-wide state without walking each folder's history.
type FolderTreeCheckpoint struct {
	ID             string
	FolderCommitID string
	ProjectID      string
	Environment    string
	CreatedAt      time.Time
}

// FolderTreeCheckpointResource pins one folder to its latest commit at the
// time the tree checkpoint was taken.
type FolderTreeCheckpointResource struct {
	ID                     string
	FolderTreeCheckpointID string
	FolderID               string
	FolderCommitID         string
}

// ResourceType discriminates entries in reconstructed folder state.
type ResourceType string

const (
	ResourceSecret ResourceType = "secret"
	ResourceFolder ResourceType = "folder"
)

// ResourceState is one live resource in a folder's reconstructed state at
// some commit: the resource's stable ID plus the version that was current.
type ResourceState struct {
	Type      ResourceType
	ID        string
	VersionID string
	Name      string
	Version   int
}

// ResourceChange is one difference between two reconstructed folder states.
type ResourceChange struct {
	Type        ResourceType
	ID          string
	VersionID   string
	ChangeType  ChangeType
	Name        string
	Version     int
	FromVersion int
}

// CommitChangeDetail is a commit change joined with the referenced
// resource's identity, as returned by history queries.
type CommitChangeDetail struct {
	FolderCommitChange
	SecretID      string
	SecretKey     string
	SecretVersion int
	FolderID      string
	FolderName    string
	FolderVersion int
}

// CheckpointResourceDetail is a checkpoint resource joined with the
// referenced resource's identity.
type CheckpointResourceDetail struct {
	FolderCheckpointResource
	SecretID      string
	SecretKey     string
	SecretVersion int
	FolderID      string
	FolderName    string
	FolderVersion int
}
