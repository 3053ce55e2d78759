package models

import "time"

// Project is the top-level scope that owns environments and folders.
type Project struct {
	ID        string
	Name      string
	OrgID     string
	CreatedAt time.Time
}

// Folder is one node of a project's secret hierarchy. A nil ParentID marks
// an environment's root folder.
type Folder struct {
	ID          string
	ProjectID   string
	Environment string
	ParentID    *string
	Name        string
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FolderVersion is one immutable version of a folder's own attributes.
type FolderVersion struct {
	ID          string
	FolderID    string
	Version     int
	Name        string
	Description string
	CreatedAt   time.Time
}

// Secret is the mutable head of a secret; its content lives in versions.
type Secret struct {
	ID        string
	FolderID  string
	Key       string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SecretVersion is one immutable, sealed version of a secret's value.
type SecretVersion struct {
	ID             string
	SecretID       string
	FolderID       string
	Version        int
	Key            string
	EncryptedValue []byte
	Nonce          []byte
	ActorType      ActorType
	ActorID        string
	CreatedAt      time.Time
}

// AuditEntry records a single request event. Secret values never appear
// here, only metadata.
type AuditEntry struct {
	ID             int64
	RequestID      string
	Timestamp      time.Time
	ActorType      ActorType
	ActorID        string
	ProjectID      string
	Operation      string
	Path           string
	Status         string
	ResponseCode   int
	ResponseTimeMs int64
	ClientIP       string
	Metadata       map[string]any
}
