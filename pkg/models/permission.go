package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the verb a permission rule governs.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Subject is the resource category a permission rule governs.
type Subject string

const (
	SubjectSecrets        Subject = "secrets"
	SubjectSecretFolders  Subject = "secret-folders"
	SubjectSecretRollback Subject = "secret-rollback"
	SubjectCommits        Subject = "commits"
	SubjectRole           Subject = "role"
	SubjectMember         Subject = "member"
	SubjectEnvironments   Subject = "environments"
	SubjectTags           Subject = "tags"
	SubjectAuditLogs      Subject = "audit-logs"
	SubjectIPAllowlist    Subject = "ip-allowlist"
	SubjectServiceTokens  Subject = "service-tokens"
	SubjectSettings       Subject = "settings"
	SubjectIntegrations   Subject = "integrations"
	SubjectWebhooks       Subject = "webhooks"
	SubjectIdentity       Subject = "identity"
	SubjectProject        Subject = "workspace"
)

// Role is a named permission bundle. Built-in roles map to prebuilt rule
// sets; RoleCustom defers to a persisted custom role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
	RoleCustom Role = "custom"
)

// Condition is a field-level constraint narrowing when a rule applies.
// Exactly one of Eq and Glob is set. In the persisted JSON form a bare
// string means equality and {"$glob": pattern} means glob matching.
type Condition struct {
	Eq   string
	Glob string
}

// UnmarshalJSON accepts either a literal string or an operator object.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var lit string
	if err := json.Unmarshal(data, &lit); err == nil {
		c.Eq = lit
		return nil
	}
	var ops map[string]string
	if err := json.Unmarshal(data, &ops); err != nil {
		return fmt.Errorf("condition must be a string or operator object: %w", err)
	}
	for op, val := range ops {
		switch op {
		case "$eq":
			c.Eq = val
		case "$glob":
			c.Glob = val
		default:
			return fmt.Errorf("unknown condition operator %q", op)
		}
	}
	return nil
}

// MarshalJSON emits the compact form: a bare string for equality.
func (c Condition) MarshalJSON() ([]byte, error) {
	if c.Glob != "" {
		return json.Marshal(map[string]string{"$glob": c.Glob})
	}
	return json.Marshal(c.Eq)
}

// Rule grants an action on a subject, optionally narrowed by conditions
// keyed by instance field name ("environment", "secretPath"). Rules are
// immutable once built.
type Rule struct {
	Action     Action               `json:"action"`
	Subject    Subject              `json:"subject"`
	Conditions map[string]Condition `json:"conditions,omitempty"`
}

// SubjectFields carries the instance fields a scoped rule can match on.
type SubjectFields struct {
	Environment string
	SecretPath  string
}

// Field returns the named instance field, or "" and false if unknown.
func (f SubjectFields) Field(name string) (string, bool) {
	switch name {
	case "environment":
		return f.Environment, true
	case "secretPath":
		return f.SecretPath, true
	}
	return "", false
}

// CustomRole is an organization- or project-defined rule set, as opposed to
// a fixed built-in role. Permissions are persisted as raw JSON rules and
// deserialized per-request into an evaluable permission.
type CustomRole struct {
	ID          string
	Slug        string
	Name        string
	ProjectID   string // empty for org-scoped roles
	OrgID       string
	Permissions []Rule
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Membership binds an actor to a scope with a role.
type Membership struct {
	ID           string
	ActorType    ActorType
	ActorID      string
	ProjectID    string // empty for org memberships
	OrgID        string
	Role         Role
	CustomRoleID *string
	CreatedAt    time.Time
}
