package models

import "time"

// ActorType discriminates the authenticated party behind a request. It is
// resolved once at the authentication boundary and carried as a plain value;
// nothing downstream depends on how the actor was persisted.
type ActorType string

const (
	// ActorUser is a human user authenticated through a session.
	ActorUser ActorType = "user"
	// ActorService is a legacy workspace-bound service token. RBAC does not
	// apply to it; it always resolves to a fixed viewer-equivalent permission.
	ActorService ActorType = "service"
	// ActorServiceV3 is a scoped service token carrying a role and an
	// optional trusted-IP allowlist.
	ActorServiceV3 ActorType = "service-v3"
	// ActorIdentity is a machine identity (universal auth and friends).
	ActorIdentity ActorType = "identity"
	// ActorPlatform marks internal operations such as history backfills.
	ActorPlatform ActorType = "platform"
)

// Actor is the authenticated party making a request.
type Actor struct {
	Type ActorType
	ID   string
	Name string

	// ProjectID is the bound workspace for service-token actors.
	ProjectID string
	// OrgID is the organization the actor authenticated under.
	OrgID string

	// IPAddress is the remote address the request arrived from, used for
	// trusted-IP enforcement on scoped tokens and identities.
	IPAddress string
	// TrustedIPs is the allowlist attached to the actor's credential.
	// Empty means the credential carries the default trust-everything entries.
	TrustedIPs []TrustedIP
}

// IPType tags a trusted IP entry so v4 and v6 formats are never guessed
// from the address string.
type IPType string

const (
	IPv4 IPType = "ipv4"
	IPv6 IPType = "ipv6"
)

// TrustedIP is one entry of a credential's allowlist: an exact address or,
// when Prefix is set, a CIDR block.
type TrustedIP struct {
	IPAddress string `json:"ipAddress"`
	Type      IPType `json:"type"`
	Prefix    *int   `json:"prefix,omitempty"`
}

// DefaultTrustedIPs is the "trust everything" allowlist attached to newly
// issued credentials, making IP restriction opt-in.
func DefaultTrustedIPs() []TrustedIP {
	v4 := 0
	v6 := 0
	return []TrustedIP{
		{IPAddress: "0.0.0.0", Type: IPv4, Prefix: &v4},
		{IPAddress: "::", Type: IPv6, Prefix: &v6},
	}
}

// ServiceToken is an opaque bearer credential for machine access. Kind
// distinguishes legacy workspace-bound tokens from scoped (v3) tokens.
type ServiceToken struct {
	ID           string
	Name         string
	Kind         TokenKind
	ProjectID    string
	OrgID        string
	Role         Role
	CustomRoleID *string
	TrustedIPs   []TrustedIP
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastUsedAt   *time.Time
	RevokedAt    *time.Time
}

// TokenKind distinguishes service token generations.
type TokenKind string

const (
	TokenKindLegacy TokenKind = "legacy"
	TokenKindScoped TokenKind = "scoped"
)

// IsExpired returns true if the token has passed its expiry time.
func (t *ServiceToken) IsExpired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// IsRevoked returns true if the token has been revoked.
func (t *ServiceToken) IsRevoked() bool {
	return t.RevokedAt != nil
}
