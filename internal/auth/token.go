// Package auth issues and validates the opaque bearer credentials machines
// use against the API: legacy workspace-bound service tokens and scoped
// tokens carrying a role plus an optional trusted-IP allowlist.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/internal/permission"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
)

const tokenPrefix = "spt_"

// TokenService issues, validates and revokes service tokens.
type TokenService struct {
	store storage.Store
}

// NewTokenService creates a TokenService backed by the given storage.
func NewTokenService(store storage.Store) *TokenService {
	return &TokenService{store: store}
}

// CreateTokenInput describes a token to issue.
type CreateTokenInput struct {
	Name         string
	Kind         models.TokenKind
	ProjectID    string
	OrgID        string
	Role         models.Role
	CustomRoleID *string
	TrustedIPs   []models.TrustedIP
	TTL          time.Duration
}

// CreateToken issues a new service token. Only the SHA-256 hash is stored;
// the plaintext is returned once and cannot be recovered. Tokens issued
// without trusted IPs get the default trust-everything entries, making IP
// restriction opt-in.
func (s *TokenService) CreateToken(ctx context.Context, in CreateTokenInput) (*models.ServiceToken, string, error) {
	if in.Name == "" {
		return nil, "", apperr.BadRequest("token name is required")
	}
	if in.ProjectID == "" {
		return nil, "", apperr.BadRequest("token must be bound to a project")
	}
	switch in.Kind {
	case models.TokenKindLegacy, models.TokenKindScoped:
	default:
		return nil, "", apperr.BadRequest("unknown token kind %q", in.Kind)
	}
	if in.Kind == models.TokenKindLegacy {
		// Legacy tokens predate RBAC; any requested role is ignored.
		in.Role = models.RoleViewer
		in.CustomRoleID = nil
	}
	if in.Role == "" {
		in.Role = models.RoleViewer
	}
	if len(in.TrustedIPs) == 0 {
		in.TrustedIPs = models.DefaultTrustedIPs()
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", apperr.Database("generating token", err)
	}
	plaintext := tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	var expiresAt time.Time
	if in.TTL > 0 {
		expiresAt = now.Add(in.TTL)
	}
	t := &models.ServiceToken{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Kind:         in.Kind,
		ProjectID:    in.ProjectID,
		OrgID:        in.OrgID,
		Role:         in.Role,
		CustomRoleID: in.CustomRoleID,
		TrustedIPs:   in.TrustedIPs,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}

	err := s.store.Transaction(ctx, func(tx storage.Store) error {
		if err := tx.CreateServiceToken(ctx, t, hashToken(plaintext)); err != nil {
			return err
		}
		if t.Kind != models.TokenKindScoped {
			return nil
		}
		// Scoped tokens resolve through RBAC like any other actor, so they
		// need a membership row in the bound project.
		return tx.CreateMembership(ctx, &models.Membership{
			ID:           uuid.NewString(),
			ActorType:    models.ActorServiceV3,
			ActorID:      t.ID,
			ProjectID:    t.ProjectID,
			OrgID:        t.OrgID,
			Role:         t.Role,
			CustomRoleID: t.CustomRoleID,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, "", err
	}
	return t, plaintext, nil
}

// Authenticate resolves a plaintext token into an actor. Scoped tokens run
// the trusted-IP check here, at token use; the permission resolver runs it
// again per scope so neither enforcement point can be bypassed.
func (s *TokenService) Authenticate(ctx context.Context, plaintext, remoteIP string) (*models.Actor, error) {
	t, err := s.store.GetServiceTokenByHash(ctx, hashToken(plaintext))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Unauthorized("invalid token")
		}
		return nil, err
	}
	if t.IsRevoked() {
		return nil, apperr.Unauthorized("token has been revoked")
	}
	if t.IsExpired() {
		return nil, apperr.Unauthorized("token has expired")
	}

	actorType := models.ActorService
	if t.Kind == models.TokenKindScoped {
		actorType = models.ActorServiceV3
		if err := permission.CheckAgainstBlocklist(remoteIP, t.TrustedIPs); err != nil {
			return nil, err
		}
	}

	_ = s.store.TouchServiceToken(ctx, t.ID, time.Now().UTC())

	return &models.Actor{
		Type:       actorType,
		ID:         t.ID,
		Name:       t.Name,
		ProjectID:  t.ProjectID,
		OrgID:      t.OrgID,
		IPAddress:  remoteIP,
		TrustedIPs: t.TrustedIPs,
	}, nil
}

// RevokeToken revokes a token by id.
func (s *TokenService) RevokeToken(ctx context.Context, id string) error {
	return s.store.RevokeServiceToken(ctx, id)
}

// ListTokens lists a project's tokens.
func (s *TokenService) ListTokens(ctx context.Context, projectID string) ([]models.ServiceToken, error) {
	return s.store.ListServiceTokens(ctx, projectID)
}

func hashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
