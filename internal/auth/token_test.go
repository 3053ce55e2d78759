package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTokenReturnsPlaintextOnce(t *testing.T) {
	svc := NewTokenService(storage.NewMemory())
	ctx := context.Background()

	tok, plaintext, err := svc.CreateToken(ctx, CreateTokenInput{
		Name: "ci", Kind: models.TokenKindScoped, ProjectID: "p1", OrgID: "o1",
		Role: models.RoleMember,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plaintext, "spt_"))
	assert.NotEmpty(t, tok.ID)
	assert.Equal(t, models.RoleMember, tok.Role)
	// The default allowlist is attached when none is given.
	require.Len(t, tok.TrustedIPs, 2)
}

func TestCreateTokenValidation(t *testing.T) {
	svc := NewTokenService(storage.NewMemory())
	ctx := context.Background()

	_, _, err := svc.CreateToken(ctx, CreateTokenInput{Kind: models.TokenKindScoped, ProjectID: "p1"})
	assert.True(t, apperr.IsBadRequest(err), "missing name")

	_, _, err = svc.CreateToken(ctx, CreateTokenInput{Name: "x", Kind: models.TokenKindScoped})
	assert.True(t, apperr.IsBadRequest(err), "missing project")

	_, _, err = svc.CreateToken(ctx, CreateTokenInput{Name: "x", Kind: "bogus", ProjectID: "p1"})
	assert.True(t, apperr.IsBadRequest(err), "unknown kind")
}

func TestAuthenticateLegacyToken(t *testing.T) {
	svc := NewTokenService(storage.NewMemory())
	ctx := context.Background()

	tok, plaintext, err := svc.CreateToken(ctx, CreateTokenInput{
		Name: "deploy", Kind: models.TokenKindLegacy, ProjectID: "p1", OrgID: "o1",
	})
	require.NoError(t, err)

	actor, err := svc.Authenticate(ctx, plaintext, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, models.ActorService, actor.Type)
	assert.Equal(t, tok.ID, actor.ID)
	assert.Equal(t, "p1", actor.ProjectID)
}

func TestAuthenticateScopedToken(t *testing.T) {
	mem := storage.NewMemory()
	svc := NewTokenService(mem)
	ctx := context.Background()

	prefix := 24
	tok, plaintext, err := svc.CreateToken(ctx, CreateTokenInput{
		Name: "ci", Kind: models.TokenKindScoped, ProjectID: "p1", OrgID: "o1",
		Role: models.RoleMember,
		TrustedIPs: []models.TrustedIP{
			{IPAddress: "10.0.0.0", Type: models.IPv4, Prefix: &prefix},
		},
	})
	require.NoError(t, err)

	actor, err := svc.Authenticate(ctx, plaintext, "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, models.ActorServiceV3, actor.Type)
	assert.Equal(t, "10.0.0.7", actor.IPAddress)
	require.Len(t, actor.TrustedIPs, 1)

	// Scoped tokens resolve through RBAC; issuing one creates the membership.
	m, err := mem.GetProjectMembership(ctx, models.ActorServiceV3, tok.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, m.Role)

	// Outside the allowlist the token is rejected at use.
	_, err = svc.Authenticate(ctx, plaintext, "192.0.2.1")
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestAuthenticateUnknownToken(t *testing.T) {
	svc := NewTokenService(storage.NewMemory())
	_, err := svc.Authenticate(context.Background(), "spt_nope", "127.0.0.1")
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestAuthenticateExpiredToken(t *testing.T) {
	svc := NewTokenService(storage.NewMemory())
	ctx := context.Background()

	_, plaintext, err := svc.CreateToken(ctx, CreateTokenInput{
		Name: "short", Kind: models.TokenKindLegacy, ProjectID: "p1",
		TTL: time.Nanosecond,
	})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, err = svc.Authenticate(ctx, plaintext, "127.0.0.1")
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestAuthenticateRevokedToken(t *testing.T) {
	svc := NewTokenService(storage.NewMemory())
	ctx := context.Background()

	tok, plaintext, err := svc.CreateToken(ctx, CreateTokenInput{
		Name: "ci", Kind: models.TokenKindLegacy, ProjectID: "p1",
	})
	require.NoError(t, err)
	require.NoError(t, svc.RevokeToken(ctx, tok.ID))

	_, err = svc.Authenticate(ctx, plaintext, "127.0.0.1")
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestAuthenticateTouchesLastUsed(t *testing.T) {
	mem := storage.NewMemory()
	svc := NewTokenService(mem)
	ctx := context.Background()

	tok, plaintext, err := svc.CreateToken(ctx, CreateTokenInput{
		Name: "ci", Kind: models.TokenKindLegacy, ProjectID: "p1",
	})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, plaintext, "127.0.0.1")
	require.NoError(t, err)

	got, err := mem.GetServiceToken(ctx, tok.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)
}

func TestListTokens(t *testing.T) {
	svc := NewTokenService(storage.NewMemory())
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		_, _, err := svc.CreateToken(ctx, CreateTokenInput{
			Name: name, Kind: models.TokenKindLegacy, ProjectID: "p1",
		})
		require.NoError(t, err)
	}
	_, _, err := svc.CreateToken(ctx, CreateTokenInput{
		Name: "other", Kind: models.TokenKindLegacy, ProjectID: "p2",
	})
	require.NoError(t, err)

	tokens, err := svc.ListTokens(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, tokens, 2)
}
