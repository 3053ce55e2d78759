package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/internal/audit"
	"github.com/org/secretplane/internal/auth"
	"github.com/org/secretplane/internal/commit"
	"github.com/org/secretplane/internal/crypto"
	"github.com/org/secretplane/internal/permission"
	"github.com/org/secretplane/internal/secret"
	"github.com/org/secretplane/internal/storage"
	"github.com/org/secretplane/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// rootActorID identifies the bootstrap admin user behind the configured
// admin token.
const rootActorID = "root"

// Config holds server configuration.
type Config struct {
	ListenAddr           string
	TLSCertFile          string
	TLSKeyFile           string
	OrgID                string
	AdminToken           string
	CheckpointWindow     int64
	TreeCheckpointWindow int64
}

// AuditLogger is the interface the server needs from an audit logger.
type AuditLogger interface {
	LogRequest(ctx context.Context, entry *models.AuditEntry)
	Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Server is the API server.
type Server struct {
	store    storage.Store
	tokens   *auth.TokenService
	resolver *permission.Resolver
	secrets  *secret.Service
	commits  *commit.Service
	auditor  AuditLogger
	cfg      Config
	httpSrv  *http.Server
	logger   zerolog.Logger
}

// NewServer creates a fully wired Server.
func NewServer(store storage.Store, sealer *crypto.Sealer, cfg Config, logger zerolog.Logger) *Server {
	resolver := permission.NewResolver(store)
	commitSvc := commit.NewService(store, commit.Config{
		CheckpointWindow:     cfg.CheckpointWindow,
		TreeCheckpointWindow: cfg.TreeCheckpointWindow,
	}, logger)
	secretSvc := secret.NewService(store, resolver, sealer, commitSvc, logger)

	return &Server{
		store:    store,
		tokens:   auth.NewTokenService(store),
		resolver: resolver,
		secrets:  secretSvc,
		commits:  commitSvc,
		auditor:  audit.NewLogger(store, logger),
		cfg:      cfg,
		logger:   logger,
	}
}

// Bootstrap ensures the root user holds an org admin membership so the
// configured admin token can create projects and issue tokens. Safe to call
// on every start.
func (s *Server) Bootstrap(ctx context.Context) error {
	if s.cfg.AdminToken == "" || s.cfg.OrgID == "" {
		return nil
	}
	_, err := s.store.GetOrgMembership(ctx, models.ActorUser, rootActorID, s.cfg.OrgID)
	if err == nil {
		return nil
	}
	if !apperr.IsNotFound(err) {
		return err
	}
	return s.store.CreateMembership(ctx, &models.Membership{
		ID:        uuid.NewString(),
		ActorType: models.ActorUser,
		ActorID:   rootActorID,
		OrgID:     s.cfg.OrgID,
		Role:      models.RoleAdmin,
		CreatedAt: time.Now().UTC(),
	})
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes (no auth required)
	r.Get("/v1/sys/health", s.HealthHandler)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.auditMiddleware)

		// Projects
		r.Post("/v1/projects", s.ProjectCreateHandler)
		r.Get("/v1/projects", s.ProjectListHandler)
		r.Get("/v1/projects/{projectID}", s.ProjectGetHandler)
		r.Delete("/v1/projects/{projectID}", s.ProjectDeleteHandler)
		r.Post("/v1/projects/{projectID}/initialize", s.ProjectInitializeHandler)
		r.Get("/v1/projects/{projectID}/environments", s.EnvironmentListHandler)

		// Folders
		r.Post("/v1/projects/{projectID}/environments/{env}/folders", s.FolderCreateHandler)
		r.Get("/v1/projects/{projectID}/environments/{env}/folders", s.FolderListHandler)
		r.Patch("/v1/projects/{projectID}/environments/{env}/folders", s.FolderRenameHandler)
		r.Delete("/v1/projects/{projectID}/environments/{env}/folders", s.FolderDeleteHandler)

		// Secrets
		r.Get("/v1/projects/{projectID}/environments/{env}/secrets", s.SecretListHandler)
		r.Get("/v1/projects/{projectID}/environments/{env}/secrets/{key}", s.SecretGetHandler)
		r.Post("/v1/projects/{projectID}/environments/{env}/secrets/{key}", s.SecretSetHandler)
		r.Delete("/v1/projects/{projectID}/environments/{env}/secrets/{key}", s.SecretDeleteHandler)

		// Commit history
		r.Get("/v1/projects/{projectID}/environments/{env}/commits", s.CommitListHandler)
		r.Get("/v1/projects/{projectID}/commits/compare", s.CommitCompareHandler)
		r.Get("/v1/projects/{projectID}/commits/{commitID}", s.CommitGetHandler)
		r.Get("/v1/projects/{projectID}/commits/{commitID}/state", s.CommitStateHandler)
		r.Post("/v1/projects/{projectID}/commits/{commitID}/revert", s.CommitRevertHandler)
		r.Get("/v1/projects/{projectID}/environments/{env}/checkpoints", s.CheckpointListHandler)
		r.Post("/v1/projects/{projectID}/environments/{env}/checkpoints", s.CheckpointCreateHandler)

		// Custom roles
		r.Post("/v1/projects/{projectID}/roles", s.RoleCreateHandler)
		r.Get("/v1/projects/{projectID}/roles", s.RoleListHandler)
		r.Put("/v1/projects/{projectID}/roles/{roleID}", s.RoleUpdateHandler)
		r.Delete("/v1/projects/{projectID}/roles/{roleID}", s.RoleDeleteHandler)

		// Memberships
		r.Post("/v1/projects/{projectID}/memberships", s.MembershipCreateHandler)

		// Service tokens
		r.Post("/v1/projects/{projectID}/tokens", s.TokenCreateHandler)
		r.Get("/v1/projects/{projectID}/tokens", s.TokenListHandler)
		r.Delete("/v1/projects/{projectID}/tokens/{tokenID}", s.TokenRevokeHandler)

		// Audit log
		r.Get("/v1/projects/{projectID}/audit-log", s.AuditLogHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}
	s.collectGauges(ctx)
	s.startGaugeLoop(ctx, 30*time.Second)

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
