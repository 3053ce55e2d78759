package main

import (
	"context"
	"encoding/base64"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/secretplane/internal/api"
	"github.com/org/secretplane/internal/crypto"
	"github.com/org/secretplane/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr           string `yaml:"listen_addr"`
	TLSCertFile          string `yaml:"tls_cert"`
	TLSKeyFile           string `yaml:"tls_key"`
	DBUrl                string `yaml:"db_url"`
	MigrationsDir        string `yaml:"migrations_dir"`
	OrgID                string `yaml:"org_id"`
	AdminToken           string `yaml:"admin_token"`
	RootKey              string `yaml:"root_key"` // base64, 32 bytes
	CheckpointWindow     int64  `yaml:"checkpoint_window"`
	TreeCheckpointWindow int64  `yaml:"tree_checkpoint_window"`
	LogLevel             string `yaml:"log_level"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("SECRETPLANE_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8300",
		MigrationsDir: "migrations",
		OrgID:         "default",
		LogLevel:      "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("SECRETPLANE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("SECRETPLANE_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("SECRETPLANE_ROOT_KEY"); v != "" {
		cfg.RootKey = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}
	if cfg.RootKey == "" {
		log.Fatal().Msg("root_key must be configured (or SECRETPLANE_ROOT_KEY env var)")
	}
	rootKey, err := base64.StdEncoding.DecodeString(cfg.RootKey)
	if err != nil {
		log.Fatal().Err(err).Msg("root_key must be base64")
	}
	sealer, err := crypto.NewSealer(rootKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid root key")
	}

	ctx := context.Background()

	// Connect to database
	store, err := storage.NewPostgres(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	// Create server
	srv := api.NewServer(store, sealer, api.Config{
		ListenAddr:           cfg.ListenAddr,
		TLSCertFile:          cfg.TLSCertFile,
		TLSKeyFile:           cfg.TLSKeyFile,
		OrgID:                cfg.OrgID,
		AdminToken:           cfg.AdminToken,
		CheckpointWindow:     cfg.CheckpointWindow,
		TreeCheckpointWindow: cfg.TreeCheckpointWindow,
	}, log.Logger)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
