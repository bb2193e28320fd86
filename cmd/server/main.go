package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"agent-toolgate/internal/analysis"
	"agent-toolgate/internal/api"
	"agent-toolgate/internal/cache"
	"agent-toolgate/internal/config"
	"agent-toolgate/internal/monitor"
	"agent-toolgate/internal/policy"
	"agent-toolgate/internal/storage"
	"agent-toolgate/internal/validator"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()
	tracer := monitor.NewTracer()

	// Database is optional for the in-memory backend; without it the audit
	// trail and the /validations endpoint are disabled.
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			if cfg.Cache.Backend == "postgres" {
				log.Fatal().Err(err).Msg("postgres cache backend requires a reachable database")
			}
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()
			if err := db.EnsureSchema(ctx); err != nil {
				log.Fatal().Err(err).Msg("failed to ensure database schema")
			}
		}
	}

	var store cache.Store
	if cfg.Cache.Backend == "postgres" {
		store = storage.NewArtifactStore(db)
	} else {
		store = cache.NewMemoryStore()
	}
	artifacts := cache.New(storage.NewInstrumentedStore(store, metrics), log.Logger)

	// Policy source: file-backed with hot reload when configured, otherwise
	// the built-in default policy.
	var policies policy.Source
	if cfg.Policy.Path != "" {
		fileSource, err := policy.NewFileSource(cfg.Policy.Path, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Policy.Path).Msg("failed to load policy file")
		}
		if cfg.Policy.Watch {
			if err := fileSource.Watch(); err != nil {
				log.Warn().Err(err).Msg("policy hot reload unavailable")
			}
		}
		defer fileSource.Close()
		policies = fileSource
	} else {
		policies = policy.NewStaticSource(policy.Default())
	}

	var audit storage.AuditSink = storage.NopSink{}
	if db != nil {
		auditWriter := storage.NewAuditWriter(db, cfg.Database.AuditBuffer)
		auditWriter.Start()
		defer auditWriter.Flush(10 * time.Second)
		audit = auditWriter
	}

	v := validator.New(
		analysis.NewRegistry(),
		policies,
		artifacts,
		audit,
		metrics,
		tracer,
		log.Logger,
		validator.Options{
			Budget:         cfg.Validation.Budget,
			AnalyzerBudget: cfg.Validation.AnalyzerBudget,
			MaxCodeBytes:   cfg.Validation.MaxCodeBytes,
		},
	)

	server := api.NewServer(cfg, v, artifacts, db, policies, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("cache_backend", cfg.Cache.Backend).
		Bool("db_enabled", db != nil).
		Str("policy_id", policies.Current().PolicyID).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
