// Package server assembles the uiforge orchestration server.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//	srv.Shutdown(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/agentoven/uiforge/internal/agent"
	"github.com/agentoven/uiforge/internal/api"
	"github.com/agentoven/uiforge/internal/api/handlers"
	"github.com/agentoven/uiforge/internal/api/middleware"
	"github.com/agentoven/uiforge/internal/archive"
	"github.com/agentoven/uiforge/internal/config"
	"github.com/agentoven/uiforge/internal/dna"
	"github.com/agentoven/uiforge/internal/pipeline"
	"github.com/agentoven/uiforge/internal/sessions"
	"github.com/agentoven/uiforge/internal/telemetry"
	"github.com/agentoven/uiforge/internal/validate"
	"github.com/agentoven/uiforge/internal/workflow"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized orchestration server.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Engine runs pipelines. Exposed for embedding without HTTP.
	Engine *workflow.Engine

	// DNA is the design-DNA store.
	DNA dna.Store

	Config *config.Config
	Port   int

	handlers     *handlers.Handlers
	recorder     *telemetry.Recorder
	stopJanitor  context.CancelFunc
	shutdownOTel func(context.Context) error
}

// New initializes every component from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes every component from an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownOTel, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Design-DNA store: PostgreSQL when configured, in-memory otherwise
	var store dna.Store
	if cfg.DNA.DatabaseURL != "" {
		pg, err := dna.NewPostgresStore(ctx, cfg.DNA.DatabaseURL)
		if err != nil {
			shutdownOTel(ctx)
			return nil, fmt.Errorf("init dna store: %w", err)
		}
		store = pg
		log.Info().Msg("✅ PostgreSQL design-DNA store initialized")
	} else {
		store = dna.NewMemoryStore()
		log.Info().Msg("✅ In-memory design-DNA store initialized")
	}

	// Model adapter
	svc := agent.NewHTTPService(cfg.Model.URL, cfg.Model.APIKey, cfg.Model.Timeout)
	adapter := agent.NewAdapter(svc, agent.WithRateLimit(cfg.Model.RequestsPerSec, cfg.Model.Burst))
	if err := svc.HealthCheck(ctx); err != nil {
		log.Warn().Err(err).Str("url", cfg.Model.URL).Msg("Model service not reachable yet")
	}
	log.Info().Str("url", cfg.Model.URL).Float64("rps", cfg.Model.RequestsPerSec).Msg("✅ Model adapter initialized")

	// Archive + retention
	var archiver archive.Archiver
	stopJanitor := func() {}
	if cfg.Archive.Enabled {
		local := archive.NewLocalArchiver(cfg.Archive.Dir, cfg.Archive.Compress)
		if err := local.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Str("path", local.BasePath()).Msg("Archive directory not writable, archiving disabled")
		} else {
			archiver = local
			log.Info().Str("path", local.BasePath()).Msg("✅ Artifact archive initialized")
			if cfg.Archive.Retention > 0 {
				jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
				go archive.NewJanitor(local, cfg.Archive.Retention, cfg.Archive.SweepInterval).Start(jctx)
				stopJanitor = cancel
			}
		}
	}

	registry := pipeline.NewRegistry()
	recorder := telemetry.NewRecorder(cfg.Telemetry.BufferSize)

	engine, err := workflow.NewEngine(workflow.Deps{
		Invoker:   adapter,
		Sessions:  sessions.NewManager(cfg.Engine.ContextWindow),
		DNA:       store,
		Registry:  registry,
		Recorder:  recorder,
		Validator: validate.NewStructural(),
		Archiver:  archiver,
	}, workflow.OptionsFromConfig(cfg.Engine))
	if err != nil {
		stopJanitor()
		recorder.Close()
		store.Close()
		shutdownOTel(ctx)
		return nil, fmt.Errorf("init engine: %w", err)
	}
	opts := engine.Options()
	log.Info().
		Int("max_concurrency", opts.MaxConcurrency).
		Float64("threshold", opts.QualityThreshold).
		Int("max_attempts", opts.MaxAttempts).
		Msg("✅ Workflow engine initialized")

	h := handlers.New(engine, registry, archiver)
	auth := middleware.NewAPIKeyAuth(cfg.APIKeys)
	if auth.Enabled() {
		log.Info().Msg("🔐 API key auth enabled")
	}

	return &Server{
		Handler:      api.NewRouter(cfg, h, auth),
		Engine:       engine,
		DNA:          store,
		Config:       cfg,
		Port:         cfg.Port,
		handlers:     h,
		recorder:     recorder,
		stopJanitor:  stopJanitor,
		shutdownOTel: shutdownOTel,
	}, nil
}

// Shutdown waits for async runs, then releases every component.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.handlers.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for runs: %w", err))
	}
	s.stopJanitor()
	s.recorder.Close()
	if err := s.DNA.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dna store: %w", err))
	}
	if err := s.shutdownOTel(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}
