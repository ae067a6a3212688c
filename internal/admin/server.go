// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package admin serves the daemon's operational HTTP surface: health
// and readiness probes, the Prometheus scrape endpoint, a JSON API for
// inspecting and driving the sync and merge queues, the backup catalog,
// and a WebSocket pushing periodic status frames.
//
// The server binds loopback by default. It carries no authentication;
// exposing it beyond the local host is an operator decision.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"timeclerk/internal/backup"
	"timeclerk/internal/state"
)

// ServiceVersion reports through /healthz and /api/v1/status.
const ServiceVersion = "1.0.0"

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Probe reports root reachability. Satisfied by *probe.Prober.
type Probe interface {
	LocalAvailable() bool
	NetworkAvailable() bool
}

// SyncController is the slice of the sync service the API drives.
// Satisfied by *syncer.Service.
type SyncController interface {
	Pending(ctx context.Context) ([]state.SyncState, error)
	RetryNow(ctx context.Context) (int, error)
	Clear(ctx context.Context) (int, error)
}

// MergeQueue is the pending-merge queue surface. Satisfied by
// *merge.Queue.
type MergeQueue interface {
	Pending(ctx context.Context) ([]state.MergeState, error)
	Count(ctx context.Context) (int, error)
	Retry(ctx context.Context, fn func(ctx context.Context, username string) error) (int, error)
	Clear(ctx context.Context) (int, error)
}

// MergeStrategy is the slice of the merge strategy the API drives.
// Satisfied by *merge.Strategy.
type MergeStrategy interface {
	ForceFullMergeOnNextLogin(ctx context.Context, username string) error
	TriggerFullMergeNow(ctx context.Context, username string) error
}

// BackupCatalog lists captured backups. Satisfied by *backup.Service.
type BackupCatalog interface {
	ListAvailableBackups(path string) ([]backup.Record, error)
}

// Deps carries the services the admin surface fronts.
//
// Prober, Syncer, MergeQueue, and Merges are required. Backups is
// optional; without it the backup endpoint answers 503. RunMerge is
// the function the merge retry endpoint hands to the queue, and
// SyncPath replicates a single document by local path; either left
// nil disables its endpoint with a 503.
type Deps struct {
	Prober   Probe
	Syncer   SyncController
	MergeQ   MergeQueue
	Merges   MergeStrategy
	Backups  BackupCatalog
	RunMerge func(ctx context.Context, username string) error
	SyncPath func(ctx context.Context, localPath string) error
	Logger   *slog.Logger
}

// =============================================================================
// Server
// =============================================================================

// Config controls the admin server.
type Config struct {
	// Listen is the bind address, host:port.
	// Default: 127.0.0.1:7171.
	Listen string

	// StatusInterval is how often the WebSocket pushes a status frame.
	// Default: 5s.
	StatusInterval time.Duration

	// ShutdownTimeout bounds the graceful drain on Run's exit.
	// Default: 5s.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the standard admin server configuration.
func DefaultConfig() Config {
	return Config{
		Listen:          "127.0.0.1:7171",
		StatusInterval:  5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server is the admin HTTP server.
type Server struct {
	config   Config
	engine   *gin.Engine
	handlers *Handlers
	logger   *slog.Logger
}

// NewServer validates deps, builds the router, and returns a server
// ready for Run.
//
// # Inputs
//
//   - cfg: Bind address and intervals; zero fields take defaults.
//   - deps: The services to front. See Deps for which are required.
//
// # Outputs
//
//   - *Server: Ready to Run.
//   - error: Non-nil if a required dependency is missing.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Prober == nil {
		return nil, fmt.Errorf("probe is required")
	}
	if deps.Syncer == nil {
		return nil, fmt.Errorf("sync controller is required")
	}
	if deps.MergeQ == nil {
		return nil, fmt.Errorf("merge queue is required")
	}
	if deps.Merges == nil {
		return nil, fmt.Errorf("merge strategy is required")
	}

	def := DefaultConfig()
	if cfg.Listen == "" {
		cfg.Listen = def.Listen
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "admin")

	handlers := NewHandlers(deps, cfg.StatusInterval, logger)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("timeclerk-admin"))
	registerRoutes(engine, handlers)

	return &Server{
		config:   cfg,
		engine:   engine,
		handlers: handlers,
		logger:   logger,
	}, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then drains within
// ShutdownTimeout.
//
// # Outputs
//
//   - error: Non-nil if the listener failed or the drain timed out.
//     A canceled context is a normal exit and returns nil.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", "addr", s.config.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("admin server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return <-errCh
}

// registerRoutes wires all admin endpoints.
//
// Endpoints:
//
//	GET  /healthz - Liveness check
//	GET  /readyz - Readiness check (local root reachable)
//	GET  /metrics - Prometheus scrape endpoint
//	GET  /ws - WebSocket status frames
//
//	GET  /api/v1/status - One status snapshot
//	GET  /api/v1/sync/pending - Pending replication pairs
//	POST /api/v1/sync/now - Replicate one document immediately
//	POST /api/v1/sync/retry - Force a sweep of pending pairs
//	POST /api/v1/sync/clear - Drop all pending pairs
//	GET  /api/v1/merge/queue - Users awaiting a full merge
//	POST /api/v1/merge/retry - Retry pending merges
//	POST /api/v1/merge/clear - Drop pending merge flags
//	POST /api/v1/merge/force/:user - Force a full merge for one user
//	GET  /api/v1/backups?path= - Backups captured for a document
func registerRoutes(engine *gin.Engine, h *Handlers) {
	engine.GET("/healthz", h.HandleHealth)
	engine.GET("/readyz", h.HandleReady)
	engine.GET("/metrics", h.HandleMetrics)
	engine.GET("/ws", h.HandleStatusSocket)

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/status", h.HandleStatus)

		syncGroup := v1.Group("/sync")
		{
			syncGroup.GET("/pending", h.HandleSyncPending)
			syncGroup.POST("/now", h.HandleSyncNow)
			syncGroup.POST("/retry", h.HandleSyncRetry)
			syncGroup.POST("/clear", h.HandleSyncClear)
		}

		mergeGroup := v1.Group("/merge")
		{
			mergeGroup.GET("/queue", h.HandleMergeQueue)
			mergeGroup.POST("/retry", h.HandleMergeRetry)
			mergeGroup.POST("/clear", h.HandleMergeClear)
			mergeGroup.POST("/force/:user", h.HandleMergeForce)
		}

		v1.GET("/backups", h.HandleBackups)
	}
}
