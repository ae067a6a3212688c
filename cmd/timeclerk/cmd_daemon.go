// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"timeclerk/internal/admin"
	"timeclerk/internal/backup"
	"timeclerk/internal/telemetry"
	"timeclerk/pkg/ux"
)

func runDaemon(cmd *cobra.Command, args []string) {
	if err := daemonMain(); err != nil {
		log.Fatalf("Daemon exited with error: %v", err)
	}
}

// daemonMain hosts the background loops until SIGINT/SIGTERM: the sync
// sweep, the backup sweep, the merge retry loop, and the admin API.
// Deferred teardown runs before the caller decides the exit code.
func daemonMain() error {
	gin.SetMode(gin.ReleaseMode)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := buildLogger(cfg, "daemon")
	defer logger.Close()
	slogger := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sealed in-memory snapshots must not survive the process.
	defer backup.PurgeSecureMemory()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slogger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("assemble services: %w", err)
	}
	defer rt.close()

	runMerge := rt.mergeRunner()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.syncSvc.Run(gctx) })
	g.Go(func() error { return rt.backups.Run(gctx) })
	g.Go(func() error {
		rt.mergeRetryLoop(gctx, runMerge)
		return nil
	})

	if cfg.Admin.Enabled {
		adminSrv, err := admin.NewServer(admin.Config{
			Listen:         cfg.Admin.Listen,
			StatusInterval: cfg.Admin.StatusInterval(),
		}, admin.Deps{
			Prober:   rt.prober,
			Syncer:   rt.syncSvc,
			MergeQ:   rt.queue,
			Merges:   rt.strategy,
			Backups:  rt.backups,
			RunMerge: runMerge,
			SyncPath: rt.syncPathRunner(),
			Logger:   slogger,
		})
		if err != nil {
			return fmt.Errorf("build admin server: %w", err)
		}
		g.Go(func() error { return adminSrv.Run(gctx) })
	}

	slogger.Info("daemon started",
		"local_root", cfg.Storage.LocalRoot,
		"network_root", cfg.Storage.NetworkRoot,
		"admin_enabled", cfg.Admin.Enabled)
	ux.Success("Daemon running. Press Ctrl+C to stop.")

	err = g.Wait()
	slogger.Info("daemon stopped")
	return err
}
