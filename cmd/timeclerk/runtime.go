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
	"log/slog"
	"time"

	"timeclerk/internal/backup"
	"timeclerk/internal/config"
	"timeclerk/internal/merge"
	"timeclerk/internal/paths"
	"timeclerk/internal/probe"
	"timeclerk/internal/state"
	"timeclerk/internal/syncer"
	"timeclerk/internal/telemetry"
	"timeclerk/internal/transaction"
	"timeclerk/pkg/logging"
)

// loadConfig resolves the configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFrom(cfgPath)
	}
	return config.Load()
}

// buildLogger maps the logging section onto a logger, honoring
// --log-level.
func buildLogger(cfg *config.Config, service string) *logging.Logger {
	level := logging.ParseLevel(cfg.Logging.Level)
	if logLevel != "" {
		level = logging.ParseLevel(logLevel)
	}
	return logging.New(logging.Config{
		Level:      level,
		LogFile:    cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Service:    service,
		JSON:       cfg.Logging.JSON,
	})
}

// cliSlog returns a quiet structured logger for one-shot commands so
// component internals do not interleave with ux output. --log-level
// lowers the threshold for troubleshooting.
func cliSlog() *slog.Logger {
	level := logging.LevelWarn
	if logLevel != "" {
		level = logging.ParseLevel(logLevel)
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: "cli",
	}).Slog()
}

// telemetryConfig maps the telemetry section onto the OTel setup. The
// config file is the authority; environment defaults apply only where
// it is silent.
func telemetryConfig(cfg *config.Config) telemetry.Config {
	tc := telemetry.DefaultConfig()
	if cfg.Telemetry.ServiceName != "" {
		tc.ServiceName = cfg.Telemetry.ServiceName
	}
	if !cfg.Telemetry.MetricsEnabled {
		tc.MetricExporter = "none"
	}
	if cfg.Telemetry.TracingEnabled {
		tc.TraceExporter = "otlp"
		if cfg.Telemetry.OTLPEndpoint != "" {
			tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
		}
	} else {
		tc.TraceExporter = "none"
	}
	return tc
}

// runtime is the service graph the daemon runs: the sweep loops, their
// shared state store, and the transaction manager whose construction
// clears descriptors left behind by a crashed process.
type runtime struct {
	cfg      *config.Config
	logger   *logging.Logger
	resolver *paths.Resolver
	states   *state.Store
	prober   *probe.Prober
	syncSvc  *syncer.Service
	txns     *transaction.Manager
	backups  *backup.Service
	queue    *merge.Queue
	strategy *merge.Strategy
}

// buildRuntime assembles the daemon's services from the configuration.
// The returned runtime owns the state store; call close when done.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*runtime, error) {
	slogger := logger.Slog()

	resolver, err := paths.NewResolver(cfg.Storage.LocalRoot, cfg.Storage.NetworkRoot)
	if err != nil {
		return nil, fmt.Errorf("path resolver: %w", err)
	}

	states, err := state.Open(state.Config{
		Path:       cfg.Storage.RegistryDir(),
		SyncWrites: true,
	}, slogger)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	prober := probe.New(probe.Config{
		LocalRoot:   cfg.Storage.LocalRoot,
		NetworkRoot: cfg.Storage.NetworkRoot,
		Timeout:     cfg.Storage.ProbeTimeout(),
		CacheTTL:    cfg.Storage.ProbeCacheTTL(),
	}, slogger)

	syncSvc, err := syncer.New(syncer.Config{
		QueueSize:      cfg.Sync.QueueSize,
		Workers:        cfg.Sync.Workers,
		SweepInterval:  cfg.Sync.SweepInterval(),
		BackoffBase:    cfg.Sync.BackoffBase(),
		BackoffCap:     cfg.Sync.BackoffCap,
		JitterFactor:   cfg.Sync.JitterFactor,
		RatePerSecond:  cfg.Sync.RatePerSecond,
		RateBurst:      cfg.Sync.RateBurst,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	}, states, prober, slogger)
	if err != nil {
		states.Close()
		return nil, fmt.Errorf("sync service: %w", err)
	}

	txns, err := transaction.NewManager(transaction.Config{
		StateDir:       cfg.Storage.TransactionDir(),
		CleanupOnInit:  true,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
	}, syncSvc, slogger)
	if err != nil {
		syncSvc.Close()
		states.Close()
		return nil, fmt.Errorf("transaction manager: %w", err)
	}

	bkCfg := backup.DefaultConfig()
	bkCfg.BackupRoot = cfg.Backup.Root
	bkCfg.DocumentRoot = cfg.Storage.LocalRoot
	bkCfg.SweepInterval = cfg.Backup.SweepInterval()
	bkCfg.MetricsEnabled = cfg.Telemetry.MetricsEnabled
	if cfg.Backup.GCS.Enabled {
		mirror, err := backup.NewMirror(ctx, cfg.Backup.GCS.Bucket, cfg.Backup.GCS.Prefix, cfg.Backup.GCS.CredentialsFile)
		if err != nil {
			txns.Close()
			syncSvc.Close()
			states.Close()
			return nil, fmt.Errorf("gcs mirror: %w", err)
		}
		bkCfg.Mirror = mirror
	}
	backups, err := backup.NewService(bkCfg, slogger)
	if err != nil {
		txns.Close()
		syncSvc.Close()
		states.Close()
		return nil, fmt.Errorf("backup service: %w", err)
	}

	queue := merge.NewQueue(states, slogger)
	strategy := merge.NewStrategy(merge.Config{}, states, queue, slogger)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		resolver: resolver,
		states:   states,
		prober:   prober,
		syncSvc:  syncSvc,
		txns:     txns,
		backups:  backups,
		queue:    queue,
		strategy: strategy,
	}, nil
}

// close tears the runtime down in dependency order. The state store
// goes last; everything else flushes into it.
func (rt *runtime) close() {
	slogger := rt.logger.Slog()
	if err := rt.txns.Close(); err != nil {
		slogger.Warn("transaction manager close failed", "error", err)
	}
	if err := rt.syncSvc.Close(); err != nil {
		slogger.Warn("sync service close failed", "error", err)
	}
	if err := rt.states.Close(); err != nil {
		slogger.Warn("state store close failed", "error", err)
	}
}

// mergeRunner returns the routine that completes one user's pending
// full merge: drain the replication queue while the network root is
// up, then mark the merge done.
func (rt *runtime) mergeRunner() func(ctx context.Context, username string) error {
	return func(ctx context.Context, username string) error {
		if !rt.prober.NetworkAvailable() {
			return fmt.Errorf("network root unavailable")
		}
		if _, err := rt.syncSvc.RetryNow(ctx); err != nil {
			return fmt.Errorf("replicate pending documents: %w", err)
		}
		return rt.strategy.MarkFullMergeComplete(ctx, username)
	}
}

// syncPathRunner returns the routine behind 'sync now --path' and the
// admin sync/now endpoint: resolve the pair, take a fresh probe
// verdict, and copy synchronously.
func (rt *runtime) syncPathRunner() func(ctx context.Context, localPath string) error {
	return func(ctx context.Context, localPath string) error {
		networkPath, err := rt.resolver.ToNetwork(localPath)
		if err != nil {
			return err
		}
		rt.prober.Invalidate()
		if out := rt.syncSvc.SyncNow(ctx, localPath, networkPath); out.Err != nil {
			return out.Err
		}
		return nil
	}
}

// mergeRetryLoop periodically re-runs pending merges while the network
// root is reachable. Runs until ctx is canceled.
func (rt *runtime) mergeRetryLoop(ctx context.Context, run func(context.Context, string) error) {
	interval := rt.cfg.Merge.RetryInterval()
	slogger := rt.logger.Slog().With("component", "merge_retry")
	slogger.Info("merge retry loop started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slogger.Info("merge retry loop stopped")
			return
		case <-ticker.C:
			if !rt.prober.NetworkAvailable() {
				continue
			}
			n, err := rt.queue.Retry(ctx, run)
			if err != nil {
				slogger.Warn("merge retry pass failed", "completed", n, "error", err)
			} else if n > 0 {
				slogger.Info("merge retry pass completed", "completed", n)
			}
		}
	}
}
