// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"timeclerk/internal/fileio"
)

// Dispatcher receives committed path pairs for replication.
//
// Implemented by the sync layer. Dispatch must be fast: it enqueues
// the pair and returns, it must not block on network I/O. A dispatch
// error means the pair could not even be queued; the commit records it
// and moves on.
type Dispatcher interface {
	Dispatch(ctx context.Context, localPath, networkPath string) error
}

// Config controls the transaction manager.
type Config struct {
	// StateDir holds in-flight transaction descriptors. A descriptor
	// found here on startup is evidence of a crashed process. Required.
	StateDir string

	// MaxStagedOps caps the operations staged per transaction.
	MaxStagedOps int

	// FilePerm is the mode committed documents are created with.
	FilePerm os.FileMode

	// CleanupOnInit removes descriptors left behind by a crash.
	CleanupOnInit bool

	// MetricsEnabled controls metric recording.
	MetricsEnabled bool

	// TracingEnabled controls span creation.
	TracingEnabled bool
}

// DefaultConfig returns production defaults. StateDir must still be
// set by the caller.
func DefaultConfig() Config {
	return Config{
		MaxStagedOps:   10000,
		FilePerm:       0640,
		CleanupOnInit:  true,
		MetricsEnabled: true,
		TracingEnabled: true,
	}
}

// Manager coordinates transactions over the document store.
//
// # Description
//
// Manager hands out FileTransactions, executes their staged writes
// atomically per file on Commit, and forwards staged sync pairs to the
// Dispatcher. An in-flight descriptor is persisted under StateDir for
// the lifetime of each transaction so a crash leaves evidence behind.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
// Only one transaction may be open at a time.
//
// # Nested Transactions
//
// Nested transactions are NOT supported. Calling Begin() while a
// transaction is open returns ErrTransactionActive.
type Manager struct {
	config   Config
	dispatch Dispatcher
	active   *FileTransaction
	mu       sync.Mutex
	logger   *slog.Logger
	tracer   *Tracer
}

// NewManager creates a transaction manager.
//
// # Description
//
// Creates a manager with the given configuration. If CleanupOnInit is
// set, descriptors left by previous crashed sessions are logged and
// removed. The dispatcher may be nil; staged syncs are then recorded
// as undeliverable instead of being queued.
//
// # Inputs
//
//   - cfg: Manager configuration. Use DefaultConfig() for defaults.
//   - dispatcher: Replication hand-off, usually the syncer.
//   - logger: Structured logger. Uses slog.Default() if nil.
//
// # Outputs
//
//   - *Manager: Ready-to-use transaction manager.
//   - error: Non-nil if setup fails.
//
// # Example
//
//	cfg := transaction.DefaultConfig()
//	cfg.StateDir = "/var/lib/timeclerk/transactions"
//	manager, err := transaction.NewManager(cfg, syncService, logger)
//	if err != nil {
//	    return err
//	}
//	defer manager.Close()
func NewManager(cfg Config, dispatcher Dispatcher, logger *slog.Logger) (*Manager, error) {
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("StateDir is required")
	}

	absDir, err := filepath.Abs(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("resolving state dir: %w", err)
	}
	cfg.StateDir = absDir

	// Apply defaults
	if cfg.MaxStagedOps == 0 {
		cfg.MaxStagedOps = 10000
	}
	if cfg.FilePerm == 0 {
		cfg.FilePerm = 0640
	}

	if err := os.MkdirAll(cfg.StateDir, 0750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transaction.manager")

	// Initialize observability
	SetMetricsEnabled(cfg.MetricsEnabled)
	tracer := NewTracer(logger, cfg.TracingEnabled)

	m := &Manager{
		config:   cfg,
		dispatch: dispatcher,
		logger:   logger,
		tracer:   tracer,
	}

	if cfg.CleanupOnInit {
		if err := m.cleanupStale(); err != nil {
			m.logger.Warn("failed to clean up stale transaction descriptors",
				"error", err)
		}
	}

	return m, nil
}

// Begin starts a new transaction.
//
// # Description
//
// Returns an open FileTransaction ready for staging. A descriptor is
// persisted under StateDir and removed again on Commit or Rollback, so
// descriptors found on startup identify transactions that were cut
// short by a crash. Only one transaction may be open at a time.
//
// # Inputs
//
//   - ctx: Context for tracing and metric recording.
//
// # Outputs
//
//   - *FileTransaction: The open transaction.
//   - error: ErrTransactionActive if a transaction is already open.
//
// # Example
//
//	tx, err := manager.Begin(ctx)
//	if err != nil {
//	    return err
//	}
//	tx.AddWrite(localPath, payload)
//	tx.AddSync(localPath, networkPath)
//	result, err := manager.Commit(ctx, tx)
func (m *Manager) Begin(ctx context.Context) (tx *FileTransaction, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start tracing span
	ctx, span := m.tracer.StartBegin(ctx)
	defer func() { m.tracer.EndBegin(span, tx, err) }()

	logger := LoggerWithTrace(ctx, m.logger)

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Begin: %v", r)
			logger.Error("panic in Begin", "panic", r)
		}
	}()

	// Record metrics on exit
	defer func() {
		recordBegin(ctx, err == nil)
		if err == nil {
			incActive(ctx)
		}
	}()

	if m.active != nil {
		return nil, ErrTransactionActive
	}

	hostname, _ := os.Hostname()
	tx = &FileTransaction{
		ID:        uuid.New().String(),
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Status:    StatusOpen,
		maxOps:    m.config.MaxStagedOps,
		index:     make(map[string]*stagedOp),
	}

	// Persist descriptor for crash evidence
	if pErr := m.persistTransaction(tx); pErr != nil {
		logger.Warn("failed to persist transaction descriptor",
			"tx_id", tx.ID,
			"error", pErr)
	}

	m.active = tx
	logger.Info("transaction started", "tx_id", tx.ID)

	return tx, nil
}

// Commit executes the staged operations of t.
//
// # Description
//
// Writes land first, in staging order, each through an atomic
// temp-then-rename. The first failed write stops all writes staged
// after it; the earlier ones stay on disk. When every write succeeded
// the staged sync pairs are handed to the Dispatcher. A dispatch
// failure is recorded in the Result but never fails the commit, since
// an unreachable network location is an expected condition that the
// sync layer retries on its own.
//
// # Inputs
//
//   - ctx: Context for tracing, metrics, and dispatch.
//   - t: The transaction returned by Begin.
//
// # Outputs
//
//   - *Result: Per-operation outcomes. OK is true exactly when all
//     writes succeeded. Non-nil even when error is non-nil.
//   - error: ErrNoTransaction if t is not the active transaction, or
//     the first write failure wrapped in a commit error.
func (m *Manager) Commit(ctx context.Context, t *FileTransaction) (result *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t == nil || m.active == nil || t != m.active {
		return nil, ErrNoTransaction
	}

	// Start tracing span
	ctx, span := m.tracer.StartCommit(ctx, t)
	defer func() { m.tracer.EndCommit(span, result, err) }()

	logger := LoggerWithTrace(ctx, m.logger)

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Commit: %v", r)
			logger.Error("panic in Commit", "panic", r, "tx_id", t.ID)
		}
	}()

	// Record metrics on exit
	defer func() {
		if err == nil && result != nil {
			recordCommit(ctx, result.Duration, true)
		} else {
			recordCommit(ctx, t.Duration(), false)
		}
		decActive(ctx)
	}()

	ops := t.seal()

	logger.Info("committing transaction",
		"tx_id", t.ID,
		"ops", len(ops))

	results := make([]OperationResult, 0, len(ops))
	var writeErr error

	// Local writes first, in staging order.
	for _, op := range ops {
		if op.kind != OpWrite {
			continue
		}
		if writeErr != nil {
			results = append(results, OperationResult{
				Path:  op.path,
				Kind:  OpWrite,
				Error: "skipped: earlier write failed",
			})
			continue
		}
		if wErr := fileio.WriteAtomic(op.path, op.data, m.config.FilePerm); wErr != nil {
			writeErr = wErr
			results = append(results, OperationResult{
				Path:  op.path,
				Kind:  OpWrite,
				Error: wErr.Error(),
			})
			logger.Error("write failed, stopping remaining writes",
				"tx_id", t.ID,
				"path", op.path,
				"error", wErr)
			continue
		}
		results = append(results, OperationResult{Path: op.path, Kind: OpWrite, OK: true})
	}

	// Replication hand-off. Never fatal.
	for _, op := range ops {
		if op.kind != OpSync {
			continue
		}
		opResult := OperationResult{Path: op.path, Kind: OpSync, OK: true}
		switch {
		case writeErr != nil:
			opResult.OK = false
			opResult.Error = "skipped: earlier write failed"
		case m.dispatch == nil:
			opResult.OK = false
			opResult.Error = "no sync dispatcher configured"
		default:
			if dErr := m.dispatch.Dispatch(ctx, op.path, op.networkPath); dErr != nil {
				opResult.OK = false
				opResult.Error = dErr.Error()
				logger.Warn("sync dispatch failed, replication deferred",
					"tx_id", t.ID,
					"local_path", op.path,
					"error", dErr)
			}
		}
		results = append(results, opResult)
	}

	status := StatusCommitted
	if writeErr != nil {
		status = StatusFailed
	}
	t.setStatus(status)

	result = &Result{
		TransactionID: t.ID,
		Status:        status,
		OK:            writeErr == nil,
		Duration:      t.Duration(),
		Operations:    results,
	}
	if writeErr != nil {
		result.Error = writeErr.Error()
	}

	// Cleanup persisted descriptor
	_ = m.removePersistedTransaction(t.ID)
	m.active = nil

	if writeErr != nil {
		return result, fmt.Errorf("commit failed: %w", writeErr)
	}

	logger.Info("transaction committed",
		"tx_id", t.ID,
		"duration", result.Duration,
		"ops", len(results))

	return result, nil
}

// Rollback discards the staged operations of t.
//
// # Description
//
// Staging performs no I/O, so rollback touches nothing on disk beyond
// removing the in-flight descriptor. The transaction is marked
// ROLLED_BACK and further staging on it fails.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - t: The transaction returned by Begin.
//
// # Outputs
//
//   - error: ErrNoTransaction if t is not the active transaction.
func (m *Manager) Rollback(ctx context.Context, t *FileTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t == nil || m.active == nil || t != m.active {
		return ErrNoTransaction
	}

	m.rollbackLocked(ctx, t, "user")
	return nil
}

// rollbackLocked discards the transaction. Caller must hold mu.
func (m *Manager) rollbackLocked(ctx context.Context, t *FileTransaction, reason string) {
	t.seal()
	t.setStatus(StatusRolledBack)

	_ = m.removePersistedTransaction(t.ID)
	m.active = nil

	recordRollback(ctx, reason)
	decActive(ctx)

	m.logger.Info("transaction rolled back",
		"tx_id", t.ID,
		"reason", reason,
		"ops", t.OpCount())
}

// IsActive returns true if a transaction is currently open.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Close cleans up the manager.
//
// # Description
//
// If a transaction is open, it is rolled back. Nothing staged in it
// reaches disk.
//
// # Outputs
//
//   - error: Always nil; kept for interface symmetry with other
//     lifecycle components.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.logger.Warn("closing manager with open transaction, rolling back",
			"tx_id", m.active.ID)
		m.rollbackLocked(context.Background(), m.active, "manager_close")
	}

	return nil
}

// =============================================================================
// Descriptor Persistence for Crash Evidence
// =============================================================================

// transactionStatePath returns the path of the descriptor for txID.
func (m *Manager) transactionStatePath(txID string) string {
	return filepath.Join(m.config.StateDir, txID+".json")
}

// persistTransaction saves the in-flight descriptor.
func (m *Manager) persistTransaction(t *FileTransaction) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling transaction descriptor: %w", err)
	}

	// Ensure the state directory exists (may have been removed externally)
	if err := os.MkdirAll(m.config.StateDir, 0750); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	if err := os.WriteFile(m.transactionStatePath(t.ID), data, 0640); err != nil {
		return fmt.Errorf("writing transaction descriptor: %w", err)
	}

	return nil
}

// removePersistedTransaction removes the descriptor for txID.
func (m *Manager) removePersistedTransaction(txID string) error {
	path := m.transactionStatePath(txID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing transaction descriptor: %w", err)
	}
	return nil
}

// cleanupStale logs and removes descriptors from crashed sessions.
//
// Staging never touches disk, so there is nothing to undo. The
// descriptor only tells us which transaction was open when the
// process died.
func (m *Manager) cleanupStale() error {
	entries, err := os.ReadDir(m.config.StateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading state directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(m.config.StateDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("failed to read stale transaction descriptor",
				"path", path,
				"error", err)
			continue
		}

		var tx FileTransaction
		if err := json.Unmarshal(data, &tx); err != nil {
			m.logger.Warn("failed to parse stale transaction descriptor",
				"path", path,
				"error", err)
			_ = os.Remove(path)
			continue
		}

		m.logger.Info("found stale transaction descriptor from crashed session",
			"tx_id", tx.ID,
			"pid", tx.PID,
			"hostname", tx.Hostname,
			"started_at", tx.StartedAt.Format(time.RFC3339),
			"age", time.Since(tx.StartedAt).Round(time.Second).String())

		_ = os.Remove(path)
	}

	return nil
}
