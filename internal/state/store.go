// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state persists the replication and login-merge registries in
// an embedded BadgerDB.
//
// The registries replace what would otherwise be ambient in-process
// maps: every pending sync and every login counter survives a process
// restart, which is what allows the sweep to resume retrying after a
// crash. Access is serialized through Badger transactions; the
// single-writer-per-key discipline belongs to the owning services
// (syncer for sync/, merge strategy for merge/).
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the state store.
type Config struct {
	// Path is the directory for the store's files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Verbose routes BadgerDB's internal logging to the store's logger.
	// Default: false (Badger's own logging disabled).
	Verbose bool

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: synchronous writes,
// 5-minute GC interval, 0.5 discard ratio.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory, no
// synchronous writes, GC disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the Badger-backed registry for SyncState and MergeState.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	db       *badger.DB
	gcRunner *gcRunner
	logger   *slog.Logger
	path     string
	inMemory bool
}

// Open opens the state store.
//
// Description:
//
//	Opens a BadgerDB at cfg.Path (created if absent), or in memory,
//	and starts the value log GC goroutine when configured.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory.
//	logger - Structured logger. nil falls back to slog.Default().
//
// Outputs:
//
//	*Store - The opened store. Caller must Close() when done.
//	error - Non-nil if the path is invalid or the database fails to open.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent state store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "state")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create state directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Verbose {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	s := &Store{
		db:       db,
		logger:   logger,
		path:     cfg.Path,
		inMemory: cfg.InMemory,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		s.gcRunner = newGCRunner(db, cfg.GCInterval, ratio, logger)
		s.gcRunner.Start()
	}

	return s, nil
}

// Close stops the GC goroutine and closes the database. Safe to call
// once.
func (s *Store) Close() error {
	if s.gcRunner != nil {
		s.gcRunner.Stop()
	}
	return s.db.Close()
}

// Path returns the store directory, or "" for in-memory stores.
func (s *Store) Path() string { return s.path }

// InMemory reports whether the store is in-memory.
func (s *Store) InMemory() bool { return s.inMemory }

// Ready reports whether the store answers reads. Used by health checks.
func (s *Store) Ready(ctx context.Context) bool {
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("readyz"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return err == nil
}

// =============================================================================
// SyncState operations
// =============================================================================

// GetSyncState returns the sync record for a path pair.
//
// Outputs:
//
//	SyncState - The record (zero value when absent).
//	bool - Whether a record exists.
//	error - Non-nil on storage failure.
func (s *Store) GetSyncState(ctx context.Context, localPath, networkPath string) (SyncState, bool, error) {
	var st SyncState
	found := false
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(syncKey(localPath, networkPath))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err != nil {
		return SyncState{}, false, fmt.Errorf("get sync state: %w", err)
	}
	return st, found, nil
}

// PutSyncState stores the sync record for its path pair.
func (s *Store) PutSyncState(ctx context.Context, st SyncState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal sync state: %w", err)
	}
	err = s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(st.Key(), data)
	})
	if err != nil {
		return fmt.Errorf("put sync state: %w", err)
	}
	return nil
}

// UpdateSyncState applies fn to the stored record (or a fresh one
// carrying the pair's paths) inside one transaction and persists the
// result. Returns the updated record.
func (s *Store) UpdateSyncState(ctx context.Context, localPath, networkPath string, fn func(*SyncState)) (SyncState, error) {
	var updated SyncState
	err := s.update(ctx, func(txn *badger.Txn) error {
		st := SyncState{LocalPath: localPath, NetworkPath: networkPath}
		item, err := txn.Get(syncKey(localPath, networkPath))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		fn(&st)
		updated = st

		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return txn.Set(st.Key(), data)
	})
	if err != nil {
		return SyncState{}, fmt.Errorf("update sync state: %w", err)
	}
	return updated, nil
}

// DeleteSyncState removes the record for a path pair. Deleting an
// absent record is not an error.
func (s *Store) DeleteSyncState(ctx context.Context, localPath, networkPath string) error {
	err := s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(syncKey(localPath, networkPath))
	})
	if err != nil {
		return fmt.Errorf("delete sync state: %w", err)
	}
	return nil
}

// PendingSyncStates returns every record still awaiting a successful
// sync, in key order.
func (s *Store) PendingSyncStates(ctx context.Context) ([]SyncState, error) {
	all, err := s.AllSyncStates(ctx)
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, st := range all {
		if st.Pending {
			pending = append(pending, st)
		}
	}
	return pending, nil
}

// AllSyncStates returns every sync record, in key order.
func (s *Store) AllSyncStates(ctx context.Context) ([]SyncState, error) {
	var states []SyncState
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		return iterate(txn, syncPrefix, func(val []byte) error {
			var st SyncState
			if err := json.Unmarshal(val, &st); err != nil {
				return err
			}
			states = append(states, st)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list sync states: %w", err)
	}
	return states, nil
}

// ClearSyncStates deletes every sync record and returns how many were
// removed. Destructive; callers log the intent.
func (s *Store) ClearSyncStates(ctx context.Context) (int, error) {
	return s.clearPrefix(ctx, syncPrefix)
}

// =============================================================================
// MergeState operations
// =============================================================================

// GetMergeState returns the merge record for a user.
func (s *Store) GetMergeState(ctx context.Context, username string) (MergeState, bool, error) {
	var st MergeState
	found := false
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(mergeKey(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err != nil {
		return MergeState{}, false, fmt.Errorf("get merge state: %w", err)
	}
	return st, found, nil
}

// PutMergeState stores the merge record for its user.
func (s *Store) PutMergeState(ctx context.Context, st MergeState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal merge state: %w", err)
	}
	err = s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(st.Key(), data)
	})
	if err != nil {
		return fmt.Errorf("put merge state: %w", err)
	}
	return nil
}

// UpdateMergeState applies fn to the stored record (or a fresh one for
// the user) inside one transaction and persists the result. Returns the
// updated record.
func (s *Store) UpdateMergeState(ctx context.Context, username string, fn func(*MergeState)) (MergeState, error) {
	var updated MergeState
	err := s.update(ctx, func(txn *badger.Txn) error {
		st := MergeState{Username: username}
		item, err := txn.Get(mergeKey(username))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		fn(&st)
		updated = st

		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return txn.Set(st.Key(), data)
	})
	if err != nil {
		return MergeState{}, fmt.Errorf("update merge state: %w", err)
	}
	return updated, nil
}

// DeleteMergeState removes the record for a user. Deleting an absent
// record is not an error.
func (s *Store) DeleteMergeState(ctx context.Context, username string) error {
	err := s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(mergeKey(username))
	})
	if err != nil {
		return fmt.Errorf("delete merge state: %w", err)
	}
	return nil
}

// PendingMergeStates returns every user whose full merge is pending.
func (s *Store) PendingMergeStates(ctx context.Context) ([]MergeState, error) {
	all, err := s.AllMergeStates(ctx)
	if err != nil {
		return nil, err
	}
	pending := all[:0]
	for _, st := range all {
		if st.PendingMerge {
			pending = append(pending, st)
		}
	}
	return pending, nil
}

// AllMergeStates returns every merge record, in key order.
func (s *Store) AllMergeStates(ctx context.Context) ([]MergeState, error) {
	var states []MergeState
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		return iterate(txn, mergePrefix, func(val []byte) error {
			var st MergeState
			if err := json.Unmarshal(val, &st); err != nil {
				return err
			}
			states = append(states, st)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list merge states: %w", err)
	}
	return states, nil
}

// ClearMergeStates deletes every merge record and returns how many were
// removed. Destructive; callers log the intent.
func (s *Store) ClearMergeStates(ctx context.Context) (int, error) {
	return s.clearPrefix(ctx, mergePrefix)
}

// =============================================================================
// Transaction helpers
// =============================================================================

// withTxn executes fn in a read-write transaction, committing when fn
// returns nil and discarding otherwise.
func (s *Store) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// withReadTxn executes fn in a read-only transaction.
func (s *Store) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

// update is withTxn plus a bounded retry on optimistic conflicts.
// Registry keys are single-writer in steady state, so conflicts only
// show up when an operator action races the sweep.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.withTxn(ctx, fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// clearPrefix deletes every key under prefix, returning the count.
func (s *Store) clearPrefix(ctx context.Context, prefix string) (int, error) {
	var keys [][]byte
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", prefix, err)
	}

	deleted := 0
	for _, key := range keys {
		err := s.withTxn(ctx, func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			return deleted, fmt.Errorf("clear %s: %w", prefix, err)
		}
		deleted++
	}
	return deleted, nil
}

// iterate walks every value under prefix.
func iterate(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// GC Runner
// =============================================================================

// gcRunner runs periodic value log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce func()
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	r := &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
	var once sync.Once
	r.stopOnce = func() {
		once.Do(func() {
			close(r.stopCh)
			<-r.doneCh
		})
	}
	return r
}

// Start begins periodic garbage collection.
func (r *gcRunner) Start() {
	go r.run()
}

// Stop halts garbage collection and waits for the goroutine to finish.
// Safe to call multiple times.
func (r *gcRunner) Stop() {
	r.stopOnce()
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *gcRunner) runGC() {
	// RunValueLogGC returns ErrNoRewrite when no GC was needed.
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil {
		r.logger.Debug("badger value log GC completed")
	} else if !errors.Is(err, badger.ErrNoRewrite) {
		r.logger.Warn("badger value log GC error",
			"error", err)
	}
}
