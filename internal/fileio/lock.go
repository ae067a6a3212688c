// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fileio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LockManager provides advisory per-path locks for safe concurrent
// document access across processes.
//
// # Description
//
// Documents are replaced by atomic rename, so the lock is never taken
// on the document itself (its inode changes on every write). Instead
// each document maps to a lock file in LockDir, named by a hash of the
// absolute document path. The OS-level lock (flock on Unix, LockFileEx
// on Windows) is held on the lock file, and the lock file's content is
// a LockInfo JSON describing the holder.
//
// Stale locks are reclaimable: a lock whose TTL expired, or whose
// holding process died on the same host, no longer blocks anyone.
// The PID check is skipped for locks taken from another hostname.
//
// An fsnotify watcher on the lock directory surfaces external lock
// acquire/release events to registered callbacks.
//
// # Thread Safety
//
// All public methods are safe for concurrent use from multiple goroutines.
type LockManager struct {
	lockDir      string
	sessionID    string
	hostname     string
	ttl          time.Duration
	pollInterval time.Duration
	locker       fileLocker
	logger       *slog.Logger

	locks map[string]*lockEntry
	mu    sync.Mutex

	watcher   *fsnotify.Watcher
	watcherMu sync.Mutex
	callbacks map[string][]func(LockEvent)
	// knownLocks maps lock file name -> document path, so a Remove
	// event (whose payload is gone) can still be attributed.
	knownLocks map[string]string
}

// lockEntry is one lock held by this manager.
type lockEntry struct {
	file     *os.File
	path     string
	lockPath string
	info     *LockInfo
}

// NewLockManager creates a lock manager.
//
// # Description
//
// Ensures the lock directory exists, starts the directory watcher, and
// optionally sweeps stale locks left behind by crashed processes.
//
// # Inputs
//
//   - config: Manager configuration. Use DefaultLockConfig() for defaults.
//   - logger: Structured logger. nil falls back to slog.Default().
//
// # Outputs
//
//   - *LockManager: Ready-to-use manager.
//   - error: Non-nil if the lock directory or watcher cannot be set up.
func NewLockManager(config LockConfig, logger *slog.Logger) (*LockManager, error) {
	if config.LockDir == "" {
		config.LockDir = DefaultLockConfig().LockDir
	}
	if config.TTL <= 0 {
		config.TTL = DefaultLockConfig().TTL
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultLockConfig().PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.LockDir, 0750); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", config.LockDir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating lock watcher: %w", err)
	}
	if err := watcher.Add(config.LockDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching lock directory %s: %w", config.LockDir, err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	m := &LockManager{
		lockDir:      config.LockDir,
		sessionID:    config.SessionID,
		hostname:     hostname,
		ttl:          config.TTL,
		pollInterval: config.PollInterval,
		locker:       newPlatformLocker(),
		logger:       logger.With("component", "fileio.locks"),
		locks:        make(map[string]*lockEntry),
		watcher:      watcher,
		callbacks:    make(map[string][]func(LockEvent)),
		knownLocks:   make(map[string]string),
	}

	go m.watchLoop()

	if config.CleanupOnInit {
		cleaned, err := m.CleanupStaleLocks()
		if err != nil {
			m.logger.Warn("Failed to clean up stale locks on init",
				"error", err)
		} else if cleaned > 0 {
			m.logger.Info("Cleaned up stale locks on init",
				"count", cleaned)
		}
	}

	return m, nil
}

// TryAcquire attempts to acquire the lock for filePath without waiting.
//
// # Description
//
// Non-blocking. Re-acquiring a lock this manager already holds just
// updates the recorded reason. A stale holder (expired TTL, or dead
// process on this host) is swept and the acquisition retried once.
//
// # Inputs
//
//   - filePath: Document path to lock (absolute or relative).
//   - reason: Human-readable note stored in the lock info.
//
// # Outputs
//
//   - error: nil on success; *LockError wrapping ErrFileLocked when the
//     lock is held elsewhere; other errors on system failure.
func (m *LockManager) TryAcquire(filePath, reason string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.locks[absPath]; ok {
		entry.info.Reason = reason
		return nil
	}

	if err := os.MkdirAll(m.lockDir, 0750); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	lockPath := m.lockPath(absPath)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", lockPath, err)
	}

	if err := m.locker.Lock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrFileLocked) {
			holder, _ := m.readLockInfo(lockPath)
			return &LockError{Path: absPath, Holder: holder, Err: ErrFileLocked}
		}
		return fmt.Errorf("acquiring lock on %s: %w", absPath, err)
	}

	// The OS lock is ours, but the lock directory may sit on a network
	// share where a holder on another host left valid info without an
	// OS lock visible to us. Respect it until it goes stale.
	if existing, err := m.readLockInfo(lockPath); err == nil && existing != nil {
		if !m.isStale(existing) && existing.SessionID != m.sessionID {
			m.locker.Unlock(f)
			f.Close()
			return &LockError{Path: absPath, Holder: existing, Err: ErrFileLocked}
		}
		if m.isStale(existing) {
			m.logger.Info("Reclaiming stale lock",
				"path", absPath,
				"old_pid", existing.PID,
				"old_host", existing.Hostname,
				"expired", existing.IsExpired())
		}
	}

	now := time.Now()
	info := &LockInfo{
		FilePath:  absPath,
		PID:       os.Getpid(),
		Hostname:  m.hostname,
		SessionID: m.sessionID,
		LockedAt:  now,
		ExpiresAt: now.Add(m.ttl),
		Reason:    reason,
	}

	if err := m.writeLockInfo(f, info); err != nil {
		m.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("writing lock info: %w", err)
	}

	m.locks[absPath] = &lockEntry{
		file:     f,
		path:     absPath,
		lockPath: lockPath,
		info:     info,
	}

	m.watcherMu.Lock()
	m.knownLocks[filepath.Base(lockPath)] = absPath
	m.watcherMu.Unlock()

	m.logger.Debug("Acquired lock",
		"path", absPath,
		"reason", reason,
		"expires_at", info.ExpiresAt.Format(time.RFC3339))

	return nil
}

// Acquire acquires the lock for filePath, waiting until the context is
// done.
//
// # Description
//
// Polls TryAcquire at the configured interval. On context expiry the
// last conflict error is returned, so callers can inspect the holder.
//
// # Inputs
//
//   - ctx: Bounds the wait.
//   - filePath: Document path to lock.
//   - reason: Human-readable note stored in the lock info.
//
// # Outputs
//
//   - error: nil once acquired; the last *LockError when ctx expires.
//
// # Example
//
//	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
//	defer cancel()
//	if err := locks.Acquire(ctx, path, "commit"); err != nil {
//	    return err
//	}
//	defer locks.Release(path)
func (m *LockManager) Acquire(ctx context.Context, filePath, reason string) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		err := m.TryAcquire(filePath, reason)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrFileLocked) {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for lock: %w", err)
		case <-ticker.C:
		}
	}
}

// Release releases the lock for filePath.
//
// # Outputs
//
//   - error: nil on success, ErrLockNotHeld if this manager does not
//     hold the lock.
func (m *LockManager) Release(filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[absPath]
	if !ok {
		return ErrLockNotHeld
	}

	return m.releaseEntry(absPath, entry)
}

// releaseEntry releases one held lock (must be called with mu held).
// The lock file is removed before the OS lock is dropped so no other
// process can observe an unlocked-but-present lock file of ours.
func (m *LockManager) releaseEntry(absPath string, entry *lockEntry) error {
	if err := os.Remove(entry.lockPath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove lock file",
			"path", entry.lockPath,
			"error", err)
	}

	if err := m.locker.Unlock(entry.file); err != nil {
		m.logger.Warn("Failed to unlock lock file",
			"path", absPath,
			"error", err)
	}
	entry.file.Close()

	delete(m.locks, absPath)

	m.watcherMu.Lock()
	delete(m.knownLocks, filepath.Base(entry.lockPath))
	m.watcherMu.Unlock()

	m.logger.Debug("Released lock",
		"path", absPath)

	return nil
}

// ReleaseAll releases every lock held by this manager. Returns the
// first error encountered but keeps releasing.
func (m *LockManager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for path, entry := range m.locks {
		if err := m.releaseEntry(path, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsLocked reports whether filePath is locked by any live holder.
//
// # Outputs
//
//   - bool: True if locked.
//   - *LockInfo: The holder (nil when unlocked).
//   - error: Non-nil on failure to check.
func (m *LockManager) IsLocked(filePath string) (bool, *LockInfo, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return false, nil, fmt.Errorf("resolving path %s: %w", filePath, err)
	}

	m.mu.Lock()
	if entry, ok := m.locks[absPath]; ok {
		info := *entry.info
		m.mu.Unlock()
		return true, &info, nil
	}
	m.mu.Unlock()

	info, err := m.readLockInfo(m.lockPath(absPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if info == nil || m.isStale(info) {
		return false, nil, nil
	}

	return true, info, nil
}

// CleanupStaleLocks removes lock files whose holders are gone.
//
// # Description
//
// Scans the lock directory for lock files with an expired TTL or a dead
// holding process on this host. Locks held by this manager are skipped.
//
// # Outputs
//
//   - int: Number of stale locks removed.
//   - error: Non-nil on failure to scan the directory.
func (m *LockManager) CleanupStaleLocks() (int, error) {
	entries, err := os.ReadDir(m.lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading lock directory: %w", err)
	}

	m.mu.Lock()
	held := make(map[string]bool, len(m.locks))
	for _, entry := range m.locks {
		held[entry.lockPath] = true
	}
	m.mu.Unlock()

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lock" {
			continue
		}

		lockPath := filepath.Join(m.lockDir, entry.Name())
		if held[lockPath] {
			continue
		}

		info, err := m.readLockInfo(lockPath)
		if err != nil || info == nil {
			continue
		}

		if m.isStale(info) {
			m.logger.Info("Cleaning up stale lock",
				"path", info.FilePath,
				"pid", info.PID,
				"host", info.Hostname,
				"expired", info.IsExpired())
			if err := os.Remove(lockPath); err != nil {
				m.logger.Warn("Failed to remove stale lock",
					"path", lockPath,
					"error", err)
			} else {
				cleaned++
			}
		}
	}

	return cleaned, nil
}

// RegisterCallback registers a callback for external lock events on
// filePath. Multiple callbacks may be registered per path.
func (m *LockManager) RegisterCallback(filePath string, callback func(LockEvent)) {
	absPath, _ := filepath.Abs(filePath)

	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	m.callbacks[absPath] = append(m.callbacks[absPath], callback)
}

// Close releases all held locks and stops the directory watcher.
func (m *LockManager) Close() error {
	if err := m.ReleaseAll(); err != nil {
		m.logger.Warn("Error releasing locks during close",
			"error", err)
	}
	return m.watcher.Close()
}

// =============================================================================
// Internal helpers
// =============================================================================

// lockPath generates the lock file path for a document.
// Uses SHA256[:16] for collision resistance.
func (m *LockManager) lockPath(absPath string) string {
	hash := sha256.Sum256([]byte(absPath))
	hashStr := hex.EncodeToString(hash[:])[:16]
	return filepath.Join(m.lockDir, hashStr+".lock")
}

// isStale reports whether info no longer protects its document. The
// PID liveness check only applies to locks taken on this host.
func (m *LockManager) isStale(info *LockInfo) bool {
	if info.IsExpired() {
		return true
	}
	if info.Hostname == m.hostname && !isProcessAlive(info.PID) {
		return true
	}
	return false
}

// writeLockInfo rewrites the open lock file with the holder's info.
func (m *LockManager) writeLockInfo(f *os.File, info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

// readLockInfo reads holder info from a lock file. An empty file (a
// concurrent acquirer that has not written yet) yields (nil, nil).
func (m *LockManager) readLockInfo(lockPath string) (*LockInfo, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// watchLoop handles fsnotify events from the lock directory.
func (m *LockManager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Lock watcher error",
				"error", err)
		}
	}
}

// handleWatchEvent attributes one lock directory event and fans it out
// to registered callbacks. Events caused by this manager's own lock
// operations are suppressed.
func (m *LockManager) handleWatchEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".lock") {
		return
	}

	var eventType LockEventType
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		eventType = LockAcquired
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		eventType = LockReleased
	default:
		return
	}

	var docPath string
	var holder *LockInfo
	if eventType == LockAcquired {
		if info, err := m.readLockInfo(event.Name); err == nil && info != nil {
			docPath = info.FilePath
			holder = info
			m.watcherMu.Lock()
			m.knownLocks[name] = info.FilePath
			m.watcherMu.Unlock()
		}
	} else {
		m.watcherMu.Lock()
		docPath = m.knownLocks[name]
		delete(m.knownLocks, name)
		m.watcherMu.Unlock()
	}

	if holder != nil && holder.SessionID == m.sessionID {
		return
	}
	if docPath != "" {
		m.mu.Lock()
		_, ours := m.locks[docPath]
		m.mu.Unlock()
		if ours && eventType == LockReleased {
			return
		}
	}

	m.watcherMu.Lock()
	callbacks := append([]func(LockEvent){}, m.callbacks[docPath]...)
	m.watcherMu.Unlock()

	if len(callbacks) == 0 {
		return
	}

	m.logger.Debug("External lock event",
		"path", docPath,
		"lock_path", event.Name,
		"event", eventType.String())

	lockEvent := LockEvent{
		Path:     docPath,
		LockPath: event.Name,
		Type:     eventType,
		Holder:   holder,
	}
	for _, cb := range callbacks {
		cb(lockEvent)
	}
}
