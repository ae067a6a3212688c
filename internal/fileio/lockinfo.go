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
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrFileLocked indicates the advisory lock is held elsewhere.
	ErrFileLocked = errors.New("file is locked")

	// ErrLockNotHeld indicates a release of a lock this manager does not hold.
	ErrLockNotHeld = errors.New("lock not held by this manager")
)

// LockError carries the holder's lock info alongside ErrFileLocked so
// callers can report who is blocking them.
type LockError struct {
	Path   string
	Holder *LockInfo
	Err    error
}

// Error formats the conflict, naming the holder when known.
func (e *LockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("file %s is locked by pid %d on %s (session %s) since %s",
			e.Path, e.Holder.PID, e.Holder.Hostname, e.Holder.SessionID,
			e.Holder.LockedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("file %s is locked", e.Path)
}

// Unwrap returns the underlying sentinel (usually ErrFileLocked).
func (e *LockError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Lock Info
// =============================================================================

// LockInfo is the JSON payload stored inside a lock file. It makes the
// holder visible to other processes and hosts for stale detection and
// operator debugging.
type LockInfo struct {
	// FilePath is the absolute path of the locked document.
	FilePath string `json:"file_path"`

	// PID of the holding process. Only meaningful on Hostname.
	PID int `json:"pid"`

	// Hostname of the holding machine. Lock directories can live on a
	// network share, so a live-PID check is only valid on the same host.
	Hostname string `json:"hostname"`

	// SessionID identifies the holding manager instance.
	SessionID string `json:"session_id"`

	// LockedAt is when the lock was acquired.
	LockedAt time.Time `json:"locked_at"`

	// ExpiresAt is when the lock becomes reclaimable regardless of the
	// holder's state.
	ExpiresAt time.Time `json:"expires_at"`

	// Reason is a human-readable note for debugging ("read", "commit").
	Reason string `json:"reason,omitempty"`
}

// IsExpired reports whether the lock's TTL has elapsed.
func (i *LockInfo) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// =============================================================================
// External Lock Events
// =============================================================================

// LockEventType classifies an observed change in the lock directory.
type LockEventType int

const (
	// LockAcquired means a lock file appeared or was rewritten.
	LockAcquired LockEventType = iota

	// LockReleased means a lock file was removed.
	LockReleased
)

// String returns "acquired" or "released".
func (t LockEventType) String() string {
	if t == LockReleased {
		return "released"
	}
	return "acquired"
}

// LockEvent describes an externally observed lock change. Path is the
// locked document when it could be resolved; LockPath is always set.
type LockEvent struct {
	Path     string
	LockPath string
	Type     LockEventType
	Holder   *LockInfo
}

// =============================================================================
// Configuration
// =============================================================================

// LockConfig configures the LockManager.
type LockConfig struct {
	// LockDir is where lock files live. Created if absent.
	// Default: ".timeclerk/locks".
	LockDir string

	// SessionID identifies this manager in lock info files.
	SessionID string

	// TTL is how long a lock stays valid before other processes may
	// reclaim it. Default: 30m.
	TTL time.Duration

	// PollInterval is the retry cadence for blocking Acquire calls.
	// Default: 100ms.
	PollInterval time.Duration

	// CleanupOnInit removes stale locks when the manager starts.
	CleanupOnInit bool
}

// DefaultLockConfig returns the standard lock manager configuration.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		LockDir:       ".timeclerk/locks",
		TTL:           30 * time.Minute,
		PollInterval:  100 * time.Millisecond,
		CleanupOnInit: true,
	}
}
