// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SyncState is the replication record for one local/network path pair.
// It is owned exclusively by the sync service: created on the first
// sync attempt, updated on every retry, and deleted only by an explicit
// administrative clear.
type SyncState struct {
	// LocalPath and NetworkPath identify the replicated pair.
	LocalPath   string `json:"local_path"`
	NetworkPath string `json:"network_path"`

	// InProgress is true while a worker is copying this pair.
	InProgress bool `json:"in_progress"`

	// Pending is true when the pair still needs a successful sync.
	Pending bool `json:"pending"`

	// RetryCount is the number of failed attempts since the last
	// success. The sweep backoff grows with it.
	RetryCount int `json:"retry_count"`

	// LastAttempt is when a sync of this pair last started.
	LastAttempt time.Time `json:"last_attempt,omitempty"`

	// LastSuccessfulSync is when this pair last converged.
	LastSuccessfulSync time.Time `json:"last_successful_sync,omitempty"`

	// LastError is the most recent failure, empty after success.
	LastError string `json:"last_error,omitempty"`
}

// Key returns the registry key for this pair.
func (s SyncState) Key() []byte {
	return syncKey(s.LocalPath, s.NetworkPath)
}

// MergeState is the login-merge record for one user. It is owned by the
// login merge strategy; the counter resets at the first login observed
// each calendar day.
type MergeState struct {
	// Username identifies the user.
	Username string `json:"username"`

	// LoginCount is the number of logins observed on CounterDay.
	LoginCount int `json:"login_count"`

	// CounterDay is the calendar day (YYYY-MM-DD) LoginCount refers to.
	CounterDay string `json:"counter_day"`

	// PendingMerge is true when a full merge could not complete and
	// waits on the pending-merge queue.
	PendingMerge bool `json:"pending_merge"`

	// LastFullMerge is when the user's last full merge finished.
	LastFullMerge time.Time `json:"last_full_merge,omitempty"`

	// RetryCount is the number of failed merge retries since the merge
	// became pending.
	RetryCount int `json:"retry_count"`
}

// Key returns the registry key for this user.
func (s MergeState) Key() []byte {
	return mergeKey(s.Username)
}

const (
	syncPrefix  = "sync/"
	mergePrefix = "merge/"
)

// syncKey derives a fixed-length key from the path pair. Hashing keeps
// keys short and avoids separator ambiguity in long paths.
func syncKey(localPath, networkPath string) []byte {
	h := sha256.Sum256([]byte(localPath + "\x00" + networkPath))
	return []byte(syncPrefix + hex.EncodeToString(h[:])[:16])
}

// mergeKey returns the registry key for a username.
func mergeKey(username string) []byte {
	return []byte(mergePrefix + username)
}
