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
	"os"
)

// fileLocker abstracts platform-specific file locking.
//
// Unix uses flock(2); Windows uses LockFileEx. Implementations must be
// safe for concurrent use on different files; locking the same *os.File
// from multiple goroutines is undefined behavior.
type fileLocker interface {
	// Lock acquires an exclusive lock on f. Non-blocking: returns
	// ErrFileLocked immediately when the lock is held elsewhere.
	Lock(f *os.File) error

	// Unlock releases the lock on f. Safe to call even if not locked.
	Unlock(f *os.File) error
}

// isProcessAlive reports whether a process with the given PID is still
// running on this host. Used for stale lock detection; implemented per
// platform.
func isProcessAlive(pid int) bool {
	return processAlive(pid)
}
