// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package fileio

import (
	"errors"
	"os"
	"syscall"
)

// unixFileLocker implements fileLocker using flock(2). Locks are
// advisory, process-scoped, and released on close or process exit.
type unixFileLocker struct{}

// Lock acquires an exclusive lock with LOCK_EX|LOCK_NB. Returns
// ErrFileLocked when the file is already locked by another process.
func (l *unixFileLocker) Lock(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrFileLocked
		}
		return err
	}
	return nil
}

// Unlock releases the lock with LOCK_UN. Safe to call when not locked.
func (l *unixFileLocker) Unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}

// processAlive checks process existence with signal 0, which probes
// without delivering anything. False when the process is gone or we
// lack permission to signal it.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// newPlatformLocker returns the Unix locker.
func newPlatformLocker() fileLocker {
	return &unixFileLocker{}
}
