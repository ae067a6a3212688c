// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

// memguardInitOnce ensures memguard initialization happens only once.
var memguardInitOnce sync.Once

// initMemguard arms memguard's interrupt handler so sealed snapshots
// are wiped on SIGINT/SIGTERM.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
	})
}

// MemoryBackup is a RAM-resident snapshot of one document, held in a
// sealed memguard enclave. It exists for short transactional windows
// where a disk backup would be wasted I/O: capture, attempt the
// mutation, restore or discard.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryBackup struct {
	// Path is the document the snapshot was taken from.
	Path string

	// CapturedAt is when the snapshot was taken.
	CapturedAt time.Time

	mu        sync.Mutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// CreateMemoryBackup seals a snapshot of path's current bytes.
//
// # Description
//
// Reads the document and moves its bytes into a memguard enclave
// (encrypted at rest in memory, wiped on interrupt). The source slice
// is wiped by the move. Returns ok=false when the document is absent,
// unreadable, or empty; callers treat a missing snapshot as "proceed
// without a safety net", so no error surfaces.
//
// # Inputs
//
//   - path: Document to snapshot.
//
// # Outputs
//
//   - *MemoryBackup: The sealed snapshot. Call Destroy when done.
//   - bool: False when nothing was captured.
func (s *Service) CreateMemoryBackup(path string) (*MemoryBackup, bool) {
	initMemguard()

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("memory snapshot skipped", "path", path, "error", err)
		return nil, false
	}
	if len(data) == 0 {
		s.logger.Debug("memory snapshot skipped, source empty", "path", path)
		return nil, false
	}

	size := len(data)
	enclave := memguard.NewEnclave(data)

	s.logger.Debug("memory snapshot captured",
		"path", path,
		"size_bytes", size)

	return &MemoryBackup{
		Path:       path,
		CapturedAt: time.Now(),
		enclave:    enclave,
		size:       size,
	}, true
}

// Open re-yields the snapshot's bytes as a fresh copy the caller owns.
func (b *MemoryBackup) Open() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed || b.enclave == nil {
		return nil, fmt.Errorf("memory snapshot of %s already destroyed", b.Path)
	}

	buf, err := b.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open memory snapshot of %s: %w", b.Path, err)
	}
	defer buf.Destroy()

	out := make([]byte, buf.Size())
	copy(out, buf.Bytes())
	return out, nil
}

// Size returns the snapshot's payload size in bytes.
func (b *MemoryBackup) Size() int {
	return b.size
}

// Destroy drops the snapshot. Idempotent.
func (b *MemoryBackup) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

// PurgeSecureMemory wipes every sealed snapshot in the process. Call
// during shutdown; all existing MemoryBackups become unreadable.
func PurgeSecureMemory() {
	memguard.Purge()
}
