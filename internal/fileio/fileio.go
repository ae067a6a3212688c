// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fileio provides the durable file primitives underneath the
// document store: crash-safe atomic writes, typed deserializing reads
// with lock-respecting and lock-bypassing modes, and an advisory
// per-path lock manager shared across processes.
//
// Absence is not an error here. Reads report a missing or unreadable
// document as (zero value, false); corrupt payloads are logged and
// treated the same way so business flows never break on bad data.
package fileio

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic durably writes data to path using a temp-file-then-rename
// pattern. A crash at any point leaves either the complete old content
// or the complete new content at path, never a partial file.
//
// The temp file is created in the target's directory so the final
// rename stays on one filesystem. The file is fsynced before the
// rename and the parent directory is fsynced after it, so the new name
// survives a power loss. Parent directories are created as needed.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up the temp file on any error
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing content: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing to disk: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	// Set permissions before rename
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true

	// Persist the rename itself. Best effort: directory fsync is not
	// supported everywhere (notably some network filesystems).
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}

// ReadRaw returns the raw bytes of path. A missing file yields
// (nil, false); any other read error does too.
func ReadRaw(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}
