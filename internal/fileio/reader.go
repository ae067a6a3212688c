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
	"encoding/json"
	"log/slog"
	"os"
	"time"
)

// ReaderConfig configures document read behavior.
type ReaderConfig struct {
	// LockWait bounds how long a lock-respecting read waits for the
	// advisory per-path lock before proceeding without it.
	// Default: 2s.
	LockWait time.Duration
}

// DefaultReaderConfig returns the standard reader configuration.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		LockWait: 2 * time.Second,
	}
}

// Reader performs typed JSON document reads.
//
// Two modes exist. Read honors the advisory per-path lock with a
// bounded wait, for callers that want a settled view of their own data.
// ReadNoLock skips the lock entirely, trading strict consistency for
// availability when one principal must view another principal's
// in-flight data. Which source to read (local vs network copy) is the
// caller's decision, not this type's.
//
// Safe for concurrent use.
type Reader struct {
	config ReaderConfig
	locks  *LockManager
	logger *slog.Logger
}

// NewReader creates a Reader. locks may be nil, in which case Read
// behaves like ReadNoLock.
func NewReader(config ReaderConfig, locks *LockManager, logger *slog.Logger) *Reader {
	if config.LockWait <= 0 {
		config.LockWait = DefaultReaderConfig().LockWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		config: config,
		locks:  locks,
		logger: logger.With("component", "fileio.reader"),
	}
}

// Read deserializes the JSON document at path into T, acquiring the
// advisory per-path lock first (bounded wait).
//
// Returns (zero, false) when the file is missing or its content cannot
// be decoded; absence is never an error. If the lock cannot be acquired
// within the configured wait the read proceeds without it and the
// degradation is logged.
func Read[T any](r *Reader, path string) (T, bool) {
	if r.locks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.LockWait)
		err := r.locks.Acquire(ctx, path, "read")
		cancel()
		if err == nil {
			defer func() { _ = r.locks.Release(path) }()
		} else {
			r.logger.Warn("Lock wait expired, reading without lock",
				"path", path,
				"error", err)
		}
	}
	return decode[T](r, path)
}

// ReadNoLock deserializes the JSON document at path into T without
// touching the advisory lock. Same absence semantics as Read.
func ReadNoLock[T any](r *Reader, path string) (T, bool) {
	return decode[T](r, path)
}

// decode reads and unmarshals one document. Missing files are silent;
// unreadable or corrupt ones are logged and reported as absent.
func decode[T any](r *Reader, path string) (T, bool) {
	var value T

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("Failed to read document",
				"path", path,
				"error", err)
		}
		return value, false
	}

	if err := json.Unmarshal(data, &value); err != nil {
		r.logger.Warn("Corrupt document treated as absent",
			"path", path,
			"error", err)
		var zero T
		return zero, false
	}

	return value, true
}
