// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction groups document writes and replication requests
// into a single commit step.
//
// A FileTransaction stages operations without touching the filesystem.
// Commit executes the staged writes in order through atomic renames and
// hands the staged path pairs to the replication dispatcher. There is
// no cross-file atomicity: each write lands atomically on its own, and
// a failed write stops the writes that were staged after it while the
// earlier ones remain on disk.
package transaction

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sentinel errors returned by the manager and by staging.
var (
	// ErrTransactionActive is returned by Begin while another
	// transaction is still open. Nested transactions are not supported.
	ErrTransactionActive = errors.New("a transaction is already active")

	// ErrNoTransaction is returned by Commit and Rollback when the
	// given transaction is not the manager's active one.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrTransactionClosed is returned by AddWrite and AddSync once a
	// transaction has been committed, rolled back, or sealed for commit.
	ErrTransactionClosed = errors.New("transaction is not open")

	// ErrMaxOpsExceeded is returned when staging would exceed the
	// manager's configured operation limit.
	ErrMaxOpsExceeded = errors.New("maximum staged operations exceeded")
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	// StatusOpen accepts staged operations.
	StatusOpen Status = "OPEN"

	// StatusCommitted means all staged writes landed on disk.
	StatusCommitted Status = "COMMITTED"

	// StatusRolledBack means the staged operations were discarded.
	StatusRolledBack Status = "ROLLED_BACK"

	// StatusFailed means Commit stopped at a failed write. Writes
	// staged before the failure remain on disk.
	StatusFailed Status = "FAILED"
)

// OpKind distinguishes the two staged operation types.
type OpKind string

const (
	// OpWrite is a durable local document write.
	OpWrite OpKind = "write"

	// OpSync is a replication request for a local/network path pair.
	OpSync OpKind = "sync"
)

// stagedOp is one staged operation. For writes, path is the target and
// data the payload. For syncs, path is the local side of the pair.
type stagedOp struct {
	kind        OpKind
	path        string
	data        []byte
	networkPath string
}

// key returns the staging key. Re-staging the same key replaces the
// earlier operation in place, preserving its position in the order.
func (op *stagedOp) key() string {
	return string(op.kind) + "\x00" + op.path
}

// FileTransaction is an ordered set of staged writes and syncs.
//
// # Description
//
// Staging performs no I/O. Operations execute only when the owning
// Manager commits the transaction. Each target path holds at most one
// staged write; staging the same path again replaces the payload
// without changing the original staging position. Sync pairs are keyed
// by their local path the same way.
//
// # Thread Safety
//
// AddWrite and AddSync are safe for concurrent use. The exported
// fields are set at Begin and never change afterwards.
type FileTransaction struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Status    Status    `json:"status"`

	mu     sync.Mutex
	sealed bool
	maxOps int
	ops    []*stagedOp
	index  map[string]*stagedOp
}

// AddWrite stages a durable write of data to path.
//
// # Description
//
// The payload is copied, so the caller may reuse the slice after
// staging. Nothing is written until Commit.
//
// # Inputs
//
//   - path: Absolute target path of the document.
//   - data: Serialized document content.
//
// # Outputs
//
//   - error: ErrTransactionClosed if the transaction is no longer open,
//     ErrMaxOpsExceeded if the staging limit is reached, nil otherwise.
func (t *FileTransaction) AddWrite(path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("staging write: path is required")
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	return t.stage(&stagedOp{kind: OpWrite, path: path, data: buf})
}

// AddSync stages a replication request for a local/network path pair.
//
// # Description
//
// The pair is handed to the manager's Dispatcher after the local
// writes of the commit succeed. A dispatch failure never fails the
// transaction; replication is retried by the sync layer.
//
// # Inputs
//
//   - localPath: Absolute path of the document on local storage.
//   - networkPath: Absolute path of its counterpart on network storage.
//
// # Outputs
//
//   - error: ErrTransactionClosed if the transaction is no longer open,
//     ErrMaxOpsExceeded if the staging limit is reached, nil otherwise.
func (t *FileTransaction) AddSync(localPath, networkPath string) error {
	if localPath == "" || networkPath == "" {
		return fmt.Errorf("staging sync: both paths are required")
	}

	return t.stage(&stagedOp{kind: OpSync, path: localPath, networkPath: networkPath})
}

// OpCount returns the number of staged operations.
func (t *FileTransaction) OpCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// Duration returns how long the transaction has been running.
func (t *FileTransaction) Duration() time.Duration {
	return time.Since(t.StartedAt)
}

// stage inserts or replaces op under the staging lock.
func (t *FileTransaction) stage(op *stagedOp) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status != StatusOpen || t.sealed {
		return ErrTransactionClosed
	}

	if existing, ok := t.index[op.key()]; ok {
		existing.data = op.data
		existing.networkPath = op.networkPath
		return nil
	}

	if t.maxOps > 0 && len(t.ops) >= t.maxOps {
		return ErrMaxOpsExceeded
	}

	t.ops = append(t.ops, op)
	t.index[op.key()] = op
	return nil
}

// seal stops further staging and returns the operations in staging
// order. Called by the manager at the start of Commit.
func (t *FileTransaction) seal() []*stagedOp {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sealed = true
	ops := make([]*stagedOp, len(t.ops))
	copy(ops, t.ops)
	return ops
}

// setStatus updates the lifecycle state under the staging lock.
func (t *FileTransaction) setStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = s
}

// OperationResult is the outcome of one staged operation.
//
// For writes, OK reports whether the document landed on disk. For
// syncs, OK reports whether the pair was accepted by the dispatcher;
// a false value there does not affect the aggregate Result.
type OperationResult struct {
	Path  string `json:"path"`
	Kind  OpKind `json:"kind"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Result is the immutable outcome of a commit.
//
// OK is true exactly when every staged write succeeded. Dispatch
// failures appear in Operations but leave OK untouched. Callers that
// see OK false must treat the commit as partial: operations before the
// failed write are on disk, the rest are not.
type Result struct {
	TransactionID string            `json:"transaction_id"`
	Status        Status            `json:"status"`
	OK            bool              `json:"ok"`
	Error         string            `json:"error,omitempty"`
	Duration      time.Duration     `json:"duration"`
	Operations    []OperationResult `json:"operations"`
}
