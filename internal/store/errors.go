// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"

	"timeclerk/internal/paths"
	"timeclerk/internal/transaction"
)

var (
	// ErrAuthorizationDenied is returned when the write-authorization
	// hook rejects a write. No I/O has happened at that point.
	ErrAuthorizationDenied = errors.New("write not authorized")

	// ErrNetworkRequired is returned when a read genuinely needs the
	// network root (another principal's data) and the root is
	// unreachable. Reads that can fall back to local never see it.
	ErrNetworkRequired = errors.New("network storage is required and unreachable")
)

// TransactionError is the typed fault a failed write surfaces.
//
// # Description
//
// Carries the partial transaction Result so callers can see which
// staged operations landed before the failure. Result may be nil when
// the transaction could not even be started. Commit has no cross-file
// atomicity; a caller holding this error must treat the write as
// "some operations landed" and re-verify rather than assume nothing
// happened.
type TransactionError struct {
	// Entity is the document category being written.
	Entity paths.EntityType

	// Owner is the document owner, empty for shared documents.
	Owner string

	// Result is the partial commit outcome. Nil if Begin or staging
	// failed before commit.
	Result *transaction.Result

	// Err is the underlying cause.
	Err error
}

// Error renders the fault with its entity and owner context.
func (e *TransactionError) Error() string {
	target := string(e.Entity)
	if e.Owner != "" {
		target = fmt.Sprintf("%s for %s", e.Entity, e.Owner)
	}
	return fmt.Sprintf("writing %s: %v", target, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *TransactionError) Unwrap() error {
	return e.Err
}
