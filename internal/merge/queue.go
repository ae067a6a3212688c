// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"timeclerk/internal/state"
)

// Queue tracks users whose full merge is still owed. Entries live in
// the merge registry as PendingMerge flags, so the queue survives
// restarts and holds no state of its own.
type Queue struct {
	states *state.Store
	logger *slog.Logger
}

// NewQueue creates a pending-merge queue over the state store.
func NewQueue(states *state.Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		states: states,
		logger: logger.With("component", "merge.queue"),
	}
}

// Enqueue marks a user's full merge as pending.
func (q *Queue) Enqueue(ctx context.Context, username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}

	if _, err := q.states.UpdateMergeState(ctx, username, func(ms *state.MergeState) {
		ms.PendingMerge = true
	}); err != nil {
		return fmt.Errorf("enqueueing pending merge for %s: %w", username, err)
	}
	return nil
}

// Pending lists every user still owing a full merge.
func (q *Queue) Pending(ctx context.Context) ([]state.MergeState, error) {
	return q.states.PendingMergeStates(ctx)
}

// Count returns how many users owe a full merge.
func (q *Queue) Count(ctx context.Context) (int, error) {
	pending, err := q.states.PendingMergeStates(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// HasPending reports whether any user owes a full merge.
func (q *Queue) HasPending(ctx context.Context) (bool, error) {
	n, err := q.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Retry runs fn for every pending user.
//
// # Description
//
// A successful fn clears the user's pending flag, resets the retry
// counter, and stamps LastFullMerge. A failed fn leaves the user
// pending with the retry counter incremented. Stops early when ctx
// is cancelled.
//
// # Inputs
//
//   - ctx: Cancels the pass between users.
//   - fn: The merge executor, called once per pending user.
//
// # Outputs
//
//   - int: Number of users whose merge completed this pass.
//   - error: The context error on early cancel, or a registry failure.
func (q *Queue) Retry(ctx context.Context, fn func(ctx context.Context, username string) error) (int, error) {
	pending, err := q.states.PendingMergeStates(ctx)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, ms := range pending {
		if err := ctx.Err(); err != nil {
			return completed, err
		}

		if mergeErr := fn(ctx, ms.Username); mergeErr != nil {
			if _, err := q.states.UpdateMergeState(ctx, ms.Username, func(cur *state.MergeState) {
				cur.RetryCount++
			}); err != nil {
				return completed, fmt.Errorf("recording merge retry for %s: %w", ms.Username, err)
			}
			q.logger.Warn("pending merge retry failed",
				"username", ms.Username,
				"retry_count", ms.RetryCount+1,
				"error", mergeErr)
			continue
		}

		now := time.Now()
		if _, err := q.states.UpdateMergeState(ctx, ms.Username, func(cur *state.MergeState) {
			cur.PendingMerge = false
			cur.RetryCount = 0
			cur.LastFullMerge = now
		}); err != nil {
			return completed, fmt.Errorf("recording merge completion for %s: %w", ms.Username, err)
		}
		completed++
		q.logger.Info("pending merge completed", "username", ms.Username)
	}

	return completed, nil
}

// Clear drops every pending flag without running the merges. Login
// counters survive; only the owed merges are forgotten. This is the
// operator escape hatch for confirmed-stuck entries.
func (q *Queue) Clear(ctx context.Context) (int, error) {
	pending, err := q.states.PendingMergeStates(ctx)
	if err != nil {
		return 0, err
	}

	for _, ms := range pending {
		if _, err := q.states.UpdateMergeState(ctx, ms.Username, func(cur *state.MergeState) {
			cur.PendingMerge = false
			cur.RetryCount = 0
		}); err != nil {
			return 0, fmt.Errorf("clearing pending merge for %s: %w", ms.Username, err)
		}
	}

	q.logger.Warn("pending merge queue cleared by operator",
		"entries_dropped", len(pending))
	return len(pending), nil
}
