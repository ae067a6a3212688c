// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package merge decides how much reconciliation a login pays for.
//
// A full merge (reconcile locally-pending changes against network truth
// plus a complete cache refresh) costs roughly the same regardless of
// data volume, which is too slow to run on every login. The strategy
// keeps a per-user counter that resets at the first login of each
// calendar day: login one gets the full merge, later logins get a fast
// cache refresh from already-synced data. The price is a bounded
// intra-day staleness window after the first login.
//
// Users whose full merge could not complete (network unreachable at
// login) wait on the pending-merge queue until a retry pass or an
// operator drains them.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"timeclerk/internal/state"
)

// dayFormat keys the login counter to a calendar day.
const dayFormat = "2006-01-02"

// Decision is what a recorded login prescribes.
type Decision string

const (
	// DecisionFullMerge reconciles all locally-pending changes against
	// network truth and refreshes every cache.
	DecisionFullMerge Decision = "FULL_MERGE"

	// DecisionFastCacheRefresh reloads in-memory caches from
	// already-synced data and skips reconciliation.
	DecisionFastCacheRefresh Decision = "FAST_CACHE_REFRESH"
)

// Config controls the merge strategy.
type Config struct {
	// Clock supplies the current time. Defaults to time.Now; tests
	// inject a fixed clock to cross day boundaries.
	Clock func() time.Time
}

// Strategy owns the per-user login counters and the merge decision.
//
// # Thread Safety
//
// Safe for concurrent use; counter updates run inside store
// transactions.
type Strategy struct {
	states *state.Store
	queue  *Queue
	clock  func() time.Time
	logger *slog.Logger
}

// NewStrategy creates a merge strategy. The state store must be
// non-nil; queue may be nil when deferral is handled elsewhere.
func NewStrategy(cfg Config, states *state.Store, queue *Queue, logger *slog.Logger) *Strategy {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Strategy{
		states: states,
		queue:  queue,
		clock:  clock,
		logger: logger.With("component", "merge"),
	}
}

// Queue returns the pending-merge queue, or nil when none is wired.
func (st *Strategy) Queue() *Queue {
	return st.queue
}

// RecordLogin counts one login and returns the prescribed refresh.
//
// # Description
//
// The counter resets at the first login observed each calendar day.
// Login one of the day prescribes a full merge; every later login
// prescribes a fast cache refresh.
//
// # Inputs
//
//   - ctx: Context for the store transaction.
//   - username: The user logging in.
//
// # Outputs
//
//   - Decision: DecisionFullMerge on the day's first login,
//     DecisionFastCacheRefresh otherwise.
//   - error: Non-nil if the counter could not be persisted.
func (st *Strategy) RecordLogin(ctx context.Context, username string) (Decision, error) {
	if username == "" {
		return "", fmt.Errorf("username is required")
	}

	today := st.clock().Format(dayFormat)
	updated, err := st.states.UpdateMergeState(ctx, username, func(ms *state.MergeState) {
		if ms.CounterDay != today {
			ms.CounterDay = today
			ms.LoginCount = 0
		}
		ms.LoginCount++
	})
	if err != nil {
		return "", fmt.Errorf("recording login for %s: %w", username, err)
	}

	if updated.LoginCount == 1 {
		st.logger.Info("first login of the day, full merge prescribed",
			"username", username,
			"day", today)
		return DecisionFullMerge, nil
	}

	st.logger.Debug("repeat login, fast cache refresh prescribed",
		"username", username,
		"login_count", updated.LoginCount)
	return DecisionFastCacheRefresh, nil
}

// ShouldPerformFullMerge reports whether the current counter state
// prescribes a full merge: exactly one login recorded today.
func (st *Strategy) ShouldPerformFullMerge(ctx context.Context, username string) (bool, error) {
	count, err := st.todayCount(ctx, username)
	if err != nil {
		return false, err
	}
	return count == 1, nil
}

// ShouldPerformFastCacheRefresh reports whether the current counter
// state prescribes a fast cache refresh: more than one login today.
func (st *Strategy) ShouldPerformFastCacheRefresh(ctx context.Context, username string) (bool, error) {
	count, err := st.todayCount(ctx, username)
	if err != nil {
		return false, err
	}
	return count > 1, nil
}

// ForceFullMergeOnNextLogin resets the user's counter so their next
// login counts as the first of the day and pays for a full merge.
func (st *Strategy) ForceFullMergeOnNextLogin(ctx context.Context, username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}

	today := st.clock().Format(dayFormat)
	if _, err := st.states.UpdateMergeState(ctx, username, func(ms *state.MergeState) {
		ms.CounterDay = today
		ms.LoginCount = 0
	}); err != nil {
		return fmt.Errorf("forcing full merge for %s: %w", username, err)
	}

	st.logger.Info("full merge forced on next login", "username", username)
	return nil
}

// TriggerFullMergeNow sets the counter as if the user just logged in
// for the first time today, without a login event. Callers run the
// merge immediately after.
func (st *Strategy) TriggerFullMergeNow(ctx context.Context, username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}

	today := st.clock().Format(dayFormat)
	if _, err := st.states.UpdateMergeState(ctx, username, func(ms *state.MergeState) {
		ms.CounterDay = today
		ms.LoginCount = 1
	}); err != nil {
		return fmt.Errorf("triggering full merge for %s: %w", username, err)
	}

	st.logger.Info("immediate full merge triggered", "username", username)
	return nil
}

// DeferFullMerge parks a user whose full merge could not complete on
// the pending-merge queue.
func (st *Strategy) DeferFullMerge(ctx context.Context, username string) error {
	if st.queue == nil {
		return fmt.Errorf("no pending-merge queue configured")
	}
	if err := st.queue.Enqueue(ctx, username); err != nil {
		return err
	}
	st.logger.Info("full merge deferred to pending queue", "username", username)
	return nil
}

// MarkFullMergeComplete records a finished full merge: the pending
// flag drops, the retry counter resets, and LastFullMerge advances.
func (st *Strategy) MarkFullMergeComplete(ctx context.Context, username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}

	now := st.clock()
	if _, err := st.states.UpdateMergeState(ctx, username, func(ms *state.MergeState) {
		ms.PendingMerge = false
		ms.RetryCount = 0
		ms.LastFullMerge = now
	}); err != nil {
		return fmt.Errorf("marking merge complete for %s: %w", username, err)
	}

	st.logger.Info("full merge completed", "username", username)
	return nil
}

// todayCount returns the user's login count for the current day.
// A record from another day counts as zero.
func (st *Strategy) todayCount(ctx context.Context, username string) (int, error) {
	ms, found, err := st.states.GetMergeState(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("reading merge state for %s: %w", username, err)
	}
	if !found || ms.CounterDay != st.clock().Format(dayFormat) {
		return 0, nil
	}
	return ms.LoginCount, nil
}
