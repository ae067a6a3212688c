// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for transaction metrics.
var meter = otel.Meter("timeclerk.transaction")

// Metric instruments for transaction operations.
var (
	beginTotal     metric.Int64Counter
	commitTotal    metric.Int64Counter
	commitDuration metric.Float64Histogram
	rollbackTotal  metric.Int64Counter
	activeGauge    metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
// Set by the Manager on initialization.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		beginTotal, err = meter.Int64Counter(
			"transaction_begin_total",
			metric.WithDescription("Total number of transaction begin operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitTotal, err = meter.Int64Counter(
			"transaction_commit_total",
			metric.WithDescription("Total number of transaction commit operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitDuration, err = meter.Float64Histogram(
			"transaction_commit_duration_seconds",
			metric.WithDescription("Duration of committed transactions in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"transaction_rollback_total",
			metric.WithDescription("Total number of transaction rollback operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		activeGauge, err = meter.Int64UpDownCounter(
			"transaction_active",
			metric.WithDescription("Number of currently open transactions"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBegin records a transaction begin operation.
func recordBegin(ctx context.Context, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	beginTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// recordCommit records a transaction commit operation.
func recordCommit(ctx context.Context, duration time.Duration, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	commitTotal.Add(ctx, 1, attrs)
	commitDuration.Record(ctx, duration.Seconds(), attrs)
}

// recordRollback records a transaction rollback operation.
//
// The reason is one of the bounded set: user, manager_close.
func recordRollback(ctx context.Context, reason string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	rollbackTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// incActive increments the open transaction gauge.
func incActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	activeGauge.Add(ctx, 1)
}

// decActive decrements the open transaction gauge.
func decActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	activeGauge.Add(ctx, -1)
}
