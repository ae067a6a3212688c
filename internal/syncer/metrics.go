// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for sync metrics.
var meter = otel.Meter("timeclerk.syncer")

// Metric instruments for sync operations.
var (
	attemptsTotal metric.Int64Counter
	failuresTotal metric.Int64Counter
	pendingGauge  metric.Int64Gauge
	syncDuration  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
// Set by the Service on initialization.
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

		attemptsTotal, err = meter.Int64Counter(
			"sync_attempts_total",
			metric.WithDescription("Total number of sync attempts by direction"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		failuresTotal, err = meter.Int64Counter(
			"sync_failures_total",
			metric.WithDescription("Total number of failed sync attempts by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		pendingGauge, err = meter.Int64Gauge(
			"sync_pending",
			metric.WithDescription("Number of registry entries awaiting replication"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		syncDuration, err = meter.Float64Histogram(
			"sync_duration_seconds",
			metric.WithDescription("Duration of sync attempts in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordAttempt records one completed sync attempt.
func recordAttempt(ctx context.Context, direction Direction, duration time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("direction", string(direction)))

	attemptsTotal.Add(ctx, 1, attrs)
	syncDuration.Record(ctx, duration.Seconds(), attrs)
}

// recordFailure records a failed sync attempt.
//
// The reason is one of the bounded set: network_unavailable,
// queue_full, state_store, canceled, io.
func recordFailure(ctx context.Context, reason string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	failuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// recordPendingCount records the current pending entry count.
func recordPendingCount(ctx context.Context, count int) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	pendingGauge.Record(ctx, int64(count))
}
