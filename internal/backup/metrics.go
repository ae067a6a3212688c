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
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for backup metrics.
var meter = otel.Meter("timeclerk.backup")

// Metric instruments for backup operations.
var (
	capturedTotal   metric.Int64Counter
	captureFailures metric.Int64Counter
	restoredTotal   metric.Int64Counter
	mirrorFailures  metric.Int64Counter

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

		capturedTotal, err = meter.Int64Counter(
			"backup_captured_total",
			metric.WithDescription("Total number of backups captured by tier"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		captureFailures, err = meter.Int64Counter(
			"backup_capture_failures_total",
			metric.WithDescription("Total number of failed backup captures"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		restoredTotal, err = meter.Int64Counter(
			"backup_restored_total",
			metric.WithDescription("Total number of backup restores"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mirrorFailures, err = meter.Int64Counter(
			"backup_mirror_failures_total",
			metric.WithDescription("Total number of failed offsite mirror uploads"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordCapture records one captured backup.
func recordCapture(ctx context.Context, tier Tier) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	capturedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", string(tier)),
	))
}

// recordCaptureFailure records one failed capture.
func recordCaptureFailure(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	captureFailures.Add(ctx, 1)
}

// recordRestore records one restore.
func recordRestore(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	restoredTotal.Add(ctx, 1)
}

// recordMirrorFailure records one failed mirror upload.
func recordMirrorFailure(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	mirrorFailures.Add(ctx, 1)
}
