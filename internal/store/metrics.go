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
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"timeclerk/internal/paths"
)

// Package-level meter for store metrics.
var meter = otel.Meter("timeclerk.store")

// Metric instruments for document reads and writes.
var (
	readsTotal    metric.Int64Counter
	writesTotal   metric.Int64Counter
	writeFailures metric.Int64Counter
	writeDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
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

		readsTotal, err = meter.Int64Counter(
			"store_reads_total",
			metric.WithDescription("Total number of document reads by entity and source"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		writesTotal, err = meter.Int64Counter(
			"store_writes_total",
			metric.WithDescription("Total number of document writes by entity"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		writeFailures, err = meter.Int64Counter(
			"store_write_failures_total",
			metric.WithDescription("Total number of failed document writes by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		writeDuration, err = meter.Float64Histogram(
			"store_write_duration_seconds",
			metric.WithDescription("Document write duration in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRead records one document read. source is "local" or "network".
func recordRead(ctx context.Context, entity paths.EntityType, source string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	readsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", string(entity)),
		attribute.String("source", source),
	))
}

// recordWrite records one successful document write.
func recordWrite(ctx context.Context, entity paths.EntityType, d time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("entity", string(entity)),
	)
	writesTotal.Add(ctx, 1, attrs)
	writeDuration.Record(ctx, d.Seconds(), attrs)
}

// recordWriteFailure records one failed write. reason is "denied",
// "serialize", or "transaction".
func recordWriteFailure(ctx context.Context, entity paths.EntityType, reason string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	writeFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", string(entity)),
		attribute.String("reason", reason),
	))
}
