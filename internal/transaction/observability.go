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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const transactionTracerName = "timeclerk.transaction"

// Tracer provides OpenTelemetry tracing for transaction operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with transaction-specific span
// creation. When disabled, returns noop spans for zero overhead.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new transaction tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
//
// # Outputs
//
//   - *Tracer: Ready-to-use tracer instance.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(transactionTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartBegin starts a span for a transaction begin operation.
func (t *Tracer) StartBegin(ctx context.Context) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	return t.tracer.Start(ctx, "transaction.begin",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndBegin completes a transaction begin span.
//
// # Inputs
//
//   - span: The span to end.
//   - tx: The created transaction (may be nil on error).
//   - err: Error if begin failed.
func (t *Tracer) EndBegin(span trace.Span, tx *FileTransaction, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetStatus(codes.Ok, "")
	if tx != nil {
		span.SetAttributes(
			attribute.String("tx.id", tx.ID),
		)
	}
}

// StartCommit starts a span for a transaction commit operation.
func (t *Tracer) StartCommit(ctx context.Context, tx *FileTransaction) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "transaction.commit",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.Int("tx.ops", tx.OpCount()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "committing transaction",
		slog.String("tx_id", tx.ID),
		slog.Int("ops", tx.OpCount()),
	)

	return ctx, span
}

// EndCommit completes a transaction commit span.
//
// # Inputs
//
//   - span: The span to end.
//   - result: The commit result (may be nil on error).
//   - err: Error if commit failed.
func (t *Tracer) EndCommit(span trace.Span, result *Result, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetStatus(codes.Ok, "")
	if result != nil {
		span.SetAttributes(
			attribute.Bool("tx.ok", result.OK),
			attribute.Int64("tx.duration_ms", result.Duration.Milliseconds()),
			attribute.Int("tx.ops", len(result.Operations)),
		)
	}
}

// LoggerWithTrace returns a logger with trace context fields.
//
// # Description
//
// Extracts trace_id and span_id from the context and adds them
// to the logger for correlation with distributed traces.
//
// # Inputs
//
//   - ctx: Context that may contain trace information.
//   - logger: Base logger to extend.
//
// # Outputs
//
//   - *slog.Logger: Logger with trace_id and span_id if available.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
