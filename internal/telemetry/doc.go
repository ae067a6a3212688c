// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the OpenTelemetry SDK for timeclerk.
//
// Be opinionated about the API, flexible about the backend. OpenTelemetry
// IS the abstraction layer: packages call otel.Meter() and otel.Tracer()
// directly, and operators swap backends through exporter configuration,
// not code.
//
// # Metrics (default: Prometheus)
//
// The Prometheus exporter registers with the default registry and the
// admin server mounts MetricsHandler() at /metrics for scraping. A
// stdout exporter is available for debugging without a scraper.
//
// # Traces (default: none)
//
// Traces stay local unless an OTLP gRPC endpoint is configured, in which
// case spans are batched to the collector. A stdout exporter prints
// pretty spans for development.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Environment Variables
//
// Standard OTel variables override the defaults:
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none
//   - TIMECLERK_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init returns.
package telemetry
