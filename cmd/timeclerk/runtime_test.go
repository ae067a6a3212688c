// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"testing"

	"timeclerk/internal/config"
)

// TestTelemetryConfig_Disabled verifies that disabling metrics and
// tracing in the file config turns both exporters off regardless of
// environment defaults.
func TestTelemetryConfig_Disabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telemetry.MetricsEnabled = false
	cfg.Telemetry.TracingEnabled = false

	tc := telemetryConfig(cfg)

	if tc.MetricExporter != "none" {
		t.Errorf("MetricExporter = %q, want none", tc.MetricExporter)
	}
	if tc.TraceExporter != "none" {
		t.Errorf("TraceExporter = %q, want none", tc.TraceExporter)
	}
}

// TestTelemetryConfig_TracingEnabled verifies the OTLP exporter and
// endpoint override when tracing is turned on.
func TestTelemetryConfig_TracingEnabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telemetry.TracingEnabled = true
	cfg.Telemetry.OTLPEndpoint = "collector.internal:4317"
	cfg.Telemetry.ServiceName = "timeclerk-staging"

	tc := telemetryConfig(cfg)

	if tc.TraceExporter != "otlp" {
		t.Errorf("TraceExporter = %q, want otlp", tc.TraceExporter)
	}
	if tc.OTLPEndpoint != "collector.internal:4317" {
		t.Errorf("OTLPEndpoint = %q, want collector.internal:4317", tc.OTLPEndpoint)
	}
	if tc.ServiceName != "timeclerk-staging" {
		t.Errorf("ServiceName = %q, want timeclerk-staging", tc.ServiceName)
	}
}

// TestTelemetryConfig_ServiceNameDefault verifies that an empty
// service name in the file config keeps the built-in default.
func TestTelemetryConfig_ServiceNameDefault(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")

	cfg := &config.Config{}
	tc := telemetryConfig(cfg)

	if tc.ServiceName == "" {
		t.Error("ServiceName is empty, want the built-in default")
	}
}
