// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"path/filepath"
	"time"
)

// Config is the full configuration file, one section per subsystem.
//
// Durations are expressed in whole seconds so the file stays plain YAML
// integers; the section types expose time.Duration accessors. Paths may
// use a leading ~ for the home directory; Load expands them before
// validation.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sync      SyncConfig      `yaml:"sync"`
	Backup    BackupConfig    `yaml:"backup"`
	Merge     MergeConfig     `yaml:"merge"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Admin     AdminConfig     `yaml:"admin"`
}

// StorageConfig names the two document roots and the state directory.
type StorageConfig struct {
	// LocalRoot is the local document root. Every write lands here
	// first.
	LocalRoot string `yaml:"local_root" validate:"required,abspath"`

	// NetworkRoot is the network document root, typically a mounted
	// share. Unreachable is an expected state.
	NetworkRoot string `yaml:"network_root" validate:"required,abspath"`

	// StateDir holds the registries and transaction descriptors.
	StateDir string `yaml:"state_dir" validate:"required,abspath"`

	// ProbeTimeoutSeconds bounds one reachability stat.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds" validate:"min=1"`

	// ProbeCacheSeconds is how long a reachability verdict stays valid.
	ProbeCacheSeconds int `yaml:"probe_cache_seconds" validate:"min=1"`
}

// RegistryDir is where the sync and merge registries live.
func (s StorageConfig) RegistryDir() string {
	return filepath.Join(s.StateDir, "registry")
}

// TransactionDir is where in-flight transaction descriptors live.
func (s StorageConfig) TransactionDir() string {
	return filepath.Join(s.StateDir, "transactions")
}

// ProbeTimeout returns ProbeTimeoutSeconds as a duration.
func (s StorageConfig) ProbeTimeout() time.Duration {
	return time.Duration(s.ProbeTimeoutSeconds) * time.Second
}

// ProbeCacheTTL returns ProbeCacheSeconds as a duration.
func (s StorageConfig) ProbeCacheTTL() time.Duration {
	return time.Duration(s.ProbeCacheSeconds) * time.Second
}

// LoggingConfig controls the stderr and rotating-file sinks.
type LoggingConfig struct {
	// Level is the minimum severity: debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// File enables rotating JSON file logging when non-empty.
	File string `yaml:"file"`

	// MaxSizeMB is the size a log file may reach before rotation.
	MaxSizeMB int `yaml:"max_size_mb" validate:"min=0"`

	// MaxBackups is the number of rotated files retained.
	MaxBackups int `yaml:"max_backups" validate:"min=0"`

	// MaxAgeDays is the age limit for rotated files.
	MaxAgeDays int `yaml:"max_age_days" validate:"min=0"`

	// JSON switches stderr output from text to JSON records.
	JSON bool `yaml:"json"`
}

// SyncConfig tunes the replication worker pool and its sweep.
type SyncConfig struct {
	QueueSize            int     `yaml:"queue_size" validate:"min=1"`
	Workers              int     `yaml:"workers" validate:"min=1"`
	SweepIntervalSeconds int     `yaml:"sweep_interval_seconds" validate:"min=1"`
	BackoffBaseSeconds   int     `yaml:"backoff_base_seconds" validate:"min=1"`
	BackoffCap           int     `yaml:"backoff_cap" validate:"min=0,max=16"`
	JitterFactor         float64 `yaml:"jitter_factor" validate:"gte=0,lte=1"`

	// RatePerSecond caps network copies across all workers. Zero
	// disables the limit.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	RateBurst     int     `yaml:"rate_burst" validate:"min=0"`
}

// SweepInterval returns SweepIntervalSeconds as a duration.
func (s SyncConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// BackoffBase returns BackoffBaseSeconds as a duration.
func (s SyncConfig) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseSeconds) * time.Second
}

// BackupConfig places captured generations and the optional mirror.
type BackupConfig struct {
	// Root is the subtree where backups live, mirroring the document
	// layout. Empty keeps each backup beside its original.
	Root string `yaml:"root" validate:"omitempty,abspath"`

	// SweepIntervalSeconds is how often tracked paths are checked
	// against their tier interval.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" validate:"min=1"`

	// GCS mirrors every capture to a bucket when enabled.
	GCS GCSConfig `yaml:"gcs"`
}

// SweepInterval returns SweepIntervalSeconds as a duration.
func (b BackupConfig) SweepInterval() time.Duration {
	return time.Duration(b.SweepIntervalSeconds) * time.Second
}

// GCSConfig identifies the offsite mirror bucket.
type GCSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix  string `yaml:"prefix"`

	// CredentialsFile is the service account key used for uploads.
	CredentialsFile string `yaml:"credentials_file" validate:"required_if=Enabled true"`
}

// MergeConfig tunes the daemon's pending-merge retry loop.
type MergeConfig struct {
	// RetryIntervalSeconds is how often users whose login merge could
	// not complete are retried.
	RetryIntervalSeconds int `yaml:"retry_interval_seconds" validate:"min=1"`
}

// RetryInterval returns RetryIntervalSeconds as a duration.
func (m MergeConfig) RetryInterval() time.Duration {
	return time.Duration(m.RetryIntervalSeconds) * time.Second
}

// TelemetryConfig controls metrics and tracing export.
type TelemetryConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
	TracingEnabled bool `yaml:"tracing_enabled"`

	// OTLPEndpoint is a collector address for traces, e.g.
	// localhost:4317. Empty keeps traces local.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// ServiceName is the resource attribute on exported telemetry.
	ServiceName string `yaml:"service_name" validate:"required"`
}

// AdminConfig controls the operations HTTP server.
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`

	// Listen is the bind address, host:port.
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`

	// WSIntervalSeconds is the pause between status frames pushed to
	// websocket clients.
	WSIntervalSeconds int `yaml:"ws_interval_seconds" validate:"min=1"`
}

// StatusInterval returns WSIntervalSeconds as a duration.
func (a AdminConfig) StatusInterval() time.Duration {
	return time.Duration(a.WSIntervalSeconds) * time.Second
}

// DefaultConfig returns the configuration the first run writes to disk.
// Paths keep their leading ~; Load expands them.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			LocalRoot:           "~/.timeclerk/documents",
			NetworkRoot:         "~/.timeclerk/network",
			StateDir:            "~/.timeclerk/state",
			ProbeTimeoutSeconds: 3,
			ProbeCacheSeconds:   10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Sync: SyncConfig{
			QueueSize:            256,
			Workers:              2,
			SweepIntervalSeconds: 30,
			BackoffBaseSeconds:   5,
			BackoffCap:           6,
			JitterFactor:         0.2,
			RatePerSecond:        20,
			RateBurst:            5,
		},
		Backup: BackupConfig{
			Root:                 "~/.timeclerk/backups",
			SweepIntervalSeconds: 300,
			GCS: GCSConfig{
				Prefix: "timeclerk",
			},
		},
		Merge: MergeConfig{
			RetryIntervalSeconds: 300,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			TracingEnabled: true,
			ServiceName:    "timeclerk",
		},
		Admin: AdminConfig{
			Enabled:           true,
			Listen:            "127.0.0.1:7171",
			WSIntervalSeconds: 5,
		},
	}
}
