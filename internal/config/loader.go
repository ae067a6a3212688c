// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads ~/.timeclerk/timeclerk.yaml.
//
// The file is created with commented defaults on first run. Missing keys
// keep their defaults, unknown keys are rejected, and values are
// validated before anything else starts. Components never read this
// package; the command layer maps sections onto their Config structs so
// every component stays constructible without a file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	global    *Config
	globalErr error
	once      sync.Once
)

// configValidate is the validator instance for the config file.
// Initialized in init() with the custom path validator and yaml field
// names so validation errors read like the file.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("abspath", validateAbsPath)
	configValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// validateAbsPath reports whether the field holds an absolute path.
// Runs after ~ expansion, so a leading ~ in the file still passes.
func validateAbsPath(fl validator.FieldLevel) bool {
	return filepath.IsAbs(fl.Field().String())
}

// DefaultPath returns ~/.timeclerk/timeclerk.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".timeclerk", "timeclerk.yaml"), nil
}

// Load returns the process-wide configuration, reading the default path
// on first call. A missing file is created with commented defaults.
// Subsequent calls return the same result.
func Load() (*Config, error) {
	once.Do(func() {
		global, globalErr = loadDefault()
	})
	return global, globalErr
}

func loadDefault() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Default().Info("First run detected, creating default config", "path", path)
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates the configuration at an explicit path.
// Unlike Load it neither caches nor creates a missing file; callers
// passing --config want an error, not a fresh default somewhere new.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks every section against its struct tags. The error
// names offending keys in file notation, e.g. "storage.local_root".
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			key := strings.TrimPrefix(fe.Namespace(), "Config.")
			fields = append(fields, fmt.Sprintf("%s (%s)", key, fe.Tag()))
		}
		return fmt.Errorf("config validation failed: %s", strings.Join(fields, ", "))
	}
	return fmt.Errorf("config validation failed: %w", err)
}

// expandPaths resolves a leading ~ on every path-valued field.
func (c *Config) expandPaths() {
	c.Storage.LocalRoot = expandPath(c.Storage.LocalRoot)
	c.Storage.NetworkRoot = expandPath(c.Storage.NetworkRoot)
	c.Storage.StateDir = expandPath(c.Storage.StateDir)
	c.Logging.File = expandPath(c.Logging.File)
	c.Backup.Root = expandPath(c.Backup.Root)
	c.Backup.GCS.CredentialsFile = expandPath(c.Backup.GCS.CredentialsFile)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultFileTemplate), 0640); err != nil {
		return fmt.Errorf("failed to write the default config: %w", err)
	}
	return nil
}

// defaultFileTemplate is what a first run writes to disk. Values must
// stay in step with DefaultConfig; a test decodes this template and
// compares the two.
const defaultFileTemplate = `# timeclerk configuration.
#
# Created automatically on first run with the defaults shown. Paths may
# use a leading ~ for the home directory. Durations are whole seconds.

storage:
  # Local document root. Every write lands here first.
  local_root: ~/.timeclerk/documents

  # Network document root. Point this at the mounted share the team
  # exchanges documents through (e.g. /mnt/worktime). Unreachable is
  # an expected state; writes queue until it returns.
  network_root: ~/.timeclerk/network

  # Registries and in-flight transaction descriptors live here.
  state_dir: ~/.timeclerk/state

  # How long one reachability check may take before the root counts as
  # down, and how long a verdict is cached.
  probe_timeout_seconds: 3
  probe_cache_seconds: 10

logging:
  # debug, info, warn, or error.
  level: info

  # Uncomment to also write JSON records to a rotating file.
  # file: ~/.timeclerk/logs/timeclerk.log
  max_size_mb: 50
  max_backups: 5
  max_age_days: 30

  # Emit JSON instead of text on stderr.
  json: false

sync:
  queue_size: 256
  workers: 2
  sweep_interval_seconds: 30
  backoff_base_seconds: 5
  backoff_cap: 6
  jitter_factor: 0.2

  # Network copies per second across all workers; 0 disables the limit.
  rate_per_second: 20
  rate_burst: 5

backup:
  # Where captured generations live, mirroring the document layout.
  # Empty keeps each backup beside its original.
  root: ~/.timeclerk/backups
  sweep_interval_seconds: 300

  # Optional offsite mirror of every capture.
  gcs:
    enabled: false
    bucket: ""
    prefix: timeclerk
    credentials_file: ""

merge:
  # How often the daemon retries users whose login merge could not
  # complete.
  retry_interval_seconds: 300

telemetry:
  metrics_enabled: true
  tracing_enabled: true

  # OTLP gRPC collector for traces, e.g. localhost:4317. Empty keeps
  # traces local.
  otlp_endpoint: ""
  service_name: timeclerk

admin:
  enabled: true
  listen: 127.0.0.1:7171

  # Seconds between status frames pushed to websocket clients.
  ws_interval_seconds: 5
`
