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
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// writeConfig drops a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timeclerk.yaml")
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// minimalConfig is a file that overrides only the storage paths.
const minimalConfig = `
storage:
  local_root: /srv/timeclerk/documents
  network_root: /mnt/worktime
  state_dir: /srv/timeclerk/state
`

func TestDefaultTemplateMatchesDefaults(t *testing.T) {
	var fromFile Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(defaultFileTemplate)))
	dec.KnownFields(true)
	if err := dec.Decode(&fromFile); err != nil {
		t.Fatalf("decode template: %v", err)
	}
	if !reflect.DeepEqual(fromFile, DefaultConfig()) {
		t.Errorf("template drifted from DefaultConfig():\n file: %+v\n code: %+v",
			fromFile, DefaultConfig())
	}
}

func TestLoadFrom_MissingKeysKeepDefaults(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Storage.LocalRoot != "/srv/timeclerk/documents" {
		t.Errorf("LocalRoot = %q", cfg.Storage.LocalRoot)
	}
	if cfg.Sync.QueueSize != 256 {
		t.Errorf("QueueSize = %d, want default 256", cfg.Sync.QueueSize)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Level = %q, want default info", cfg.Logging.Level)
	}
	if !cfg.Admin.Enabled || cfg.Admin.Listen != "127.0.0.1:7171" {
		t.Errorf("Admin = %+v, want default", cfg.Admin)
	}
}

func TestLoadFrom_EmptyFileIsAllDefaults(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	want := filepath.Join(home, ".timeclerk", "documents")
	if cfg.Storage.LocalRoot != want {
		t.Errorf("LocalRoot = %q, want %q", cfg.Storage.LocalRoot, want)
	}
}

func TestLoadFrom_RejectsUnknownKeys(t *testing.T) {
	_, err := LoadFrom(writeConfig(t, minimalConfig+`
sync:
  worker_count: 4
`))
	if err == nil {
		t.Fatal("expected an error for the misspelled key")
	}
	if !strings.Contains(err.Error(), "worker_count") {
		t.Errorf("error should name the unknown key, got: %v", err)
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadFrom_ValidatesValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantKey string
	}{
		{
			name: "unknown log level",
			content: minimalConfig + `
logging:
  level: loud
`,
			wantKey: "logging.level",
		},
		{
			name: "zero workers",
			content: minimalConfig + `
sync:
  workers: 0
`,
			wantKey: "sync.workers",
		},
		{
			name: "relative document root",
			content: `
storage:
  local_root: documents
  network_root: /mnt/worktime
  state_dir: /srv/timeclerk/state
`,
			wantKey: "storage.local_root",
		},
		{
			name: "jitter above one",
			content: minimalConfig + `
sync:
  jitter_factor: 1.5
`,
			wantKey: "sync.jitter_factor",
		},
		{
			name: "bad listen address",
			content: minimalConfig + `
admin:
  listen: not-an-address
`,
			wantKey: "admin.listen",
		},
		{
			name: "mirror enabled without bucket",
			content: minimalConfig + `
backup:
  gcs:
    enabled: true
    credentials_file: /etc/timeclerk/sa.json
`,
			wantKey: "backup.gcs.bucket",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.wantKey) {
				t.Errorf("error should name %q, got: %v", tc.wantKey, err)
			}
		})
	}
}

func TestLoadFrom_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadFrom(writeConfig(t, `
storage:
  local_root: ~/docs
  network_root: /mnt/worktime
  state_dir: ~/state
logging:
  file: ~/logs/timeclerk.log
`))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if want := filepath.Join(home, "docs"); cfg.Storage.LocalRoot != want {
		t.Errorf("LocalRoot = %q, want %q", cfg.Storage.LocalRoot, want)
	}
	if want := filepath.Join(home, "logs", "timeclerk.log"); cfg.Logging.File != want {
		t.Errorf("Logging.File = %q, want %q", cfg.Logging.File, want)
	}
}

func TestLoad_FirstRunCreatesCommentedDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	path := filepath.Join(home, ".timeclerk", "timeclerk.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config was not created: %v", err)
	}
	if !strings.Contains(string(data), "# timeclerk configuration.") {
		t.Error("created file should carry its comments")
	}

	again, err := Load()
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if again != cfg {
		t.Error("Load should return the cached config")
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()

	if got := cfg.Sync.SweepInterval(); got != 30*time.Second {
		t.Errorf("SweepInterval = %v", got)
	}
	if got := cfg.Storage.ProbeTimeout(); got != 3*time.Second {
		t.Errorf("ProbeTimeout = %v", got)
	}
	if got := cfg.Merge.RetryInterval(); got != 5*time.Minute {
		t.Errorf("RetryInterval = %v", got)
	}
	if got := cfg.Admin.StatusInterval(); got != 5*time.Second {
		t.Errorf("StatusInterval = %v", got)
	}
}

func TestStateDirLayout(t *testing.T) {
	s := StorageConfig{StateDir: "/srv/timeclerk/state"}
	if got := s.RegistryDir(); got != "/srv/timeclerk/state/registry" {
		t.Errorf("RegistryDir = %q", got)
	}
	if got := s.TransactionDir(); got != "/srv/timeclerk/state/transactions" {
		t.Errorf("TransactionDir = %q", got)
	}
}
