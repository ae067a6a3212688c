// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestProber_LocalAvailable(t *testing.T) {
	local := t.TempDir()
	p := New(DefaultConfig(local, filepath.Join(local, "missing-network")), nil)

	if !p.LocalAvailable() {
		t.Errorf("LocalAvailable() = false, want true for existing directory")
	}
	if p.NetworkAvailable() {
		t.Errorf("NetworkAvailable() = true, want false for missing directory")
	}
}

func TestProber_FileIsNotARoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := DefaultConfig(file, dir)
	p := New(cfg, nil)
	if p.LocalAvailable() {
		t.Errorf("LocalAvailable() = true for a plain file, want false")
	}
}

func TestProber_CachesVerdicts(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir, dir+"-net")
	cfg.CacheTTL = time.Hour
	p := New(cfg, nil)

	var stats atomic.Int32
	p.statFn = func(path string) (os.FileInfo, error) {
		stats.Add(1)
		return os.Stat(path)
	}

	for i := 0; i < 5; i++ {
		p.LocalAvailable()
	}
	if got := stats.Load(); got != 1 {
		t.Errorf("stat calls = %d, want 1 (cached verdict)", got)
	}
}

func TestProber_InvalidateForcesReprobe(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir, dir+"-net")
	cfg.CacheTTL = time.Hour
	p := New(cfg, nil)

	var stats atomic.Int32
	p.statFn = func(path string) (os.FileInfo, error) {
		stats.Add(1)
		return os.Stat(path)
	}

	p.LocalAvailable()
	p.Invalidate()
	p.LocalAvailable()

	if got := stats.Load(); got != 2 {
		t.Errorf("stat calls = %d, want 2 after Invalidate()", got)
	}
}

func TestProber_HungMountTimesOut(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir, dir)
	cfg.Timeout = 50 * time.Millisecond
	cfg.CacheTTL = time.Millisecond
	p := New(cfg, nil)

	block := make(chan struct{})
	p.statFn = func(path string) (os.FileInfo, error) {
		<-block // simulates a CIFS mount that never answers
		return os.Stat(path)
	}
	defer close(block)

	start := time.Now()
	available := p.NetworkAvailable()
	elapsed := time.Since(start)

	if available {
		t.Errorf("NetworkAvailable() = true, want false for hung mount")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("probe took %v, want it bounded near the 50ms timeout", elapsed)
	}
}

func TestProber_RecoversAfterRootAppears(t *testing.T) {
	base := t.TempDir()
	network := filepath.Join(base, "share")

	cfg := DefaultConfig(base, network)
	cfg.CacheTTL = time.Millisecond
	p := New(cfg, nil)

	if p.NetworkAvailable() {
		t.Fatalf("NetworkAvailable() = true before the root exists")
	}

	if err := os.MkdirAll(network, 0750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond) // let the cached verdict lapse

	if !p.NetworkAvailable() {
		t.Errorf("NetworkAvailable() = false after the root appeared, want true")
	}
}
