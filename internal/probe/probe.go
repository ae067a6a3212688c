// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package probe answers the question every network operation asks
// first: is the storage root actually reachable right now?
//
// Network unavailability is an expected state, not an error. The prober
// never blocks its caller on a hung mount: each check stats the root in
// a separate goroutine under a deadline, and a mount that does not
// answer in time counts as unavailable. Verdicts are cached for a short
// TTL so hot paths don't stat the share on every call.
package probe

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Config configures the Prober.
type Config struct {
	// LocalRoot is the local document root to probe.
	LocalRoot string

	// NetworkRoot is the network document root to probe.
	NetworkRoot string

	// Timeout bounds one stat call. A CIFS mount with a dead server
	// can hang stat for minutes; callers wait at most this long.
	// Default: 3s.
	Timeout time.Duration

	// CacheTTL is how long a verdict stays valid. Default: 10s.
	CacheTTL time.Duration
}

// DefaultConfig returns the standard probe configuration for the given
// roots.
func DefaultConfig(localRoot, networkRoot string) Config {
	return Config{
		LocalRoot:   localRoot,
		NetworkRoot: networkRoot,
		Timeout:     3 * time.Second,
		CacheTTL:    10 * time.Second,
	}
}

// verdict is one cached reachability answer.
type verdict struct {
	available bool
	checkedAt time.Time
	known     bool
}

// Prober reports reachability of the two document roots.
//
// Safe for concurrent use.
type Prober struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	local   verdict
	network verdict

	// statFn is swappable in tests to simulate hung or absent mounts.
	statFn func(string) (os.FileInfo, error)
}

// New creates a Prober. Verdicts are computed lazily on first use.
func New(config Config, logger *slog.Logger) *Prober {
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		config: config,
		logger: logger.With("component", "probe"),
		statFn: os.Stat,
	}
}

// LocalAvailable reports whether the local root is reachable.
func (p *Prober) LocalAvailable() bool {
	return p.check(p.config.LocalRoot, &p.local, "local")
}

// NetworkAvailable reports whether the network root is reachable.
func (p *Prober) NetworkAvailable() bool {
	return p.check(p.config.NetworkRoot, &p.network, "network")
}

// Invalidate drops both cached verdicts so the next call re-probes.
// Used by explicit "sync now" operations that want a fresh answer.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = verdict{}
	p.network = verdict{}
}

// check returns the cached verdict for one root, refreshing it when the
// TTL has lapsed. Transitions are logged at Info.
func (p *Prober) check(root string, v *verdict, name string) bool {
	p.mu.Lock()
	if v.known && time.Since(v.checkedAt) < p.config.CacheTTL {
		available := v.available
		p.mu.Unlock()
		return available
	}
	statFn := p.statFn
	p.mu.Unlock()

	available := statWithDeadline(statFn, root, p.config.Timeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	if v.known && v.available != available {
		p.logger.Info("Storage reachability changed",
			"root", name,
			"path", root,
			"available", available)
	} else if !v.known && !available {
		p.logger.Warn("Storage root unavailable",
			"root", name,
			"path", root)
	}

	v.available = available
	v.checkedAt = time.Now()
	v.known = true
	return available
}

// statWithDeadline stats path in a goroutine so a hung filesystem call
// cannot hang the caller. The goroutine is abandoned on timeout; it
// finishes (or stays stuck) on its own without holding any locks.
func statWithDeadline(statFn func(string) (os.FileInfo, error), path string, timeout time.Duration) bool {
	done := make(chan bool, 1)
	go func() {
		info, err := statFn(path)
		done <- err == nil && info.IsDir()
	}()

	select {
	case ok := <-done:
		return ok
	case <-time.After(timeout):
		return false
	}
}
