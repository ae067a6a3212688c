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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"timeclerk/internal/admin"
	"timeclerk/internal/config"
	"timeclerk/internal/probe"
	"timeclerk/internal/state"
	"timeclerk/pkg/ux"
)

// runStatus asks the daemon for a status snapshot. When the daemon is
// unreachable it probes the roots and reads the registry directly, so
// status answers whether or not anything is running.
func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	body, status, err := apiGet("/api/v1/status")
	if err != nil {
		renderDirectStatus(cfg)
		return
	}
	if status != http.StatusOK {
		apiFail(body, status)
	}

	var resp admin.StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Fatalf("Error decoding daemon status: %v", err)
	}
	renderDaemonStatus(cfg, resp)
}

func renderDaemonStatus(cfg *config.Config, resp admin.StatusResponse) {
	ux.Title("Timeclerk Status")
	ux.PairStatus(cfg.Storage.LocalRoot, availabilityIcon(resp.LocalAvailable), "local root")
	ux.PairStatus(cfg.Storage.NetworkRoot, availabilityIcon(resp.NetworkAvailable), "network root")
	ux.PairStatus("pending syncs", countIcon(resp.PendingSyncs), strconv.Itoa(resp.PendingSyncs))
	ux.PairStatus("pending merges", countIcon(resp.PendingMerges), strconv.Itoa(resp.PendingMerges))

	uptime := time.Duration(resp.UptimeSeconds) * time.Second
	ux.Info(fmt.Sprintf("Daemon v%s, up %s.", resp.Version, uptime))

	if resp.PendingSyncs > 0 && resp.NetworkAvailable {
		ux.Hint("Run 'timeclerk sync now --all' to push pending copies immediately.")
	}
}

// renderDirectStatus probes the roots and opens the registry without
// the daemon. Badger admits one process; if the open fails the counts
// stay unknown rather than guessing.
func renderDirectStatus(cfg *config.Config) {
	slogger := cliSlog()

	prober := probe.New(probe.Config{
		LocalRoot:   cfg.Storage.LocalRoot,
		NetworkRoot: cfg.Storage.NetworkRoot,
		Timeout:     cfg.Storage.ProbeTimeout(),
		CacheTTL:    cfg.Storage.ProbeCacheTTL(),
	}, slogger)

	ux.Title("Timeclerk Status")
	ux.PairStatus(cfg.Storage.LocalRoot, availabilityIcon(prober.LocalAvailable()), "local root")
	ux.PairStatus(cfg.Storage.NetworkRoot, availabilityIcon(prober.NetworkAvailable()), "network root")

	states, err := state.Open(state.Config{Path: cfg.Storage.RegistryDir()}, slogger)
	if err != nil {
		ux.Warning(fmt.Sprintf("Cannot open the registry: %v", err))
		ux.Hint("A daemon running with the admin API disabled holds the registry lock.")
		return
	}
	defer states.Close()

	ctx := context.Background()
	syncs, err := states.PendingSyncStates(ctx)
	if err != nil {
		log.Fatalf("Error reading pending syncs: %v", err)
	}
	merges, err := states.PendingMergeStates(ctx)
	if err != nil {
		log.Fatalf("Error reading pending merges: %v", err)
	}

	ux.PairStatus("pending syncs", countIcon(len(syncs)), strconv.Itoa(len(syncs)))
	ux.PairStatus("pending merges", countIcon(len(merges)), strconv.Itoa(len(merges)))
	ux.Info("Daemon not running; counts read directly from the registry.")

	if len(syncs) > 0 {
		ux.Hint("Start 'timeclerk daemon' to resume replication.")
	}
}

func availabilityIcon(up bool) ux.Icon {
	if up {
		return ux.IconSuccess
	}
	return ux.IconError
}

func countIcon(n int) ux.Icon {
	if n == 0 {
		return ux.IconSuccess
	}
	return ux.IconPending
}
