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
	"os"

	"github.com/spf13/cobra"

	"timeclerk/internal/admin"
	"timeclerk/internal/state"
	"timeclerk/pkg/ux"
)

// runSyncNow replicates through the daemon: one document with --path,
// or everything pending with --all.
func runSyncNow(cmd *cobra.Command, args []string) {
	if syncPathArg == "" && !syncAll {
		ux.Error("Specify --all to sweep the queue or --path to replicate one document.")
		os.Exit(1)
	}
	if syncPathArg != "" && syncAll {
		ux.Error("--all and --path are mutually exclusive.")
		os.Exit(1)
	}

	endpoint := "/api/v1/sync/retry"
	var payload any
	message := "Sweeping pending replication pairs"
	if syncPathArg != "" {
		endpoint = "/api/v1/sync/now"
		payload = admin.SyncNowRequest{Path: syncPathArg}
		message = "Replicating " + syncPathArg
	}

	var body []byte
	var status int
	err := ux.WithSpinner(message, func() error {
		var callErr error
		body, status, callErr = apiPost(endpoint, payload)
		return callErr
	})
	if err != nil {
		daemonUnreachable(err)
	}
	if status != http.StatusOK {
		apiFail(body, status)
	}

	if syncPathArg != "" {
		ux.Success("Replicated " + syncPathArg)
		return
	}

	var resp struct {
		Retried int `json:"retried"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Fatalf("Error decoding daemon response: %v", err)
	}
	if resp.Retried == 0 {
		ux.Info("Nothing pending; every pair is converged.")
		return
	}
	ux.Success(fmt.Sprintf("Replicated %d pending pairs.", resp.Retried))
}

// runSyncPending lists the replication queue, asking the daemon first
// and reading the registry directly when it is down.
func runSyncPending(cmd *cobra.Command, args []string) {
	body, status, err := apiGet("/api/v1/sync/pending")
	if err != nil {
		renderPendingDirect()
		return
	}
	if status != http.StatusOK {
		apiFail(body, status)
	}

	var resp struct {
		Pending []state.SyncState `json:"pending"`
		Count   int               `json:"count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Fatalf("Error decoding daemon response: %v", err)
	}
	renderPending(resp.Pending)
}

func renderPendingDirect() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	states, err := state.Open(state.Config{Path: cfg.Storage.RegistryDir()}, cliSlog())
	if err != nil {
		log.Fatalf("Error opening the registry: %v", err)
	}
	defer states.Close()

	pending, err := states.PendingSyncStates(context.Background())
	if err != nil {
		log.Fatalf("Error reading pending syncs: %v", err)
	}
	renderPending(pending)
}

func renderPending(pending []state.SyncState) {
	if len(pending) == 0 {
		ux.Success("Replication queue is empty.")
		return
	}

	ux.Title(fmt.Sprintf("Pending Replication (%d)", len(pending)))
	for _, p := range pending {
		icon := ux.IconPending
		detail := "queued"
		switch {
		case p.InProgress:
			icon = ux.IconSync
			detail = "copying"
		case p.LastError != "":
			icon = ux.IconWarning
			detail = fmt.Sprintf("%d retries, last error: %s", p.RetryCount, p.LastError)
		}
		ux.PairStatus(p.LocalPath, icon, detail)
	}
	ux.Hint("Run 'timeclerk sync now --all' to retry immediately.")
}

// runSyncClear drops the replication queue. Destructive; the documents
// themselves stay where they are.
func runSyncClear(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	if !confirmDestructive(force,
		"Drop every pending replication pair?",
		"Documents stay on disk; only the replication bookkeeping is cleared.") {
		ux.Info("Aborted.")
		return
	}

	body, status, err := apiPost("/api/v1/sync/clear", nil)
	if err != nil {
		daemonUnreachable(err)
	}
	if status != http.StatusOK {
		apiFail(body, status)
	}

	var resp struct {
		Cleared int `json:"cleared"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Fatalf("Error decoding daemon response: %v", err)
	}
	ux.Success(fmt.Sprintf("Dropped %d pending pairs.", resp.Cleared))
}
