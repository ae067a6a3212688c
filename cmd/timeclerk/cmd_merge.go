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
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"timeclerk/internal/state"
	"timeclerk/pkg/ux"
)

// runMergeQueue lists users whose full merge is still owed, asking the
// daemon first and reading the registry directly when it is down.
func runMergeQueue(cmd *cobra.Command, args []string) {
	body, status, err := apiGet("/api/v1/merge/queue")
	if err != nil {
		renderMergeQueueDirect()
		return
	}
	if status != http.StatusOK {
		apiFail(body, status)
	}

	var resp struct {
		Pending []state.MergeState `json:"pending"`
		Count   int                `json:"count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Fatalf("Error decoding daemon response: %v", err)
	}
	renderMergeQueue(resp.Pending)
}

func renderMergeQueueDirect() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	states, err := state.Open(state.Config{Path: cfg.Storage.RegistryDir()}, cliSlog())
	if err != nil {
		log.Fatalf("Error opening the registry: %v", err)
	}
	defer states.Close()

	pending, err := states.PendingMergeStates(context.Background())
	if err != nil {
		log.Fatalf("Error reading the merge queue: %v", err)
	}
	renderMergeQueue(pending)
}

func renderMergeQueue(pending []state.MergeState) {
	if len(pending) == 0 {
		ux.Success("Merge queue is empty.")
		return
	}

	ux.Title(fmt.Sprintf("Pending Merges (%d)", len(pending)))
	for _, m := range pending {
		last := "never"
		if !m.LastFullMerge.IsZero() {
			last = m.LastFullMerge.Local().Format("2006-01-02 15:04")
		}
		detail := fmt.Sprintf("%d retries, last full merge %s", m.RetryCount, last)
		ux.PairStatus(m.Username, ux.IconClock, detail)
	}
	ux.Hint("Run 'timeclerk merge retry' to complete them while the network is up.")
}

// runMergeRetry asks the daemon to run the merge routine for every
// queued user.
func runMergeRetry(cmd *cobra.Command, args []string) {
	var body []byte
	var status int
	err := ux.WithSpinner("Retrying pending merges", func() error {
		var callErr error
		body, status, callErr = apiPost("/api/v1/merge/retry", nil)
		return callErr
	})
	if err != nil {
		daemonUnreachable(err)
	}
	if status != http.StatusOK {
		apiFail(body, status)
	}

	var resp struct {
		Retried int `json:"retried"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Fatalf("Error decoding daemon response: %v", err)
	}
	if resp.Retried == 0 {
		ux.Info("No pending merges to retry.")
		return
	}
	ux.Success(fmt.Sprintf("Completed %d pending merges.", resp.Retried))
}

// runMergeClear drops the pending flags without merging. Login
// counters survive.
func runMergeClear(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	if !confirmDestructive(force,
		"Drop every pending merge flag?",
		"The owed merges are forgotten; login counters survive.") {
		ux.Info("Aborted.")
		return
	}

	body, status, err := apiPost("/api/v1/merge/clear", nil)
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
	ux.Success(fmt.Sprintf("Dropped %d pending merge flags.", resp.Cleared))
}

// runMergeForce flags one user for a full merge.
func runMergeForce(cmd *cobra.Command, args []string) {
	username := args[0]

	endpoint := "/api/v1/merge/force/" + url.PathEscape(username)
	if mergeImmediate {
		endpoint += "?immediate=true"
	}

	body, status, err := apiPost(endpoint, nil)
	if err != nil {
		daemonUnreachable(err)
	}
	if status != http.StatusOK {
		apiFail(body, status)
	}

	var resp struct {
		User string `json:"user"`
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Fatalf("Error decoding daemon response: %v", err)
	}
	if resp.Mode == "immediate" {
		ux.Success(fmt.Sprintf("Full merge for %s counts as due now.", resp.User))
		return
	}
	ux.Success(fmt.Sprintf("Full merge scheduled for %s's next login.", resp.User))
}

// runMergeReset wipes every merge record, counters included. Works
// only while the daemon is stopped; the registry admits one process.
func runMergeReset(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	if !confirmDestructive(force,
		"Reset all merge bookkeeping?",
		"Every login counter and pending flag is erased. Each user's next login counts as their first of the day.") {
		ux.Info("Aborted.")
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	states, err := state.Open(state.Config{Path: cfg.Storage.RegistryDir()}, cliSlog())
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot open the registry: %v", err))
		ux.Hint("Stop the daemon first; reset needs exclusive registry access.")
		os.Exit(1)
	}
	defer states.Close()

	n, err := states.ClearMergeStates(context.Background())
	if err != nil {
		log.Fatalf("Error resetting merge records: %v", err)
	}
	ux.Success(fmt.Sprintf("Erased %d merge records.", n))
}
