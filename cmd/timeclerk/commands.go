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
	"github.com/spf13/cobra"

	"timeclerk/pkg/ux"
)

// --- Global Command Variables ---
var (
	cfgPath          string
	logLevel         string
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	syncPathArg      string
	syncAll          bool
	restoreFrom      string
	mergeImmediate   bool

	rootCmd = &cobra.Command{
		Use:   "timeclerk",
		Short: "A local-first document store with background network replication",
		Long: `Timeclerk keeps working-time documents on the local disk and
				replicates them to a network share whenever it is reachable.
				The daemon sweeps pending copies, captures tiered backups, and
				retries login merges; the other commands inspect and drive it.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Daemon ---
	daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Run the replication daemon (sync sweep, backups, merge retries, admin API)",
		Run:   runDaemon, // Defined in cmd_daemon.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show root availability and pending sync/merge counts",
		Run:   runStatus, // Defined in cmd_status.go
	}

	// --- Sync Queue ---
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Inspect and drive the replication queue",
	}
	syncNowCmd = &cobra.Command{
		Use:   "now",
		Short: "Replicate immediately instead of waiting for the sweep",
		Run:   runSyncNow, // Defined in cmd_sync.go
	}
	syncPendingCmd = &cobra.Command{
		Use:   "pending",
		Short: "List replication pairs still waiting for a successful copy",
		Run:   runSyncPending, // Defined in cmd_sync.go
	}
	syncClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "DANGER: Drop every pending replication pair without copying",
		Run:   runSyncClear, // Defined in cmd_sync.go
	}

	// --- Backups ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "List, restore, and delete document backups",
	}
	backupListCmd = &cobra.Command{
		Use:   "list [document-path]",
		Short: "List the backups captured for a document, newest first",
		Args:  cobra.ExactArgs(1),
		Run:   runBackupList, // Defined in cmd_backup.go
	}
	backupRestoreCmd = &cobra.Command{
		Use:   "restore [document-path]",
		Short: "Overwrite a document with its latest backup (or --from a specific one)",
		Args:  cobra.ExactArgs(1),
		Run:   runBackupRestore, // Defined in cmd_backup.go
	}
	backupDeleteCmd = &cobra.Command{
		Use:   "delete [document-path]",
		Short: "DANGER: Delete the simple backup slot for a document",
		Args:  cobra.ExactArgs(1),
		Run:   runBackupDelete, // Defined in cmd_backup.go
	}

	// --- Login Merges ---
	mergeCmd = &cobra.Command{
		Use:   "merge",
		Short: "Inspect and drive the pending-merge queue",
	}
	mergeQueueCmd = &cobra.Command{
		Use:   "queue",
		Short: "List users whose full merge is still pending",
		Run:   runMergeQueue, // Defined in cmd_merge.go
	}
	mergeRetryCmd = &cobra.Command{
		Use:   "retry",
		Short: "Run the merge routine for every user in the queue",
		Run:   runMergeRetry, // Defined in cmd_merge.go
	}
	mergeClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "DANGER: Drop every pending merge flag without merging",
		Run:   runMergeClear, // Defined in cmd_merge.go
	}
	mergeForceCmd = &cobra.Command{
		Use:   "force [username]",
		Short: "Force a full merge for one user on their next login",
		Args:  cobra.ExactArgs(1),
		Run:   runMergeForce, // Defined in cmd_merge.go
	}
	mergeResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "DANGER: Erase all merge bookkeeping, login counters included",
		Run:   runMergeReset, // Defined in cmd_merge.go
	}
)

// init wires flags and assembles the command tree.
func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"Path to the configuration file (default ~/.timeclerk/timeclerk.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)

	// sync queue commands
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncPendingCmd)
	syncCmd.AddCommand(syncClearCmd)
	syncNowCmd.Flags().StringVar(&syncPathArg, "path", "",
		"Replicate a single document by its local path")
	syncNowCmd.Flags().BoolVar(&syncAll, "all", false,
		"Sweep every pending pair, ignoring backoff windows")
	syncClearCmd.Flags().Bool("force", false, "Required to confirm dropping the queue non-interactively.")

	// backup commands
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupRestoreCmd.Flags().StringVar(&restoreFrom, "from", "",
		"Restore from a specific backup file instead of the latest")
	backupDeleteCmd.Flags().Bool("force", false, "Required to confirm the deletion non-interactively.")

	// merge queue commands
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.AddCommand(mergeQueueCmd)
	mergeCmd.AddCommand(mergeRetryCmd)
	mergeCmd.AddCommand(mergeClearCmd)
	mergeCmd.AddCommand(mergeForceCmd)
	mergeCmd.AddCommand(mergeResetCmd)
	mergeClearCmd.Flags().Bool("force", false, "Required to confirm dropping the queue non-interactively.")
	mergeForceCmd.Flags().BoolVar(&mergeImmediate, "immediate", false,
		"Count the merge as due now instead of on the next login")
	mergeResetCmd.Flags().Bool("force", false, "Required to confirm the reset non-interactively.")
}
