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
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"timeclerk/internal/backup"
	"timeclerk/pkg/ux"
)

// backupService builds a filesystem-only backup service. Backups are
// plain files next to a metadata sidecar, so listing and restoring
// work with or without the daemon. No GCS mirror: CLI restores and
// deletes never touch cloud copies.
func backupService() *backup.Service {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	bkCfg := backup.DefaultConfig()
	bkCfg.BackupRoot = cfg.Backup.Root
	bkCfg.DocumentRoot = cfg.Storage.LocalRoot
	bkCfg.MetricsEnabled = false

	svc, err := backup.NewService(bkCfg, cliSlog())
	if err != nil {
		log.Fatalf("Error building backup service: %v", err)
	}
	return svc
}

// runBackupList prints every backup captured for a document, newest
// first.
func runBackupList(cmd *cobra.Command, args []string) {
	target := args[0]
	records, err := backupService().ListAvailableBackups(target)
	if err != nil {
		log.Fatalf("Error listing backups: %v", err)
	}
	if len(records) == 0 {
		ux.Info("No backups captured for " + target)
		return
	}

	ux.Title(fmt.Sprintf("Backups for %s (%d)", target, len(records)))
	for _, r := range records {
		detail := fmt.Sprintf("%s, %d bytes", r.CapturedAt.Local().Format("2006-01-02 15:04:05"), r.SizeBytes)
		if r.Tier != "" {
			detail = string(r.Tier) + ", " + detail
		}
		ux.PairStatus(r.BackupPath, ux.IconClock, detail)
	}
	ux.Hint("Restore one with 'timeclerk backup restore <document> --from <backup>'.")
}

// runBackupRestore overwrites a document with its latest backup, or
// with a specific one via --from. Checksums verify before anything is
// overwritten.
func runBackupRestore(cmd *cobra.Command, args []string) {
	target := args[0]
	svc := backupService()
	ctx := context.Background()

	var err error
	if restoreFrom != "" {
		err = svc.RestoreFromBackup(ctx, restoreFrom, target)
	} else {
		err = svc.RestoreFromLatestBackup(ctx, target, backup.TierStandard)
	}
	if err != nil {
		ux.Error(fmt.Sprintf("Restore failed: %v", err))
		os.Exit(1)
	}

	ux.Success("Restored " + target)
	ux.Hint(fmt.Sprintf("Run 'timeclerk sync now --path %s' to replicate the restored content.", target))
}

// runBackupDelete removes the simple backup slot for a document.
// Rotating generations are untouched; retention handles those.
func runBackupDelete(cmd *cobra.Command, args []string) {
	target := args[0]
	force, _ := cmd.Flags().GetBool("force")
	if !confirmDestructive(force,
		"Delete the simple backup slot for this document?",
		target) {
		ux.Info("Aborted.")
		return
	}

	if err := backupService().DeleteSimpleBackup(target); err != nil {
		ux.Error(fmt.Sprintf("Delete failed: %v", err))
		os.Exit(1)
	}
	ux.Success("Deleted the simple backup for " + target)
}
