// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()

	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.DocumentRoot = filepath.Join(root, "data")
	cfg.BackupRoot = filepath.Join(root, "data", "backup")
	cfg.MetricsEnabled = false

	svc, err := NewService(cfg, nil)
	require.NoError(t, err, "creating backup service should succeed")
	return svc, cfg.DocumentRoot
}

func writeDoc(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
}

func TestBackup_MissingSourceIsNotAnError(t *testing.T) {
	svc, docRoot := newTestService(t)

	record, err := svc.Backup(context.Background(), filepath.Join(docRoot, "absent.json"), TierCritical)
	require.NoError(t, err)
	assert.Nil(t, record, "a missing document is nothing to protect")
}

func TestBackup_CriticalTierKeepsGenerations(t *testing.T) {
	svc, docRoot := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(docRoot, "register", "register_2025.json")

	writeDoc(t, doc, `{"entries":1}`)
	record, err := svc.Backup(ctx, doc, TierCritical)
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, doc, record.SourcePath)
	assert.Equal(t, TierCritical, record.Tier)
	assert.Equal(t, int64(len(`{"entries":1}`)), record.SizeBytes)
	assert.NotEmpty(t, record.ID)
	assert.Len(t, record.Checksum, 64, "checksum should be hex sha256")
	assert.Contains(t, record.BackupPath, ".backup.",
		"critical tier should produce timestamped generations")

	// The copy mirrors the document layout under the backup root.
	assert.Contains(t, record.BackupPath, filepath.Join("backup", "register"))

	data, err := os.ReadFile(record.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, `{"entries":1}`, string(data))

	// The live document is untouched.
	live, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"entries":1}`, string(live))
}

func TestBackup_StandardTierOverwritesSingleSlot(t *testing.T) {
	svc, docRoot := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(docRoot, "status", "status_cache.json")

	writeDoc(t, doc, "v1")
	first, err := svc.Backup(ctx, doc, TierStandard)
	require.NoError(t, err)

	writeDoc(t, doc, "v2")
	second, err := svc.Backup(ctx, doc, TierStandard)
	require.NoError(t, err)

	assert.Equal(t, first.BackupPath, second.BackupPath,
		"standard tier reuses one slot")

	data, err := os.ReadFile(second.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data), "slot should hold the latest capture")

	backups, err := svc.ListAvailableBackups(doc)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestBackup_RotationDropsOldestGenerations(t *testing.T) {
	svc, docRoot := newTestService(t)
	svc.config.TimeFormat = "2006-01-02_150405.000000000"
	ctx := context.Background()
	doc := filepath.Join(docRoot, "worktime", "alice", "worktime_2025_08.json")

	depth := svc.config.Policies[TierCritical].MaxGenerations
	for i := 0; i < depth+3; i++ {
		writeDoc(t, doc, time.Now().String())
		_, err := svc.Backup(ctx, doc, TierCritical)
		require.NoError(t, err)
	}

	backups, err := svc.ListAvailableBackups(doc)
	require.NoError(t, err)
	assert.Len(t, backups, depth, "rotation should trim to the retention depth")

	for i := 1; i < len(backups); i++ {
		assert.False(t, backups[i].CapturedAt.After(backups[i-1].CapturedAt),
			"listing should be newest first")
	}
}

func TestBackupBeforeWrite_HonorsPolicy(t *testing.T) {
	svc, docRoot := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(docRoot, "team", "roster.json")
	writeDoc(t, doc, "roster")

	record, err := svc.BackupBeforeWrite(ctx, doc, TierStandard)
	require.NoError(t, err)
	assert.Nil(t, record, "standard tier does not back up on every write")

	record, err = svc.BackupBeforeWrite(ctx, doc, TierCritical)
	require.NoError(t, err)
	assert.NotNil(t, record, "critical tier backs up before every write")
}

func TestRestoreFromBackup_VerifiesChecksum(t *testing.T) {
	svc, docRoot := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(docRoot, "register", "register_2025.json")

	writeDoc(t, doc, "good state")
	record, err := svc.Backup(ctx, doc, TierCritical)
	require.NoError(t, err)

	writeDoc(t, doc, "corrupted live state")
	require.NoError(t, svc.RestoreFromBackup(ctx, record.BackupPath, doc))

	data, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.Equal(t, "good state", string(data))

	// Damage the backup itself; the checksum must refuse the restore.
	require.NoError(t, os.WriteFile(record.BackupPath, []byte("tampered"), 0640))
	err = svc.RestoreFromBackup(ctx, record.BackupPath, doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")

	data, err = os.ReadFile(doc)
	require.NoError(t, err)
	assert.Equal(t, "good state", string(data), "failed restore must not touch the target")
}

func TestRestoreFromLatestBackup_PicksNewest(t *testing.T) {
	svc, docRoot := newTestService(t)
	svc.config.TimeFormat = "2006-01-02_150405.000000000"
	ctx := context.Background()
	doc := filepath.Join(docRoot, "timeoff", "bob", "timeoff_2025.json")

	writeDoc(t, doc, "first")
	_, err := svc.Backup(ctx, doc, TierImportant)
	require.NoError(t, err)

	writeDoc(t, doc, "second")
	_, err = svc.Backup(ctx, doc, TierImportant)
	require.NoError(t, err)

	writeDoc(t, doc, "broken")
	require.NoError(t, svc.RestoreFromLatestBackup(ctx, doc, TierImportant))

	data, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestRestoreFromLatestBackup_NoBackups(t *testing.T) {
	svc, docRoot := newTestService(t)
	doc := filepath.Join(docRoot, "never_backed_up.json")

	err := svc.RestoreFromLatestBackup(context.Background(), doc, TierCritical)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backups available")
}

func TestGetBackupMetadata_SurvivesLostSidecar(t *testing.T) {
	svc, docRoot := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(docRoot, "holidays", "holidays_2025.json")

	writeDoc(t, doc, "calendar")
	record, err := svc.Backup(ctx, doc, TierCritical)
	require.NoError(t, err)

	got, err := svc.GetBackupMetadata(record.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, record.Checksum, got.Checksum)

	// Lose the sidecar; metadata should be rebuilt from the file.
	require.NoError(t, os.Remove(record.BackupPath+metaSuffix))
	got, err = svc.GetBackupMetadata(record.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, record.BackupPath, got.BackupPath)
	assert.Equal(t, doc, got.SourcePath)
	assert.Equal(t, int64(len("calendar")), got.SizeBytes)
	assert.WithinDuration(t, record.CapturedAt, got.CapturedAt, time.Second,
		"capture time should be recovered from the generation name")

	_, err = svc.GetBackupMetadata(filepath.Join(docRoot, "nope.backup"))
	require.Error(t, err)
}

func TestDeleteSimpleBackup(t *testing.T) {
	svc, docRoot := newTestService(t)
	ctx := context.Background()
	doc := filepath.Join(docRoot, "sessions", "alice", "session.json")

	writeDoc(t, doc, "session")
	record, err := svc.Backup(ctx, doc, TierStandard)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSimpleBackup(doc))

	_, err = os.Stat(record.BackupPath)
	assert.True(t, os.IsNotExist(err), "slot should be gone")
	_, err = os.Stat(record.BackupPath + metaSuffix)
	assert.True(t, os.IsNotExist(err), "sidecar should be gone")

	// Idempotent.
	require.NoError(t, svc.DeleteSimpleBackup(doc))
}

func TestRun_CapturesTrackedPathsPeriodically(t *testing.T) {
	svc, docRoot := newTestService(t)
	svc.config.SweepInterval = 20 * time.Millisecond
	svc.config.Policies[TierImportant] = Policy{MaxGenerations: 3, Interval: time.Nanosecond}

	doc := filepath.Join(docRoot, "worktime", "carol", "worktime_2025_08.json")
	writeDoc(t, doc, "tracked")
	svc.Track(doc, TierImportant)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		backups, err := svc.ListAvailableBackups(doc)
		require.NoError(t, err)
		if len(backups) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)

	backups, err := svc.ListAvailableBackups(doc)
	require.NoError(t, err)
	require.NotEmpty(t, backups, "sweep should have captured the tracked path")
}

func TestBackup_WithoutBackupRootStaysAlongside(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.MetricsEnabled = false
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)

	doc := filepath.Join(root, "accounts.json")
	writeDoc(t, doc, "accounts")

	record, err := svc.Backup(context.Background(), doc, TierStandard)
	require.NoError(t, err)
	assert.Equal(t, doc+".backup", record.BackupPath)
}

func TestMemoryBackup_RoundTripAndDestroy(t *testing.T) {
	svc, docRoot := newTestService(t)
	doc := filepath.Join(docRoot, "register", "register_2025.json")
	writeDoc(t, doc, "precious bytes")

	snap, ok := svc.CreateMemoryBackup(doc)
	require.True(t, ok)
	require.NotNil(t, snap)
	assert.Equal(t, doc, snap.Path)
	assert.Equal(t, len("precious bytes"), snap.Size())

	got, err := snap.Open()
	require.NoError(t, err)
	assert.Equal(t, "precious bytes", string(got))

	// Open yields independent copies.
	again, err := snap.Open()
	require.NoError(t, err)
	assert.Equal(t, "precious bytes", string(again))

	snap.Destroy()
	snap.Destroy()
	_, err = snap.Open()
	require.Error(t, err, "destroyed snapshot must not reopen")
}

func TestMemoryBackup_AbsentOrEmptySource(t *testing.T) {
	svc, docRoot := newTestService(t)

	snap, ok := svc.CreateMemoryBackup(filepath.Join(docRoot, "absent.json"))
	assert.False(t, ok)
	assert.Nil(t, snap)

	empty := filepath.Join(docRoot, "empty.json")
	writeDoc(t, empty, "")
	snap, ok = svc.CreateMemoryBackup(empty)
	assert.False(t, ok)
	assert.Nil(t, snap)
}
