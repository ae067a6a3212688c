// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup captures and restores point-in-time copies of
// documents, tiered by how much losing one would hurt.
//
// Critical documents get a timestamped generation before every write,
// rotated beyond the configured depth. Less critical tiers get a
// single overwritten slot or periodic captures from the Run sweep.
// Each backup carries a metadata sidecar with its checksum, and an
// optional mirror uploads every capture to a GCS bucket.
//
// Restores overwrite the live file directly. They are not routed
// through the transaction manager; callers needing staged atomicity
// wrap the call themselves.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"timeclerk/internal/fileio"
)

const metaSuffix = ".meta.json"

// Tier classifies how aggressively a document is protected.
type Tier string

const (
	// TierCritical documents are backed up before every write and keep
	// rotating generations. Register books and account directories.
	TierCritical Tier = "CRITICAL"

	// TierImportant documents keep rotating generations captured
	// periodically. Worktime sheets, time-off trackers.
	TierImportant Tier = "IMPORTANT"

	// TierStandard documents keep one overwritten slot captured
	// periodically. Caches and session snapshots.
	TierStandard Tier = "STANDARD"
)

// Policy is the retention behavior of one tier.
type Policy struct {
	// MaxGenerations is the retention depth. 1 means a single slot
	// overwritten in place; greater keeps timestamped generations and
	// rotates the oldest out.
	MaxGenerations int

	// BeforeEveryWrite captures a backup synchronously before each
	// write to documents of this tier.
	BeforeEveryWrite bool

	// Interval is the cadence of periodic captures by the Run sweep.
	// Zero disables periodic capture for the tier.
	Interval time.Duration
}

// DefaultPolicies returns the production tier policies.
func DefaultPolicies() map[Tier]Policy {
	return map[Tier]Policy{
		TierCritical:  {MaxGenerations: 5, BeforeEveryWrite: true},
		TierImportant: {MaxGenerations: 3, Interval: time.Hour},
		TierStandard:  {MaxGenerations: 1, Interval: 24 * time.Hour},
	}
}

// Record describes one captured backup. Immutable once written; the
// same Record is stored in the backup's metadata sidecar.
type Record struct {
	// ID uniquely identifies this capture.
	ID string `json:"id"`

	// SourcePath is the document that was backed up.
	SourcePath string `json:"source_path"`

	// BackupPath is where the copy lives.
	BackupPath string `json:"backup_path"`

	// CapturedAt is when the copy was taken.
	CapturedAt time.Time `json:"captured_at"`

	// Tier the capture was taken under.
	Tier Tier `json:"tier,omitempty"`

	// SizeBytes is the captured payload size.
	SizeBytes int64 `json:"size_bytes"`

	// Checksum is the hex SHA-256 of the captured payload.
	Checksum string `json:"checksum,omitempty"`
}

// Config controls the backup service.
//
// # Example
//
//	cfg := backup.Config{
//	    BackupRoot:   "/home/user/.timeclerk/data/backup",
//	    DocumentRoot: "/home/user/.timeclerk/data",
//	}
type Config struct {
	// BackupRoot is the subtree where backups live, mirroring the
	// document layout under DocumentRoot. Empty places backups next
	// to their originals.
	BackupRoot string

	// DocumentRoot is the root whose relative layout BackupRoot
	// mirrors. Paths outside it land flat under BackupRoot.
	DocumentRoot string

	// Policies maps tiers to retention behavior. Missing tiers are
	// filled from DefaultPolicies.
	Policies map[Tier]Policy

	// Suffix is appended to the document name. Default ".backup".
	Suffix string

	// TimeFormat names generation timestamps. Default "2006-01-02_150405".
	TimeFormat string

	// FilePerm is the mode for captured files. Default 0640.
	FilePerm os.FileMode

	// SweepInterval is how often Run checks tracked paths against
	// their tier Interval. Default 5 minutes.
	SweepInterval time.Duration

	// Mirror, when set, receives a copy of every capture. Mirror
	// failures are logged and counted, never fatal.
	Mirror *Mirror

	// MetricsEnabled controls metric recording.
	MetricsEnabled bool
}

// DefaultConfig returns production defaults. BackupRoot and
// DocumentRoot must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		Policies:       DefaultPolicies(),
		Suffix:         ".backup",
		TimeFormat:     "2006-01-02_150405",
		FilePerm:       0640,
		SweepInterval:  5 * time.Minute,
		MetricsEnabled: true,
	}
}

// trackedPath is one path registered for periodic capture.
type trackedPath struct {
	tier        Tier
	lastCapture time.Time
}

// Service captures, lists, and restores tiered backups.
//
// # Thread Safety
//
// Service is safe for concurrent use.
type Service struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	tracked map[string]*trackedPath
}

// NewService creates a backup service.
//
// # Inputs
//
//   - cfg: Service configuration. Use DefaultConfig() for defaults.
//   - logger: Structured logger. Uses slog.Default() if nil.
//
// # Outputs
//
//   - *Service: Ready for use.
//   - error: Non-nil if the backup root cannot be created.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.Suffix == "" {
		cfg.Suffix = ".backup"
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "2006-01-02_150405"
	}
	if cfg.FilePerm == 0 {
		cfg.FilePerm = 0640
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}

	defaults := DefaultPolicies()
	if cfg.Policies == nil {
		cfg.Policies = defaults
	} else {
		for tier, policy := range defaults {
			if _, ok := cfg.Policies[tier]; !ok {
				cfg.Policies[tier] = policy
			}
		}
	}

	if cfg.BackupRoot != "" {
		if err := os.MkdirAll(cfg.BackupRoot, 0750); err != nil {
			return nil, fmt.Errorf("create backup root %s: %w", cfg.BackupRoot, err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backup")

	SetMetricsEnabled(cfg.MetricsEnabled)

	return &Service{
		config:  cfg,
		logger:  logger,
		tracked: make(map[string]*trackedPath),
	}, nil
}

// Backup captures a copy of path under its tier's retention policy.
//
// # Description
//
// Reads the document, writes the copy (a new timestamped generation,
// or the overwritten single slot, per the tier), writes the metadata
// sidecar, rotates generations beyond the retention depth, and hands
// the copy to the mirror when one is configured. Sidecar, rotation,
// and mirror failures are logged but do not fail the capture.
//
// # Inputs
//
//   - ctx: Context for the mirror upload.
//   - path: Document to back up.
//   - tier: Criticality tier selecting the retention policy.
//
// # Outputs
//
//   - *Record: The capture. Nil with nil error when the source does
//     not exist; a missing document is nothing to protect.
//   - error: Non-nil if reading the source or writing the copy failed.
func (s *Service) Backup(ctx context.Context, path string, tier Tier) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("nothing to back up", "path", path)
			return nil, nil
		}
		recordCaptureFailure(ctx)
		return nil, fmt.Errorf("read source %s: %w", path, err)
	}

	policy := s.policyFor(tier)
	now := time.Now()
	base := s.backupBase(path)

	var backupPath string
	if policy.MaxGenerations > 1 {
		backupPath = base + s.config.Suffix + "." + now.Format(s.config.TimeFormat)
	} else {
		backupPath = base + s.config.Suffix
	}

	if err := fileio.WriteAtomic(backupPath, data, s.config.FilePerm); err != nil {
		recordCaptureFailure(ctx)
		return nil, fmt.Errorf("write backup %s: %w", backupPath, err)
	}

	sum := sha256.Sum256(data)
	record := &Record{
		ID:         uuid.New().String(),
		SourcePath: path,
		BackupPath: backupPath,
		CapturedAt: now,
		Tier:       tier,
		SizeBytes:  int64(len(data)),
		Checksum:   hex.EncodeToString(sum[:]),
	}

	if err := s.writeMeta(record); err != nil {
		s.logger.Warn("failed to write backup metadata",
			"backup_path", backupPath,
			"error", err)
	}

	if policy.MaxGenerations > 1 {
		if err := s.rotate(path, policy.MaxGenerations); err != nil {
			s.logger.Warn("backup rotation failed",
				"path", path,
				"error", err)
		}
	}

	if s.config.Mirror != nil {
		if err := s.config.Mirror.Upload(ctx, backupPath, s.objectName(backupPath)); err != nil {
			recordMirrorFailure(ctx)
			s.logger.Warn("offsite mirror upload failed",
				"backup_path", backupPath,
				"error", err)
		}
	}

	s.mu.Lock()
	s.tracked[path] = &trackedPath{tier: tier, lastCapture: now}
	s.mu.Unlock()

	recordCapture(ctx, tier)
	s.logger.Info("backup captured",
		"path", path,
		"tier", string(tier),
		"backup_path", backupPath,
		"size_bytes", record.SizeBytes)

	return record, nil
}

// BackupBeforeWrite captures a backup only when the tier's policy
// demands one before every write. Returns (nil, nil) when the policy
// does not.
func (s *Service) BackupBeforeWrite(ctx context.Context, path string, tier Tier) (*Record, error) {
	if !s.policyFor(tier).BeforeEveryWrite {
		return nil, nil
	}
	return s.Backup(ctx, path, tier)
}

// Track registers a path for periodic capture by the Run sweep
// without taking a backup now.
func (s *Service) Track(path string, tier Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracked[path]; !ok {
		s.tracked[path] = &trackedPath{tier: tier}
	}
}

// RestoreFromBackup overwrites targetPath with the backup's content.
//
// # Description
//
// When the backup carries a metadata sidecar with a checksum, the
// payload is verified against it before anything is written; a
// mismatch means the backup itself is damaged and the restore is
// refused. The write is atomic but not transaction-mediated.
//
// # Inputs
//
//   - ctx: Unused today; kept for symmetry with capture paths.
//   - backupPath: The backup to restore from.
//   - targetPath: The live file to overwrite.
//
// # Outputs
//
//   - error: Non-nil if the backup is unreadable, fails verification,
//     or the target cannot be written.
func (s *Service) RestoreFromBackup(ctx context.Context, backupPath, targetPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup %s: %w", backupPath, err)
	}

	if record, err := s.readMeta(backupPath); err == nil && record.Checksum != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != record.Checksum {
			return fmt.Errorf("backup %s failed checksum verification", backupPath)
		}
	}

	if err := fileio.WriteAtomic(targetPath, data, s.config.FilePerm); err != nil {
		return fmt.Errorf("restore to %s: %w", targetPath, err)
	}

	recordRestore(ctx)
	s.logger.Info("backup restored",
		"backup_path", backupPath,
		"target_path", targetPath,
		"size_bytes", len(data))

	return nil
}

// RestoreFromLatestBackup restores the newest available backup of
// path over the live file.
func (s *Service) RestoreFromLatestBackup(ctx context.Context, path string, tier Tier) error {
	backups, err := s.ListAvailableBackups(path)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return fmt.Errorf("no backups available for %s", path)
	}
	return s.RestoreFromBackup(ctx, backups[0].BackupPath, path)
}

// ListAvailableBackups returns every backup of path, newest first.
//
// Records come from metadata sidecars where present; backups whose
// sidecar is missing are reconstructed from the file itself.
func (s *Service) ListAvailableBackups(path string) ([]Record, error) {
	base := s.backupBase(path)
	dir := filepath.Dir(base)
	slotName := filepath.Base(base) + s.config.Suffix

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory %s: %w", dir, err)
	}

	var backups []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		if name != slotName && !strings.HasPrefix(name, slotName+".") {
			continue
		}

		backupPath := filepath.Join(dir, name)
		record, err := s.readMeta(backupPath)
		if err != nil {
			record, err = s.reconstructRecord(path, backupPath)
			if err != nil {
				continue
			}
		}
		backups = append(backups, *record)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CapturedAt.After(backups[j].CapturedAt)
	})

	return backups, nil
}

// GetBackupMetadata returns the Record for one backup file.
func (s *Service) GetBackupMetadata(backupPath string) (*Record, error) {
	if _, err := os.Stat(backupPath); err != nil {
		return nil, fmt.Errorf("backup not found at %s: %w", backupPath, err)
	}

	record, err := s.readMeta(backupPath)
	if err == nil {
		return record, nil
	}

	// Sidecar lost; rebuild what the file itself can tell us.
	source := s.sourceFromBackupPath(backupPath)
	return s.reconstructRecord(source, backupPath)
}

// DeleteSimpleBackup removes the single-slot backup for path, along
// with its sidecar. Deleting an absent slot is not an error.
func (s *Service) DeleteSimpleBackup(path string) error {
	slot := s.backupBase(path) + s.config.Suffix

	removed := false
	if err := os.Remove(slot); err == nil {
		removed = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete backup %s: %w", slot, err)
	}
	if err := os.Remove(slot + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete backup metadata %s: %w", slot+metaSuffix, err)
	}

	if removed {
		s.logger.Info("simple backup deleted", "path", path, "backup_path", slot)
	}
	return nil
}

// Run sweeps tracked paths on a ticker, capturing any whose tier
// interval has elapsed. Blocks until ctx is cancelled; returns nil.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("backup sweep started",
		"interval", s.config.SweepInterval.String())

	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup sweep stopped")
			return nil
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce captures every tracked path whose periodic window elapsed.
func (s *Service) sweepOnce(ctx context.Context) {
	type due struct {
		path string
		tier Tier
	}

	now := time.Now()
	var dues []due

	s.mu.Lock()
	for path, tp := range s.tracked {
		interval := s.policyFor(tp.tier).Interval
		if interval <= 0 {
			continue
		}
		if now.Sub(tp.lastCapture) >= interval {
			dues = append(dues, due{path: path, tier: tp.tier})
		}
	}
	s.mu.Unlock()

	for _, d := range dues {
		if _, err := s.Backup(ctx, d.path, d.tier); err != nil {
			s.logger.Warn("periodic backup failed",
				"path", d.path,
				"tier", string(d.tier),
				"error", err)
		}
	}
}

// =============================================================================
// Layout and Metadata
// =============================================================================

// backupBase maps a document path to the stem its backups are named
// from: the mirrored position under BackupRoot, or the document
// itself when no backup root is configured.
func (s *Service) backupBase(path string) string {
	if s.config.BackupRoot == "" {
		return filepath.Clean(path)
	}
	if s.config.DocumentRoot != "" {
		if rel, ok := relativeTo(s.config.DocumentRoot, path); ok {
			return filepath.Join(s.config.BackupRoot, rel)
		}
	}
	return filepath.Join(s.config.BackupRoot, filepath.Base(path))
}

// sourceFromBackupPath inverts backupBase for one backup file name.
func (s *Service) sourceFromBackupPath(backupPath string) string {
	dir := filepath.Dir(backupPath)
	name := filepath.Base(backupPath)

	idx := strings.Index(name, s.config.Suffix)
	if idx > 0 {
		name = name[:idx]
	}
	stem := filepath.Join(dir, name)

	if s.config.BackupRoot == "" || s.config.DocumentRoot == "" {
		return stem
	}
	if rel, ok := relativeTo(s.config.BackupRoot, stem); ok {
		return filepath.Join(s.config.DocumentRoot, rel)
	}
	return stem
}

// objectName is the mirror key for a backup file.
func (s *Service) objectName(backupPath string) string {
	if s.config.BackupRoot != "" {
		if rel, ok := relativeTo(s.config.BackupRoot, backupPath); ok {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(backupPath)
}

func (s *Service) policyFor(tier Tier) Policy {
	if p, ok := s.config.Policies[tier]; ok {
		return p
	}
	return s.config.Policies[TierStandard]
}

func (s *Service) writeMeta(record *Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return fileio.WriteAtomic(record.BackupPath+metaSuffix, data, s.config.FilePerm)
}

func (s *Service) readMeta(backupPath string) (*Record, error) {
	data, err := os.ReadFile(backupPath + metaSuffix)
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse backup metadata for %s: %w", backupPath, err)
	}
	return &record, nil
}

// reconstructRecord rebuilds a Record for a backup without a sidecar.
// The capture time comes from the generation timestamp in the name,
// falling back to the file's mtime.
func (s *Service) reconstructRecord(sourcePath, backupPath string) (*Record, error) {
	info, err := os.Stat(backupPath)
	if err != nil {
		return nil, fmt.Errorf("stat backup %s: %w", backupPath, err)
	}

	capturedAt := info.ModTime()
	name := filepath.Base(backupPath)
	if idx := strings.Index(name, s.config.Suffix+"."); idx >= 0 {
		stamp := name[idx+len(s.config.Suffix)+1:]
		// Generation names are formatted from local time.
		if parsed, err := time.ParseInLocation(s.config.TimeFormat, stamp, time.Local); err == nil {
			capturedAt = parsed
		}
	}

	return &Record{
		SourcePath: sourcePath,
		BackupPath: backupPath,
		CapturedAt: capturedAt,
		SizeBytes:  info.Size(),
	}, nil
}

// rotate removes the oldest generations of path beyond maxGenerations.
func (s *Service) rotate(path string, maxGenerations int) error {
	backups, err := s.ListAvailableBackups(path)
	if err != nil {
		return err
	}

	// The single slot, if present, does not count against generations.
	slot := s.backupBase(path) + s.config.Suffix
	generations := backups[:0]
	for _, b := range backups {
		if b.BackupPath != slot {
			generations = append(generations, b)
		}
	}

	for i := maxGenerations; i < len(generations); i++ {
		victim := generations[i].BackupPath
		if err := os.Remove(victim); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove old backup %s: %w", victim, err)
		}
		if err := os.Remove(victim + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove old backup metadata: %w", err)
		}
		s.logger.Debug("rotated out old backup", "backup_path", victim)
	}

	return nil
}

// relativeTo returns p's path relative to root, and whether p lies
// under root. Purely lexical.
func relativeTo(root, p string) (string, bool) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
