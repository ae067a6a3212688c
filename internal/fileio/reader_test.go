// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fileio

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testDoc struct {
	Owner   string `json:"owner"`
	Entries []int  `json:"entries"`
}

func newTestReader(t *testing.T, locks *LockManager) *Reader {
	t.Helper()
	return NewReader(ReaderConfig{LockWait: 200 * time.Millisecond}, locks, nil)
}

func TestRead_MissingFileIsAbsentNotError(t *testing.T) {
	r := newTestReader(t, nil)

	doc, ok := Read[testDoc](r, filepath.Join(t.TempDir(), "absent.json"))
	if ok {
		t.Errorf("Read() ok = true, want false for missing file")
	}
	if doc.Owner != "" || doc.Entries != nil {
		t.Errorf("Read() doc = %+v, want zero value", doc)
	}
}

func TestRead_ValidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(path, []byte(`{"owner":"alice","entries":[8,8,4]}`), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	r := newTestReader(t, nil)
	doc, ok := Read[testDoc](r, path)
	if !ok {
		t.Fatalf("Read() ok = false, want true")
	}
	if doc.Owner != "alice" {
		t.Errorf("Owner = %q, want alice", doc.Owner)
	}
	if len(doc.Entries) != 3 || doc.Entries[2] != 4 {
		t.Errorf("Entries = %v, want [8 8 4]", doc.Entries)
	}
}

func TestRead_CorruptDocumentTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(path, []byte(`{"owner": "alice", "entries": [8,`), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	r := newTestReader(t, nil)
	doc, ok := Read[testDoc](r, path)
	if ok {
		t.Errorf("Read() ok = true, want false for corrupt file")
	}
	if doc.Owner != "" {
		t.Errorf("Read() doc = %+v, want zero value after corrupt payload", doc)
	}
}

func TestReadNoLock_BypassesForeignLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(path, []byte(`{"owner":"bob","entries":[1]}`), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	holder, err := NewLockManager(LockConfig{
		LockDir:   filepath.Join(dir, "locks"),
		SessionID: "holder",
	}, nil)
	if err != nil {
		t.Fatalf("NewLockManager() error = %v", err)
	}
	defer holder.Close()

	if err := holder.TryAcquire(path, "editing"); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	r := newTestReader(t, nil)
	start := time.Now()
	doc, ok := ReadNoLock[testDoc](r, path)
	if !ok {
		t.Fatalf("ReadNoLock() ok = false, want true")
	}
	if doc.Owner != "bob" {
		t.Errorf("Owner = %q, want bob", doc.Owner)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("ReadNoLock() waited %v, want no lock wait", elapsed)
	}
}

func TestRead_ProceedsAfterBoundedLockWait(t *testing.T) {
	dir := t.TempDir()
	lockDir := filepath.Join(dir, "locks")
	path := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(path, []byte(`{"owner":"bob","entries":[1]}`), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	holder, err := NewLockManager(LockConfig{LockDir: lockDir, SessionID: "holder"}, nil)
	if err != nil {
		t.Fatalf("NewLockManager(holder) error = %v", err)
	}
	defer holder.Close()

	readerLocks, err := NewLockManager(LockConfig{LockDir: lockDir, SessionID: "reader"}, nil)
	if err != nil {
		t.Fatalf("NewLockManager(reader) error = %v", err)
	}
	defer readerLocks.Close()

	if err := holder.TryAcquire(path, "editing"); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	r := newTestReader(t, readerLocks)
	doc, ok := Read[testDoc](r, path)
	if !ok {
		t.Fatalf("Read() ok = false, want true (degraded lock-free read)")
	}
	if doc.Owner != "bob" {
		t.Errorf("Owner = %q, want bob", doc.Owner)
	}
}

func TestRead_ReleasesLockAfterRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(path, []byte(`{"owner":"alice","entries":[]}`), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	locks, err := NewLockManager(LockConfig{
		LockDir:   filepath.Join(dir, "locks"),
		SessionID: "reader",
	}, nil)
	if err != nil {
		t.Fatalf("NewLockManager() error = %v", err)
	}
	defer locks.Close()

	r := newTestReader(t, locks)
	if _, ok := Read[testDoc](r, path); !ok {
		t.Fatalf("Read() ok = false, want true")
	}

	locked, _, err := locks.IsLocked(path)
	if err != nil {
		t.Fatalf("IsLocked() error = %v", err)
	}
	if locked {
		t.Errorf("IsLocked() = true after Read returned, want false")
	}
}
