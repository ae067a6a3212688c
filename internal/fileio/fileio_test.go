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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestWriteAtomic_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	content := []byte(`{"owner":"alice","entries":[1,2,3]}`)

	if err := WriteAtomic(path, content, 0644); err != nil {
		t.Fatalf("WriteAtomic() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content = %q, want %q", got, content)
	}
}

func TestWriteAtomic_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worktime", "alice", "worktime_2025_03.json")

	if err := WriteAtomic(path, []byte("{}"), 0644); err != nil {
		t.Fatalf("WriteAtomic() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Stat() error = %v, want file to exist", err)
	}
}

func TestWriteAtomic_OverwritesCompletely(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	long := []byte(strings.Repeat("x", 4096))
	short := []byte("short")

	if err := WriteAtomic(path, long, 0644); err != nil {
		t.Fatalf("first WriteAtomic() error = %v", err)
	}
	if err := WriteAtomic(path, short, 0644); err != nil {
		t.Fatalf("second WriteAtomic() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(got, short) {
		t.Errorf("content after overwrite = %q, want %q (no leftover bytes)", got, short)
	}
}

func TestWriteAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	for i := 0; i < 5; i++ {
		if err := WriteAtomic(path, []byte("content"), 0644); err != nil {
			t.Fatalf("WriteAtomic() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

// TestWriteAtomic_ConcurrentReadersNeverSeeTornContent exercises the
// rename-based durability guarantee: a reader racing writes observes
// either the fully-old or the fully-new content, never a mix.
func TestWriteAtomic_ConcurrentReadersNeverSeeTornContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	oldContent := bytes.Repeat([]byte{'a'}, 64*1024)
	newContent := bytes.Repeat([]byte{'b'}, 64*1024)

	if err := WriteAtomic(path, oldContent, 0644); err != nil {
		t.Fatalf("seed WriteAtomic() error = %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	tornCh := make(chan string, 1)

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				data, ok := ReadRaw(path)
				if !ok {
					// The rename window never unlinks the target.
					select {
					case tornCh <- "file missing during write":
					default:
					}
					return
				}
				if len(data) != len(oldContent) {
					select {
					case tornCh <- "partial length observed":
					default:
					}
					return
				}
				first := data[0]
				for _, b := range data {
					if b != first {
						select {
						case tornCh <- "mixed content observed":
						default:
						}
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		content := oldContent
		if i%2 == 1 {
			content = newContent
		}
		if err := WriteAtomic(path, content, 0644); err != nil {
			t.Fatalf("WriteAtomic() error = %v", err)
		}
	}

	close(done)
	wg.Wait()

	select {
	case msg := <-tornCh:
		t.Errorf("torn read detected: %s", msg)
	default:
	}
}

func TestReadRaw(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		data, ok := ReadRaw(filepath.Join(dir, "absent.json"))
		if ok {
			t.Errorf("ReadRaw() ok = true, want false")
		}
		if data != nil {
			t.Errorf("ReadRaw() data = %v, want nil", data)
		}
	})

	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(dir, "present.json")
		if err := os.WriteFile(path, []byte("raw"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		data, ok := ReadRaw(path)
		if !ok {
			t.Fatalf("ReadRaw() ok = false, want true")
		}
		if string(data) != "raw" {
			t.Errorf("ReadRaw() data = %q, want %q", data, "raw")
		}
	})
}
