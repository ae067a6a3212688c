// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// Helper to capture stdout
func captureStdout(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// Helper to capture stderr
func captureStderr(f func()) string {
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	f()

	w.Close()
	os.Stderr = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render_Styled(t *testing.T) {
	styled := []Icon{IconSuccess, IconWarning, IconError, IconPending}
	for _, icon := range styled {
		if icon.Render() == "" {
			t.Errorf("expected non-empty result for %q", icon)
		}
	}
}

func TestIcon_Render_Default(t *testing.T) {
	// Icons without specific styling render as themselves
	icons := []Icon{IconArrow, IconBullet, IconClock, IconSync}
	for _, icon := range icons {
		result := icon.Render()
		if result != string(icon) {
			t.Errorf("expected %q for %q, got %q", string(icon), icon, result)
		}
	}
}

// =============================================================================
// Title Tests
// =============================================================================

func TestTitle_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Title("Pending Replication")
	})

	// In machine mode, Title should output nothing
	if output != "" {
		t.Errorf("expected no output in machine mode, got %q", output)
	}
}

func TestTitle_FullMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := captureStdout(func() {
		Title("Pending Replication")
	})

	if output == "" {
		t.Error("expected styled output in full mode")
	}
}

// =============================================================================
// Success / Warning / Error Tests
// =============================================================================

func TestSuccess_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Success("sheet replicated")
	})

	if output != "OK: sheet replicated\n" {
		t.Errorf("unexpected machine output: %q", output)
	}
}

func TestSuccess_FullMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := captureStdout(func() {
		Success("sheet replicated")
	})

	if !strings.Contains(output, "sheet replicated") {
		t.Errorf("expected message in output, got %q", output)
	}
}

func TestWarning_MachineModeGoesToStderr(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	errOut := captureStderr(func() {
		Warning("network root unreachable")
	})

	if errOut != "WARN: network root unreachable\n" {
		t.Errorf("unexpected stderr: %q", errOut)
	}
}

func TestError_MachineModeGoesToStderr(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	errOut := captureStderr(func() {
		Error("restore failed")
	})

	if errOut != "ERROR: restore failed\n" {
		t.Errorf("unexpected stderr: %q", errOut)
	}
}

// =============================================================================
// Box Tests
// =============================================================================

func TestBox_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Box("Status", "2 pending")
	})

	if output != "Status: 2 pending\n" {
		t.Errorf("unexpected machine output: %q", output)
	}
}

func TestBox_FullMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := captureStdout(func() {
		Box("Status", "2 pending")
	})

	if !strings.Contains(output, "Status") || !strings.Contains(output, "2 pending") {
		t.Errorf("expected title and content in output, got %q", output)
	}
}

func TestWarningBox_MachineModeGoesToStderr(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	errOut := captureStderr(func() {
		WarningBox("Destructive", "this drops the queue")
	})

	if errOut != "WARN Destructive: this drops the queue\n" {
		t.Errorf("unexpected stderr: %q", errOut)
	}
}

// =============================================================================
// PairStatus Tests
// =============================================================================

func TestPairStatus_MachineModeIsTabSeparated(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		PairStatus("/local/worktime.json", IconSuccess, "synced")
	})

	if output != "✓\t/local/worktime.json\tsynced\n" {
		t.Errorf("unexpected machine output: %q", output)
	}
}

func TestPairStatus_FullModeIncludesDetail(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := captureStdout(func() {
		PairStatus("/local/worktime.json", IconPending, "retry 2")
	})

	if !strings.Contains(output, "/local/worktime.json") || !strings.Contains(output, "retry 2") {
		t.Errorf("expected path and detail in output, got %q", output)
	}
}

// =============================================================================
// Summary Tests
// =============================================================================

func TestSummary_MachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Summary(3, 1, 4)
	})

	if output != "SUMMARY: synced=3 pending=1 total=4\n" {
		t.Errorf("unexpected machine output: %q", output)
	}
}

func TestSummary_FullModeIncludesCounts(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	output := captureStdout(func() {
		Summary(3, 1, 4)
	})

	for _, want := range []string{"3", "1", "4", "synced", "pending", "total"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got %q", want, output)
		}
	}
}

// =============================================================================
// Hint Tests
// =============================================================================

func TestHint_SilentInMachineMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		Hint("run 'timeclerk sync now --all' to replicate")
	})

	if output != "" {
		t.Errorf("expected no output, got %q", output)
	}
}

func TestHint_SilentWhenHintsDisabled(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(Personality{Level: PersonalityFull, ShowHints: false})

	output := captureStdout(func() {
		Hint("run 'timeclerk sync now --all' to replicate")
	})

	if output != "" {
		t.Errorf("expected no output, got %q", output)
	}
}

func TestHint_ShownWhenEnabled(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonality(Personality{Level: PersonalityFull, ShowHints: true})

	output := captureStdout(func() {
		Hint("run 'timeclerk sync now --all' to replicate")
	})

	if !strings.Contains(output, "timeclerk sync now") {
		t.Errorf("expected hint text in output, got %q", output)
	}
}
