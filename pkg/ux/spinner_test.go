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
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSpinner_MachineModePrintsOnce(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	spin := NewSpinner("replicating pending pairs")
	output := captureStdout(func() {
		spin.Start()
		spin.Stop()
	})

	if output != "PROGRESS: replicating pending pairs\n" {
		t.Errorf("unexpected machine output: %q", output)
	}
}

func TestSpinner_StartStop_FullMode(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	spin := NewSpinner("restoring").WithType(SpinnerClock)
	output := captureStdout(func() {
		spin.Start()
		time.Sleep(120 * time.Millisecond)
		spin.UpdateMessage("verifying")
		time.Sleep(120 * time.Millisecond)
		spin.Stop()
	})

	if !strings.Contains(output, "restoring") {
		t.Errorf("expected spinner message in output, got %q", output)
	}
}

func TestSpinner_DoubleStopSafe(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityFull)

	spin := NewSpinner("working")
	captureStdout(func() {
		spin.Start()
		spin.Stop()
		spin.Stop()
	})
}

func TestWithSpinner_Success(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	output := captureStdout(func() {
		if err := WithSpinner("sweep", func() error { return nil }); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	if !strings.Contains(output, "OK: sweep") {
		t.Errorf("expected success line, got %q", output)
	}
}

func TestWithSpinner_PropagatesError(t *testing.T) {
	orig := GetPersonality()
	defer SetPersonality(orig)

	SetPersonalityLevel(PersonalityMachine)

	wantErr := errors.New("network root vanished")
	var gotErr error

	errOut := captureStderr(func() {
		gotErr = WithSpinner("sweep", func() error { return wantErr })
	})

	if !errors.Is(gotErr, wantErr) {
		t.Errorf("expected %v back, got %v", wantErr, gotErr)
	}
	if !strings.Contains(errOut, "network root vanished") {
		t.Errorf("expected error detail on stderr, got %q", errOut)
	}
}
