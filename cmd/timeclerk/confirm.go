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
	"fmt"

	"github.com/charmbracelet/huh"

	"timeclerk/pkg/ux"
)

// confirmDestructive gates a destructive operation behind an
// interactive prompt. Non-interactive sessions (machine personality,
// piped output) get no prompt and must pass --force instead.
func confirmDestructive(force bool, title, detail string) bool {
	if force {
		return true
	}
	if !ux.IsInteractive() {
		ux.Error("This operation is destructive. Re-run with --force to confirm.")
		return false
	}

	confirmed := false
	err := huh.NewConfirm().
		Title(title).
		Description(detail).
		Affirmative("Yes, proceed").
		Negative("Cancel").
		Value(&confirmed).
		Run()
	if err != nil {
		ux.Error(fmt.Sprintf("Prompt failed: %v", err))
		return false
	}
	return confirmed
}
