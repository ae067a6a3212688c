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
	"testing"

	"timeclerk/pkg/ux"
)

func TestAvailabilityIcon(t *testing.T) {
	if got := availabilityIcon(true); got != ux.IconSuccess {
		t.Errorf("availabilityIcon(true) = %q, want %q", got, ux.IconSuccess)
	}
	if got := availabilityIcon(false); got != ux.IconError {
		t.Errorf("availabilityIcon(false) = %q, want %q", got, ux.IconError)
	}
}

func TestCountIcon(t *testing.T) {
	if got := countIcon(0); got != ux.IconSuccess {
		t.Errorf("countIcon(0) = %q, want %q", got, ux.IconSuccess)
	}
	if got := countIcon(3); got != ux.IconPending {
		t.Errorf("countIcon(3) = %q, want %q", got, ux.IconPending)
	}
}
