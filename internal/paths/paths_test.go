// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package paths

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver("/data/timeclerk", "/mnt/share/timeclerk")
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

func TestNewResolver_Validation(t *testing.T) {
	tests := []struct {
		name    string
		local   string
		network string
		wantErr bool
	}{
		{"valid", "/data/tc", "/mnt/share/tc", false},
		{"empty local", "", "/mnt/share/tc", true},
		{"empty network", "/data/tc", "", true},
		{"identical", "/data/tc", "/data/tc", true},
		{"identical after clean", "/data/tc/", "/data/tc", true},
		{"network nested in local", "/data/tc", "/data/tc/share", true},
		{"local nested in network", "/mnt/share/tc/local", "/mnt/share/tc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.local, tt.network)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewResolver(%q, %q) error = %v, wantErr %v", tt.local, tt.network, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRoots) {
				t.Errorf("error = %v, want ErrInvalidRoots", err)
			}
		})
	}
}

func TestResolver_Layout(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name   string
		owner  string
		entity EntityType
		params Params
		want   string
	}{
		{
			name:   "worktime sheet owner year month",
			owner:  "alice",
			entity: EntityWorktimeSheet,
			params: Params{Year: 2025, Month: time.March},
			want:   "/data/timeclerk/worktime/alice/worktime_2025_03.json",
		},
		{
			name:   "register book year",
			entity: EntityRegisterBook,
			params: Params{Year: 2025},
			want:   "/data/timeclerk/register/register_2025.json",
		},
		{
			name:   "check register year",
			entity: EntityCheckRegisterBook,
			params: Params{Year: 2024},
			want:   "/data/timeclerk/checkregister/checkregister_2024.json",
		},
		{
			name:   "holiday calendar year",
			entity: EntityHolidayCalendar,
			params: Params{Year: 2025},
			want:   "/data/timeclerk/holidays/holidays_2025.json",
		},
		{
			name:   "time off tracker owner year",
			owner:  "bob",
			entity: EntityTimeOffTracker,
			params: Params{Year: 2025},
			want:   "/data/timeclerk/timeoff/bob/timeoff_2025.json",
		},
		{
			name:   "session state per owner no scope",
			owner:  "alice",
			entity: EntitySessionState,
			want:   "/data/timeclerk/sessions/alice/session.json",
		},
		{
			name:   "user accounts shared",
			entity: EntityUserAccounts,
			want:   "/data/timeclerk/accounts/accounts.json",
		},
		{
			name:   "team roster shared",
			entity: EntityTeamRoster,
			want:   "/data/timeclerk/team/roster.json",
		},
		{
			name:   "admin summary year month",
			entity: EntityAdminSummary,
			params: Params{Year: 2025, Month: time.December},
			want:   "/data/timeclerk/summaries/summary_2025_12.json",
		},
		{
			name:   "status cache",
			entity: EntityStatusCache,
			want:   "/data/timeclerk/status/status_cache.json",
		},
		{
			name:   "notification log with qualifier",
			entity: EntityNotificationLog,
			params: Params{Qualifier: "approval"},
			want:   "/data/timeclerk/notifications/notifications_approval.json",
		},
		{
			name:   "network status flags",
			entity: EntityNetworkStatus,
			want:   "/data/timeclerk/status/network_flags.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.LocalPath(tt.owner, tt.entity, tt.params)
			if got != filepath.FromSlash(tt.want) {
				t.Errorf("LocalPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestResolver_MappingConsistency checks that swapping the root prefix of
// a local path always lands exactly on the network path computed directly,
// for every entity category.
func TestResolver_MappingConsistency(t *testing.T) {
	r := newTestResolver(t)

	cases := []struct {
		entity EntityType
		owner  string
		params Params
	}{
		{EntitySessionState, "alice", Params{}},
		{EntityUserAccounts, "", Params{}},
		{EntityWorktimeSheet, "alice", Params{Year: 2025, Month: time.July}},
		{EntityRegisterBook, "", Params{Year: 2025}},
		{EntityCheckRegisterBook, "", Params{Year: 2025}},
		{EntityHolidayCalendar, "", Params{Year: 2026}},
		{EntityTimeOffTracker, "bob", Params{Year: 2025}},
		{EntityTeamRoster, "", Params{}},
		{EntityAdminSummary, "", Params{Year: 2025, Month: time.January}},
		{EntityStatusCache, "", Params{}},
		{EntityNotificationLog, "", Params{Qualifier: "reminder"}},
		{EntityNetworkStatus, "", Params{}},
	}

	for _, c := range cases {
		t.Run(string(c.entity), func(t *testing.T) {
			local := r.LocalPath(c.owner, c.entity, c.params)
			network := r.NetworkPath(c.owner, c.entity, c.params)

			mapped, err := r.ToNetwork(local)
			if err != nil {
				t.Fatalf("ToNetwork(%q) error = %v", local, err)
			}
			if mapped != network {
				t.Errorf("ToNetwork(LocalPath()) = %q, want NetworkPath() = %q", mapped, network)
			}

			back, err := r.ToLocal(mapped)
			if err != nil {
				t.Fatalf("ToLocal(%q) error = %v", mapped, err)
			}
			if back != local {
				t.Errorf("ToLocal(ToNetwork()) = %q, want %q (round trip)", back, local)
			}
		})
	}
}

func TestResolver_Determinism(t *testing.T) {
	r := newTestResolver(t)

	p := Params{Year: 2025, Month: time.March}
	first := r.LocalPath("alice", EntityWorktimeSheet, p)
	for i := 0; i < 10; i++ {
		if got := r.LocalPath("alice", EntityWorktimeSheet, p); got != first {
			t.Fatalf("LocalPath() not deterministic: %q != %q", got, first)
		}
	}
}

func TestResolver_ToNetwork_RejectsForeignPaths(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name string
		path string
	}{
		{"outside root", "/tmp/somewhere/else.json"},
		{"network path", "/mnt/share/timeclerk/team/roster.json"},
		{"parent escape", "/data/timeclerk/../elsewhere/file.json"},
		{"sibling prefix", "/data/timeclerk2/team/roster.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.ToNetwork(tt.path)
			if !errors.Is(err, ErrNotUnderLocalRoot) {
				t.Errorf("ToNetwork(%q) error = %v, want ErrNotUnderLocalRoot", tt.path, err)
			}
		})
	}

	t.Run("to local rejects local path", func(t *testing.T) {
		_, err := r.ToLocal("/data/timeclerk/team/roster.json")
		if !errors.Is(err, ErrNotUnderNetworkRoot) {
			t.Errorf("ToLocal() error = %v, want ErrNotUnderNetworkRoot", err)
		}
	})
}

func TestResolver_Logical(t *testing.T) {
	r := newTestResolver(t)

	lp := r.Logical(LocationNetwork, "alice", EntityWorktimeSheet, Params{Year: 2025, Month: time.May})

	if lp.Location != LocationNetwork {
		t.Errorf("Location = %v, want LocationNetwork", lp.Location)
	}
	if lp.Owner != "alice" {
		t.Errorf("Owner = %q, want alice", lp.Owner)
	}
	if lp.Entity != EntityWorktimeSheet {
		t.Errorf("Entity = %v, want EntityWorktimeSheet", lp.Entity)
	}
	if lp.Scope.Year != 2025 || lp.Scope.Month != time.May {
		t.Errorf("Scope = %+v, want {2025 May}", lp.Scope)
	}
	if want := r.NetworkPath("alice", EntityWorktimeSheet, Params{Year: 2025, Month: time.May}); lp.Path != want {
		t.Errorf("Path = %q, want %q", lp.Path, want)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice", "alice"},
		{"Alice.Smith-2", "Alice.Smith-2"},
		{"a/b", "a_b"},
		{"..", "_"},
		{"../../etc/passwd", "_.._etc_passwd"},
		{"", "_"},
		{"über", "_ber"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := sanitize(tt.in); got != tt.want {
				t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolver_OwnerCannotEscapeRoot(t *testing.T) {
	r := newTestResolver(t)

	got := r.LocalPath("../../outside", EntityWorktimeSheet, Params{Year: 2025, Month: time.January})
	if !strings.HasPrefix(got, r.LocalRoot()+string(filepath.Separator)) {
		t.Errorf("LocalPath() with hostile owner escaped the root: %q", got)
	}
}
