// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package paths maps (entity type, owner, temporal scope) tuples onto
// filesystem locations under the local and the network document roots.
//
// Every document lives at the same relative position under both roots, so
// the mapping between a local path and its network counterpart is a pure
// prefix swap. The Resolver performs no I/O and holds no mutable state;
// identical inputs always produce identical outputs.
//
// Layout under either root:
//
//	<root>/<category dir>/[owner/]<file>[_qualifier][_YYYY[_MM]].json
//
// Examples:
//
//	<root>/worktime/alice/worktime_2025_03.json
//	<root>/register/register_2025.json
//	<root>/notifications/notifications_approval.json
//	<root>/team/roster.json
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotUnderLocalRoot is returned by ToNetwork when the input path
	// does not lie under the configured local root.
	ErrNotUnderLocalRoot = errors.New("path is not under the local root")

	// ErrNotUnderNetworkRoot is returned by ToLocal when the input path
	// does not lie under the configured network root.
	ErrNotUnderNetworkRoot = errors.New("path is not under the network root")

	// ErrInvalidRoots is returned by NewResolver for empty, identical, or
	// nested roots. Nested roots would make the prefix swap ambiguous.
	ErrInvalidRoots = errors.New("invalid document roots")
)

// =============================================================================
// Locations and Entity Types
// =============================================================================

// Location identifies which of the two document roots a path belongs to.
type Location int

const (
	// LocationLocal is the always-available local disk root.
	LocationLocal Location = iota

	// LocationNetwork is the intermittently-reachable network share root.
	LocationNetwork
)

// String returns "local" or "network".
func (l Location) String() string {
	if l == LocationNetwork {
		return "network"
	}
	return "local"
}

// EntityType names one persisted document category. The constants cover
// every category the data access facade exposes.
type EntityType string

const (
	// EntitySessionState is the per-user editing session snapshot.
	EntitySessionState EntityType = "session_state"

	// EntityUserAccounts is the shared account directory document.
	EntityUserAccounts EntityType = "user_accounts"

	// EntityWorktimeSheet is one user's worktime sheet for one month.
	EntityWorktimeSheet EntityType = "worktime_sheet"

	// EntityRegisterBook is the shared register book for one year.
	EntityRegisterBook EntityType = "register_book"

	// EntityCheckRegisterBook is the shared check register for one year.
	EntityCheckRegisterBook EntityType = "check_register_book"

	// EntityHolidayCalendar is the shared holiday calendar for one year.
	EntityHolidayCalendar EntityType = "holiday_calendar"

	// EntityTimeOffTracker is one user's time-off tracker for one year.
	EntityTimeOffTracker EntityType = "time_off_tracker"

	// EntityTeamRoster is the shared team member roster.
	EntityTeamRoster EntityType = "team_roster"

	// EntityAdminSummary is the administrative aggregate for one month.
	EntityAdminSummary EntityType = "admin_summary"

	// EntityStatusCache is the shared presence/status cache.
	EntityStatusCache EntityType = "status_cache"

	// EntityNotificationLog tracks sent notifications of one kind; the
	// kind travels in Params.Qualifier.
	EntityNotificationLog EntityType = "notification_log"

	// EntityNetworkStatus holds the replication status flags.
	EntityNetworkStatus EntityType = "network_status"
)

// Params carries the temporal scope and the type-specific discriminator
// for a document. The zero value means "no scope": no year, no month, no
// qualifier. A set Year with a zero Month selects year scope.
type Params struct {
	Year      int
	Month     time.Month
	Qualifier string
}

// Scope is the temporal component of a LogicalPath. Zero value = none.
type Scope struct {
	Year  int
	Month time.Month
}

// LogicalPath identifies one persisted document: where it is, what it is,
// and whom it belongs to. It is a plain value object owned by the caller.
// OwnerID is optional and filled by callers that track numeric ids.
type LogicalPath struct {
	Location Location
	Path     string
	Entity   EntityType
	Owner    string
	OwnerID  int
	Scope    Scope
}

// =============================================================================
// Layout Table
// =============================================================================

// layout describes where one entity category lives relative to a root.
type layout struct {
	dir      string
	file     string
	perOwner bool
}

var layouts = map[EntityType]layout{
	EntitySessionState:      {dir: "sessions", file: "session", perOwner: true},
	EntityUserAccounts:      {dir: "accounts", file: "accounts"},
	EntityWorktimeSheet:     {dir: "worktime", file: "worktime", perOwner: true},
	EntityRegisterBook:      {dir: "register", file: "register"},
	EntityCheckRegisterBook: {dir: "checkregister", file: "checkregister"},
	EntityHolidayCalendar:   {dir: "holidays", file: "holidays"},
	EntityTimeOffTracker:    {dir: "timeoff", file: "timeoff", perOwner: true},
	EntityTeamRoster:        {dir: "team", file: "roster"},
	EntityAdminSummary:      {dir: "summaries", file: "summary"},
	EntityStatusCache:       {dir: "status", file: "status_cache"},
	EntityNotificationLog:   {dir: "notifications", file: "notifications"},
	EntityNetworkStatus:     {dir: "status", file: "network_flags"},
}

// layoutFor returns the layout for e. Unknown entity types fall back to a
// deterministic misc bucket so the resolver stays a total function.
func layoutFor(e EntityType) layout {
	if l, ok := layouts[e]; ok {
		return l
	}
	return layout{dir: "misc", file: sanitize(string(e))}
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver computes document paths under the two roots. Immutable after
// construction and safe for concurrent use.
type Resolver struct {
	localRoot   string
	networkRoot string
}

// NewResolver creates a Resolver for the given roots.
//
// Both roots are cleaned first. Empty, identical, or nested roots are
// rejected with ErrInvalidRoots.
func NewResolver(localRoot, networkRoot string) (*Resolver, error) {
	if localRoot == "" || networkRoot == "" {
		return nil, fmt.Errorf("%w: roots must be non-empty", ErrInvalidRoots)
	}

	local := filepath.Clean(localRoot)
	network := filepath.Clean(networkRoot)

	if local == network {
		return nil, fmt.Errorf("%w: local and network roots are identical (%s)", ErrInvalidRoots, local)
	}
	if isUnder(local, network) || isUnder(network, local) {
		return nil, fmt.Errorf("%w: roots must not be nested (%s, %s)", ErrInvalidRoots, local, network)
	}

	return &Resolver{
		localRoot:   local,
		networkRoot: network,
	}, nil
}

// LocalRoot returns the cleaned local document root.
func (r *Resolver) LocalRoot() string { return r.localRoot }

// NetworkRoot returns the cleaned network document root.
func (r *Resolver) NetworkRoot() string { return r.networkRoot }

// LocalPath returns the local filesystem path for a document.
func (r *Resolver) LocalPath(owner string, e EntityType, p Params) string {
	return r.resolve(r.localRoot, owner, e, p)
}

// NetworkPath returns the network filesystem path for a document.
func (r *Resolver) NetworkPath(owner string, e EntityType, p Params) string {
	return r.resolve(r.networkRoot, owner, e, p)
}

// Logical assembles the full LogicalPath value for a document at loc.
func (r *Resolver) Logical(loc Location, owner string, e EntityType, p Params) LogicalPath {
	root := r.localRoot
	if loc == LocationNetwork {
		root = r.networkRoot
	}
	return LogicalPath{
		Location: loc,
		Path:     r.resolve(root, owner, e, p),
		Entity:   e,
		Owner:    owner,
		Scope:    Scope{Year: p.Year, Month: p.Month},
	}
}

// ToNetwork maps a local document path to its network counterpart by
// swapping the root prefix. Returns ErrNotUnderLocalRoot when the input
// does not lie lexically under the local root after cleaning.
func (r *Resolver) ToNetwork(localPath string) (string, error) {
	rel, ok := relUnder(r.localRoot, localPath)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotUnderLocalRoot, localPath)
	}
	return filepath.Join(r.networkRoot, rel), nil
}

// ToLocal is the inverse of ToNetwork. Returns ErrNotUnderNetworkRoot
// when the input does not lie under the network root.
func (r *Resolver) ToLocal(networkPath string) (string, error) {
	rel, ok := relUnder(r.networkRoot, networkPath)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotUnderNetworkRoot, networkPath)
	}
	return filepath.Join(r.localRoot, rel), nil
}

// resolve builds <root>/<dir>/[owner/]<file>[_qualifier][_YYYY[_MM]].json.
func (r *Resolver) resolve(root, owner string, e EntityType, p Params) string {
	l := layoutFor(e)

	parts := []string{root, l.dir}
	if l.perOwner && owner != "" {
		parts = append(parts, sanitize(owner))
	}

	var name strings.Builder
	name.WriteString(l.file)
	if p.Qualifier != "" {
		name.WriteByte('_')
		name.WriteString(sanitize(p.Qualifier))
	}
	if p.Year != 0 {
		fmt.Fprintf(&name, "_%04d", p.Year)
		if p.Month != 0 {
			fmt.Fprintf(&name, "_%02d", int(p.Month))
		}
	}
	name.WriteString(".json")

	parts = append(parts, name.String())
	return filepath.Join(parts...)
}

// =============================================================================
// Helpers
// =============================================================================

// relUnder returns the relative path of p under root, and whether p lies
// under (or is) root. The check is purely lexical.
func relUnder(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, filepath.Clean(p))
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// isUnder reports whether p lies strictly under root.
func isUnder(root, p string) bool {
	rel, ok := relUnder(root, p)
	return ok && rel != "."
}

// sanitize keeps owner names and qualifiers safe as path components.
// Anything outside [A-Za-z0-9._-] becomes an underscore, and leading dots
// are flattened so a crafted owner cannot escape its directory.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "_"
	}
	return out
}
