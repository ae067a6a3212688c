// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"time"

	"timeclerk/internal/backup"
	"timeclerk/internal/paths"
)

// =============================================================================
// Per-User Documents
// =============================================================================

// SessionState is one user's editing session snapshot. Written on login,
// logout, and activity checkpoints so an interrupted session can be
// resumed.
type SessionState struct {
	Username     string    `json:"username"`
	Host         string    `json:"host,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`

	// OpenDocuments lists logical document names the session had open.
	OpenDocuments []string `json:"open_documents"`
}

// NewSessionState returns an empty session for username. Containers are
// non-nil so callers can append without checks.
func NewSessionState(username string) *SessionState {
	return &SessionState{
		Username:      username,
		OpenDocuments: []string{},
	}
}

// WorktimeEntry is one day's worked time.
type WorktimeEntry struct {
	Day          int    `json:"day"`
	Start        string `json:"start,omitempty"` // "08:30"
	End          string `json:"end,omitempty"`   // "17:00"
	BreakMinutes int    `json:"break_minutes"`
	Project      string `json:"project,omitempty"`
	Note         string `json:"note,omitempty"`
}

// WorktimeSheet is one user's worktime sheet for one month, keyed by
// day of month.
type WorktimeSheet struct {
	Owner     string                `json:"owner"`
	Year      int                   `json:"year"`
	Month     time.Month            `json:"month"`
	Entries   map[int]WorktimeEntry `json:"entries"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// NewWorktimeSheet returns an empty sheet for the given owner and month.
func NewWorktimeSheet(owner string, year int, month time.Month) *WorktimeSheet {
	return &WorktimeSheet{
		Owner:   owner,
		Year:    year,
		Month:   month,
		Entries: map[int]WorktimeEntry{},
	}
}

// TimeOffKind classifies a time-off request.
type TimeOffKind string

const (
	TimeOffVacation TimeOffKind = "vacation"
	TimeOffSick     TimeOffKind = "sick"
	TimeOffSpecial  TimeOffKind = "special"
)

// TimeOffStatus is the approval state of a request.
type TimeOffStatus string

const (
	TimeOffRequested TimeOffStatus = "requested"
	TimeOffApproved  TimeOffStatus = "approved"
	TimeOffRejected  TimeOffStatus = "rejected"
)

// TimeOffRequest is one absence request.
type TimeOffRequest struct {
	ID        string        `json:"id"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	Days      float64       `json:"days"`
	Kind      TimeOffKind   `json:"kind"`
	Status    TimeOffStatus `json:"status"`
	DecidedBy string        `json:"decided_by,omitempty"`
	Note      string        `json:"note,omitempty"`
}

// TimeOffTracker is one user's absence ledger for one year.
type TimeOffTracker struct {
	Owner         string           `json:"owner"`
	Year          int              `json:"year"`
	AllowanceDays float64          `json:"allowance_days"`
	CarriedOver   float64          `json:"carried_over"`
	Requests      []TimeOffRequest `json:"requests"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewTimeOffTracker returns an empty tracker for the given owner and year.
func NewTimeOffTracker(owner string, year int) *TimeOffTracker {
	return &TimeOffTracker{
		Owner:    owner,
		Year:     year,
		Requests: []TimeOffRequest{},
	}
}

// =============================================================================
// Shared Documents
// =============================================================================

// Account is one entry in the shared account directory.
type Account struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserAccounts is the shared account directory, keyed by username.
type UserAccounts struct {
	Accounts  map[string]Account `json:"accounts"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewUserAccounts returns an empty account directory.
func NewUserAccounts() *UserAccounts {
	return &UserAccounts{
		Accounts: map[string]Account{},
	}
}

// RegisterEntry is one cash movement in the register book.
type RegisterEntry struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	AmountCents int64     `json:"amount_cents"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	EnteredBy   string    `json:"entered_by"`
}

// RegisterBook is the shared cash register book for one year.
type RegisterBook struct {
	Year      int             `json:"year"`
	Entries   []RegisterEntry `json:"entries"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewRegisterBook returns an empty register book for the given year.
func NewRegisterBook(year int) *RegisterBook {
	return &RegisterBook{
		Year:    year,
		Entries: []RegisterEntry{},
	}
}

// CheckEntry is one issued check.
type CheckEntry struct {
	Number      string    `json:"number"`
	IssuedOn    time.Time `json:"issued_on"`
	AmountCents int64     `json:"amount_cents"`
	Payee       string    `json:"payee,omitempty"`
	Memo        string    `json:"memo,omitempty"`
	Cleared     bool      `json:"cleared"`
	EnteredBy   string    `json:"entered_by"`
}

// CheckRegisterBook is the shared check register for one year.
type CheckRegisterBook struct {
	Year      int          `json:"year"`
	Checks    []CheckEntry `json:"checks"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewCheckRegisterBook returns an empty check register for the given year.
func NewCheckRegisterBook(year int) *CheckRegisterBook {
	return &CheckRegisterBook{
		Year:   year,
		Checks: []CheckEntry{},
	}
}

// Holiday is one calendar holiday.
type Holiday struct {
	Date    time.Time `json:"date"`
	Name    string    `json:"name"`
	HalfDay bool      `json:"half_day"`
}

// HolidayCalendar is the shared holiday calendar for one year.
type HolidayCalendar struct {
	Year      int       `json:"year"`
	Holidays  []Holiday `json:"holidays"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewHolidayCalendar returns an empty calendar for the given year.
func NewHolidayCalendar(year int) *HolidayCalendar {
	return &HolidayCalendar{
		Year:     year,
		Holidays: []Holiday{},
	}
}

// TeamMember is one entry in the shared roster.
type TeamMember struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Team        string    `json:"team,omitempty"`
	Supervisor  string    `json:"supervisor,omitempty"`
	JoinedOn    time.Time `json:"joined_on"`
}

// TeamRoster is the shared team member roster.
type TeamRoster struct {
	Members   []TeamMember `json:"members"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewTeamRoster returns an empty roster.
func NewTeamRoster() *TeamRoster {
	return &TeamRoster{
		Members: []TeamMember{},
	}
}

// MonthlyTotal is one user's aggregate for one month.
type MonthlyTotal struct {
	WorkedMinutes   int     `json:"worked_minutes"`
	OvertimeMinutes int     `json:"overtime_minutes"`
	TimeOffDays     float64 `json:"time_off_days"`
	SickDays        float64 `json:"sick_days"`
}

// AdminSummary is the administrative aggregate for one month, keyed by
// username. Derived data: it can be rebuilt from the worktime sheets.
type AdminSummary struct {
	Year        int                     `json:"year"`
	Month       time.Month              `json:"month"`
	Totals      map[string]MonthlyTotal `json:"totals"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// NewAdminSummary returns an empty summary for the given month.
func NewAdminSummary(year int, month time.Month) *AdminSummary {
	return &AdminSummary{
		Year:   year,
		Month:  month,
		Totals: map[string]MonthlyTotal{},
	}
}

// UserStatus is one user's presence entry in the status cache.
type UserStatus struct {
	Username string    `json:"username"`
	State    string    `json:"state"` // "online", "away", "offline"
	LastSeen time.Time `json:"last_seen"`
}

// StatusCache is the shared presence cache, keyed by username.
type StatusCache struct {
	Entries     map[string]UserStatus `json:"entries"`
	RefreshedAt time.Time             `json:"refreshed_at"`
}

// NewStatusCache returns an empty status cache.
func NewStatusCache() *StatusCache {
	return &StatusCache{
		Entries: map[string]UserStatus{},
	}
}

// NotificationRecord is one sent notification.
type NotificationRecord struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// NotificationLog tracks sent notifications of one kind (the kind is
// also the path qualifier, e.g. "approval" or "reminder") so the same
// notification is not sent twice.
type NotificationLog struct {
	Kind      string               `json:"kind"`
	Sent      []NotificationRecord `json:"sent"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// NewNotificationLog returns an empty log for the given kind.
func NewNotificationLog(kind string) *NotificationLog {
	return &NotificationLog{
		Kind: kind,
		Sent: []NotificationRecord{},
	}
}

// NetworkStatus is the shared replication status flag document. The
// daemon refreshes it so interactive clients can show sync health
// without talking to the daemon.
type NetworkStatus struct {
	NetworkAvailable bool      `json:"network_available"`
	PendingSyncs     int       `json:"pending_syncs"`
	LastSweep        time.Time `json:"last_sweep"`
	UpdatedBy        string    `json:"updated_by,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewNetworkStatus returns a zeroed status document.
func NewNetworkStatus() *NetworkStatus {
	return &NetworkStatus{}
}

// =============================================================================
// Backup Tiers
// =============================================================================

// TierFor returns the backup tier for an entity type.
//
// Financial records and the account directory are critical: losing an
// update there is unrecoverable by hand. Calendars and rosters change
// rarely and are easy to reconstruct, so they ride the important tier.
// Caches and logs regenerate themselves and only get the standard
// safety net.
func TierFor(entity paths.EntityType) backup.Tier {
	switch entity {
	case paths.EntityWorktimeSheet,
		paths.EntityRegisterBook,
		paths.EntityCheckRegisterBook,
		paths.EntityUserAccounts:
		return backup.TierCritical
	case paths.EntityHolidayCalendar,
		paths.EntityTimeOffTracker,
		paths.EntityTeamRoster,
		paths.EntityAdminSummary:
		return backup.TierImportant
	default:
		return backup.TierStandard
	}
}
