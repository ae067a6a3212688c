// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the typed document API the rest of the system goes
// through. It composes the path resolver, the locked reader, the write
// transaction manager, the backup service, and the availability probe
// into one facade with a read and a write method per document type.
//
// Placement rules live here and nowhere else:
//
//   - A user's own documents are read from the local root, respecting
//     advisory locks.
//   - Another user's documents are read from the network root and
//     require it to be reachable.
//   - Shared documents prefer the network copy and fall back to the
//     local one when the network root is unreachable or has no copy.
//
// Every write lands locally inside a transaction and stages a
// replication hand-off for the network copy. Missing or unreadable
// documents come back as empty containers, never nil, so callers can
// mutate and write back without guards.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"timeclerk/internal/backup"
	"timeclerk/internal/fileio"
	"timeclerk/internal/paths"
	"timeclerk/internal/telemetry"
	"timeclerk/internal/transaction"
)

const tracerName = "timeclerk.store"

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Probe reports whether the network root is reachable. Satisfied by
// *probe.Prober.
type Probe interface {
	NetworkAvailable() bool
}

// Authorizer decides whether a principal may write a document. The
// check runs before any I/O, so a denial leaves no trace on disk.
type Authorizer interface {
	// AuthorizeWrite reports whether principal may write the given
	// entity. owner is empty for shared documents.
	AuthorizeWrite(principal, owner string, entity paths.EntityType) bool
}

// AuthorizerFunc adapts a plain function to the Authorizer interface.
type AuthorizerFunc func(principal, owner string, entity paths.EntityType) bool

// AuthorizeWrite calls f.
func (f AuthorizerFunc) AuthorizeWrite(principal, owner string, entity paths.EntityType) bool {
	return f(principal, owner, entity)
}

// SelfWritePolicy is the default write policy: a named principal may
// write its own per-user documents and any shared document. An empty
// principal may write nothing.
func SelfWritePolicy() Authorizer {
	return AuthorizerFunc(func(principal, owner string, _ paths.EntityType) bool {
		if principal == "" {
			return false
		}
		return owner == "" || principal == owner
	})
}

// =============================================================================
// Facade
// =============================================================================

// Deps carries the collaborators a Facade composes.
//
// Resolver, Reader, Manager, and Probe are required. Backups is
// optional; without it writes skip the pre-write capture. Dispatcher
// is optional; with it, network reads queue a reconcile so a stale
// local copy catches up. Authorizer defaults to SelfWritePolicy and
// Logger to slog.Default.
type Deps struct {
	Resolver   *paths.Resolver
	Reader     *fileio.Reader
	Manager    *transaction.Manager
	Dispatcher transaction.Dispatcher
	Backups    *backup.Service
	Probe      Probe
	Authorizer Authorizer
	Logger     *slog.Logger
}

// Facade is the typed document store.
//
// # Thread Safety
//
// Reads are safe for concurrent use. Writes serialize on the
// transaction manager, which admits one transaction at a time; callers
// on other goroutines block in Begin until the active write finishes.
type Facade struct {
	resolver *paths.Resolver
	reader   *fileio.Reader
	manager  *transaction.Manager
	dispatch transaction.Dispatcher
	backups  *backup.Service
	probe    Probe
	auth     Authorizer
	logger   *slog.Logger
}

// NewFacade validates deps and returns a ready Facade.
//
// # Inputs
//
//   - deps: Collaborators. See Deps for which are required.
//
// # Outputs
//
//   - *Facade: Ready to use.
//   - error: Non-nil if a required dependency is missing.
//
// # Example
//
//	facade, err := store.NewFacade(store.Deps{
//		Resolver: resolver,
//		Reader:   reader,
//		Manager:  manager,
//		Probe:    prober,
//	})
func NewFacade(deps Deps) (*Facade, error) {
	if deps.Resolver == nil {
		return nil, fmt.Errorf("path resolver is required")
	}
	if deps.Reader == nil {
		return nil, fmt.Errorf("file reader is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Probe == nil {
		return nil, fmt.Errorf("availability probe is required")
	}

	auth := deps.Authorizer
	if auth == nil {
		auth = SelfWritePolicy()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Facade{
		resolver: deps.Resolver,
		reader:   deps.Reader,
		manager:  deps.Manager,
		dispatch: deps.Dispatcher,
		backups:  deps.Backups,
		probe:    deps.Probe,
		auth:     auth,
		logger:   logger.With("component", "store"),
	}, nil
}

// =============================================================================
// Write Path
// =============================================================================

// write runs the uniform write pipeline for one document.
//
// # Description
//
// Authorization runs first; a denial returns ErrAuthorizationDenied
// before any byte is serialized or touched on disk. The document is
// then encoded, the tier policy gets its pre-write backup (failures
// there are logged and do not block the write), and a transaction
// stages the local write plus the replication hand-off. A failed
// commit surfaces as *TransactionError carrying the partial result; an
// unreachable network root does not fail the write, it only leaves the
// replication pending.
func (f *Facade) write(ctx context.Context, principal, owner string, entity paths.EntityType, p paths.Params, doc any) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "store.write")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", string(entity)),
		attribute.String("owner", owner),
	)

	start := time.Now()

	if !f.auth.AuthorizeWrite(principal, owner, entity) {
		err := fmt.Errorf("%w: principal %q, entity %s, owner %q",
			ErrAuthorizationDenied, principal, entity, owner)
		f.logger.Warn("write rejected by policy",
			"entity", string(entity),
			"principal", principal,
			"owner", owner)
		recordWriteFailure(ctx, entity, "denied")
		telemetry.RecordError(span, err)
		return err
	}

	data, err := marshalDocument(doc)
	if err != nil {
		recordWriteFailure(ctx, entity, "serialize")
		telemetry.RecordError(span, err)
		return &TransactionError{Entity: entity, Owner: owner, Err: err}
	}

	localPath := f.resolver.LocalPath(owner, entity, p)
	networkPath := f.resolver.NetworkPath(owner, entity, p)

	if f.backups != nil {
		tier := TierFor(entity)
		if _, bErr := f.backups.BackupBeforeWrite(ctx, localPath, tier); bErr != nil {
			f.logger.Warn("pre-write backup failed, writing anyway",
				"path", localPath,
				"error", bErr)
		}
		f.backups.Track(localPath, tier)
	}

	tx, err := f.manager.Begin(ctx)
	if err != nil {
		recordWriteFailure(ctx, entity, "transaction")
		telemetry.RecordError(span, err)
		return &TransactionError{Entity: entity, Owner: owner, Err: err}
	}

	stageErr := tx.AddWrite(localPath, data)
	if stageErr == nil {
		stageErr = tx.AddSync(localPath, networkPath)
	}
	if stageErr != nil {
		if rbErr := f.manager.Rollback(ctx, tx); rbErr != nil {
			f.logger.Warn("rollback after staging failure failed",
				"tx_id", tx.ID,
				"error", rbErr)
		}
		recordWriteFailure(ctx, entity, "transaction")
		telemetry.RecordError(span, stageErr)
		return &TransactionError{Entity: entity, Owner: owner, Err: stageErr}
	}

	result, err := f.manager.Commit(ctx, tx)
	if err != nil {
		recordWriteFailure(ctx, entity, "transaction")
		telemetry.RecordError(span, err)
		return &TransactionError{Entity: entity, Owner: owner, Result: result, Err: err}
	}

	recordWrite(ctx, entity, time.Since(start))
	telemetry.SetSpanOK(span)
	f.logger.Info("document written",
		"entity", string(entity),
		"owner", owner,
		"tx_id", result.TransactionID,
		"ops", len(result.Operations),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// marshalDocument encodes a document the way every persisted file
// looks: two-space indent, trailing newline. Stable formatting keeps
// the syncer's byte comparison from seeing phantom differences.
func marshalDocument(doc any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return append(data, '\n'), nil
}

// =============================================================================
// Read Path
// =============================================================================

// readEntity reads one document, choosing the side by ownership.
//
// # Description
//
// Three cases:
//
//   - Own document (owner == principal): local root only, respecting
//     advisory locks. The local copy is authoritative for one's own
//     data even when the network is up.
//   - Another user's document: network root only, without lock
//     negotiation. ErrNetworkRequired if the probe says the network
//     root is down.
//   - Shared document (owner == ""): the network copy when reachable
//     and present, otherwise the local one.
//
// Successful network reads queue a reconcile so the staler side
// catches up. Missing and undecodable files both come back as
// (zero, false, nil); the caller substitutes the default container.
func readEntity[T any](ctx context.Context, f *Facade, principal, owner string, entity paths.EntityType, p paths.Params) (T, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "store.read")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", string(entity)),
		attribute.String("owner", owner),
	)

	var zero T

	localPath := f.resolver.LocalPath(owner, entity, p)
	networkPath := f.resolver.NetworkPath(owner, entity, p)

	// Own documents never leave the local root.
	if owner != "" && owner == principal {
		v, ok := fileio.Read[T](f.reader, localPath)
		recordRead(ctx, entity, "local")
		return v, ok, nil
	}

	// Someone else's documents live on the network root; there is no
	// meaningful local fallback for data this host never wrote.
	if owner != "" {
		if !f.probe.NetworkAvailable() {
			err := fmt.Errorf("%w: cannot read %s for %q", ErrNetworkRequired, entity, owner)
			telemetry.RecordError(span, err)
			return zero, false, err
		}
		v, ok := fileio.ReadNoLock[T](f.reader, networkPath)
		if ok {
			f.queueRepair(ctx, localPath, networkPath)
		}
		recordRead(ctx, entity, "network")
		return v, ok, nil
	}

	// Shared documents prefer the network copy so every host sees the
	// same truth, but stay readable offline.
	if f.probe.NetworkAvailable() {
		if v, ok := fileio.ReadNoLock[T](f.reader, networkPath); ok {
			f.queueRepair(ctx, localPath, networkPath)
			recordRead(ctx, entity, "network")
			return v, ok, nil
		}
	}
	v, ok := fileio.Read[T](f.reader, localPath)
	recordRead(ctx, entity, "local")
	return v, ok, nil
}

// queueRepair hands a local/network pair to the sync dispatcher so
// whichever side is stale catches up. Best effort; reads never fail
// on it.
func (f *Facade) queueRepair(ctx context.Context, localPath, networkPath string) {
	if f.dispatch == nil {
		return
	}
	if err := f.dispatch.Dispatch(ctx, localPath, networkPath); err != nil {
		f.logger.Debug("read repair dispatch failed",
			"local_path", localPath,
			"error", err)
	}
}

// =============================================================================
// Per-User Documents
// =============================================================================

// ReadSessionState returns owner's session snapshot, or an empty one
// if none is stored.
func (f *Facade) ReadSessionState(ctx context.Context, principal, owner string) (*SessionState, error) {
	v, ok, err := readEntity[SessionState](ctx, f, principal, owner, paths.EntitySessionState, paths.Params{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewSessionState(owner), nil
	}
	return &v, nil
}

// WriteSessionState persists s under its username.
func (f *Facade) WriteSessionState(ctx context.Context, principal string, s *SessionState) error {
	if s == nil {
		return fmt.Errorf("nil session state")
	}
	return f.write(ctx, principal, s.Username, paths.EntitySessionState, paths.Params{}, s)
}

// ReadWorktime returns owner's worktime sheet for the given month, or
// an empty sheet if none is stored.
func (f *Facade) ReadWorktime(ctx context.Context, principal, owner string, year int, month time.Month) (*WorktimeSheet, error) {
	p := paths.Params{Year: year, Month: month}
	v, ok, err := readEntity[WorktimeSheet](ctx, f, principal, owner, paths.EntityWorktimeSheet, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewWorktimeSheet(owner, year, month), nil
	}
	if v.Entries == nil {
		v.Entries = map[int]WorktimeEntry{}
	}
	return &v, nil
}

// WriteWorktime persists sheet under its owner and month.
func (f *Facade) WriteWorktime(ctx context.Context, principal string, sheet *WorktimeSheet) error {
	if sheet == nil {
		return fmt.Errorf("nil worktime sheet")
	}
	p := paths.Params{Year: sheet.Year, Month: sheet.Month}
	return f.write(ctx, principal, sheet.Owner, paths.EntityWorktimeSheet, p, sheet)
}

// ReadTimeOff returns owner's time-off tracker for the given year, or
// an empty tracker if none is stored.
func (f *Facade) ReadTimeOff(ctx context.Context, principal, owner string, year int) (*TimeOffTracker, error) {
	p := paths.Params{Year: year}
	v, ok, err := readEntity[TimeOffTracker](ctx, f, principal, owner, paths.EntityTimeOffTracker, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewTimeOffTracker(owner, year), nil
	}
	return &v, nil
}

// WriteTimeOff persists tracker under its owner and year.
func (f *Facade) WriteTimeOff(ctx context.Context, principal string, tracker *TimeOffTracker) error {
	if tracker == nil {
		return fmt.Errorf("nil time-off tracker")
	}
	p := paths.Params{Year: tracker.Year}
	return f.write(ctx, principal, tracker.Owner, paths.EntityTimeOffTracker, p, tracker)
}

// =============================================================================
// Shared Documents
// =============================================================================

// ReadUserAccounts returns the account directory, or an empty one if
// none is stored.
func (f *Facade) ReadUserAccounts(ctx context.Context, principal string) (*UserAccounts, error) {
	v, ok, err := readEntity[UserAccounts](ctx, f, principal, "", paths.EntityUserAccounts, paths.Params{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewUserAccounts(), nil
	}
	if v.Accounts == nil {
		v.Accounts = map[string]Account{}
	}
	return &v, nil
}

// WriteUserAccounts persists the account directory.
func (f *Facade) WriteUserAccounts(ctx context.Context, principal string, accounts *UserAccounts) error {
	if accounts == nil {
		return fmt.Errorf("nil account directory")
	}
	return f.write(ctx, principal, "", paths.EntityUserAccounts, paths.Params{}, accounts)
}

// ReadRegisterBook returns the register book for the given year, or an
// empty book if none is stored.
func (f *Facade) ReadRegisterBook(ctx context.Context, principal string, year int) (*RegisterBook, error) {
	p := paths.Params{Year: year}
	v, ok, err := readEntity[RegisterBook](ctx, f, principal, "", paths.EntityRegisterBook, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewRegisterBook(year), nil
	}
	return &v, nil
}

// WriteRegisterBook persists book under its year.
func (f *Facade) WriteRegisterBook(ctx context.Context, principal string, book *RegisterBook) error {
	if book == nil {
		return fmt.Errorf("nil register book")
	}
	return f.write(ctx, principal, "", paths.EntityRegisterBook, paths.Params{Year: book.Year}, book)
}

// ReadCheckRegisterBook returns the check register for the given year,
// or an empty one if none is stored.
func (f *Facade) ReadCheckRegisterBook(ctx context.Context, principal string, year int) (*CheckRegisterBook, error) {
	p := paths.Params{Year: year}
	v, ok, err := readEntity[CheckRegisterBook](ctx, f, principal, "", paths.EntityCheckRegisterBook, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewCheckRegisterBook(year), nil
	}
	return &v, nil
}

// WriteCheckRegisterBook persists book under its year.
func (f *Facade) WriteCheckRegisterBook(ctx context.Context, principal string, book *CheckRegisterBook) error {
	if book == nil {
		return fmt.Errorf("nil check register")
	}
	return f.write(ctx, principal, "", paths.EntityCheckRegisterBook, paths.Params{Year: book.Year}, book)
}

// ReadHolidayCalendar returns the holiday calendar for the given year,
// or an empty one if none is stored.
func (f *Facade) ReadHolidayCalendar(ctx context.Context, principal string, year int) (*HolidayCalendar, error) {
	p := paths.Params{Year: year}
	v, ok, err := readEntity[HolidayCalendar](ctx, f, principal, "", paths.EntityHolidayCalendar, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewHolidayCalendar(year), nil
	}
	return &v, nil
}

// WriteHolidayCalendar persists cal under its year.
func (f *Facade) WriteHolidayCalendar(ctx context.Context, principal string, cal *HolidayCalendar) error {
	if cal == nil {
		return fmt.Errorf("nil holiday calendar")
	}
	return f.write(ctx, principal, "", paths.EntityHolidayCalendar, paths.Params{Year: cal.Year}, cal)
}

// ReadTeamRoster returns the team roster, or an empty one if none is
// stored.
func (f *Facade) ReadTeamRoster(ctx context.Context, principal string) (*TeamRoster, error) {
	v, ok, err := readEntity[TeamRoster](ctx, f, principal, "", paths.EntityTeamRoster, paths.Params{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewTeamRoster(), nil
	}
	return &v, nil
}

// WriteTeamRoster persists the roster.
func (f *Facade) WriteTeamRoster(ctx context.Context, principal string, roster *TeamRoster) error {
	if roster == nil {
		return fmt.Errorf("nil team roster")
	}
	return f.write(ctx, principal, "", paths.EntityTeamRoster, paths.Params{}, roster)
}

// ReadAdminSummary returns the administrative summary for the given
// month, or an empty one if none is stored.
func (f *Facade) ReadAdminSummary(ctx context.Context, principal string, year int, month time.Month) (*AdminSummary, error) {
	p := paths.Params{Year: year, Month: month}
	v, ok, err := readEntity[AdminSummary](ctx, f, principal, "", paths.EntityAdminSummary, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewAdminSummary(year, month), nil
	}
	if v.Totals == nil {
		v.Totals = map[string]MonthlyTotal{}
	}
	return &v, nil
}

// WriteAdminSummary persists summary under its month.
func (f *Facade) WriteAdminSummary(ctx context.Context, principal string, summary *AdminSummary) error {
	if summary == nil {
		return fmt.Errorf("nil admin summary")
	}
	p := paths.Params{Year: summary.Year, Month: summary.Month}
	return f.write(ctx, principal, "", paths.EntityAdminSummary, p, summary)
}

// ReadStatusCache returns the presence cache, or an empty one if none
// is stored.
func (f *Facade) ReadStatusCache(ctx context.Context, principal string) (*StatusCache, error) {
	v, ok, err := readEntity[StatusCache](ctx, f, principal, "", paths.EntityStatusCache, paths.Params{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewStatusCache(), nil
	}
	if v.Entries == nil {
		v.Entries = map[string]UserStatus{}
	}
	return &v, nil
}

// WriteStatusCache persists the presence cache.
func (f *Facade) WriteStatusCache(ctx context.Context, principal string, cache *StatusCache) error {
	if cache == nil {
		return fmt.Errorf("nil status cache")
	}
	return f.write(ctx, principal, "", paths.EntityStatusCache, paths.Params{}, cache)
}

// ReadNotificationLog returns the notification log of the given kind,
// or an empty one if none is stored.
func (f *Facade) ReadNotificationLog(ctx context.Context, principal, kind string) (*NotificationLog, error) {
	p := paths.Params{Qualifier: kind}
	v, ok, err := readEntity[NotificationLog](ctx, f, principal, "", paths.EntityNotificationLog, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewNotificationLog(kind), nil
	}
	return &v, nil
}

// WriteNotificationLog persists log under its kind.
func (f *Facade) WriteNotificationLog(ctx context.Context, principal string, log *NotificationLog) error {
	if log == nil {
		return fmt.Errorf("nil notification log")
	}
	p := paths.Params{Qualifier: log.Kind}
	return f.write(ctx, principal, "", paths.EntityNotificationLog, p, log)
}

// ReadNetworkStatus returns the replication status document, or a
// zeroed one if none is stored.
func (f *Facade) ReadNetworkStatus(ctx context.Context, principal string) (*NetworkStatus, error) {
	v, ok, err := readEntity[NetworkStatus](ctx, f, principal, "", paths.EntityNetworkStatus, paths.Params{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewNetworkStatus(), nil
	}
	return &v, nil
}

// WriteNetworkStatus persists the replication status document.
func (f *Facade) WriteNetworkStatus(ctx context.Context, principal string, status *NetworkStatus) error {
	if status == nil {
		return fmt.Errorf("nil network status")
	}
	return f.write(ctx, principal, "", paths.EntityNetworkStatus, paths.Params{}, status)
}
