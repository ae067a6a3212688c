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
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeclerk/internal/backup"
	"timeclerk/internal/fileio"
	"timeclerk/internal/paths"
	"timeclerk/internal/transaction"
)

// fakeDispatcher records dispatched pairs instead of syncing.
type fakeDispatcher struct {
	mu    sync.Mutex
	pairs [][2]string
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, localPath, networkPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.pairs = append(d.pairs, [2]string{localPath, networkPath})
	return nil
}

func (d *fakeDispatcher) calls() [][2]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][2]string, len(d.pairs))
	copy(out, d.pairs)
	return out
}

// stubProbe reports a settable network verdict.
type stubProbe struct {
	up atomic.Bool
}

func (p *stubProbe) NetworkAvailable() bool {
	return p.up.Load()
}

type fixture struct {
	facade      *Facade
	dispatcher  *fakeDispatcher
	probe       *stubProbe
	resolver    *paths.Resolver
	backups     *backup.Service
	localRoot   string
	networkRoot string
	backupRoot  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	localRoot := filepath.Join(root, "local")
	networkRoot := filepath.Join(root, "network")
	backupRoot := filepath.Join(root, "backups")
	require.NoError(t, os.MkdirAll(localRoot, 0750))
	require.NoError(t, os.MkdirAll(networkRoot, 0750))

	resolver, err := paths.NewResolver(localRoot, networkRoot)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reader := fileio.NewReader(fileio.DefaultReaderConfig(), nil, logger)

	dispatcher := &fakeDispatcher{}

	txCfg := transaction.DefaultConfig()
	txCfg.StateDir = filepath.Join(root, "state", "transactions")
	txCfg.MetricsEnabled = false
	txCfg.TracingEnabled = false
	manager, err := transaction.NewManager(txCfg, dispatcher, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	bkCfg := backup.DefaultConfig()
	bkCfg.DocumentRoot = localRoot
	bkCfg.BackupRoot = backupRoot
	bkCfg.MetricsEnabled = false
	backups, err := backup.NewService(bkCfg, logger)
	require.NoError(t, err)

	prb := &stubProbe{}
	prb.up.Store(true)

	facade, err := NewFacade(Deps{
		Resolver:   resolver,
		Reader:     reader,
		Manager:    manager,
		Dispatcher: dispatcher,
		Backups:    backups,
		Probe:      prb,
		Logger:     logger,
	})
	require.NoError(t, err)

	return &fixture{
		facade:      facade,
		dispatcher:  dispatcher,
		probe:       prb,
		resolver:    resolver,
		backups:     backups,
		localRoot:   localRoot,
		networkRoot: networkRoot,
		backupRoot:  backupRoot,
	}
}

// placeDocument drops a JSON-encoded document at path, the way a peer
// host's write would have left it.
func placeDocument(t *testing.T, path string, doc any) {
	t.Helper()
	data, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, append(data, '\n'), 0640))
}

func TestNewFacade_RequiresCoreDeps(t *testing.T) {
	fx := newFixture(t)

	deps := Deps{
		Resolver: fx.resolver,
		Reader:   fx.facade.reader,
		Manager:  fx.facade.manager,
		Probe:    fx.probe,
	}

	cases := []struct {
		name string
		drop func(*Deps)
		want string
	}{
		{"resolver", func(d *Deps) { d.Resolver = nil }, "resolver"},
		{"reader", func(d *Deps) { d.Reader = nil }, "reader"},
		{"manager", func(d *Deps) { d.Manager = nil }, "manager"},
		{"probe", func(d *Deps) { d.Probe = nil }, "probe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := deps
			tc.drop(&d)
			_, err := NewFacade(d)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	// The full set is enough; everything else is optional.
	facade, err := NewFacade(deps)
	require.NoError(t, err)
	assert.NotNil(t, facade)
}

func TestWriteThenRead_RoundTrip(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	sheet := NewWorktimeSheet("alice", 2025, time.March)
	sheet.Entries[3] = WorktimeEntry{
		Day:          3,
		Start:        "08:30",
		End:          "17:00",
		BreakMinutes: 45,
		Project:      "migration",
	}
	sheet.UpdatedAt = time.Date(2025, 3, 3, 17, 1, 0, 0, time.UTC)

	require.NoError(t, fx.facade.WriteWorktime(ctx, "alice", sheet))

	got, err := fx.facade.ReadWorktime(ctx, "alice", "alice", 2025, time.March)
	require.NoError(t, err)
	assert.Equal(t, sheet.Entries, got.Entries)
	assert.Equal(t, "alice", got.Owner)
	assert.True(t, sheet.UpdatedAt.Equal(got.UpdatedAt))

	// The persisted form is indented JSON with a trailing newline.
	localPath := fx.resolver.LocalPath("alice", paths.EntityWorktimeSheet,
		paths.Params{Year: 2025, Month: time.March})
	raw, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "\n"))
	assert.Contains(t, string(raw), "  \"owner\": \"alice\"")
}

func TestWrite_DispatchesReplicationPair(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	roster := NewTeamRoster()
	roster.Members = append(roster.Members, TeamMember{Username: "alice", Team: "ops"})
	require.NoError(t, fx.facade.WriteTeamRoster(ctx, "alice", roster))

	calls := fx.dispatcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, fx.resolver.LocalPath("", paths.EntityTeamRoster, paths.Params{}), calls[0][0])
	assert.Equal(t, fx.resolver.NetworkPath("", paths.EntityTeamRoster, paths.Params{}), calls[0][1])
}

func TestWrite_DeniedLeavesNoTrace(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	sheet := NewWorktimeSheet("bob", 2025, time.March)
	err := fx.facade.WriteWorktime(ctx, "alice", sheet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthorizationDenied))

	localPath := fx.resolver.LocalPath("bob", paths.EntityWorktimeSheet,
		paths.Params{Year: 2025, Month: time.March})
	_, statErr := os.Stat(localPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "denied write must not touch disk")
	assert.Empty(t, fx.dispatcher.calls(), "denied write must not reach the dispatcher")

	entries, readErr := os.ReadDir(fx.backupRoot)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "denied write must not capture a backup")
}

func TestWrite_EmptyPrincipalDenied(t *testing.T) {
	fx := newFixture(t)

	err := fx.facade.WriteTeamRoster(context.Background(), "", NewTeamRoster())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthorizationDenied))
}

func TestWrite_CriticalTierCapturesPriorContent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	accounts := NewUserAccounts()
	accounts.Accounts["alice"] = Account{Username: "alice", Active: true}
	require.NoError(t, fx.facade.WriteUserAccounts(ctx, "alice", accounts))

	localPath := fx.resolver.LocalPath("", paths.EntityUserAccounts, paths.Params{})
	firstBytes, err := os.ReadFile(localPath)
	require.NoError(t, err)

	// Nothing existed before the first write, so no backup yet.
	records, err := fx.backups.ListAvailableBackups(localPath)
	require.NoError(t, err)
	assert.Empty(t, records)

	accounts.Accounts["bob"] = Account{Username: "bob", Active: true}
	require.NoError(t, fx.facade.WriteUserAccounts(ctx, "alice", accounts))

	records, err = fx.backups.ListAvailableBackups(localPath)
	require.NoError(t, err)
	require.Len(t, records, 1, "critical tier backs up before every overwrite")

	backedUp, err := os.ReadFile(records[0].BackupPath)
	require.NoError(t, err)
	assert.Equal(t, string(firstBytes), string(backedUp),
		"the backup must hold the pre-write content")
}

func TestRead_MissingDocumentGivesEmptyContainer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	book, err := fx.facade.ReadRegisterBook(ctx, "alice", 2025)
	require.NoError(t, err)
	require.NotNil(t, book)
	assert.Equal(t, 2025, book.Year)
	assert.NotNil(t, book.Entries)
	assert.Empty(t, book.Entries)

	accounts, err := fx.facade.ReadUserAccounts(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, accounts)
	require.NotNil(t, accounts.Accounts, "callers mutate the map without guards")
	accounts.Accounts["alice"] = Account{Username: "alice"}
}

func TestRead_CorruptDocumentGivesEmptyContainer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	localPath := fx.resolver.LocalPath("", paths.EntityStatusCache, paths.Params{})
	require.NoError(t, os.MkdirAll(filepath.Dir(localPath), 0750))
	require.NoError(t, os.WriteFile(localPath, []byte("{truncated"), 0640))

	cache, err := fx.facade.ReadStatusCache(ctx, "alice")
	require.NoError(t, err, "corruption degrades to an empty container, not an error")
	require.NotNil(t, cache)
	assert.NotNil(t, cache.Entries)
	assert.Empty(t, cache.Entries)
}

func TestRead_OwnDocumentWorksOffline(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.probe.up.Store(false)

	tracker := NewTimeOffTracker("alice", 2025)
	tracker.AllowanceDays = 30
	require.NoError(t, fx.facade.WriteTimeOff(ctx, "alice", tracker),
		"writes never depend on the network root")

	got, err := fx.facade.ReadTimeOff(ctx, "alice", "alice", 2025)
	require.NoError(t, err)
	assert.Equal(t, 30.0, got.AllowanceDays)
}

func TestRead_OtherUserRequiresNetwork(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.probe.up.Store(false)
	_, err := fx.facade.ReadWorktime(ctx, "alice", "bob", 2025, time.March)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetworkRequired))

	// Once the network is back, the peer's sheet is read from the
	// network root and a repair is queued for the local copy.
	fx.probe.up.Store(true)
	sheet := NewWorktimeSheet("bob", 2025, time.March)
	sheet.Entries[4] = WorktimeEntry{Day: 4, Start: "09:00", End: "17:30"}
	networkPath := fx.resolver.NetworkPath("bob", paths.EntityWorktimeSheet,
		paths.Params{Year: 2025, Month: time.March})
	placeDocument(t, networkPath, sheet)

	got, err := fx.facade.ReadWorktime(ctx, "alice", "bob", 2025, time.March)
	require.NoError(t, err)
	assert.Equal(t, sheet.Entries, got.Entries)

	calls := fx.dispatcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, networkPath, calls[0][1])
}

func TestRead_OtherUserMissingOnNetworkIsEmpty(t *testing.T) {
	fx := newFixture(t)

	got, err := fx.facade.ReadTimeOff(context.Background(), "alice", "bob", 2025)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Owner)
	assert.Empty(t, got.Requests)
}

func TestRead_SharedPrefersNetworkFallsBackLocal(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	cal := NewHolidayCalendar(2025)
	cal.Holidays = append(cal.Holidays, Holiday{Name: "Local Day"})
	require.NoError(t, fx.facade.WriteHolidayCalendar(ctx, "alice", cal))

	// The fake dispatcher never copies, so only the local file exists.
	// With no network copy the read falls back to it.
	got, err := fx.facade.ReadHolidayCalendar(ctx, "alice", 2025)
	require.NoError(t, err)
	require.Len(t, got.Holidays, 1)
	assert.Equal(t, "Local Day", got.Holidays[0].Name)

	// A network copy, once present, wins over the local one.
	networkCal := NewHolidayCalendar(2025)
	networkCal.Holidays = append(networkCal.Holidays, Holiday{Name: "Network Day"})
	networkPath := fx.resolver.NetworkPath("", paths.EntityHolidayCalendar, paths.Params{Year: 2025})
	placeDocument(t, networkPath, networkCal)

	got, err = fx.facade.ReadHolidayCalendar(ctx, "alice", 2025)
	require.NoError(t, err)
	require.Len(t, got.Holidays, 1)
	assert.Equal(t, "Network Day", got.Holidays[0].Name)

	// Offline again, the local copy still answers.
	fx.probe.up.Store(false)
	got, err = fx.facade.ReadHolidayCalendar(ctx, "alice", 2025)
	require.NoError(t, err)
	require.Len(t, got.Holidays, 1)
	assert.Equal(t, "Local Day", got.Holidays[0].Name)
}

func TestWrite_FailureSurfacesTransactionError(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// A regular file where the category directory belongs makes the
	// local write fail inside the transaction.
	require.NoError(t, os.WriteFile(filepath.Join(fx.localRoot, "team"), []byte("in the way"), 0640))

	err := fx.facade.WriteTeamRoster(ctx, "alice", NewTeamRoster())
	require.Error(t, err)

	var txErr *TransactionError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, paths.EntityTeamRoster, txErr.Entity)
	require.NotNil(t, txErr.Result, "a failed commit still reports what happened")
	assert.False(t, txErr.Result.OK)
	assert.NotEmpty(t, txErr.Result.TransactionID)

	// The next write must not be blocked by the failed one.
	book := NewRegisterBook(2025)
	require.NoError(t, fx.facade.WriteRegisterBook(ctx, "alice", book))
}

func TestWrite_NilDocumentRejected(t *testing.T) {
	fx := newFixture(t)

	err := fx.facade.WriteTeamRoster(context.Background(), "alice", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestSelfWritePolicy(t *testing.T) {
	policy := SelfWritePolicy()

	assert.True(t, policy.AuthorizeWrite("alice", "alice", paths.EntityWorktimeSheet))
	assert.True(t, policy.AuthorizeWrite("alice", "", paths.EntityTeamRoster))
	assert.False(t, policy.AuthorizeWrite("alice", "bob", paths.EntityWorktimeSheet))
	assert.False(t, policy.AuthorizeWrite("", "", paths.EntityTeamRoster))
	assert.False(t, policy.AuthorizeWrite("", "alice", paths.EntitySessionState))
}

func TestCustomAuthorizer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Supervisors may write their reports' sheets.
	supervised := map[string]string{"bob": "alice"}
	deps := Deps{
		Resolver:   fx.resolver,
		Reader:     fx.facade.reader,
		Manager:    fx.facade.manager,
		Dispatcher: fx.dispatcher,
		Probe:      fx.probe,
		Authorizer: AuthorizerFunc(func(principal, owner string, _ paths.EntityType) bool {
			return principal == owner || supervised[owner] == principal
		}),
	}
	facade, err := NewFacade(deps)
	require.NoError(t, err)

	sheet := NewWorktimeSheet("bob", 2025, time.April)
	require.NoError(t, facade.WriteWorktime(ctx, "alice", sheet),
		"the custom policy allows the supervisor")

	err = facade.WriteWorktime(ctx, "carol", NewWorktimeSheet("bob", 2025, time.April))
	assert.True(t, errors.Is(err, ErrAuthorizationDenied))
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, backup.TierCritical, TierFor(paths.EntityRegisterBook))
	assert.Equal(t, backup.TierCritical, TierFor(paths.EntityWorktimeSheet))
	assert.Equal(t, backup.TierImportant, TierFor(paths.EntityHolidayCalendar))
	assert.Equal(t, backup.TierStandard, TierFor(paths.EntityStatusCache))
	assert.Equal(t, backup.TierStandard, TierFor(paths.EntityType("unknown")))
}

func TestSessionState_RoundTripAndOwnership(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	s := NewSessionState("alice")
	s.Host = "workstation-3"
	s.StartedAt = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	s.LastActivity = s.StartedAt.Add(2 * time.Hour)
	s.OpenDocuments = append(s.OpenDocuments, "worktime/alice/worktime_2025_06.json")

	require.NoError(t, fx.facade.WriteSessionState(ctx, "alice", s))

	got, err := fx.facade.ReadSessionState(ctx, "alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, "workstation-3", got.Host)
	assert.Equal(t, s.OpenDocuments, got.OpenDocuments)

	err = fx.facade.WriteSessionState(ctx, "mallory", s)
	assert.True(t, errors.Is(err, ErrAuthorizationDenied),
		"a session may only be written by its user")
}
