// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig(), nil)
	require.NoError(t, err, "opening in-memory store should succeed")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SyncStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.GetSyncState(ctx, "/local/a.json", "/net/a.json")
	require.NoError(t, err)
	assert.False(t, found, "absent record should report found=false")

	st := SyncState{
		LocalPath:   "/local/a.json",
		NetworkPath: "/net/a.json",
		Pending:     true,
		RetryCount:  2,
		LastAttempt: time.Now().Truncate(time.Second),
		LastError:   "network unreachable",
	}
	require.NoError(t, s.PutSyncState(ctx, st), "put should succeed")

	got, found, err := s.GetSyncState(ctx, "/local/a.json", "/net/a.json")
	require.NoError(t, err)
	require.True(t, found, "stored record should be found")
	assert.Equal(t, st.LocalPath, got.LocalPath)
	assert.Equal(t, st.NetworkPath, got.NetworkPath)
	assert.True(t, got.Pending)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "network unreachable", got.LastError)
}

func TestStore_SyncStateKeysArePairScoped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSyncState(ctx, SyncState{
		LocalPath: "/local/a.json", NetworkPath: "/net/a.json", Pending: true,
	}))

	// Same local path against a different network path is a distinct pair.
	_, found, err := s.GetSyncState(ctx, "/local/a.json", "/net/other.json")
	require.NoError(t, err)
	assert.False(t, found, "different pair must not alias")
}

func TestStore_UpdateSyncState_CreatesAndMutates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	updated, err := s.UpdateSyncState(ctx, "/local/a.json", "/net/a.json", func(st *SyncState) {
		st.Pending = true
		st.RetryCount++
	})
	require.NoError(t, err)
	assert.Equal(t, "/local/a.json", updated.LocalPath, "fresh record carries the pair's paths")
	assert.Equal(t, 1, updated.RetryCount)

	updated, err = s.UpdateSyncState(ctx, "/local/a.json", "/net/a.json", func(st *SyncState) {
		st.RetryCount++
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.RetryCount, "update should read the stored record")
}

func TestStore_PendingSyncStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSyncState(ctx, SyncState{
		LocalPath: "/local/a.json", NetworkPath: "/net/a.json", Pending: true,
	}))
	require.NoError(t, s.PutSyncState(ctx, SyncState{
		LocalPath: "/local/b.json", NetworkPath: "/net/b.json", Pending: false,
		LastSuccessfulSync: time.Now(),
	}))
	require.NoError(t, s.PutSyncState(ctx, SyncState{
		LocalPath: "/local/c.json", NetworkPath: "/net/c.json", Pending: true,
	}))

	pending, err := s.PendingSyncStates(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2, "only pending records should be returned")
	for _, st := range pending {
		assert.True(t, st.Pending)
	}

	all, err := s.AllSyncStates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_DeleteSyncState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSyncState(ctx, SyncState{
		LocalPath: "/local/a.json", NetworkPath: "/net/a.json",
	}))
	require.NoError(t, s.DeleteSyncState(ctx, "/local/a.json", "/net/a.json"))

	_, found, err := s.GetSyncState(ctx, "/local/a.json", "/net/a.json")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, s.DeleteSyncState(ctx, "/local/a.json", "/net/a.json"),
		"deleting an absent record is not an error")
}

func TestStore_ClearSyncStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.PutSyncState(ctx, SyncState{
			LocalPath: "/local/" + name, NetworkPath: "/net/" + name, Pending: true,
		}))
	}
	require.NoError(t, s.PutMergeState(ctx, MergeState{Username: "alice"}))

	cleared, err := s.ClearSyncStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cleared)

	all, err := s.AllSyncStates(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	// Clearing sync records must not touch merge records.
	_, found, err := s.GetMergeState(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, found, "merge records survive a sync clear")
}

func TestStore_MergeStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st := MergeState{
		Username:     "bob",
		LoginCount:   2,
		CounterDay:   "2025-03-14",
		PendingMerge: true,
		RetryCount:   1,
	}
	require.NoError(t, s.PutMergeState(ctx, st))

	got, found, err := s.GetMergeState(ctx, "bob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, st.Username, got.Username)
	assert.Equal(t, 2, got.LoginCount)
	assert.Equal(t, "2025-03-14", got.CounterDay)
	assert.True(t, got.PendingMerge)
}

func TestStore_UpdateMergeState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	updated, err := s.UpdateMergeState(ctx, "bob", func(st *MergeState) {
		st.LoginCount = 1
		st.CounterDay = "2025-03-14"
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", updated.Username, "fresh record carries the username")
	assert.Equal(t, 1, updated.LoginCount)

	updated, err = s.UpdateMergeState(ctx, "bob", func(st *MergeState) {
		st.LoginCount++
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.LoginCount)
}

func TestStore_PendingMergeStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutMergeState(ctx, MergeState{Username: "alice", PendingMerge: true}))
	require.NoError(t, s.PutMergeState(ctx, MergeState{Username: "bob"}))

	pending, err := s.PendingMergeStates(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].Username)
}

func TestStore_ClearMergeStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutMergeState(ctx, MergeState{Username: "alice", PendingMerge: true}))
	require.NoError(t, s.PutMergeState(ctx, MergeState{Username: "bob", PendingMerge: true}))

	cleared, err := s.ClearMergeStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	all, err := s.AllMergeStates(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_ContextCancellation(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.PutSyncState(ctx, SyncState{LocalPath: "/l", NetworkPath: "/n"})
	assert.Error(t, err, "cancelled context should refuse the write")
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	s, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.PutSyncState(ctx, SyncState{
		LocalPath: "/local/a.json", NetworkPath: "/net/a.json", Pending: true, RetryCount: 4,
	}))
	require.NoError(t, s.Close())

	s, err = Open(cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	got, found, err := s.GetSyncState(ctx, "/local/a.json", "/net/a.json")
	require.NoError(t, err)
	require.True(t, found, "record should survive reopen")
	assert.Equal(t, 4, got.RetryCount)
}

func TestStore_Ready(t *testing.T) {
	s := openTestStore(t)
	assert.True(t, s.Ready(context.Background()))
}
