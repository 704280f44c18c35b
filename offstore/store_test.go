// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

package offstore

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/pistenotes/go-commsync/commsync"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := New(db, nil)
	require.NoError(t, err)
	return store
}

func TestInitializeCreatesTables(t *testing.T) {
	store := newTestStore(t)

	for _, table := range []string{"_offline_records", "_offline_pending"} {
		var count int
		err := store.DB.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count, "table %s should exist", table)
	}

	var indexCount int
	err := store.DB.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_offline_records_expires_at'").Scan(&indexCount)
	require.NoError(t, err)
	require.Equal(t, 1, indexCount)
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := commsync.Record{
		ID:        "ath-1",
		Payload:   commsync.Payload{"homebase": "Verbier", "social_media": map[string]any{"instagram": "@ath1"}},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(48 * time.Hour),
	}
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "ath-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Verbier", got.Payload["homebase"])
	require.Equal(t, map[string]any{"instagram": "@ath1"}, got.Payload["social_media"])
	// Stored timestamps keep millisecond precision.
	require.WithinDuration(t, now, got.CreatedAt, time.Second)
	require.WithinDuration(t, now.Add(48*time.Hour), got.ExpiresAt, time.Second)
}

func TestPutRequiresID(t *testing.T) {
	store := newTestStore(t)

	err := store.Put(context.Background(), commsync.Record{})
	var verr *commsync.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPutOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, homebase := range []string{"Verbier", "Chamonix"} {
		require.NoError(t, store.Put(ctx, commsync.Record{
			ID:        "ath-1",
			Payload:   commsync.Payload{"homebase": homebase},
			CreatedAt: now,
			UpdatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}))
	}

	got, err := store.Get(ctx, "ath-1")
	require.NoError(t, err)
	require.Equal(t, "Chamonix", got.Payload["homebase"])
}

// Time, not just presence, gates visibility: a record saved valid becomes
// invisible once the clock passes its expiry.
func TestExpirationGatesVisibility(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	require.NoError(t, store.Put(ctx, commsync.Record{
		ID:        "ath-1",
		Payload:   commsync.Payload{"homebase": "Verbier"},
		CreatedAt: base,
		UpdatedAt: base,
		ExpiresAt: base.Add(48 * time.Hour),
	}))

	store.now = func() time.Time { return base.Add(47 * time.Hour) }
	got, err := store.Get(ctx, "ath-1")
	require.NoError(t, err)
	require.NotNil(t, got, "record should be visible before expiry")

	store.now = func() time.Time { return base.Add(49 * time.Hour) }
	got, err = store.Get(ctx, "ath-1")
	require.NoError(t, err)
	require.Nil(t, got, "record should be invisible after expiry")
}

func TestGetAllExcludesExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	for i, ttl := range []time.Duration{time.Hour, -time.Hour, 2 * time.Hour} {
		require.NoError(t, store.Put(ctx, commsync.Record{
			ID:        fmt.Sprintf("ath-%d", i),
			Payload:   commsync.Payload{"n": float64(i)},
			CreatedAt: base,
			UpdatedAt: base,
			ExpiresAt: base.Add(ttl),
		}))
	}

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Put(ctx, commsync.Record{
		ID: "ath-1", Payload: commsync.Payload{}, CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.Delete(ctx, "ath-1"))
	require.NoError(t, store.Delete(ctx, "ath-1"))
	require.NoError(t, store.Delete(ctx, "never-existed"))
}

func TestPurgeExpiredIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	require.NoError(t, store.Put(ctx, commsync.Record{
		ID: "stale", Payload: commsync.Payload{}, CreatedAt: base, UpdatedAt: base, ExpiresAt: base.Add(-time.Minute),
	}))
	require.NoError(t, store.Put(ctx, commsync.Record{
		ID: "fresh", Payload: commsync.Payload{}, CreatedAt: base, UpdatedAt: base, ExpiresAt: base.Add(time.Hour),
	}))

	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	removed, err = store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, removed, "no residual expired records after a purge")

	got, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestClearRemovesRecordsAndQueue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Put(ctx, commsync.Record{
		ID: "ath-1", Payload: commsync.Payload{}, CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.Enqueue(ctx, commsync.PendingWrite{
		ID: "ath-1:1", TargetID: "ath-1", Op: commsync.OpUpdate, Data: commsync.Payload{"x": "y"}, EnqueuedAt: now,
	}))

	require.NoError(t, store.Clear(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Count)
	require.Equal(t, 0, stats.PendingCount)
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Count)
	require.Nil(t, stats.OldestTimestamp)
	require.Nil(t, stats.NewestTimestamp)

	require.NoError(t, store.Put(ctx, commsync.Record{
		ID: "a", Payload: commsync.Payload{"k": "v"}, CreatedAt: base.Add(-time.Hour), UpdatedAt: base.Add(-time.Hour), ExpiresAt: base.Add(time.Hour),
	}))
	require.NoError(t, store.Put(ctx, commsync.Record{
		ID: "b", Payload: commsync.Payload{"k": "longer value"}, CreatedAt: base, UpdatedAt: base, ExpiresAt: base.Add(time.Hour),
	}))
	require.NoError(t, store.Enqueue(ctx, commsync.PendingWrite{
		ID: "a:1", TargetID: "a", Op: commsync.OpUpdate, Data: commsync.Payload{"k": "v2"}, EnqueuedAt: base,
	}))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Count)
	require.Equal(t, 1, stats.PendingCount)
	require.Greater(t, stats.TotalSizeEstimate, int64(0))
	require.NotNil(t, stats.OldestTimestamp)
	require.NotNil(t, stats.NewestTimestamp)
	require.True(t, stats.OldestTimestamp.Before(*stats.NewestTimestamp))
}

func TestQueueFIFOOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Interleaved targets; global order must be preserved, which implies
	// per-target FIFO.
	ids := []struct{ id, target string }{
		{"A:1", "A"}, {"B:1", "B"}, {"A:2", "A"}, {"B:2", "B"},
	}
	for _, it := range ids {
		require.NoError(t, store.Enqueue(ctx, commsync.PendingWrite{
			ID: it.id, TargetID: it.target, Op: commsync.OpUpdate, Data: commsync.Payload{}, EnqueuedAt: now,
		}))
	}

	items, err := store.PendingWrites(ctx)
	require.NoError(t, err)
	require.Len(t, items, 4)
	for i, it := range ids {
		require.Equal(t, it.id, items[i].ID)
	}
}

func TestQueueRemoveAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Enqueue(ctx, commsync.PendingWrite{
		ID: "A:1", TargetID: "A", Op: commsync.OpInsert, Data: commsync.Payload{"f": "x"}, EnqueuedAt: now,
	}))
	require.NoError(t, store.Enqueue(ctx, commsync.PendingWrite{
		ID: "A:2", TargetID: "A", Op: commsync.OpDelete, EnqueuedAt: now,
	}))

	n, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, store.RemovePending(ctx, "A:1"))
	require.NoError(t, store.RemovePending(ctx, "A:1")) // idempotent

	items, err := store.PendingWrites(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "A:2", items[0].ID)
	require.Nil(t, items[0].Data, "DELETE items carry no delta")
}

func TestEnqueueValidatesOp(t *testing.T) {
	store := newTestStore(t)

	err := store.Enqueue(context.Background(), commsync.PendingWrite{
		ID: "A:1", TargetID: "A", Op: "MERGE", EnqueuedAt: time.Now(),
	})
	var verr *commsync.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestEnsureDeviceID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.EnsureDeviceID(ctx, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := store.EnsureDeviceID(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, err := store.EnsureDeviceID(ctx, "user-2")
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}
