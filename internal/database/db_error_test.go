package database

import (
	"context"
	"io"
	"testing"

	"ridequeue/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()

	t.Run("CreateEntry_Error", func(t *testing.T) {
		assert.Error(t, db.CreateEntry(ctx, newTestEntry("a", "pay-a")))
	})

	t.Run("GetEntry_Error", func(t *testing.T) {
		_, err := db.GetEntry(ctx, "a")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListEntries_Error", func(t *testing.T) {
		_, err := db.ListEntries(ctx, true)
		assert.Error(t, err)
		_, err = db.ListActiveEntries(ctx)
		assert.Error(t, err)
	})

	t.Run("ApplyChanges_Error", func(t *testing.T) {
		e := newTestEntry("a", "pay-a")
		err := db.ApplyChanges(ctx, []models.EntryChange{{Entry: e, FromVersion: 1}})
		assert.Error(t, err)
	})

	t.Run("SyncQueue_Error", func(t *testing.T) {
		assert.Error(t, db.CreateSyncTask(ctx, &models.SyncTask{}))
		_, err := db.GetPendingSyncTasks(ctx, 1)
		assert.Error(t, err)
		_, err = db.ListSyncTasks(ctx, models.SyncStatusFailed, 1)
		assert.Error(t, err)
	})

	t.Run("Ping_Error", func(t *testing.T) {
		assert.Error(t, db.Ping(ctx))
	})
}

func TestApplyChanges_CancelledContext(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	entries := admitN(t, db, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := entries[0].Clone()
	a.Position = 2
	b := entries[1].Clone()
	b.Position = 1
	err := db.ApplyChanges(ctx, []models.EntryChange{{Entry: a, FromVersion: 1}, {Entry: b, FromVersion: 1}})
	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, activeIDs(t, db))
}
