package database

import (
	"context"
	"testing"
	"time"

	"ridequeue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueueCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	task := &models.SyncTask{
		TaskType: "queue_snapshot",
		EntryID:  "entry-1",
		Payload:  `{"reason": "entry_added"}`,
	}

	err := db.CreateSyncTask(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, task.Status)

	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "entry-1", tasks[0].EntryID)

	err = db.UpdateSyncTaskStatus(ctx, tasks[0].ID, models.SyncStatusCompleted, "", nil)
	require.NoError(t, err)

	tasks, _ = db.GetPendingSyncTasks(ctx, 10)
	assert.Len(t, tasks, 0)

	errMsg := "some error"
	err1 := db.CreateSyncTask(ctx, &models.SyncTask{TaskType: "test", EntryID: "entry-2", Status: models.SyncStatusFailed, LastError: &errMsg})
	require.NoError(t, err1)
	failed, err := db.ListSyncTasks(ctx, models.SyncStatusFailed, 0)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.Equal(t, "some error", *failed[0].LastError)

	task2 := &models.SyncTask{TaskType: "retry_test", EntryID: "entry-3"}
	require.NoError(t, db.CreateSyncTask(ctx, task2))

	nextRetry := time.Now().Add(time.Hour)
	err = db.UpdateSyncTaskStatus(ctx, task2.ID, models.SyncStatusRetry, "temporary error", &nextRetry)
	require.NoError(t, err)

	tasks, _ = db.GetPendingSyncTasks(ctx, 10)
	for _, task := range tasks {
		if task.ID == task2.ID {
			assert.Fail(t, "task with future retry should not be pending")
		}
	}

	pastRetry := time.Now().Add(-time.Hour)
	err = db.UpdateSyncTaskStatus(ctx, task2.ID, models.SyncStatusRetry, "temporary error", &pastRetry)
	require.NoError(t, err)
	tasks, _ = db.GetPendingSyncTasks(ctx, 10)
	found := false
	for _, task := range tasks {
		if task.ID == task2.ID {
			found = true
			assert.Equal(t, 2, task.RetryCount)
		}
	}
	assert.True(t, found)
}

func TestSupersedeAndPurgeSyncTasks(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	create := func(taskType string) *models.SyncTask {
		task := &models.SyncTask{TaskType: taskType, Payload: "{}"}
		require.NoError(t, db.CreateSyncTask(ctx, task))
		return task
	}

	older := create("queue_snapshot")
	retrying := create("queue_snapshot")
	nextRetry := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateSyncTaskStatus(ctx, retrying.ID, models.SyncStatusRetry, "quota", &nextRetry))
	other := create("other")
	latest := create("queue_snapshot")

	n, err := db.SupersedeSyncTasks(ctx, "queue_snapshot", latest.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	pending, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	ids := make([]int64, 0, len(pending))
	for _, task := range pending {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []int64{other.ID, latest.ID}, ids)

	superseded, err := db.ListSyncTasks(ctx, models.SyncStatusSuperseded, 10)
	require.NoError(t, err)
	require.Len(t, superseded, 2)
	assert.Equal(t, retrying.ID, superseded[0].ID)
	assert.Equal(t, older.ID, superseded[1].ID)
	for _, task := range superseded {
		assert.NotNil(t, task.ProcessedAt)
		assert.Nil(t, task.NextRetryAt)
	}

	require.NoError(t, db.UpdateSyncTaskStatus(ctx, latest.ID, models.SyncStatusCompleted, "", nil))
	failedMsg := "fatal"
	failed := &models.SyncTask{TaskType: "queue_snapshot", Status: models.SyncStatusFailed, LastError: &failedMsg}
	require.NoError(t, db.CreateSyncTask(ctx, failed))
	require.NoError(t, db.UpdateSyncTaskStatus(ctx, failed.ID, models.SyncStatusFailed, failedMsg, nil))

	purged, err := db.PurgeSyncTasks(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged, "older, retrying and latest are finished")

	remaining, err := db.ListSyncTasks(ctx, models.SyncStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, failed.ID, remaining[0].ID)
	assert.NotNil(t, remaining[0].ProcessedAt)
}

func TestListSyncTasks_Limit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		task := &models.SyncTask{TaskType: "queue_snapshot", Payload: "{}", Status: models.SyncStatusFailed}
		require.NoError(t, db.CreateSyncTask(ctx, task))
		ids = append(ids, task.ID)
	}

	tasks, err := db.ListSyncTasks(ctx, models.SyncStatusFailed, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, ids[2], tasks[0].ID)
	assert.Equal(t, ids[1], tasks[1].ID)

	none, err := db.ListSyncTasks(ctx, models.SyncStatusPending, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
