package database

import (
	"context"
	"fmt"
	"time"

	"ridequeue/internal/models"
)

const defaultTaskListLimit = 100

const syncTaskColumns = `id, task_type, entry_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

// CreateSyncTask persists a mirror job so it survives restarts.
func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncStatusPending
	}
	now := time.Now()

	result, err := db.ExecContext(ctx, `INSERT INTO sync_queue
        (task_type, entry_id, payload, status, retry_count, last_error, created_at, next_retry_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskType, task.EntryID, task.Payload, task.Status,
		task.RetryCount, task.LastError, now, task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}

	if task.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get sync task id: %w", err)
	}
	task.CreatedAt = now
	return nil
}

// GetPendingSyncTasks returns tasks due now, oldest first.
func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+syncTaskColumns+` FROM sync_queue
        WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
        ORDER BY id ASC LIMIT ?`,
		models.SyncStatusPending, models.SyncStatusRetry, time.Now(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync tasks: %w", err)
	}
	defer rows.Close()

	return scanSyncTasks(rows)
}

// UpdateSyncTaskStatus records the outcome of one attempt. A retry bumps
// retry_count; terminal statuses stamp processed_at.
func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}

	var processedAt *time.Time
	retryInc := 0
	switch status {
	case models.SyncStatusRetry:
		retryInc = 1
	case models.SyncStatusCompleted, models.SyncStatusFailed, models.SyncStatusSuperseded:
		now := time.Now()
		processedAt = &now
	}

	_, err := db.ExecContext(ctx, `UPDATE sync_queue
        SET status = ?, last_error = ?, next_retry_at = ?,
            retry_count = retry_count + ?, processed_at = COALESCE(?, processed_at)
        WHERE id = ?`,
		status, lastError, nextRetryAt, retryInc, processedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync task %d: %w", id, err)
	}
	return nil
}

// SupersedeSyncTasks closes open tasks of taskType created before task
// beforeID. A snapshot rewrites the whole sheet, so older snapshots have
// nothing left to do once a newer one succeeded.
func (db *DB) SupersedeSyncTasks(ctx context.Context, taskType string, beforeID int64) (int64, error) {
	result, err := db.ExecContext(ctx, `UPDATE sync_queue
        SET status = ?, processed_at = ?, next_retry_at = NULL
        WHERE task_type = ? AND id < ? AND status IN (?, ?)`,
		models.SyncStatusSuperseded, time.Now(), taskType, beforeID,
		models.SyncStatusPending, models.SyncStatusRetry,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede sync tasks: %w", err)
	}
	return result.RowsAffected()
}

// PurgeSyncTasks deletes finished tasks processed before olderThan. Failed
// tasks are kept for inspection.
func (db *DB) PurgeSyncTasks(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM sync_queue
        WHERE status IN (?, ?) AND processed_at < ?`,
		models.SyncStatusCompleted, models.SyncStatusSuperseded, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sync tasks: %w", err)
	}
	return result.RowsAffected()
}

// ListSyncTasks returns up to limit tasks in status, newest first. Failed
// tasks are what operators look at after a dead letter.
func (db *DB) ListSyncTasks(ctx context.Context, status string, limit int) ([]models.SyncTask, error) {
	if limit <= 0 {
		limit = defaultTaskListLimit
	}
	rows, err := db.QueryContext(ctx, `SELECT `+syncTaskColumns+` FROM sync_queue
        WHERE status = ? ORDER BY id DESC LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s sync tasks: %w", status, err)
	}
	defer rows.Close()

	return scanSyncTasks(rows)
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSyncTasks(rows rowsScanner) ([]models.SyncTask, error) {
	var tasks []models.SyncTask
	for rows.Next() {
		var t models.SyncTask
		if err := rows.Scan(
			&t.ID, &t.TaskType, &t.EntryID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync tasks: %w", err)
	}
	return tasks, nil
}
