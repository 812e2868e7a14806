package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ridequeue/internal/events"
	"ridequeue/internal/metrics"
	"ridequeue/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskQueueSnapshot rewrites the mirrored queue sheet from the current queue.
const TaskQueueSnapshot = "queue_snapshot"

// snapshotPayload is persisted in SyncTask.Payload as JSON.
type snapshotPayload struct {
	Reason   string   `json:"reason"`
	EntryIDs []string `json:"entry_ids,omitempty"`
}

// TaskStore persists mirror tasks so they survive restarts.
type TaskStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	SupersedeSyncTasks(ctx context.Context, taskType string, beforeID int64) (int64, error)
	PurgeSyncTasks(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueueSource provides the queue state to mirror.
type QueueSource interface {
	ListEntries(ctx context.Context, includeTerminal bool) ([]*models.QueueEntry, error)
}

// SheetsClient writes the queue to a spreadsheet.
type SheetsClient interface {
	ReplaceQueueSheet(ctx context.Context, entries []*models.QueueEntry) error
}

// MirrorWorker consumes sync_queue tasks and mirrors the queue to Google Sheets.
type MirrorWorker struct {
	store         TaskStore
	source        QueueSource
	sheets        SheetsClient
	redis         redis.UniversalClient
	retryPolicy   RetryPolicy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	retention     time.Duration
	lastPurge     time.Time
	// mirrored is the highest task id covered by a successful mirror.
	mirrored atomic.Int64
	logger   zerolog.Logger
}

// NewMirrorWorker builds a worker with sane defaults. redisClient may be nil.
func NewMirrorWorker(
	store TaskStore,
	source QueueSource,
	sheets SheetsClient,
	redisClient redis.UniversalClient,
	retry RetryPolicy,
	logger zerolog.Logger,
) *MirrorWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &MirrorWorker{
		store:         store,
		source:        source,
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.SyncTask, models.WorkerQueueSize),
		redisQueueKey: "mirror:queue",
		deadLetterKey: "mirror:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		retention:     24 * time.Hour,
		logger:        logger.With().Str("component", "mirror_worker").Logger(),
	}
}

// Attach makes the worker schedule a snapshot after every queue event.
func (w *MirrorWorker) Attach(bus *events.EventBus) {
	bus.SubscribeAll(w.HandleEvent)
}

// HandleEvent is an events.EventHandler.
func (w *MirrorWorker) HandleEvent(event *events.Event) error {
	payload, err := events.DecodeQueuePayload(event)
	if err != nil {
		w.logger.Warn().Err(err).Str("event", event.Type).Msg("undecodable event payload")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.EnqueueSnapshot(ctx, event.Type, payload.EntryIDs); err != nil {
		w.logger.Error().Err(err).Str("event", event.Type).Msg("failed to enqueue snapshot")
		return err
	}
	return nil
}

// EnqueueSnapshot persists task to DB and schedules it via redis or in-memory queue.
func (w *MirrorWorker) EnqueueSnapshot(ctx context.Context, reason string, entryIDs []string) error {
	if reason == "" {
		return errors.New("snapshot reason is required")
	}

	payloadBytes, err := json.Marshal(snapshotPayload{Reason: reason, EntryIDs: entryIDs})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType:  TaskQueueSnapshot,
		Payload:   string(payloadBytes),
		Status:    models.SyncStatusPending,
		CreatedAt: time.Now(),
	}
	if len(entryIDs) == 1 {
		task.EntryID = entryIDs[0]
	}

	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}

	return nil
}

// Start launches main loop; stops when ctx is done.
func (w *MirrorWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("started")
	defer w.logger.Info().Msg("stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending")
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.purge(ctx)
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *MirrorWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *MirrorWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *MirrorWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.SyncTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *MirrorWorker) processTask(ctx context.Context, task *models.SyncTask) {
	if task.ID != 0 && task.ID <= w.mirrored.Load() {
		metrics.IncMirrorTask("superseded")
		return
	}
	if task.TaskType != TaskQueueSnapshot {
		w.failTask(ctx, task, fmt.Errorf("unknown task type: %s", task.TaskType))
		return
	}

	var payload snapshotPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.mirror(ctx); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncMirrorTask("completed")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
	w.markMirrored(task.ID)
	if n, err := w.store.SupersedeSyncTasks(ctx, TaskQueueSnapshot, task.ID); err != nil {
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("supersede older snapshots")
	} else if n > 0 {
		w.logger.Debug().Int64("task_id", task.ID).Int64("superseded", n).Msg("older snapshots superseded")
	}
	w.logger.Debug().Int64("task_id", task.ID).Str("reason", payload.Reason).Msg("queue mirrored")
}

func (w *MirrorWorker) markMirrored(id int64) {
	for {
		cur := w.mirrored.Load()
		if id <= cur || w.mirrored.CompareAndSwap(cur, id) {
			return
		}
	}
}

// purge drops finished tasks older than the retention, at most hourly.
func (w *MirrorWorker) purge(ctx context.Context) {
	if time.Since(w.lastPurge) < time.Hour {
		return
	}
	w.lastPurge = time.Now()
	n, err := w.store.PurgeSyncTasks(ctx, time.Now().Add(-w.retention))
	if err != nil {
		w.logger.Warn().Err(err).Msg("purge sync tasks")
		return
	}
	if n > 0 {
		w.logger.Info().Int64("purged", n).Msg("finished mirror tasks purged")
	}
}

func (w *MirrorWorker) mirror(ctx context.Context) error {
	entries, err := w.source.ListEntries(ctx, false)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	return w.sheets.ReplaceQueueSheet(ctx, entries)
}

func (w *MirrorWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncMirrorTask("retry")
	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *MirrorWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	metrics.IncMirrorTask("failed")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	w.pushDeadLetter(ctx, task)
}

func (w *MirrorWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *MirrorWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
