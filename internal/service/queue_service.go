package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ridequeue/internal/config"
	"ridequeue/internal/domain"
	"ridequeue/internal/events"
	"ridequeue/internal/metrics"
	"ridequeue/internal/models"
	"ridequeue/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueueService owns positions and lifecycle of queue entries. Every mutation
// is read, compute, compare-and-swap write; version conflicts are retried.
type QueueService struct {
	repo       domain.QueueRepository
	syncState  domain.SyncStateRepository
	eventBus   domain.EventPublisher
	retry      worker.RetryPolicy
	syncLimit  int
	syncWindow time.Duration
	syncMu     sync.Mutex
	now        func() time.Time
	newID      func() string
	logger     *zerolog.Logger
}

// NewQueueService wires the service. syncState and eventBus may be nil.
func NewQueueService(
	repo domain.QueueRepository,
	syncState domain.SyncStateRepository,
	eventBus domain.EventPublisher,
	cfg config.QueueConfig,
	logger *zerolog.Logger,
) *QueueService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	retries := cfg.ConflictRetries
	if retries < 0 {
		retries = 0
	}
	return &QueueService{
		repo:      repo,
		syncState: syncState,
		eventBus:  eventBus,
		retry: worker.RetryPolicy{
			MaxRetries:    retries,
			InitialDelay:  cfg.RetryInitialDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			BackoffFactor: 2,
			Jitter:        0.2,
		},
		syncLimit:  cfg.SyncRateLimit,
		syncWindow: cfg.SyncRateWindow,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		logger:     logger,
	}
}

// Admit appends a waiting entry for a confirmed payment at the tail.
func (s *QueueService) Admit(ctx context.Context, payment models.PaymentConfirmation) (entry *models.QueueEntry, err error) {
	defer func() { s.observe("admit", err) }()

	if strings.TrimSpace(payment.PaymentID) == "" || strings.TrimSpace(payment.CustomerID) == "" {
		return nil, fmt.Errorf("payment_id and customer_id are required: %w", domain.ErrInvalidArgument)
	}

	err = s.withRetry(ctx, "admit", func() error {
		entry = &models.QueueEntry{
			ID:            s.newID(),
			CustomerID:    payment.CustomerID,
			PaymentID:     payment.PaymentID,
			PaymentAmount: payment.Amount,
			PaymentMethod: payment.Method,
			QueuedAt:      s.now(),
		}
		return s.repo.CreateEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	metrics.SetActiveEntries(entry.Position)
	s.logger.Info().
		Str("entry_id", entry.ID).
		Str("payment_id", entry.PaymentID).
		Int("position", entry.Position).
		Msg("customer admitted")

	s.publishEvent(events.EventEntryAdded, events.QueueEventPayload{
		EntryIDs: []string{entry.ID},
		Position: entry.Position,
		Status:   entry.Status,
		Actor:    "payment",
		Role:     models.RoleSystem,
	})
	return entry, nil
}

// OnPaymentConfirmed admits the payment, treating a repeated confirmation as
// success: the existing entry is returned with created=false.
func (s *QueueService) OnPaymentConfirmed(ctx context.Context, payment models.PaymentConfirmation) (*models.QueueEntry, bool, error) {
	entry, err := s.Admit(ctx, payment)
	if err == nil {
		return entry, true, nil
	}
	if !errors.Is(err, domain.ErrDuplicateAdmission) {
		return nil, false, err
	}

	existing, lookupErr := s.repo.GetEntryByPayment(ctx, payment.PaymentID)
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	s.logger.Info().Str("payment_id", payment.PaymentID).Str("entry_id", existing.ID).Msg("duplicate payment confirmation")
	return existing, false, nil
}

// Recalculate closes gaps so active positions are exactly 1..N, keeping order.
func (s *QueueService) Recalculate(ctx context.Context) (err error) {
	defer func() { s.observe("recalculate", err) }()

	var order []string
	var changed []string
	err = s.withRetry(ctx, "recalculate", func() error {
		active, err := s.repo.ListActiveEntries(ctx)
		if err != nil {
			return err
		}
		changes := renumber(active)
		order = entryIDs(active)
		changed = changedIDs(changes)
		metrics.SetActiveEntries(len(active))
		return s.repo.ApplyChanges(ctx, changes)
	})
	if err != nil {
		return err
	}

	if len(changed) > 0 {
		s.logger.Info().Strs("changed", changed).Msg("queue recalculated")
		s.publishEvent(events.EventQueueRecomputed, events.QueueEventPayload{
			EntryIDs: changed,
			Order:    order,
			Role:     models.RoleSystem,
		})
	}
	return nil
}

// Reorder rewrites positions to follow orderedIDs, which must name exactly
// the active entries.
func (s *QueueService) Reorder(ctx context.Context, orderedIDs []string, actor models.Actor) (err error) {
	defer func() { s.observe("reorder", err) }()

	var changed []string
	err = s.withRetry(ctx, "reorder", func() error {
		active, err := s.repo.ListActiveEntries(ctx)
		if err != nil {
			return err
		}
		if setErr := validateReorderSet(active, orderedIDs); setErr != nil {
			return setErr
		}
		changes := applyOrder(active, orderedIDs)
		changed = changedIDs(changes)
		return s.repo.ApplyChanges(ctx, changes)
	})
	if err != nil {
		return err
	}

	if len(changed) == 0 {
		s.logger.Debug().Str("actor", actor.Username).Msg("reorder is a no-op")
		return nil
	}

	s.logger.Info().
		Str("actor", actor.Username).
		Str("role", actor.Role).
		Strs("order", orderedIDs).
		Msg("queue reordered")
	s.publishEvent(events.EventQueueReordered, events.QueueEventPayload{
		EntryIDs: changed,
		Order:    append([]string(nil), orderedIDs...),
		Actor:    actor.Username,
		Role:     actor.Role,
	})
	return nil
}

// StartRide moves the head of the queue to in_progress.
func (s *QueueService) StartRide(ctx context.Context, entryID, driver string) (entry *models.QueueEntry, err error) {
	defer func() { s.observe("start_ride", err) }()

	err = s.withRetry(ctx, "start_ride", func() error {
		current, err := s.loadForTransition(ctx, entryID, models.ActionStart)
		if err != nil {
			return err
		}
		active, err := s.repo.ListActiveEntries(ctx)
		if err != nil {
			return err
		}
		if len(active) == 0 || active[0].ID != current.ID {
			return fmt.Errorf("entry %s at position %d: %w", current.ID, current.Position, domain.ErrNotAtHeadOfQueue)
		}

		now := s.now()
		updated := active[0].Clone()
		updated.Status = models.StatusInProgress
		updated.StartedAt = &now
		if err := s.repo.ApplyChanges(ctx, []models.EntryChange{{Entry: updated, FromVersion: active[0].Version}}); err != nil {
			return err
		}
		entry = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("entry_id", entry.ID).Str("driver", driver).Msg("ride started")
	s.publishEvent(events.EventRideStarted, events.QueueEventPayload{
		EntryIDs: []string{entry.ID},
		Position: entry.Position,
		Status:   entry.Status,
		Actor:    driver,
		Role:     models.RoleDriver,
	})
	return entry, nil
}

// CompleteRide finishes a waiting or in-progress ride and closes the gap.
func (s *QueueService) CompleteRide(ctx context.Context, entryID, driver string) (entry *models.QueueEntry, err error) {
	defer func() { s.observe("complete_ride", err) }()

	var order []string
	err = s.withRetry(ctx, "complete_ride", func() error {
		var err error
		entry, order, err = s.finish(ctx, entryID, models.ActionComplete, func(e *models.QueueEntry, now time.Time) {
			e.Status = models.StatusCompleted
			e.CompletedAt = &now
			e.CompletedBy = driver
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("entry_id", entry.ID).Str("driver", driver).Msg("ride completed")
	s.publishEvent(events.EventRideCompleted, events.QueueEventPayload{
		EntryIDs: []string{entry.ID},
		Order:    order,
		Status:   entry.Status,
		Actor:    driver,
		Role:     models.RoleDriver,
	})
	return entry, nil
}

// RemoveCustomer cancels a waiting entry and closes the gap.
func (s *QueueService) RemoveCustomer(ctx context.Context, entryID, reason, staff string) (entry *models.QueueEntry, err error) {
	defer func() { s.observe("remove_customer", err) }()

	var order []string
	err = s.withRetry(ctx, "remove_customer", func() error {
		var err error
		entry, order, err = s.finish(ctx, entryID, models.ActionRemove, func(e *models.QueueEntry, _ time.Time) {
			e.Status = models.StatusCancelled
			e.RemovedBy = staff
			e.RemovalReason = reason
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("entry_id", entry.ID).
		Str("staff", staff).
		Str("reason", reason).
		Msg("customer removed")
	s.publishEvent(events.EventCustomerRemoved, events.QueueEventPayload{
		EntryIDs: []string{entry.ID},
		Order:    order,
		Status:   entry.Status,
		Actor:    staff,
		Reason:   reason,
	})
	return entry, nil
}

// finish moves an active entry to a terminal status and renumbers the rest
// in the same write. It returns the updated entry and the remaining order.
func (s *QueueService) finish(
	ctx context.Context,
	entryID, action string,
	mutate func(e *models.QueueEntry, now time.Time),
) (*models.QueueEntry, []string, error) {
	current, err := s.loadForTransition(ctx, entryID, action)
	if err != nil {
		return nil, nil, err
	}
	active, err := s.repo.ListActiveEntries(ctx)
	if err != nil {
		return nil, nil, err
	}

	var target *models.QueueEntry
	remaining := make([]*models.QueueEntry, 0, len(active))
	for _, e := range active {
		if e.ID == current.ID {
			target = e
			continue
		}
		remaining = append(remaining, e)
	}
	if target == nil {
		// left the active set between the two reads
		return nil, nil, fmt.Errorf("entry %s changed during read: %w", entryID, domain.ErrConcurrencyConflict)
	}

	updated := target.Clone()
	mutate(updated, s.now())

	changes := append([]models.EntryChange{{Entry: updated, FromVersion: target.Version}}, renumber(remaining)...)
	if err := s.repo.ApplyChanges(ctx, changes); err != nil {
		return nil, nil, err
	}
	metrics.SetActiveEntries(len(remaining))
	return updated, entryIDs(remaining), nil
}

// loadForTransition checks existence first and the allowed source status second.
func (s *QueueService) loadForTransition(ctx context.Context, entryID, action string) (*models.QueueEntry, error) {
	entry, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(action, entry.Status) {
		return nil, &domain.TransitionError{EntryID: entry.ID, Action: action, From: entry.Status}
	}
	return entry, nil
}

// SyncFromDesktop merges a desktop terminal's physical order with entries
// admitted in the cloud since its last sync. Snapshot ids come first in the
// given order, cloud-only entries follow in their cloud order.
func (s *QueueService) SyncFromDesktop(ctx context.Context, snapshot []string, actor models.Actor) (report *models.SyncReport, err error) {
	defer func() { s.observe("sync_desktop", err) }()

	terminal := actor.Username
	if terminal == "" {
		terminal = models.RoleDesktop
	}

	if err := s.checkSyncRate(ctx, terminal); err != nil {
		return nil, err
	}

	err = s.withRetry(ctx, "sync_desktop", func() error {
		active, err := s.repo.ListActiveEntries(ctx)
		if err != nil {
			return err
		}
		var order []string
		report, order = mergeSnapshot(active, snapshot)
		changes := applyOrder(active, order)
		report.Changed = len(changes) > 0
		return s.repo.ApplyChanges(ctx, changes)
	})
	if err != nil {
		return nil, err
	}

	s.rememberSync(ctx, terminal, snapshot, report)

	s.logger.Info().
		Str("terminal", terminal).
		Int("applied", len(report.Applied)).
		Strs("cloud_only", report.CloudOnlyAppended).
		Strs("stale", report.StaleReferences).
		Bool("changed", report.Changed).
		Msg("desktop sync reconciled")

	if report.Changed {
		s.publishEvent(events.EventSyncApplied, events.QueueEventPayload{
			EntryIDs: report.CloudOnlyAppended,
			Order:    report.Applied,
			Actor:    actor.Username,
			Role:     actor.Role,
		})
	}
	return report, nil
}

func (s *QueueService) checkSyncRate(ctx context.Context, terminal string) error {
	if s.syncState == nil || s.syncLimit <= 0 || s.syncWindow <= 0 {
		return nil
	}
	allowed, err := s.syncState.CheckRateLimit(ctx, terminal, s.syncLimit, s.syncWindow)
	if err != nil {
		s.logger.Warn().Err(err).Str("terminal", terminal).Msg("sync rate limit check failed")
		return nil
	}
	if !allowed {
		return fmt.Errorf("terminal %s: %w", terminal, domain.ErrRateLimited)
	}
	return nil
}

// rememberSync stores a fresh state per reconciliation. syncMu keeps the
// read of SyncCount and the write of its successor together.
func (s *QueueService) rememberSync(ctx context.Context, terminal string, snapshot []string, report *models.SyncReport) {
	if s.syncState == nil {
		return
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	var count int64
	prev, err := s.syncState.GetState(ctx, terminal)
	if err != nil {
		s.logger.Warn().Err(err).Str("terminal", terminal).Msg("failed to load sync state")
	}
	if prev != nil {
		count = prev.SyncCount
	}

	state := &models.DesktopSyncState{
		TerminalID:   terminal,
		LastSyncAt:   s.now(),
		SyncCount:    count + 1,
		LastReport:   report.Clone(),
		LastSnapshot: append([]string{}, snapshot...),
	}
	if err := s.syncState.SetState(ctx, state); err != nil {
		s.logger.Warn().Err(err).Str("terminal", terminal).Msg("failed to save sync state")
	}
}

// ResetSyncState forgets what a terminal last reported. The next sync from
// it starts counting again.
func (s *QueueService) ResetSyncState(ctx context.Context, terminalID string) (err error) {
	defer func() { s.observe("reset_sync", err) }()

	if s.syncState == nil {
		return nil
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if err := s.syncState.ClearState(ctx, terminalID); err != nil {
		return fmt.Errorf("clear sync state of %s: %w", terminalID, err)
	}
	s.logger.Info().Str("terminal", terminalID).Msg("desktop sync state reset")
	return nil
}

// GetSyncState returns the last reconciliation of a terminal, or nil.
func (s *QueueService) GetSyncState(ctx context.Context, terminalID string) (*models.DesktopSyncState, error) {
	if s.syncState == nil {
		return nil, nil
	}
	return s.syncState.GetState(ctx, terminalID)
}

// GetNextCustomer returns the head of the queue or nil when it is empty.
func (s *QueueService) GetNextCustomer(ctx context.Context) (*models.QueueEntry, error) {
	active, err := s.repo.ListActiveEntries(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}
	return active[0], nil
}

func (s *QueueService) GetCurrentQueue(ctx context.Context, includeTerminal bool) ([]*models.QueueEntry, error) {
	return s.repo.ListEntries(ctx, includeTerminal)
}

func (s *QueueService) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	return s.repo.GetEntry(ctx, id)
}

// Ping reports store health.
func (s *QueueService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// withRetry reruns fn while it fails with a version conflict, up to
// retry.MaxRetries extra attempts. fn must re-read everything it depends on.
func (s *QueueService) withRetry(ctx context.Context, operation string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		if s.retry.Exhausted(attempt - 1) {
			s.logger.Warn().Err(err).Str("operation", operation).Int("attempts", attempt).Msg("conflict retries exhausted")
			return err
		}

		metrics.IncRetry(operation)
		s.logger.Debug().Str("operation", operation).Int("attempt", attempt).Msg("version conflict, retrying")
		if err := s.retry.Wait(ctx, attempt); err != nil {
			return err
		}
	}
}

func (s *QueueService) publishEvent(eventType string, payload events.QueueEventPayload) {
	if s.eventBus == nil {
		return
	}
	payload.OccurredAt = s.now()
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}

func (s *QueueService) observe(operation string, err error) {
	metrics.ObserveOperation(operation, resultLabel(err))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrEntryNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrDuplicateAdmission):
		return "duplicate"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrNotAtHeadOfQueue):
		return "not_at_head"
	case errors.Is(err, domain.ErrInvalidReorderSet):
		return "invalid_reorder"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
