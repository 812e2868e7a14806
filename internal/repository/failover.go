package repository

import (
	"context"
	"sync/atomic"
	"time"

	"ridequeue/internal/domain"
	"ridequeue/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverSyncStateRepository uses primary until it errors, then serves from
// fallback and probes primary again once per recoveryInterval.
type FailoverSyncStateRepository struct {
	primary   domain.SyncStateRepository
	fallback  domain.SyncStateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverSyncStateRepository(primary, fallback domain.SyncStateRepository, logger *zerolog.Logger) *FailoverSyncStateRepository {
	return &FailoverSyncStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverSyncStateRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary sync state repository failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

// usePrimary reports whether the call should go to primary.
func (r *FailoverSyncStateRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverSyncStateRepository) recovered() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary sync state repository recovered")
	}
}

func (r *FailoverSyncStateRepository) GetState(ctx context.Context, terminalID string) (*models.DesktopSyncState, error) {
	if r.usePrimary() {
		state, err := r.primary.GetState(ctx, terminalID)
		if err == nil {
			r.recovered()
			return state, nil
		}
		r.markDown(err)
	}

	return r.fallback.GetState(ctx, terminalID)
}

func (r *FailoverSyncStateRepository) SetState(ctx context.Context, state *models.DesktopSyncState) error {
	if r.usePrimary() {
		err := r.primary.SetState(ctx, state)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.SetState(ctx, state)
}

func (r *FailoverSyncStateRepository) ClearState(ctx context.Context, terminalID string) error {
	if r.usePrimary() {
		err := r.primary.ClearState(ctx, terminalID)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.ClearState(ctx, terminalID)
}

func (r *FailoverSyncStateRepository) CheckRateLimit(ctx context.Context, terminalID string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, terminalID, limit, window)
		if err == nil {
			r.recovered()
			return allowed, nil
		}
		r.markDown(err)
	}

	return r.fallback.CheckRateLimit(ctx, terminalID, limit, window)
}
