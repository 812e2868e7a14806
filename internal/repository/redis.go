package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ridequeue/internal/config"
	"ridequeue/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisSyncStateRepository keeps desktop terminal sync state in Redis.
type RedisSyncStateRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisSyncStateRepository(client redis.UniversalClient, ttl time.Duration) *RedisSyncStateRepository {
	return &RedisSyncStateRepository{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

func stateKey(terminalID string) string {
	return "desktop_sync:" + terminalID
}

func rateKey(terminalID string) string {
	return "desktop_sync_rate:" + terminalID
}

func (r *RedisSyncStateRepository) GetState(ctx context.Context, terminalID string) (*models.DesktopSyncState, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, stateKey(terminalID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state from redis: %w", err)
	}

	var state models.DesktopSyncState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync state: %w", err)
	}

	return &state, nil
}

func (r *RedisSyncStateRepository) SetState(ctx context.Context, state *models.DesktopSyncState) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	if err := r.client.Set(ctx, stateKey(state.TerminalID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set sync state in redis: %w", err)
	}

	return nil
}

func (r *RedisSyncStateRepository) ClearState(ctx context.Context, terminalID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, stateKey(terminalID)).Err(); err != nil {
		return fmt.Errorf("failed to delete sync state from redis: %w", err)
	}
	return nil
}

// CheckRateLimit records a sync attempt of terminalID and reports whether
// at most limit attempts fall inside the trailing window. Rejected attempts
// count too, so a terminal that keeps hammering stays throttled.
func (r *RedisSyncStateRepository) CheckRateLimit(ctx context.Context, terminalID string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := rateKey(terminalID)
	now := r.now()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-window).UnixMicro(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMicro()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to record sync attempt: %w", err)
	}

	return count.Val() <= int64(limit), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes client if it is set.
func Close(client redis.UniversalClient) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
