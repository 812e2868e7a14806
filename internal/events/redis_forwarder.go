package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the redis channel queue events are fanned out to.
const DefaultChannel = "queue:events"

// RedisForwarder republishes bus events on a redis channel so other
// processes (desktop bridge, dashboards) can follow the queue.
type RedisForwarder struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	logger  zerolog.Logger
}

func NewRedisForwarder(client redis.UniversalClient, channel string, logger zerolog.Logger) *RedisForwarder {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisForwarder{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "redis_forwarder").Logger(),
	}
}

// Attach subscribes the forwarder to every queue event on bus.
func (f *RedisForwarder) Attach(bus *EventBus) {
	bus.SubscribeAll(f.Handle)
}

// Handle publishes a single event. Failures are logged and returned but never
// block the queue operation that produced the event.
func (f *RedisForwarder) Handle(event *Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.client.Publish(ctx, f.channel, raw).Err(); err != nil {
		f.logger.Warn().Err(err).Str("event", event.Type).Msg("failed to forward event to redis")
		return err
	}
	return nil
}
