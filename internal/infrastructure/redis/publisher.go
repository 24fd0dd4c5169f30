package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// pubsub is the part of the redis client the relay uses
type pubsub interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// EventPublisher relays events over Redis pub/sub
type EventPublisher struct {
	client  pubsub
	channel string
	logger  zerolog.Logger
}

// NewClient connects to Redis and verifies the connection
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewEventPublisher creates a relay publishing to channel
func NewEventPublisher(client pubsub, channel string, logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "redis-publisher").Logger(),
	}
}

// Publish sends the event as JSON. Zero receivers is not an error.
func (p *EventPublisher) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	p.logger.Debug().
		Str("event", string(event.Type)).
		Int64("receivers", receivers).
		Msg("Event published to Redis")
	return nil
}
