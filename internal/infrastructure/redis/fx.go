package redis

import (
	"context"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module contributes the Redis pub/sub event relay
var Module = fx.Module("redis",
	fx.Provide(
		fx.Annotate(
			NewEventRelayFx,
			fx.ResultTags(`group:"event_relays"`),
		),
	),
)

// NewEventRelayFx connects to Redis when it is the configured transport
func NewEventRelayFx(
	lc fx.Lifecycle,
	eventsCfg *config.EventsConfig,
	redisCfg *config.RedisConfig,
	logger zerolog.Logger,
) (events.Relay, error) {
	if eventsCfg.Transport != "redis" {
		return events.Relay{Name: "redis"}, nil
	}

	client, err := NewClient(context.Background(), redisCfg)
	if err != nil {
		return events.Relay{}, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	logger.Info().Str("addr", redisCfg.Addr).Str("channel", eventsCfg.Topic).Msg("Redis event relay initialized")
	return events.Relay{Name: "redis", Publisher: NewEventPublisher(client, eventsCfg.Topic, logger)}, nil
}
