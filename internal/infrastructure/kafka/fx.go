package kafka

import (
	"context"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// Module contributes the Kafka event relay
var Module = fx.Module("kafka",
	fx.Provide(
		fx.Annotate(
			NewEventRelayFx,
			fx.ResultTags(`group:"event_relays"`),
		),
	),
)

// NewEventRelayFx creates the Kafka relay when Kafka is the configured transport
func NewEventRelayFx(
	lc fx.Lifecycle,
	eventsCfg *config.EventsConfig,
	kafkaCfg *config.KafkaConfig,
	logger zerolog.Logger,
) (events.Relay, error) {
	if eventsCfg.Transport != "kafka" {
		return events.Relay{Name: "kafka"}, nil
	}

	producer, err := NewEventProducer(ProducerConfig{
		Brokers: kafkaCfg.Brokers,
		Topic:   eventsCfg.Topic,
		Logger:  logger.With().Str("component", "kafka-producer").Logger(),
	})
	if err != nil {
		return events.Relay{}, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return producer.Close()
		},
	})

	return events.Relay{Name: "kafka", Publisher: producer}, nil
}
